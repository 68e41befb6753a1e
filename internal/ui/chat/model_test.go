// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/chatstream/internal/exchange"
	"github.com/jeranaias/chatstream/internal/model"
	"github.com/jeranaias/chatstream/internal/render"
)

type fakeSender struct {
	answer  string
	outcome exchange.Outcome
	err     error
	cancels atomic.Int32
	asked   []string
}

func (f *fakeSender) Send(_ context.Context, sessionID, text string, onUpdate exchange.UpdateFunc) (*exchange.Result, error) {
	f.asked = append(f.asked, sessionID+":"+text)
	if f.err != nil {
		return nil, f.err
	}
	onUpdate(f.answer)
	return &exchange.Result{Answer: f.answer, Outcome: f.outcome, Established: true}, nil
}

func (f *fakeSender) Cancel() { f.cancels.Add(1) }

func (f *fakeSender) NewSession(_ context.Context, name string) (*model.Session, error) {
	return model.NewSession(name), nil
}

// collect runs cmd and flattens batches into their messages.
func collect(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var out []tea.Msg
		for _, c := range batch {
			out = append(out, collect(c)...)
		}
		return out
	}
	return []tea.Msg{msg}
}

func newTestModel(t *testing.T, s Sender) Model {
	t.Helper()
	sched := render.NewScheduler(render.WithMaxFPS(0), render.WithCodeStyle(""))
	t.Cleanup(sched.Close)
	m := New(Options{Sender: s, Scheduler: sched, SessionID: "s1"})
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	return next.(Model)
}

// send types text, presses Enter and feeds back the completion message.
func send(t *testing.T, m Model, text string) Model {
	t.Helper()
	m.input.SetValue(text)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	require.NotNil(t, cmd)
	assert.Equal(t, StateStreaming, m.state)

	for _, msg := range collect(cmd) {
		if done, ok := msg.(StreamCompleteMsg); ok {
			next, _ = m.Update(done)
			return next.(Model)
		}
	}
	t.Fatal("no completion message")
	return m
}

func TestModel_CompletedExchange(t *testing.T) {
	s := &fakeSender{answer: "::: think\nsecret plan\n:::\nhello there"}
	m := send(t, newTestModel(t, s), "hi")

	assert.Equal(t, StateReady, m.state)
	assert.Equal(t, []string{"s1:hi"}, s.asked)
	require.Len(t, m.entries, 2)
	assert.Equal(t, model.RoleUser, m.entries[0].role)
	assert.Empty(t, m.entries[1].note)

	out := m.renderTranscript()
	assert.Contains(t, out, "hi")
	assert.Contains(t, out, "hello there")
	assert.Contains(t, out, render.ReasoningHeader)
	assert.NotContains(t, out, "secret plan")

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyCtrlT})
	m = next.(Model)
	assert.Contains(t, m.renderTranscript(), "secret plan")
}

func TestModel_OutcomeNote(t *testing.T) {
	s := &fakeSender{answer: "partial", outcome: exchange.TimedOut}
	m := send(t, newTestModel(t, s), "hi")

	assert.Equal(t, "timed out", m.entries[1].note)
	assert.Contains(t, m.renderTranscript(), "timed out")
}

func TestModel_ConnectError(t *testing.T) {
	s := &fakeSender{err: errors.New("dial refused")}
	m := send(t, newTestModel(t, s), "hi")

	require.Len(t, m.entries, 2)
	assert.Contains(t, m.renderTranscript(), "dial refused")
	assert.Equal(t, StateReady, m.state)
}

func TestModel_EscCancelsStreaming(t *testing.T) {
	s := &fakeSender{answer: "x"}
	m := newTestModel(t, s)

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	assert.Zero(t, s.cancels.Load())

	m = next.(Model)
	m.input.SetValue("go")
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	next, _ = next.(Model).Update(tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, int32(1), s.cancels.Load())
}

func TestModel_NewSessionCommand(t *testing.T) {
	m := newTestModel(t, &fakeSender{})
	m.input.SetValue("/new")
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)

	msgs := collect(cmd)
	require.Len(t, msgs, 1)
	ready, ok := msgs[0].(SessionReadyMsg)
	require.True(t, ok)

	next, _ = m.Update(ready)
	m = next.(Model)
	assert.Equal(t, ready.Session.ID, m.sessionID)
	assert.NotEqual(t, "s1", m.sessionID)
}

func TestModel_EmptyInputIgnored(t *testing.T) {
	m := newTestModel(t, &fakeSender{})
	m.input.SetValue("   ")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
}

func TestModel_LiveTreeShownWhileStreaming(t *testing.T) {
	m := newTestModel(t, &fakeSender{})
	m.input.SetValue("q")
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)

	tree := &render.Node{Kind: render.KindDocument, Children: []*render.Node{
		{Kind: render.KindParagraph, Children: []*render.Node{{Kind: render.KindSpan, Text: "growing"}}},
	}}
	next, _ = m.Update(RenderMsg{Tree: tree})
	m = next.(Model)
	assert.Contains(t, m.renderTranscript(), "growing")
	assert.Contains(t, m.View(), "streaming")
}
