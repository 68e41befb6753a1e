// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/chatstream/internal/model"
)

// sseServer replays lines as an event stream, flushing after each one.
func sseServer(t *testing.T, lines []string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		for _, l := range lines {
			fmt.Fprint(w, l+"\n")
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func profileFor(srv *httptest.Server) model.Profile {
	return model.Profile{APIHost: srv.URL, APIKey: "sk-test", Model: "test-model", Temperature: 0.5}
}

func collect(t *testing.T, c *Client, p model.Profile) ([]Delta, error) {
	t.Helper()
	var got []Delta
	err := c.Stream(context.Background(), p, []ChatMessage{{Role: "user", Content: "hi"}}, func(d Delta) {
		got = append(got, d)
	})
	return got, err
}

func TestBuildMessages_Order(t *testing.T) {
	history := []model.Message{
		{Role: model.RoleUser, Content: "q1"},
		{Role: model.RoleAssistant, Content: "a1"},
	}
	msgs := BuildMessages([]string{"global", ""}, []string{"session"}, history, "q2")

	want := []ChatMessage{
		{Role: "system", Content: "global"},
		{Role: "system", Content: "session"},
		{Role: "user", Content: "q1"},
		{Role: "assistant", Content: "a1"},
		{Role: "user", Content: "q2"},
	}
	assert.Equal(t, want, msgs)
}

func TestFrameReader(t *testing.T) {
	in := strings.Join([]string{
		": keep-alive",
		"",
		"event: message",
		"data: {\"a\":1}",
		"data:{\"b\":2}",
		"id: 7",
		"data: [DONE]",
	}, "\r\n")
	fr := NewFrameReader(strings.NewReader(in))

	var payloads []string
	for {
		p, err := fr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		payloads = append(payloads, string(p))
	}
	assert.Equal(t, []string{`{"a":1}`, `{"b":2}`, "[DONE]"}, payloads)
}

func TestFrameReader_OversizedLineIsSkipped(t *testing.T) {
	huge := "data: {\"x\":\"" + strings.Repeat("a", MaxFrameSize+1024) + "\"}"
	in := strings.Join([]string{huge, `data: {"a":1}`, strings.Repeat("b", 3*MaxFrameSize)}, "\n")
	fr := NewFrameReader(strings.NewReader(in))

	_, err := fr.Next()
	require.ErrorIs(t, err, ErrFrameTooLarge)
	assert.LessOrEqual(t, cap(fr.line), 2*maxLineSize, "line buffer stays bounded")

	p, err := fr.Next()
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(p))

	// An unterminated oversized tail is reported once, then the stream ends.
	_, err = fr.Next()
	require.ErrorIs(t, err, ErrFrameTooLarge)
	_, err = fr.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestStream_RequestShape(t *testing.T) {
	var gotReq ChatRequest
	var gotAuth, gotAccept, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	_, err := collect(t, NewClient(), profileFor(srv))
	require.NoError(t, err)

	assert.Equal(t, "/v1/chat/completions", gotPath)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "text/event-stream", gotAccept)
	assert.True(t, gotReq.Stream)
	assert.Equal(t, "test-model", gotReq.Model)
	assert.Equal(t, 0.5, gotReq.Temperature)
	assert.Equal(t, []ChatMessage{{Role: "user", Content: "hi"}}, gotReq.Messages)
}

func TestStream_ReasoningThenContent(t *testing.T) {
	srv := sseServer(t, []string{
		`data: {"choices":[{"delta":{"role":"assistant"}}]}`,
		`data: {"choices":[{"delta":{"reasoning_content":"step one "}}]}`,
		``,
		`data: {"choices":[{"delta":{"reasoning":"step two "}}]}`,
		`data: {"choices":[{"delta":{"content":"answer"}}]}`,
		`data: [DONE]`,
		`data: {"choices":[{"delta":{"content":"ignored"}}]}`,
	})

	got, err := collect(t, NewClient(), profileFor(srv))
	require.NoError(t, err)
	assert.Equal(t, []Delta{
		{Reasoning: "step one "},
		{Reasoning: "step two "},
		{Content: "answer"},
	}, got)
}

func TestStream_MalformedFrameSkipped(t *testing.T) {
	srv := sseServer(t, []string{
		`data: {"choices":[{"delta":{"content":"a"}}]}`,
		`data: {not json`,
		`data: {"choices":[{"delta":{"content":"b"}}]}`,
	})

	got, err := collect(t, NewClient(), profileFor(srv))
	require.NoError(t, err, "EOF without sentinel ends cleanly")
	assert.Equal(t, []Delta{{Content: "a"}, {Content: "b"}}, got)
}

func TestStream_TooManyMalformedFrames(t *testing.T) {
	lines := []string{`data: {"choices":[{"delta":{"content":"a"}}]}`}
	// Two bad frames, a good one resets the count, then three bad frames.
	lines = append(lines, "data: x", "data: y", `data: {"choices":[{"delta":{"content":"b"}}]}`)
	lines = append(lines, "data: 1x", "data: 2x", "data: 3x", `data: {"choices":[{"delta":{"content":"never"}}]}`)
	srv := sseServer(t, lines)

	got, err := collect(t, NewClient(WithMaxMalformedFrames(3)), profileFor(srv))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTooManyMalformedFrames)

	var se *StreamError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 2, se.Frames)
	assert.Equal(t, []Delta{{Content: "a"}, {Content: "b"}}, got)
}

func TestStream_OversizedFrameCountsAsMalformed(t *testing.T) {
	huge := "data: " + strings.Repeat("z", MaxFrameSize+1)
	srv := sseServer(t, []string{
		`data: {"choices":[{"delta":{"content":"a"}}]}`,
		huge,
		`data: {"choices":[{"delta":{"content":"b"}}]}`,
		huge,
		huge,
	})

	got, err := collect(t, NewClient(WithMaxMalformedFrames(2)), profileFor(srv))
	assert.ErrorIs(t, err, ErrTooManyMalformedFrames)
	assert.Equal(t, []Delta{{Content: "a"}, {Content: "b"}}, got)
}

func TestStream_InStreamError(t *testing.T) {
	srv := sseServer(t, []string{
		`data: {"choices":[{"delta":{"content":"partial"}}]}`,
		`data: {"error":{"message":"overloaded","type":"server_error"}}`,
	})

	got, err := collect(t, NewClient(), profileFor(srv))
	var se *StreamError
	require.True(t, errors.As(err, &se), "got %v", err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "overloaded", apiErr.Message)
	assert.Len(t, got, 1)
}

func TestStream_StatusErrors(t *testing.T) {
	tests := []struct {
		status int
		kind   error
	}{
		{http.StatusUnauthorized, ErrAuthFailed},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusTooManyRequests, ErrRateLimited},
		{http.StatusBadGateway, ErrServerError},
		{http.StatusBadRequest, ErrBadRequest},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"error":{"message":"nope","code":"x1"}}`)
			}))
			defer srv.Close()

			_, err := collect(t, NewClient(), profileFor(srv))
			var ce *ConnectError
			require.True(t, errors.As(err, &ce), "got %v", err)
			assert.ErrorIs(t, err, tt.kind)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, "nope", apiErr.Message)
			assert.Equal(t, "x1", apiErr.Code)
		})
	}
}

func TestStream_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	p := profileFor(srv)
	srv.Close()

	_, err := collect(t, NewClient(), p)
	var ce *ConnectError
	assert.True(t, errors.As(err, &ce), "got %v", err)
}

func TestStream_CircuitOpensAfterFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(WithBreaker(2, time.Minute))
	p := profileFor(srv)

	for i := 0; i < 2; i++ {
		_, err := collect(t, c, p)
		assert.ErrorIs(t, err, ErrServerError)
	}

	_, err := collect(t, c, p)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(2), hits.Load(), "open circuit must not reach the server")
}

func TestStream_ClientErrorsDoNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(WithBreaker(1, time.Minute))
	for i := 0; i < 3; i++ {
		_, err := collect(t, c, profileFor(srv))
		assert.ErrorIs(t, err, ErrAuthFailed)
		assert.NotErrorIs(t, err, ErrCircuitOpen)
	}
}

func TestStream_CancellationReturnsCause(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"first"}}]}`+"\n")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	cause := errors.New("superseded")
	ctx, cancel := context.WithCancelCause(context.Background())

	var got []Delta
	err := NewClient().Stream(ctx, profileFor(srv), nil, func(d Delta) {
		got = append(got, d)
		cancel(cause)
	})
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, []Delta{{Content: "first"}}, got)
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"data":[{"id":"zeta"},{"id":"alpha"},{"id":""}]}`)
	}))
	defer srv.Close()

	c := NewClient()
	models, err := c.ListModels(context.Background(), profileFor(srv))
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "zeta"}, models)

	n, err := c.Validate(context.Background(), profileFor(srv))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestValidate_AuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewClient().Validate(context.Background(), profileFor(srv))
	assert.ErrorIs(t, err, ErrAuthFailed)
}
