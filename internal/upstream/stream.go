// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/chatstream/internal/model"
)

// MaxFrameSize is the largest frame payload that is decoded. Longer frames
// count as malformed.
const MaxFrameSize = 1024 * 1024

// maxLineSize leaves room for the field name and padding around a payload.
const maxLineSize = MaxFrameSize + 64

var (
	dataPrefix   = []byte("data:")
	doneSentinel = []byte("[DONE]")
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// ChatMessage is one entry of the request's message history.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the streaming completion request body.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature"`
}

// BuildMessages assembles the request history: global system messages,
// then the session's system messages, then prior turns, then the new user
// turn. Empty system messages are dropped.
func BuildMessages(global, session []string, history []model.Message, user string) []ChatMessage {
	msgs := make([]ChatMessage, 0, len(global)+len(session)+len(history)+1)
	for _, s := range global {
		if s != "" {
			msgs = append(msgs, ChatMessage{Role: string(model.RoleSystem), Content: s})
		}
	}
	for _, s := range session {
		if s != "" {
			msgs = append(msgs, ChatMessage{Role: string(model.RoleSystem), Content: s})
		}
	}
	for _, m := range history {
		msgs = append(msgs, ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	return append(msgs, ChatMessage{Role: string(model.RoleUser), Content: user})
}

// =============================================================================
// FRAMES
// =============================================================================

// Delta is one decoded increment. Either field may be empty.
type Delta struct {
	Reasoning string
	Content   string
}

// streamChunk is the subset of a completion chunk that is consumed.
// Some servers name the reasoning field "reasoning" instead of
// "reasoning_content".
type streamChunk struct {
	Choices []struct {
		Delta struct {
			ReasoningContent string `json:"reasoning_content"`
			Reasoning        string `json:"reasoning"`
			Content          string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	apiErrorBody
}

func (c *streamChunk) delta() Delta {
	if len(c.Choices) == 0 {
		return Delta{}
	}
	d := c.Choices[0].Delta
	r := d.ReasoningContent
	if r == "" {
		r = d.Reasoning
	}
	return Delta{Reasoning: r, Content: d.Content}
}

// FrameReader splits an event stream into data payloads. Lines are read
// into a buffer bounded by MaxFrameSize, so an endless line cannot grow
// memory.
type FrameReader struct {
	reader *bufio.Reader
	line   []byte
}

// NewFrameReader creates a FrameReader over r.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{reader: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the trimmed payload of the next data line. Blank lines,
// comment lines and other event fields are skipped. A line longer than
// maxLineSize is discarded up to its newline and reported as
// ErrFrameTooLarge; the reader stays usable. It returns io.EOF when the
// stream ends. The payload is only valid until the next call.
func (f *FrameReader) Next() ([]byte, error) {
	for {
		line, err := f.readLine()
		if errors.Is(err, ErrFrameTooLarge) {
			return nil, err
		}
		if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
			return nil, err
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 || line[0] == ':' {
			continue
		}
		if bytes.HasPrefix(line, dataPrefix) {
			return bytes.TrimSpace(line[len(dataPrefix):]), nil
		}
		// event:, id:, retry: and unknown lines carry nothing we use.
	}
}

// readLine reads one line including its newline. Past maxLineSize the
// rest of the line is skipped without buffering.
func (f *FrameReader) readLine() ([]byte, error) {
	f.line = f.line[:0]
	oversized := false
	for {
		chunk, err := f.reader.ReadSlice('\n')
		if !oversized {
			if len(f.line)+len(chunk) > maxLineSize {
				oversized = true
				f.line = f.line[:0]
			} else {
				f.line = append(f.line, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if oversized {
			if err != nil && !errors.Is(err, io.EOF) {
				return nil, err
			}
			return nil, ErrFrameTooLarge
		}
		return f.line, err
	}
}

// =============================================================================
// STREAMING
// =============================================================================

// Stream posts msgs to the profile's endpoint and calls onDelta for every
// decoded increment, in stream order, on the calling goroutine.
//
// It returns nil when the terminal sentinel arrives or the body ends,
// *ConnectError when the stream could not be established (wrapping
// context.Cause(ctx) if ctx ended first), context.Cause(ctx) when ctx is
// cancelled mid-stream, and *StreamError for other failures afterwards.
func (c *Client) Stream(ctx context.Context, p model.Profile, msgs []ChatMessage, onDelta func(Delta)) error {
	endpoint, err := CompletionURL(p.APIHost)
	if err != nil {
		return &ConnectError{Endpoint: p.APIHost, Err: err}
	}

	payload, err := json.Marshal(ChatRequest{
		Model:       p.Model,
		Messages:    msgs,
		Stream:      true,
		Temperature: p.Temperature,
	})
	if err != nil {
		return &ConnectError{Endpoint: endpoint, Err: fmt.Errorf("marshal request: %w", err)}
	}

	start := time.Now()
	resp, err := c.open(ctx, endpoint, p.APIKey, payload)
	if err != nil {
		if ctx.Err() != nil {
			return &ConnectError{Endpoint: endpoint, Err: context.Cause(ctx)}
		}
		c.logger.Warn("stream not established",
			zap.String("endpoint", endpoint),
			zap.String("model", p.Model),
			zap.Error(err),
		)
		return err
	}
	defer resp.Body.Close()

	c.logger.Debug("stream established",
		zap.String("endpoint", endpoint),
		zap.String("model", p.Model),
		zap.Int("messages", len(msgs)),
		zap.Duration("elapsed", time.Since(start)),
	)

	err = c.consume(ctx, resp.Body, onDelta)
	c.logger.Debug("stream finished", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
	return err
}

// consume reads frames until the sentinel, EOF, cancellation or failure.
func (c *Client) consume(ctx context.Context, body io.Reader, onDelta func(Delta)) error {
	reader := NewFrameReader(body)
	frames, malformed := 0, 0

	for {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}

		payload, err := reader.Next()
		if err != nil && !errors.Is(err, ErrFrameTooLarge) {
			if ctx.Err() != nil {
				return context.Cause(ctx)
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return &StreamError{Frames: frames, Err: err}
		}

		if bytes.Equal(payload, doneSentinel) {
			return nil
		}

		var chunk streamChunk
		switch {
		case err != nil:
		case len(payload) > MaxFrameSize:
			err = fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
		default:
			err = json.Unmarshal(payload, &chunk)
		}
		if err != nil {
			malformed++
			c.logger.Debug("skipping malformed frame", zap.Int("consecutive", malformed), zap.Error(err))
			if c.maxMalformed > 0 && malformed >= c.maxMalformed {
				return &StreamError{Frames: frames, Err: ErrTooManyMalformedFrames}
			}
			continue
		}
		malformed = 0
		frames++

		if apiErr := chunk.toAPIError(0); apiErr != nil {
			return &StreamError{Frames: frames, Err: apiErr}
		}

		if d := chunk.delta(); d.Reasoning != "" || d.Content != "" {
			onDelta(d)
		}
	}
}
