// Package sse implements C6, the SSE framer. It is a single-writer
// wrapper around an http.ResponseWriter, built on the wire-level framing
// in pkg/providerutils/streaming.SSEWriter (which the adapters also use,
// in the other direction, to parse upstream SSE).
package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/chatforge/backend/pkg/providerutils/streaming"
)

// EventType is the tagged discriminant of every frame the orchestrator
// emits, per spec.md §4.6.
type EventType string

const (
	EventContentDelta   EventType = "content_delta"
	EventReasoningDelta EventType = "reasoning_delta"
	EventToolCall       EventType = "tool_call"
	EventToolOutput     EventType = "tool_output"
	EventUsage          EventType = "usage"
	EventEvaluation     EventType = "evaluation"
	EventError          EventType = "error"
)

// Event is the JSON body of one `data: <json>\n\n` frame. Type selects
// which of the payload fields is meaningful; json struct tags omit the
// others so the wire payload stays a superset of OpenAI's
// chat.completion.chunk shape, as spec.md §6 requires.
type Event struct {
	Type EventType `json:"type"`

	// content_delta / reasoning_delta
	Text string `json:"text,omitempty"`

	// tool_call
	ID                string `json:"id,omitempty"`
	Index             int    `json:"index,omitempty"`
	Name              string `json:"name,omitempty"`
	ArgumentsFragment string `json:"arguments_fragment,omitempty"`

	// tool_output
	Payload interface{} `json:"payload,omitempty"`

	// usage
	Usage interface{} `json:"usage,omitempty"`

	// evaluation (judge flow, out of core scope — interface only)
	Evaluation interface{} `json:"evaluation,omitempty"`

	// error
	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

const heartbeatIdleThreshold = 20 * time.Second

// Framer is the single writer of one HTTP response's SSE stream. Send
// is not safe for concurrent use — per spec.md §4.6, the orchestrator
// owns it exclusively for the request's lifetime — but the internal
// mutex lets a background heartbeat goroutine share the stream safely.
type Framer struct {
	raw     io.Writer
	w       *streaming.SSEWriter
	flusher http.Flusher

	mu        sync.Mutex
	lastWrite time.Time
	closed    bool
	stopHB    chan struct{}
}

// Open sets the SSE response headers, flushes them immediately, and
// starts the idle heartbeat loop.
func Open(w http.ResponseWriter) (*Framer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no") // disable nginx proxy buffering
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	f := &Framer{
		raw:       w,
		w:         streaming.NewSSEWriter(w),
		flusher:   flusher,
		lastWrite: time.Now(),
		stopHB:    make(chan struct{}),
	}
	go f.heartbeatLoop()
	return f, nil
}

// Send serializes and flushes one event. Ordering follows call order;
// there is no coalescing.
func (f *Framer) Send(ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	if err := f.w.WriteData(string(body)); err != nil {
		return err
	}
	f.flusher.Flush()
	f.lastWrite = time.Now()
	return nil
}

func (f *Framer) heartbeatLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-f.stopHB:
			return
		case <-ticker.C:
			f.mu.Lock()
			idle := time.Since(f.lastWrite)
			closed := f.closed
			if !closed && idle >= heartbeatIdleThreshold {
				_, _ = io.WriteString(f.raw, ": heartbeat\n\n")
				f.flusher.Flush()
				f.lastWrite = time.Now()
			}
			f.mu.Unlock()
		}
	}
}

// Close emits the terminal [DONE] frame and stops the heartbeat loop.
// Idempotent: a second Close is a no-op.
func (f *Framer) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.mu.Unlock()

	close(f.stopHB)
	if err := f.w.WriteData("[DONE]"); err != nil {
		return err
	}
	f.flusher.Flush()
	return nil
}
