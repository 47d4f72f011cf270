// Package stream serializes agent events onto a long-lived connection as
// server-sent events, and parses them back. The agent loop knows nothing
// about the wire format; it yields events and this package encodes whatever
// arrives.
package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/taskpilot/taskpilot/pkg/models"
)

// Encoder writes agent events as SSE frames, flushing after each one so
// events reach the caller as they occur rather than at turn completion.
type Encoder struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewEncoder prepares w for event streaming and writes the SSE headers.
func NewEncoder(w http.ResponseWriter) (*Encoder, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &Encoder{w: w, flusher: flusher}, nil
}

// WriteEvent emits one event frame and flushes it.
func (e *Encoder) WriteEvent(ev models.AgentEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if _, err := fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return err
	}
	e.flusher.Flush()
	return nil
}

// ── Decoding ────────────────────────────────────────────────

// Frame is one decoded SSE frame.
type Frame struct {
	Event string
	Data  []byte
}

// AgentEvent unmarshals the frame payload.
func (f Frame) AgentEvent() (models.AgentEvent, error) {
	var ev models.AgentEvent
	err := json.Unmarshal(f.Data, &ev)
	return ev, err
}

// Decoder incrementally parses an SSE byte stream. The transport may
// fragment mid-frame, so a partial trailing frame is held back until more
// bytes arrive — it is never an error. Frames with no data line are
// malformed transport noise and are dropped silently.
type Decoder struct {
	buf bytes.Buffer
}

// Feed appends raw bytes and returns every frame completed so far.
func (d *Decoder) Feed(p []byte) []Frame {
	d.buf.Write(p)

	var frames []Frame
	for {
		raw := d.buf.Bytes()
		idx := bytes.Index(raw, []byte("\n\n"))
		if idx < 0 {
			return frames
		}
		block := make([]byte, idx)
		copy(block, raw[:idx])
		d.buf.Next(idx + 2)

		if f, ok := parseFrame(block); ok {
			frames = append(frames, f)
		}
	}
}

// Pending reports whether an incomplete frame is buffered.
func (d *Decoder) Pending() bool {
	return d.buf.Len() > 0
}

func parseFrame(block []byte) (Frame, bool) {
	var f Frame
	var data [][]byte
	for _, line := range bytes.Split(block, []byte("\n")) {
		switch {
		case bytes.HasPrefix(line, []byte("event:")):
			f.Event = string(bytes.TrimSpace(line[len("event:"):]))
		case bytes.HasPrefix(line, []byte("data:")):
			data = append(data, bytes.TrimSpace(line[len("data:"):]))
		}
	}
	if len(data) == 0 {
		return Frame{}, false
	}
	f.Data = bytes.Join(data, []byte("\n"))
	return f, true
}
