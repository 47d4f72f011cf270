package stream

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/taskpilot/taskpilot/pkg/models"
)

func TestEncoderWritesFrames(t *testing.T) {
	rec := httptest.NewRecorder()
	enc, err := NewEncoder(rec)
	if err != nil {
		t.Fatalf("NewEncoder failed: %v", err)
	}

	events := []models.AgentEvent{
		{Type: models.EventThinking, Text: "Deciding next step"},
		{Type: models.EventMessageChunk, Delta: "Hello"},
		{Type: models.EventDone},
	}
	for _, ev := range events {
		if err := enc.WriteEvent(ev); err != nil {
			t.Fatalf("WriteEvent failed: %v", err)
		}
	}

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("unexpected content type %q", ct)
	}

	var dec Decoder
	frames := dec.Feed(rec.Body.Bytes())
	if len(frames) != len(events) {
		t.Fatalf("expected %d frames, got %d", len(events), len(frames))
	}
	for i, f := range frames {
		if f.Event != string(events[i].Type) {
			t.Errorf("frame %d: event %q, want %q", i, f.Event, events[i].Type)
		}
		ev, err := f.AgentEvent()
		if err != nil {
			t.Fatalf("frame %d unparsable: %v", i, err)
		}
		if ev.Type != events[i].Type {
			t.Errorf("frame %d: type %q, want %q", i, ev.Type, events[i].Type)
		}
	}
}

func TestDecoderToleratesFragmentation(t *testing.T) {
	raw := "event: message_chunk\ndata: {\"type\":\"message_chunk\",\"delta\":\"Hi\"}\n\n" +
		"event: done\ndata: {\"type\":\"done\"}\n\n"

	var dec Decoder
	var frames []Frame
	// feed one byte at a time; no split point may cause an error or a loss
	for i := 0; i < len(raw); i++ {
		frames = append(frames, dec.Feed([]byte{raw[i]})...)
	}

	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if frames[0].Event != "message_chunk" || frames[1].Event != "done" {
		t.Errorf("unexpected frame order: %s, %s", frames[0].Event, frames[1].Event)
	}
	if dec.Pending() {
		t.Error("decoder should have no buffered partial frame")
	}
}

func TestDecoderHoldsPartialFrame(t *testing.T) {
	var dec Decoder
	frames := dec.Feed([]byte("event: done\ndata: {\"ty"))
	if len(frames) != 0 {
		t.Fatalf("partial frame must not be emitted, got %d frames", len(frames))
	}
	if !dec.Pending() {
		t.Error("decoder should report a buffered partial frame")
	}

	frames = dec.Feed([]byte("pe\":\"done\"}\n\n"))
	if len(frames) != 1 || frames[0].Event != "done" {
		t.Fatalf("completed frame not emitted: %+v", frames)
	}
}

func TestDecoderDropsDatalessFrames(t *testing.T) {
	var dec Decoder
	frames := dec.Feed([]byte("event: ping\n\nevent: done\ndata: {\"type\":\"done\"}\n\n"))
	if len(frames) != 1 || frames[0].Event != "done" {
		t.Fatalf("dataless frame should be dropped, got %+v", frames)
	}
}

func TestRoundTripPreservesDeltaOrder(t *testing.T) {
	rec := httptest.NewRecorder()
	enc, err := NewEncoder(rec)
	if err != nil {
		t.Fatalf("NewEncoder failed: %v", err)
	}

	chunks := []string{"The ", "quick ", "brown ", "fox"}
	for _, c := range chunks {
		if err := enc.WriteEvent(models.AgentEvent{Type: models.EventMessageChunk, Delta: c}); err != nil {
			t.Fatalf("WriteEvent failed: %v", err)
		}
	}

	var dec Decoder
	var got strings.Builder
	for _, f := range dec.Feed(rec.Body.Bytes()) {
		ev, err := f.AgentEvent()
		if err != nil {
			t.Fatalf("frame unparsable: %v", err)
		}
		got.WriteString(ev.Delta)
	}
	if got.String() != strings.Join(chunks, "") {
		t.Errorf("delta concatenation %q != original %q", got.String(), strings.Join(chunks, ""))
	}
}
