package transport

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/wispchat/wisp/pkg/api"
)

func TestSSEWriter_FramesEvents(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewSSEWriter(rec)

	events := []api.Event{
		{Type: api.EventStart},
		{Type: api.EventContentDelta, Content: "Hel"},
		{Type: api.EventContentDelta, Content: "lo"},
		{Type: api.EventComplete, Content: "Hello"},
	}
	for _, ev := range events {
		if err := w.Emit(context.Background(), ev); err != nil {
			t.Fatalf("Emit(%v): %v", ev.Type, err)
		}
	}

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	body := rec.Body.String()
	for _, want := range []string{
		"event: start\n",
		`data: {"type":"start"}`,
		"event: chunk\n",
		`data: {"type":"chunk","content":"Hel"}`,
		"event: complete\n",
		"data: [DONE]\n",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q:\n%s", want, body)
		}
	}

	if !w.Completed() {
		t.Error("writer not completed after terminal event")
	}
	if err := w.Emit(context.Background(), api.Event{Type: api.EventContentDelta, Content: "late"}); err == nil {
		t.Error("Emit after terminal event succeeded")
	}
}

func TestSSEWriter_ErrorIsTerminal(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewSSEWriter(rec)

	if err := w.Emit(context.Background(), api.Event{Type: api.EventError, Message: "boom"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if !w.Completed() {
		t.Error("writer not completed after Error event")
	}
	if !strings.Contains(rec.Body.String(), "data: [DONE]") {
		t.Error("missing [DONE] sentinel after Error")
	}
}

func TestSSEWriter_Started(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewSSEWriter(rec)

	if w.Started() {
		t.Error("Started before first event")
	}
	if err := w.Emit(context.Background(), api.Event{Type: api.EventStart}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if !w.Started() {
		t.Error("not Started after first event")
	}
	if w.Completed() {
		t.Error("Completed without terminal event")
	}
}
