package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/wispchat/wisp/pkg/api"
	"github.com/wispchat/wisp/pkg/capability"
	"github.com/wispchat/wisp/pkg/persona"
)

// recordingSink collects every emitted event in order.
type recordingSink struct {
	events []api.Event
}

func (s *recordingSink) Emit(_ context.Context, ev api.Event) error {
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) types() []api.EventType {
	out := make([]api.EventType, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Type
	}
	return out
}

func defaultNames() persona.Names {
	return persona.Names{User: persona.DefaultUserName, Char: persona.DefaultCharName}
}

func TestMatch(t *testing.T) {
	caps := []*capability.Capability{plainCap("roll_dice", "dice", "4")}

	if got := Match("roll_dice", caps); got == nil || got.ID != "roll_dice" {
		t.Errorf("Match(roll_dice) = %v", got)
	}
	if got := Match("bogus", caps); got != nil {
		t.Errorf("Match(bogus) = %v, want nil", got)
	}

	res := UnknownResult("bogus", "partial")
	if res.ResultText != "Unknown function: bogus" {
		t.Errorf("UnknownResult text = %q", res.ResultText)
	}
	if res.AssistantText != "partial" {
		t.Errorf("UnknownResult must preserve assistant text, got %q", res.AssistantText)
	}
}

func TestExecute_Plain(t *testing.T) {
	sink := &recordingSink{}
	ti := NewToolInvoker(defaultNames(), sink, nil)

	c := plainCap("roll_dice", "dice", "4")
	res, err := ti.Execute(context.Background(), c, capability.Invocation{Name: "roll_dice"}, "so far")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.ResultText != "4" {
		t.Errorf("ResultText = %q, want %q", res.ResultText, "4")
	}
	if res.AssistantText != "so far" {
		t.Errorf("AssistantText = %q, want unchanged", res.AssistantText)
	}
	if len(sink.events) != 0 {
		t.Errorf("plain handler without staged content emitted %v", sink.types())
	}
}

func TestExecute_PlainStagedSystem(t *testing.T) {
	sink := &recordingSink{}
	ti := NewToolInvoker(defaultNames(), sink, nil)

	c := &capability.Capability{
		ID:     "notice",
		Schema: capability.Schema{Name: "notice"},
		Handler: capability.Plain(func(_ context.Context, _ capability.Invocation, rc *capability.ResponseContext) (string, error) {
			rc.AddSystem("the door creaks open")
			return "done", nil
		}),
	}

	res, err := ti.Execute(context.Background(), c, capability.Invocation{Name: "notice"}, "Let me check.")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	want := []api.EventType{api.EventAssistantComplete, api.EventSystemDelta, api.EventSystemComplete}
	got := sink.types()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
	if sink.events[0].Content != "Let me check." {
		t.Errorf("flushed assistant content = %q", sink.events[0].Content)
	}
	if res.AssistantText != "" {
		t.Errorf("AssistantText = %q, want reset", res.AssistantText)
	}
	if res.SystemText != "the door creaks open" {
		t.Errorf("SystemText = %q", res.SystemText)
	}
	if res.ResultText != systemRoutedResult {
		t.Errorf("ResultText = %q, want %q", res.ResultText, systemRoutedResult)
	}
}

func TestExecute_ChunkStream_SystemOnly(t *testing.T) {
	sink := &recordingSink{}
	ti := NewToolInvoker(defaultNames(), sink, nil)

	c := &capability.Capability{
		ID:     "narrate",
		Schema: capability.Schema{Name: "narrate"},
		Handler: capability.ChunkStream(func(_ context.Context, _ capability.Invocation, out chan<- capability.Chunk) error {
			out <- capability.Chunk{Kind: capability.ChunkSystem, Text: "night "}
			out <- capability.Chunk{Kind: capability.ChunkSystem, Text: "falls"}
			return nil
		}),
	}

	res, err := ti.Execute(context.Background(), c, capability.Invocation{Name: "narrate"}, "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var completes []api.Event
	for _, ev := range sink.events {
		if ev.Type == api.EventSystemComplete {
			completes = append(completes, ev)
		}
	}
	if len(completes) != 1 {
		t.Fatalf("SystemComplete count = %d, want exactly 1 (%v)", len(completes), sink.types())
	}
	if completes[0].Content != "night falls" {
		t.Errorf("SystemComplete content = %q, want concatenation", completes[0].Content)
	}
	if res.SystemText != "night falls" {
		t.Errorf("SystemText = %q", res.SystemText)
	}
	if res.ResultText != chunkStreamResult {
		t.Errorf("ResultText = %q", res.ResultText)
	}
}

func TestExecute_ChunkStream_FlushBoundary(t *testing.T) {
	sink := &recordingSink{}
	ti := NewToolInvoker(defaultNames(), sink, nil)

	c := &capability.Capability{
		ID:     "mixed",
		Schema: capability.Schema{Name: "mixed"},
		Handler: capability.ChunkStream(func(_ context.Context, _ capability.Invocation, out chan<- capability.Chunk) error {
			out <- capability.Chunk{Kind: capability.ChunkAssistant, Text: " and then"}
			out <- capability.Chunk{Kind: capability.ChunkSystem, Text: "[scene change]"}
			out <- capability.Chunk{Kind: capability.ChunkAssistant, Text: "Later..."}
			return nil
		}),
	}

	res, err := ti.Execute(context.Background(), c, capability.Invocation{Name: "mixed"}, "Once")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	want := []api.EventType{
		api.EventContentDelta,      // " and then"
		api.EventAssistantComplete, // flush "Once and then"
		api.EventSystemDelta,
		api.EventSystemComplete,
		api.EventContentDelta, // "Later..."
	}
	got := sink.types()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
	if sink.events[1].Content != "Once and then" {
		t.Errorf("flushed assistant segment = %q", sink.events[1].Content)
	}
	if res.AssistantText != "Later..." {
		t.Errorf("AssistantText = %q, want text after the flush boundary", res.AssistantText)
	}
}

func TestExecute_ChunkStream_HandlerError(t *testing.T) {
	sink := &recordingSink{}
	ti := NewToolInvoker(defaultNames(), sink, nil)

	c := &capability.Capability{
		ID:     "broken",
		Schema: capability.Schema{Name: "broken"},
		Handler: capability.ChunkStream(func(_ context.Context, _ capability.Invocation, out chan<- capability.Chunk) error {
			out <- capability.Chunk{Kind: capability.ChunkAssistant, Text: "partial"}
			return errors.New("handler exploded")
		}),
	}

	_, err := ti.Execute(context.Background(), c, capability.Invocation{Name: "broken"}, "")
	if err == nil || !strings.Contains(err.Error(), "handler exploded") {
		t.Fatalf("err = %v, want handler error", err)
	}
}

func TestExecute_SubstitutesPlaceholders(t *testing.T) {
	sink := &recordingSink{}
	names := persona.Names{User: "Ada", Char: "Hal"}
	ti := NewToolInvoker(names, sink, nil)

	c := &capability.Capability{
		ID:     "narrate",
		Schema: capability.Schema{Name: "narrate"},
		Handler: capability.ChunkStream(func(_ context.Context, _ capability.Invocation, out chan<- capability.Chunk) error {
			out <- capability.Chunk{Kind: capability.ChunkSystem, Text: "{{char}} looks at {{user}}"}
			return nil
		}),
	}

	res, err := ti.Execute(context.Background(), c, capability.Invocation{Name: "narrate"}, "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.SystemText != "Hal looks at Ada" {
		t.Errorf("SystemText = %q, want substituted", res.SystemText)
	}
}
