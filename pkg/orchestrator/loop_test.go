package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/wispchat/wisp/pkg/api"
	"github.com/wispchat/wisp/pkg/capability"
	"github.com/wispchat/wisp/pkg/provider"
)

// scriptedProvider is a mock provider that replays a fixed event script
// per request and records every request it receives.
type scriptedProvider struct {
	turn     int
	scripts  [][]provider.Event
	requests []*provider.Request

	streamErr error // returned by Stream when set
}

func (p *scriptedProvider) Name() string { return "scripted" }
func (p *scriptedProvider) Close() error { return nil }

func (p *scriptedProvider) ListModels(context.Context) ([]provider.ModelInfo, error) {
	return nil, nil
}

func (p *scriptedProvider) Complete(context.Context, *provider.Request) (*provider.Response, error) {
	return &provider.Response{}, nil
}

func (p *scriptedProvider) Stream(_ context.Context, req *provider.Request) (<-chan provider.Event, error) {
	p.requests = append(p.requests, req)
	if p.streamErr != nil {
		return nil, p.streamErr
	}
	if p.turn >= len(p.scripts) {
		return nil, fmt.Errorf("unexpected request %d", p.turn)
	}
	script := p.scripts[p.turn]
	p.turn++

	ch := make(chan provider.Event, len(script))
	for _, ev := range script {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

// staticRegistry serves a fixed capability snapshot.
type staticRegistry struct {
	caps []*capability.Capability
}

func (r *staticRegistry) Enabled() []*capability.Capability { return r.caps }

func textScript(parts ...string) []provider.Event {
	evs := make([]provider.Event, 0, len(parts)+1)
	for _, p := range parts {
		evs = append(evs, provider.Event{Type: provider.EventTextDelta, Delta: p})
	}
	return append(evs, provider.Event{Type: provider.EventDone, FinishReason: "stop"})
}

func toolCallScript(name string, argParts ...string) []provider.Event {
	evs := []provider.Event{
		{Type: provider.EventToolCallDelta, ToolCallID: "call_test1", FunctionName: name, Delta: argParts[0]},
	}
	for _, p := range argParts[1:] {
		evs = append(evs, provider.Event{Type: provider.EventToolCallDelta, Delta: p})
	}
	return append(evs, provider.Event{Type: provider.EventDone, FinishReason: "tool_calls"})
}

func newTestLoop(p provider.Provider, caps []*capability.Capability, cfg Config) *Loop {
	if cfg.Model == "" {
		cfg.Model = "test-model"
	}
	return NewLoop(p, &staticRegistry{caps: caps}, nil, cfg, nil)
}

func findSystem(turns []api.Turn, substr string) *api.Turn {
	for i := range turns {
		if turns[i].Role == api.RoleSystem && strings.Contains(turns[i].Content, substr) {
			return &turns[i]
		}
	}
	return nil
}

// Plain streaming with no capabilities: exactly Start, ContentDelta per
// chunk, then Complete equal to the concatenation.
func TestRun_NoToolCall(t *testing.T) {
	prov := &scriptedProvider{scripts: [][]provider.Event{textScript("Hel", "lo", "!")}}
	loop := newTestLoop(prov, nil, Config{})

	sink := &recordingSink{}
	final, err := loop.Run(context.Background(), RunRequest{
		History: []api.Turn{{Role: api.RoleUser, Content: "hi"}},
	}, sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if final != "Hello!" {
		t.Errorf("final = %q, want %q", final, "Hello!")
	}

	want := []api.EventType{api.EventStart, api.EventContentDelta, api.EventContentDelta, api.EventContentDelta, api.EventComplete}
	got := sink.types()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	var deltas string
	for i, ev := range sink.events {
		if ev.Type != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
		if ev.Type == api.EventContentDelta {
			deltas += ev.Content
		}
	}
	if sink.events[len(sink.events)-1].Content != deltas {
		t.Errorf("Complete content %q != delta concatenation %q",
			sink.events[len(sink.events)-1].Content, deltas)
	}
}

// A tool call leads to synthetic turns, a second request, and a usage
// list entry; a one-time capability disappears from the next
// availability prompt.
func TestRun_ToolCallThenAnswer(t *testing.T) {
	dice := plainCap("roll_dice", "Roll a die", "4")
	dice.OneTime = true

	prov := &scriptedProvider{scripts: [][]provider.Event{
		toolCallScript("roll_dice", `{"si`, `des":6}`),
		textScript("You rolled a 4."),
	}}
	loop := newTestLoop(prov, []*capability.Capability{dice}, Config{})

	sink := &recordingSink{}
	final, err := loop.Run(context.Background(), RunRequest{
		History: []api.Turn{{Role: api.RoleUser, Content: "roll for me"}},
	}, sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if final != "You rolled a 4." {
		t.Errorf("final = %q", final)
	}

	if len(prov.requests) != 2 {
		t.Fatalf("requests = %d, want 2", len(prov.requests))
	}

	first := prov.requests[0]
	if len(first.Tools) != 1 || first.Tools[0].Name != "roll_dice" {
		t.Errorf("first request tools = %+v", first.Tools)
	}
	if findSystem(first.Messages, "- roll_dice(...): Roll a die") == nil {
		t.Error("first availability prompt missing roll_dice")
	}
	if findSystem(first.Messages, statusSentinel) == nil {
		t.Error("first request missing status sentinel")
	}

	second := prov.requests[1]
	if len(second.Tools) != 0 {
		t.Errorf("one-time capability still offered as tool: %+v", second.Tools)
	}
	if avail := findSystem(second.Messages, "tool(s):"); avail == nil {
		t.Error("second request missing availability prompt")
	} else if strings.Contains(avail.Content, "roll_dice") {
		t.Errorf("used one-time capability still listed: %q", avail.Content)
	}

	// Synthetic turns: record, assistant tool call, tool result.
	if findSystem(second.Messages, toolRecordPrefix) == nil {
		t.Error("second request missing tool-call record")
	}
	var sawCall, sawResult bool
	for _, turn := range second.Messages {
		if turn.Role == api.RoleAssistant && len(turn.ToolCalls) == 1 {
			tc := turn.ToolCalls[0]
			if tc.Name != "roll_dice" || tc.Arguments != `{"sides":6}` {
				t.Errorf("tool call record = %+v", tc)
			}
			sawCall = true
		}
		if turn.Role == api.RoleTool && turn.Content == "4" {
			if turn.ToolCallID == "" {
				t.Error("tool result turn missing ToolCallID")
			}
			sawResult = true
		}
	}
	if !sawCall || !sawResult {
		t.Errorf("synthetic turns missing: call=%v result=%v", sawCall, sawResult)
	}
}

// Reaching the budget removes the availability prompt and tools but the
// status block is still produced and the loop keeps going.
func TestRun_BudgetEmptiesAvailability(t *testing.T) {
	dice := plainCap("roll_dice", "Roll a die", "4")

	prov := &scriptedProvider{scripts: [][]provider.Event{
		toolCallScript("roll_dice", `{"sides":6}`),
		textScript("done rolling"),
	}}
	loop := newTestLoop(prov, []*capability.Capability{dice}, Config{ToolBudget: 1})

	sink := &recordingSink{}
	final, err := loop.Run(context.Background(), RunRequest{
		History: []api.Turn{{Role: api.RoleUser, Content: "roll"}},
	}, sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if final != "done rolling" {
		t.Errorf("final = %q", final)
	}

	second := prov.requests[1]
	if findSystem(second.Messages, "tool(s):") != nil {
		t.Error("availability prompt present after budget exhausted")
	}
	if len(second.Tools) != 0 {
		t.Errorf("tools offered after budget exhausted: %+v", second.Tools)
	}
	if findSystem(second.Messages, statusSentinel) == nil {
		t.Error("status block missing after budget exhausted")
	}
}

// A condition error silently hides the capability from both the status
// block and the availability prompt; no Error event is raised.
func TestRun_ConditionErrorExcluded(t *testing.T) {
	gated := plainCap("secret", "Hidden ability", "ok")
	gated.Condition = func(context.Context) (bool, error) { return false, errors.New("gate broke") }
	gated.Status = func(context.Context) (string, error) { return "secret status", nil }

	prov := &scriptedProvider{scripts: [][]provider.Event{textScript("hello")}}
	loop := newTestLoop(prov, []*capability.Capability{gated}, Config{})

	sink := &recordingSink{}
	if _, err := loop.Run(context.Background(), RunRequest{
		History: []api.Turn{{Role: api.RoleUser, Content: "hi"}},
	}, sink); err != nil {
		t.Fatalf("Run: %v", err)
	}

	req := prov.requests[0]
	if avail := findSystem(req.Messages, "tool(s):"); avail != nil && strings.Contains(avail.Content, "secret") {
		t.Error("gated capability listed in availability prompt")
	}
	if findSystem(req.Messages, "secret status") != nil {
		t.Error("gated capability reported status")
	}
	for _, ev := range sink.events {
		if ev.Type == api.EventError {
			t.Errorf("unexpected Error event: %+v", ev)
		}
	}
}

// An unknown capability name becomes a sentinel tool result, never a
// run failure.
func TestRun_UnknownCapability(t *testing.T) {
	prov := &scriptedProvider{scripts: [][]provider.Event{
		toolCallScript("bogus", `{}`),
		textScript("recovered"),
	}}
	loop := newTestLoop(prov, nil, Config{})

	sink := &recordingSink{}
	final, err := loop.Run(context.Background(), RunRequest{
		History: []api.Turn{{Role: api.RoleUser, Content: "hi"}},
	}, sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if final != "recovered" {
		t.Errorf("final = %q", final)
	}

	var sawSentinel bool
	for _, turn := range prov.requests[1].Messages {
		if turn.Role == api.RoleTool && turn.Content == "Unknown function: bogus" {
			sawSentinel = true
		}
	}
	if !sawSentinel {
		t.Error("sentinel tool result missing from history")
	}
}

// Malformed argument JSON yields an empty argument object and execution
// proceeds.
func TestRun_MalformedArguments(t *testing.T) {
	var gotArgs map[string]any
	echo := &capability.Capability{
		ID:     "echo",
		Schema: capability.Schema{Name: "echo"},
		Handler: capability.Plain(func(_ context.Context, inv capability.Invocation, _ *capability.ResponseContext) (string, error) {
			gotArgs = inv.Arguments
			return "echoed", nil
		}),
	}

	prov := &scriptedProvider{scripts: [][]provider.Event{
		toolCallScript("echo", `{"broken":`),
		textScript("fine"),
	}}
	loop := newTestLoop(prov, []*capability.Capability{echo}, Config{})

	if _, err := loop.Run(context.Background(), RunRequest{
		History: []api.Turn{{Role: api.RoleUser, Content: "hi"}},
	}, &recordingSink{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if gotArgs == nil || len(gotArgs) != 0 {
		t.Errorf("handler arguments = %v, want empty object", gotArgs)
	}
}

func TestRun_HandlerErrorAbort(t *testing.T) {
	var cleanups atomic.Int32
	broken := &capability.Capability{
		ID:     "broken",
		Schema: capability.Schema{Name: "broken"},
		Handler: capability.Plain(func(context.Context, capability.Invocation, *capability.ResponseContext) (string, error) {
			return "", errors.New("handler exploded")
		}),
		Cleanup: func(context.Context) error {
			cleanups.Add(1)
			return nil
		},
	}

	prov := &scriptedProvider{scripts: [][]provider.Event{toolCallScript("broken", `{}`)}}
	loop := newTestLoop(prov, []*capability.Capability{broken}, Config{})

	sink := &recordingSink{}
	_, err := loop.Run(context.Background(), RunRequest{
		History: []api.Turn{{Role: api.RoleUser, Content: "hi"}},
	}, sink)
	if err == nil || !strings.Contains(err.Error(), "handler exploded") {
		t.Fatalf("err = %v, want handler error", err)
	}

	last := sink.events[len(sink.events)-1]
	if last.Type != api.EventError {
		t.Errorf("last event = %v, want Error", last.Type)
	}
	if n := cleanups.Load(); n != 1 {
		t.Errorf("cleanup ran %d times, want 1", n)
	}
}

func TestRun_HandlerErrorReport(t *testing.T) {
	broken := &capability.Capability{
		ID:     "broken",
		Schema: capability.Schema{Name: "broken"},
		Handler: capability.Plain(func(context.Context, capability.Invocation, *capability.ResponseContext) (string, error) {
			return "", errors.New("handler exploded")
		}),
	}

	prov := &scriptedProvider{scripts: [][]provider.Event{
		toolCallScript("broken", `{}`),
		textScript("carried on"),
	}}
	loop := newTestLoop(prov, []*capability.Capability{broken}, Config{ToolErrorPolicy: ToolErrorReport})

	final, err := loop.Run(context.Background(), RunRequest{
		History: []api.Turn{{Role: api.RoleUser, Content: "hi"}},
	}, &recordingSink{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if final != "carried on" {
		t.Errorf("final = %q", final)
	}

	var sawReport bool
	for _, turn := range prov.requests[1].Messages {
		if turn.Role == api.RoleTool && strings.Contains(turn.Content, "handler exploded") {
			sawReport = true
		}
	}
	if !sawReport {
		t.Error("handler error not reported as tool result")
	}
}

func TestRun_TransportError(t *testing.T) {
	var cleanups atomic.Int32
	c := plainCap("noop", "nothing", "ok")
	c.Cleanup = func(context.Context) error {
		cleanups.Add(1)
		return nil
	}

	prov := &scriptedProvider{streamErr: errors.New("connection refused")}
	loop := newTestLoop(prov, []*capability.Capability{c}, Config{})

	sink := &recordingSink{}
	_, err := loop.Run(context.Background(), RunRequest{
		History: []api.Turn{{Role: api.RoleUser, Content: "hi"}},
	}, sink)
	if err == nil {
		t.Fatal("expected transport error")
	}

	var errorEvents int
	for _, ev := range sink.events {
		if ev.Type == api.EventError {
			errorEvents++
		}
	}
	if errorEvents != 1 {
		t.Errorf("Error events = %d, want exactly 1", errorEvents)
	}
	if n := cleanups.Load(); n != 1 {
		t.Errorf("cleanup ran %d times, want 1", n)
	}
}

func TestRun_CleanupOnCancellation(t *testing.T) {
	var cleanups atomic.Int32
	c := plainCap("noop", "nothing", "ok")
	c.Cleanup = func(ctx context.Context) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		cleanups.Add(1)
		return nil
	}

	prov := &scriptedProvider{scripts: [][]provider.Event{textScript("never reached")}}
	loop := newTestLoop(prov, []*capability.Capability{c}, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := loop.Run(ctx, RunRequest{
		History: []api.Turn{{Role: api.RoleUser, Content: "hi"}},
	}, &recordingSink{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if n := cleanups.Load(); n != 1 {
		t.Errorf("cleanup ran %d times with live context, want 1", n)
	}
}

func TestRun_CleanupFailureIsolated(t *testing.T) {
	var secondRan atomic.Bool
	first := plainCap("first", "one", "ok")
	first.Cleanup = func(context.Context) error { return errors.New("cleanup broke") }
	second := plainCap("second", "two", "ok")
	second.Cleanup = func(context.Context) error {
		secondRan.Store(true)
		return nil
	}

	prov := &scriptedProvider{scripts: [][]provider.Event{textScript("hi")}}
	loop := newTestLoop(prov, []*capability.Capability{first, second}, Config{})

	if _, err := loop.Run(context.Background(), RunRequest{
		History: []api.Turn{{Role: api.RoleUser, Content: "hi"}},
	}, &recordingSink{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !secondRan.Load() {
		t.Error("sibling cleanup blocked by earlier failure")
	}
}

func TestRun_PlaceholderSubstitution(t *testing.T) {
	prov := &scriptedProvider{scripts: [][]provider.Event{textScript("ok")}}
	loop := newTestLoop(prov, nil, Config{})

	history := []api.Turn{{Role: api.RoleUser, Content: "Hello {{char}}, I am {{user}}."}}
	if _, err := loop.Run(context.Background(), RunRequest{History: history}, &recordingSink{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var sent string
	for _, turn := range prov.requests[0].Messages {
		if turn.Role == api.RoleUser {
			sent = turn.Content
		}
	}
	if sent != "Hello Assistant, I am User." {
		t.Errorf("sent = %q, want substituted copy", sent)
	}
	if history[0].Content != "Hello {{char}}, I am {{user}}." {
		t.Errorf("stored history was mutated: %q", history[0].Content)
	}
}

// An interrupted tool call is an anomaly: nothing executes, no turns
// are appended, and the loop issues another request.
func TestRun_InterruptedToolCall(t *testing.T) {
	var executions atomic.Int32
	dice := &capability.Capability{
		ID:     "roll_dice",
		Schema: capability.Schema{Name: "roll_dice"},
		Handler: capability.Plain(func(context.Context, capability.Invocation, *capability.ResponseContext) (string, error) {
			executions.Add(1)
			return "4", nil
		}),
	}

	interrupted := []provider.Event{
		{Type: provider.EventToolCallDelta, FunctionName: "roll_dice", Delta: `{"si`},
		{Type: provider.EventDone, FinishReason: "length"},
	}
	prov := &scriptedProvider{scripts: [][]provider.Event{interrupted, textScript("gave up")}}
	loop := newTestLoop(prov, []*capability.Capability{dice}, Config{})

	final, err := loop.Run(context.Background(), RunRequest{
		History: []api.Turn{{Role: api.RoleUser, Content: "roll"}},
	}, &recordingSink{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if final != "gave up" {
		t.Errorf("final = %q", final)
	}
	if n := executions.Load(); n != 0 {
		t.Errorf("interrupted call executed %d times, want 0", n)
	}
	for _, turn := range prov.requests[1].Messages {
		if turn.Role == api.RoleAssistant && len(turn.ToolCalls) > 0 {
			t.Error("interrupted call produced a synthetic tool-call turn")
		}
	}
}

// System text staged by a tool is appended to history so later
// iterations can see it.
func TestRun_SystemTextAppended(t *testing.T) {
	notice := &capability.Capability{
		ID:     "notice",
		Schema: capability.Schema{Name: "notice"},
		Handler: capability.Plain(func(_ context.Context, _ capability.Invocation, rc *capability.ResponseContext) (string, error) {
			rc.AddSystem("a bell rings")
			return "rang", nil
		}),
	}

	prov := &scriptedProvider{scripts: [][]provider.Event{
		toolCallScript("notice", `{}`),
		textScript("I heard it."),
	}}
	loop := newTestLoop(prov, []*capability.Capability{notice}, Config{})

	sink := &recordingSink{}
	if _, err := loop.Run(context.Background(), RunRequest{
		History: []api.Turn{{Role: api.RoleUser, Content: "ring the bell"}},
	}, sink); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if findSystem(prov.requests[1].Messages, "a bell rings") == nil {
		t.Error("staged system text missing from next iteration's history")
	}

	var sawComplete bool
	for _, ev := range sink.events {
		if ev.Type == api.EventSystemComplete && ev.Content == "a bell rings" {
			sawComplete = true
		}
	}
	if !sawComplete {
		t.Error("SystemComplete event not emitted")
	}
}

func TestRunToCompletion(t *testing.T) {
	prov := &scriptedProvider{scripts: [][]provider.Event{textScript("quiet ", "answer")}}
	loop := newTestLoop(prov, nil, Config{})

	final, err := loop.RunToCompletion(context.Background(), RunRequest{
		History: []api.Turn{{Role: api.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("RunToCompletion: %v", err)
	}
	if final != "quiet answer" {
		t.Errorf("final = %q", final)
	}
}

// Every log record a run emits carries that run's generated identity.
func TestRun_LogsCarryRunID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	interrupted := []provider.Event{
		{Type: provider.EventToolCallDelta, FunctionName: "roll_dice", Delta: `{"si`},
		{Type: provider.EventDone, FinishReason: "length"},
	}
	prov := &scriptedProvider{scripts: [][]provider.Event{interrupted, textScript("done")}}
	loop := NewLoop(prov, &staticRegistry{}, nil, Config{Model: "test-model"}, logger)

	if _, err := loop.Run(context.Background(), RunRequest{
		History: []api.Turn{{Role: api.RoleUser, Content: "roll"}},
	}, &recordingSink{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	logs := buf.String()
	if !strings.Contains(logs, "tool call interrupted") {
		t.Fatalf("expected an interruption warning, got logs: %q", logs)
	}
	if !strings.Contains(logs, "run_id=run_") {
		t.Errorf("warning is missing the run identity, got logs: %q", logs)
	}
}
