package api

// EventType identifies the type of an orchestration event.
type EventType string

// Delta events convey incremental content while a response is being
// generated. Complete events carry the full accumulated text of the
// segment they close.
const (
	EventStart           EventType = "start"
	EventContentDelta    EventType = "chunk"
	EventSystemDelta     EventType = "system_chunk"
	EventContextDelta    EventType = "context_chunk"
	EventSystemComplete  EventType = "system_complete"
	EventContextComplete EventType = "context_complete"

	// EventAssistantComplete closes an assistant segment early when a
	// capability injects out-of-band system content mid-response.
	EventAssistantComplete EventType = "assistant_complete"

	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event is a single orchestration event. Consumers must treat unknown
// event types as opaque pass-through data rather than an error.
type Event struct {
	Type EventType `json:"type"`

	// Content carries delta or completed text for content-bearing events.
	Content string `json:"content,omitempty"`

	// Message carries the error description for EventError.
	Message string `json:"message,omitempty"`
}

// Terminal reports whether the event ends an orchestration run.
func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}
