package capability

import "strings"

// ResponseContext lets a Plain handler stage out-of-band system and
// context text alongside its result. The invoker flushes staged text as
// completed blocks after the handler returns.
type ResponseContext struct {
	system  []string
	context []string
}

// NewResponseContext returns an empty ResponseContext.
func NewResponseContext() *ResponseContext {
	return &ResponseContext{}
}

// AddSystem stages a system notice.
func (rc *ResponseContext) AddSystem(text string) {
	if text != "" {
		rc.system = append(rc.system, text)
	}
}

// AddContext stages a context notice.
func (rc *ResponseContext) AddContext(text string) {
	if text != "" {
		rc.context = append(rc.context, text)
	}
}

// System returns the staged system text joined with newlines.
func (rc *ResponseContext) System() string {
	return strings.Join(rc.system, "\n")
}

// Context returns the staged context text joined with newlines.
func (rc *ResponseContext) Context() string {
	return strings.Join(rc.context, "\n")
}
