// Package orchestrator drives tool-augmented streaming inference: it
// issues streaming completion requests, decodes token and tool-call
// deltas, executes matched capabilities, folds results back into the
// conversation history, and repeats until the model stops requesting
// tools.
//
// One Run is strictly sequential: at most one completion request is in
// flight, and events reach the EventSink in generation order. Multiple
// runs may execute concurrently; the loop holds no cross-run state.
package orchestrator
