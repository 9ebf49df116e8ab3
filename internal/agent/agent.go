// Package agent defines the boundary to the underlying agent engine: an
// opaque generator that turns a prompt into streamed text fragments, tool
// invocation requests, and exactly one terminal outcome.
package agent

import "context"

// EventType discriminates the units yielded by a run.
type EventType string

const (
	// EventChunk carries a partial fragment of the assistant's turn.
	EventChunk EventType = "chunk"
	// EventToolRequest asks for approval of one tool invocation. The run
	// does not progress until the request's Reply receives a Decision.
	EventToolRequest EventType = "tool_request"
	// EventDone is the successful terminal outcome, with an optional
	// final text that supersedes the accumulated fragments.
	EventDone EventType = "done"
	// EventError is the abnormal terminal outcome, including cancellation.
	EventError EventType = "error"
)

// Decision resolves a tool request. A denial carries the reason shown to
// the engine.
type Decision struct {
	Allowed bool
	Message string
}

// ToolCall describes a requested tool invocation. Reply must receive
// exactly one Decision; the channel is buffered so resolution never blocks
// the resolver.
type ToolCall struct {
	Name        string
	Input       map[string]any
	Description string
	Reply       chan Decision
}

// Event is one unit yielded by a run.
type Event struct {
	Type EventType
	Text string    // chunk fragment, or final text for done
	Tool *ToolCall // set for tool_request
	Err  error     // set for error
}

// Runner drives one agent run. The returned channel yields zero or more
// chunk and tool_request events followed by exactly one done or error
// event, then closes. Cancelling ctx terminates the run with an error
// event; cancellation is cooperative and may take a moment to unwind.
type Runner interface {
	Run(ctx context.Context, dir, prompt string) (<-chan Event, error)
}
