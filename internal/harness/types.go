package harness

import "github.com/roach88/fieldsync/internal/queue"

// Trace event types.
const (
	EventEnqueue      = "enqueue"
	EventConnectivity = "connectivity"
	EventFault        = "fault"
	EventHeal         = "heal"
	EventCall         = "call"
	EventCycle        = "cycle"
	EventRequeue      = "retry_failed"
	EventDiscard      = "discard_failed"
	EventRestart      = "restart"
)

// TraceEvent is one entry in a scenario trace: a step the harness took, or
// a call that reached the remote store.
type TraceEvent struct {
	Seq     int64          `json:"seq"`
	Type    string         `json:"type"`
	Op      string         `json:"op,omitempty"`
	Kind    string         `json:"kind,omitempty"`
	ID      string         `json:"id,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
	// Error is "transient" or "permanent" for calls failed by an injected
	// fault.
	Error  string         `json:"error,omitempty"`
	Detail map[string]any `json:"detail,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Trace lists steps and remote calls in the order they happened.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failure messages.
	Errors []string `json:"errors,omitempty"`

	// Final is the queue state after the last step.
	Final queue.State `json:"final"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds an assertion failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Calls returns the call events of the trace.
func (r *Result) Calls() []TraceEvent {
	var calls []TraceEvent
	for _, ev := range r.Trace {
		if ev.Type == EventCall {
			calls = append(calls, ev)
		}
	}
	return calls
}
