package harness

import (
	"github.com/gbionescu/reddit-moderator-bot/internal/platform/fake"
)

// TraceEvent is one hook invocation.
type TraceEvent struct {
	Seq       int    `json:"seq"`
	Hook      string `json:"hook"`
	Kind      string `json:"kind"`
	Subreddit string `json:"subreddit,omitempty"`
	Step      int    `json:"step"`
	Error     string `json:"error,omitempty"`
}

// Result is the outcome of a scenario.
type Result struct {
	Pass   bool         `json:"pass"`
	Trace  []TraceEvent `json:"trace"`
	Sent   []fake.Sent  `json:"sent"`
	Errors []string     `json:"errors,omitempty"`
}

func newResult() *Result {
	return &Result{Pass: true, Trace: []TraceEvent{}, Sent: []fake.Sent{}}
}

func (r *Result) fail(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}

// Calls returns the trace events of hook.
func (r *Result) Calls(hook string) []TraceEvent {
	var out []TraceEvent
	for _, ev := range r.Trace {
		if ev.Hook == hook {
			out = append(out, ev)
		}
	}
	return out
}
