package harness

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Snapshot is the golden file content of a scenario run.
type Snapshot struct {
	Scenario string         `json:"scenario"`
	Trace    []TraceEvent   `json:"trace"`
	Sent     []SentSnapshot `json:"sent"`
}

// SentSnapshot leaves out message bodies, which carry the signature.
type SentSnapshot struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
}

// NewSnapshot builds the golden content of result.
func NewSnapshot(name string, result *Result) Snapshot {
	s := Snapshot{Scenario: name, Trace: result.Trace, Sent: []SentSnapshot{}}
	for _, m := range result.Sent {
		s.Sent = append(s.Sent, SentSnapshot{To: m.To, Subject: m.Subject})
	}
	return s
}

// RunWithGolden runs scenario, fails t on failed assertions and compares
// the run with testdata/golden/<name>.golden. Regenerate with
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...Option) *Result {
	t.Helper()
	result, err := Run(scenario, opts...)
	if err != nil {
		t.Fatalf("run %s: %v", scenario.Name, err)
	}
	for _, e := range result.Errors {
		t.Error(e)
	}
	AssertGolden(t, scenario.Name, result)
	return result
}

// AssertGolden compares result with its golden file.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()
	data, err := json.MarshalIndent(NewSnapshot(name, result), "", "  ")
	if err != nil {
		t.Fatalf("encode snapshot: %v", err)
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, append(data, '\n'))
}
