package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func count(n int) *int { return &n }

func trace(hooks ...string) []TraceEvent {
	out := make([]TraceEvent, len(hooks))
	for i, h := range hooks {
		out[i] = TraceEvent{Seq: i + 1, Hook: h, Kind: "submission", Subreddit: "testsub", Step: 1}
	}
	return out
}

func TestAssertDispatched(t *testing.T) {
	tr := trace("a", "b", "a")
	tr[2].Subreddit = "other"

	assert.NoError(t, assertDispatched(tr, Assertion{Hook: "a", Count: count(2)}))
	assert.NoError(t, assertDispatched(tr, Assertion{Hook: "a", Subreddit: "TestSub", Count: count(1)}))
	assert.NoError(t, assertDispatched(tr, Assertion{Hook: "c", Count: count(0)}))

	err := assertDispatched(tr, Assertion{Hook: "b", Count: count(3)})
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "b to run 3 time(s)", ae.Expected)
	assert.Equal(t, "1 time(s)", ae.Actual)
	assert.Contains(t, err.Error(), "[3] step 1 submission a /r/other")
}

func TestAssertDispatchOrder(t *testing.T) {
	tr := trace("a", "x", "b", "a", "c")

	assert.NoError(t, assertDispatchOrder(tr, Assertion{Hooks: []string{"a", "b", "c"}}))
	assert.NoError(t, assertDispatchOrder(tr, Assertion{Hooks: []string{"x", "c"}}))

	err := assertDispatchOrder(tr, Assertion{Hooks: []string{"b", "a"}})
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "a after b", ae.Expected)

	err = assertDispatchOrder(tr, Assertion{Hooks: []string{"a", "z"}})
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "never ran", ae.Actual)
}

func TestAssertionError_ReportsErrors(t *testing.T) {
	err := &AssertionError{
		Type:     AssertDispatched,
		Expected: "x",
		Actual:   "y",
		Trace:    []TraceEvent{{Seq: 1, Hook: "h", Kind: "command", Step: 2, Error: "boom"}},
	}
	assert.Equal(t,
		"assertion failed: dispatched\n  expected: x\n  actual: y\n\ntrace:\n  [1] step 2 command h error=\"boom\"\n",
		err.Error())
}

func TestJSONEqual(t *testing.T) {
	assert.True(t, jsonEqual(float64(2), 2))
	assert.True(t, jsonEqual(map[string]any{"a": []any{float64(1)}}, map[string]any{"a": []int{1}}))
	assert.False(t, jsonEqual("2", 2))
}
