package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGolden_Echo(t *testing.T) {
	RunWithGolden(t, load(t, "echo"))
}

func TestNewSnapshot_DropsBodies(t *testing.T) {
	result, err := Run(load(t, "echo"))
	if err != nil {
		t.Fatal(err)
	}
	snap := NewSnapshot("echo", result)
	assert.Equal(t, []SentSnapshot{{To: "alice", Subject: "Echo"}}, snap.Sent)
	assert.Len(t, snap.Trace, 1)
}

func TestNewSnapshot_EmptyRun(t *testing.T) {
	snap := NewSnapshot("empty", newResult())
	assert.NotNil(t, snap.Sent)
	assert.Empty(t, snap.Trace)
}
