package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskStateCanMoveTo(t *testing.T) {
	tests := []struct {
		from, to TaskState
		want     bool
	}{
		{StateUnprocessed, StateProcessing, true},
		{StateUnprocessed, StateFailed, false},
		{StateUnprocessed, StateCompleted, false},
		{StateUnprocessed, StateUnprocessed, true},
		{StateProcessing, StateProcessing, true},
		{StateProcessing, StateCompleted, true},
		{StateProcessing, StateFailed, true},
		{StateProcessing, StateUnprocessed, false},
		{StateCompleted, StateProcessing, false},
		{StateCompleted, StateFailed, false},
		{StateFailed, StateCompleted, false},
		{StateFailed, StateFailed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanMoveTo(tt.to))
		})
	}
}

func TestSnapshotCloneIsDeep(t *testing.T) {
	orig := Snapshot{
		Tasks: []SearchTask{{Query: "q", Sources: []Source{{URL: "a"}}}},
	}
	cp := orig.Clone()
	cp.Tasks[0].Sources[0].URL = "b"
	cp.Tasks[0].Learning = "changed"

	assert.Equal(t, "a", orig.Tasks[0].Sources[0].URL)
	assert.Empty(t, orig.Tasks[0].Learning)
}
