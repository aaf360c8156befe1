package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gopkg.in/yaml.v3"
)

func TestTaskPriority_Ordering(t *testing.T) {
	assert.True(t, PriorityLow < PriorityNormal)
	assert.True(t, PriorityNormal < PriorityHigh)
	assert.True(t, PriorityHigh < PriorityUrgent)
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected TaskPriority
		wantErr  bool
	}{
		{"low", "low", PriorityLow, false},
		{"normal", "normal", PriorityNormal, false},
		{"high", "high", PriorityHigh, false},
		{"urgent", "urgent", PriorityUrgent, false},
		{"empty defaults to normal", "", PriorityNormal, false},
		{"unknown rejected", "critical", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePriority(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, p)
		})
	}
}

func TestTaskPriority_YAMLRoundTrip(t *testing.T) {
	var p TaskPriority
	err := yaml.Unmarshal([]byte(`urgent`), &p)
	assert.NoError(t, err)
	assert.Equal(t, PriorityUrgent, p)

	out, err := yaml.Marshal(PriorityHigh)
	assert.NoError(t, err)
	assert.Equal(t, "high\n", string(out))

	err = yaml.Unmarshal([]byte(`whenever`), &p)
	assert.Error(t, err)
}

func TestTaskState_IsTerminal(t *testing.T) {
	assert.False(t, TaskStatePending.IsTerminal())
	assert.False(t, TaskStateRunning.IsTerminal())
	assert.True(t, TaskStateSucceeded.IsTerminal())
	assert.True(t, TaskStateFailed.IsTerminal())
	assert.True(t, TaskStateCancelled.IsTerminal())
}

func TestTaskState_CanTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    TaskState
		to      TaskState
		allowed bool
	}{
		{"pending to running", TaskStatePending, TaskStateRunning, true},
		{"pending to cancelled", TaskStatePending, TaskStateCancelled, true},
		{"pending to succeeded is illegal", TaskStatePending, TaskStateSucceeded, false},
		{"running to succeeded", TaskStateRunning, TaskStateSucceeded, true},
		{"running to failed", TaskStateRunning, TaskStateFailed, true},
		{"running to pending is the retry path", TaskStateRunning, TaskStatePending, true},
		{"running to cancelled is illegal", TaskStateRunning, TaskStateCancelled, false},
		{"succeeded is absorbing", TaskStateSucceeded, TaskStatePending, false},
		{"failed is absorbing", TaskStateFailed, TaskStateRunning, false},
		{"cancelled is absorbing", TaskStateCancelled, TaskStateRunning, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to))
		})
	}
}
