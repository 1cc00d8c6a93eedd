package queue

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDecide(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	policy := Policy{MaxRetries: 5, Cooldown: 3 * time.Second}
	boom := errors.New("profile panel did not open")

	tests := []struct {
		name        string
		task        Task
		err         error
		wantStatus  Status
		wantRetries int
		wantRequeue bool
		wantPause   time.Duration
	}{
		{"success", Task{Status: StatusProcessing, RetryCount: 2, Error: "old"}, nil, StatusDone, 2, false, 0},
		{"first failure", Task{Status: StatusProcessing}, boom, StatusPending, 1, true, 3 * time.Second},
		{"fourth failure", Task{Status: StatusProcessing, RetryCount: 3}, boom, StatusPending, 4, true, 3 * time.Second},
		{"fifth failure", Task{Status: StatusProcessing, RetryCount: 4}, boom, StatusFailed, 5, false, 3 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Decide(tt.task, tt.err, policy, now)
			assert.Equal(t, tt.wantStatus, out.Task.Status)
			assert.Equal(t, tt.wantRetries, out.Task.RetryCount)
			assert.Equal(t, tt.wantRequeue, out.Requeue)
			assert.Equal(t, tt.wantPause, out.Cooldown)
			if tt.err != nil {
				assert.Equal(t, tt.err.Error(), out.Task.Error)
			} else {
				assert.Empty(t, out.Task.Error)
			}
			if tt.wantStatus == StatusPending {
				assert.Nil(t, out.Task.CompletedAt)
			} else {
				assert.Equal(t, &now, out.Task.CompletedAt)
			}
		})
	}
}

func TestInterruptKeepsRetryCount(t *testing.T) {
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	out := Interrupt(Task{Status: StatusProcessing, RetryCount: 2, Error: "old", StartedAt: &started})

	assert.Equal(t, StatusPending, out.Task.Status)
	assert.Equal(t, 2, out.Task.RetryCount)
	assert.Equal(t, "old", out.Task.Error)
	assert.Nil(t, out.Task.StartedAt)
	assert.False(t, out.Requeue)
	assert.Zero(t, out.Cooldown)
}
