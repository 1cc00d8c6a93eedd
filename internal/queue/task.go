// Package queue is the durable work list of profile extraction tasks. Authors
// are de-duplicated by name for the lifetime of the queue file, tasks run one
// at a time, and failures are retried a bounded number of times.
package queue

import (
	"time"
)

// Status is the lifecycle state of a Task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// ReplyInfo describes the message a queued author was replying to.
type ReplyInfo struct {
	Username       string `json:"username"`
	MessageID      string `json:"messageId"`
	ContentPreview string `json:"contentPreview"`
}

// Task is one pending profile extraction.
type Task struct {
	ID          string     `json:"id"`
	ServerID    string     `json:"serverId,omitempty"`
	ChannelID   string     `json:"channelId"`
	MessageID   string     `json:"messageId"`
	AuthorName  string     `json:"authorName"`
	ChannelLink string     `json:"channelLink"`
	Status      Status     `json:"status"`
	AddedAt     time.Time  `json:"addedAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	RetryCount  int        `json:"retryCount,omitempty"`
	Error       string     `json:"error,omitempty"`
	ReplyInfo   *ReplyInfo `json:"replyInfo"`
}

// Stats counts tasks by status.
type Stats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Done       int `json:"done"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}

// Policy bounds retries.
type Policy struct {
	MaxRetries int
	Cooldown   time.Duration
}

// Outcome is the state a task moves to after one attempt.
type Outcome struct {
	Task Task
	// Requeue is set when the task goes back to pending.
	Requeue bool
	// Cooldown is how long the loop pauses before the next dequeue.
	Cooldown time.Duration
}

// Decide applies the result of one attempt to t.
func Decide(t Task, runErr error, p Policy, now time.Time) Outcome {
	if runErr == nil {
		t.Status = StatusDone
		t.CompletedAt = &now
		t.Error = ""
		return Outcome{Task: t}
	}

	t.RetryCount++
	t.Error = runErr.Error()
	if t.RetryCount >= p.MaxRetries {
		t.Status = StatusFailed
		t.CompletedAt = &now
		return Outcome{Task: t, Cooldown: p.Cooldown}
	}
	t.Status = StatusPending
	return Outcome{Task: t, Requeue: true, Cooldown: p.Cooldown}
}

// Interrupt returns t to pending without counting an attempt. It is used when
// the attempt was cut short by shutdown rather than by a failure of its own.
func Interrupt(t Task) Outcome {
	t.Status = StatusPending
	t.StartedAt = nil
	return Outcome{Task: t}
}
