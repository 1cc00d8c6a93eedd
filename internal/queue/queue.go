package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"dcwatch/internal/discord"
	"dcwatch/internal/logging"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Defaults for Options.
const (
	DefaultMaxRetries = 5
	DefaultCooldown   = 3 * time.Second
	DefaultFlushDelay = 250 * time.Millisecond
)

// Runner executes the body of one task.
type Runner interface {
	Run(ctx context.Context, task Task) error
}

// Releaser is implemented by runners that hold a resource between tasks.
// Release is called when the loop goes idle or stops.
type Releaser interface {
	Release(ctx context.Context) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, task Task) error

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, task Task) error { return f(ctx, task) }

// Options configures a Queue.
type Options struct {
	Store      Store
	Runner     Runner
	MaxRetries int
	Cooldown   time.Duration
	FlushDelay time.Duration
	Clock      clockwork.Clock
	IDFunc     func() string
}

// Queue is a persistent FIFO of extraction tasks processed one at a time.
type Queue struct {
	store    Store
	runner   Runner
	releaser Releaser
	policy   Policy
	delay    time.Duration
	clock    clockwork.Clock
	newID    func() string

	mu          sync.Mutex
	tasks       []*Task
	seen        map[string]struct{}
	seenOrder   []string
	running     bool
	processing  bool
	coolingDown bool
	held        bool
	releasing   bool
	closed      bool
	cooldown    clockwork.Timer
	flushTimer  clockwork.Timer
	gen         uint64
	savedGen    uint64

	// writeMu serializes store writes.
	writeMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New loads the queue from opts.Store. Tasks left in processing by a previous
// run are demoted to pending.
func New(opts Options) (*Queue, error) {
	if opts.Store == nil {
		return nil, errors.New("queue: store required")
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.FlushDelay <= 0 {
		opts.FlushDelay = DefaultFlushDelay
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.IDFunc == nil {
		opts.IDFunc = uuid.NewString
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		store:  opts.Store,
		runner: opts.Runner,
		policy: Policy{MaxRetries: opts.MaxRetries, Cooldown: opts.Cooldown},
		delay:  opts.FlushDelay,
		clock:  opts.Clock,
		newID:  opts.IDFunc,
		seen:   make(map[string]struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	if r, ok := opts.Runner.(Releaser); ok {
		q.releaser = r
	}
	if err := q.load(); err != nil {
		cancel()
		return nil, err
	}
	return q, nil
}

func (q *Queue) load() error {
	doc, err := q.store.Load()
	if err != nil {
		return fmt.Errorf("load queue: %w", err)
	}

	demoted := 0
	for i := range doc.Queue {
		t := doc.Queue[i]
		if t.Status == StatusProcessing {
			t.Status = StatusPending
			t.StartedAt = nil
			demoted++
		}
		q.tasks = append(q.tasks, &t)
	}
	for _, name := range doc.Seen {
		q.markSeenLocked(name)
	}
	// Older files may hold tasks whose author never reached the seen list.
	for _, t := range q.tasks {
		q.markSeenLocked(t.AuthorName)
	}

	if demoted > 0 || doc.Version != DocumentVersion {
		q.gen++
	}
	logging.Queue("queue loaded: %d tasks, %d unique users seen, %d recovered from processing", len(q.tasks), len(q.seen), demoted)
	return nil
}

func (q *Queue) markSeenLocked(name string) {
	if name == "" {
		return
	}
	if _, ok := q.seen[name]; ok {
		return
	}
	q.seen[name] = struct{}{}
	q.seenOrder = append(q.seenOrder, name)
}

// AddAuthor enqueues a task for authorName unless the name is blank or was
// seen before. It reports whether a task was added. Persistence is deferred
// to a debounced flush and processing is started on another goroutine, so
// AddAuthor never blocks on I/O.
func (q *Queue) AddAuthor(channelID, messageID, authorName, channelLink string, reply *ReplyInfo) bool {
	name := strings.TrimSpace(authorName)
	if name == "" {
		return false
	}

	q.mu.Lock()
	if _, ok := q.seen[name]; ok {
		q.mu.Unlock()
		logging.QueueDebug("skipping duplicate user: %s", name)
		return false
	}

	task := &Task{
		ID:          q.newID(),
		ChannelID:   channelID,
		MessageID:   messageID,
		AuthorName:  name,
		ChannelLink: channelLink,
		Status:      StatusPending,
		AddedAt:     q.clock.Now().UTC(),
		ReplyInfo:   reply,
	}
	if link, err := discord.ParseChannelLink(channelLink); err == nil {
		task.ServerID = link.ServerID
	}
	q.tasks = append(q.tasks, task)
	q.markSeenLocked(name)
	q.gen++
	q.scheduleFlushLocked()
	q.mu.Unlock()

	l := logging.Get(logging.CategoryQueue).With("task", task.ID, "author", name)
	if reply != nil {
		l.Info("task added (reply to @%s, message %s)", reply.Username, messageID)
	} else {
		l.Info("task added (message %s)", messageID)
	}

	q.kick()
	return true
}

// Start enables processing. Idempotent.
func (q *Queue) Start() {
	q.mu.Lock()
	if q.running || q.closed {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.mu.Unlock()

	logging.Queue("queue worker started")
	q.kick()
}

// Stop disables processing. A task already running finishes on its own but
// nothing new is dequeued, and the held page resource is released once the
// loop is idle. Idempotent.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	q.coolingDown = false
	q.stopTimerLocked(&q.cooldown)
	q.mu.Unlock()

	logging.Queue("queue worker stopped")
	q.kick()
}

// Running reports whether processing is enabled.
func (q *Queue) Running() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// kick dequeues the next pending task unless a task is in flight, the loop is
// cooling down after a failure, the runner is still releasing its page, or
// processing is stopped. The task body runs on its own goroutine.
func (q *Queue) kick() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.processing || q.coolingDown || q.releasing {
		return
	}
	if !q.running {
		q.releaseLocked()
		return
	}

	var next *Task
	for _, t := range q.tasks {
		if t.Status == StatusPending {
			next = t
			break
		}
	}
	if next == nil {
		q.releaseLocked()
		return
	}

	now := q.clock.Now().UTC()
	next.Status = StatusProcessing
	next.StartedAt = &now
	q.gen++
	q.processing = true
	q.held = true

	task := *next
	q.wg.Add(1)
	go q.run(task)
}

func (q *Queue) releaseLocked() {
	if !q.held || q.releaser == nil {
		return
	}
	q.held = false
	q.releasing = true
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		if err := q.releaser.Release(q.ctx); err != nil {
			logging.QueueWarn("release page: %v", err)
		}
		q.mu.Lock()
		q.releasing = false
		resume := q.running && !q.closed
		q.mu.Unlock()
		// Tasks added while the page was closing wait for Release to return.
		if resume {
			q.kick()
		}
	}()
}

func (q *Queue) run(task Task) {
	defer q.wg.Done()

	if err := q.Flush(); err != nil {
		logging.QueueError("persist before task %s: %v", task.ID, err)
	}

	l := logging.Get(logging.CategoryQueue).With("task", task.ID, "author", task.AuthorName, "retry", task.RetryCount)
	l.Info("processing user")

	runErr := q.execute(task)
	interrupted := runErr != nil && q.ctx.Err() != nil
	var out Outcome
	if interrupted {
		out = Interrupt(task)
	} else {
		out = Decide(task, runErr, q.policy, q.clock.Now().UTC())
	}

	q.mu.Lock()
	q.replaceLocked(out)
	q.processing = false
	q.gen++
	if runErr != nil && q.running && !interrupted {
		q.coolingDown = true
		q.cooldown = q.afterFuncLocked(out.Cooldown, q.endCooldown)
	}
	q.mu.Unlock()

	switch {
	case interrupted:
		l.Warn("task interrupted by shutdown, left pending: %v", runErr)
	case out.Task.Status == StatusDone:
		l.Info("task done")
	case out.Task.Status == StatusFailed:
		l.Error("task permanently failed after %d attempts: %s", out.Task.RetryCount, out.Task.Error)
	default:
		l.Warn("task failed, will retry (%d/%d): %s", out.Task.RetryCount, q.policy.MaxRetries, out.Task.Error)
	}

	if err := q.Flush(); err != nil {
		logging.QueueError("persist after task %s: %v", task.ID, err)
	}
	q.kick()
}

func (q *Queue) execute(task Task) (err error) {
	if q.runner == nil {
		return errors.New("queue: no runner configured")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return q.runner.Run(q.ctx, task)
}

// replaceLocked stores the new task state. Retried tasks move behind every
// other pending task.
func (q *Queue) replaceLocked(out Outcome) {
	idx := -1
	for i, t := range q.tasks {
		if t.ID == out.Task.ID {
			idx = i
			break
		}
	}
	updated := out.Task
	if idx < 0 {
		q.tasks = append(q.tasks, &updated)
		return
	}
	if !out.Requeue {
		q.tasks[idx] = &updated
		return
	}
	q.tasks = append(q.tasks[:idx], q.tasks[idx+1:]...)
	q.tasks = append(q.tasks, &updated)
}

func (q *Queue) endCooldown() {
	q.mu.Lock()
	q.coolingDown = false
	q.cooldown = nil
	q.mu.Unlock()
	q.kick()
}

// afterFuncLocked arms a clock timer whose callback is tracked by wg.
func (q *Queue) afterFuncLocked(d time.Duration, f func()) clockwork.Timer {
	q.wg.Add(1)
	return q.clock.AfterFunc(d, func() {
		defer q.wg.Done()
		f()
	})
}

func (q *Queue) stopTimerLocked(t *clockwork.Timer) {
	if *t == nil {
		return
	}
	if (*t).Stop() {
		q.wg.Done()
	}
	*t = nil
}

func (q *Queue) scheduleFlushLocked() {
	if q.closed || q.flushTimer != nil {
		return
	}
	q.flushTimer = q.afterFuncLocked(q.delay, func() {
		q.mu.Lock()
		q.flushTimer = nil
		q.mu.Unlock()
		if err := q.Flush(); err != nil {
			logging.QueueError("flush queue: %v", err)
		}
	})
}

// Flush writes the queue if it changed since the last successful write.
func (q *Queue) Flush() error {
	q.writeMu.Lock()
	defer q.writeMu.Unlock()

	q.mu.Lock()
	if q.gen == q.savedGen {
		q.mu.Unlock()
		return nil
	}
	gen := q.gen
	doc := q.documentLocked()
	q.mu.Unlock()

	if err := q.store.Save(doc); err != nil {
		return fmt.Errorf("save queue: %w", err)
	}

	q.mu.Lock()
	if gen > q.savedGen {
		q.savedGen = gen
	}
	q.mu.Unlock()
	return nil
}

func (q *Queue) documentLocked() Document {
	doc := Document{
		Version: DocumentVersion,
		Queue:   make([]Task, 0, len(q.tasks)),
		Seen:    append([]string(nil), q.seenOrder...),
	}
	for _, t := range q.tasks {
		doc.Queue = append(doc.Queue, *t)
	}
	return doc
}

// Close stops processing, waits for the in-flight task and writes the queue.
// If ctx expires first the running task's context is cancelled.
func (q *Queue) Close(ctx context.Context) error {
	q.Stop()

	q.mu.Lock()
	q.closed = true
	q.stopTimerLocked(&q.flushTimer)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return q.Flush()
	case <-ctx.Done():
		q.cancel()
		return errors.Join(ctx.Err(), q.Flush())
	}
}

// Stats counts tasks by status.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	var s Stats
	for _, t := range q.tasks {
		switch t.Status {
		case StatusPending:
			s.Pending++
		case StatusProcessing:
			s.Processing++
		case StatusDone:
			s.Done++
		case StatusFailed:
			s.Failed++
		}
	}
	s.Total = len(q.tasks)
	return s
}

// Tasks returns a copy of every task in queue order.
func (q *Queue) Tasks() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.documentLocked().Queue
}

// Seen reports whether authorName was queued before.
func (q *Queue) Seen(authorName string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.seen[strings.TrimSpace(authorName)]
	return ok
}

// RequeueFailed moves every failed task back to pending with a fresh retry
// budget and returns how many were moved.
func (q *Queue) RequeueFailed() int {
	q.mu.Lock()
	n := 0
	for _, t := range q.tasks {
		if t.Status != StatusFailed {
			continue
		}
		t.Status = StatusPending
		t.RetryCount = 0
		t.Error = ""
		t.StartedAt = nil
		t.CompletedAt = nil
		n++
	}
	if n > 0 {
		q.gen++
		q.scheduleFlushLocked()
	}
	q.mu.Unlock()

	if n > 0 {
		logging.Queue("requeued %d failed tasks", n)
		q.kick()
	}
	return n
}
