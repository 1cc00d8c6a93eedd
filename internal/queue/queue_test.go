package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu        sync.Mutex
	calls     []string
	active    int
	maxActive int
	releases  int
	fail      func(task Task, attempt int) error
	block     chan struct{}
}

func (r *fakeRunner) Run(ctx context.Context, task Task) error {
	r.mu.Lock()
	r.calls = append(r.calls, task.AuthorName)
	attempt := 0
	for _, c := range r.calls {
		if c == task.AuthorName {
			attempt++
		}
	}
	r.active++
	if r.active > r.maxActive {
		r.maxActive = r.active
	}
	block := r.block
	fail := r.fail
	r.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
		}
	}

	r.mu.Lock()
	r.active--
	r.mu.Unlock()
	if fail != nil {
		return fail(task, attempt)
	}
	return nil
}

func (r *fakeRunner) Release(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releases++
	return nil
}

func (r *fakeRunner) callList() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *fakeRunner) releaseCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.releases
}

type harness struct {
	q      *Queue
	runner *fakeRunner
	clock  *clockwork.FakeClock
	path   string
}

func newHarness(t *testing.T, runner *fakeRunner) *harness {
	t.Helper()
	path := filepath.Join(t.TempDir(), "author_queue.json")
	clock := clockwork.NewFakeClock()
	seq := 0
	q, err := New(Options{
		Store:  NewFileStore(path),
		Runner: runner,
		Clock:  clock,
		IDFunc: func() string {
			seq++
			return fmt.Sprintf("t-%d", seq)
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, q.Close(context.Background()))
	})
	return &harness{q: q, runner: runner, clock: clock, path: path}
}

func releasing(q *Queue) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.releasing
}

func cooling(q *Queue) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.coolingDown
}

func taskByAuthor(t *testing.T, q *Queue, author string) Task {
	t.Helper()
	for _, task := range q.Tasks() {
		if task.AuthorName == author {
			return task
		}
	}
	t.Fatalf("no task for %s", author)
	return Task{}
}

const link = "https://discord.com/channels/111111111111111111/222222222222222222"

func TestAddAuthorDeduplicatesByName(t *testing.T) {
	h := newHarness(t, &fakeRunner{})

	assert.True(t, h.q.AddAuthor("c1", "m1", "  Alice ", link, nil))
	assert.False(t, h.q.AddAuthor("c1", "m2", "Alice", link, nil))
	assert.False(t, h.q.AddAuthor("c1", "m3", "", link, nil))
	assert.False(t, h.q.AddAuthor("c1", "m4", "   ", link, nil))
	assert.True(t, h.q.AddAuthor("c1", "m5", "Bob", link, &ReplyInfo{Username: "Alice", MessageID: "m1"}))

	tasks := h.q.Tasks()
	require.Len(t, tasks, 2)
	assert.Equal(t, "Alice", tasks[0].AuthorName)
	assert.Equal(t, "111111111111111111", tasks[0].ServerID)
	assert.Equal(t, StatusPending, tasks[0].Status)
	assert.Equal(t, "Alice", tasks[1].ReplyInfo.Username)
	assert.True(t, h.q.Seen("Alice"))
	assert.Equal(t, Stats{Pending: 2, Total: 2}, h.q.Stats())
}

func TestAddAuthorDoesNotWriteSynchronously(t *testing.T) {
	h := newHarness(t, &fakeRunner{})

	h.q.AddAuthor("c1", "m1", "Alice", link, nil)
	h.q.AddAuthor("c1", "m2", "Bob", link, nil)
	_, err := os.Stat(h.path)
	assert.True(t, os.IsNotExist(err))

	h.clock.Advance(DefaultFlushDelay)
	require.Eventually(t, func() bool {
		doc, err := NewFileStore(h.path).Load()
		return err == nil && len(doc.Queue) == 2
	}, time.Second, 5*time.Millisecond)

	doc, err := NewFileStore(h.path).Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice", "Bob"}, doc.Seen)
}

func TestProcessesInOrderOneAtATime(t *testing.T) {
	h := newHarness(t, &fakeRunner{})
	for _, name := range []string{"Alice", "Bob", "Carol"} {
		h.q.AddAuthor("c1", "m-"+name, name, link, nil)
	}
	h.q.Start()
	h.q.Start()

	require.Eventually(t, func() bool { return h.q.Stats().Done == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"Alice", "Bob", "Carol"}, h.runner.callList())
	h.runner.mu.Lock()
	assert.Equal(t, 1, h.runner.maxActive)
	h.runner.mu.Unlock()
	require.Eventually(t, func() bool { return h.runner.releaseCount() == 1 }, time.Second, 5*time.Millisecond)

	task := taskByAuthor(t, h.q, "Bob")
	assert.NotNil(t, task.StartedAt)
	assert.NotNil(t, task.CompletedAt)
}

func TestFailingTaskRetriesThenFails(t *testing.T) {
	runner := &fakeRunner{fail: func(Task, int) error { return errors.New("author not found") }}
	h := newHarness(t, runner)
	h.q.AddAuthor("c1", "m1", "Alice", link, nil)
	h.q.Start()

	for attempt := 1; attempt <= DefaultMaxRetries; attempt++ {
		require.Eventually(t, func() bool {
			return len(runner.callList()) == attempt && cooling(h.q)
		}, time.Second, 5*time.Millisecond, "attempt %d", attempt)
		h.clock.Advance(DefaultCooldown)
	}

	require.Eventually(t, func() bool { return h.q.Stats().Failed == 1 }, time.Second, 5*time.Millisecond)
	task := taskByAuthor(t, h.q, "Alice")
	assert.Equal(t, DefaultMaxRetries, task.RetryCount)
	assert.Equal(t, "author not found", task.Error)
	assert.Len(t, runner.callList(), DefaultMaxRetries)
}

func TestRetriesThenSucceedsKeepsRetryCount(t *testing.T) {
	runner := &fakeRunner{fail: func(_ Task, attempt int) error {
		if attempt <= 4 {
			return errors.New("profile panel did not open")
		}
		return nil
	}}
	h := newHarness(t, runner)
	h.q.AddAuthor("c1", "m1", "Alice", link, nil)
	h.q.Start()

	for attempt := 1; attempt <= 4; attempt++ {
		require.Eventually(t, func() bool {
			return len(runner.callList()) == attempt && cooling(h.q)
		}, time.Second, 5*time.Millisecond, "attempt %d", attempt)
		assert.Equal(t, attempt, taskByAuthor(t, h.q, "Alice").RetryCount)
		h.clock.Advance(DefaultCooldown)
	}

	require.Eventually(t, func() bool { return h.q.Stats().Done == 1 }, time.Second, 5*time.Millisecond)
	task := taskByAuthor(t, h.q, "Alice")
	assert.Equal(t, StatusDone, task.Status)
	assert.Equal(t, 4, task.RetryCount)
	assert.Empty(t, task.Error)
	assert.NotNil(t, task.CompletedAt)
	assert.Len(t, runner.callList(), 5)
}

func TestConcurrentTriggersWhileProcessing(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	h := newHarness(t, runner)
	h.q.AddAuthor("c1", "m0", "Alice", link, nil)
	h.q.Start()
	require.Eventually(t, func() bool { return len(runner.callList()) == 1 }, time.Second, 5*time.Millisecond)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h.q.AddAuthor("c1", fmt.Sprintf("m%d", i+1), fmt.Sprintf("user-%02d", i), link, nil)
			h.q.Start()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, []string{"Alice"}, runner.callList())
	assert.Equal(t, 1, h.q.Stats().Processing)
	close(runner.block)

	require.Eventually(t, func() bool { return h.q.Stats().Done == n+1 }, 2*time.Second, 5*time.Millisecond)
	calls := runner.callList()
	require.Len(t, calls, n+1)
	unique := make(map[string]struct{}, len(calls))
	for _, c := range calls {
		unique[c] = struct{}{}
	}
	assert.Len(t, unique, n+1)
	runner.mu.Lock()
	assert.Equal(t, 1, runner.maxActive)
	runner.mu.Unlock()
}

// gatedReleaser records run and release events; Release blocks until gate closes.
type gatedReleaser struct {
	mu     sync.Mutex
	events []string
	gate   chan struct{}
}

func (r *gatedReleaser) Run(_ context.Context, task Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "run:"+task.AuthorName)
	return nil
}

func (r *gatedReleaser) Release(ctx context.Context) error {
	select {
	case <-r.gate:
	case <-ctx.Done():
		return ctx.Err()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "release")
	return nil
}

func (r *gatedReleaser) eventList() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func TestNextTaskWaitsForRelease(t *testing.T) {
	r := &gatedReleaser{gate: make(chan struct{})}
	q, err := New(Options{
		Store:  NewFileStore(filepath.Join(t.TempDir(), "author_queue.json")),
		Runner: r,
		Clock:  clockwork.NewFakeClock(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, q.Close(context.Background())) })

	q.AddAuthor("c1", "m1", "Alice", link, nil)
	q.Start()
	require.Eventually(t, func() bool { return releasing(q) }, time.Second, 5*time.Millisecond)

	q.AddAuthor("c1", "m2", "Bob", link, nil)
	assert.Never(t, func() bool { return len(r.eventList()) > 1 }, 50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, StatusPending, taskByAuthor(t, q, "Bob").Status)

	close(r.gate)
	require.Eventually(t, func() bool { return q.Stats().Done == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(r.eventList()) == 4 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"run:Alice", "release", "run:Bob", "release"}, r.eventList())
}

func TestCooldownBlocksDequeueAndRetriedTaskGoesLast(t *testing.T) {
	runner := &fakeRunner{fail: func(task Task, attempt int) error {
		if task.AuthorName == "Alice" && attempt == 1 {
			return errors.New("profile timeout")
		}
		return nil
	}}
	h := newHarness(t, runner)
	h.q.AddAuthor("c1", "m1", "Alice", link, nil)
	h.q.AddAuthor("c1", "m2", "Bob", link, nil)
	h.q.Start()

	require.Eventually(t, func() bool { return cooling(h.q) }, time.Second, 5*time.Millisecond)
	h.q.AddAuthor("c1", "m3", "Carol", link, nil)
	assert.Never(t, func() bool { return len(runner.callList()) > 1 }, 50*time.Millisecond, 5*time.Millisecond)

	h.clock.Advance(DefaultCooldown)
	require.Eventually(t, func() bool { return h.q.Stats().Done == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"Alice", "Bob", "Alice", "Carol"}, runner.callList())
	assert.Equal(t, 1, taskByAuthor(t, h.q, "Alice").RetryCount)
}

func TestStopLetsInflightTaskFinish(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	h := newHarness(t, runner)
	h.q.AddAuthor("c1", "m1", "Alice", link, nil)
	h.q.AddAuthor("c1", "m2", "Bob", link, nil)
	h.q.Start()

	require.Eventually(t, func() bool { return len(runner.callList()) == 1 }, time.Second, 5*time.Millisecond)
	h.q.Stop()
	h.q.Stop()
	assert.False(t, h.q.Running())
	close(runner.block)

	require.Eventually(t, func() bool { return h.q.Stats().Done == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return runner.releaseCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"Alice"}, runner.callList())
	assert.Equal(t, StatusPending, taskByAuthor(t, h.q, "Bob").Status)
}

func TestCloseTimeoutLeavesInterruptedTaskPending(t *testing.T) {
	path := filepath.Join(t.TempDir(), "author_queue.json")
	started := make(chan struct{})
	runner := RunnerFunc(func(ctx context.Context, _ Task) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	q, err := New(Options{Store: NewFileStore(path), Runner: runner, Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)
	q.AddAuthor("c1", "m1", "Alice", link, nil)
	q.Start()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, q.Close(ctx), context.Canceled)

	require.Eventually(t, func() bool {
		doc, err := NewFileStore(path).Load()
		return err == nil && len(doc.Queue) == 1 && doc.Queue[0].Status == StatusPending
	}, time.Second, 5*time.Millisecond)

	task := taskByAuthor(t, q, "Alice")
	assert.Equal(t, StatusPending, task.Status)
	assert.Zero(t, task.RetryCount)
	assert.Empty(t, task.Error)
	assert.Nil(t, task.StartedAt)
	assert.False(t, cooling(q))

	doc, err := NewFileStore(path).Load()
	require.NoError(t, err)
	assert.Zero(t, doc.Queue[0].RetryCount)
	assert.Empty(t, doc.Queue[0].Error)
}

func TestRestartDemotesProcessingTasks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "author_queue.json")
	legacy := `{
  "queue": [
    {"id": "a", "channelId": "c1", "messageId": "m1", "authorName": "Alice", "channelLink": "x", "status": "processing", "addedAt": "2024-05-01T10:00:00.000Z"},
    {"id": "b", "channelId": "c1", "messageId": "m2", "authorName": "Bob", "channelLink": "x", "status": "done", "addedAt": "2024-05-01T10:00:01.000Z"}
  ],
  "seen": ["Alice", "Bob"]
}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	q, err := New(Options{Store: NewFileStore(path), Runner: &fakeRunner{}, Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)

	assert.Equal(t, Stats{Pending: 1, Done: 1, Total: 2}, q.Stats())
	assert.False(t, q.AddAuthor("c1", "m3", "Alice", "x", nil))
	require.NoError(t, q.Close(context.Background()))

	doc, err := NewFileStore(path).Load()
	require.NoError(t, err)
	assert.Equal(t, DocumentVersion, doc.Version)
	assert.Equal(t, StatusPending, doc.Queue[0].Status)
}

func TestRequeueFailed(t *testing.T) {
	h := newHarness(t, &fakeRunner{})
	h.q.AddAuthor("c1", "m1", "Alice", link, nil)
	h.q.mu.Lock()
	h.q.tasks[0].Status = StatusFailed
	h.q.tasks[0].RetryCount = 5
	h.q.tasks[0].Error = "boom"
	h.q.mu.Unlock()

	assert.Equal(t, 1, h.q.RequeueFailed())
	assert.Zero(t, h.q.RequeueFailed())

	task := taskByAuthor(t, h.q, "Alice")
	assert.Equal(t, StatusPending, task.Status)
	assert.Zero(t, task.RetryCount)
	assert.Empty(t, task.Error)
}

func TestCloseFlushesPendingWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "author_queue.json")
	q, err := New(Options{Store: NewFileStore(path), Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)
	q.AddAuthor("c1", "m1", "Alice", link, nil)
	require.NoError(t, q.Close(context.Background()))

	doc, err := NewFileStore(path).Load()
	require.NoError(t, err)
	require.Len(t, doc.Queue, 1)
	assert.Equal(t, "Alice", doc.Queue[0].AuthorName)
}
