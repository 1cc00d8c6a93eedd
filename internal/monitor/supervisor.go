// Package monitor runs one observer per configured channel and feeds every
// message author into the extraction queue.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"dcwatch/internal/discord"
	"dcwatch/internal/logging"
	"dcwatch/internal/observer"
	"dcwatch/internal/queue"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

// ErrNoChannels is returned by Start when no channel could be observed.
var ErrNoChannels = errors.New("monitor: no channel could be observed")

// Queue is the part of the task queue the supervisor drives.
type Queue interface {
	AddAuthor(channelID, messageID, authorName, channelLink string, reply *queue.ReplyInfo) bool
	Start()
	Stats() queue.Stats
	Close(ctx context.Context) error
}

// Options configures a Supervisor.
type Options struct {
	Opener Opener
	Queue  Queue
	// SettleDelay is the observer debounce.
	SettleDelay time.Duration
	// PollInterval rescans every channel; zero disables polling.
	PollInterval time.Duration
	// StatsInterval logs queue stats; zero disables the heartbeat.
	StatsInterval time.Duration
	// OpenConcurrency bounds how many channels are opened at once.
	OpenConcurrency int
	Clock           clockwork.Clock
}

type watched struct {
	link string
	ch   Channel
	obs  *observer.Observer
}

// Supervisor owns the channel observers.
type Supervisor struct {
	opts Options

	mu       sync.Mutex
	channels map[string]*watched
	sched    gocron.Scheduler
	started  bool
	ctx      context.Context
	cancel   context.CancelFunc
}

// New creates a Supervisor.
func New(opts Options) *Supervisor {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.OpenConcurrency <= 0 {
		opts.OpenConcurrency = 4
	}
	return &Supervisor{
		opts:     opts,
		channels: make(map[string]*watched),
	}
}

// Start opens every channel in links, continuing past failures, then starts
// the queue and the periodic jobs. It fails with ErrNoChannels when nothing
// could be opened.
func (s *Supervisor) Start(ctx context.Context, links []string) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Unlock()

	opened := s.openAll(ctx, normalize(links))
	if opened == 0 {
		s.cancel()
		return ErrNoChannels
	}

	sched, err := s.schedule()
	if err != nil {
		s.mu.Lock()
		list := s.drainLocked()
		s.mu.Unlock()
		_ = s.closeAll(list)
		s.cancel()
		return err
	}

	s.mu.Lock()
	s.sched = sched
	s.started = true
	s.mu.Unlock()

	s.opts.Queue.Start()
	logging.Observer("monitoring %d channel(s)", opened)
	return nil
}

func normalize(links []string) []string {
	out := make([]string, 0, len(links))
	for _, l := range links {
		l = strings.TrimSpace(l)
		if l != "" && !slices.Contains(out, l) {
			out = append(out, l)
		}
	}
	return out
}

// openAll opens links concurrently and returns how many are observed.
func (s *Supervisor) openAll(ctx context.Context, links []string) int {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.OpenConcurrency)

	var mu sync.Mutex
	opened := 0
	for _, link := range links {
		g.Go(func() error {
			if err := s.open(gctx, link); err != nil {
				logging.ObserverError("%s: %v", link, err)
				return nil
			}
			mu.Lock()
			opened++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return opened
}

func (s *Supervisor) open(ctx context.Context, link string) error {
	s.mu.Lock()
	if _, ok := s.channels[link]; ok {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	ch, err := s.opts.Opener.Open(ctx, link)
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}

	obs := observer.New(ch, observer.Options{
		Name:        link,
		SettleDelay: s.opts.SettleDelay,
		Clock:       s.opts.Clock,
	})
	enqueue := s.enqueuer(link)
	obs.OnNewMessage(enqueue)

	err = obs.Start(ctx, func(initial []discord.Message) {
		for _, msg := range initial {
			enqueue(msg)
		}
	})
	if err != nil {
		obs.Destroy()
		_ = ch.Close()
		return err
	}

	s.mu.Lock()
	s.channels[link] = &watched{link: link, ch: ch, obs: obs}
	s.mu.Unlock()
	return nil
}

func (s *Supervisor) enqueuer(link string) observer.Handler {
	return func(msg discord.Message) {
		var reply *queue.ReplyInfo
		if msg.IsReply && msg.ReplyTo != nil {
			reply = &queue.ReplyInfo{
				Username:       msg.ReplyTo.AuthorName,
				MessageID:      msg.ReplyTo.MessageID,
				ContentPreview: msg.ReplyTo.ContentPreview,
			}
		}
		s.opts.Queue.AddAuthor(msg.ChannelID, msg.MessageID, msg.Author, link, reply)
	}
}

func (s *Supervisor) schedule() (gocron.Scheduler, error) {
	if s.opts.PollInterval <= 0 && s.opts.StatsInterval <= 0 {
		return nil, nil
	}

	sched, err := gocron.NewScheduler(
		gocron.WithClock(s.opts.Clock),
		gocron.WithLogger(logging.NewSchedulerLogger(logging.CategoryObserver)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	if s.opts.StatsInterval > 0 {
		if _, err := sched.NewJob(
			gocron.DurationJob(s.opts.StatsInterval),
			gocron.NewTask(s.heartbeat),
			gocron.WithName("queue-stats"),
		); err != nil {
			_ = sched.Shutdown()
			return nil, fmt.Errorf("failed to schedule job %q: %w", "queue-stats", err)
		}
	}
	if s.opts.PollInterval > 0 {
		if _, err := sched.NewJob(
			gocron.DurationJob(s.opts.PollInterval),
			gocron.NewTask(s.poll),
			gocron.WithName("channel-poll"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		); err != nil {
			_ = sched.Shutdown()
			return nil, fmt.Errorf("failed to schedule job %q: %w", "channel-poll", err)
		}
	}

	sched.Start()
	return sched, nil
}

func (s *Supervisor) heartbeat() {
	st := s.opts.Queue.Stats()
	logging.Get(logging.CategoryQueue).With(
		"pending", st.Pending,
		"processing", st.Processing,
		"done", st.Done,
		"failed", st.Failed,
	).Info("queue stats: %d total, %d channel(s) observed", st.Total, len(s.Channels()))
}

// poll rescans every observed channel for messages the change detection
// missed.
func (s *Supervisor) poll() {
	s.mu.Lock()
	ctx := s.ctx
	list := make([]*watched, 0, len(s.channels))
	for _, w := range s.channels {
		list = append(list, w)
	}
	s.mu.Unlock()

	for _, w := range list {
		if ctx.Err() != nil {
			return
		}
		n, err := w.obs.Rescan(ctx)
		if err != nil {
			logging.ObserverDebug("%s: poll rescan: %v", w.link, err)
			continue
		}
		if n > 0 {
			logging.Observer("%s: poll found %d missed message(s)", w.link, n)
		}
	}
}

// Sync reconciles the observed channels with links after a config change:
// new links are opened and dropped ones are closed.
func (s *Supervisor) Sync(ctx context.Context, links []string) error {
	want := normalize(links)

	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	var removed []*watched
	for link, w := range s.channels {
		if !slices.Contains(want, link) {
			removed = append(removed, w)
			delete(s.channels, link)
		}
	}
	var added []string
	for _, link := range want {
		if _, ok := s.channels[link]; !ok {
			added = append(added, link)
		}
	}
	s.mu.Unlock()

	errs := s.closeAll(removed)
	for _, w := range removed {
		logging.Observer("%s: removed from config, observer closed", w.link)
	}

	if len(added) > 0 {
		n := s.openAll(ctx, added)
		if n < len(added) {
			errs = errors.Join(errs, fmt.Errorf("opened %d of %d new channel(s)", n, len(added)))
		}
	}
	return errs
}

func (s *Supervisor) closeAll(list []*watched) error {
	var g errgroup.Group
	for _, w := range list {
		g.Go(func() error {
			w.obs.Destroy()
			if err := w.ch.Close(); err != nil {
				return fmt.Errorf("close %s: %w", w.link, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *Supervisor) drainLocked() []*watched {
	list := make([]*watched, 0, len(s.channels))
	for _, w := range s.channels {
		list = append(list, w)
	}
	s.channels = make(map[string]*watched)
	return list
}

// Channels returns the observed channel links, sorted.
func (s *Supervisor) Channels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.channels))
	for link := range s.channels {
		out = append(out, link)
	}
	slices.Sort(out)
	return out
}

// Shutdown stops the periodic jobs, stops the queue and waits for the
// in-flight task, then destroys every observer and closes the channel pages.
// The browser itself belongs to the caller and is closed afterwards.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	sched := s.sched
	s.sched = nil
	wasStarted := s.started
	s.started = false
	list := s.drainLocked()
	cancel := s.cancel
	s.mu.Unlock()

	var errs []error
	if sched != nil {
		if err := sched.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown scheduler: %w", err))
		}
	}
	if wasStarted {
		if err := s.opts.Queue.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close queue: %w", err))
		}
	}
	if err := s.closeAll(list); err != nil {
		errs = append(errs, err)
	}
	if cancel != nil {
		cancel()
	}
	logging.Observer("supervisor stopped")
	return errors.Join(errs...)
}
