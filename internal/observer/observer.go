// Package observer turns a live channel view into a stream of distinct
// messages. Change notifications from the page arm a settle timer; when it
// fires the message list is re-read and every message not seen before is
// delivered once to the registered handlers.
package observer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dcwatch/internal/discord"
	"dcwatch/internal/logging"

	"github.com/jonboulle/clockwork"
)

// ErrNoContainer is returned when no message list is rendered on the page.
var ErrNoContainer = errors.New("observer: message list container not found")

// DefaultSettleDelay lets the client finish its burst of DOM writes before a rescan.
const DefaultSettleDelay = 500 * time.Millisecond

// Source is the DOM boundary of an Observer.
type Source interface {
	// Snapshot returns the outer HTML of the message list or ErrNoContainer.
	Snapshot(ctx context.Context) (string, error)
	// Watch installs change detection on the message list; notify may be
	// called from any goroutine.
	Watch(ctx context.Context, notify func()) (stop func() error, err error)
}

// Handler receives one newly seen message.
type Handler func(msg discord.Message)

// Options configures an Observer.
type Options struct {
	Name        string
	SettleDelay time.Duration
	Clock       clockwork.Clock
}

type handlerEntry struct {
	id int
	fn Handler
}

// Observer watches one channel.
type Observer struct {
	src   Source
	name  string
	delay time.Duration
	clock clockwork.Clock

	mu         sync.Mutex
	handlers   []handlerEntry
	nextID     int
	seen       map[string]struct{}
	monitoring bool
	stopWatch  func() error
	timer      clockwork.Timer
	armed      bool
	ctx        context.Context
	cancel     context.CancelFunc

	// scanMu serializes rescans so the seen-set diff is never raced.
	scanMu sync.Mutex
}

// New creates an Observer over src.
func New(src Source, opts Options) *Observer {
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Observer{
		src:   src,
		name:  opts.Name,
		delay: opts.SettleDelay,
		clock: opts.Clock,
		seen:  make(map[string]struct{}),
	}
}

// Start scans the rendered messages once, records all of them as seen, hands
// the whole batch to onStart and then installs change detection. Calling
// Start while monitoring is a no-op.
func (o *Observer) Start(ctx context.Context, onStart func([]discord.Message)) error {
	o.mu.Lock()
	if o.monitoring {
		o.mu.Unlock()
		return nil
	}
	o.mu.Unlock()

	html, err := o.src.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("initial scan of %s: %w", o.name, err)
	}
	initial, err := discord.ParseMessages(html)
	if err != nil {
		return fmt.Errorf("initial scan of %s: %w", o.name, err)
	}

	o.mu.Lock()
	for _, msg := range initial {
		o.seen[msg.MessageID] = struct{}{}
	}
	o.mu.Unlock()

	logging.Observer("%s: initial scan found %d messages", o.name, len(initial))
	if onStart != nil {
		o.safeCall("onStart", func() { onStart(initial) })
	}

	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop, err := o.src.Watch(watchCtx, o.notify)
	if err != nil {
		cancel()
		return fmt.Errorf("watch %s: %w", o.name, err)
	}

	o.mu.Lock()
	o.monitoring = true
	o.stopWatch = stop
	o.ctx = watchCtx
	o.cancel = cancel
	o.mu.Unlock()
	return nil
}

// Subscribe registers h and returns a function that removes it.
func (o *Observer) Subscribe(h Handler) (unsubscribe func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nextID++
	id := o.nextID
	o.handlers = append(o.handlers, handlerEntry{id: id, fn: h})
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		for i, e := range o.handlers {
			if e.id == id {
				o.handlers = append(o.handlers[:i:i], o.handlers[i+1:]...)
				return
			}
		}
	}
}

// OnNewMessage registers h for the lifetime of the Observer.
func (o *Observer) OnNewMessage(h Handler) {
	o.Subscribe(h)
}

// Monitoring reports whether change detection is installed.
func (o *Observer) Monitoring() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.monitoring
}

// Seen returns the number of distinct message ids recorded.
func (o *Observer) Seen() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.seen)
}

// notify arms the settle timer. Notifications arriving while it is armed are
// folded into the pending rescan.
func (o *Observer) notify() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.monitoring || o.armed {
		return
	}
	o.armed = true
	o.timer = o.clock.AfterFunc(o.delay, o.fire)
}

func (o *Observer) fire() {
	o.mu.Lock()
	o.armed = false
	ctx := o.ctx
	monitoring := o.monitoring
	o.mu.Unlock()
	if !monitoring {
		return
	}
	if _, err := o.Rescan(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.ObserverError("%s: rescan failed: %v", o.name, err)
	}
}

// Rescan re-reads the message list and delivers every unseen message. It
// returns the number of messages delivered.
func (o *Observer) Rescan(ctx context.Context) (int, error) {
	o.scanMu.Lock()
	defer o.scanMu.Unlock()

	html, err := o.src.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	msgs, err := discord.ParseMessages(html)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, msg := range msgs {
		o.mu.Lock()
		if _, ok := o.seen[msg.MessageID]; ok {
			o.mu.Unlock()
			continue
		}
		o.seen[msg.MessageID] = struct{}{}
		handlers := make([]handlerEntry, len(o.handlers))
		copy(handlers, o.handlers)
		o.mu.Unlock()

		delivered++
		logging.ObserverDebug("%s: new message %s by %s", o.name, msg.MessageID, msg.Author)
		for _, h := range handlers {
			msg := msg
			o.safeCall("handler", func() { h.fn(msg) })
		}
	}
	return delivered, nil
}

func (o *Observer) safeCall(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logging.ObserverError("%s: %s panicked: %v", o.name, what, r)
		}
	}()
	fn()
}

// Stop disconnects change detection. Handlers and the seen-set are kept, so
// a later Start resumes without redelivering. Idempotent.
func (o *Observer) Stop() {
	o.mu.Lock()
	if !o.monitoring {
		o.mu.Unlock()
		return
	}
	o.monitoring = false
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
	o.armed = false
	stop := o.stopWatch
	cancel := o.cancel
	o.stopWatch = nil
	o.cancel = nil
	o.mu.Unlock()

	if stop != nil {
		if err := stop(); err != nil {
			logging.ObserverDebug("%s: stop watch: %v", o.name, err)
		}
	}
	if cancel != nil {
		cancel()
	}
	logging.Observer("%s: monitoring stopped", o.name)
}

// Destroy stops the Observer and clears its handlers and seen-set. Idempotent.
func (o *Observer) Destroy() {
	o.Stop()
	o.mu.Lock()
	defer o.mu.Unlock()
	o.handlers = nil
	o.seen = make(map[string]struct{})
}
