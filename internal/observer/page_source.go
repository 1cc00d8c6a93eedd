package observer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"dcwatch/internal/discord"
	"dcwatch/internal/logging"

	"github.com/go-rod/rod"
	"github.com/ysmood/gson"
)

// DefaultContainerTimeout bounds the wait for the message list to render.
const DefaultContainerTimeout = 30 * time.Second

var bindingSeq atomic.Int64

// PageSource reads a channel rendered in a rod page.
type PageSource struct {
	page    *rod.Page
	timeout time.Duration
}

// NewPageSource wraps page. A zero timeout uses DefaultContainerTimeout.
func NewPageSource(page *rod.Page, containerTimeout time.Duration) *PageSource {
	if containerTimeout <= 0 {
		containerTimeout = DefaultContainerTimeout
	}
	return &PageSource{page: page, timeout: containerTimeout}
}

// Snapshot implements Source.
func (s *PageSource) Snapshot(ctx context.Context) (string, error) {
	el, err := s.page.Context(ctx).Timeout(s.timeout).Element(discord.MessageListSelector)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", ErrNoContainer
		}
		return "", fmt.Errorf("find message list: %w", err)
	}
	html, err := el.HTML()
	if err != nil {
		return "", fmt.Errorf("read message list: %w", err)
	}
	return html, nil
}

// Watch implements Source. A CDP binding is exposed to the page and a
// MutationObserver on the message list calls it, at most once per 50ms.
func (s *PageSource) Watch(ctx context.Context, notify func()) (func() error, error) {
	binding := fmt.Sprintf("__dcwatchNotify%d", bindingSeq.Add(1))
	page := s.page.Context(ctx)

	stopBinding, err := page.Expose(binding, func(gson.JSON) (interface{}, error) {
		notify()
		return nil, nil
	})
	if err != nil {
		return nil, fmt.Errorf("expose %s: %w", binding, err)
	}

	res, err := page.Evaluate(&rod.EvalOptions{
		JS: `
		(binding, selector) => {
			const root = document.querySelector(selector);
			if (!root) return false;
			const key = '__dcwatchObserver_' + binding;
			if (window[key]) window[key].disconnect();
			let pending = false;
			const obs = new MutationObserver(() => {
				if (pending) return;
				pending = true;
				setTimeout(() => {
					pending = false;
					try { window[binding]('changed'); } catch (e) {}
				}, 50);
			});
			obs.observe(root, {
				childList: true,
				subtree: true,
				attributes: true,
				attributeFilter: ['id', 'class'],
			});
			window[key] = obs;
			return true;
		}
		`,
		JSArgs:       []interface{}{binding, discord.MessageListSelector},
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		_ = stopBinding()
		return nil, fmt.Errorf("install mutation observer: %w", err)
	}
	if !res.Value.Bool() {
		_ = stopBinding()
		return nil, ErrNoContainer
	}
	logging.ObserverDebug("mutation observer installed via %s", binding)

	return func() error {
		_, evalErr := s.page.Evaluate(&rod.EvalOptions{
			JS: `
			(binding) => {
				const key = '__dcwatchObserver_' + binding;
				if (window[key]) { window[key].disconnect(); delete window[key]; }
				return true;
			}
			`,
			JSArgs:  []interface{}{binding},
			ByValue: true,
		})
		return errors.Join(evalErr, stopBinding())
	}, nil
}
