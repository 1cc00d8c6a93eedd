package auth

import (
	"context"
	"time"

	"github.com/go-rod/rod"
)

// PageProber implements Prober on a rod page.
type PageProber struct {
	page    *rod.Page
	timeout time.Duration
}

// NewPageProber wraps page. timeout bounds navigation.
func NewPageProber(page *rod.Page, timeout time.Duration) *PageProber {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &PageProber{page: page, timeout: timeout}
}

// Navigate implements Prober.
func (p *PageProber) Navigate(ctx context.Context, url string) error {
	page := p.page.Context(ctx).Timeout(p.timeout)
	defer page.CancelTimeout()
	if err := page.Navigate(url); err != nil {
		return err
	}
	return page.WaitLoad()
}

// State implements Prober.
func (p *PageProber) State(ctx context.Context) (State, error) {
	res, err := p.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS: `
		() => ({
			url: window.location.href,
			title: document.title || '',
			sidebar: !!document.querySelector('nav[aria-label="Servers sidebar"], [data-list-id="guildsnav"]'),
			login: !!document.querySelector('input[name="email"], input[name="password"]'),
			challenge: !!document.querySelector('iframe[src*="captcha"], iframe[title*="challenge"], #challenge-form'),
		})
		`,
		ByValue: true,
	})
	if err != nil {
		return StateUnknown, err
	}
	v := res.Value
	return Classify(Signals{
		URL:          v.Get("url").Str(),
		Title:        v.Get("title").Str(),
		HasSidebar:   v.Get("sidebar").Bool(),
		HasLoginForm: v.Get("login").Bool(),
		HasChallenge: v.Get("challenge").Bool(),
	}), nil
}
