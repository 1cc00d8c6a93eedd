// Package auth checks that the persistent browser profile holds a logged-in
// Discord session. It never enters credentials; when the session is missing
// it either waits for a person to log in through a visible window or fails.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dcwatch/internal/discord"
	"dcwatch/internal/logging"

	"github.com/codeGROOVE-dev/retry"
	"github.com/jonboulle/clockwork"
)

var (
	// ErrNotAuthenticated means the profile has no usable session.
	ErrNotAuthenticated = errors.New("auth: discord session is not logged in")
	// ErrCaptchaRequired means a challenge page blocks the client.
	ErrCaptchaRequired = errors.New("auth: captcha or challenge page detected")
)

// State classifies what the page currently shows.
type State string

const (
	StateUnknown       State = "unknown"
	StateAuthenticated State = "authenticated"
	StateLogin         State = "login"
	StateCaptcha       State = "captcha"
)

// Signals are the page observations a State is derived from.
type Signals struct {
	URL          string
	Title        string
	HasSidebar   bool
	HasLoginForm bool
	HasChallenge bool
}

// Classify derives the page state from s.
func Classify(s Signals) State {
	url := strings.ToLower(s.URL)
	switch {
	case s.HasChallenge || strings.Contains(s.Title, "Robot") || strings.Contains(url, "captcha") || strings.Contains(url, "/cdn-cgi/"):
		return StateCaptcha
	case s.HasSidebar && (strings.Contains(url, "/app") || strings.Contains(url, "/channels")):
		return StateAuthenticated
	case s.HasLoginForm || strings.Contains(url, "/login"):
		return StateLogin
	default:
		return StateUnknown
	}
}

// Prober is the page surface used for the check.
type Prober interface {
	Navigate(ctx context.Context, url string) error
	State(ctx context.Context) (State, error)
}

// Options configures EnsureAuthenticated.
type Options struct {
	AppURL string
	// Attempts bounds how often an unsettled page is probed again.
	Attempts uint
	Delay    time.Duration
	// ManualLogin waits for a person to log in through the visible window.
	ManualLogin  bool
	LoginTimeout time.Duration
	PollInterval time.Duration
	Clock        clockwork.Clock
}

func (o *Options) defaults() {
	if o.AppURL == "" {
		o.AppURL = discord.AppURL
	}
	if o.Attempts == 0 {
		o.Attempts = 5
	}
	if o.Delay <= 0 {
		o.Delay = 2 * time.Second
	}
	if o.LoginTimeout <= 0 {
		o.LoginTimeout = 5 * time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
}

type stateError struct{ state State }

func (e *stateError) Error() string { return fmt.Sprintf("page state %s", e.state) }

// EnsureAuthenticated loads the app and returns nil once the session is
// logged in.
func EnsureAuthenticated(ctx context.Context, p Prober, opts Options) error {
	opts.defaults()

	var state State
	err := retry.Do(
		func() error {
			if err := p.Navigate(ctx, opts.AppURL); err != nil {
				return fmt.Errorf("open %s: %w", opts.AppURL, err)
			}
			s, err := p.State(ctx)
			if err != nil {
				return err
			}
			state = s
			if s == StateUnknown {
				return &stateError{state: s}
			}
			return nil
		},
		retry.Attempts(opts.Attempts),
		retry.Delay(opts.Delay),
		retry.MaxDelay(4*opts.Delay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			logging.AuthWarn("session probe %d: %v", n+1, err)
		}),
	)
	if err != nil && state != StateUnknown {
		return fmt.Errorf("check session: %w", err)
	}

	switch state {
	case StateAuthenticated:
		logging.Auth("session is logged in")
		return nil
	case StateCaptcha:
		if !opts.ManualLogin {
			return ErrCaptchaRequired
		}
	case StateLogin, StateUnknown:
		if !opts.ManualLogin {
			return ErrNotAuthenticated
		}
	}

	logging.Auth("waiting up to %v for manual login (page state %s)", opts.LoginTimeout, state)
	return waitForLogin(ctx, p, opts)
}

func waitForLogin(ctx context.Context, p Prober, opts Options) error {
	deadline := opts.Clock.After(opts.LoginTimeout)
	poll := opts.Clock.NewTicker(opts.PollInterval)
	defer poll.Stop()
	for {
		s, err := p.State(ctx)
		if err != nil {
			logging.AuthWarn("probe during manual login: %v", err)
		}
		if s == StateAuthenticated {
			logging.Auth("manual login completed")
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			if s == StateCaptcha {
				return ErrCaptchaRequired
			}
			return ErrNotAuthenticated
		case <-poll.Chan():
		}
	}
}
