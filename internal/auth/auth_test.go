package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProber struct {
	mu        sync.Mutex
	states    []State
	navErr    error
	navigated []string
	probes    int
}

func (f *fakeProber) Navigate(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navigated = append(f.navigated, url)
	return f.navErr
}

// State returns the queued states in order and repeats the last one.
func (f *fakeProber) State(context.Context) (State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.probes
	f.probes++
	if i >= len(f.states) {
		i = len(f.states) - 1
	}
	return f.states[i], nil
}

func fastOptions() Options {
	return Options{
		AppURL:       "https://discord.test/app",
		Attempts:     3,
		Delay:        time.Millisecond,
		LoginTimeout: 200 * time.Millisecond,
		PollInterval: time.Millisecond,
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		in   Signals
		want State
	}{
		{"app with sidebar", Signals{URL: "https://discord.com/channels/@me", HasSidebar: true}, StateAuthenticated},
		{"sidebar on foreign url", Signals{URL: "https://discord.com/", HasSidebar: true}, StateUnknown},
		{"login url", Signals{URL: "https://discord.com/login?redirect_to=%2Fapp"}, StateLogin},
		{"login form", Signals{URL: "https://discord.com/app", HasLoginForm: true}, StateLogin},
		{"robot title", Signals{URL: "https://discord.com/app", Title: "Are you a Robot?"}, StateCaptcha},
		{"challenge iframe wins", Signals{URL: "https://discord.com/app", HasSidebar: true, HasChallenge: true}, StateCaptcha},
		{"loading", Signals{URL: "https://discord.com/app"}, StateUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.in))
		})
	}
}

func TestEnsureAuthenticated_LoggedIn(t *testing.T) {
	p := &fakeProber{states: []State{StateAuthenticated}}
	require.NoError(t, EnsureAuthenticated(context.Background(), p, fastOptions()))
	assert.Equal(t, []string{"https://discord.test/app"}, p.navigated)
}

func TestEnsureAuthenticated_RetriesUnsettledPage(t *testing.T) {
	p := &fakeProber{states: []State{StateUnknown, StateUnknown, StateAuthenticated}}
	require.NoError(t, EnsureAuthenticated(context.Background(), p, fastOptions()))
	assert.Len(t, p.navigated, 3)
}

func TestEnsureAuthenticated_LoginWithoutManual(t *testing.T) {
	p := &fakeProber{states: []State{StateLogin}}
	err := EnsureAuthenticated(context.Background(), p, fastOptions())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestEnsureAuthenticated_CaptchaWithoutManual(t *testing.T) {
	p := &fakeProber{states: []State{StateCaptcha}}
	err := EnsureAuthenticated(context.Background(), p, fastOptions())
	assert.ErrorIs(t, err, ErrCaptchaRequired)
}

func TestEnsureAuthenticated_NeverSettles(t *testing.T) {
	p := &fakeProber{states: []State{StateUnknown}}
	err := EnsureAuthenticated(context.Background(), p, fastOptions())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestEnsureAuthenticated_ManualLogin(t *testing.T) {
	p := &fakeProber{states: []State{StateLogin, StateLogin, StateLogin, StateAuthenticated}}
	opts := fastOptions()
	opts.ManualLogin = true
	require.NoError(t, EnsureAuthenticated(context.Background(), p, opts))
	assert.GreaterOrEqual(t, p.probes, 4)
}

func TestEnsureAuthenticated_ManualLoginTimesOut(t *testing.T) {
	p := &fakeProber{states: []State{StateLogin}}
	opts := fastOptions()
	opts.ManualLogin = true
	opts.LoginTimeout = 20 * time.Millisecond
	err := EnsureAuthenticated(context.Background(), p, opts)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestEnsureAuthenticated_NavigateFails(t *testing.T) {
	p := &fakeProber{states: []State{StateAuthenticated}, navErr: errors.New("net::ERR_NAME_NOT_RESOLVED")}
	err := EnsureAuthenticated(context.Background(), p, fastOptions())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ERR_NAME_NOT_RESOLVED")
	assert.Len(t, p.navigated, 3)
}

func (f *fakeProber) probeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probes
}

func TestWaitForLogin_PollsOnOneTicker(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := &fakeProber{states: []State{StateLogin, StateLogin, StateLogin, StateAuthenticated}}
	opts := fastOptions()
	opts.Clock = clock
	opts.PollInterval = time.Second
	opts.LoginTimeout = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- waitForLogin(ctx, p, opts) }()

	for probe := 1; probe <= 3; probe++ {
		require.Eventually(t, func() bool { return p.probeCount() == probe }, time.Second, time.Millisecond)
		// The login deadline and the poll ticker are the only waiters on every pass.
		require.NoError(t, clock.BlockUntilContext(ctx, 2))
		clock.Advance(opts.PollInterval)
	}

	require.NoError(t, <-errCh)
	assert.Equal(t, 4, p.probeCount())
}

func TestWaitForLogin_DeadlineWithFakeClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := &fakeProber{states: []State{StateCaptcha}}
	opts := fastOptions()
	opts.Clock = clock
	opts.PollInterval = time.Second
	opts.LoginTimeout = 3 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- waitForLogin(ctx, p, opts) }()

	require.NoError(t, clock.BlockUntilContext(ctx, 2))
	clock.Advance(opts.LoginTimeout)
	assert.ErrorIs(t, <-errCh, ErrCaptchaRequired)
}
