package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.Headless)
	assert.Equal(t, "discord-session", cfg.ProfileDir)
	assert.Equal(t, 30*time.Second, cfg.NavigationTimeout())

	cfg.NavigationTimeoutMs = 0
	assert.Equal(t, 30*time.Second, cfg.NavigationTimeout())
	cfg.NavigationTimeoutMs = 1500
	assert.Equal(t, 1500*time.Millisecond, cfg.NavigationTimeout())
}

func TestLauncherFlags(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ProfileDir = t.TempDir()
	cfg.Flags = []string{"--lang=en-US", "mute-audio"}
	m := NewSessionManager(cfg)

	l := m.newLauncher(LaunchOptions{UsePersistentSession: true})
	assert.True(t, l.Has(flags.Flag("disable-infobars")))
	assert.True(t, l.Has(flags.Flag("start-maximized")))
	assert.Equal(t, "AutomationControlled", l.Get(flags.Flag("disable-blink-features")))
	assert.Equal(t, "0,0", l.Get(flags.Flag("window-position")))
	assert.Equal(t, "en-US", l.Get(flags.Flag("lang")))
	assert.True(t, l.Has(flags.Flag("mute-audio")))
	assert.False(t, l.Has(flags.Flag("enable-automation")))
	assert.Equal(t, cfg.ProfileDir, l.Get(flags.UserDataDir))
	assert.True(t, l.Has(flags.Headless))

	headful := m.newLauncher(LaunchOptions{Headful: true})
	assert.False(t, headful.Has(flags.Headless))
	assert.NotEqual(t, cfg.ProfileDir, headful.Get(flags.UserDataDir))
}

func TestPersistentBrowserMissing(t *testing.T) {
	m := NewSessionManager(DefaultConfig())

	_, err := m.PersistentBrowser()
	assert.True(t, errors.Is(err, ErrNoPersistentBrowser))
	assert.False(t, m.IsConnected())

	_, err = m.NewPage(context.Background(), "about:blank")
	require.ErrorIs(t, err, ErrNoPersistentBrowser)

	assert.NoError(t, m.Close(nil))
	assert.NoError(t, m.Shutdown(context.Background()))
}

func TestLeaseWithoutBrowser(t *testing.T) {
	lease := NewPageLease(NewSessionManager(DefaultConfig()))

	_, err := lease.Acquire(context.Background())
	require.ErrorIs(t, err, ErrNoPersistentBrowser)
	assert.False(t, lease.Held())
	assert.NoError(t, lease.Release(context.Background()))
}
