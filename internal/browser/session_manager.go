// Package browser owns the Chrome instance dcwatch drives. One persistent
// browser is shared by every channel page and by the extraction worker; it
// reuses an on-disk profile so the Discord login survives restarts.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"dcwatch/internal/discord"
	"dcwatch/internal/logging"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
)

// ErrNoPersistentBrowser is returned when the persistent browser was never
// launched or is no longer connected.
var ErrNoPersistentBrowser = errors.New("browser: persistent browser not launched or was closed")

// Config holds browser configuration.
type Config struct {
	Bin                 string   `yaml:"bin"`
	Flags               []string `yaml:"flags"`
	ProfileDir          string   `yaml:"profile_dir"`
	DebuggerURL         string   `yaml:"debugger_url"`
	Headless            bool     `yaml:"headless"`
	NavigationTimeoutMs int      `yaml:"navigation_timeout_ms"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ProfileDir:          "discord-session",
		Headless:            true,
		NavigationTimeoutMs: 30000,
	}
}

// NavigationTimeout returns the navigation timeout.
func (c Config) NavigationTimeout() time.Duration {
	if c.NavigationTimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.NavigationTimeoutMs) * time.Millisecond
}

// LaunchOptions selects how a browser is started.
type LaunchOptions struct {
	Headful              bool
	UsePersistentSession bool
}

// hardenedFlags are applied to every launched browser.
var hardenedFlags = []string{
	"no-sandbox",
	"disable-setuid-sandbox",
	"start-maximized",
	"disable-blink-features=AutomationControlled",
	"disable-infobars",
	"window-position=0,0",
}

// SessionManager launches browsers and tracks the persistent one.
type SessionManager struct {
	cfg        Config
	mu         sync.RWMutex
	persistent *rod.Browser
	controlURL string
	launchers  map[*rod.Browser]*launcher.Launcher
}

// NewSessionManager creates a new session manager.
func NewSessionManager(cfg Config) *SessionManager {
	return &SessionManager{
		cfg:       cfg,
		launchers: make(map[*rod.Browser]*launcher.Launcher),
	}
}

// newLauncher builds the launcher for opts. The profile directory is only
// attached to persistent sessions.
func (m *SessionManager) newLauncher(opts LaunchOptions) *launcher.Launcher {
	l := launcher.New().Headless(!opts.Headful && m.cfg.Headless)
	if m.cfg.Bin != "" {
		l = l.Bin(m.cfg.Bin)
	}
	for _, rawFlag := range append(append([]string{}, hardenedFlags...), m.cfg.Flags...) {
		flagStr := strings.TrimLeft(rawFlag, "-")
		name, val, hasVal := strings.Cut(flagStr, "=")
		if hasVal {
			l = l.Set(flags.Flag(name), val)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}
	l = l.Delete(flags.Flag("enable-automation"))
	if opts.UsePersistentSession && m.cfg.ProfileDir != "" {
		l = l.UserDataDir(m.cfg.ProfileDir)
	}
	return l
}

// Launch starts (or, with debugger_url set, connects to) a browser and opens
// a first page. With UsePersistentSession the browser becomes the persistent
// browser returned by PersistentBrowser.
func (m *SessionManager) Launch(ctx context.Context, opts LaunchOptions) (*rod.Browser, *rod.Page, error) {
	mode := "headless"
	if opts.Headful || !m.cfg.Headless {
		mode = "headful"
	}
	logging.Browser("launching browser (%s, persistent=%v)", mode, opts.UsePersistentSession)

	var l *launcher.Launcher
	controlURL := m.cfg.DebuggerURL
	if controlURL == "" {
		l = m.newLauncher(opts)
		u, err := l.Launch()
		if err != nil {
			return nil, nil, fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = u
	}

	// The connection outlives the call that created it; Close ends it.
	b := rod.New().ControlURL(controlURL).Context(context.WithoutCancel(ctx))
	if err := b.Connect(); err != nil {
		if l != nil {
			l.Kill()
		}
		return nil, nil, fmt.Errorf("connect to chrome: %w", err)
	}
	// Let pages use the real window size instead of rod's default device.
	b = b.NoDefaultDevice()

	if err := (proto.BrowserGrantPermissions{
		Permissions: []proto.BrowserPermissionType{
			proto.BrowserPermissionTypeClipboardReadWrite,
			proto.BrowserPermissionTypeClipboardSanitizedWrite,
		},
		Origin: discord.BaseURL,
	}).Call(b); err != nil {
		logging.BrowserWarn("grant clipboard permission: %v", err)
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = b.Close()
		if l != nil {
			l.Kill()
		}
		return nil, nil, fmt.Errorf("create page: %w", err)
	}
	if opts.Headful {
		if err := page.SetWindow(&proto.BrowserBounds{WindowState: proto.BrowserWindowStateMaximized}); err != nil {
			logging.BrowserDebug("maximize window: %v", err)
		}
	}

	m.mu.Lock()
	if l != nil {
		m.launchers[b] = l
	}
	if opts.UsePersistentSession {
		m.persistent = b
		m.controlURL = controlURL
		logging.Browser("persistent browser saved for reuse")
	}
	m.mu.Unlock()

	return b, page, nil
}

// PersistentBrowser returns the shared browser or ErrNoPersistentBrowser.
func (m *SessionManager) PersistentBrowser() (*rod.Browser, error) {
	m.mu.RLock()
	b := m.persistent
	m.mu.RUnlock()

	if b == nil {
		return nil, ErrNoPersistentBrowser
	}
	if _, err := b.Version(); err != nil {
		logging.BrowserWarn("persistent browser is disconnected: %v", err)
		return nil, ErrNoPersistentBrowser
	}
	return b, nil
}

// ControlURL returns the WebSocket debugger URL of the persistent browser.
func (m *SessionManager) ControlURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.controlURL
}

// IsConnected returns whether a persistent browser is tracked.
func (m *SessionManager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.persistent != nil
}

// NewPage opens a tab in the persistent browser and navigates it to url.
func (m *SessionManager) NewPage(ctx context.Context, url string) (*rod.Page, error) {
	b, err := m.PersistentBrowser()
	if err != nil {
		return nil, err
	}
	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	if url == "" || url == "about:blank" {
		return page, nil
	}
	if err := page.Context(ctx).Timeout(m.cfg.NavigationTimeout()).Navigate(url); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("navigate to %s: %w", url, err)
	}
	if err := page.Context(ctx).Timeout(m.cfg.NavigationTimeout()).WaitLoad(); err != nil {
		logging.BrowserDebug("wait load %s: %v", url, err)
	}
	return page, nil
}

// Navigate loads url in page, bounded by the navigation timeout.
func (m *SessionManager) Navigate(ctx context.Context, page *rod.Page, url string) error {
	if err := page.Context(ctx).Timeout(m.cfg.NavigationTimeout()).Navigate(url); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

// Close closes b. Closing the persistent browser clears it, so later
// PersistentBrowser calls fail until the next Launch.
func (m *SessionManager) Close(b *rod.Browser) error {
	if b == nil {
		return nil
	}

	m.mu.Lock()
	l := m.launchers[b]
	delete(m.launchers, b)
	if b == m.persistent {
		m.persistent = nil
		m.controlURL = ""
	}
	m.mu.Unlock()

	err := b.Close()
	if l != nil && err != nil {
		l.Kill()
	}
	logging.Browser("browser closed")
	return err
}

// Shutdown closes every browser this manager launched.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	browsers := make([]*rod.Browser, 0, len(m.launchers)+1)
	for b := range m.launchers {
		browsers = append(browsers, b)
	}
	if m.persistent != nil && m.launchers[m.persistent] == nil {
		browsers = append(browsers, m.persistent)
	}
	m.mu.RUnlock()

	var errs []error
	for _, b := range browsers {
		if err := m.Close(b); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
