// Package config loads dcwatch.yaml, applies environment overrides and
// validates the result.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"dcwatch/internal/browser"
	"dcwatch/internal/discord"
	"dcwatch/internal/extract"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file used when --config is not given.
const DefaultPath = "dcwatch.yaml"

// Config holds all dcwatch configuration.
type Config struct {
	Discord     DiscordConfig    `yaml:"discord"`
	Browser     browser.Config   `yaml:"browser"`
	Queue       QueueConfig      `yaml:"queue"`
	Observer    ObserverConfig   `yaml:"observer"`
	Extract     ExtractConfig    `yaml:"extract"`
	Auth        AuthConfig       `yaml:"auth"`
	Report      ReportConfig     `yaml:"report"`
	Screenshots ScreenshotConfig `yaml:"screenshots"`
	Logging     LoggingConfig    `yaml:"logging"`
}

// DiscordConfig lists the channels to watch.
type DiscordConfig struct {
	Channels []string `yaml:"channels" validate:"dive,url"`
}

// QueueConfig configures the task queue.
type QueueConfig struct {
	Path        string `yaml:"path" validate:"required"`
	MaxRetries  int    `yaml:"max_retries" validate:"min=1"`
	Cooldown    string `yaml:"cooldown"`
	FlushDelay  string `yaml:"flush_delay"`
	TaskTimeout string `yaml:"task_timeout"`
}

// ObserverConfig configures channel observation.
type ObserverConfig struct {
	SettleDelay      string `yaml:"settle_delay"`
	ContainerTimeout string `yaml:"container_timeout"`
	// PollInterval rescans every channel on a schedule; empty disables it.
	PollInterval  string `yaml:"poll_interval"`
	StatsInterval string `yaml:"stats_interval"`
}

// ExtractConfig configures the profile extraction protocol.
type ExtractConfig struct {
	CopyID            bool   `yaml:"copy_id"`
	NavigationTimeout string `yaml:"navigation_timeout"`
	AuthorTimeout     string `yaml:"author_timeout"`
	ProfileTimeout    string `yaml:"profile_timeout"`
	MenuTimeout       string `yaml:"menu_timeout"`
}

// AuthConfig configures the session check.
type AuthConfig struct {
	Attempts     uint   `yaml:"attempts"`
	LoginTimeout string `yaml:"login_timeout"`
}

// ReportConfig configures where extracted profiles go.
type ReportConfig struct {
	BackupDir   string        `yaml:"backup_dir"`
	ArchivePath string        `yaml:"archive_path"`
	Webhook     WebhookConfig `yaml:"webhook"`
}

// WebhookConfig configures the chat webhook reporter.
type WebhookConfig struct {
	URL      string `yaml:"url" validate:"omitempty,url"`
	Username string `yaml:"username"`
	Attempts uint   `yaml:"attempts"`
}

// ScreenshotConfig configures profile screenshots.
type ScreenshotConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir" validate:"required_if=Enabled true"`
	MaxAge  string `yaml:"max_age"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Browser: browser.DefaultConfig(),

		Queue: QueueConfig{
			Path:        "queue.json",
			MaxRetries:  5,
			Cooldown:    "3s",
			FlushDelay:  "250ms",
			TaskTimeout: "2m",
		},

		Observer: ObserverConfig{
			SettleDelay:      "500ms",
			ContainerTimeout: "30s",
			StatsInterval:    "1m",
		},

		Extract: ExtractConfig{
			CopyID:            true,
			NavigationTimeout: "45s",
			AuthorTimeout:     "5s",
			ProfileTimeout:    "8s",
			MenuTimeout:       "10s",
		},

		Auth: AuthConfig{
			Attempts:     5,
			LoginTimeout: "5m",
		},

		Report: ReportConfig{
			BackupDir:   "reports",
			ArchivePath: "dcwatch.db",
			Webhook: WebhookConfig{
				Username: "dcwatch",
				Attempts: 4,
			},
		},

		Screenshots: ScreenshotConfig{
			Enabled: true,
			Dir:     "screenshots",
			MaxAge:  "168h",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Dir:    "logs",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if path := os.Getenv("DCWATCH_QUEUE_PATH"); path != "" {
		c.Queue.Path = path
	}
	if dir := os.Getenv("DCWATCH_PROFILE_DIR"); dir != "" {
		c.Browser.ProfileDir = dir
	}
	if url := os.Getenv("DCWATCH_WEBHOOK_URL"); url != "" {
		c.Report.Webhook.URL = url
	}
	if url := os.Getenv("DCWATCH_DEBUGGER_URL"); url != "" {
		c.Browser.DebuggerURL = url
	}
	if v := os.Getenv("DCWATCH_HEADLESS"); v != "" {
		if headless, err := strconv.ParseBool(v); err == nil {
			c.Browser.Headless = headless
		}
	}
}

// Validate checks the struct constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// AddChannel appends link unless it is already listed. It reports whether
// the list changed.
func (c *Config) AddChannel(link string) (bool, error) {
	link = strings.TrimSpace(link)
	if _, err := discord.ParseChannelLink(link); err != nil {
		return false, err
	}
	if slices.Contains(c.Discord.Channels, link) {
		return false, nil
	}
	c.Discord.Channels = append(c.Discord.Channels, link)
	return true, nil
}

// RemoveChannel drops link from the list and reports whether it was present.
func (c *Config) RemoveChannel(link string) bool {
	link = strings.TrimSpace(link)
	i := slices.Index(c.Discord.Channels, link)
	if i < 0 {
		return false
	}
	c.Discord.Channels = slices.Delete(c.Discord.Channels, i, i+1)
	return true
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

// GetCooldown returns the cooldown after a failed task.
func (c *Config) GetCooldown() time.Duration {
	return parseDuration(c.Queue.Cooldown, 3*time.Second)
}

// GetFlushDelay returns the queue write debounce.
func (c *Config) GetFlushDelay() time.Duration {
	return parseDuration(c.Queue.FlushDelay, 250*time.Millisecond)
}

// GetTaskTimeout returns the upper bound of one task run.
func (c *Config) GetTaskTimeout() time.Duration {
	return parseDuration(c.Queue.TaskTimeout, 2*time.Minute)
}

// GetSettleDelay returns the observer debounce.
func (c *Config) GetSettleDelay() time.Duration {
	return parseDuration(c.Observer.SettleDelay, 500*time.Millisecond)
}

// GetContainerTimeout returns how long to wait for a message list.
func (c *Config) GetContainerTimeout() time.Duration {
	return parseDuration(c.Observer.ContainerTimeout, 30*time.Second)
}

// GetPollInterval returns the rescan interval, zero when disabled.
func (c *Config) GetPollInterval() time.Duration {
	return parseDuration(c.Observer.PollInterval, 0)
}

// GetStatsInterval returns the queue stats heartbeat, zero when disabled.
func (c *Config) GetStatsInterval() time.Duration {
	return parseDuration(c.Observer.StatsInterval, time.Minute)
}

// GetLoginTimeout returns how long manual login may take.
func (c *Config) GetLoginTimeout() time.Duration {
	return parseDuration(c.Auth.LoginTimeout, 5*time.Minute)
}

// GetScreenshotMaxAge returns the screenshot retention, zero keeps all.
func (c *Config) GetScreenshotMaxAge() time.Duration {
	return parseDuration(c.Screenshots.MaxAge, 0)
}

// DriverConfig returns the page driver waits with configured overrides.
func (c *Config) DriverConfig() extract.DriverConfig {
	d := extract.DefaultDriverConfig()
	d.NavigationTimeout = parseDuration(c.Extract.NavigationTimeout, d.NavigationTimeout)
	d.AuthorTimeout = parseDuration(c.Extract.AuthorTimeout, d.AuthorTimeout)
	d.ProfileTimeout = parseDuration(c.Extract.ProfileTimeout, d.ProfileTimeout)
	d.MenuTimeout = parseDuration(c.Extract.MenuTimeout, d.MenuTimeout)
	return d
}
