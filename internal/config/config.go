package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	Bridge        BridgeConfig        `toml:"bridge"`
	Timing        TimingConfig        `toml:"timing"`
	Analyzer      AnalyzerConfig      `toml:"analyzer"`
	Sampler       SamplerConfig       `toml:"sampler"`
	Notifications NotificationsConfig `toml:"notifications"`
	Web           WebConfig           `toml:"web"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	DatabasePath string `toml:"database_path"`
	LogDir       string `toml:"log_dir"`
	LogLevel     string `toml:"log_level"`
}

// BridgeConfig holds serial bridge settings
type BridgeConfig struct {
	PortPattern   string `toml:"port_pattern"`
	BaudRate      int    `toml:"baud_rate"`
	ReadTimeoutMS int    `toml:"read_timeout_ms"`
}

// TimingConfig holds handshake timeouts and settle delays
type TimingConfig struct {
	LatchPollTimeoutMinutes int `toml:"latch_poll_timeout_minutes"`
	TriggerSettleSeconds    int `toml:"trigger_settle_seconds"`
	LatchReleaseSeconds     int `toml:"latch_release_seconds"`
	AcquireSettleSeconds    int `toml:"acquire_settle_seconds"`
	ProcessSettleSeconds    int `toml:"process_settle_seconds"`
	RetryAttempts           int `toml:"retry_attempts"`
	RetryIntervalMS         int `toml:"retry_interval_ms"`
	PollIntervalMS          int `toml:"poll_interval_ms"`
}

// AnalyzerConfig holds analyzer driver settings
type AnalyzerConfig struct {
	Driver                  string `toml:"driver"`
	OpenTimeoutMinutes      int    `toml:"open_timeout_minutes"`
	ExportTimeoutMinutes    int    `toml:"export_timeout_minutes"`
	ScriptEndTimeoutMinutes int    `toml:"script_end_timeout_minutes"`
	ResultExtension         string `toml:"result_extension"`
}

// SamplerConfig holds sampler driver settings
type SamplerConfig struct {
	Driver string `toml:"driver"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// WebConfig holds web UI settings
type WebConfig struct {
	Enabled bool   `toml:"enabled"`
	Port    int    `toml:"port"`
	Host    string `toml:"host"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		General: GeneralConfig{
			DatabasePath: filepath.Join(home, ".nta-batch", "runs.db"),
			LogDir:       filepath.Join(home, ".nta-batch", "logs"),
			LogLevel:     "INFO",
		},
		Bridge: BridgeConfig{
			PortPattern:   "Arduino",
			BaudRate:      115200,
			ReadTimeoutMS: 1000,
		},
		Timing: TimingConfig{
			LatchPollTimeoutMinutes: 15,
			TriggerSettleSeconds:    6,
			LatchReleaseSeconds:     5,
			AcquireSettleSeconds:    5,
			ProcessSettleSeconds:    10,
			RetryAttempts:           10,
			RetryIntervalMS:         1000,
			PollIntervalMS:          1000,
		},
		Analyzer: AnalyzerConfig{
			Driver:                  "simulated",
			OpenTimeoutMinutes:      2,
			ExportTimeoutMinutes:    10,
			ScriptEndTimeoutMinutes: 10,
			ResultExtension:         ".nano",
		},
		Sampler: SamplerConfig{
			Driver: "simulated",
		},
		Notifications: NotificationsConfig{
			Desktop: true,
		},
		Web: WebConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)
	cfg.General.LogDir = ExpandPath(cfg.General.LogDir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks that every timing and link setting is usable
func (c *Config) Validate() error {
	var errs []error

	positive := []struct {
		name  string
		value int
	}{
		{"bridge.baud_rate", c.Bridge.BaudRate},
		{"bridge.read_timeout_ms", c.Bridge.ReadTimeoutMS},
		{"timing.latch_poll_timeout_minutes", c.Timing.LatchPollTimeoutMinutes},
		{"timing.trigger_settle_seconds", c.Timing.TriggerSettleSeconds},
		{"timing.latch_release_seconds", c.Timing.LatchReleaseSeconds},
		{"timing.acquire_settle_seconds", c.Timing.AcquireSettleSeconds},
		{"timing.process_settle_seconds", c.Timing.ProcessSettleSeconds},
		{"timing.retry_attempts", c.Timing.RetryAttempts},
		{"timing.retry_interval_ms", c.Timing.RetryIntervalMS},
		{"timing.poll_interval_ms", c.Timing.PollIntervalMS},
		{"analyzer.open_timeout_minutes", c.Analyzer.OpenTimeoutMinutes},
		{"analyzer.export_timeout_minutes", c.Analyzer.ExportTimeoutMinutes},
		{"analyzer.script_end_timeout_minutes", c.Analyzer.ScriptEndTimeoutMinutes},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", p.name, p.value))
		}
	}

	if c.Bridge.PortPattern == "" {
		errs = append(errs, errors.New("bridge.port_pattern is required"))
	}
	if !strings.HasPrefix(c.Analyzer.ResultExtension, ".") {
		errs = append(errs, fmt.Errorf("analyzer.result_extension must start with '.', got %q", c.Analyzer.ResultExtension))
	}
	if c.Web.Enabled && (c.Web.Port <= 0 || c.Web.Port > 65535) {
		errs = append(errs, fmt.Errorf("web.port out of range: %d", c.Web.Port))
	}

	return errors.Join(errs...)
}

// ReadTimeout returns the bridge per-read timeout
func (b BridgeConfig) ReadTimeout() time.Duration {
	return time.Duration(b.ReadTimeoutMS) * time.Millisecond
}

func (t TimingConfig) LatchPollTimeout() time.Duration {
	return time.Duration(t.LatchPollTimeoutMinutes) * time.Minute
}

func (t TimingConfig) TriggerSettle() time.Duration {
	return time.Duration(t.TriggerSettleSeconds) * time.Second
}

func (t TimingConfig) LatchRelease() time.Duration {
	return time.Duration(t.LatchReleaseSeconds) * time.Second
}

func (t TimingConfig) AcquireSettle() time.Duration {
	return time.Duration(t.AcquireSettleSeconds) * time.Second
}

func (t TimingConfig) ProcessSettle() time.Duration {
	return time.Duration(t.ProcessSettleSeconds) * time.Second
}

func (t TimingConfig) RetryInterval() time.Duration {
	return time.Duration(t.RetryIntervalMS) * time.Millisecond
}

func (t TimingConfig) PollInterval() time.Duration {
	return time.Duration(t.PollIntervalMS) * time.Millisecond
}

func (a AnalyzerConfig) OpenTimeout() time.Duration {
	return time.Duration(a.OpenTimeoutMinutes) * time.Minute
}

func (a AnalyzerConfig) ExportTimeout() time.Duration {
	return time.Duration(a.ExportTimeoutMinutes) * time.Minute
}

func (a AnalyzerConfig) ScriptEndTimeout() time.Duration {
	return time.Duration(a.ScriptEndTimeoutMinutes) * time.Minute
}

// Addr returns host:port for the web server
func (w WebConfig) Addr() string {
	return fmt.Sprintf("%s:%d", w.Host, w.Port)
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "nta-batch", "config.toml")
}
