package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// SessionMode selects how the browser context is obtained.
type SessionMode string

const (
	// ModeFresh launches a disposable browser with a throwaway profile.
	ModeFresh SessionMode = "fresh"
	// ModePersistent launches a browser over a real user-data directory so
	// cookies and fingerprint survive across runs. The directory must be
	// owned by a single barragecap process at a time; concurrent use is a
	// precondition violation.
	ModePersistent SessionMode = "persistent"
	// ModeAttach connects to an already-running browser via its remote
	// debugging endpoint. Used to reuse a session where a human has already
	// solved a verification challenge.
	ModeAttach SessionMode = "attach"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Capture CaptureConfig `mapstructure:"capture" yaml:"capture"`
	Output  OutputConfig  `mapstructure:"output" yaml:"output"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// BrowserConfig holds settings for the browser instance and request shaping.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	UserDataDir       string        `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	ExecutablePath    string        `mapstructure:"executable_path" yaml:"executable_path"`
	AttachURL         string        `mapstructure:"attach_url" yaml:"attach_url"`
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent"`
	AcceptLanguage    string        `mapstructure:"accept_language" yaml:"accept_language"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
}

// Mode derives the session mode from the mutually exclusive browser settings.
func (b BrowserConfig) Mode() SessionMode {
	switch {
	case b.AttachURL != "":
		return ModeAttach
	case b.UserDataDir != "":
		return ModePersistent
	default:
		return ModeFresh
	}
}

// CaptureConfig tunes the barrage capture protocol for one batch.
type CaptureConfig struct {
	URLs                 []string      `mapstructure:"urls" yaml:"urls"`
	URLFile              string        `mapstructure:"url_file" yaml:"url_file"`
	PlaylistURLs         []string      `mapstructure:"playlist_urls" yaml:"playlist_urls"`
	FirstResponseTimeout time.Duration `mapstructure:"first_response_timeout" yaml:"first_response_timeout"`
	ExtraWait            time.Duration `mapstructure:"extra_wait" yaml:"extra_wait"`
	Concurrency          int           `mapstructure:"concurrency" yaml:"concurrency"`
	PageDelay            time.Duration `mapstructure:"page_delay" yaml:"page_delay"`
	StorageState         string        `mapstructure:"storage_state" yaml:"storage_state"`
	SaveStorageState     bool          `mapstructure:"save_storage_state" yaml:"save_storage_state"`
	SeriesLabel          string        `mapstructure:"series_label" yaml:"series_label"`
}

// OutputConfig controls where capture records land.
type OutputConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "barragecap")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.accept_language", "zh-CN,zh;q=0.9,en;q=0.8")
	v.SetDefault("browser.navigation_timeout", "45s")

	// -- Capture --
	v.SetDefault("capture.first_response_timeout", "15s")
	v.SetDefault("capture.extra_wait", "3s")
	v.SetDefault("capture.concurrency", 1)
	v.SetDefault("capture.page_delay", "0s")

	// -- Output --
	v.SetDefault("output.dir", "barrage_output")
}

// NewFromViper unmarshals, normalizes and validates a configuration.
func NewFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Normalize(); err != nil {
		return nil, fmt.Errorf("error normalizing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Normalize expands user-relative paths so later components see absolute ones.
func (c *Config) Normalize() error {
	for _, p := range []*string{
		&c.Browser.UserDataDir,
		&c.Browser.ExecutablePath,
		&c.Capture.StorageState,
		&c.Capture.URLFile,
		&c.Output.Dir,
	} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("cannot expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate enforces the fail-fast configuration rules. Conflicts here abort
// the run before any navigation happens.
func (c *Config) Validate() error {
	if c.Browser.UserDataDir != "" && c.Capture.StorageState != "" {
		return fmt.Errorf("browser.user_data_dir and capture.storage_state are mutually exclusive: a persistent profile already carries its own cookies")
	}
	if c.Browser.AttachURL != "" && c.Browser.UserDataDir != "" {
		return fmt.Errorf("browser.attach_url and browser.user_data_dir are mutually exclusive: an attached browser owns its profile")
	}
	if c.Browser.AttachURL != "" && c.Browser.ExecutablePath != "" {
		return fmt.Errorf("browser.executable_path has no effect with browser.attach_url: the browser is already running")
	}
	if c.Capture.SaveStorageState && c.Capture.StorageState == "" {
		return fmt.Errorf("capture.save_storage_state requires capture.storage_state to name the destination file")
	}
	if c.Capture.Concurrency < 1 {
		return fmt.Errorf("capture.concurrency must be a positive integer")
	}
	if c.Capture.Concurrency > 1 && c.Browser.Mode() != ModeFresh {
		return fmt.Errorf("capture.concurrency > 1 requires fresh browser contexts: %s mode shares one context and navigation is a global operation on it", c.Browser.Mode())
	}
	if c.Capture.FirstResponseTimeout < 0 {
		return fmt.Errorf("capture.first_response_timeout must not be negative")
	}
	if c.Capture.ExtraWait < 0 {
		return fmt.Errorf("capture.extra_wait must not be negative")
	}
	return nil
}
