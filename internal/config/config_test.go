package config

import (
	"testing"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDefaultViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	return v
}

func TestNewFromViper_Defaults(t *testing.T) {
	cfg, err := NewFromViper(newDefaultViper())
	require.NoError(t, err)

	assert.Equal(t, 15*time.Second, cfg.Capture.FirstResponseTimeout)
	assert.Equal(t, 3*time.Second, cfg.Capture.ExtraWait)
	assert.Equal(t, 1, cfg.Capture.Concurrency)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, "zh-CN,zh;q=0.9,en;q=0.8", cfg.Browser.AcceptLanguage)
	assert.Equal(t, 45*time.Second, cfg.Browser.NavigationTimeout)
	assert.Equal(t, "barrage_output", cfg.Output.Dir)
	assert.Equal(t, ModeFresh, cfg.Browser.Mode())
}

func TestBrowserConfig_Mode(t *testing.T) {
	tests := []struct {
		name string
		cfg  BrowserConfig
		want SessionMode
	}{
		{"fresh by default", BrowserConfig{}, ModeFresh},
		{"persistent with profile dir", BrowserConfig{UserDataDir: "/tmp/profile"}, ModePersistent},
		{"attach with devtools url", BrowserConfig{AttachURL: "ws://127.0.0.1:9222"}, ModeAttach},
		{
			"attach wins over persistent",
			BrowserConfig{AttachURL: "ws://127.0.0.1:9222", UserDataDir: "/tmp/profile"},
			ModeAttach,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.Mode())
		})
	}
}

func TestValidate_Conflicts(t *testing.T) {
	base := func() *Config {
		cfg, err := NewFromViper(newDefaultViper())
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name: "profile dir conflicts with storage state",
			mutate: func(c *Config) {
				c.Browser.UserDataDir = "/tmp/profile"
				c.Capture.StorageState = "/tmp/state.json"
			},
			wantErr: "mutually exclusive",
		},
		{
			name: "attach conflicts with profile dir",
			mutate: func(c *Config) {
				c.Browser.AttachURL = "ws://127.0.0.1:9222"
				c.Browser.UserDataDir = "/tmp/profile"
			},
			wantErr: "mutually exclusive",
		},
		{
			name: "attach conflicts with executable path",
			mutate: func(c *Config) {
				c.Browser.AttachURL = "ws://127.0.0.1:9222"
				c.Browser.ExecutablePath = "/usr/bin/chromium"
			},
			wantErr: "no effect",
		},
		{
			name:    "save requires a destination",
			mutate:  func(c *Config) { c.Capture.SaveStorageState = true },
			wantErr: "requires capture.storage_state",
		},
		{
			name:    "zero concurrency rejected",
			mutate:  func(c *Config) { c.Capture.Concurrency = 0 },
			wantErr: "positive",
		},
		{
			name: "parallel capture needs fresh sessions",
			mutate: func(c *Config) {
				c.Capture.Concurrency = 4
				c.Browser.UserDataDir = "/tmp/profile"
			},
			wantErr: "fresh",
		},
		{
			name:    "negative timeout rejected",
			mutate:  func(c *Config) { c.Capture.FirstResponseTimeout = -time.Second },
			wantErr: "negative",
		},
		{
			name:    "negative extra wait rejected",
			mutate:  func(c *Config) { c.Capture.ExtraWait = -time.Second },
			wantErr: "negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_AcceptsWorkingSetups(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"defaults", func(c *Config) {}},
		{"persistent profile", func(c *Config) { c.Browser.UserDataDir = "/tmp/profile" }},
		{"attach", func(c *Config) { c.Browser.AttachURL = "ws://127.0.0.1:9222" }},
		{
			"storage state with save",
			func(c *Config) {
				c.Capture.StorageState = "/tmp/state.json"
				c.Capture.SaveStorageState = true
			},
		},
		{"parallel fresh capture", func(c *Config) { c.Capture.Concurrency = 4 }},
		{"zero timeouts allowed", func(c *Config) { c.Capture.FirstResponseTimeout = 0; c.Capture.ExtraWait = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := NewFromViper(newDefaultViper())
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.NoError(t, cfg.Validate())
		})
	}
}

func TestNormalize_ExpandsHomePaths(t *testing.T) {
	homedir.DisableCache = true
	defer func() { homedir.DisableCache = false }()
	t.Setenv("HOME", "/home/capture")

	cfg := &Config{}
	cfg.Browser.UserDataDir = "~/profile"
	cfg.Capture.StorageState = "~/state.json"
	cfg.Output.Dir = "barrage_output"

	require.NoError(t, cfg.Normalize())
	assert.Equal(t, "/home/capture/profile", cfg.Browser.UserDataDir)
	assert.Equal(t, "/home/capture/state.json", cfg.Capture.StorageState)
	// Relative paths without a tilde pass through untouched.
	assert.Equal(t, "barrage_output", cfg.Output.Dir)
}
