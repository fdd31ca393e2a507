// Package config provides configuration management for supportdesk.
//
// Settings live in ~/.supportdesk/settings.json (or settings.yaml) as a flat
// object of upper-snake keys. Every key can be overridden by an environment
// variable of the same name.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultAPIPort is the staff console HTTP port.
	DefaultAPIPort = 37810
	// DefaultMaxRetries is the store attempt limit per call.
	DefaultMaxRetries = 3
	// DefaultTimeoutSeconds is the per-attempt store timeout.
	DefaultTimeoutSeconds = 30
	// DefaultRetryBaseDelayMs is the linear backoff unit.
	DefaultRetryBaseDelayMs = 1000
	// DefaultSyncIntervalSeconds is the message sync period.
	DefaultSyncIntervalSeconds = 5
	// MinSyncIntervalSeconds is the floor applied to the sync period.
	MinSyncIntervalSeconds = 2
	// DefaultHeartbeatIntervalSeconds is the presence refresh period.
	DefaultHeartbeatIntervalSeconds = 30
	// DefaultDirectoryRefreshSeconds is the staff directory period.
	DefaultDirectoryRefreshSeconds = 10
	// DefaultMaxMessageLength caps outgoing message length in runes.
	DefaultMaxMessageLength = 1000
)

// Setting keys.
const (
	KeyStoreURL                 = "SUPPORTDESK_STORE_URL"
	KeyStoreEnabled             = "SUPPORTDESK_STORE_ENABLED"
	KeyMaxRetries               = "SUPPORTDESK_MAX_RETRIES"
	KeyTimeoutSeconds           = "SUPPORTDESK_TIMEOUT_SECONDS"
	KeyRetryBaseDelayMs         = "SUPPORTDESK_RETRY_BASE_DELAY_MS"
	KeySyncIntervalSeconds      = "SUPPORTDESK_SYNC_INTERVAL_SECONDS"
	KeyHeartbeatIntervalSeconds = "SUPPORTDESK_HEARTBEAT_INTERVAL_SECONDS"
	KeyDirectoryRefreshSeconds  = "SUPPORTDESK_DIRECTORY_REFRESH_SECONDS"
	KeyStaffID                  = "SUPPORTDESK_STAFF_ID"
	KeyGroupByCustomer          = "SUPPORTDESK_GROUP_BY_CUSTOMER"
	KeyAPIPort                  = "SUPPORTDESK_API_PORT"
	KeyDBPath                   = "SUPPORTDESK_DB_PATH"
	KeyArchiveDSN               = "SUPPORTDESK_ARCHIVE_DSN"
	KeyDeviceRoots              = "SUPPORTDESK_DEVICE_ROOTS"
	KeyMaxMessageLength         = "SUPPORTDESK_MAX_MESSAGE_LENGTH"
	KeyNoticesPath              = "SUPPORTDESK_NOTICES_PATH"
	KeyLogLevel                 = "SUPPORTDESK_LOG_LEVEL"
)

// Config holds supportdesk settings.
type Config struct {
	StoreURL                 string   `json:"SUPPORTDESK_STORE_URL"`
	StaffID                  string   `json:"SUPPORTDESK_STAFF_ID"`
	DBPath                   string   `json:"SUPPORTDESK_DB_PATH"`
	ArchiveDSN               string   `json:"SUPPORTDESK_ARCHIVE_DSN"`
	NoticesPath              string   `json:"SUPPORTDESK_NOTICES_PATH"`
	LogLevel                 string   `json:"SUPPORTDESK_LOG_LEVEL"`
	DeviceRoots              []string `json:"SUPPORTDESK_DEVICE_ROOTS"`
	MaxRetries               int      `json:"SUPPORTDESK_MAX_RETRIES"`
	TimeoutSeconds           int      `json:"SUPPORTDESK_TIMEOUT_SECONDS"`
	RetryBaseDelayMs         int      `json:"SUPPORTDESK_RETRY_BASE_DELAY_MS"`
	SyncIntervalSeconds      int      `json:"SUPPORTDESK_SYNC_INTERVAL_SECONDS"`
	HeartbeatIntervalSeconds int      `json:"SUPPORTDESK_HEARTBEAT_INTERVAL_SECONDS"`
	DirectoryRefreshSeconds  int      `json:"SUPPORTDESK_DIRECTORY_REFRESH_SECONDS"`
	APIPort                  int      `json:"SUPPORTDESK_API_PORT"`
	MaxMessageLength         int      `json:"SUPPORTDESK_MAX_MESSAGE_LENGTH"`
	StoreEnabled             bool     `json:"SUPPORTDESK_STORE_ENABLED"`
	GroupByCustomer          bool     `json:"SUPPORTDESK_GROUP_BY_CUSTOMER"`
}

var (
	global     *Config
	globalOnce sync.Once
	globalMu   sync.RWMutex
)

// DataDir returns the data directory path.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".supportdesk")
}

// DBPath returns the default local cache path.
func DBPath() string {
	return filepath.Join(DataDir(), "supportdesk.db")
}

// SettingsPath returns the JSON settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), "settings.json")
}

// YAMLSettingsPath returns the YAML settings file path.
func YAMLSettingsPath() string {
	return filepath.Join(DataDir(), "settings.yaml")
}

// NoticesPath returns the default notice catalog path.
func NoticesPath() string {
	return filepath.Join(DataDir(), "notices.yaml")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0o750)
}

// EnsureSettings writes default settings if no settings file exists.
func EnsureSettings() error {
	if _, err := os.Stat(YAMLSettingsPath()); err == nil {
		return nil
	}
	path := SettingsPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	data, err := json.MarshalIndent(Default(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// EnsureAll creates the data directory and default settings.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := EnsureSettings(); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		StoreEnabled:             true,
		MaxRetries:               DefaultMaxRetries,
		TimeoutSeconds:           DefaultTimeoutSeconds,
		RetryBaseDelayMs:         DefaultRetryBaseDelayMs,
		SyncIntervalSeconds:      DefaultSyncIntervalSeconds,
		HeartbeatIntervalSeconds: DefaultHeartbeatIntervalSeconds,
		DirectoryRefreshSeconds:  DefaultDirectoryRefreshSeconds,
		APIPort:                  DefaultAPIPort,
		MaxMessageLength:         DefaultMaxMessageLength,
		LogLevel:                 "info",
		DeviceRoots:              []string{},
	}
}

// Load reads settings from disk and the environment. Unreadable or invalid
// settings files leave the defaults in place.
func Load() (*Config, error) {
	cfg := Default()
	values := make(map[string]any)

	if data, err := os.ReadFile(SettingsPath()); err == nil {
		if err := json.Unmarshal(data, &values); err != nil {
			log.Warn().Err(err).Str("path", SettingsPath()).Msg("Invalid settings file, using defaults")
			values = make(map[string]any)
		}
	}
	if data, err := os.ReadFile(YAMLSettingsPath()); err == nil {
		overlay := make(map[string]any)
		if err := yaml.Unmarshal(data, &overlay); err != nil {
			log.Warn().Err(err).Str("path", YAMLSettingsPath()).Msg("Invalid YAML settings, ignoring")
		} else {
			for k, v := range overlay {
				values[k] = v
			}
		}
	}

	for key, v := range values {
		if err := cfg.set(key, stringify(v)); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Ignoring invalid setting")
		}
	}
	for _, key := range Keys() {
		if v, ok := os.LookupEnv(key); ok {
			if err := cfg.set(key, v); err != nil {
				log.Warn().Err(err).Str("key", key).Msg("Ignoring invalid environment override")
			}
		}
	}
	cfg.normalize()
	return cfg, nil
}

// Get returns the process-wide configuration, loading it on first use.
func Get() *Config {
	globalOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			cfg = Default()
		}
		globalMu.Lock()
		global = cfg
		globalMu.Unlock()
	})
	globalMu.RLock()
	defer globalMu.RUnlock()
	return global
}

// GetAPIPort returns the API port, preferring a valid SUPPORTDESK_API_PORT.
func GetAPIPort() int {
	if v := os.Getenv(KeyAPIPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			return port
		}
	}
	return Get().APIPort
}

// setters maps each key to its parser.
var setters = map[string]func(*Config, string) error{
	KeyStoreURL:                 func(c *Config, v string) error { c.StoreURL = v; return nil },
	KeyStoreEnabled:             boolSetter(func(c *Config) *bool { return &c.StoreEnabled }),
	KeyMaxRetries:               intSetter(func(c *Config) *int { return &c.MaxRetries }),
	KeyTimeoutSeconds:           intSetter(func(c *Config) *int { return &c.TimeoutSeconds }),
	KeyRetryBaseDelayMs:         intSetter(func(c *Config) *int { return &c.RetryBaseDelayMs }),
	KeySyncIntervalSeconds:      intSetter(func(c *Config) *int { return &c.SyncIntervalSeconds }),
	KeyHeartbeatIntervalSeconds: intSetter(func(c *Config) *int { return &c.HeartbeatIntervalSeconds }),
	KeyDirectoryRefreshSeconds:  intSetter(func(c *Config) *int { return &c.DirectoryRefreshSeconds }),
	KeyStaffID:                  func(c *Config, v string) error { c.StaffID = v; return nil },
	KeyGroupByCustomer:          boolSetter(func(c *Config) *bool { return &c.GroupByCustomer }),
	KeyAPIPort:                  intSetter(func(c *Config) *int { return &c.APIPort }),
	KeyDBPath:                   func(c *Config, v string) error { c.DBPath = v; return nil },
	KeyArchiveDSN:               func(c *Config, v string) error { c.ArchiveDSN = v; return nil },
	KeyDeviceRoots:              func(c *Config, v string) error { c.DeviceRoots = splitTrim(v); return nil },
	KeyMaxMessageLength:         intSetter(func(c *Config) *int { return &c.MaxMessageLength }),
	KeyNoticesPath:              func(c *Config, v string) error { c.NoticesPath = v; return nil },
	KeyLogLevel:                 func(c *Config, v string) error { c.LogLevel = strings.ToLower(v); return nil },
}

// Keys returns every recognized setting key, sorted.
func Keys() []string {
	keys := make([]string, 0, len(setters))
	for k := range setters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c *Config) set(key, value string) error {
	fn, ok := setters[key]
	if !ok {
		return fmt.Errorf("unknown setting %s", key)
	}
	return fn(c, strings.TrimSpace(value))
}

func intSetter(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func boolSetter(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

// normalize replaces out-of-range values with defaults.
func (c *Config) normalize() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if c.RetryBaseDelayMs <= 0 {
		c.RetryBaseDelayMs = DefaultRetryBaseDelayMs
	}
	if c.SyncIntervalSeconds < MinSyncIntervalSeconds {
		c.SyncIntervalSeconds = MinSyncIntervalSeconds
	}
	if c.HeartbeatIntervalSeconds <= 0 {
		c.HeartbeatIntervalSeconds = DefaultHeartbeatIntervalSeconds
	}
	if c.DirectoryRefreshSeconds <= 0 {
		c.DirectoryRefreshSeconds = DefaultDirectoryRefreshSeconds
	}
	if c.APIPort <= 0 {
		c.APIPort = DefaultAPIPort
	}
	if c.MaxMessageLength <= 0 {
		c.MaxMessageLength = DefaultMaxMessageLength
	}
	if c.DeviceRoots == nil {
		c.DeviceRoots = []string{}
	}
}

// Timeout returns the per-attempt store timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RetryBaseDelay returns the backoff unit.
func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelayMs) * time.Millisecond
}

// SyncInterval returns the message sync period.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(max(c.SyncIntervalSeconds, MinSyncIntervalSeconds)) * time.Second
}

// HeartbeatInterval returns the presence refresh period.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSeconds) * time.Second
}

// DirectoryRefresh returns the staff directory period.
func (c *Config) DirectoryRefresh() time.Duration {
	return time.Duration(c.DirectoryRefreshSeconds) * time.Second
}

// ResolvedDBPath returns the configured cache path or the default.
func (c *Config) ResolvedDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}
	return DBPath()
}

// ResolvedNoticesPath returns the configured notice catalog path or the default.
func (c *Config) ResolvedNoticesPath() string {
	if c.NoticesPath != "" {
		return c.NoticesPath
	}
	return NoticesPath()
}

// RemoteEnabled reports whether the store should be contacted.
func (c *Config) RemoteEnabled() bool {
	return c.StoreEnabled && c.StoreURL != ""
}

// stringify renders a decoded settings value in its environment form.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case []any:
		parts := make([]string, 0, len(t))
		for _, p := range t {
			parts = append(parts, stringify(p))
		}
		return strings.Join(parts, ",")
	}
	return fmt.Sprint(v)
}

// splitTrim splits a comma-separated string and drops empty values.
func splitTrim(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
