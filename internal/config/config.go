// Package config loads finsync settings from a TOML file and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Remote providers.
const (
	ProviderDrive = "drive"
	ProviderGCS   = "gcs"
	ProviderNone  = "none"
)

// Sync guards.
const (
	GuardLocal = "local"
	GuardRedis = "redis"
)

// Config holds application configuration.
type Config struct {
	Storage  StorageConfig
	Remote   RemoteConfig
	Auth     AuthConfig
	Session  SessionConfig
	Sync     SyncConfig
	Import   ImportConfig
	QuickAdd QuickAddConfig `mapstructure:"quickadd"`
	Log      LogConfig
}

// StorageConfig selects the local key-value backend.
type StorageConfig struct {
	Backend       string
	SQLitePath    string `mapstructure:"sqlite_path"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisChannel  string `mapstructure:"redis_channel"`
}

// RemoteConfig selects where snapshots are synced.
type RemoteConfig struct {
	Provider  string
	Folder    string
	File      string
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// AuthConfig holds the Google OAuth client.
type AuthConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURL  string `mapstructure:"redirect_url"`
}

// SessionConfig tunes the data session.
type SessionConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	SeedSampleData bool          `mapstructure:"seed_sample_data"`
	AutoPush       bool          `mapstructure:"auto_push"`
}

// SyncConfig tunes the sync worker.
type SyncConfig struct {
	Guard      string
	LockTTL    time.Duration `mapstructure:"lock_ttl"`
	MaxRetries int           `mapstructure:"max_retries"`
	QueueSize  int           `mapstructure:"queue_size"`
}

// ImportConfig holds spreadsheet import defaults.
type ImportConfig struct {
	DefaultYear  int    `mapstructure:"default_year"`
	DefaultPayer string `mapstructure:"default_payer"`
	AllowPartial bool   `mapstructure:"allow_partial"`
}

// QuickAddConfig configures the quick-add HTTP server.
type QuickAddConfig struct {
	Port           int
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LogConfig selects log level and output format.
type LogConfig struct {
	Level  string
	Format string
}

// Path returns the config file location: $FINSYNC_CONFIG, or
// ~/.config/finsync/config.toml.
func Path() string {
	if p := os.Getenv("FINSYNC_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(os.Getenv("HOME"), ".config", "finsync", "config.toml")
}

// Load reads configuration from file and env. Env var overrides use prefix FINSYNC_.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("toml")
	v.SetConfigFile(Path())

	v.SetEnvPrefix("FINSYNC")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// A missing file is fine; defaults and env still apply.
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func setDefaults(v *viper.Viper) {
	dataDir := filepath.Join(os.Getenv("HOME"), ".local", "share", "finsync")

	v.SetDefault("storage.backend", BackendSQLite)
	v.SetDefault("storage.sqlite_path", filepath.Join(dataDir, "finsync.db"))
	v.SetDefault("storage.redis_addr", "localhost:6379")
	v.SetDefault("storage.redis_password", "")
	v.SetDefault("storage.redis_db", 0)
	v.SetDefault("storage.redis_channel", "finsync:changes")

	v.SetDefault("remote.provider", ProviderDrive)
	v.SetDefault("remote.folder", "PersonalFinanceApp")
	v.SetDefault("remote.file", "finance_data.json")
	v.SetDefault("remote.gcs_bucket", "")

	v.SetDefault("auth.client_id", "")
	v.SetDefault("auth.client_secret", "")
	v.SetDefault("auth.redirect_url", "http://127.0.0.1:8085/callback")

	v.SetDefault("session.poll_interval", "5s")
	v.SetDefault("session.seed_sample_data", true)
	v.SetDefault("session.auto_push", true)

	v.SetDefault("sync.guard", GuardLocal)
	v.SetDefault("sync.lock_ttl", "2m")
	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("sync.queue_size", 100)

	v.SetDefault("import.default_year", 2024)
	v.SetDefault("import.default_payer", "Me")
	v.SetDefault("import.allow_partial", false)

	v.SetDefault("quickadd.port", 8080)
	v.SetDefault("quickadd.allowed_origins", []string{"*"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Validate rejects unknown backends, providers and guards, and settings
// that a chosen backend needs but lacks.
func (c Config) Validate() error {
	if !slices.Contains([]string{BackendMemory, BackendSQLite, BackendRedis}, c.Storage.Backend) {
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.Backend == BackendSQLite && c.Storage.SQLitePath == "" {
		return fmt.Errorf("storage.sqlite_path is required for the sqlite backend")
	}
	if !slices.Contains([]string{ProviderDrive, ProviderGCS, ProviderNone}, c.Remote.Provider) {
		return fmt.Errorf("unknown remote provider %q", c.Remote.Provider)
	}
	if c.Remote.Provider == ProviderGCS && c.Remote.GCSBucket == "" {
		return fmt.Errorf("remote.gcs_bucket is required for the gcs provider")
	}
	if c.Remote.Provider != ProviderNone && (c.Remote.Folder == "" || c.Remote.File == "") {
		return fmt.Errorf("remote.folder and remote.file must be set")
	}
	if !slices.Contains([]string{GuardLocal, GuardRedis}, c.Sync.Guard) {
		return fmt.Errorf("unknown sync guard %q", c.Sync.Guard)
	}
	if (c.Storage.Backend == BackendRedis || c.Sync.Guard == GuardRedis) && c.Storage.RedisAddr == "" {
		return fmt.Errorf("storage.redis_addr is required")
	}
	if c.Sync.MaxRetries < 0 {
		return fmt.Errorf("sync.max_retries must not be negative")
	}
	if c.QuickAdd.Port <= 0 || c.QuickAdd.Port > 65535 {
		return fmt.Errorf("invalid quickadd.port %d", c.QuickAdd.Port)
	}
	return nil
}
