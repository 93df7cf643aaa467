package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	StoreKindGitee    = "gitee"
	StoreKindGitHub   = "github"
	StoreKindSQLite   = "sqlite"
	StoreKindPostgres = "postgres"
	StoreKindRedis    = "redis"
	StoreKindMemory   = "memory"
)

const (
	DefaultPollInterval   = 10 * time.Second
	DefaultRequestTimeout = 30 * time.Second
)

// StoreConfig selects and configures the mailbox backend. The flat
// access_token/user_name/repo/file_path keys mirror the hosted-file layout.
type StoreConfig struct {
	Kind               string  `koanf:"kind" mapstructure:"kind"`
	AccessToken        string  `koanf:"access_token" mapstructure:"access_token"`
	UserName           string  `koanf:"user_name" mapstructure:"user_name"`
	Repo               string  `koanf:"repo" mapstructure:"repo"`
	FilePath           string  `koanf:"file_path" mapstructure:"file_path"`
	Branch             string  `koanf:"branch" mapstructure:"branch"`
	BaseURL            string  `koanf:"base_url" mapstructure:"base_url"`
	BlobDir            string  `koanf:"blob_dir" mapstructure:"blob_dir"`
	RateLimitPerSecond float64 `koanf:"rate_limit_per_second" mapstructure:"rate_limit_per_second"`
	Driver             string  `koanf:"driver" mapstructure:"driver"`
	DSN                string  `koanf:"dsn" mapstructure:"dsn"`
	RedisURL           string  `koanf:"redis_url" mapstructure:"redis_url"`
	KeyPrefix          string  `koanf:"key_prefix" mapstructure:"key_prefix"`
}

type Config struct {
	ServiceName               string        `koanf:"service_name" mapstructure:"service_name"`
	PollInterval              time.Duration `koanf:"poll_interval" mapstructure:"poll_interval"`
	RequestTimeout            time.Duration `koanf:"request_timeout" mapstructure:"request_timeout"`
	MaxAge                    time.Duration `koanf:"max_age" mapstructure:"max_age"`
	ExpiryMode                string        `koanf:"expiry_mode" mapstructure:"expiry_mode"`
	RetainStashOnWriteFailure bool          `koanf:"retain_stash_on_write_failure" mapstructure:"retain_stash_on_write_failure"`
	MaxBlobAttempts           int           `koanf:"max_blob_attempts" mapstructure:"max_blob_attempts"`
	ImmediateFirstPoll        bool          `koanf:"immediate_first_poll" mapstructure:"immediate_first_poll"`
	Store                     StoreConfig   `koanf:"store" mapstructure:"store"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName:    "mailbox",
		PollInterval:   DefaultPollInterval,
		RequestTimeout: DefaultRequestTimeout,
		MaxAge:         DefaultMaxAge,
		ExpiryMode:     string(ExpiryModeTimeout),
		Store: StoreConfig{
			Kind:     StoreKindGitee,
			FilePath: "io",
			BlobDir:  "files",
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("core: poll_interval must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("core: request_timeout must be positive")
	}
	if c.MaxAge <= 0 {
		return fmt.Errorf("core: max_age must be positive")
	}
	if !ParseExpiryMode(c.ExpiryMode).Valid() {
		return fmt.Errorf("core: expiry_mode %q is invalid", c.ExpiryMode)
	}
	if c.MaxBlobAttempts < 0 {
		return fmt.Errorf("core: max_blob_attempts must not be negative")
	}
	return c.Store.Validate()
}

func (s StoreConfig) Validate() error {
	switch normalizeStoreKind(s.Kind) {
	case StoreKindGitee, StoreKindGitHub:
		if strings.TrimSpace(s.UserName) == "" {
			return fmt.Errorf("core: store user_name is required")
		}
		if strings.TrimSpace(s.Repo) == "" {
			return fmt.Errorf("core: store repo is required")
		}
		if strings.TrimSpace(s.FilePath) == "" {
			return fmt.Errorf("core: store file_path is required")
		}
		if strings.TrimSpace(s.AccessToken) == "" {
			return fmt.Errorf("core: store access_token is required")
		}
		if s.RateLimitPerSecond < 0 {
			return fmt.Errorf("core: store rate_limit_per_second must not be negative")
		}
	case StoreKindSQLite, StoreKindPostgres:
		if strings.TrimSpace(s.DSN) == "" {
			return fmt.Errorf("core: store dsn is required")
		}
	case StoreKindRedis:
		if strings.TrimSpace(s.RedisURL) == "" {
			return fmt.Errorf("core: store redis_url is required")
		}
	case StoreKindMemory:
	default:
		return fmt.Errorf("core: store kind %q is invalid", s.Kind)
	}
	return nil
}

func (s StoreConfig) NormalizedKind() string {
	return normalizeStoreKind(s.Kind)
}

// SessionConfig projects the options that drive a Session.
func (c Config) SessionConfig() SessionConfig {
	return SessionConfig{
		MaxAge:                    c.MaxAge,
		RequestTimeout:            c.RequestTimeout,
		ExpiryMode:                ParseExpiryMode(c.ExpiryMode),
		RetainStashOnWriteFailure: c.RetainStashOnWriteFailure,
		MaxBlobAttempts:           c.MaxBlobAttempts,
	}
}

func (c Config) RouterConfig() RouterConfig {
	return RouterConfig{
		PollInterval:       c.PollInterval,
		ImmediateFirstPoll: c.ImmediateFirstPoll,
	}
}

func normalizeStoreKind(kind string) string {
	return strings.TrimSpace(strings.ToLower(kind))
}
