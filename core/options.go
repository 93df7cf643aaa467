package core

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
)

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type StaticConfigLoader struct {
	Values map[string]any
}

func (l StaticConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	return normalizeRawConfig(l.Values)
}

// FileConfigLoader reads a JSON config file. A missing file is an empty layer
// unless Required is set.
type FileConfigLoader struct {
	Path     string
	Required bool
}

func (l FileConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	path := strings.TrimSpace(l.Path)
	if path == "" {
		return map[string]any{}, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !l.Required {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("core: read config file %q: %w", path, err)
	}
	raw := map[string]any{}
	if err := json.Unmarshal(content, &raw); err != nil {
		return nil, fmt.Errorf("core: parse config file %q: %w", path, err)
	}
	return normalizeRawConfig(raw)
}

// envConfig lists the MAILBOX_* runtime overrides. Unset variables stay nil so
// they do not shadow lower layers.
type envConfig struct {
	ServiceName               *string        `env:"SERVICE_NAME"`
	PollInterval              *time.Duration `env:"POLL_INTERVAL"`
	RequestTimeout            *time.Duration `env:"REQUEST_TIMEOUT"`
	MaxAge                    *time.Duration `env:"MAX_AGE"`
	ExpiryMode                *string        `env:"EXPIRY_MODE"`
	RetainStashOnWriteFailure *bool          `env:"RETAIN_STASH_ON_WRITE_FAILURE"`
	MaxBlobAttempts           *int           `env:"MAX_BLOB_ATTEMPTS"`
	ImmediateFirstPoll        *bool          `env:"IMMEDIATE_FIRST_POLL"`
	StoreKind                 *string        `env:"STORE_KIND"`
	AccessToken               *string        `env:"ACCESS_TOKEN"`
	UserName                  *string        `env:"USER_NAME"`
	Repo                      *string        `env:"REPO"`
	FilePath                  *string        `env:"FILE_PATH"`
	Branch                    *string        `env:"BRANCH"`
	BaseURL                   *string        `env:"BASE_URL"`
	BlobDir                   *string        `env:"BLOB_DIR"`
	RateLimitPerSecond        *float64       `env:"RATE_LIMIT_PER_SECOND"`
	Driver                    *string        `env:"DRIVER"`
	DSN                       *string        `env:"DSN"`
	RedisURL                  *string        `env:"REDIS_URL"`
	KeyPrefix                 *string        `env:"KEY_PREFIX"`
}

// EnvConfigLoader reads MAILBOX_* variables. Environment overrides the process
// environment when non-nil.
type EnvConfigLoader struct {
	Prefix      string
	Environment map[string]string
}

func (l EnvConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	prefix := l.Prefix
	if prefix == "" {
		prefix = "MAILBOX_"
	}
	parsed := envConfig{}
	options := env.Options{Prefix: prefix}
	if l.Environment != nil {
		options.Environment = l.Environment
	}
	if err := env.ParseWithOptions(&parsed, options); err != nil {
		return nil, fmt.Errorf("core: parse environment config: %w", err)
	}
	return parsed.layer(), nil
}

func (c envConfig) layer() map[string]any {
	layer := map[string]any{}
	setString(layer, "service_name", c.ServiceName)
	if c.PollInterval != nil {
		layer["poll_interval"] = *c.PollInterval
	}
	if c.RequestTimeout != nil {
		layer["request_timeout"] = *c.RequestTimeout
	}
	if c.MaxAge != nil {
		layer["max_age"] = *c.MaxAge
	}
	setString(layer, "expiry_mode", c.ExpiryMode)
	if c.RetainStashOnWriteFailure != nil {
		layer["retain_stash_on_write_failure"] = *c.RetainStashOnWriteFailure
	}
	if c.MaxBlobAttempts != nil {
		layer["max_blob_attempts"] = *c.MaxBlobAttempts
	}
	if c.ImmediateFirstPoll != nil {
		layer["immediate_first_poll"] = *c.ImmediateFirstPoll
	}

	store := map[string]any{}
	setString(store, "kind", c.StoreKind)
	setString(store, "access_token", c.AccessToken)
	setString(store, "user_name", c.UserName)
	setString(store, "repo", c.Repo)
	setString(store, "file_path", c.FilePath)
	setString(store, "branch", c.Branch)
	setString(store, "base_url", c.BaseURL)
	setString(store, "blob_dir", c.BlobDir)
	if c.RateLimitPerSecond != nil {
		store["rate_limit_per_second"] = *c.RateLimitPerSecond
	}
	setString(store, "driver", c.Driver)
	setString(store, "dsn", c.DSN)
	setString(store, "redis_url", c.RedisURL)
	setString(store, "key_prefix", c.KeyPrefix)
	if len(store) > 0 {
		layer["store"] = store
	}
	return layer
}

func setString(layer map[string]any, key string, value *string) {
	if value == nil {
		return
	}
	layer[key] = strings.TrimSpace(*value)
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = StaticConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	return buildConfig(raw, defaults)
}

// GoOptionsResolver merges defaults, the config file layer and the runtime
// layer in ascending priority.
type GoOptionsResolver struct {
	File    RawConfigLoader
	Runtime RawConfigLoader
}

func (r GoOptionsResolver) Load(ctx context.Context, defaults Config) (Config, error) {
	fileLayer, err := loadLayer(ctx, r.File)
	if err != nil {
		return Config{}, err
	}
	runtimeLayer, err := loadLayer(ctx, r.Runtime)
	if err != nil {
		return Config{}, err
	}

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			fileLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	return buildConfig(merged.Value, defaults)
}

// LoadConfig resolves defaults < file < MAILBOX_* environment.
func LoadConfig(ctx context.Context, path string) (Config, error) {
	resolver := GoOptionsResolver{
		File:    FileConfigLoader{Path: path},
		Runtime: EnvConfigLoader{},
	}
	return resolver.Load(ctx, DefaultConfig())
}

func loadLayer(ctx context.Context, loader RawConfigLoader) (map[string]any, error) {
	if loader == nil {
		return map[string]any{}, nil
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return map[string]any{}, nil
	}
	return raw, nil
}

func buildConfig(raw map[string]any, defaults Config) (Config, error) {
	normalized, err := normalizeRawConfig(raw)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](normalized,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	cfg.ExpiryMode = string(ParseExpiryMode(cfg.ExpiryMode))
	cfg.Store.Kind = normalizeStoreKind(cfg.Store.Kind)
	return cfg, nil
}

func configToLayerMap(cfg Config) map[string]any {
	return map[string]any{
		"service_name":                  cfg.ServiceName,
		"poll_interval":                 cfg.PollInterval,
		"request_timeout":               cfg.RequestTimeout,
		"max_age":                       cfg.MaxAge,
		"expiry_mode":                   cfg.ExpiryMode,
		"retain_stash_on_write_failure": cfg.RetainStashOnWriteFailure,
		"max_blob_attempts":             cfg.MaxBlobAttempts,
		"immediate_first_poll":          cfg.ImmediateFirstPoll,
		"store": map[string]any{
			"kind":                  cfg.Store.Kind,
			"access_token":          cfg.Store.AccessToken,
			"user_name":             cfg.Store.UserName,
			"repo":                  cfg.Store.Repo,
			"file_path":             cfg.Store.FilePath,
			"branch":                cfg.Store.Branch,
			"base_url":              cfg.Store.BaseURL,
			"blob_dir":              cfg.Store.BlobDir,
			"rate_limit_per_second": cfg.Store.RateLimitPerSecond,
			"driver":                cfg.Store.Driver,
			"dsn":                   cfg.Store.DSN,
			"redis_url":             cfg.Store.RedisURL,
			"key_prefix":            cfg.Store.KeyPrefix,
		},
	}
}

var legacyStoreKeys = []string{"access_token", "user_name", "repo", "file_path"}

var durationKeys = []string{"poll_interval", "request_timeout", "max_age"}

// normalizeRawConfig lifts the flat hosted-file keys into the store section
// and converts duration strings ("10s") and millisecond numbers into
// time.Duration values.
func normalizeRawConfig(raw map[string]any) (map[string]any, error) {
	out := cloneFields(raw)
	store := map[string]any{}
	if existing, ok := out["store"].(map[string]any); ok {
		store = cloneFields(existing)
	}
	lifted := false
	for _, key := range legacyStoreKeys {
		value, ok := out[key]
		if !ok {
			continue
		}
		delete(out, key)
		if _, exists := store[key]; !exists {
			store[key] = value
		}
		lifted = true
	}
	if lifted {
		if _, ok := store["kind"]; !ok {
			store["kind"] = StoreKindGitee
		}
	}
	if len(store) > 0 {
		out["store"] = store
	}

	for _, key := range durationKeys {
		value, ok := out[key]
		if !ok {
			continue
		}
		parsed, err := parseDurationValue(value)
		if err != nil {
			return nil, fmt.Errorf("core: invalid %s: %w", key, err)
		}
		out[key] = parsed
	}
	return out, nil
}

func parseDurationValue(value any) (time.Duration, error) {
	switch typed := value.(type) {
	case time.Duration:
		return typed, nil
	case string:
		return time.ParseDuration(strings.TrimSpace(typed))
	case float64:
		return time.Duration(typed) * time.Millisecond, nil
	case int:
		return time.Duration(typed) * time.Millisecond, nil
	case int64:
		return time.Duration(typed) * time.Millisecond, nil
	default:
		return 0, fmt.Errorf("unsupported duration value %T", value)
	}
}

var _ ConfigProvider = (*CfgxConfigProvider)(nil)
var _ ConfigProvider = GoOptionsResolver{}
