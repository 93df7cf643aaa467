package core

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mailbox.config.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func TestFileConfigLoader_LiftsLegacyFlatKeys(t *testing.T) {
	path := writeConfigFile(t, `{
		"access_token": "tok",
		"user_name": "alice",
		"repo": "mailbox",
		"file_path": "io"
	}`)
	resolver := GoOptionsResolver{File: FileConfigLoader{Path: path}}
	cfg, err := resolver.Load(context.Background(), DefaultConfig())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Kind != StoreKindGitee {
		t.Fatalf("expected gitee store kind, got %q", cfg.Store.Kind)
	}
	if cfg.Store.AccessToken != "tok" || cfg.Store.UserName != "alice" || cfg.Store.Repo != "mailbox" {
		t.Fatalf("unexpected store config %#v", cfg.Store)
	}
	if cfg.PollInterval != DefaultPollInterval || cfg.MaxAge != DefaultMaxAge {
		t.Fatalf("expected defaults to survive, got poll=%s max_age=%s", cfg.PollInterval, cfg.MaxAge)
	}
	if cfg.Store.BlobDir != "files" {
		t.Fatalf("expected default blob dir, got %q", cfg.Store.BlobDir)
	}
}

func TestGoOptionsResolver_RuntimeOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `{
		"poll_interval": "30s",
		"store": {"kind": "memory"}
	}`)
	resolver := GoOptionsResolver{
		File: FileConfigLoader{Path: path},
		Runtime: EnvConfigLoader{Environment: map[string]string{
			"MAILBOX_POLL_INTERVAL":     "2s",
			"MAILBOX_EXPIRY_MODE":       "uniform",
			"MAILBOX_MAX_BLOB_ATTEMPTS": "3",
		}},
	}
	cfg, err := resolver.Load(context.Background(), DefaultConfig())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PollInterval != 2*time.Second {
		t.Fatalf("expected runtime poll interval, got %s", cfg.PollInterval)
	}
	if ParseExpiryMode(cfg.ExpiryMode) != ExpiryModeUniform {
		t.Fatalf("expected uniform expiry, got %q", cfg.ExpiryMode)
	}
	if cfg.MaxBlobAttempts != 3 {
		t.Fatalf("expected max blob attempts 3, got %d", cfg.MaxBlobAttempts)
	}
	if cfg.Store.Kind != StoreKindMemory {
		t.Fatalf("expected memory store, got %q", cfg.Store.Kind)
	}
	session := cfg.SessionConfig()
	if session.ExpiryMode != ExpiryModeUniform || session.MaxBlobAttempts != 3 {
		t.Fatalf("unexpected session projection %#v", session)
	}
	if cfg.RouterConfig().PollInterval != 2*time.Second {
		t.Fatalf("unexpected router projection")
	}
}

func TestFileConfigLoader_MissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.json")
	raw, err := FileConfigLoader{Path: missing}.LoadRaw(context.Background())
	if err != nil || len(raw) != 0 {
		t.Fatalf("expected empty layer for optional missing file, got %v %v", raw, err)
	}
	if _, err := (FileConfigLoader{Path: missing, Required: true}).LoadRaw(context.Background()); err == nil {
		t.Fatalf("expected error for required missing file")
	}
}

func TestCfgxConfigProvider_Validates(t *testing.T) {
	provider := NewCfgxConfigProvider(StaticConfigLoader{Values: map[string]any{
		"store": map[string]any{"kind": "sqlite"},
	}})
	if _, err := provider.Load(context.Background(), DefaultConfig()); err == nil {
		t.Fatalf("expected validation error for sqlite without dsn")
	}

	provider = NewCfgxConfigProvider(StaticConfigLoader{Values: map[string]any{
		"max_age": 60000,
		"store":   map[string]any{"kind": "sqlite", "dsn": "file:mailbox.db"},
	}})
	cfg, err := provider.Load(context.Background(), DefaultConfig())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxAge != time.Minute {
		t.Fatalf("expected millisecond max_age to become 1m, got %s", cfg.MaxAge)
	}
}

func TestNormalizeRawConfig_RejectsBadDuration(t *testing.T) {
	if _, err := normalizeRawConfig(map[string]any{"poll_interval": "soon"}); err == nil {
		t.Fatalf("expected invalid duration error")
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store = StoreConfig{Kind: StoreKindMemory}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected memory config to validate: %v", err)
	}

	cases := map[string]func(*Config){
		"service name":  func(c *Config) { c.ServiceName = " " },
		"poll interval": func(c *Config) { c.PollInterval = 0 },
		"expiry mode":   func(c *Config) { c.ExpiryMode = "never" },
		"store kind":    func(c *Config) { c.Store.Kind = "ftp" },
		"redis url":     func(c *Config) { c.Store.Kind = StoreKindRedis },
		"gitee token": func(c *Config) {
			c.Store = StoreConfig{Kind: StoreKindGitee, UserName: "a", Repo: "b", FilePath: "io"}
		},
	}
	for name, mutate := range cases {
		candidate := cfg
		mutate(&candidate)
		if err := candidate.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}
