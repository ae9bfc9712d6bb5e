package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigMissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.CurrentContext != "" || len(cfg.Contexts) != 0 {
		t.Fatalf("expected empty config, got %+v", cfg)
	}
}

func TestSaveAndLoadConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := &Config{}
	setContext(cfg, Context{Name: "prod", Server: "https://ops.example.com", Token: "abc", RefreshInterval: "30s"}, false)
	setContext(cfg, Context{Name: "dev", Server: "http://localhost:8080"}, false)
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600 permissions, got %v", info.Mode().Perm())
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.CurrentContext != "prod" {
		t.Fatalf("first context should stay current, got %q", loaded.CurrentContext)
	}
	prod := loaded.Contexts["prod"]
	if prod.Token != "abc" || prod.Interval() != 30*time.Second {
		t.Fatalf("unexpected prod context %+v", prod)
	}
}

func TestLoadConfigRejectsGarbage(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("contexts: [unterminated"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestResolveAppliesOverrides(t *testing.T) {
	t.Parallel()

	cfg := &Config{Contexts: map[string]Context{
		"prod": {Name: "prod", Server: "https://ops.example.com", Token: "abc"},
		"bare": {Name: "bare"},
	}, CurrentContext: "prod"}

	ctx, err := cfg.Resolve("", "", "")
	if err != nil || ctx.Server != "https://ops.example.com" || ctx.Token != "abc" {
		t.Fatalf("unexpected current context %+v err=%v", ctx, err)
	}
	ctx, err = cfg.Resolve("prod", "http://override:9000", "t2")
	if err != nil || ctx.Server != "http://override:9000" || ctx.Token != "t2" {
		t.Fatalf("overrides not applied: %+v err=%v", ctx, err)
	}
	if cfg.Contexts["prod"].Server != "https://ops.example.com" {
		t.Fatalf("resolve must not mutate the stored context")
	}
	if _, err := cfg.Resolve("missing", "", ""); err == nil {
		t.Fatalf("expected unknown context error")
	}
	if _, err := cfg.Resolve("bare", "", ""); err == nil {
		t.Fatalf("expected missing server error")
	}
	if _, err := (&Config{}).Resolve("", "", ""); err == nil {
		t.Fatalf("expected error without any context")
	}
}

func TestContextInterval(t *testing.T) {
	t.Parallel()

	cases := map[string]time.Duration{
		"":      0,
		"15s":   15 * time.Second,
		"2m":    2 * time.Minute,
		"-5s":   0,
		"often": 0,
	}
	for raw, want := range cases {
		if got := (Context{RefreshInterval: raw}).Interval(); got != want {
			t.Fatalf("Interval(%q) = %s, want %s", raw, got, want)
		}
	}
}

func TestFeedConfigDefaultsInterval(t *testing.T) {
	t.Parallel()

	fc := feedConfig(&Context{Server: "http://ops.local/ "})
	if fc.RefreshInterval != 10*time.Second {
		t.Fatalf("expected default refresh interval, got %s", fc.RefreshInterval)
	}
	if fc.APIBase != "http://ops.local" {
		t.Fatalf("expected trimmed base, got %q", fc.APIBase)
	}
}

func TestRedactTokens(t *testing.T) {
	t.Parallel()

	cfg := &Config{Contexts: map[string]Context{"prod": {Name: "prod", Token: "secret"}, "dev": {Name: "dev"}}}
	out := redactTokens(cfg)
	if out.Contexts["prod"].Token == "secret" || out.Contexts["dev"].Token != "" {
		t.Fatalf("unexpected redaction %+v", out.Contexts)
	}
	if cfg.Contexts["prod"].Token != "secret" {
		t.Fatalf("stored config must be untouched")
	}
}
