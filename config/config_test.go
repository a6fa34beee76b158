package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.MaxSpin != 10*time.Second {
		t.Errorf("MaxSpin: got %v", cfg.MaxSpin)
	}
	if cfg.HelperCacheSize != 32 {
		t.Errorf("HelperCacheSize: got %d", cfg.HelperCacheSize)
	}
	if cfg.LongWaitWarning != 0 || cfg.DisableWaitAsync || cfg.SingleThreaded {
		t.Errorf("unexpected non-zero defaults: %+v", cfg)
	}
}

func TestFromEnv(t *testing.T) {
	cfg, err := FromEnv(Default(), envMap(map[string]string{
		EnvDisableWaitAsync: "1",
		EnvLongWaitWarning:  "1500",
		EnvMaxSpin:          "250ms",
		EnvHelperCache:      "4",
		EnvPolyfillTimeout:  "2s",
		EnvSingleThreaded:   "false",
	}))
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if !cfg.DisableWaitAsync {
		t.Error("DisableWaitAsync should be set")
	}
	if cfg.SingleThreaded {
		t.Error("SingleThreaded should be unset")
	}
	if cfg.LongWaitWarning != 1500*time.Millisecond {
		t.Errorf("LongWaitWarning: got %v", cfg.LongWaitWarning)
	}
	if cfg.MaxSpin != 250*time.Millisecond {
		t.Errorf("MaxSpin: got %v", cfg.MaxSpin)
	}
	if cfg.HelperCacheSize != 4 {
		t.Errorf("HelperCacheSize: got %d", cfg.HelperCacheSize)
	}
	if cfg.PolyfillTimeout != 2*time.Second {
		t.Errorf("PolyfillTimeout: got %v", cfg.PolyfillTimeout)
	}
}

func TestFromEnvInvalid(t *testing.T) {
	tests := map[string]string{
		EnvLongWaitWarning: "soon",
		EnvMaxSpin:         "-1s",
		EnvHelperCache:     "many",
	}
	for key, val := range tests {
		base := Default()
		cfg, err := FromEnv(base, envMap(map[string]string{key: val}))
		if err == nil {
			t.Errorf("%s=%s: expected error", key, val)
		}
		if cfg != base {
			t.Errorf("%s=%s: base should be returned on error", key, val)
		}
	}
}

func TestParse(t *testing.T) {
	cfg, err := Parse(`
[wait]
disable_wait_async = true
long_wait_warning_ms = 5000
polyfill_timeout = "100ms"
helper_cache = 8

[tasks]
single_threaded = true

[transform]
import_module = "__placeholder"
max_spin = "0s"
`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := Config{
		ImportModule:     "__placeholder",
		LongWaitWarning:  5 * time.Second,
		MaxSpin:          0,
		PolyfillTimeout:  100 * time.Millisecond,
		HelperCacheSize:  8,
		DisableWaitAsync: true,
		SingleThreaded:   true,
	}
	if cfg != want {
		t.Errorf("got %+v\nwant %+v", cfg, want)
	}
}

func TestParsePartialKeepsDefaults(t *testing.T) {
	cfg, err := Parse("[wait]\nlong_wait_warning_ms = 10\n")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.MaxSpin != DefaultMaxSpin || cfg.ImportModule != DefaultImportModule {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	if _, err := Parse("[wait]\nbogus = 1\n"); err == nil {
		t.Error("expected unknown key error")
	}
	if _, err := Parse("[transform]\nmax_spin = \"forever\"\n"); err == nil {
		t.Error("expected duration error")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "threads.toml")
	if err := os.WriteFile(path, []byte("[transform]\nmax_spin = \"3s\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvMaxSpin, "4s")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.MaxSpin != 4*time.Second {
		t.Errorf("env should override file: got %v", cfg.MaxSpin)
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSetOverridesCache(t *testing.T) {
	prev := Get()
	defer Set(prev)

	cfg := Default()
	cfg.HelperCacheSize = 2
	Set(cfg)
	if Get().HelperCacheSize != 2 {
		t.Errorf("Get after Set: got %d", Get().HelperCacheSize)
	}
}

func TestLoadEnvInvalidIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	prev := Logger()
	SetLogger(zap.New(core))
	defer SetLogger(prev)

	cfg, err := loadEnv(envMap(map[string]string{EnvMaxSpin: "10 seconds"}))
	if err == nil {
		t.Fatal("expected error for malformed max spin")
	}
	if cfg != Default() {
		t.Errorf("defaults should be used: %+v", cfg)
	}
	if logs.FilterMessage("invalid environment settings, using defaults").Len() != 1 {
		t.Errorf("expected one warning, got %v", logs.All())
	}

	if _, err := loadEnv(envMap(map[string]string{EnvMaxSpin: "1s"})); err != nil {
		t.Errorf("valid env: %v", err)
	}
}
