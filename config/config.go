package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"fortio.org/safecast"
	"github.com/BurntSushi/toml"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-threads/errors"
)

// Environment variables read by FromEnv.
const (
	EnvDisableWaitAsync = "WASM_THREADS_DISABLE_WAIT_ASYNC"
	EnvLongWaitWarning  = "WASM_THREADS_LONG_WAIT_WARNING"
	EnvMaxSpin          = "WASM_THREADS_MAX_SPIN"
	EnvHelperCache      = "WASM_THREADS_HELPER_CACHE"
	EnvPolyfillTimeout  = "WASM_THREADS_POLYFILL_TIMEOUT"
	EnvSingleThreaded   = "WASM_THREADS_SINGLE_THREADED"
)

// Defaults.
const (
	DefaultMaxSpin         = 10 * time.Second
	DefaultHelperCacheSize = 32
	DefaultImportModule    = "env"
)

// Config holds process-wide scheduler and rewrite settings.
type Config struct {
	// ImportModule is the module name used for the rewrite pass imports.
	ImportModule string

	// LongWaitWarning logs a warning when a polyfilled wait has been pending
	// this long. Zero disables the diagnostic.
	LongWaitWarning time.Duration

	// MaxSpin is the global spin ceiling baked into rewritten modules.
	// Zero disables the ceiling.
	MaxSpin time.Duration

	// PolyfillTimeout bounds each polyfilled wait; a timed-out wait re-polls
	// the task. Zero waits indefinitely.
	PolyfillTimeout time.Duration

	// HelperCacheSize is the number of idle polyfill helpers kept per loop.
	HelperCacheSize int

	// DisableWaitAsync forces the polyfill even when native WaitAsync is usable.
	DisableWaitAsync bool

	// SingleThreaded makes futures.Spawn use single-thread tasks.
	SingleThreaded bool
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		ImportModule:    DefaultImportModule,
		MaxSpin:         DefaultMaxSpin,
		HelperCacheSize: DefaultHelperCacheSize,
	}
}

var (
	current     Config
	envErr      error
	currentOnce sync.Once
	currentMu   sync.RWMutex
)

// Get returns the cached settings. The environment is read on first use;
// if it holds an invalid value the defaults are used and EnvError reports
// the problem.
func Get() Config {
	currentOnce.Do(func() {
		cfg, err := loadEnv(os.LookupEnv)
		currentMu.Lock()
		current, envErr = cfg, err
		currentMu.Unlock()
	})
	currentMu.RLock()
	defer currentMu.RUnlock()
	return current
}

// EnvError returns the error from reading the environment in Get, if any.
func EnvError() error {
	Get()
	currentMu.RLock()
	defer currentMu.RUnlock()
	return envErr
}

func loadEnv(lookup func(string) (string, bool)) (Config, error) {
	cfg, err := FromEnv(Default(), lookup)
	if err != nil {
		Logger().Warn("invalid environment settings, using defaults", zap.Error(err))
		return Default(), err
	}
	return cfg, nil
}

// Set replaces the cached settings.
func Set(cfg Config) {
	currentOnce.Do(func() {})
	currentMu.Lock()
	current = cfg
	currentMu.Unlock()
}

// FromEnv applies environment overrides on top of base.
func FromEnv(base Config, lookup func(string) (string, bool)) (Config, error) {
	cfg := base
	if v, ok := lookup(EnvDisableWaitAsync); ok {
		cfg.DisableWaitAsync = parseFlag(v)
	}
	if v, ok := lookup(EnvSingleThreaded); ok {
		cfg.SingleThreaded = parseFlag(v)
	}
	if v, ok := lookup(EnvLongWaitWarning); ok {
		ms, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil || ms < 0 {
			return base, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
				Path(EnvLongWaitWarning).Detail("expected milliseconds, got %q", v).Cause(err).Build()
		}
		cfg.LongWaitWarning = time.Duration(ms) * time.Millisecond
	}
	if v, ok := lookup(EnvMaxSpin); ok {
		d, err := parseDuration(EnvMaxSpin, v)
		if err != nil {
			return base, err
		}
		cfg.MaxSpin = d
	}
	if v, ok := lookup(EnvPolyfillTimeout); ok {
		d, err := parseDuration(EnvPolyfillTimeout, v)
		if err != nil {
			return base, err
		}
		cfg.PolyfillTimeout = d
	}
	if v, ok := lookup(EnvHelperCache); ok {
		n, err := parseCount(EnvHelperCache, v)
		if err != nil {
			return base, err
		}
		cfg.HelperCacheSize = n
	}
	return cfg, nil
}

type fileConfig struct {
	Wait struct {
		DisableWaitAsync  bool   `toml:"disable_wait_async"`
		LongWaitWarningMS int64  `toml:"long_wait_warning_ms"`
		PolyfillTimeout   string `toml:"polyfill_timeout"`
		HelperCache       int64  `toml:"helper_cache"`
	} `toml:"wait"`
	Tasks struct {
		SingleThreaded bool `toml:"single_threaded"`
	} `toml:"tasks"`
	Transform struct {
		ImportModule string `toml:"import_module"`
		MaxSpin      string `toml:"max_spin"`
	} `toml:"transform"`
}

// LoadFile reads a TOML settings file over the defaults and then applies
// environment overrides.
//
//	[wait]
//	long_wait_warning_ms = 5000
//	helper_cache = 16
//
//	[transform]
//	import_module = "env"
//	max_spin = "30s"
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(errors.PhaseConfig, errors.KindNotFound, err, "read "+path)
	}
	cfg, err := Parse(string(data))
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return FromEnv(cfg, os.LookupEnv)
}

// Parse decodes TOML settings over the defaults.
func Parse(data string) (Config, error) {
	var fc fileConfig
	meta, err := toml.Decode(data, &fc)
	if err != nil {
		return Config{}, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "failed to parse TOML")
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("unknown key %s", undecoded[0]))
	}

	cfg := Default()
	cfg.DisableWaitAsync = fc.Wait.DisableWaitAsync
	cfg.SingleThreaded = fc.Tasks.SingleThreaded
	if meta.IsDefined("wait", "long_wait_warning_ms") {
		if fc.Wait.LongWaitWarningMS < 0 {
			return Config{}, errors.InvalidInput(errors.PhaseConfig, "wait.long_wait_warning_ms must not be negative")
		}
		cfg.LongWaitWarning = time.Duration(fc.Wait.LongWaitWarningMS) * time.Millisecond
	}
	if meta.IsDefined("wait", "polyfill_timeout") {
		if cfg.PolyfillTimeout, err = parseDuration("wait.polyfill_timeout", fc.Wait.PolyfillTimeout); err != nil {
			return Config{}, err
		}
	}
	if meta.IsDefined("wait", "helper_cache") {
		n, err := safecast.Conv[int](fc.Wait.HelperCache)
		if err != nil || n < 0 {
			return Config{}, errors.InvalidInput(errors.PhaseConfig, "wait.helper_cache out of range")
		}
		cfg.HelperCacheSize = n
	}
	if meta.IsDefined("transform", "import_module") {
		cfg.ImportModule = fc.Transform.ImportModule
	}
	if meta.IsDefined("transform", "max_spin") {
		if cfg.MaxSpin, err = parseDuration("transform.max_spin", fc.Transform.MaxSpin); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

func parseFlag(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "0", "false", "no", "off":
		return false
	}
	return true
}

func parseDuration(key, v string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil || d < 0 {
		return 0, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Path(key).Detail("expected a non-negative duration, got %q", v).Cause(err).Build()
	}
	return d, nil
}

func parseCount(key, v string) (int, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Path(key).Detail("expected a count, got %q", v).Cause(err).Build()
	}
	c, err := safecast.Conv[int](n)
	if err != nil {
		return 0, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Path(key).Detail("count %d out of range", n).Cause(err).Build()
	}
	return c, nil
}
