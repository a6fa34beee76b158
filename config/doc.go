// Package config holds process-wide settings for the scheduler and the
// wait rewrite pass.
//
// Settings come from built-in defaults, an optional TOML file (LoadFile) and
// WASM_THREADS_* environment variables, in that order of precedence from
// lowest to highest. Get reads the environment once and caches the result
// for the life of the process; Set replaces the cached value.
package config
