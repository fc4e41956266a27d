// Package config provides type-safe environment variable loading with
// per-type caching, grounded on the same caarlos0/env + joho/godotenv
// pairing the wider example pack uses for this concern. A .env file in the
// working directory is loaded once, lazily, on first use of Load or
// MustLoad; environment variables already set take precedence, since
// godotenv.Load never overwrites an existing variable.
package config

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	dotenvOnce sync.Once

	cacheMu sync.Mutex
	cache   = make(map[reflect.Type]any)
)

func loadDotenv() {
	dotenvOnce.Do(func() {
		_ = godotenv.Load()
	})
}

// Load parses environment variables into a T, caching the result so every
// subsequent Load[T] call returns the same value without re-parsing.
func Load[T any]() (T, error) {
	loadDotenv()

	t := reflect.TypeOf((*T)(nil)).Elem()

	cacheMu.Lock()
	if cached, ok := cache[t]; ok {
		cacheMu.Unlock()
		return cached.(T), nil
	}
	cacheMu.Unlock()

	var cfg T
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", t, err)
	}

	cacheMu.Lock()
	cache[t] = cfg
	cacheMu.Unlock()

	return cfg, nil
}

// MustLoad is Load, panicking on failure. Intended for use at process
// startup, before a logger exists to report the error to.
func MustLoad[T any]() T {
	cfg, err := Load[T]()
	if err != nil {
		panic(err)
	}
	return cfg
}
