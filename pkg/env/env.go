// Package env loads .env files into the process environment.
// It uses the functional options pattern for flexible configuration.
//
// Usage:
//
//	env.Load()                                    // Load .env from current directory
//	env.Load(env.WithFile(".env.local"))          // Load specific file
//	env.Load(env.WithOverride())                  // Override existing env vars
//	env.Load(env.WithDir("/path/to/dir"))         // Load from directory
package env

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// Options holds configuration for loading environment variables.
type Options struct {
	filename string
	dir      string
	override bool
	required bool
}

// Option is a functional option for configuring the loader.
type Option func(*Options)

// WithFile specifies the filename to load (default: ".env").
func WithFile(filename string) Option {
	return func(o *Options) {
		o.filename = filename
	}
}

// WithDir specifies the directory to load .env from.
func WithDir(dir string) Option {
	return func(o *Options) {
		o.dir = dir
	}
}

// WithOverride enables overriding existing environment variables.
func WithOverride() Option {
	return func(o *Options) {
		o.override = true
	}
}

// WithRequired makes it an error if the file doesn't exist.
func WithRequired() Option {
	return func(o *Options) {
		o.required = true
	}
}

// Load loads environment variables from a .env file.
// By default, it loads ".env" from the current directory and does not override existing variables.
func Load(opts ...Option) error {
	options := &Options{filename: ".env"}
	for _, opt := range opts {
		opt(options)
	}

	path := options.filename
	if options.dir != "" {
		path = filepath.Join(options.dir, options.filename)
	}

	load := godotenv.Load
	if options.override {
		load = godotenv.Overload
	}

	if err := load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if options.required {
				return fmt.Errorf("env: file %q not found", path)
			}
			return nil
		}
		return fmt.Errorf("env: failed to load %q: %w", path, err)
	}
	return nil
}

// GetDefault returns the value of an environment variable, or the default value if not set.
func GetDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
