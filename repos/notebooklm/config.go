package notebooklm

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/crosszan/nblm/pkg/env"
	"github.com/crosszan/nblm/repos/notebooklm/rpc"
)

const envPrefix = "NOTEBOOKLM"

// Config holds the client settings. Every key can be overridden with a
// NOTEBOOKLM_ prefixed environment variable, e.g. NOTEBOOKLM_BL.
type Config struct {
	// BuildLabel overrides the extracted bl value
	BuildLabel string `mapstructure:"bl"`
	Language   string `mapstructure:"hl"`

	QueryTimeout  time.Duration `mapstructure:"query_timeout"`
	RPCTimeout    time.Duration `mapstructure:"rpc_timeout"`
	UploadTimeout time.Duration `mapstructure:"upload_timeout"`

	// MaxRetries counts attempts for transport failures; uploads never retry
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`

	// ConversationTTL evicts idle conversations; 0 keeps them forever
	ConversationTTL time.Duration `mapstructure:"conversation_ttl"`

	// StoragePath is the Playwright storage state file. Empty means
	// NOTEBOOKLM_AUTH_JSON, then the default location.
	StoragePath string `mapstructure:"storage_path"`

	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
}

var defaults = map[string]any{
	"bl":               "",
	"hl":               rpc.DefaultLanguage,
	"query_timeout":    120 * time.Second,
	"rpc_timeout":      60 * time.Second,
	"upload_timeout":   300 * time.Second,
	"max_retries":      3,
	"retry_delay":      2 * time.Second,
	"conversation_ttl": time.Duration(0),
	"storage_path":     "",
	"log_level":        "info",
	"log_file":         "",
}

// DefaultConfig returns the built-in defaults without reading the environment
func DefaultConfig() Config {
	return Config{
		Language:      rpc.DefaultLanguage,
		QueryTimeout:  120 * time.Second,
		RPCTimeout:    60 * time.Second,
		UploadTimeout: 300 * time.Second,
		MaxRetries:    3,
		RetryDelay:    2 * time.Second,
		LogLevel:      "info",
	}
}

// LoadConfig reads .env, then the optional config file at path, then
// NOTEBOOKLM_* environment variables. Later sources win.
func LoadConfig(path string) (Config, error) {
	if err := env.Load(); err != nil {
		return Config{}, err
	}

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

// normalize replaces unusable values with defaults
func (c *Config) normalize() {
	d := DefaultConfig()
	if c.Language == "" {
		c.Language = d.Language
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = d.QueryTimeout
	}
	if c.RPCTimeout <= 0 {
		c.RPCTimeout = d.RPCTimeout
	}
	if c.UploadTimeout <= 0 {
		c.UploadTimeout = d.UploadTimeout
	}
	if c.MaxRetries < 1 {
		c.MaxRetries = 1
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	if c.ConversationTTL < 0 {
		c.ConversationTTL = 0
	}
}
