// Package config loads writebehind settings from a YAML file and
// WRITEBEHIND_* environment variables.
//
// Precedence, highest first: environment, file, defaults. Durations are
// written as Go duration strings ("60s", "3m").
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/IvanBrykalov/writebehind/entitycache"
	"github.com/IvanBrykalov/writebehind/internal/logger"
	"github.com/IvanBrykalov/writebehind/storage/badgerstore"
)

// EnvPrefix prefixes every environment override, e.g.
// WRITEBEHIND_PERSIST_INTERVAL=30s.
const EnvPrefix = "WRITEBEHIND"

// Config is the full configuration.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Executor ExecutorConfig `mapstructure:"executor" yaml:"executor"`
	Cache    CacheConfig    `mapstructure:"cache" yaml:"cache"`
	Persist  PersistConfig  `mapstructure:"persist" yaml:"persist"`
	Storage  StorageConfig  `mapstructure:"storage" yaml:"storage"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR" yaml:"level"`
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// ExecutorConfig sizes the routed pools. Zero means derived from GOMAXPROCS.
type ExecutorConfig struct {
	IOLanes  int `mapstructure:"io_lanes" validate:"gte=0" yaml:"io_lanes"`
	CPULanes int `mapstructure:"cpu_lanes" validate:"gte=0" yaml:"cpu_lanes"`
}

// CacheConfig holds the per-kind cache defaults.
type CacheConfig struct {
	ExpireAfterAccess time.Duration `mapstructure:"expire_after_access" validate:"gte=0" yaml:"expire_after_access"`
	MaxEntries        int           `mapstructure:"max_entries" validate:"required,gt=0" yaml:"max_entries"`
	Policy            string        `mapstructure:"policy" validate:"required,oneof=lru 2q" yaml:"policy"`
}

type PersistConfig struct {
	// Interval between sweeps; negative disables the ticker.
	Interval        time.Duration `mapstructure:"interval" validate:"required" yaml:"interval"`
	CallTimeout     time.Duration `mapstructure:"call_timeout" validate:"required,gt=0" yaml:"call_timeout"`
	StopTimeout     time.Duration `mapstructure:"stop_timeout" validate:"required,gt=0" yaml:"stop_timeout"`
	StopParallelism int           `mapstructure:"stop_parallelism" validate:"required,gt=0" yaml:"stop_parallelism"`
}

type StorageConfig struct {
	Type   string       `mapstructure:"type" validate:"required,oneof=memory badger" yaml:"type"`
	Badger BadgerConfig `mapstructure:"badger" yaml:"badger"`
}

type BadgerConfig struct {
	Dir        string `mapstructure:"dir" yaml:"dir"`
	InMemory   bool   `mapstructure:"in_memory" yaml:"in_memory"`
	SyncWrites bool   `mapstructure:"sync_writes" yaml:"sync_writes"`
}

type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr      string `mapstructure:"addr" validate:"required_if=Enabled true" yaml:"addr"`
	Namespace string `mapstructure:"namespace" validate:"required" yaml:"namespace"`
}

// Load reads path (or the default location when path is empty), applies
// environment overrides and defaults, and validates the result. A missing
// file yields the defaults with environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setupViper(v, path)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	cfg := GetDefaultConfig()
	if err := v.Unmarshal(cfg, viper.DecodeHook(decodeHooks())); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg as YAML, creating parent directories.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: write: %w", err)
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and cross-field rules.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return err
	}
	if cfg.Storage.Type == "badger" && !cfg.Storage.Badger.InMemory && cfg.Storage.Badger.Dir == "" {
		return fmt.Errorf("storage.badger.dir is required unless in_memory is set")
	}
	return nil
}

// LoggerConfig returns the settings for logger.Init.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{Level: c.Logging.Level, Format: c.Logging.Format, Output: c.Logging.Output}
}

// ServiceOptions maps the config onto entitycache.Options. Metrics and
// logger fields are left for the caller.
func (c *Config) ServiceOptions() entitycache.Options {
	return entitycache.Options{
		IOLanes:           c.Executor.IOLanes,
		CPULanes:          c.Executor.CPULanes,
		PersistInterval:   c.Persist.Interval,
		CallTimeout:       c.Persist.CallTimeout,
		StopParallelism:   c.Persist.StopParallelism,
		ExpireAfterAccess: c.Cache.ExpireAfterAccess,
		MaxEntries:        c.Cache.MaxEntries,
		Policy:            c.Cache.Policy,
	}
}

// BadgerOptions maps the storage section onto badgerstore.Options.
func (c *Config) BadgerOptions() badgerstore.Options {
	return badgerstore.Options{
		Dir:        c.Storage.Badger.Dir,
		InMemory:   c.Storage.Badger.InMemory,
		SyncWrites: c.Storage.Badger.SyncWrites,
	}
}

func setupViper(v *viper.Viper, path string) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v, reflect.TypeOf(Config{}), "")

	if path != "" {
		v.SetConfigFile(path)
		return
	}
	v.AddConfigPath(ConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// bindEnv registers every leaf key so AutomaticEnv also applies to keys the
// file does not mention.
func bindEnv(v *viper.Viper, t reflect.Type, prefix string) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		key := f.Tag.Get("mapstructure")
		if key == "" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}
		if f.Type.Kind() == reflect.Struct && f.Type != reflect.TypeOf(time.Duration(0)) {
			bindEnv(v, f.Type, key)
			continue
		}
		_ = v.BindEnv(key)
	}
}

func decodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// ConfigDir returns $XDG_CONFIG_HOME/writebehind or ~/.config/writebehind.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "writebehind")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "writebehind")
}

// DefaultConfigPath is where Load looks when given no path.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
