package config

import (
	"strings"
	"time"

	"github.com/IvanBrykalov/writebehind/entitycache"
	"github.com/IvanBrykalov/writebehind/storage/routed"
)

// ApplyDefaults fills zero-valued fields. Explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyCacheDefaults(&cfg.Cache)
	applyPersistDefaults(&cfg.Persist)
	applyStorageDefaults(&cfg.Storage)
	applyMetricsDefaults(&cfg.Metrics)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	cfg.Format = strings.ToLower(cfg.Format)
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

func applyCacheDefaults(cfg *CacheConfig) {
	if cfg.ExpireAfterAccess == 0 {
		cfg.ExpireAfterAccess = entitycache.DefaultExpireAfter
	}
	if cfg.MaxEntries == 0 {
		cfg.MaxEntries = entitycache.DefaultMaxEntries
	}
	if cfg.Policy == "" {
		cfg.Policy = "lru"
	}
	cfg.Policy = strings.ToLower(cfg.Policy)
}

func applyPersistDefaults(cfg *PersistConfig) {
	if cfg.Interval == 0 {
		cfg.Interval = entitycache.DefaultPersistInterval
	}
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = routed.DefaultCallTimeout
	}
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = time.Minute
	}
	if cfg.StopParallelism == 0 {
		cfg.StopParallelism = entitycache.DefaultStopParallelism
	}
}

func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
	cfg.Type = strings.ToLower(cfg.Type)
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Addr == "" {
		cfg.Addr = ":9090"
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "writebehind"
	}
}

// GetDefaultConfig returns a complete configuration with every default set.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
