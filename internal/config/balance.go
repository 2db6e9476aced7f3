package config

import (
	"errors"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// BalanceConfig tunes the sync worker, cache and track ingest.
type BalanceConfig struct {
	Sync      SyncConfig      `mapstructure:"sync"`
	Cache     CacheConfig     `mapstructure:"cache"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
}

type SyncConfig struct {
	BatchSize    int           `mapstructure:"batch_size"`
	Interval     time.Duration `mapstructure:"interval"`
	LockTimeout  time.Duration `mapstructure:"lock_timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

type CacheConfig struct {
	TTL            time.Duration `mapstructure:"ttl"`
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`
	SweepAge       time.Duration `mapstructure:"sweep_age"`
}

type RateLimitConfig struct {
	TrackRate  float64 `mapstructure:"track_rate"`
	TrackBurst int64   `mapstructure:"track_burst"`
}

func DefaultBalanceConfig() BalanceConfig {
	return BalanceConfig{
		Sync: SyncConfig{
			BatchSize:    500,
			Interval:     time.Second,
			LockTimeout:  2 * time.Second,
			MaxRetries:   3,
			RetryBackoff: 100 * time.Millisecond,
		},
		Cache: CacheConfig{
			TTL:            time.Hour,
			IdempotencyTTL: 24 * time.Hour,
			SweepAge:       10 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			TrackRate:  200,
			TrackBurst: 400,
		},
	}
}

type BalanceConfigHolder struct {
	current atomic.Value // holds BalanceConfig
}

// NewStaticBalanceConfigHolder returns a holder that never reloads.
func NewStaticBalanceConfigHolder(cfg BalanceConfig) *BalanceConfigHolder {
	holder := &BalanceConfigHolder{}
	holder.current.Store(cfg.withDefaults())
	return holder
}

func NewBalanceConfigHolder(cfg Config, log *zap.Logger) (*BalanceConfigHolder, error) {
	log = log.Named("config.balances")
	v := viper.New()

	if cfg.BalanceConfigPath != "" {
		v.SetConfigFile(filepath.Clean(cfg.BalanceConfigPath))
	} else {
		v.SetConfigName("balances")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/autumn")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("AUTUMN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBalanceConfig()
	v.SetDefault("sync.batch_size", defaults.Sync.BatchSize)
	v.SetDefault("sync.interval", defaults.Sync.Interval)
	v.SetDefault("sync.lock_timeout", defaults.Sync.LockTimeout)
	v.SetDefault("sync.max_retries", defaults.Sync.MaxRetries)
	v.SetDefault("sync.retry_backoff", defaults.Sync.RetryBackoff)
	v.SetDefault("cache.ttl", defaults.Cache.TTL)
	v.SetDefault("cache.idempotency_ttl", defaults.Cache.IdempotencyTTL)
	v.SetDefault("cache.sweep_age", defaults.Cache.SweepAge)
	v.SetDefault("ratelimit.track_rate", defaults.RateLimit.TrackRate)
	v.SetDefault("ratelimit.track_burst", defaults.RateLimit.TrackBurst)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileLoaded = false
	}

	var loaded BalanceConfig
	if err := v.Unmarshal(&loaded); err != nil {
		return nil, err
	}
	if err := validateBalanceConfig(loaded); err != nil {
		return nil, err
	}

	holder := &BalanceConfigHolder{}
	holder.current.Store(loaded.withDefaults())

	if fileLoaded {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			var updated BalanceConfig
			if err := v.Unmarshal(&updated); err != nil {
				log.Warn("reload failed", zap.Error(err))
				return
			}
			if err := validateBalanceConfig(updated); err != nil {
				log.Warn("invalid config ignored", zap.Error(err))
				return
			}
			holder.current.Store(updated.withDefaults())
			log.Info("reloaded", zap.String("file", e.Name))
		})
	}

	return holder, nil
}

func (h *BalanceConfigHolder) Get() BalanceConfig {
	if h == nil {
		return DefaultBalanceConfig()
	}
	value, ok := h.current.Load().(BalanceConfig)
	if !ok {
		return DefaultBalanceConfig()
	}
	return value
}

func (c BalanceConfig) withDefaults() BalanceConfig {
	defaults := DefaultBalanceConfig()
	if c.Sync.BatchSize <= 0 {
		c.Sync.BatchSize = defaults.Sync.BatchSize
	}
	if c.Sync.Interval <= 0 {
		c.Sync.Interval = defaults.Sync.Interval
	}
	if c.Sync.LockTimeout <= 0 {
		c.Sync.LockTimeout = defaults.Sync.LockTimeout
	}
	if c.Sync.MaxRetries < 0 {
		c.Sync.MaxRetries = 0
	}
	if c.Sync.RetryBackoff <= 0 {
		c.Sync.RetryBackoff = defaults.Sync.RetryBackoff
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = defaults.Cache.TTL
	}
	if c.Cache.IdempotencyTTL <= 0 {
		c.Cache.IdempotencyTTL = defaults.Cache.IdempotencyTTL
	}
	if c.Cache.SweepAge <= 0 {
		c.Cache.SweepAge = defaults.Cache.SweepAge
	}
	if c.RateLimit.TrackRate <= 0 {
		c.RateLimit.TrackRate = defaults.RateLimit.TrackRate
	}
	if c.RateLimit.TrackBurst <= 0 {
		c.RateLimit.TrackBurst = defaults.RateLimit.TrackBurst
	}
	return c
}

func validateBalanceConfig(cfg BalanceConfig) error {
	if cfg.Sync.BatchSize < 0 {
		return errors.New("sync.batch_size cannot be negative")
	}
	if cfg.Sync.MaxRetries > 20 {
		return errors.New("sync.max_retries cannot exceed 20")
	}
	if cfg.RateLimit.TrackRate < 0 {
		return errors.New("ratelimit.track_rate cannot be negative")
	}
	return nil
}
