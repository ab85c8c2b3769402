package config

import (
	"fmt"
	"strconv"
	"time"
)

// Environment variables that override file settings.
const (
	EnvDatabaseURL     = "FSTRACK_DATABASE_URL"
	EnvDatabaseType    = "FSTRACK_DATABASE_TYPE"
	EnvLogLevel        = "FSTRACK_LOG_LEVEL"
	EnvOutboxBatchSize = "FSTRACK_OUTBOX_BATCH_SIZE"
	EnvRetryInitial    = "FSTRACK_RETRY_INITIAL"
	EnvRetryMax        = "FSTRACK_RETRY_MAX"
	EnvPublisherType   = "FSTRACK_PUBLISHER_TYPE"
	EnvAMQPURL         = "FSTRACK_AMQP_URL"
	EnvRedisAddr       = "FSTRACK_REDIS_ADDR"
)

// ApplyEnv overrides cfg with the environment variables lookup reports.
// Pass os.LookupEnv outside tests.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	strs := []struct {
		key string
		dst *string
	}{
		{EnvDatabaseURL, &cfg.Database.URL},
		{EnvDatabaseType, &cfg.Database.Type},
		{EnvLogLevel, &cfg.LogLevel},
		{EnvPublisherType, &cfg.Publisher.Type},
		{EnvAMQPURL, &cfg.Publisher.AMQPURL},
		{EnvRedisAddr, &cfg.Publisher.RedisAddr},
	}
	for _, s := range strs {
		if v, ok := lookup(s.key); ok {
			*s.dst = v
		}
	}

	if v, ok := lookup(EnvOutboxBatchSize); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, EnvOutboxBatchSize, err)
		}
		cfg.Outbox.BatchSize = n
	}

	durations := []struct {
		key string
		dst *Duration
	}{
		{EnvRetryInitial, &cfg.Outbox.RetryInitial},
		{EnvRetryMax, &cfg.Outbox.RetryMax},
	}
	for _, d := range durations {
		v, ok := lookup(d.key)
		if !ok {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, d.key, err)
		}
		d.dst.Duration = parsed
	}

	// A database type switched by the environment needs its defaults.
	cfg.fillDefaults()
	return nil
}
