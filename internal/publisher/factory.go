package publisher

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"fstrack/internal/config"
	"fstrack/internal/encryption"
	"fstrack/internal/track"
)

// NewPublisherFromConfig creates a Publisher based on the publisher config
// type, wrapped in a Breaker when enabled. Publishers holding connections
// implement io.Closer. sealer is only used by the s3 archive and may be nil.
func NewPublisherFromConfig(ctx context.Context, cfg config.PublisherConfig, sealer encryption.Sealer, logger track.Logger) (track.Publisher, error) {
	var (
		pub track.Publisher
		err error
	)

	switch cfg.Type {
	case "log":
		pub = NewLog(logger)
	case "memory":
		pub = NewMemory(cfg.QueueSize)
	case "spool":
		if cfg.SpoolDir == "" {
			return nil, fmt.Errorf("spool publisher requires spool_dir to be set")
		}
		pub, err = NewSpool(cfg.SpoolDir)
	case "rabbitmq":
		if cfg.AMQPURL == "" {
			return nil, fmt.Errorf("rabbitmq publisher requires amqp_url to be set")
		}
		pub = NewRabbitMQ(cfg.AMQPURL, cfg.Exchange, cfg.RoutingKey, logger)
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("redis publisher requires redis_addr to be set")
		}
		pub = NewRedisStream(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}), cfg.RedisStream)
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3 publisher requires s3_bucket to be set")
		}
		client, cerr := NewS3Client(ctx, cfg)
		if cerr != nil {
			return nil, cerr
		}
		pub = NewS3Archive(client, cfg.S3Bucket, cfg.S3Prefix, sealer)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Breaker.Enabled {
		pub = NewBreaker(cfg.Type, pub, cfg.Breaker.MaxFailures, cfg.Breaker.OpenTimeout.Duration, logger)
	}
	return pub, nil
}
