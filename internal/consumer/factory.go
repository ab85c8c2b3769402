package consumer

import (
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"fstrack/internal/config"
	"fstrack/internal/publisher"
	"fstrack/internal/track"
)

// NewSourceFromConfig creates the Source for the configured consumer
// transport. mem is the in-process publisher and is required only for the
// memory transport.
func NewSourceFromConfig(cfg *config.Config, mem *publisher.Memory, logger track.Logger) (Source, error) {
	switch transport := cfg.ConsumerTransport(); transport {
	case "memory":
		if mem == nil {
			return nil, fmt.Errorf("memory consumer requires an in-process memory publisher")
		}
		return NewMemorySource(mem.Events(), logger), nil
	case "spool":
		if cfg.Publisher.SpoolDir == "" {
			return nil, fmt.Errorf("spool consumer requires publisher.spool_dir to be set")
		}
		return NewSpoolSource(cfg.Publisher.SpoolDir, time.Second, logger), nil
	case "rabbitmq":
		if cfg.Publisher.AMQPURL == "" {
			return nil, fmt.Errorf("rabbitmq consumer requires publisher.amqp_url to be set")
		}
		return NewRabbitMQSource(cfg.Publisher.AMQPURL, cfg.Consumer.Queue, logger), nil
	case "redis":
		if cfg.Publisher.RedisAddr == "" {
			return nil, fmt.Errorf("redis consumer requires publisher.redis_addr to be set")
		}
		client := redis.NewClient(&redis.Options{Addr: cfg.Publisher.RedisAddr})
		return NewRedisSource(client, cfg.Publisher.RedisStream, cfg.Consumer.Group, consumerName(), logger), nil
	default:
		return nil, fmt.Errorf("%w: consumer transport %q", publisher.ErrUnknownType, transport)
	}
}

func consumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "fstrack"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
