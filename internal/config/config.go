package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for fstrack.
type Config struct {
	BaseDir    string           `toml:"base_dir" validate:"required"`
	LogDir     string           `toml:"log_dir" validate:"required"`
	LogLevel   string           `toml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	Database   DatabaseConfig   `toml:"database"`
	Outbox     OutboxConfig     `toml:"outbox"`
	Import     ImportConfig     `toml:"import"`
	Publisher  PublisherConfig  `toml:"publisher"`
	Encryption EncryptionConfig `toml:"encryption"`
	Consumer   ConsumerConfig   `toml:"consumer"`
	Watch      WatchConfig      `toml:"watch"`
	API        APIConfig        `toml:"api"`
}

// DatabaseConfig represents configuration for the state database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type     string `toml:"type" validate:"required,oneof=postgres sqlite memory"`
	URL      string `toml:"url,omitempty" validate:"required_if=Type postgres"`    // only used for type=postgres
	MaxConns int32  `toml:"max_conns,omitempty" validate:"gte=0"`                  // only used for type=postgres
	DataDir  string `toml:"data_dir,omitempty" validate:"required_if=Type sqlite"` // only used for type=sqlite
}

// OutboxConfig tunes event delivery.
type OutboxConfig struct {
	BatchSize       int      `toml:"batch_size" validate:"gte=1"`
	RecoverInterval Duration `toml:"recover_interval"`
	RetryInitial    Duration `toml:"retry_initial"`
	RetryMax        Duration `toml:"retry_max"`
}

// ImportConfig holds crawl and change-detection settings.
type ImportConfig struct {
	ChangePolicy string   `toml:"change_policy" validate:"omitempty,oneof=mtime mtime+size"`
	Ignore       []string `toml:"ignore"`
}

// PublisherConfig selects where delivered events go.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type PublisherConfig struct {
	Type string `toml:"type" validate:"required,oneof=log memory spool rabbitmq redis s3"`

	// Memory-specific fields (only used when Type == "memory")
	QueueSize int `toml:"queue_size,omitempty" validate:"gte=0"`

	// Spool-specific fields (only used when Type == "spool")
	SpoolDir string `toml:"spool_dir,omitempty" validate:"required_if=Type spool"`

	// RabbitMQ-specific fields (only used when Type == "rabbitmq")
	AMQPURL    string `toml:"amqp_url,omitempty" validate:"required_if=Type rabbitmq"`
	Exchange   string `toml:"exchange,omitempty"`
	RoutingKey string `toml:"routing_key,omitempty"`

	// Redis-specific fields (only used when Type == "redis")
	RedisAddr   string `toml:"redis_addr,omitempty" validate:"required_if=Type redis"`
	RedisStream string `toml:"redis_stream,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket    string `toml:"s3_bucket,omitempty" validate:"required_if=Type s3"`
	S3Prefix    string `toml:"s3_prefix,omitempty"`
	S3Region    string `toml:"s3_region,omitempty"`
	S3Endpoint  string `toml:"s3_endpoint,omitempty"`
	S3AccessKey string `toml:"s3_access_key,omitempty"`
	S3SecretKey string `toml:"s3_secret_key,omitempty"`

	Breaker BreakerConfig `toml:"breaker"`
}

// BreakerConfig wraps the publisher in a circuit breaker when enabled.
type BreakerConfig struct {
	Enabled     bool     `toml:"enabled"`
	MaxFailures uint32   `toml:"max_failures"`
	OpenTimeout Duration `toml:"open_timeout"`
}

// EncryptionConfig holds paths to the age key pair used to seal archived events.
type EncryptionConfig struct {
	Type           string `toml:"type" validate:"omitempty,oneof=none age test"`
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// ConsumerConfig configures the digest consumer.
type ConsumerConfig struct {
	// Transport defaults to the publisher type.
	Transport  string   `toml:"transport,omitempty" validate:"omitempty,oneof=memory spool rabbitmq redis"`
	Queue      string   `toml:"queue,omitempty"`
	Group      string   `toml:"group,omitempty"`
	Extensions []string `toml:"extensions"`
}

// WatchConfig configures the filesystem watcher.
type WatchConfig struct {
	Debounce Duration `toml:"debounce"`
}

// APIConfig configures the status server.
type APIConfig struct {
	Listen string `toml:"listen" validate:"omitempty,hostname_port"`
}

// NewConfig creates a new Config rooted at baseDir with default settings.
func NewConfig(baseDir string) *Config {
	cfg := &Config{BaseDir: baseDir}
	cfg.fillDefaults()
	return cfg
}

// fillDefaults sets every unset field that has a default.
func (c *Config) fillDefaults() {
	if c.LogDir == "" && c.BaseDir != "" {
		c.LogDir = filepath.Join(c.BaseDir, "log")
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Database.Type == "sqlite" && c.Database.DataDir == "" && c.BaseDir != "" {
		c.Database.DataDir = filepath.Join(c.BaseDir, "db")
	}
	if c.Outbox.BatchSize == 0 {
		c.Outbox.BatchSize = 100
	}
	if c.Outbox.RecoverInterval.Duration == 0 {
		c.Outbox.RecoverInterval.Duration = time.Minute
	}
	if c.Outbox.RetryInitial.Duration == 0 {
		c.Outbox.RetryInitial.Duration = 125 * time.Millisecond
	}
	if c.Outbox.RetryMax.Duration == 0 {
		c.Outbox.RetryMax.Duration = 30 * time.Second
	}
	if c.Import.ChangePolicy == "" {
		c.Import.ChangePolicy = "mtime"
	}
	if c.Publisher.Type == "" {
		c.Publisher.Type = "log"
	}
	if c.Publisher.QueueSize == 0 {
		c.Publisher.QueueSize = 1024
	}
	if c.Publisher.Type == "spool" && c.Publisher.SpoolDir == "" && c.BaseDir != "" {
		c.Publisher.SpoolDir = filepath.Join(c.BaseDir, "spool")
	}
	if c.Publisher.RoutingKey == "" {
		c.Publisher.RoutingKey = "fstrack.events"
	}
	if c.Publisher.RedisStream == "" {
		c.Publisher.RedisStream = "fstrack:events"
	}
	if c.Publisher.Breaker.MaxFailures == 0 {
		c.Publisher.Breaker.MaxFailures = 5
	}
	if c.Publisher.Breaker.OpenTimeout.Duration == 0 {
		c.Publisher.Breaker.OpenTimeout.Duration = 30 * time.Second
	}
	if c.Encryption.Type == "" {
		c.Encryption.Type = "none"
	}
	if c.Encryption.PublicKeyPath == "" && c.BaseDir != "" {
		c.Encryption.PublicKeyPath = filepath.Join(c.BaseDir, "keys", "fstrack.pub")
	}
	if c.Encryption.PrivateKeyPath == "" && c.BaseDir != "" {
		c.Encryption.PrivateKeyPath = filepath.Join(c.BaseDir, "keys", "fstrack.key")
	}
	if c.Consumer.Queue == "" {
		c.Consumer.Queue = c.Publisher.RoutingKey
	}
	if c.Consumer.Group == "" {
		c.Consumer.Group = "digest"
	}
	if c.Watch.Debounce.Duration == 0 {
		c.Watch.Debounce.Duration = 2 * time.Second
	}
	if c.API.Listen == "" {
		c.API.Listen = "127.0.0.1:8080"
	}
}

// ConsumerTransport returns the transport the consumer reads from.
func (c *Config) ConsumerTransport() string {
	if c.Consumer.Transport != "" {
		return c.Consumer.Transport
	}
	return c.Publisher.Type
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// Load reads the file at path, fills defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg, err := ReadFromFile(path)
	if err != nil {
		return nil, err
	}
	cfg.fillDefaults()
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init writes cfg to a new config file at path.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
