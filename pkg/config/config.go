// Package config loads the settings shared by the worker commands.
//
// Precedence, lowest first: built-in defaults, the optional YAML file, a .env file
// in the working directory, then process environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Backend names.
const (
	BackendPubSub    = "pubsub"
	BackendKafka     = "kafka"
	BackendRedis     = "redis"
	BackendFirestore = "firestore"
	BackendMemory    = "memory"

	NotifyDirect = "direct"
	NotifyBatch  = "batch"
)

// Config holds every setting of the worker commands.
type Config struct {
	LogLevel        string `yaml:"log_level"`
	MetricsPort     int    `yaml:"metrics_port"`
	ProjectID       string `yaml:"project_id"`
	CredentialsFile string `yaml:"credentials_file"`

	Queue    QueueConfig    `yaml:"queue"`
	Topic    TopicConfig    `yaml:"topic"`
	Cache    CacheConfig    `yaml:"cache"`
	Notifier NotifierConfig `yaml:"notifier"`
	Importer ImporterConfig `yaml:"importer"`
	Ledger   LedgerConfig   `yaml:"ledger"`
}

// QueueConfig describes the subscription workers pull from.
type QueueConfig struct {
	Subscription     string        `yaml:"subscription"`
	MaxMessages      int           `yaml:"max_messages"`
	WaitTime         time.Duration `yaml:"wait_time"`
	PollErrorBackoff time.Duration `yaml:"poll_error_backoff"`
}

// TopicConfig describes where notifications and imported lines are published.
type TopicConfig struct {
	Backend        string        `yaml:"backend"`
	TopicID        string        `yaml:"topic_id"`
	KafkaBrokers   []string      `yaml:"kafka_brokers"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

// CacheConfig selects and configures the idempotency cache.
type CacheConfig struct {
	Backend             string        `yaml:"backend"`
	DataExpiration      time.Duration `yaml:"data_expiration"`
	FirestoreCollection string        `yaml:"firestore_collection"`
	Redis               RedisConfig   `yaml:"redis"`
}

// RedisConfig holds the Redis connection settings.
type RedisConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	Password         string        `yaml:"password"`
	DB               int           `yaml:"db"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	OperationTimeout time.Duration `yaml:"operation_timeout"`
	MaxRetries       int           `yaml:"max_retries"`
	RetryInterval    time.Duration `yaml:"retry_interval"`
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// NotifierConfig selects direct or batched notification publishing.
type NotifierConfig struct {
	Mode           string        `yaml:"mode"`
	BatchThreshold int           `yaml:"batch_threshold"`
	FlushInterval  time.Duration `yaml:"flush_interval"`
}

// ImporterConfig configures the import command.
type ImporterConfig struct {
	BatchSize     int `yaml:"batch_size"`
	MaxConcurrent int `yaml:"max_concurrent"`
}

// LedgerConfig enables the BigQuery ledger as the billing processing action.
type LedgerConfig struct {
	Enabled   bool   `yaml:"enabled"`
	DatasetID string `yaml:"dataset_id"`
	TableID   string `yaml:"table_id"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel:    "info",
		MetricsPort: 8001,
		Queue: QueueConfig{
			MaxMessages:      10,
			WaitTime:         20 * time.Second,
			PollErrorBackoff: 5 * time.Second,
		},
		Topic: TopicConfig{
			Backend:        BackendPubSub,
			PublishTimeout: 30 * time.Second,
		},
		Cache: CacheConfig{
			Backend:             BackendRedis,
			DataExpiration:      time.Hour,
			FirestoreCollection: "billing-idempotency",
			Redis: RedisConfig{
				Port:             6379,
				ConnectTimeout:   5 * time.Second,
				OperationTimeout: 5 * time.Second,
				MaxRetries:       3,
				RetryInterval:    5 * time.Second,
			},
		},
		Notifier: NotifierConfig{
			Mode:           NotifyBatch,
			BatchThreshold: 10,
			FlushInterval:  30 * time.Second,
		},
		Importer: ImporterConfig{
			BatchSize:     10,
			MaxConcurrent: 250,
		},
	}
}

// Load builds the configuration. An empty path skips the YAML layer; a named file
// that does not exist is an error. A missing .env file is not.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings every command relies on.
func (c *Config) Validate() error {
	var errs []error
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		errs = append(errs, fmt.Errorf("metrics_port %d out of range", c.MetricsPort))
	}
	switch c.Topic.Backend {
	case BackendPubSub, BackendKafka:
	default:
		errs = append(errs, fmt.Errorf("topic.backend %q must be %s or %s", c.Topic.Backend, BackendPubSub, BackendKafka))
	}
	if c.Topic.Backend == BackendKafka && len(c.Topic.KafkaBrokers) == 0 {
		errs = append(errs, errors.New("topic.kafka_brokers is required for the kafka backend"))
	}
	switch c.Cache.Backend {
	case BackendRedis, BackendFirestore, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("cache.backend %q must be %s, %s or %s", c.Cache.Backend, BackendRedis, BackendFirestore, BackendMemory))
	}
	switch c.Notifier.Mode {
	case NotifyDirect, NotifyBatch:
	default:
		errs = append(errs, fmt.Errorf("notifier.mode %q must be %s or %s", c.Notifier.Mode, NotifyDirect, NotifyBatch))
	}
	if c.Notifier.BatchThreshold <= 0 {
		errs = append(errs, errors.New("notifier.batch_threshold must be positive"))
	}
	if c.Notifier.FlushInterval <= 0 {
		errs = append(errs, errors.New("notifier.flush_interval must be positive"))
	}
	if c.Queue.MaxMessages <= 0 {
		errs = append(errs, errors.New("queue.max_messages must be positive"))
	}
	if c.Cache.Redis.MaxRetries <= 0 {
		errs = append(errs, errors.New("cache.redis.max_retries must be positive"))
	}
	if c.Importer.BatchSize <= 0 || c.Importer.MaxConcurrent <= 0 {
		errs = append(errs, errors.New("importer.batch_size and importer.max_concurrent must be positive"))
	}
	return errors.Join(errs...)
}

// ValidateWorker checks the settings needed by the queue-consuming commands.
func (c *Config) ValidateWorker() error {
	var errs []error
	if c.ProjectID == "" {
		errs = append(errs, errors.New("project_id is required"))
	}
	if c.Queue.Subscription == "" {
		errs = append(errs, errors.New("queue.subscription is required"))
	}
	return errors.Join(errs...)
}

// ValidatePublisher checks the settings needed to publish to the topic.
func (c *Config) ValidatePublisher() error {
	var errs []error
	if c.Topic.TopicID == "" {
		errs = append(errs, errors.New("topic.topic_id is required"))
	}
	if c.Topic.Backend == BackendPubSub && c.ProjectID == "" {
		errs = append(errs, errors.New("project_id is required for the pubsub backend"))
	}
	if c.Ledger.Enabled && (c.Ledger.DatasetID == "" || c.Ledger.TableID == "") {
		errs = append(errs, errors.New("ledger.dataset_id and ledger.table_id are required when the ledger is enabled"))
	}
	return errors.Join(errs...)
}

// MetricsAddr is the listen address of the health and metrics server.
func (c *Config) MetricsAddr() string {
	return fmt.Sprintf(":%d", c.MetricsPort)
}

// Level returns the parsed log level, defaulting to info.
func (c *Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}
