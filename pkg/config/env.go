package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// envReader collects parse failures so every bad variable is reported at once.
type envReader struct {
	errs []error
}

func (r *envReader) str(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func (r *envReader) integer(key string, dst *int) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = n
}

// seconds reads an integer number of seconds.
func (r *envReader) seconds(key string, dst *time.Duration) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = time.Duration(n) * time.Second
}

func (r *envReader) boolean(key string, dst *bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = b
}

func (r *envReader) list(key string, dst *[]string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	*dst = out
}

func (c *Config) applyEnv() error {
	r := &envReader{}
	r.str("LOG_LEVEL", &c.LogLevel)
	r.integer("METRICS_PORT", &c.MetricsPort)
	r.str("GCP_PROJECT_ID", &c.ProjectID)
	r.str("GCP_CREDENTIALS_FILE", &c.CredentialsFile)

	r.str("QUEUE_SUBSCRIPTION", &c.Queue.Subscription)
	r.integer("QUEUE_MAX_MESSAGES", &c.Queue.MaxMessages)
	r.seconds("QUEUE_WAIT_TIME_SECONDS", &c.Queue.WaitTime)

	r.str("TOPIC_BACKEND", &c.Topic.Backend)
	r.str("TOPIC_ID", &c.Topic.TopicID)
	r.list("KAFKA_BROKERS", &c.Topic.KafkaBrokers)

	r.str("CACHE_BACKEND", &c.Cache.Backend)
	r.seconds("REDIS_DATA_EXPIRATION", &c.Cache.DataExpiration)
	r.str("FIRESTORE_COLLECTION", &c.Cache.FirestoreCollection)
	r.str("REDIS_HOST", &c.Cache.Redis.Host)
	r.integer("REDIS_PORT", &c.Cache.Redis.Port)
	r.str("REDIS_PASSWORD", &c.Cache.Redis.Password)
	r.integer("REDIS_DB", &c.Cache.Redis.DB)
	r.seconds("REDIS_CONNECT_TIMEOUT", &c.Cache.Redis.ConnectTimeout)
	r.seconds("REDIS_OPERATION_TIMEOUT", &c.Cache.Redis.OperationTimeout)
	r.integer("REDIS_CONNECTION_MAX_RETRIES", &c.Cache.Redis.MaxRetries)
	r.seconds("REDIS_CONNECTION_RETRY_INTERVAL", &c.Cache.Redis.RetryInterval)

	r.str("NOTIFICATION_MODE", &c.Notifier.Mode)
	r.integer("NOTIFICATION_BATCH_THRESHOLD", &c.Notifier.BatchThreshold)
	r.seconds("NOTIFICATION_FLUSH_INTERVAL", &c.Notifier.FlushInterval)

	r.integer("IMPORT_BATCH_SIZE", &c.Importer.BatchSize)
	r.integer("IMPORT_MAX_CONCURRENT", &c.Importer.MaxConcurrent)

	r.boolean("LEDGER_ENABLED", &c.Ledger.Enabled)
	r.str("LEDGER_DATASET_ID", &c.Ledger.DatasetID)
	r.str("LEDGER_TABLE_ID", &c.Ledger.TableID)

	if len(r.errs) > 0 {
		return fmt.Errorf("invalid environment: %w", errors.Join(r.errs...))
	}
	return nil
}
