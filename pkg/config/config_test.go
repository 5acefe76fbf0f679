package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/illmade-knight/go-queueworker/pkg/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdirTemp moves the test into an empty directory so no stray .env is picked up.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, 8001, cfg.MetricsPort)
	assert.Equal(t, config.BackendRedis, cfg.Cache.Backend)
	assert.Equal(t, 3, cfg.Cache.Redis.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.Cache.Redis.RetryInterval)
	assert.Equal(t, time.Hour, cfg.Cache.DataExpiration)
	assert.Equal(t, 30*time.Second, cfg.Notifier.FlushInterval)
	assert.Equal(t, 10, cfg.Notifier.BatchThreshold)
	assert.Equal(t, 20*time.Second, cfg.Queue.WaitTime)
	assert.Equal(t, ":8001", cfg.MetricsAddr())
	assert.Equal(t, zerolog.InfoLevel, cfg.Level())
}

func TestLoad_Layering(t *testing.T) {
	dir := chdirTemp(t)
	path := writeFile(t, dir, "worker.yaml", `
log_level: debug
project_id: yaml-project
queue:
  subscription: billing-sub
  wait_time: 2s
cache:
  redis:
    host: yaml-redis
    port: 6380
notifier:
  mode: direct
  flush_interval: 1m
`)
	writeFile(t, dir, ".env", "REDIS_HOST=dotenv-redis\nTOPIC_ID=dotenv-topic\n")
	t.Setenv("TOPIC_ID", "env-topic")
	t.Setenv("NOTIFICATION_FLUSH_INTERVAL", "45")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")

	// godotenv writes into the process environment.
	t.Cleanup(func() { _ = os.Unsetenv("REDIS_HOST") })

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, zerolog.DebugLevel, cfg.Level())
	assert.Equal(t, "yaml-project", cfg.ProjectID)
	assert.Equal(t, "billing-sub", cfg.Queue.Subscription)
	assert.Equal(t, 2*time.Second, cfg.Queue.WaitTime)
	assert.Equal(t, "dotenv-redis:6380", cfg.Cache.Redis.Addr(), ".env overrides yaml")
	assert.Equal(t, "env-topic", cfg.Topic.TopicID, "the process environment wins over .env")
	assert.Equal(t, 45*time.Second, cfg.Notifier.FlushInterval)
	assert.Equal(t, config.NotifyDirect, cfg.Notifier.Mode)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Topic.KafkaBrokers)
	assert.Equal(t, 8001, cfg.MetricsPort, "unset values keep their defaults")

	assert.NoError(t, cfg.ValidateWorker())
	assert.NoError(t, cfg.ValidatePublisher())
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		chdirTemp(t)
		_, err := config.Load("does-not-exist.yaml")
		assert.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		dir := chdirTemp(t)
		_, err := config.Load(writeFile(t, dir, "bad.yaml", "queue: [unclosed"))
		assert.ErrorContains(t, err, "parse config file")
	})

	t.Run("bad integer in environment", func(t *testing.T) {
		chdirTemp(t)
		t.Setenv("REDIS_PORT", "not-a-port")
		t.Setenv("NOTIFICATION_FLUSH_INTERVAL", "soon")
		_, err := config.Load("")
		require.Error(t, err)
		assert.ErrorContains(t, err, "REDIS_PORT")
		assert.ErrorContains(t, err, "NOTIFICATION_FLUSH_INTERVAL")
	})

	t.Run("invalid backend", func(t *testing.T) {
		chdirTemp(t)
		t.Setenv("CACHE_BACKEND", "memcached")
		_, err := config.Load("")
		assert.ErrorContains(t, err, "cache.backend")
	})
}

func TestConfig_Validate(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())

	cfg.Topic.Backend = config.BackendKafka
	assert.ErrorContains(t, cfg.Validate(), "kafka_brokers")
	cfg.Topic.KafkaBrokers = []string{"localhost:9092"}
	assert.NoError(t, cfg.Validate())

	cfg.LogLevel = "loud"
	assert.ErrorContains(t, cfg.Validate(), "log_level")

	cfg = config.Default()
	assert.Error(t, cfg.ValidateWorker(), "subscription and project are required")
	cfg.Ledger.Enabled = true
	assert.ErrorContains(t, cfg.ValidatePublisher(), "ledger")
}
