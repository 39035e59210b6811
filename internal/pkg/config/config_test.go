package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, StorageMemory, cfg.Storage.Driver)
	assert.Equal(t, LockLocal, cfg.Lock.Backend)
	assert.Equal(t, ConflictReject, cfg.Payment.ConflictPolicy)
	assert.Equal(t, 3, cfg.Infra.Kafka.MaxRetries)
	assert.Equal(t, time.Second, cfg.Infra.Kafka.RetryBackoff)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
app:
  port: 9090
infra:
  kafka:
    brokers: ["k1:9092", "k2:9092"]
    retryBackoff: 250ms
storage:
  driver: mysql
lock:
  backend: redis
payment:
  conflictPolicy: existing
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.App.Port)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Infra.Kafka.Brokers)
	assert.Equal(t, 250*time.Millisecond, cfg.Infra.Kafka.RetryBackoff)
	assert.Equal(t, StorageMySQL, cfg.Storage.Driver)
	assert.Equal(t, LockRedis, cfg.Lock.Backend)
	assert.Equal(t, ConflictExisting, cfg.Payment.ConflictPolicy)
	// 未出现在文件中的字段保留默认值
	assert.Equal(t, "0.1", cfg.Payment.PointRule)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "app:\n  port: 9090\n")
	t.Setenv("HTTP_PORT", "7070")
	t.Setenv("KAFKA_BROKERS", "a:1, b:2")
	t.Setenv("LOCK_BACKEND", "zookeeper")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.App.Port)
	assert.Equal(t, []string{"a:1", "b:2"}, cfg.Infra.Kafka.Brokers)
	assert.Equal(t, LockZookeeper, cfg.Lock.Backend)
}

func TestLoadRejectsUnknownValues(t *testing.T) {
	path := writeConfig(t, "payment:\n  conflictPolicy: overwrite\n")
	_, err := Load(path)
	assert.ErrorContains(t, err, "conflict policy")

	path = writeConfig(t, "storage:\n  driver: postgres\n")
	_, err = Load(path)
	assert.ErrorContains(t, err, "storage driver")
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestFormatDSN(t *testing.T) {
	m := MySQLConfig{Host: "db", Port: 3307, User: "app", Password: "secret", Database: "orders"}
	dsn := m.FormatDSN()
	assert.Contains(t, dsn, "app:secret@tcp(db:3307)/orders")
	assert.Contains(t, dsn, "parseTime=true")

	m.DSN = "override"
	assert.Equal(t, "override", m.FormatDSN())
}
