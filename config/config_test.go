package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "yarrow-api", cfg.AppName)
	assert.Equal(t, 3004, cfg.Port)
	assert.Equal(t, "postgres", cfg.DatabaseDriver)
	assert.Equal(t, "db/pg", cfg.DatabaseMigrationFolderPath)
	assert.Equal(t, "yarrow:jobs", cfg.JobStream)
	assert.Equal(t, "yarrow:dlq", cfg.DLQStream)
	assert.Equal(t, 10*time.Minute, cfg.JobLockTTL)
	assert.Equal(t, 30*time.Second, cfg.AccountLockTimeout)
	assert.Equal(t, 500, cfg.MatchBatchSize)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.GraphDBEnabled)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("DB_NAME", "yarrow_test")
	t.Setenv("JOB_LOCK_TTL", "90s")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("GRAPH_DB_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "yarrow_test", cfg.DatabaseName)
	assert.Equal(t, 90*time.Second, cfg.JobLockTTL)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.False(t, cfg.GraphDBEnabled)
}
