package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/billing")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, time.Hour, cfg.Renewal.Interval)
	assert.Equal(t, 30*time.Second, cfg.Renewal.InitialDelay)
	assert.Equal(t, 8, cfg.Renewal.Concurrency)
	assert.Equal(t, 30*time.Second, cfg.Renewal.Timeout)
	assert.Equal(t, 500, cfg.Renewal.BatchSize)
	assert.Equal(t, 7*24*time.Hour, cfg.Renewal.GraceWindow)
	assert.False(t, cfg.StripeEnabled())
	assert.False(t, cfg.MinioEnabled())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/billing")
	t.Setenv("RENEWAL_INTERVAL", "15m")
	t.Setenv("RENEWAL_CONCURRENCY", "2")
	t.Setenv("GRACE_WINDOW", "72h")
	t.Setenv("STRIPE_API_KEY", "sk_test_123")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 15*time.Minute, cfg.Renewal.Interval)
	assert.Equal(t, 2, cfg.Renewal.Concurrency)
	assert.Equal(t, 72*time.Hour, cfg.Renewal.GraceWindow)
	assert.True(t, cfg.StripeEnabled())
}

func TestLoad_MissingDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_RejectsZeroConcurrency(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/billing")
	t.Setenv("RENEWAL_CONCURRENCY", "0")

	_, err := Load()
	assert.ErrorContains(t, err, "RENEWAL_CONCURRENCY")
}
