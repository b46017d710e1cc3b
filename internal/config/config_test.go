package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 15*time.Minute, cfg.SweepInterval)
	assert.Equal(t, time.Hour, cfg.PaymentTTL)
	assert.Equal(t, 5*time.Minute, cfg.WebhookSkew)
	assert.Equal(t, 32, cfg.OutboxBatchSize)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STOREFRONT_HTTP_ADDR", ":9999")
	t.Setenv("STOREFRONT_SWEEP_INTERVAL", "45s")
	t.Setenv("STOREFRONT_OUTBOX_BATCH", "7")

	cfg := Load()

	assert.Equal(t, ":9999", cfg.HTTPAddr)
	assert.Equal(t, 45*time.Second, cfg.SweepInterval)
	assert.Equal(t, 7, cfg.OutboxBatchSize)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("STOREFRONT_SWEEP_INTERVAL", "not-a-duration")
	t.Setenv("STOREFRONT_OUTBOX_BATCH", "many")

	cfg := Load()

	assert.Equal(t, 15*time.Minute, cfg.SweepInterval)
	assert.Equal(t, 32, cfg.OutboxBatchSize)
}
