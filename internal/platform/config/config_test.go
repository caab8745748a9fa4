package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 6, cfg.OTPLength)
	assert.Equal(t, 4, cfg.MinPhoneDigits)
	assert.Equal(t, time.Second, cfg.ChallengeRetryDelay)
	assert.Equal(t, 10*time.Second, cfg.ExchangeTimeout)
	assert.Equal(t, 7*time.Second, cfg.ProfileReadTimeout)
	assert.Equal(t, 5*time.Second, cfg.SessionReplayWait)
	assert.Equal(t, 3*time.Minute, cfg.HandleTTL)
	assert.Equal(t, 5, cfg.LockoutThreshold)
	assert.Equal(t, 10*time.Minute, cfg.LockoutWindow)
	assert.Empty(t, cfg.PostgresDSN)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, "ravegate.audit", cfg.Kafka.Topic)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("RAVEGATE_ADDR", ":9090")
	t.Setenv("RAVEGATE_OTP_LENGTH", "8")
	t.Setenv("RAVEGATE_EXCHANGE_TIMEOUT", "2s")
	t.Setenv("RAVEGATE_KAFKA_BROKERS", "broker-1:9092,broker-2:9092")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, 8, cfg.OTPLength)
	assert.Equal(t, 2*time.Second, cfg.ExchangeTimeout)
	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.Kafka.Brokers)
}

func TestFromEnv_InvalidValue(t *testing.T) {
	t.Setenv("RAVEGATE_OTP_LENGTH", "not-a-number")

	_, err := FromEnv()
	require.Error(t, err)
}
