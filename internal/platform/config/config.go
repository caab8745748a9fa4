package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config captures process configuration. Timeout defaults mirror the mobile
// client's behavior and should not be changed without checking both ends.
type Config struct {
	Addr string `env:"RAVEGATE_ADDR" envDefault:":8080"`

	// Provider / challenge behavior.
	OTPLength           int           `env:"RAVEGATE_OTP_LENGTH" envDefault:"6"`
	MinPhoneDigits      int           `env:"RAVEGATE_MIN_PHONE_DIGITS" envDefault:"4"`
	ChallengeRetryDelay time.Duration `env:"RAVEGATE_CHALLENGE_RETRY_DELAY" envDefault:"1s"`

	// Bounded waits. Late provider responses are ignored, never awaited past
	// these bounds.
	ExchangeTimeout    time.Duration `env:"RAVEGATE_EXCHANGE_TIMEOUT" envDefault:"10s"`
	ProfileReadTimeout time.Duration `env:"RAVEGATE_PROFILE_READ_TIMEOUT" envDefault:"7s"`
	SessionReplayWait  time.Duration `env:"RAVEGATE_SESSION_REPLAY_WAIT" envDefault:"5s"`

	// Verification handle lifetime at the local provider.
	HandleTTL time.Duration `env:"RAVEGATE_HANDLE_TTL" envDefault:"3m"`

	// Wrong-code lockout.
	LockoutThreshold int           `env:"RAVEGATE_LOCKOUT_THRESHOLD" envDefault:"5"`
	LockoutWindow    time.Duration `env:"RAVEGATE_LOCKOUT_WINDOW" envDefault:"10m"`

	CredentialSigningKey string `env:"RAVEGATE_CREDENTIAL_KEY" envDefault:"dev-secret-key-change-in-production"`

	PostgresDSN string `env:"RAVEGATE_POSTGRES_DSN"`
	Redis       RedisConfig
	Kafka       KafkaConfig
}

// RedisConfig controls the optional Redis profile cache and throttle store.
type RedisConfig struct {
	URL          string        `env:"RAVEGATE_REDIS_URL"`
	PoolSize     int           `env:"RAVEGATE_REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"RAVEGATE_REDIS_MIN_IDLE" envDefault:"2"`
	DialTimeout  time.Duration `env:"RAVEGATE_REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"RAVEGATE_REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"RAVEGATE_REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// KafkaConfig controls the optional audit sink. Empty brokers disable it.
type KafkaConfig struct {
	Brokers []string `env:"RAVEGATE_KAFKA_BROKERS" envSeparator:","`
	Topic   string   `env:"RAVEGATE_KAFKA_AUDIT_TOPIC" envDefault:"ravegate.audit"`
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env config: %w", err)
	}
	return cfg, nil
}
