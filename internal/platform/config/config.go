package config

import (
	"os"
	"strconv"
	"time"
)

// Server captures process-level configuration. Policy durations are
// deliberately configurable rather than hard-coded: the waiting period,
// verification window, and resubmission cooldown are product policy, not
// implementation constants.
type Server struct {
	Addr          string
	JWTSigningKey string

	// ReadHeaderTimeout bounds how long the listener waits for request
	// headers.
	ReadHeaderTimeout time.Duration
	// ShutdownTimeout bounds the graceful drain on SIGTERM.
	ShutdownTimeout time.Duration

	// PostgresDSN selects the postgres-backed stores when non-empty;
	// otherwise the in-memory stores are wired.
	PostgresDSN string
	// RedisURL enables the redis-backed cooldown store when non-empty.
	RedisURL string

	// VerifierWebhookURL is where verification kicks are posted.
	VerifierWebhookURL string
	// NotifierWebhookURL is where owner notifications are posted.
	NotifierWebhookURL string
	// DeliveryWebhookURL is where fired item references are handed off for
	// recipient delivery.
	DeliveryWebhookURL string

	// WaitingPeriod is how long an approved emergency request must sit,
	// cancelable by the owner, before a grant is issued.
	WaitingPeriod time.Duration
	// VerificationWindow bounds how long a request may stay unresolved in
	// verification before it expires.
	VerificationWindow time.Duration
	// ResubmitCooldown is how long after a terminal non-grant outcome a
	// requester must wait before submitting again for the same owner.
	ResubmitCooldown time.Duration
	// SweepInterval drives the expiration sweep and the delivery scheduler.
	SweepInterval time.Duration
}

// FromEnv builds a Server config from environment variables so main stays
// lean.
func FromEnv() Server {
	return Server{
		Addr:               envString("HEIRLOOM_ADDR", ":8080"),
		JWTSigningKey:      envString("HEIRLOOM_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		ReadHeaderTimeout:  envDuration("HEIRLOOM_READ_HEADER_TIMEOUT", 5*time.Second),
		ShutdownTimeout:    envDuration("HEIRLOOM_SHUTDOWN_TIMEOUT", 10*time.Second),
		PostgresDSN:        os.Getenv("HEIRLOOM_POSTGRES_DSN"),
		RedisURL:           os.Getenv("HEIRLOOM_REDIS_URL"),
		VerifierWebhookURL: os.Getenv("HEIRLOOM_VERIFIER_WEBHOOK_URL"),
		NotifierWebhookURL: os.Getenv("HEIRLOOM_NOTIFIER_WEBHOOK_URL"),
		DeliveryWebhookURL: os.Getenv("HEIRLOOM_DELIVERY_WEBHOOK_URL"),
		WaitingPeriod:      envDuration("HEIRLOOM_WAITING_PERIOD", 72*time.Hour),
		VerificationWindow: envDuration("HEIRLOOM_VERIFICATION_WINDOW", 10*24*time.Hour),
		ResubmitCooldown:   envDuration("HEIRLOOM_RESUBMIT_COOLDOWN", 24*time.Hour),
		SweepInterval:      envDuration("HEIRLOOM_SWEEP_INTERVAL", time.Minute),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
