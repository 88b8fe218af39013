package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Config captures all tunable parameters for the dispatch process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type Config struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	PGDSN string

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers []string
	KafkaTopic   string

	// Presence tuning: how long an offline entry survives before the
	// stale sweep removes it, and how often the sweep runs.
	PresenceTTL   time.Duration
	SweepInterval time.Duration

	// Lifecycle tuning: redundant re-delivery delay for acceptance
	// events and how long a completed ride's working copy lingers.
	AcceptRedeliver   time.Duration
	WorkingCopyGrace  time.Duration
	StatusLogInterval time.Duration

	LogLevel      string
	RunMigrations bool
}

func defaultConfig() Config {
	return Config{
		HTTPAddr:          ":8080",
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		ShutdownTimeout:   15 * time.Second,
		RedisGeoKey:       "drivers_geo",
		KafkaTopic:        "driver-locations",
		PresenceTTL:       5 * time.Minute,
		SweepInterval:     60 * time.Second,
		AcceptRedeliver:   time.Second,
		WorkingCopyGrace:  5 * time.Second,
		StatusLogInterval: 60 * time.Second,
		LogLevel:          "info",
	}
}

func Load() (Config, error) {
	cfg := defaultConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.PGDSN = os.Getenv("PG_DSN")

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	setDurationFromEnv(&cfg.PresenceTTL, "PRESENCE_TTL", &errs)
	setDurationFromEnv(&cfg.SweepInterval, "PRESENCE_SWEEP_INTERVAL", &errs)
	setDurationFromEnv(&cfg.AcceptRedeliver, "ACCEPT_REDELIVER_DELAY", &errs)
	setDurationFromEnv(&cfg.WorkingCopyGrace, "WORKING_COPY_GRACE", &errs)
	setDurationFromEnv(&cfg.StatusLogInterval, "STATUS_LOG_INTERVAL", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.PresenceTTL <= 0 {
		errs = append(errs, fmt.Errorf("PRESENCE_TTL must be > 0"))
	}
	if cfg.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("PRESENCE_SWEEP_INTERVAL must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
