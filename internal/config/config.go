package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds process settings, populated from environment variables. What
// a run processes lives in the run plan (see LoadPlan).
type Config struct {
	LogLevel        string
	LogFormat       string
	HTTPAddr        string
	ShutdownTimeout time.Duration

	// MetricsTextfile, when set, receives a Prometheus text exposition of
	// the run's metrics after the run ends.
	MetricsTextfile string
	// ManifestPath is the SQLite run manifest. Empty keeps it in memory.
	ManifestPath string
	MaxWorkers   int

	// Derived-row publishing (feature-flagged via KAFKA_ENABLED / KAFKA_BROKERS).
	KafkaEnabled bool
	KafkaBrokers []string
	KafkaTopic   string
}

const maxWorkersLimit = 64

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	maxWorkers, err := parseMaxWorkers()
	if err != nil {
		return nil, err
	}

	var brokers []string
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		brokers = sharedcfg.ParseBrokers(v)
	}
	kafkaEnabled := len(brokers) > 0
	if v := os.Getenv("KAFKA_ENABLED"); v != "" {
		kafkaEnabled = v == "true"
	}

	cfg := &Config{
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		HTTPAddr:        os.Getenv("HTTP_ADDR"),
		ShutdownTimeout: shutdownTimeout,
		MetricsTextfile: os.Getenv("METRICS_TEXTFILE"),
		ManifestPath:    os.Getenv("MANIFEST_PATH"),
		MaxWorkers:      maxWorkers,
		KafkaEnabled:    kafkaEnabled,
		KafkaBrokers:    brokers,
		KafkaTopic:      sharedcfg.EnvOrDefault("KAFKA_TOPIC", "aeronet-derived"),
	}

	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is not set")
	}
	if cfg.KafkaEnabled && cfg.KafkaTopic == "" {
		return nil, errors.New("KAFKA_TOPIC is required")
	}

	return cfg, nil
}

func parseMaxWorkers() (int, error) {
	s := os.Getenv("MAX_WORKERS")
	if s == "" {
		return 4, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > maxWorkersLimit {
		return 0, fmt.Errorf("invalid MAX_WORKERS %q: must be an integer between 1 and %d", s, maxWorkersLimit)
	}
	return n, nil
}
