package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Telemetry source modes.
const (
	SourceSondeHub = "sondehub"
	SourceKafka    = "kafka"
	SourceHTTP     = "http"
)

// Config holds all process settings, populated from environment variables.
// Alert rules live in a separate YAML file, see LoadRules.
type Config struct {
	ConfigFile string
	Source     string

	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	SondeHubURL string
	// SondeHubRadiusKM overrides the poll radius; zero derives it from the criteria.
	SondeHubRadiusKM float64
	SondeHubTimeout  time.Duration

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Evaluation pipeline.
	BatchSize         int
	Workers           int
	QueueSize         int
	PositionCacheSize int

	// Notification dispatch.
	DispatchWorkers     int
	DispatchQueueSize   int
	NotifyTimeout       time.Duration
	NotifyRatePerMinute int

	// Alert state.
	StateTTL      time.Duration
	EvictInterval time.Duration
	ClearAfter    time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}
	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	p := &parser{}
	cfg := &Config{
		ConfigFile: sharedcfg.EnvOrDefault("CONFIG_FILE", "config.yaml"),
		Source:     sharedcfg.EnvOrDefault("SOURCE", SourceSondeHub),

		KafkaBrokers: sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:   sharedcfg.EnvOrDefault("KAFKA_TOPIC", "sonde-telemetry"),
		KafkaGroupID: sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "sonde-alert"),

		SondeHubURL:      sharedcfg.EnvOrDefault("SONDEHUB_URL", "https://api.v2.sondehub.org"),
		SondeHubRadiusKM: p.float("SONDEHUB_RADIUS_KM", 0),
		SondeHubTimeout:  p.duration("SONDEHUB_TIMEOUT", 15*time.Second),

		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		BatchSize:         batchSize,
		Workers:           p.positiveInt("WORKERS", 4),
		QueueSize:         p.positiveInt("QUEUE_SIZE", 1024),
		PositionCacheSize: p.positiveInt("POSITION_CACHE_SIZE", 5000),

		DispatchWorkers:     p.positiveInt("DISPATCH_WORKERS", 2),
		DispatchQueueSize:   p.positiveInt("DISPATCH_QUEUE_SIZE", 256),
		NotifyTimeout:       p.duration("NOTIFY_TIMEOUT", 10*time.Second),
		NotifyRatePerMinute: p.positiveInt("NOTIFY_RATE_PER_MINUTE", 30),

		StateTTL:      p.duration("STATE_TTL", 6*time.Hour),
		EvictInterval: p.duration("EVICT_INTERVAL", 5*time.Minute),
		ClearAfter:    p.durationAllowZero("CLEAR_AFTER", 0),
	}
	if p.err != nil {
		return nil, p.err
	}

	switch cfg.Source {
	case SourceSondeHub:
		if cfg.SondeHubURL == "" {
			return nil, errors.New("SONDEHUB_URL is required when SOURCE=sondehub")
		}
	case SourceKafka:
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("KAFKA_BROKERS is required when SOURCE=kafka")
		}
		if cfg.KafkaTopic == "" {
			return nil, errors.New("KAFKA_TOPIC is required when SOURCE=kafka")
		}
	case SourceHTTP:
	default:
		return nil, fmt.Errorf("invalid SOURCE %q: want sondehub, kafka or http", cfg.Source)
	}

	return cfg, nil
}

// parser collects the first parse error so Load can report it once.
type parser struct {
	err error
}

func (p *parser) fail(key, value string) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s: %q", key, value)
	}
}

func (p *parser) positiveInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		p.fail(key, s)
		return def
	}
	return n
}

func (p *parser) float(key string, def float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		p.fail(key, s)
		return def
	}
	return f
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		p.fail(key, s)
		return def
	}
	return d
}

func (p *parser) durationAllowZero(key string, def time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		p.fail(key, s)
		return def
	}
	return d
}
