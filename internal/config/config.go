package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	BusDriverRedis  = "redis"
	BusDriverNATS   = "nats"
	BusDriverMemory = "memory"
)

type Config struct {
	Port              int    `env:"PORT" envDefault:"8080"`
	LogLevel          string `env:"LOG_LEVEL" envDefault:"info"`
	Environment       string `env:"APP_ENV" envDefault:"development"`
	PublicBaseURL     string `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`
	StoreDriver       string `env:"STORE_DRIVER" envDefault:"postgres"`
	DatabaseURL       string `env:"DATABASE_URL"`
	BusDriver         string `env:"BUS_DRIVER" envDefault:"redis"`
	RedisURL          string `env:"REDIS_URL"`
	NATSURL           string `env:"NATS_URL"`
	InterviewerTokens string `env:"INTERVIEWER_TOKENS"`
	PolicyFile        string `env:"POLICY_FILE"`

	DefaultDurationSeconds int `env:"DEFAULT_DURATION_SECONDS" envDefault:"1800"`
	PollIntervalMS         int `env:"POLL_INTERVAL_MS" envDefault:"2000"`
	CodeDebounceMS         int `env:"CODE_DEBOUNCE_MS" envDefault:"2000"`

	Detection DetectionConfig
}

// DetectionConfig holds the classifier thresholds. They are untuned starting
// values and are expected to be overridden per deployment.
type DetectionConfig struct {
	TabSwitchWindowSeconds     int     `env:"TAB_SWITCH_WINDOW_SECONDS" envDefault:"60"`
	AlertThrottleSeconds       int     `env:"ALERT_THROTTLE_SECONDS" envDefault:"10"`
	PasteBurstWindowSeconds    int     `env:"PASTE_BURST_WINDOW_SECONDS" envDefault:"10"`
	PasteBurstThreshold        int     `env:"PASTE_BURST_THRESHOLD" envDefault:"3"`
	CopyMinLength              int     `env:"COPY_MIN_LENGTH" envDefault:"50"`
	TypingWindowSize           int     `env:"TYPING_WINDOW_SIZE" envDefault:"100"`
	TypingVarianceThresholdMS2 float64 `env:"TYPING_VARIANCE_THRESHOLD_MS2" envDefault:"150"`
	TypingMeanThresholdMS      float64 `env:"TYPING_MEAN_THRESHOLD_MS" envDefault:"40"`
	DedupeCacheSize            int     `env:"DEDUPE_CACHE_SIZE" envDefault:"10000"`
}

// DefaultDetection returns the thresholds used when no environment is parsed.
func DefaultDetection() DetectionConfig {
	return DetectionConfig{
		TabSwitchWindowSeconds:     60,
		AlertThrottleSeconds:       10,
		PasteBurstWindowSeconds:    10,
		PasteBurstThreshold:        3,
		CopyMinLength:              50,
		TypingWindowSize:           100,
		TypingVarianceThresholdMS2: 150,
		TypingMeanThresholdMS:      40,
		DedupeCacheSize:            10000,
	}
}

func (d DetectionConfig) TabSwitchWindow() time.Duration {
	return time.Duration(d.TabSwitchWindowSeconds) * time.Second
}

func (d DetectionConfig) AlertThrottle() time.Duration {
	return time.Duration(d.AlertThrottleSeconds) * time.Second
}

func (d DetectionConfig) PasteBurstWindow() time.Duration {
	return time.Duration(d.PasteBurstWindowSeconds) * time.Second
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) DefaultDuration() time.Duration {
	return time.Duration(c.DefaultDurationSeconds) * time.Second
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

func (c *Config) CodeDebounce() time.Duration {
	return time.Duration(c.CodeDebounceMS) * time.Millisecond
}

// PublicHost is the host component of PUBLIC_BASE_URL, used for same-origin
// checks on trap endpoints.
func (c *Config) PublicHost() string {
	u, err := url.Parse(c.PublicBaseURL)
	if err != nil {
		return ""
	}
	return u.Host
}

func (c *Config) Validate(isProduction bool) error {
	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=%s", StoreDriverPostgres)
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	switch c.BusDriver {
	case BusDriverRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when BUS_DRIVER=%s", BusDriverRedis)
		}
	case BusDriverNATS:
		if c.NATSURL == "" {
			return fmt.Errorf("NATS_URL is required when BUS_DRIVER=%s", BusDriverNATS)
		}
	case BusDriverMemory:
	default:
		return fmt.Errorf("unknown BUS_DRIVER %q", c.BusDriver)
	}

	u, err := url.Parse(c.PublicBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("PUBLIC_BASE_URL must be an absolute URL")
	}

	if c.DefaultDurationSeconds <= 0 {
		return fmt.Errorf("DEFAULT_DURATION_SECONDS must be positive")
	}
	if c.PollIntervalMS <= 0 || c.CodeDebounceMS <= 0 {
		return fmt.Errorf("POLL_INTERVAL_MS and CODE_DEBOUNCE_MS must be positive")
	}
	if c.Detection.PasteBurstThreshold < 1 || c.Detection.TypingWindowSize < 2 {
		return fmt.Errorf("PASTE_BURST_THRESHOLD must be >= 1 and TYPING_WINDOW_SIZE >= 2")
	}

	if isProduction {
		if c.InterviewerTokens == "" {
			log.Warn().Msg("INTERVIEWER_TOKENS is empty in production: interviewer endpoints will reject every request")
		}
		if c.StoreDriver == StoreDriverMemory {
			log.Warn().Msg("STORE_DRIVER=memory in production: sessions and incidents are lost on restart")
		}
		if c.BusDriver == BusDriverRedis && strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
