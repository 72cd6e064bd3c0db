package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures all tunable parameters for the driverd process. Values
// come from an optional YAML file overridden by environment variables, with
// defaults sane enough to run locally without setup.
type Config struct {
	APIBaseURL string
	APIToken   string
	APITimeout time.Duration

	RealtimeURL string

	ControlAddr     string
	ShutdownTimeout time.Duration

	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	RedisPrefix   string

	KafkaBrokers []string
	KafkaTopic   string
	DriverID     string

	PGDSN string

	Tick                time.Duration
	CurrentRideInterval time.Duration
	OfferFastInterval   time.Duration
	OfferSlowInterval   time.Duration
	OfferTTL            time.Duration
	StaleRideAfter      time.Duration
	HistoryPageSize     int

	ForegroundInterval    time.Duration
	ForegroundMinDistance float64
	BackgroundInterval    time.Duration
	BackgroundMinDistance float64
	BackgroundEnabled     bool

	HomeLat float64
	HomeLon float64

	LogLevel string
}

// fileConfig is the YAML schema. Durations are Go duration strings ("90s",
// "24h"), parsed with the same rules as the env overrides; absent fields
// leave the defaults untouched.
type fileConfig struct {
	APIBaseURL string `yaml:"api_base_url"`
	APIToken   string `yaml:"api_token"`
	APITimeout string `yaml:"api_timeout"`

	RealtimeURL string `yaml:"realtime_url"`

	ControlAddr     string `yaml:"control_addr"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`

	SQLitePath    string `yaml:"sqlite_path"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisPrefix   string `yaml:"redis_prefix"`

	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`
	DriverID     string   `yaml:"driver_id"`

	PGDSN string `yaml:"pg_dsn"`

	Tick                string `yaml:"tick"`
	CurrentRideInterval string `yaml:"current_ride_interval"`
	OfferFastInterval   string `yaml:"offer_fast_interval"`
	OfferSlowInterval   string `yaml:"offer_slow_interval"`
	OfferTTL            string `yaml:"offer_ttl"`
	StaleRideAfter      string `yaml:"stale_ride_after"`
	HistoryPageSize     int    `yaml:"history_page_size"`

	ForegroundInterval    string  `yaml:"foreground_interval"`
	ForegroundMinDistance float64 `yaml:"foreground_min_distance"`
	BackgroundInterval    string  `yaml:"background_interval"`
	BackgroundMinDistance float64 `yaml:"background_min_distance"`
	BackgroundEnabled     *bool   `yaml:"background_enabled"`

	HomeLat float64 `yaml:"home_lat"`
	HomeLon float64 `yaml:"home_lon"`

	LogLevel string `yaml:"log_level"`
}

func defaultConfig() Config {
	return Config{
		APIBaseURL:            "http://localhost:8080",
		APITimeout:            10 * time.Second,
		ControlAddr:           ":7180",
		ShutdownTimeout:       15 * time.Second,
		SQLitePath:            "driversync.db",
		KafkaTopic:            "driver-locations",
		Tick:                  5 * time.Second,
		CurrentRideInterval:   15 * time.Second,
		OfferFastInterval:     10 * time.Second,
		OfferSlowInterval:     60 * time.Second,
		OfferTTL:              45 * time.Second,
		StaleRideAfter:        24 * time.Hour,
		HistoryPageSize:       20,
		ForegroundInterval:    3 * time.Second,
		ForegroundMinDistance: 10,
		BackgroundInterval:    10 * time.Second,
		BackgroundMinDistance: 20,
		LogLevel:              "info",
	}
}

// Load builds the config: defaults, then the YAML file (when path is not
// empty), then environment variables on top.
func Load(path string) (Config, error) {
	cfg := defaultConfig()
	var errs []error

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		var f fileConfig
		if err := yaml.Unmarshal(b, &f); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
		applyFile(&cfg, f, &errs)
	}

	setStringFromEnv(&cfg.APIBaseURL, "API_BASE_URL")
	setStringFromEnv(&cfg.APIToken, "API_TOKEN")
	setDurationFromEnv(&cfg.APITimeout, "API_TIMEOUT", &errs)
	setStringFromEnv(&cfg.RealtimeURL, "REALTIME_URL")
	setStringFromEnv(&cfg.ControlAddr, "CONTROL_ADDR")
	setDurationFromEnv(&cfg.ShutdownTimeout, "SHUTDOWN_TIMEOUT", &errs)

	setStringFromEnv(&cfg.SQLitePath, "SQLITE_PATH")
	cfg.RedisAddr = strings.TrimSpace(envOr(cfg.RedisAddr, "REDIS_ADDR"))
	cfg.RedisPassword = envOr(cfg.RedisPassword, "REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisPrefix, "REDIS_PREFIX")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.DriverID, "DRIVER_ID")
	cfg.PGDSN = envOr(cfg.PGDSN, "PG_DSN")

	setDurationFromEnv(&cfg.Tick, "SYNC_TICK", &errs)
	setDurationFromEnv(&cfg.CurrentRideInterval, "CURRENT_RIDE_INTERVAL", &errs)
	setDurationFromEnv(&cfg.OfferFastInterval, "OFFER_FAST_INTERVAL", &errs)
	setDurationFromEnv(&cfg.OfferSlowInterval, "OFFER_SLOW_INTERVAL", &errs)
	setDurationFromEnv(&cfg.OfferTTL, "OFFER_TTL", &errs)
	setDurationFromEnv(&cfg.StaleRideAfter, "STALE_RIDE_AFTER", &errs)
	setIntFromEnv(&cfg.HistoryPageSize, "HISTORY_PAGE_SIZE", &errs)

	setDurationFromEnv(&cfg.ForegroundInterval, "FOREGROUND_INTERVAL", &errs)
	setFloatFromEnv(&cfg.ForegroundMinDistance, "FOREGROUND_MIN_DISTANCE", &errs)
	setDurationFromEnv(&cfg.BackgroundInterval, "BACKGROUND_INTERVAL", &errs)
	setFloatFromEnv(&cfg.BackgroundMinDistance, "BACKGROUND_MIN_DISTANCE", &errs)
	if v := os.Getenv("BACKGROUND_ENABLED"); v != "" {
		cfg.BackgroundEnabled = strings.EqualFold(v, "true")
	}

	setFloatFromEnv(&cfg.HomeLat, "HOME_LAT", &errs)
	setFloatFromEnv(&cfg.HomeLon, "HOME_LON", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.APIToken == "" {
		errs = append(errs, fmt.Errorf("API_TOKEN is required"))
	}
	if cfg.OfferFastInterval <= 0 || cfg.OfferSlowInterval < cfg.OfferFastInterval {
		errs = append(errs, fmt.Errorf("offer intervals must satisfy 0 < fast <= slow"))
	}
	if cfg.HistoryPageSize <= 0 {
		errs = append(errs, fmt.Errorf("HISTORY_PAGE_SIZE must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func applyFile(cfg *Config, f fileConfig, errs *[]error) {
	setString(&cfg.APIBaseURL, f.APIBaseURL)
	setString(&cfg.APIToken, f.APIToken)
	setDuration(&cfg.APITimeout, f.APITimeout, "api_timeout", errs)
	setString(&cfg.RealtimeURL, f.RealtimeURL)
	setString(&cfg.ControlAddr, f.ControlAddr)
	setDuration(&cfg.ShutdownTimeout, f.ShutdownTimeout, "shutdown_timeout", errs)

	setString(&cfg.SQLitePath, f.SQLitePath)
	setString(&cfg.RedisAddr, f.RedisAddr)
	setString(&cfg.RedisPassword, f.RedisPassword)
	setString(&cfg.RedisPrefix, f.RedisPrefix)

	if len(f.KafkaBrokers) > 0 {
		cfg.KafkaBrokers = f.KafkaBrokers
	}
	setString(&cfg.KafkaTopic, f.KafkaTopic)
	setString(&cfg.DriverID, f.DriverID)
	setString(&cfg.PGDSN, f.PGDSN)

	setDuration(&cfg.Tick, f.Tick, "tick", errs)
	setDuration(&cfg.CurrentRideInterval, f.CurrentRideInterval, "current_ride_interval", errs)
	setDuration(&cfg.OfferFastInterval, f.OfferFastInterval, "offer_fast_interval", errs)
	setDuration(&cfg.OfferSlowInterval, f.OfferSlowInterval, "offer_slow_interval", errs)
	setDuration(&cfg.OfferTTL, f.OfferTTL, "offer_ttl", errs)
	setDuration(&cfg.StaleRideAfter, f.StaleRideAfter, "stale_ride_after", errs)
	if f.HistoryPageSize > 0 {
		cfg.HistoryPageSize = f.HistoryPageSize
	}

	setDuration(&cfg.ForegroundInterval, f.ForegroundInterval, "foreground_interval", errs)
	if f.ForegroundMinDistance > 0 {
		cfg.ForegroundMinDistance = f.ForegroundMinDistance
	}
	setDuration(&cfg.BackgroundInterval, f.BackgroundInterval, "background_interval", errs)
	if f.BackgroundMinDistance > 0 {
		cfg.BackgroundMinDistance = f.BackgroundMinDistance
	}
	if f.BackgroundEnabled != nil {
		cfg.BackgroundEnabled = *f.BackgroundEnabled
	}

	if f.HomeLat != 0 {
		cfg.HomeLat = f.HomeLat
	}
	if f.HomeLon != 0 {
		cfg.HomeLon = f.HomeLon
	}

	if f.LogLevel != "" {
		cfg.LogLevel = strings.ToLower(f.LogLevel)
	}
}

func setString(target *string, v string) {
	if strings.TrimSpace(v) != "" {
		*target = strings.TrimSpace(v)
	}
}

func setDuration(target *time.Duration, v, key string, errs *[]error) {
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return
	}
	*target = d
}

func envOr(current, key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return current
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	setDuration(target, os.Getenv(key), key, errs)
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	setString(target, os.Getenv(key))
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
