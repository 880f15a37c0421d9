package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the window-fleet automation service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	// Local BitBrowser-compatible vendor API.
	VendorAPIURL   string
	VendorListSize int

	// Window lifecycle.
	WindowQuota         int
	RequiredDeviceClass string // "mobile" or "desktop"

	// Task execution.
	ConcurrencyMin   int
	ConcurrencyMax   int
	TaskRetention    time.Duration
	BindCardWaitMax  time.Duration
	BindCardWaitPoll time.Duration
	EventAckTimeout  time.Duration

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:            envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:    envOrDefault("APP_METRICS_NAMESPACE", "fleetd"),
		AllowAnyOrigin:      false,
		VendorAPIURL:        envOrDefault("BIT_API_URL", "http://127.0.0.1:54345"),
		VendorListSize:      1000,
		WindowQuota:         50,
		RequiredDeviceClass: envOrDefault("WINDOW_DEVICE_CLASS", "mobile"),
		ConcurrencyMin:      1,
		ConcurrencyMax:      5,
		TaskRetention:       time.Hour,
		BindCardWaitMax:     60 * time.Second,
		BindCardWaitPoll:    2 * time.Second,
		EventAckTimeout:     5 * time.Second,
		DatabaseURL:         strings.TrimSpace(os.Getenv("DATABASE_URL")),
		ShutdownTimeout:     15 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.TaskRetention, err = durationFromEnv("TASK_RETENTION", cfg.TaskRetention)
	if err != nil {
		return Config{}, err
	}
	cfg.BindCardWaitMax, err = durationFromEnv("BIND_CARD_WAIT_MAX", cfg.BindCardWaitMax)
	if err != nil {
		return Config{}, err
	}
	cfg.BindCardWaitPoll, err = durationFromEnv("BIND_CARD_WAIT_POLL", cfg.BindCardWaitPoll)
	if err != nil {
		return Config{}, err
	}
	cfg.EventAckTimeout, err = durationFromEnv("EVENT_ACK_TIMEOUT", cfg.EventAckTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.WindowQuota, err = intFromEnv("WINDOW_QUOTA", cfg.WindowQuota)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if strings.TrimSpace(cfg.VendorAPIURL) == "" {
		return Config{}, fmt.Errorf("BIT_API_URL must not be empty")
	}
	if cfg.WindowQuota <= 0 {
		return Config{}, fmt.Errorf("WINDOW_QUOTA must be positive")
	}
	switch cfg.RequiredDeviceClass {
	case "mobile", "desktop":
	default:
		return Config{}, fmt.Errorf("WINDOW_DEVICE_CLASS must be mobile or desktop, got %q", cfg.RequiredDeviceClass)
	}
	if cfg.TaskRetention < time.Minute {
		return Config{}, fmt.Errorf("TASK_RETENTION must be at least 1m")
	}
	if cfg.BindCardWaitPoll <= 0 || cfg.BindCardWaitMax < cfg.BindCardWaitPoll {
		return Config{}, fmt.Errorf("BIND_CARD_WAIT_MAX must be >= BIND_CARD_WAIT_POLL > 0")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
