package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.VendorAPIURL != "http://127.0.0.1:54345" {
		t.Fatalf("VendorAPIURL = %q, want local default", cfg.VendorAPIURL)
	}
	if cfg.WindowQuota != 50 {
		t.Fatalf("WindowQuota = %d, want 50", cfg.WindowQuota)
	}
	if cfg.RequiredDeviceClass != "mobile" {
		t.Fatalf("RequiredDeviceClass = %q, want mobile", cfg.RequiredDeviceClass)
	}
	if cfg.TaskRetention != time.Hour {
		t.Fatalf("TaskRetention = %v, want 1h", cfg.TaskRetention)
	}
	if cfg.BindCardWaitMax != 60*time.Second || cfg.BindCardWaitPoll != 2*time.Second {
		t.Fatalf("bind-card wait knobs = %v/%v, want 60s/2s", cfg.BindCardWaitMax, cfg.BindCardWaitPoll)
	}
	if cfg.ConcurrencyMin != 1 || cfg.ConcurrencyMax != 5 {
		t.Fatalf("concurrency bounds = %d..%d, want 1..5", cfg.ConcurrencyMin, cfg.ConcurrencyMax)
	}
}

func TestLoadRejectsBadDeviceClass(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("WINDOW_DEVICE_CLASS", "tablet")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil, want device class validation failure")
	}
}

func TestLoadUsesExplicitQuota(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("WINDOW_QUOTA", "7")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.WindowQuota != 7 {
		t.Fatalf("WindowQuota = %d, want 7", cfg.WindowQuota)
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"BIT_API_URL",
		"WINDOW_DEVICE_CLASS",
		"WINDOW_QUOTA",
		"TASK_RETENTION",
		"BIND_CARD_WAIT_MAX",
		"BIND_CARD_WAIT_POLL",
		"EVENT_ACK_TIMEOUT",
		"DATABASE_URL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
