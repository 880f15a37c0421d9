package app

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/muntrav/bitbrowser-automation/internal/accounts"
	"github.com/muntrav/bitbrowser-automation/internal/bitapi"
	"github.com/muntrav/bitbrowser-automation/internal/browser"
	"github.com/muntrav/bitbrowser-automation/internal/config"
	"github.com/muntrav/bitbrowser-automation/internal/engine"
	"github.com/muntrav/bitbrowser-automation/internal/events"
	"github.com/muntrav/bitbrowser-automation/internal/httpapi"
	"github.com/muntrav/bitbrowser-automation/internal/observability"
	"github.com/muntrav/bitbrowser-automation/internal/settings"
	"github.com/muntrav/bitbrowser-automation/internal/tasks"
	"github.com/muntrav/bitbrowser-automation/internal/windows"
	"github.com/muntrav/bitbrowser-automation/internal/workflows"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Engine   *engine.Engine
	Registry *tasks.Registry
	Hub      *events.Hub
	Metrics  *observability.Metrics

	// Cleanup should be called on shutdown to release external resources
	// (DB pools, the automation driver).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	accountStore, err := accounts.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("account store init failed: %w", err)
	}
	settingStore, err := settings.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		_ = accountStore.Close()
		return nil, fmt.Errorf("settings store init failed: %w", err)
	}

	registry := tasks.NewRegistry(cfg.TaskRetention)
	locker := tasks.NewLocker()

	vendor := bitapi.NewClient(cfg.VendorAPIURL, cfg.VendorListSize)

	deviceClass := bitapi.DeviceMobile
	if strings.EqualFold(cfg.RequiredDeviceClass, string(bitapi.DeviceDesktop)) {
		deviceClass = bitapi.DeviceDesktop
	}

	active := func() map[string]bool {
		emails := registry.ActiveEmails()
		out := make(map[string]bool, len(emails))
		for _, email := range emails {
			out[email] = true
		}
		return out
	}
	manager := windows.NewManager(vendor, accountStore, settingStore, active, deviceClass, cfg.WindowQuota, metrics, log.Default())

	attacher := browser.NewAttacher()
	if err := attacher.Initialize(); err != nil {
		_ = settingStore.Close()
		_ = accountStore.Close()
		return nil, fmt.Errorf("automation driver init failed: %w", err)
	}

	runner := workflows.NewRunner(manager, attacher)
	executors := workflows.NewBrowserRegistry(runner)

	hub := events.NewHub()
	hub.OnDrop(metrics.EventsDropped.Inc)

	eng := engine.New(registry, locker, accountStore, settingStore, manager, executors, hub, metrics, log.Default(), engine.Options{
		ConcurrencyMin:   cfg.ConcurrencyMin,
		ConcurrencyMax:   cfg.ConcurrencyMax,
		BindCardWaitMax:  cfg.BindCardWaitMax,
		BindCardWaitPoll: cfg.BindCardWaitPoll,
		EventAckTimeout:  cfg.EventAckTimeout,
	})

	api := httpapi.New(cfg, eng, registry, accountStore, settingStore, hub, metrics)

	cleanup := func() error {
		var errs []string
		if err := attacher.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if err := settingStore.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if err := accountStore.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Engine:   eng,
		Registry: registry,
		Hub:      hub,
		Metrics:  metrics,
		Cleanup:  cleanup,
	}, nil
}
