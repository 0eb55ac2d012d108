package app

import (
	"fmt"
	"strings"
	"time"

	"remindd/internal/config"
	"remindd/internal/delivery"
	"remindd/internal/dispatch"
	"remindd/internal/httpapi"
	"remindd/internal/storage"
	"remindd/internal/trigger/rulesvc"
)

// The map* helpers translate file config into component config, resolving
// duration strings and defaults. They are also run by the reload validator
// so a bad hot-reload is rejected before anything sees it.

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	path := strings.TrimSpace(cfg.Storage.Path)
	if path == "" {
		path = "./remindd.db"
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        path,
		BusyTimeout: busy,
	}, nil
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	d := cfg.Dispatch
	if d == nil {
		d = &config.DispatchConfig{}
	}
	enabled := true
	if d.Enabled != nil {
		enabled = *d.Enabled
	}
	base, err := config.ParseDurationOrDefault("dispatch.retry_base", d.RetryBase, 500*time.Millisecond)
	if err != nil {
		return dispatch.Config{}, err
	}
	maxDelay, err := config.ParseDurationOrDefault("dispatch.retry_max_delay", d.RetryMaxDelay, 10*time.Second)
	if err != nil {
		return dispatch.Config{}, err
	}
	callTimeout, err := config.ParseDurationOrDefault("delivery.timeout", cfg.Delivery.Timeout, 10*time.Second)
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{
		Enabled:       enabled,
		Workers:       d.Workers,
		QueueSize:     d.QueueSize,
		RatePerSec:    d.RatePerSec,
		RetryMax:      d.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
		CallTimeout:   callTimeout,
	}, nil
}

func mapWebhookConfig(cfg *config.Config) (delivery.WebhookConfig, error) {
	timeout, err := config.ParseDurationOrDefault("delivery.timeout", cfg.Delivery.Timeout, 10*time.Second)
	if err != nil {
		return delivery.WebhookConfig{}, err
	}
	return delivery.WebhookConfig{
		TargetURL:   cfg.Delivery.TargetURL,
		InvokerRole: cfg.Delivery.InvokerRole,
		Timeout:     timeout,
	}, nil
}

func mapRuleSvcConfig(cfg *config.Config) (rulesvc.Config, error) {
	rs := cfg.Scheduler.RuleSvc
	if rs == nil {
		return rulesvc.Config{}, fmt.Errorf("scheduler.rulesvc section is required for the rulesvc backend")
	}
	timeout, err := config.ParseDurationOrDefault("scheduler.rulesvc.timeout", rs.Timeout, 10*time.Second)
	if err != nil {
		return rulesvc.Config{}, err
	}
	retryMax := rs.RetryMax
	if retryMax == 0 {
		retryMax = 2
	}
	return rulesvc.Config{
		Endpoint: rs.Endpoint,
		Token:    rs.Token,
		Timeout:  timeout,
		RetryMax: retryMax,
	}, nil
}

func mapHTTPConfig(cfg *config.Config) (httpapi.Config, error) {
	read, err := config.ParseDurationOrDefault("http.read_timeout", cfg.HTTP.ReadTimeout, 10*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	write, err := config.ParseDurationOrDefault("http.write_timeout", cfg.HTTP.WriteTimeout, 15*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("http.idle_timeout", cfg.HTTP.IdleTimeout, time.Minute)
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{
		Addr:         cfg.HTTP.Addr,
		CORSOrigins:  cfg.HTTP.CORSOrigins,
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
		RatePerSec:   float64(cfg.HTTP.RatePerSec),
		RateBurst:    cfg.HTTP.RateBurst,
	}, nil
}

type retentionSettings struct {
	enabled  bool
	schedule string
	maxAge   time.Duration
}

func mapRetentionConfig(cfg *config.Config) (retentionSettings, error) {
	r := cfg.Retention
	if r == nil {
		return retentionSettings{}, nil
	}
	maxAge, err := config.ParseDurationOrDefault("retention.max_age", r.MaxAge, 720*time.Hour)
	if err != nil {
		return retentionSettings{}, err
	}
	schedule := strings.TrimSpace(r.Schedule)
	if schedule == "" {
		schedule = "@hourly"
	}
	return retentionSettings{enabled: r.Enabled, schedule: schedule, maxAge: maxAge}, nil
}
