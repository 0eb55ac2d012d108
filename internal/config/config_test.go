package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return NewManager(path)
}

const minimalJSON = `{
  "delivery": {
    "target_url": "https://hooks.example.com/remind",
    "invoker_role": "reminder-invoker"
  }
}`

func TestLoadMinimalJSON(t *testing.T) {
	t.Parallel()

	m := writeConfig(t, "config.json", minimalJSON)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Delivery.TargetURL != "https://hooks.example.com/remind" {
		t.Fatalf("target_url = %q", cfg.Delivery.TargetURL)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get must return the committed config")
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()

	m := writeConfig(t, "config.yaml", `
logging:
  level: DEBUG
  console: true
http:
  addr: ":9090"
  rate_per_sec: 25
scheduler:
  backend: rulesvc
  rulesvc:
    endpoint: https://scheduler.internal/v1
    timeout: 5s
delivery:
  target_url: https://hooks.example.com/remind
  invoker_role: reminder-invoker
  timeout: 3s
dispatch:
  workers: 4
  retry_base: 250ms
retention:
  enabled: true
  schedule: "@daily"
  max_age: 168h
`)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "DEBUG" || cfg.HTTP.Addr != ":9090" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Scheduler.Backend != "rulesvc" || cfg.Scheduler.RuleSvc.Endpoint != "https://scheduler.internal/v1" {
		t.Fatalf("scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Dispatch == nil || cfg.Dispatch.Workers != 4 {
		t.Fatalf("dispatch = %+v", cfg.Dispatch)
	}
	if cfg.Retention == nil || !cfg.Retention.Enabled || cfg.Retention.Schedule != "@daily" {
		t.Fatalf("retention = %+v", cfg.Retention)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	t.Parallel()

	m := writeConfig(t, "config.json", `{
  "delivery": {"target_url": "https://x.example.com", "invoker_role": "r"},
  "telemetry": {"enabled": true}
}`)
	if _, err := m.Load(); err == nil {
		t.Fatal("want error for unknown top-level key")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()

	m := writeConfig(t, "config.json", minimalJSON+`{"more": true}`)
	if _, err := m.Load(); err == nil {
		t.Fatal("want error for trailing data")
	}
}

func TestValidateRequiredFields(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(cfg *Config)
		field  string
	}{
		{"missing target url", func(c *Config) { c.Delivery.TargetURL = "" }, "delivery.target_url"},
		{"relative target url", func(c *Config) { c.Delivery.TargetURL = "/hooks/remind" }, "delivery.target_url"},
		{"missing invoker role", func(c *Config) { c.Delivery.InvokerRole = " " }, "delivery.invoker_role"},
		{"unknown backend", func(c *Config) { c.Scheduler.Backend = "cloudcron" }, "scheduler.backend"},
		{"rulesvc without endpoint", func(c *Config) { c.Scheduler.Backend = "rulesvc" }, "scheduler.rulesvc.endpoint"},
		{"unknown storage driver", func(c *Config) { c.Storage.Driver = "bolt" }, "storage.driver"},
		{"bad duration", func(c *Config) { c.HTTP.ReadTimeout = "ten seconds" }, "http.read_timeout"},
		{"negative duration", func(c *Config) { c.Delivery.Timeout = "-5s" }, "delivery.timeout"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{Delivery: DeliveryConfig{
				TargetURL:   "https://hooks.example.com/remind",
				InvokerRole: "reminder-invoker",
			}}
			c.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("want error")
			}
			var cerr *ConfigurationError
			if !errors.As(err, &cerr) {
				t.Fatalf("error type = %T", err)
			}
			if cerr.Field != c.field {
				t.Fatalf("field = %q, want %q", cerr.Field, c.field)
			}
		})
	}
}

func TestValidateAcceptsLocalAndRuleSvc(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Delivery:  DeliveryConfig{TargetURL: "https://hooks.example.com", InvokerRole: "r"},
		Scheduler: SchedulerConfig{Backend: "local"},
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("local: %v", err)
	}
	cfg.Scheduler = SchedulerConfig{
		Backend: "rulesvc",
		RuleSvc: &RuleSvcConfig{Endpoint: "https://scheduler.internal"},
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("rulesvc: %v", err)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()

	if d, err := ParseDurationField("x", " 10s "); err != nil || d != 10*time.Second {
		t.Fatalf("got (%v, %v)", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty: got (%v, %v)", d, err)
	}
	if _, err := ParseDurationField("x", "nope"); err == nil || !strings.Contains(err.Error(), "x:") {
		t.Fatalf("want field-tagged error, got %v", err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("want error for negative duration")
	}
	if d, err := ParseDurationOrDefault("x", "", 5*time.Second); err != nil || d != 5*time.Second {
		t.Fatalf("default: got (%v, %v)", d, err)
	}
}

func TestSubscribePublish(t *testing.T) {
	t.Parallel()

	m := writeConfig(t, "config.json", minimalJSON)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	next := &Config{Delivery: DeliveryConfig{TargetURL: "https://other.example.com", InvokerRole: "r"}}
	m.Commit(next)
	m.publish(next)

	select {
	case got := <-ch:
		if got.Delivery.TargetURL != "https://other.example.com" {
			t.Fatalf("got %+v", got.Delivery)
		}
	case <-time.After(time.Second):
		t.Fatal("no config published")
	}
}
