package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ConfigurationError names a config field that makes the process unable to
// start. It is raised once at startup (or on a rejected hot reload), never
// per-request.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
}

func confErr(field, reason string) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: reason}
}

// Validate checks structural and required-reference constraints.
//
// Tuning defaults (worker counts, queue sizes, timeouts) are applied by the
// owning services; Validate only rejects configs that cannot produce a working
// process.
func Validate(cfg *Config) error {
	if cfg == nil {
		return confErr("config", "empty")
	}

	// Required external references for the deliverer.
	target := strings.TrimSpace(cfg.Delivery.TargetURL)
	if target == "" {
		return confErr("delivery.target_url", "required")
	}
	if u, err := url.Parse(target); err != nil || u.Scheme == "" || u.Host == "" {
		return confErr("delivery.target_url", fmt.Sprintf("not an absolute URL: %q", target))
	}
	if strings.TrimSpace(cfg.Delivery.InvokerRole) == "" {
		return confErr("delivery.invoker_role", "required")
	}
	if _, err := ParseDurationField("delivery.timeout", cfg.Delivery.Timeout); err != nil {
		return confErr("delivery.timeout", err.Error())
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Scheduler.Backend)) {
	case "", "local":
	case "rulesvc":
		if cfg.Scheduler.RuleSvc == nil || strings.TrimSpace(cfg.Scheduler.RuleSvc.Endpoint) == "" {
			return confErr("scheduler.rulesvc.endpoint", "required when scheduler.backend is rulesvc")
		}
		ep := strings.TrimSpace(cfg.Scheduler.RuleSvc.Endpoint)
		if u, err := url.Parse(ep); err != nil || u.Scheme == "" || u.Host == "" {
			return confErr("scheduler.rulesvc.endpoint", fmt.Sprintf("not an absolute URL: %q", ep))
		}
		if _, err := ParseDurationField("scheduler.rulesvc.timeout", cfg.Scheduler.RuleSvc.Timeout); err != nil {
			return confErr("scheduler.rulesvc.timeout", err.Error())
		}
	default:
		return confErr("scheduler.backend", fmt.Sprintf("unknown backend %q (use local or rulesvc)", cfg.Scheduler.Backend))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite", "sqlite3", "file":
	default:
		return confErr("storage.driver", fmt.Sprintf("unknown driver %q (use sqlite or file)", cfg.Storage.Driver))
	}
	if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		return confErr("storage.busy_timeout", err.Error())
	}

	for _, f := range []struct{ path, raw string }{
		{"http.read_timeout", cfg.HTTP.ReadTimeout},
		{"http.write_timeout", cfg.HTTP.WriteTimeout},
		{"http.idle_timeout", cfg.HTTP.IdleTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return confErr(f.path, err.Error())
		}
	}

	if d := cfg.Dispatch; d != nil {
		if _, err := ParseDurationField("dispatch.retry_base", d.RetryBase); err != nil {
			return confErr("dispatch.retry_base", err.Error())
		}
		if _, err := ParseDurationField("dispatch.retry_max_delay", d.RetryMaxDelay); err != nil {
			return confErr("dispatch.retry_max_delay", err.Error())
		}
	}

	if r := cfg.Retention; r != nil && r.Enabled {
		if _, err := ParseDurationField("retention.max_age", r.MaxAge); err != nil {
			return confErr("retention.max_age", err.Error())
		}
	}

	return nil
}
