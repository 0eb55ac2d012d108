package config

// Config is the full remindd configuration.
//
// Files may be JSON or YAML; YAML is coerced to JSON so both formats go
// through the same strict decoder (unknown keys are rejected early).
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig    `json:"logging"`
	HTTP      HTTPConfig       `json:"http"`
	Storage   StorageConfig    `json:"storage"`
	Scheduler SchedulerConfig  `json:"scheduler"`
	Delivery  DeliveryConfig   `json:"delivery"`
	Dispatch  *DispatchConfig  `json:"dispatch,omitempty"`
	Retention *RetentionConfig `json:"retention,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// HTTPConfig controls the inbound API server.
type HTTPConfig struct {
	Addr string `json:"addr,omitempty"` // default: ":8080"

	// CORSOrigins lists allowed cross-origin origins. Empty means "*".
	CORSOrigins []string `json:"cors_origins,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// Per-client submission rate limit. 0 disables limiting.
	RatePerSec int `json:"rate_per_sec,omitempty"`
	RateBurst  int `json:"rate_burst,omitempty"`
}

// StorageConfig controls the event datastore.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "file": dependency-free append-only jsonl backend
//
// Unlike optional audit storage, the event store is the durability anchor of a
// submission, so an empty driver falls back to sqlite rather than "disabled".
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// SchedulerConfig selects and configures the trigger backend.
//
// Backend values:
//   - "local": in-process one-shot schedule service (default)
//   - "rulesvc": remote rule+target scheduler over HTTP
type SchedulerConfig struct {
	Backend string         `json:"backend,omitempty"`
	RuleSvc *RuleSvcConfig `json:"rulesvc,omitempty"`
}

// RuleSvcConfig configures the remote rule+target scheduler client.
type RuleSvcConfig struct {
	Endpoint string `json:"endpoint"`
	Token    string `json:"token,omitempty"`
	Timeout  string `json:"timeout,omitempty"`   // per-call timeout, default "10s"
	RetryMax int    `json:"retry_max,omitempty"` // transient retries per call, default 2
}

// DeliveryConfig identifies the downstream reminder deliverer.
//
// TargetURL and InvokerRole are required external references: their absence is
// a startup error (see Validate), never a per-request failure.
type DeliveryConfig struct {
	TargetURL   string `json:"target_url"`
	InvokerRole string `json:"invoker_role"`
	Timeout     string `json:"timeout,omitempty"` // per-invoke timeout, default "10s"
}

// DispatchConfig controls the immediate-dispatch pipeline.
// If the whole section is omitted, defaults apply (enabled, 2 workers).
type DispatchConfig struct {
	Enabled       *bool  `json:"enabled,omitempty"`
	Workers       int    `json:"workers,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
}

// RetentionConfig controls the periodic sweep of old event records.
type RetentionConfig struct {
	Enabled bool `json:"enabled"`
	// Schedule is a cron spec for the sweep (default "@hourly").
	Schedule string `json:"schedule,omitempty"`
	// MaxAge drops events whose date/time passed longer ago than this (default "720h").
	MaxAge string `json:"max_age,omitempty"`
}
