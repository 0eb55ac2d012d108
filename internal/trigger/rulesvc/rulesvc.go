// Package rulesvc implements the trigger backend for external rule
// schedulers that split registration into two calls: create the timing
// rule, then attach a delivery target to it.
//
// The two calls are not atomic at the scheduler, so a failed attach leaves
// an orphaned rule behind; Register rolls the rule back in that case.
package rulesvc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"remindd/internal/delivery"
	"remindd/internal/trigger"
	logx "remindd/pkg/logx"
)

// Config locates the rule scheduler.
type Config struct {
	Endpoint string        // base URL, e.g. https://scheduler.internal/v1
	Token    string        // bearer credential, optional
	Timeout  time.Duration // per call, default 10s
	RetryMax int           // transient-failure retries per call
}

// Target tells the scheduler where to send the payload when a rule fires.
type Target struct {
	URL         string
	InvokerRole string
}

type Backend struct {
	cfg    Config
	target Target
	client *http.Client
	log    logx.Logger
}

func New(cfg Config, target Target, log logx.Logger) (*Backend, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if base == "" {
		return nil, fmt.Errorf("rule scheduler endpoint is required")
	}
	if u, err := url.Parse(base); err != nil || !u.IsAbs() {
		return nil, fmt.Errorf("rule scheduler endpoint %q is not an absolute URL", cfg.Endpoint)
	}
	if strings.TrimSpace(target.URL) == "" {
		return nil, fmt.Errorf("rule target URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg.Endpoint = base
	return &Backend{
		cfg:    cfg,
		target: target,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log,
	}, nil
}

type ruleBody struct {
	Expression string `json:"scheduleExpression"`
	Enabled    bool   `json:"enabled"`
	// The expression carries no zone; the scheduler must evaluate it as UTC.
	Timezone string `json:"timezone"`
}

type targetBody struct {
	URL         string           `json:"url"`
	InvokerRole string           `json:"invokerRole"`
	Payload     delivery.Payload `json:"payload"`
}

// Register creates (or replaces) the timing rule, then attaches the
// delivery target. If the attach fails the rule is deleted again so a
// half-registered trigger never fires into nothing.
func (b *Backend) Register(ctx context.Context, def trigger.Def) error {
	rule := ruleBody{Expression: def.Expression, Enabled: def.Enabled, Timezone: "UTC"}
	if err := b.call(ctx, http.MethodPut, b.ruleURL(def.Name), rule); err != nil {
		return fmt.Errorf("create rule %s: %w", def.Name, err)
	}

	tgt := targetBody{URL: b.target.URL, InvokerRole: b.target.InvokerRole, Payload: def.Payload}
	if err := b.call(ctx, http.MethodPut, b.ruleURL(def.Name)+"/targets", tgt); err != nil {
		// Rollback runs on a fresh context: ctx may already be the reason
		// the attach failed.
		rbCtx, cancel := context.WithTimeout(context.Background(), b.cfg.Timeout)
		if rbErr := b.call(rbCtx, http.MethodDelete, b.ruleURL(def.Name), nil); rbErr != nil {
			b.log.Error("rule rollback failed, orphaned rule remains",
				logx.String("name", def.Name),
				logx.Err(rbErr))
		}
		cancel()
		return fmt.Errorf("attach target to rule %s: %w", def.Name, err)
	}

	b.log.Debug("rule registered",
		logx.String("name", def.Name),
		logx.String("expression", def.Expression))
	return nil
}

// Remove deletes the rule. An unknown rule is not an error.
func (b *Backend) Remove(ctx context.Context, name string) error {
	err := b.call(ctx, http.MethodDelete, b.ruleURL(name), nil)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("remove rule %s: %w", name, err)
	}
	return nil
}

func (b *Backend) ruleURL(name string) string {
	return b.cfg.Endpoint + "/rules/" + url.PathEscape(name)
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("scheduler returned %d", e.code)
	}
	return fmt.Sprintf("scheduler returned %d: %s", e.code, e.body)
}

// call performs one scheduler request, retrying transient failures
// (network errors and 5xx). Client errors are returned immediately: a 4xx
// will not get better on retry.
func (b *Backend) call(ctx context.Context, method, rawURL string, body any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
	}

	attempts := 1 + b.cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			t := time.NewTimer(time.Duration(attempt-1) * 200 * time.Millisecond)
			select {
			case <-t.C:
			case <-ctx.Done():
				if !t.Stop() {
					<-t.C
				}
				return ctx.Err()
			}
		}

		err := b.once(ctx, method, rawURL, payload)
		if err == nil {
			return nil
		}
		lastErr = err

		var se *statusError
		if errors.As(err, &se) && se.code < 500 {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return lastErr
}

func (b *Backend) once(ctx context.Context, method, rawURL string, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, rd)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+b.cfg.Token)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(snippet))}
	}
	return nil
}
