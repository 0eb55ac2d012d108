package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	logx "remindd/pkg/logx"
)

// WebhookConfig identifies the delivery target.
//
// TargetURL and InvokerRole are required; their absence is a configuration
// error surfaced at startup, not per request.
type WebhookConfig struct {
	TargetURL   string
	InvokerRole string
	Timeout     time.Duration // default 10s
}

// Webhook delivers reminders by POSTing the payload as JSON to the target.
// The invoker role is carried as a bearer credential so the target can verify
// who is allowed to trigger deliveries.
type Webhook struct {
	cfg    WebhookConfig
	client *http.Client
	log    logx.Logger
}

func NewWebhook(cfg WebhookConfig, log logx.Logger) (*Webhook, error) {
	if strings.TrimSpace(cfg.TargetURL) == "" {
		return nil, fmt.Errorf("delivery target URL is required")
	}
	if strings.TrimSpace(cfg.InvokerRole) == "" {
		return nil, fmt.Errorf("delivery invoker role is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Webhook{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log,
	}, nil
}

func (w *Webhook) Deliver(ctx context.Context, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("deliver: encode payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.TargetURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("deliver: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.cfg.InvokerRole)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("deliver: target returned %s", resp.Status)
	}

	w.log.Debug("reminder delivered",
		logx.String("event", p.EventName),
		logx.String("type", p.ReminderType),
	)
	return nil
}
