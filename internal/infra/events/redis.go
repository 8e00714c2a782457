// Package events publishes scan completion notifications to Redis pub/sub so
// other services can follow bot activity without polling the audit log.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	domain "github.com/bryanwahyu/vscanbot/internal/domain/analysis"
)

const (
	DefaultChannel = "vscanbot:scan_completed"
	DefaultTimeout = 5 * time.Second
	DefaultRetries = 2
)

// ScanCompletedEvent is the JSON payload. It never carries artifact content
// or the submitting chat.
type ScanCompletedEvent struct {
	EventType    string `json:"event_type"` // always "scan_completed"
	RequestID    string `json:"request_id"`
	Kind         string `json:"kind"`
	Subject      string `json:"subject"`
	Outcome      string `json:"outcome"` // verdicted | failed
	Severity     string `json:"severity,omitempty"`
	Malicious    int    `json:"malicious"`
	Suspicious   int    `json:"suspicious"`
	TotalEngines int    `json:"total_engines"`
	ReportLink   string `json:"report_link,omitempty"`
	ErrorKind    string `json:"error_kind,omitempty"`
	Timestamp    string `json:"timestamp"`
}

type Config struct {
	// URL format: redis://[:password@]host:port[/db]
	URL     string
	Channel string
	Timeout time.Duration
	Retries int
}

// Publisher is a pipeline Recorder that PUBLISHes one event per request.
type Publisher struct {
	config Config
	client *goredis.Client
	now    func() time.Time
	logger *zap.Logger
}

func NewPublisher(cfg Config, logger *zap.Logger) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis publisher requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis publisher: invalid URL: %w", err)
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		config: cfg,
		client: goredis.NewClient(opts),
		now:    time.Now,
		logger: logger.Named("events"),
	}, nil
}

// Record implements the pipeline Recorder port.
func (p *Publisher) Record(ctx context.Context, req domain.Request, v *domain.Verdict, err error) error {
	return p.Publish(ctx, p.event(req, v, err))
}

func (p *Publisher) event(req domain.Request, v *domain.Verdict, err error) *ScanCompletedEvent {
	ev := &ScanCompletedEvent{
		EventType: "scan_completed",
		RequestID: req.ID,
		Kind:      string(req.Kind),
		Subject:   req.Subject(),
		Timestamp: p.now().UTC().Format(time.RFC3339),
	}
	if err != nil || v == nil {
		ev.Outcome = "failed"
		ev.ErrorKind = "internal"
		var pe *domain.ProviderError
		var oe *domain.OversizeError
		switch {
		case errors.As(err, &pe):
			ev.ErrorKind = string(pe.Kind)
		case errors.As(err, &oe):
			ev.ErrorKind = "oversize"
		}
		return ev
	}
	ev.Outcome = "verdicted"
	ev.Severity = string(v.Severity())
	ev.Malicious = v.MaliciousCount
	ev.Suspicious = v.SuspiciousCount
	ev.TotalEngines = v.TotalEngines
	ev.ReportLink = v.ReportLink
	return ev
}

// Publish sends the event, retrying with exponential backoff.
func (p *Publisher) Publish(ctx context.Context, ev *ScanCompletedEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}

	var lastErr error
	attempts := 1 + p.config.Retries
	for i := range attempts {
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * 250 * time.Millisecond
			select {
			case <-ctx.Done():
				return fmt.Errorf("redis: context canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}
		pubCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
		lastErr = p.client.Publish(pubCtx, p.config.Channel, body).Err()
		cancel()
		if lastErr == nil {
			return nil
		}
		p.logger.Debug("publish failed", zap.Int("attempt", i+1), zap.Error(lastErr))
	}
	return fmt.Errorf("redis: failed after %d attempts: %w", attempts, lastErr)
}

// Ping is used by the readiness probe.
func (p *Publisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *Publisher) Close() error {
	return p.client.Close()
}
