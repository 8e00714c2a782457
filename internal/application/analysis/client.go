package analysis

import (
	"context"
	"fmt"
	"maps"
	"time"

	"go.uber.org/zap"

	domain "github.com/bryanwahyu/vscanbot/internal/domain/analysis"
)

// Client drives the remote analysis engine: submit, wait for completion,
// retry on rate limits and turn the provider result into a Verdict.
// Client is safe for concurrent use.
type Client struct {
	provider   domain.Provider
	policy     Policy
	reportBase string
	logger     *zap.Logger
}

// Options configures a Client.
type Options struct {
	Provider      domain.Provider
	ReportBaseURL string
	MaxAttempts   int
	RetryDelay    time.Duration
	// Sleep overrides the wait between retries (tests).
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger *zap.Logger
}

func NewClient(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		provider:   opts.Provider,
		policy:     RateLimitPolicy(opts.MaxAttempts, opts.RetryDelay),
		reportBase: opts.ReportBaseURL,
		logger:     logger.Named("analysis"),
	}
	c.policy.Sleep = opts.Sleep
	return c
}

// AnalyzeFile submits a staged artifact and waits for its verdict.
func (c *Client) AnalyzeFile(ctx context.Context, staged domain.StagedArtifact, kind domain.MediaKind) (domain.Verdict, error) {
	log := c.logger.With(zap.String("op", "analyze_file"), zap.String("subject", staged.Name()))
	v, err := Retry(ctx, c.withLogging(log), func(ctx context.Context) (domain.Verdict, error) {
		jobID, err := c.submitFile(ctx, staged)
		if err != nil {
			return domain.Verdict{}, err
		}
		return c.await(ctx, log, jobID)
	})
	if err != nil {
		return domain.Verdict{}, fmt.Errorf("analyze file %s: %w", staged.Name(), err)
	}
	v.SubjectName = staged.Name()
	v.SubjectSize = staged.Size()
	v.SubjectType = kind
	return v, nil
}

// AnalyzeURL submits a URL and waits for its verdict.
func (c *Client) AnalyzeURL(ctx context.Context, url string) (domain.Verdict, error) {
	log := c.logger.With(zap.String("op", "analyze_url"), zap.String("subject", url))
	v, err := Retry(ctx, c.withLogging(log), func(ctx context.Context) (domain.Verdict, error) {
		jobID, err := c.provider.SubmitURL(ctx, url)
		if err != nil {
			return domain.Verdict{}, err
		}
		return c.await(ctx, log, jobID)
	})
	if err != nil {
		return domain.Verdict{}, fmt.Errorf("analyze url %s: %w", url, err)
	}
	v.URL = url
	return v, nil
}

func (c *Client) submitFile(ctx context.Context, staged domain.StagedArtifact) (string, error) {
	f, err := staged.Open()
	if err != nil {
		return "", fmt.Errorf("open staged artifact: %w", err)
	}
	defer f.Close()
	return c.provider.SubmitFile(ctx, staged.Name(), f)
}

func (c *Client) await(ctx context.Context, log *zap.Logger, jobID string) (domain.Verdict, error) {
	res, err := c.provider.AwaitResult(ctx, jobID)
	if err != nil {
		return domain.Verdict{}, err
	}
	v := newVerdict(jobID, res)
	link, err := ReportLink(c.reportBase, jobID)
	if err != nil {
		log.Warn("report link unavailable", zap.String("job_id", jobID), zap.Error(err))
	}
	v.ReportLink = link
	return v, nil
}

func (c *Client) withLogging(log *zap.Logger) Policy {
	p := c.policy
	p.OnRetry = func(attempt int, wait time.Duration, err error) {
		log.Info("rate limited, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.MaxAttempts),
			zap.Duration("delay", wait),
			zap.Error(err),
		)
	}
	return p
}

func newVerdict(jobID string, res domain.Result) domain.Verdict {
	v := domain.Verdict{
		JobID:           jobID,
		Engines:         maps.Clone(res.Engines),
		MaliciousCount:  res.Stats.Malicious,
		SuspiciousCount: res.Stats.Suspicious,
		HarmlessCount:   res.Stats.Harmless,
		UndetectedCount: res.Stats.Undetected,
		TotalEngines:    res.Stats.Total(),
	}
	if v.Engines == nil {
		v.Engines = map[string]domain.EngineResult{}
	}
	if v.TotalEngines == 0 {
		v.TotalEngines = len(v.Engines)
	}
	return v
}
