package virustotal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	domain "github.com/bryanwahyu/vscanbot/internal/domain/analysis"
)

const (
	DefaultBaseURL      = "https://www.virustotal.com/api/v3"
	DefaultPollInterval = 10 * time.Second
	DefaultScanTimeout  = 5 * time.Minute
	DefaultHTTPTimeout  = 500 * time.Second

	statusCompleted = "completed"
)

// Client talks to the VirusTotal v3 REST API. It implements domain.Provider
// and is safe for concurrent use.
type Client struct {
	http         *http.Client
	baseURL      string
	apiKey       string
	pollInterval time.Duration
	scanTimeout  time.Duration
	logger       *zap.Logger
}

type Options struct {
	APIKey  string
	BaseURL string
	// Timeout caps every single HTTP round trip.
	Timeout time.Duration
	// ScanTimeout bounds how long AwaitResult polls for completion.
	ScanTimeout  time.Duration
	PollInterval time.Duration
	HTTPClient   *http.Client
	Logger       *zap.Logger
}

func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultHTTPTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = DefaultScanTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Client{
		http:         opts.HTTPClient,
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		apiKey:       opts.APIKey,
		pollInterval: opts.PollInterval,
		scanTimeout:  opts.ScanTimeout,
		logger:       opts.Logger.Named("virustotal"),
	}
}

type objectResponse struct {
	Data struct {
		Type       string          `json:"type"`
		ID         string          `json:"id"`
		Attributes json.RawMessage `json:"attributes,omitempty"`
	} `json:"data"`
}

type analysisAttributes struct {
	Status  string                  `json:"status"`
	Date    int64                   `json:"date"`
	Stats   domain.Stats            `json:"stats"`
	Results map[string]engineResult `json:"results"`
}

type engineResult struct {
	Category   string `json:"category"`
	EngineName string `json:"engine_name"`
	Result     string `json:"result"`
}

// SubmitFile uploads content as a multipart form and returns the analysis id.
func (c *Client) SubmitFile(ctx context.Context, name string, content io.Reader) (string, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", name)
		if err == nil {
			_, err = io.Copy(part, content)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := c.newRequest(ctx, http.MethodPost, "/files", pr)
	if err != nil {
		pr.CloseWithError(err)
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.submit(req)
}

// SubmitURL queues url for scanning and returns the analysis id.
func (c *Client) SubmitURL(ctx context.Context, rawURL string) (string, error) {
	form := url.Values{"url": {rawURL}}
	req, err := c.newRequest(ctx, http.MethodPost, "/urls", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.submit(req)
}

func (c *Client) submit(req *http.Request) (string, error) {
	var out objectResponse
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	if out.Data.ID == "" {
		return "", &domain.ProviderError{Kind: domain.Permanent, Code: http.StatusOK, Message: "response carries no analysis id"}
	}
	return out.Data.ID, nil
}

// AwaitResult polls the analysis until it is completed. Rate limited polls
// are retried within the scan timeout.
func (c *Client) AwaitResult(ctx context.Context, jobID string) (domain.Result, error) {
	ctx, cancel := context.WithTimeoutCause(ctx, c.scanTimeout, errScanTimeout)
	defer cancel()

	log := c.logger.With(zap.String("job_id", jobID))
	for attempt := 1; ; attempt++ {
		res, err := c.getAnalysis(ctx, jobID)
		if ctx.Err() != nil {
			return domain.Result{}, c.stopped(ctx, jobID)
		}
		wait := c.pollInterval
		switch {
		case err == nil && res.Status == statusCompleted:
			return res, nil
		case err == nil:
			log.Debug("analysis pending", zap.String("status", res.Status), zap.Int("poll", attempt))
		default:
			var pe *domain.ProviderError
			if !errors.As(err, &pe) || pe.Kind != domain.RateLimited {
				return domain.Result{}, err
			}
			if pe.RetryAfter > wait {
				wait = pe.RetryAfter
			}
			log.Info("poll rate limited", zap.Duration("wait", wait))
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return domain.Result{}, c.stopped(ctx, jobID)
		case <-t.C:
		}
	}
}

var errScanTimeout = errors.New("scan timeout")

// stopped reports why polling ended: the scan timeout is a transient
// provider failure, anything else is the caller's cancellation.
func (c *Client) stopped(ctx context.Context, jobID string) error {
	if errors.Is(context.Cause(ctx), errScanTimeout) {
		return &domain.ProviderError{
			Kind:    domain.Transient,
			Message: fmt.Sprintf("analysis %s not completed within %s", jobID, c.scanTimeout),
		}
	}
	return ctx.Err()
}

func (c *Client) getAnalysis(ctx context.Context, jobID string) (domain.Result, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/analyses/"+url.PathEscape(jobID), nil)
	if err != nil {
		return domain.Result{}, err
	}
	var out objectResponse
	if err := c.do(req, &out); err != nil {
		return domain.Result{}, err
	}
	var attrs analysisAttributes
	if err := json.Unmarshal(out.Data.Attributes, &attrs); err != nil {
		return domain.Result{}, &domain.ProviderError{Kind: domain.Permanent, Code: http.StatusOK, Message: "decode analysis: " + err.Error()}
	}
	res := domain.Result{
		JobID:   out.Data.ID,
		Status:  attrs.Status,
		Stats:   attrs.Stats,
		Engines: make(map[string]domain.EngineResult, len(attrs.Results)),
	}
	if attrs.Date > 0 {
		res.CompletedAt = time.Unix(attrs.Date, 0).UTC()
	}
	for name, r := range attrs.Results {
		if r.EngineName != "" {
			name = r.EngineName
		}
		res.Engines[name] = domain.EngineResult{Category: r.Category, Detail: r.Result}
	}
	return res, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("virustotal: build request: %w", err)
	}
	req.Header.Set("x-apikey", c.apiKey)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// do sends req and decodes a 2xx JSON body into out. Failures are
// *domain.ProviderError except for cancellation of the caller's context.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil && !errors.Is(ctxErr, context.DeadlineExceeded) {
			return ctxErr
		}
		return networkError(err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return networkError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classify(resp, raw)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &domain.ProviderError{Kind: domain.Permanent, Code: resp.StatusCode, Message: "decode response: " + err.Error()}
	}
	return nil
}

func networkError(err error) error {
	msg := err.Error()
	var uerr *url.Error
	if errors.As(err, &uerr) {
		msg = uerr.Err.Error()
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		msg = "timeout: " + msg
	}
	return &domain.ProviderError{Kind: domain.Transient, Message: msg}
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

var codeKinds = map[string]domain.ErrorKind{
	"QuotaExceededError":          domain.RateLimited,
	"TooManyRequestsError":        domain.RateLimited,
	"WrongCredentialsError":       domain.InvalidCredentials,
	"AuthenticationRequiredError": domain.InvalidCredentials,
	"UserNotActiveError":          domain.InvalidCredentials,
	"TransientError":              domain.Transient,
	"DeadlineExceededError":       domain.Transient,
}

// classify maps a non-2xx response to a ProviderError. The provider's error
// code wins over the HTTP status.
func classify(resp *http.Response, raw []byte) *domain.ProviderError {
	var body errorBody
	_ = json.Unmarshal(raw, &body)
	pe := &domain.ProviderError{
		Code:    resp.StatusCode,
		Status:  body.Error.Code,
		Message: body.Error.Message,
	}
	if pe.Message == "" {
		pe.Message = strings.TrimSpace(string(raw))
	}
	if len(pe.Message) > 300 {
		pe.Message = pe.Message[:300]
	}
	if kind, ok := codeKinds[body.Error.Code]; ok {
		pe.Kind = kind
	} else {
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			pe.Kind = domain.RateLimited
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			pe.Kind = domain.InvalidCredentials
		case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode >= 500:
			pe.Kind = domain.Transient
		default:
			pe.Kind = domain.Permanent
		}
	}
	if pe.Kind == domain.RateLimited {
		pe.RetryAfter = retryAfter(resp.Header.Get("Retry-After"))
	}
	return pe
}

func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
