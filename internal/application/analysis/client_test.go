package analysis

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap/zaptest"

	domain "github.com/bryanwahyu/vscanbot/internal/domain/analysis"
)

// fakeProvider fails the first failN submissions with failWith.
type fakeProvider struct {
	mu       sync.Mutex
	calls    int
	failN    int
	failWith error
	jobID    string
	result   domain.Result
	uploaded []string
}

func (p *fakeProvider) submit() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.failN < 0 || p.calls <= p.failN {
		return "", p.failWith
	}
	return p.jobID, nil
}

func (p *fakeProvider) SubmitFile(_ context.Context, name string, r io.Reader) (string, error) {
	b, _ := io.ReadAll(r)
	p.mu.Lock()
	p.uploaded = append(p.uploaded, name+":"+string(b))
	p.mu.Unlock()
	return p.submit()
}

func (p *fakeProvider) SubmitURL(context.Context, string) (string, error) { return p.submit() }

func (p *fakeProvider) AwaitResult(_ context.Context, jobID string) (domain.Result, error) {
	res := p.result
	res.JobID = jobID
	return res, nil
}

type memStaged struct {
	name    string
	content string
}

func (m *memStaged) Name() string     { return m.name }
func (m *memStaged) Location() string { return "mem://" + m.name }
func (m *memStaged) Size() int64      { return int64(len(m.content)) }
func (m *memStaged) Release() error   { return nil }
func (m *memStaged) Open() (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(m.content)), nil
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

func rateLimited() error {
	return &domain.ProviderError{Kind: domain.RateLimited, Code: 429, Message: "Quota exceeded"}
}

func newTestClient(t *testing.T, p domain.Provider, s *sleepRecorder) *Client {
	t.Helper()
	return NewClient(Options{
		Provider:   p,
		RetryDelay: 10 * time.Second,
		Sleep:      s.Sleep,
		Logger:     zaptest.NewLogger(t),
	})
}

func TestAnalyzeURLRetriesRateLimit(t *testing.T) {
	p := &fakeProvider{
		failN:    2,
		failWith: rateLimited(),
		jobID:    "u-deadbeef-1700000000",
		result: domain.Result{
			Status: "completed",
			Stats:  domain.Stats{Malicious: 1, Harmless: 60, Undetected: 9},
			Engines: map[string]domain.EngineResult{
				"Fortinet": {Category: "malicious", Detail: "Phishing"},
			},
		},
	}
	s := &sleepRecorder{}
	c := newTestClient(t, p, s)

	v, err := c.AnalyzeURL(t.Context(), "https://example.com/report")
	if err != nil {
		t.Fatalf("AnalyzeURL: %v", err)
	}
	if p.calls != 3 {
		t.Errorf("provider calls = %d, want 3", p.calls)
	}
	if diff := cmp.Diff([]time.Duration{10 * time.Second, 10 * time.Second}, s.delays); diff != "" {
		t.Errorf("retry delays mismatch (-want +got):\n%s", diff)
	}

	want := domain.Verdict{
		JobID:           "u-deadbeef-1700000000",
		Engines:         map[string]domain.EngineResult{"Fortinet": {Category: "malicious", Detail: "Phishing"}},
		MaliciousCount:  1,
		HarmlessCount:   60,
		UndetectedCount: 9,
		TotalEngines:    70,
		ReportLink:      "https://www.virustotal.com/gui/url/deadbeef",
		URL:             "https://example.com/report",
	}
	if diff := cmp.Diff(want, v); diff != "" {
		t.Errorf("verdict mismatch (-want +got):\n%s", diff)
	}
}

func TestAnalyzeURLExhaustsRateLimit(t *testing.T) {
	p := &fakeProvider{failN: -1, failWith: rateLimited()}
	s := &sleepRecorder{}
	c := newTestClient(t, p, s)

	_, err := c.AnalyzeURL(t.Context(), "https://example.com/report")
	if !IsRateLimited(err) {
		t.Fatalf("err = %v, want rate limited", err)
	}
	if p.calls != 3 {
		t.Errorf("provider calls = %d, want 3", p.calls)
	}
	if len(s.delays) != 2 {
		t.Errorf("delays = %v, want 2 waits", s.delays)
	}
	if !strings.Contains(err.Error(), "Rate limit exceeded: Quota exceeded") {
		t.Errorf("error %q does not carry provider reason", err)
	}
}

func TestAnalyzeFailsFastOnOtherErrors(t *testing.T) {
	for _, kind := range []domain.ErrorKind{domain.InvalidCredentials, domain.Transient, domain.Permanent} {
		t.Run(string(kind), func(t *testing.T) {
			p := &fakeProvider{failN: -1, failWith: &domain.ProviderError{Kind: kind, Code: 401, Message: "nope"}}
			s := &sleepRecorder{}
			c := newTestClient(t, p, s)

			_, err := c.AnalyzeURL(t.Context(), "https://example.com/x")
			var pe *domain.ProviderError
			if !errors.As(err, &pe) || pe.Kind != kind {
				t.Fatalf("err = %v, want ProviderError of kind %s", err, kind)
			}
			if p.calls != 1 {
				t.Errorf("provider calls = %d, want 1", p.calls)
			}
			if len(s.delays) != 0 {
				t.Errorf("unexpected retries: %v", s.delays)
			}
		})
	}
}

func TestAnalyzeFileAugmentsVerdict(t *testing.T) {
	jobID := base64.StdEncoding.EncodeToString([]byte("abc123:1700000000"))
	p := &fakeProvider{
		jobID:  jobID,
		result: domain.Result{Status: "completed", Stats: domain.Stats{Undetected: 5}},
	}
	c := newTestClient(t, p, &sleepRecorder{})

	staged := &memStaged{name: "file_10.pdf", content: "%PDF-1.7"}
	v, err := c.AnalyzeFile(t.Context(), staged, domain.KindDocument)
	if err != nil {
		t.Fatalf("AnalyzeFile: %v", err)
	}
	if v.SubjectName != "file_10.pdf" || v.SubjectSize != 8 || v.SubjectType != domain.KindDocument {
		t.Errorf("subject = %q/%d/%q", v.SubjectName, v.SubjectSize, v.SubjectType)
	}
	if v.ReportLink != "https://www.virustotal.com/gui/file/abc123/analysis" {
		t.Errorf("ReportLink = %q", v.ReportLink)
	}
	if v.TotalEngines != 5 {
		t.Errorf("TotalEngines = %d, want 5", v.TotalEngines)
	}
	if diff := cmp.Diff([]string{"file_10.pdf:%PDF-1.7"}, p.uploaded); diff != "" {
		t.Errorf("uploaded mismatch (-want +got):\n%s", diff)
	}
}

func TestRetryHonoursLongerHint(t *testing.T) {
	s := &sleepRecorder{}
	p := RateLimitPolicy(2, time.Second)
	p.Sleep = s.Sleep
	calls := 0
	_, err := Retry(t.Context(), p, func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, &domain.ProviderError{Kind: domain.RateLimited, RetryAfter: time.Minute}
		}
		return 42, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]time.Duration{time.Minute}, s.delays); diff != "" {
		t.Errorf("delays mismatch (-want +got):\n%s", diff)
	}
}

func TestRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	p := RateLimitPolicy(3, time.Hour)
	calls := 0
	_, err := Retry(ctx, p, func(context.Context) (int, error) {
		calls++
		return 0, rateLimited()
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if !errors.Is(err, context.Canceled) && !IsRateLimited(err) {
		t.Errorf("err = %v", err)
	}
}
