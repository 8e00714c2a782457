package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap/zaptest"

	"github.com/bryanwahyu/vscanbot/internal/domain/chat"
	"github.com/bryanwahyu/vscanbot/internal/domain/scanlog"
	"github.com/bryanwahyu/vscanbot/internal/middleware"
)

type fakeUpdates struct {
	mu      sync.Mutex
	got     []chat.Update
	err     error
	ctxDone bool
	block   chan struct{}
}

func (f *fakeUpdates) Handle(ctx context.Context, u chat.Update) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, u)
	f.ctxDone = ctx.Err() != nil
	return f.err
}

func (f *fakeUpdates) updates() []chat.Update {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chat.Update(nil), f.got...)
}

type fakeAudit struct {
	mu    sync.Mutex
	limit int
	days  int
}

func (a *fakeAudit) args() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.limit, a.days
}

func (a *fakeAudit) Latest(_ context.Context, limit int) ([]*scanlog.Entry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.limit = limit
	return []*scanlog.Entry{{ID: 1, RequestID: "r1", Kind: "url", Outcome: scanlog.OutcomeVerdicted}}, nil
}

func (a *fakeAudit) Summary(_ context.Context, days int) (scanlog.Summary, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.days = days
	return scanlog.Summary{Total: 3, Safe: 2, Failed: 1}, nil
}

func newTestServer(t *testing.T, opts Options) *httptest.Server {
	t.Helper()
	opts.Logger = zaptest.NewLogger(t)
	srv := httptest.NewServer(NewRouter(opts))
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, body string, header map[string]string) (*http.Response, map[string]string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]string
	json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestWebhook(t *testing.T) {
	up := &fakeUpdates{}
	srv := newTestServer(t, Options{Updates: up})

	resp, body := post(t, srv.URL+"/webhook", `{"update_id":7,"message":{"message_id":1,"chat":{"id":42},"text":"hi"}}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if diff := cmp.Diff(map[string]string{"status": "success"}, body); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%s", diff)
	}
	got := up.updates()
	if len(got) != 1 || got[0].UpdateID != 7 || got[0].Message.Chat.ID != 42 {
		t.Errorf("dispatched = %+v", got)
	}
}

func TestWebhookErrors(t *testing.T) {
	up := &fakeUpdates{err: errors.New("boom")}
	srv := newTestServer(t, Options{Updates: up})

	resp, _ := post(t, srv.URL+"/webhook", `{not json`, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad json status = %d, want 400", resp.StatusCode)
	}
	if len(up.updates()) != 0 {
		t.Error("undecodable update dispatched")
	}

	resp, body := post(t, srv.URL+"/webhook", `{"update_id":1}`, nil)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
	if body["error"] != "boom" {
		t.Errorf("error body = %v", body)
	}
}

func TestWebhookSecretHeader(t *testing.T) {
	up := &fakeUpdates{}
	srv := newTestServer(t, Options{Updates: up, WebhookSecret: "s3cret", WebhookPath: "/hook"})

	resp, _ := post(t, srv.URL+"/hook", `{"update_id":1}`, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
	resp, _ = post(t, srv.URL+"/hook", `{"update_id":1}`, map[string]string{middleware.SecretTokenHeader: "s3cret"})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestWebhookCancelledByBaseContext(t *testing.T) {
	base, cancel := context.WithCancel(t.Context())
	up := &fakeUpdates{block: make(chan struct{})}
	srv := newTestServer(t, Options{Updates: up, BaseContext: base})

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	post(t, srv.URL+"/webhook", `{"update_id":1}`, nil)

	up.mu.Lock()
	defer up.mu.Unlock()
	if !up.ctxDone {
		t.Error("update context not cancelled by base context")
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t, Options{
		Updates: &fakeUpdates{},
		Checkers: map[string]middleware.HealthChecker{
			"db": middleware.CheckFunc(func(context.Context) error { return nil }),
		},
	})
	for path, want := range map[string]int{"/": 200, "/ready": 200, "/metrics": 200, "/scans": 404} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Errorf("GET %s = %d, want %d", path, resp.StatusCode, want)
		}
	}
}

func TestAuditEndpoints(t *testing.T) {
	audit := &fakeAudit{}
	srv := newTestServer(t, Options{
		Updates:   &fakeUpdates{},
		Audit:     audit,
		AdminKeys: map[string]string{"ops": "k1"},
	})

	get := func(path, key string) *http.Response {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+path, nil)
		if key != "" {
			req.Header.Set("Authorization", "Bearer "+key)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	if resp := get("/scans", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d", resp.StatusCode)
	}

	resp := get("/scans?limit=5", "k1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var entries []scanlog.Entry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		t.Fatal(err)
	}
	if limit, _ := audit.args(); limit != 5 || len(entries) != 1 || entries[0].RequestID != "r1" {
		t.Errorf("limit=%d entries=%+v", limit, entries)
	}

	resp = get("/scans/summary?days=30", "k1")
	var sum scanlog.Summary
	if err := json.NewDecoder(resp.Body).Decode(&sum); err != nil {
		t.Fatal(err)
	}
	if _, days := audit.args(); days != 30 || sum != (scanlog.Summary{Total: 3, Safe: 2, Failed: 1}) {
		t.Errorf("days=%d summary=%+v", days, sum)
	}

	if resp := get("/scans?limit=abc", "k1"); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", resp.StatusCode)
	}
}
