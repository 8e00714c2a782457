package netinfo

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestPublicIPCachesAnswer(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ip":"203.0.113.7"}`))
	}))
	defer srv.Close()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewResolver(srv.URL, time.Minute)
	r.now = func() time.Time { return now }

	for range 2 {
		ip, err := r.PublicIP(t.Context())
		if err != nil {
			t.Fatalf("PublicIP: %v", err)
		}
		if ip != "203.0.113.7" {
			t.Errorf("ip = %q", ip)
		}
	}
	if hits.Load() != 1 {
		t.Errorf("hits = %d, want 1", hits.Load())
	}

	now = now.Add(2 * time.Minute)
	if _, err := r.PublicIP(t.Context()); err != nil {
		t.Fatal(err)
	}
	if hits.Load() != 2 {
		t.Errorf("hits after expiry = %d, want 2", hits.Load())
	}
}

func TestPublicIPErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusBadGateway, `{}`},
		{"bad json", http.StatusOK, `not json`},
		{"not an address", http.StatusOK, `{"ip":"localhost"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			if _, err := NewResolver(srv.URL, 0).PublicIP(t.Context()); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
