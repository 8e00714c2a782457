package netinfo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"
)

const DefaultEndpoint = "https://api.ipify.org?format=json"

// Resolver asks ipify for the host's public address. Answers are cached
// for ttl so repeated button presses do not hit the service.
type Resolver struct {
	http     *http.Client
	endpoint string
	ttl      time.Duration
	now      func() time.Time

	mu      sync.Mutex
	cached  string
	fetched time.Time
}

func NewResolver(endpoint string, ttl time.Duration) *Resolver {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Resolver{
		http:     &http.Client{Timeout: 10 * time.Second},
		endpoint: endpoint,
		ttl:      ttl,
		now:      time.Now,
	}
}

func (r *Resolver) PublicIP(ctx context.Context) (string, error) {
	r.mu.Lock()
	if r.cached != "" && r.now().Sub(r.fetched) < r.ttl {
		ip := r.cached
		r.mu.Unlock()
		return ip, nil
	}
	r.mu.Unlock()

	ip, err := r.fetch(ctx)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	r.cached, r.fetched = ip, r.now()
	r.mu.Unlock()
	return ip, nil
}

func (r *Resolver) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("ipify: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ipify: status %d", resp.StatusCode)
	}
	var body struct {
		IP string `json:"ip"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body); err != nil {
		return "", fmt.Errorf("ipify: decode: %w", err)
	}
	if net.ParseIP(body.IP) == nil {
		return "", fmt.Errorf("ipify: invalid address %q", body.IP)
	}
	return body.IP, nil
}
