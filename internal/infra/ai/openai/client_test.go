package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bryanwahyu/vscanbot/internal/domain/ai"
)

func TestComplete(t *testing.T) {
	var got struct {
		Model     string `json:"model"`
		MaxTokens int    `json:"max_tokens"`
		Messages  []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/inference/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer gh-token" {
			t.Errorf("Authorization = %q", auth)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"✅ FILE safe"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	c := NewClient("gh-token", srv.URL+"/inference/", "")
	out, err := c.Complete(context.Background(), "system", `{"severity":"safe"}`)
	if err != nil {
		t.Fatal(err)
	}
	if out != "✅ FILE safe" {
		t.Errorf("out = %q", out)
	}
	if got.Model != DefaultModel || got.MaxTokens != maxTokens || len(got.Messages) != 2 || got.Messages[0].Role != "system" {
		t.Errorf("request = %+v", got)
	}
}

func TestCompleteQuota(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error":{"message":"Rate limit reached","type":"rate_limit","code":"RateLimitReached"}}`)
	}))
	defer srv.Close()

	_, err := NewClient("k", srv.URL, "gpt-4o").Complete(context.Background(), "s", "u")
	if !errors.Is(err, ai.ErrQuotaExceeded) {
		t.Fatalf("want ErrQuotaExceeded, got %v", err)
	}
}

func TestIsReasoningModel(t *testing.T) {
	tests := map[string]bool{"o3-mini": true, "openai/o4-mini": true, "openai/gpt-5": true, "openai/gpt-4.1": false, "gpt-4o": false}
	for model, want := range tests {
		if got := isReasoningModel(model); got != want {
			t.Errorf("isReasoningModel(%q) = %v, want %v", model, got, want)
		}
	}
}
