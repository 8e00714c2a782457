package gemini

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
)

func TestResponseText(t *testing.T) {
	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []genai.Part{genai.Text("✅ URL safe"), genai.Text("\nAnother scan?")}},
	}}}
	if got := responseText(resp); got != "✅ URL safe\nAnother scan?" {
		t.Errorf("responseText() = %q", got)
	}
	if got := responseText(&genai.GenerateContentResponse{}); got != "" {
		t.Errorf("empty response gave %q", got)
	}
}

func TestQuotaError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"grpc resource exhausted", errors.New("rpc error: code = ResourceExhausted desc = quota"), true},
		{"http 429", fmt.Errorf("generate: %w", &googleapi.Error{Code: 429, Message: "quota"}), true},
		{"http 500", &googleapi.Error{Code: 500, Message: "request 429 failed"}, false},
		{"digits in message", errors.New("model gemini-1.5-flash-429 not found"), false},
		{"permission denied", errors.New("permission denied"), false},
	}
	for _, tt := range tests {
		if got := isQuotaError(tt.err); got != tt.want {
			t.Errorf("%s: isQuotaError() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewClient(context.Background(), "", ""); err == nil {
		t.Fatal("expected error without api key")
	}
}
