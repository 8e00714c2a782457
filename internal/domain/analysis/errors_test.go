package analysis

import (
	"errors"
	"fmt"
	"testing"
)

func TestProviderErrorMessage(t *testing.T) {
	cases := []struct {
		err  *ProviderError
		want string
	}{
		{&ProviderError{Kind: RateLimited, Code: 429, Message: "Quota exceeded"}, "Rate limit exceeded: Quota exceeded"},
		{&ProviderError{Kind: InvalidCredentials, Code: 401, Message: "Wrong API key"}, "Invalid API key: Wrong API key"},
		{&ProviderError{Kind: Permanent, Code: 404, Message: "Not found"}, "API Error (404): Not found"},
		{&ProviderError{Kind: Transient}, "API Error (0)"},
	}
	for _, tc := range cases {
		if got := tc.err.Error(); got != tc.want {
			t.Errorf("Error() = %q, want %q", got, tc.want)
		}
	}
}

func TestPipelineErrorUnwrap(t *testing.T) {
	inner := &ProviderError{Kind: RateLimited, Code: 429}
	err := fmt.Errorf("dispatch: %w", &PipelineError{Stage: StageSubmitted, RequestID: "r1", Err: inner})

	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("errors.As did not find ProviderError in %v", err)
	}
	if pe.Kind != RateLimited {
		t.Errorf("Kind = %q, want %q", pe.Kind, RateLimited)
	}
}
