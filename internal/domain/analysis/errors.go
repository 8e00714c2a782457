package analysis

import (
	"fmt"
	"time"
)

// ErrorKind classifies provider failures.
type ErrorKind string

const (
	RateLimited        ErrorKind = "rate_limited"
	InvalidCredentials ErrorKind = "invalid_credentials"
	Transient          ErrorKind = "transient"
	Permanent          ErrorKind = "permanent"
)

var reasons = map[ErrorKind]string{
	RateLimited:        "Rate limit exceeded",
	InvalidCredentials: "Invalid API key",
}

// ProviderError is returned by Provider implementations.
type ProviderError struct {
	Kind       ErrorKind
	Code       int    // HTTP status, 0 for network level failures
	Status     string // provider error code, e.g. QuotaExceededError
	Message    string
	RetryAfter time.Duration
}

func (e *ProviderError) Error() string {
	reason, ok := reasons[e.Kind]
	if !ok {
		reason = fmt.Sprintf("API Error (%d)", e.Code)
	}
	if e.Message == "" {
		return reason
	}
	return reason + ": " + e.Message
}

// OversizeError rejects an artifact before anything is staged or sent.
type OversizeError struct {
	Size  int64
	Limit int64
}

func (e *OversizeError) Error() string {
	return fmt.Sprintf("artifact size %d exceeds limit %d", e.Size, e.Limit)
}

// Stage names the pipeline step a request failed in.
type Stage string

const (
	StageReceived  Stage = "received"
	StageStaged    Stage = "staged"
	StageSubmitted Stage = "submitted"
)

// PipelineError wraps the terminal failure of one request.
type PipelineError struct {
	Stage     Stage
	RequestID string
	Err       error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s (request %s): %v", e.Stage, e.RequestID, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// NarrationError reports a failed language model call; callers fall back to plain text.
type NarrationError struct {
	Err error
}

func (e *NarrationError) Error() string { return "narration: " + e.Err.Error() }

func (e *NarrationError) Unwrap() error { return e.Err }
