package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Reason
	}{
		{errors.New("context deadline exceeded"), ReasonTimeout},
		{errors.New("429 Too Many Requests"), ReasonRateLimit},
		{errors.New("invalid api key provided"), ReasonAuth},
		{errors.New("insufficient quota for this month"), ReasonBilling},
		{errors.New("model not found: llama-9"), ReasonModelUnavailable},
		{errors.New("502 bad gateway"), ReasonServerError},
		{errors.New("something odd"), ReasonUnknown},
		{nil, ReasonUnknown},
	}
	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   Reason
	}{
		{http.StatusUnauthorized, ReasonAuth},
		{http.StatusForbidden, ReasonAuth},
		{http.StatusPaymentRequired, ReasonBilling},
		{http.StatusTooManyRequests, ReasonRateLimit},
		{http.StatusBadRequest, ReasonInvalidRequest},
		{http.StatusNotFound, ReasonModelUnavailable},
		{http.StatusBadGateway, ReasonServerError},
		{http.StatusOK, ReasonUnknown},
	}
	for _, tt := range tests {
		if got := classifyStatus(tt.status); got != tt.want {
			t.Errorf("classifyStatus(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestProviderError_ErrorString(t *testing.T) {
	err := NewProviderError("local", "llama", errors.New("rate limit hit")).WithStatus(429)
	msg := err.Error()
	for _, fragment := range []string{"[rate_limit]", "local", "model=llama", "status=429"} {
		if !strings.Contains(msg, fragment) {
			t.Errorf("error string missing %q: %q", fragment, msg)
		}
	}
}

func TestProviderError_Unwrap(t *testing.T) {
	cause := errors.New("underlying")
	err := fmt.Errorf("call failed: %w", NewProviderError("openai", "gpt", cause))

	perr, ok := GetProviderError(err)
	if !ok {
		t.Fatal("GetProviderError failed through wrapping")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should reach the cause")
	}
	if perr.Provider != "openai" {
		t.Errorf("provider = %q", perr.Provider)
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(NewProviderError("local", "m", errors.New("timeout"))) {
		t.Error("timeouts should be retryable")
	}
	if IsRetryable(NewProviderError("local", "m", errors.New("unauthorized"))) {
		t.Error("auth failures should not be retryable")
	}
	if !IsRetryable(errors.New("too many requests")) {
		t.Error("raw rate-limit errors should be retryable")
	}
}
