package errors

import (
	"context"
	"fmt"
	"testing"
)

func TestTypedErrorsMatchSentinels(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
	}{
		{"data unavailable", NewDataUnavailableError("market", "yahoo", New("timeout")), ErrDataUnavailable},
		{"reasoning", NewReasoningError("trader", 3, New("503")), ErrReasoningTransient},
		{"invariant", Invariantf("verdict already set"), ErrInvariant},
		{"malformed", &MalformedOutputError{Role: "portfolio_manager", Reason: "no action"}, ErrMalformedOutput},
		{"wrapped", fmt.Errorf("stage: %w", NewDataUnavailableError("news", "", nil)), ErrDataUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !Is(tt.err, tt.target) {
				t.Fatalf("expected %v to match %v", tt.err, tt.target)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(nil) {
		t.Fatal("nil must not be retryable")
	}
	if IsRetryable(context.Canceled) {
		t.Fatal("cancellation must not be retryable")
	}
	if IsRetryable(fmt.Errorf("wrap: %w", Invariantf("x"))) {
		t.Fatal("invariant violations must not be retryable")
	}
	if !IsRetryable(New("429 too many requests")) {
		t.Fatal("plain provider errors should be retryable")
	}
}

func TestDataUnavailableMessage(t *testing.T) {
	err := NewDataUnavailableError("market", "yahoo", New("no bars"))
	want := "market data unavailable from yahoo: no bars"
	if err.Error() != want {
		t.Fatalf("got %q, want %q", err.Error(), want)
	}
}
