package llm

import (
	"context"
	"time"

	"github.com/dyike/cortexdesk/config"
	"github.com/dyike/cortexdesk/internal/errors"
	"github.com/dyike/cortexdesk/internal/logging"
)

// RetryPolicy bounds reasoning retries with exponential backoff.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
	}
}

func PolicyFromConfig(cfg config.Config) RetryPolicy {
	p := DefaultRetryPolicy()
	p.MaxAttempts = cfg.RetryMaxAttempts
	p.BaseDelay = time.Duration(cfg.RetryBaseDelayMs) * time.Millisecond
	p.MaxDelay = time.Duration(cfg.RetryMaxDelayMs) * time.Millisecond
	return p
}

// Backoff returns the delay before attempt n (n >= 2).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.BaseDelay)
	for i := 2; i < attempt; i++ {
		delay *= p.Multiplier
	}
	d := time.Duration(delay)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

type retryingInvoker struct {
	next   Invoker
	policy RetryPolicy
	logger *logging.Logger
}

// WithRetry retries transient failures of next. When every attempt fails the
// returned error matches errors.ErrReasoningTransient.
func WithRetry(next Invoker, policy RetryPolicy, logger *logging.Logger) Invoker {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &retryingInvoker{next: next, policy: policy, logger: logger}
}

func (r *retryingInvoker) Invoke(ctx context.Context, req Request) (string, error) {
	var lastErr error
	attempt := 0
	for attempt < r.policy.MaxAttempts {
		attempt++
		if attempt > 1 {
			if err := sleepCtx(ctx, r.policy.Backoff(attempt)); err != nil {
				lastErr = err
				break
			}
		}
		out, err := r.next.Invoke(ctx, req)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !errors.IsRetryable(err) {
			break
		}
		r.logger.Warn("reasoning attempt failed", "role", req.Role, "attempt", attempt, "error", err)
	}
	return "", errors.NewReasoningError(string(req.Role), attempt, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
