package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/propsrc/internal/metrics"
)

// attemptFunc performs one fetch. ctx carries the per-attempt deadline.
type attemptFunc func(ctx context.Context, userAgent string) error

// attempt runs fn until it succeeds, fails permanently or runs out of retries.
func (r *Resolver) attempt(ctx context.Context, kind, target string, fn attemptFunc) error {
	for n := 1; ; n++ {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx, target); err != nil {
				return fmt.Errorf("rate limit %s: %w", target, err)
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
		err := fn(attemptCtx, r.agents.Next())
		cancel()

		if err == nil {
			metrics.ObserveFetchAttempt(kind, "success")
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			metrics.ObserveFetchAttempt(kind, "canceled")
			return fmt.Errorf("fetch %s: %w", target, ctxErr)
		}
		if !r.retry.ShouldRetry(err, n) {
			metrics.ObserveFetchAttempt(kind, "failure")
			return err
		}

		metrics.ObserveFetchAttempt(kind, "retry")
		wait := r.retry.Backoff(n)
		r.logger.Debug("retrying fetch",
			zap.String("kind", kind),
			zap.String("url", target),
			zap.Int("attempt", n),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		if err := sleep(ctx, wait); err != nil {
			return fmt.Errorf("fetch %s: %w", target, err)
		}
	}
}

// asFetchError wraps transport errors so timeouts classify as transient.
func asFetchError(target string, err error) error {
	var fe *FetchError
	if errors.As(err, &fe) {
		return err
	}
	return &FetchError{URL: target, Err: err}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// closeBody drains a bounded amount of the body so the connection can be reused.
func closeBody(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	_ = body.Close()
}
