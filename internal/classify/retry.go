package classify

import (
	"context"
	"errors"
	"honeyguard/internal/prompt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retrying retries transient classifier failures with exponential backoff.
// With zero retries it is a pass-through and a failed attempt is dropped.
type Retrying struct {
	inner      Classifier
	maxRetries int
	logger     *slog.Logger

	initialInterval time.Duration
	maxElapsed      time.Duration
}

func NewRetrying(inner Classifier, maxRetries int, logger *slog.Logger) *Retrying {
	return &Retrying{
		inner:           inner,
		maxRetries:      maxRetries,
		logger:          logger,
		initialInterval: 500 * time.Millisecond,
		maxElapsed:      time.Minute,
	}
}

func (r *Retrying) Classify(ctx context.Context, req prompt.Request) (Result, error) {
	if r.maxRetries <= 0 {
		return r.inner.Classify(ctx, req)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.initialInterval
	eb.MaxElapsedTime = r.maxElapsed
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(r.maxRetries)), ctx)

	op := func() (Result, error) {
		res, err := r.inner.Classify(ctx, req)
		if err != nil && !retryable(err) {
			return Result{}, backoff.Permanent(err)
		}
		return res, err
	}
	notify := func(err error, wait time.Duration) {
		r.logger.Warn("classification failed, retrying",
			"session", req.SessionID, "reason", ReasonOf(err), "wait", wait)
	}
	res, err := backoff.RetryNotifyWithData(op, policy, notify)
	if err != nil {
		var f *Failure
		if !errors.As(err, &f) {
			// ctx ended between attempts
			return Result{}, &Failure{Reason: ReasonTransport, Err: err}
		}
	}
	return res, err
}

// retryable reports whether another attempt could plausibly succeed.
// Client errors other than rate limiting and non-conforming replies are not
// retried.
func retryable(err error) bool {
	var f *Failure
	if !errors.As(err, &f) {
		return false
	}
	switch f.Reason {
	case ReasonStatus:
		return f.StatusCode >= 500 || f.StatusCode == http.StatusTooManyRequests
	case ReasonDecode, ReasonInvalidRiskScore:
		return false
	}
	return true
}
