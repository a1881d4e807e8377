package extractor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dvloznov/statement-analyzer/internal/apperr"
	"github.com/dvloznov/statement-analyzer/internal/logger"
)

// retry runs fn up to attempts times with exponential backoff. Each attempt
// gets its own deadline of CallTimeout; an attempt that hits it is a
// ProviderError. Only UploadError and ProviderError are retried, and a
// provider status outside 408, 429 and 5xx stops retrying.
func (e *Extractor) retry(ctx context.Context, what string, attempts int, fn func(context.Context) error) error {
	log := logger.FromContext(ctx)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.cfg.InitialBackoff
	bo.MaxInterval = e.cfg.MaxBackoff
	bo.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(attempts-1)), ctx)

	attempt := 0
	op := func() error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		defer cancel()

		err := fn(callCtx)
		if err == nil {
			return nil
		}
		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = apperr.E(apperr.ProviderError, what, fmt.Errorf("call timed out after %s: %w", e.cfg.CallTimeout, err))
		}
		if !shouldRetry(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		log.Warn().Err(err).
			Str("call", what).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("transient failure, retrying")
	}

	err := backoff.RetryNotify(op, policy, notify)
	if err != nil && ctx.Err() != nil && apperr.KindOf(err) == "" {
		return apperr.E(apperr.ProviderError, what, err)
	}
	return err
}

func shouldRetry(err error) bool {
	if !apperr.Retryable(err) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.transient()
	}
	return true
}
