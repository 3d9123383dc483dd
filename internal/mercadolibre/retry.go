package mercadolibre

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// do runs request with the retry policy: transient failures are repeated up
// to MaxRetries attempts, waiting RateLimitBackoff*2^n after a 429 and
// RetryBaseDelay*2^n after other transient failures, both capped at MaxBackoff.
func (c *Client) do(ctx context.Context, in call) (json.RawMessage, error) {
	transient := c.newBackOff(c.cfg.RetryBaseDelay)
	throttled := c.newBackOff(c.cfg.RateLimitBackoff)

	attempts := c.cfg.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		raw, err := c.request(ctx, in)
		if err == nil {
			return raw, nil
		}
		lastErr = err

		if ctx.Err() != nil || !IsTransient(err) {
			return nil, err
		}
		if attempt == attempts {
			break
		}

		wait, reason := transient.NextBackOff(), "transient"
		if errors.Is(err, ErrRateLimited) {
			wait, reason = throttled.NextBackOff(), "rate_limited"
		}
		c.metrics.APIRetry(reason)
		c.logger.Warn("API call failed, retrying",
			zap.String("endpoint", in.endpoint),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%s %s failed after %d attempts: %w", in.method, in.endpoint, attempts, lastErr)
}

func (c *Client) newBackOff(initial time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = c.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
