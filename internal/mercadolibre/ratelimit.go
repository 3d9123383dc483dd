package mercadolibre

import "time"

// rateCounter allows limit calls per window. The window restarts on the first
// call made after it has elapsed. Not safe for concurrent use.
type rateCounter struct {
	limit  int
	window time.Duration
	calls  int
	reset  time.Time
	now    func() time.Time
}

func newRateCounter(limit int, window time.Duration, now func() time.Time) *rateCounter {
	return &rateCounter{
		limit:  limit,
		window: window,
		reset:  now(),
		now:    now,
	}
}

func (r *rateCounter) take() error {
	now := r.now()
	if now.Sub(r.reset) > r.window {
		r.calls = 0
		r.reset = now
	}
	if r.calls >= r.limit {
		return ErrRateLimitExceeded
	}
	r.calls++
	return nil
}
