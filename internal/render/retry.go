package render

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Backoff doubles the wait after every failed attempt, with a little jitter.
type Backoff struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
	Jitter   time.Duration
}

func (b Backoff) delay(attempt int) time.Duration {
	d := b.Base * time.Duration(1<<(attempt-1))
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	if b.Jitter > 0 {
		d += time.Duration(rand.Int63n(int64(b.Jitter)))
	}
	return d
}

// Retry calls fn until it succeeds, attempts run out or ctx is done.
func Retry(ctx context.Context, b Backoff, fn func(context.Context) error) error {
	if b.Attempts <= 0 {
		b.Attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= b.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			return lastErr
		}
		if lastErr = fn(ctx); lastErr == nil {
			return nil
		}
		if attempt == b.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return errors.Join(lastErr, ctx.Err())
		case <-time.After(b.delay(attempt)):
		}
	}
	return lastErr
}
