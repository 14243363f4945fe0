package db

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
)

// Retryer decides whether and when a failed storage call is attempted again.
type Retryer interface {
	// NextDelay returns the delay before retry number attempt (0-based) and
	// whether to retry at all.
	NextDelay(attempt int, lastErr error) (time.Duration, bool)
}

// ExponentialBackoff retries with exponentially growing, jittered delays.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxRetries   int
	JitterFactor float64
}

func NewExponentialBackoff(retries int, initial, max time.Duration) *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialDelay: initial,
		MaxDelay:     max,
		Multiplier:   2.0,
		MaxRetries:   retries,
		JitterFactor: 0.2,
	}
}

func (r *ExponentialBackoff) NextDelay(attempt int, _ error) (time.Duration, bool) {
	if attempt >= r.MaxRetries {
		return 0, false
	}

	delay := float64(r.InitialDelay) * math.Pow(r.Multiplier, float64(attempt))
	if delay > float64(r.MaxDelay) {
		delay = float64(r.MaxDelay)
	}
	if r.JitterFactor > 0 {
		//nolint:gosec // jitter only
		delay += delay * r.JitterFactor * (2*rand.Float64() - 1)
		if delay < 0 {
			delay = float64(r.InitialDelay)
		}
	}
	return time.Duration(delay), true
}

// Retriable reports whether err is a transient backend failure. Validation,
// not-found and duplicate-id errors are final.
func Retriable(err error) bool {
	var se *StorageError
	return errors.As(err, &se) && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrExists)
}

type retryCollection[T Entity] struct {
	next    Collection[T]
	name    string
	retryer Retryer
	log     zerolog.Logger
}

func withRetry[T Entity](c Collection[T], name string, r Retryer, log zerolog.Logger) Collection[T] {
	return &retryCollection[T]{next: c, name: name, retryer: r, log: log}
}

func (c *retryCollection[T]) do(ctx context.Context, op string, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !Retriable(err) {
			return err
		}
		delay, ok := c.retryer.NextDelay(attempt, err)
		if !ok {
			return err
		}
		c.log.Warn().Err(err).
			Str("collection", c.name).
			Str("op", op).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("retrying storage call")

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
	}
}

func (c *retryCollection[T]) List(ctx context.Context) ([]T, error) {
	var items []T
	err := c.do(ctx, "list", func() error {
		var err error
		items, err = c.next.List(ctx)
		return err
	})
	return items, err
}

func (c *retryCollection[T]) Create(ctx context.Context, v T) (T, error) {
	var out T
	retried := false
	err := c.do(ctx, "create", func() error {
		var err error
		out, err = c.next.Create(ctx, v)
		// An attempt that failed on the way back may still have landed.
		if retried && errors.Is(err, ErrExists) {
			out, err = v, nil
		}
		retried = true
		return err
	})
	return out, err
}

func (c *retryCollection[T]) Update(ctx context.Context, v T) error {
	return c.do(ctx, "update", func() error { return c.next.Update(ctx, v) })
}

func (c *retryCollection[T]) Delete(ctx context.Context, id string) error {
	return c.do(ctx, "delete", func() error { return c.next.Delete(ctx, id) })
}
