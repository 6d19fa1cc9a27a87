package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type Policy struct {
	Tries   uint
	Initial time.Duration
	Max     time.Duration
}

var Default = Policy{Tries: 4, Initial: 200 * time.Millisecond, Max: 5 * time.Second}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.Initial > 0 {
		b.InitialInterval = p.Initial
	}
	if p.Max > 0 {
		b.MaxInterval = p.Max
	}
	return b
}

// Do runs fn until it succeeds, returns a Permanent error, the tries are
// used up or ctx ends.
func Do(ctx context.Context, op string, p Policy, fn func() error) error {
	_, err := Value(ctx, op, p, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

func Value[T any](ctx context.Context, op string, p Policy, fn func() (T, error)) (T, error) {
	tries := p.Tries
	if tries == 0 {
		tries = Default.Tries
	}
	return backoff.Retry(ctx, fn,
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(tries),
		backoff.WithNotify(func(err error, next time.Duration) {
			logutil.GetLogger(ctx).Warn("operation failed, retrying",
				zap.String("op", op), zap.Duration("next", next), zap.Error(err))
		}),
	)
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
