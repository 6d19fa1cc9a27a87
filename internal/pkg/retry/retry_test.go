package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var fast = Policy{Tries: 3, Initial: time.Millisecond, Max: 2 * time.Millisecond}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), "test", fast, func() error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestDoGivesUp(t *testing.T) {
	calls := 0
	err := Do(context.Background(), "test", fast, func() error {
		calls++
		return errors.New("down")
	})
	require.Error(t, err)
	require.Equal(t, 3, calls)
}

func TestDoStopsOnPermanent(t *testing.T) {
	sentinel := errors.New("bad request")
	calls := 0
	err := Do(context.Background(), "test", fast, func() error {
		calls++
		return Permanent(sentinel)
	})
	require.ErrorIs(t, err, sentinel)
	require.Equal(t, 1, calls)
}

func TestValueReturnsResult(t *testing.T) {
	v, err := Value(context.Background(), "test", fast, func() (int, error) { return 7, nil })
	require.NoError(t, err)
	require.Equal(t, 7, v)
}
