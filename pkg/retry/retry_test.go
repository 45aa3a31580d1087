package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/deepchat/pkg/clock"
)

var errBoom = errors.New("boom")

func TestPolicyDo(t *testing.T) {
	t.Run("succeeds after failures", func(t *testing.T) {
		fake := clock.NewFake(time.Unix(0, 0))
		p := Policy{MaxAttempts: 3, Delay: Fixed(2 * time.Second)}

		calls := 0
		var retried []int
		err := p.Do(context.Background(), fake, func(ctx context.Context, attempt int) error {
			calls++
			if attempt < 2 {
				return errBoom
			}
			return nil
		}, func(attempt int, err error) {
			retried = append(retried, attempt)
		})

		require.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.Equal(t, []int{1, 2}, retried)
		assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, fake.Sleeps())
	})

	t.Run("exhausted", func(t *testing.T) {
		fake := clock.NewFake(time.Unix(0, 0))
		p := Policy{MaxAttempts: 3, Delay: Exponential(time.Second)}

		err := p.Do(context.Background(), fake, func(ctx context.Context, attempt int) error {
			return errBoom
		}, nil)

		var exhausted *ExhaustedError
		require.ErrorAs(t, err, &exhausted)
		assert.Equal(t, 3, exhausted.Attempts)
		assert.ErrorIs(t, err, errBoom)
		assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, fake.Sleeps())
	})

	t.Run("non retryable stops at once", func(t *testing.T) {
		fake := clock.NewFake(time.Unix(0, 0))
		p := Policy{
			MaxAttempts: 3,
			Delay:       Fixed(time.Second),
			Retryable:   func(error) bool { return false },
		}

		calls := 0
		err := p.Do(context.Background(), fake, func(ctx context.Context, attempt int) error {
			calls++
			return errBoom
		}, nil)

		assert.Equal(t, errBoom, err)
		assert.Equal(t, 1, calls)
		assert.Empty(t, fake.Sleeps())
	})

	t.Run("cancelled context aborts the pause", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		p := Policy{MaxAttempts: 3, Delay: Fixed(time.Second)}
		err := p.Do(ctx, clock.NewFake(time.Unix(0, 0)), func(ctx context.Context, attempt int) error {
			return errBoom
		}, nil)

		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestExponential(t *testing.T) {
	d := Exponential(time.Second)
	assert.Equal(t, time.Second, d(0))
	assert.Equal(t, 2*time.Second, d(1))
	assert.Equal(t, 4*time.Second, d(2))
}
