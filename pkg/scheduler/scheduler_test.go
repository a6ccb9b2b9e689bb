package scheduler_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndtt/trellis/pkg/scheduler"
)

func TestScheduler(t *testing.T) {
	t.Parallel()

	s := scheduler.New(nil)

	var ticks atomic.Int32
	require.NoError(t, s.Add("tick", scheduler.Every(time.Second), func(context.Context) error {
		ticks.Add(1)
		return nil
	}))
	require.NoError(t, s.Add("fail", "@every 1s", func(context.Context) error {
		return errors.New("boom")
	}))
	require.NoError(t, s.Add("panic", "@every 1s", func(context.Context) error {
		panic("boom")
	}))

	require.ErrorIs(t, s.Add("tick", "@every 1s", nil), scheduler.ErrDuplicate)
	require.Error(t, s.Add("bad", "not a schedule", func(context.Context) error { return nil }))
	assert.ElementsMatch(t, []string{"tick", "fail", "panic"}, s.Names())

	s.Start()
	require.Eventually(t, func() bool { return ticks.Load() > 0 }, 3*time.Second, 20*time.Millisecond)

	s.Remove("fail")
	s.Remove("unknown")
	assert.Len(t, s.Names(), 2)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestEvery(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "@every 1m0s", scheduler.Every(time.Minute))
}
