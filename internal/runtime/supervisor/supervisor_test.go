package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "woprnotify/pkg/logx"
)

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestGoRecordsFirstError(t *testing.T) {
	s := New(context.Background(), WithLogger(logx.Nop()))
	s.Go("ok", func(context.Context) error { return nil })
	s.Go("bad", func(context.Context) error { return errors.New("boom") })

	err := s.Wait(waitCtx(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: boom")

	snap := s.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "bad", snap[0].Name)
	assert.Equal(t, "boom", snap[0].LastErr)
	assert.False(t, snap[0].Running)
}

func TestGoRecoversPanic(t *testing.T) {
	s := New(context.Background())
	s.Go("p", func(context.Context) error { panic("kaboom") })
	err := s.Wait(waitCtx(t))
	assert.ErrorContains(t, err, "panic: kaboom")
	assert.Equal(t, uint64(1), s.Snapshot()[0].Panics)
}

func TestCancelOnError(t *testing.T) {
	s := New(context.Background(), WithCancelOnError(true))
	s.Go("bad", func(context.Context) error { return errors.New("boom") })
	s.Go("waiter", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.Error(t, s.Wait(waitCtx(t)))
}

func TestStopIsCleanOnCancel(t *testing.T) {
	s := New(context.Background())
	s.Go("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.NoError(t, s.Stop(waitCtx(t)))
}

func TestGoRestartRestartsUntilSuccess(t *testing.T) {
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("flaky", func(context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 5*time.Millisecond))

	require.NoError(t, s.Wait(waitCtx(t)))
	assert.Equal(t, int32(3), runs.Load())
	snap := s.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, uint64(2), snap[0].Restarts)
	assert.Equal(t, uint64(3), snap[0].Runs)
}

func TestGoRestartGivesUp(t *testing.T) {
	s := New(context.Background())
	s.GoRestart("dead", func(context.Context) error { return errors.New("nope") },
		WithRestartBackoff(time.Millisecond, time.Millisecond), WithMaxRestarts(2))
	err := s.Wait(waitCtx(t))
	assert.ErrorContains(t, err, "dead: nope")
	assert.Equal(t, uint64(3), s.Snapshot()[0].Runs)
}

func TestWaitHonoursContext(t *testing.T) {
	s := New(context.Background())
	s.Go("stuck", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Wait(ctx), context.DeadlineExceeded)
	s.Cancel()
	assert.NoError(t, s.Wait(waitCtx(t)))
}
