package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/aliedrevenue/concierge/internal/pkg/distlock"
)

func newTestSchedulerRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestStart_RunsRegisteredJobOnTick(t *testing.T) {
	client := newTestSchedulerRedis(t)
	s := New(client, nil, time.Minute)

	var calls int32
	s.AddAgentRun(10*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	go s.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&calls) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if atomic.LoadInt32(&calls) == 0 {
		t.Fatal("expected the job to run at least once within 2s")
	}

	cancel()
	select {
	case <-s.Stopped():
	case <-time.After(2 * time.Second):
		t.Fatal("Stopped() did not close after cancellation")
	}
}

func TestDispatch_SkipsWhenLockAlreadyHeld(t *testing.T) {
	client := newTestSchedulerRedis(t)
	s := New(client, nil, time.Minute)

	holder := distlock.NewLock(client, nil, distlock.JobKindDigest, time.Minute)
	ok, err := holder.Acquire(context.Background())
	if err != nil || !ok {
		t.Fatalf("holder.Acquire() = (%v, %v), want (true, nil)", ok, err)
	}
	defer holder.Release(context.Background())

	var calls int32
	s.dispatch(context.Background(), job{
		kind:     distlock.JobKindDigest,
		interval: time.Minute,
		fn: func(ctx context.Context) error {
			atomic.AddInt32(&calls, 1)
			return nil
		},
	})

	if atomic.LoadInt32(&calls) != 0 {
		t.Error("expected dispatch to skip the job body while the lock is held elsewhere")
	}
}

func TestDispatch_RunsAndReleasesLock(t *testing.T) {
	client := newTestSchedulerRedis(t)
	s := New(client, nil, time.Minute)

	var calls int32
	s.dispatch(context.Background(), job{
		kind:     distlock.JobKindCleanup,
		interval: time.Minute,
		fn: func(ctx context.Context) error {
			atomic.AddInt32(&calls, 1)
			return nil
		},
	})
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}

	lock := distlock.NewLock(client, nil, distlock.JobKindCleanup, time.Minute)
	ok, err := lock.Acquire(context.Background())
	if err != nil || !ok {
		t.Error("expected the lock to be released after a successful dispatch, so a fresh Acquire should succeed")
	}
}
