// Package scheduler is the cron-driven dispatcher: one time.Ticker per
// job kind (agent run, digest, cleanup), each serialized across process
// restarts and replicas via internal/pkg/distlock, with a bounded drain
// window on SIGTERM/SIGINT.
package scheduler

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aliedrevenue/concierge/internal/logger"
	"github.com/aliedrevenue/concierge/internal/pkg/distlock"
)

// drainTimeout is how long Stop waits for in-flight jobs to finish
// after cancellation is signaled, per spec.md §4.9's SIGTERM contract.
const drainTimeout = 30 * time.Second

// JobFunc is one scheduled job's body; it must itself honor ctx
// cancellation at its own suspension points.
type JobFunc func(ctx context.Context) error

// job pairs a JobKind with its ticker interval and body.
type job struct {
	kind     distlock.JobKind
	interval time.Duration
	fn       JobFunc
}

// Scheduler runs a fixed set of jobs on independent tickers, each
// guarded by a per-kind distributed lock so an agent run never
// overlaps itself across replicas or restarts.
type Scheduler struct {
	redisClient *redis.Client
	db          *sql.DB
	lockTTL     time.Duration

	mu      sync.Mutex
	jobs    []job
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped chan struct{}
}

// New builds a Scheduler. Pass a nil redisClient to fall back to
// Postgres advisory locks (see distlock.NewLock).
func New(redisClient *redis.Client, db *sql.DB, lockTTL time.Duration) *Scheduler {
	if lockTTL <= 0 {
		lockTTL = 10 * time.Minute
	}
	return &Scheduler{
		redisClient: redisClient,
		db:          db,
		lockTTL:     lockTTL,
		stopped:     make(chan struct{}),
	}
}

// AddAgentRun registers the agent-run job kind on interval.
func (s *Scheduler) AddAgentRun(interval time.Duration, fn JobFunc) {
	s.add(distlock.JobKindAgentRun, interval, fn)
}

// AddDigest registers the digest job kind on interval.
func (s *Scheduler) AddDigest(interval time.Duration, fn JobFunc) {
	s.add(distlock.JobKindDigest, interval, fn)
}

// AddCleanup registers the cleanup job kind on interval.
func (s *Scheduler) AddCleanup(interval time.Duration, fn JobFunc) {
	s.add(distlock.JobKindCleanup, interval, fn)
}

func (s *Scheduler) add(kind distlock.JobKind, interval time.Duration, fn JobFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job{kind: kind, interval: interval, fn: fn})
}

// Start launches one ticker goroutine per registered job and blocks
// until ctx is cancelled; callers typically run it in its own
// goroutine and drive cancellation from signal.NotifyContext.
func (s *Scheduler) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	jobs := append([]job(nil), s.jobs...)
	s.mu.Unlock()

	for _, j := range jobs {
		s.wg.Add(1)
		go s.runTicker(runCtx, j)
	}

	<-runCtx.Done()
	logger.Info("scheduler", "stopping").Msg("cancellation received, waiting for in-flight jobs to drain")

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		logger.Info("scheduler", "stopped").Msg("all jobs drained cleanly")
	case <-time.After(drainTimeout):
		logger.Warn("scheduler", "stopped").Msg("drain timeout exceeded, exiting with jobs still in flight")
	}
	close(s.stopped)
}

// Stop signals cancellation to every running job and to Start's own
// ticker loops; it does not block — wait on Stopped() if needed.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Stopped returns a channel closed once Start has finished draining.
func (s *Scheduler) Stopped() <-chan struct{} { return s.stopped }

func (s *Scheduler) runTicker(ctx context.Context, j job) {
	defer s.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dispatch(ctx, j)
		}
	}
}

// dispatch acquires the job kind's distributed lock and, only if
// acquired, runs the job body. A failed acquisition means another
// replica (or this process's own previous run) still holds the lock —
// not an error, just a skip this tick.
func (s *Scheduler) dispatch(ctx context.Context, j job) {
	lock := distlock.NewLock(s.redisClient, s.db, j.kind, s.lockTTL)

	acquired, err := lock.Acquire(ctx)
	if err != nil {
		logger.Error("scheduler", "lock_acquire", err).Str("job_kind", string(j.kind)).Msg("failed to acquire job lock")
		return
	}
	if !acquired {
		logger.Debug("scheduler", "lock_skip").Str("job_kind", string(j.kind)).Msg("job already running elsewhere, skipping tick")
		return
	}
	defer func() {
		if err := lock.Release(ctx); err != nil {
			logger.Warn("scheduler", "lock_release").Str("job_kind", string(j.kind)).Msg("failed to release job lock: " + err.Error())
		}
	}()

	start := time.Now()
	logger.Info("scheduler", "job_start").Str("job_kind", string(j.kind)).Msg("job starting")
	if err := j.fn(ctx); err != nil {
		logger.Error("scheduler", "job_failed", err).Str("job_kind", string(j.kind)).Msg("job returned an error")
		return
	}
	logger.Info("scheduler", "job_done").Str("job_kind", string(j.kind)).Float("ms", float64(time.Since(start).Milliseconds())).Msg("job completed")
}
