package distlock

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPGAdvisoryLock_SameKeyYieldsSameLockID(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	a := NewPGAdvisoryLock(db, string(JobKindDigest))
	b := NewPGAdvisoryLock(db, string(JobKindDigest))
	if a.lockID != b.lockID {
		t.Errorf("lockID mismatch for the same key: %d != %d", a.lockID, b.lockID)
	}

	c := NewPGAdvisoryLock(db, string(JobKindCleanup))
	if a.lockID == c.lockID {
		t.Error("expected different job kinds to derive different lock ids")
	}
}

func TestPGAdvisoryLock_AcquireReturnsDriverResult(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	lock := NewPGAdvisoryLock(db, string(JobKindAgentRun))

	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WithArgs(lock.lockID).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))

	ok, err := lock.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !ok {
		t.Error("expected Acquire to report true")
	}
}

func TestPGAdvisoryLock_AcquireFailsWhenAlreadyHeld(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	lock := NewPGAdvisoryLock(db, string(JobKindAgentRun))

	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

	ok, err := lock.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if ok {
		t.Error("expected Acquire to report false when already held")
	}
}

func TestPGAdvisoryLock_ReleaseRunsUnlock(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	lock := NewPGAdvisoryLock(db, string(JobKindCleanup))

	mock.ExpectExec("SELECT pg_advisory_unlock").
		WithArgs(lock.lockID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := lock.Release(context.Background()); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestNewLock_PrefersRedisWhenClientProvided(t *testing.T) {
	client := newTestRedis(t)
	lock := NewLock(client, nil, JobKindDigest, 0)
	if _, ok := lock.(*RedisLock); !ok {
		t.Errorf("NewLock with a non-nil redis client returned %T, want *RedisLock", lock)
	}
}

func TestNewLock_FallsBackToPGWhenRedisNil(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	lock := NewLock(nil, db, JobKindDigest, 0)
	if _, ok := lock.(*PGAdvisoryLock); !ok {
		t.Errorf("NewLock with a nil redis client returned %T, want *PGAdvisoryLock", lock)
	}
}
