package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/aliedrevenue/concierge/internal/domain"
)

func TestInsertApprovalToken_AppliesDefaultTTLWhenZero(t *testing.T) {
	sqlxDB, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO approval_tokens").WillReturnResult(sqlmock.NewResult(1, 1))

	created := time.Now()
	tok := &domain.ApprovalToken{
		ID:          uuid.New(),
		OperationID: uuid.New(),
		CreatedAt:   created,
	}
	if err := InsertApprovalToken(context.Background(), sqlxDB, tok); err != nil {
		t.Fatalf("InsertApprovalToken: %v", err)
	}
	want := created.Add(domain.DefaultApprovalTTL)
	if !tok.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v (CreatedAt + DefaultApprovalTTL)", tok.ExpiresAt, want)
	}
}

func TestInsertApprovalToken_PreservesExplicitExpiry(t *testing.T) {
	sqlxDB, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO approval_tokens").WillReturnResult(sqlmock.NewResult(1, 1))

	explicit := time.Now().Add(30 * time.Minute)
	tok := &domain.ApprovalToken{
		ID:          uuid.New(),
		OperationID: uuid.New(),
		CreatedAt:   time.Now(),
		ExpiresAt:   explicit,
	}
	if err := InsertApprovalToken(context.Background(), sqlxDB, tok); err != nil {
		t.Fatalf("InsertApprovalToken: %v", err)
	}
	if !tok.ExpiresAt.Equal(explicit) {
		t.Errorf("ExpiresAt was overwritten: got %v, want %v", tok.ExpiresAt, explicit)
	}
}

func TestGetApprovalToken_ReturnsNilWhenAbsent(t *testing.T) {
	sqlxDB, mock := newMockStore(t)
	mock.ExpectQuery("SELECT \\* FROM approval_tokens").WillReturnRows(sqlmock.NewRows(nil))

	tok, err := GetApprovalToken(context.Background(), sqlxDB, "missing-id")
	if err != nil {
		t.Fatalf("GetApprovalToken: %v", err)
	}
	if tok != nil {
		t.Errorf("expected nil, got %+v", tok)
	}
}

func TestCleanupExpiredTokens_ReturnsRemovedCount(t *testing.T) {
	sqlxDB, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM approval_tokens").WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := CleanupExpiredTokens(context.Background(), sqlxDB)
	if err != nil {
		t.Fatalf("CleanupExpiredTokens: %v", err)
	}
	if n != 3 {
		t.Errorf("n = %d, want 3", n)
	}
}

func TestGetPendingOperations_OrdersByIDAscending(t *testing.T) {
	sqlxDB, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{
		"id", "type", "event_fingerprint", "event_intent", "reason", "requires_approval",
		"status", "executed_at", "calendar_event_id", "error",
	}).AddRow(
		uuid.New(), domain.CalendarOperationCreate, "fp-1", []byte("{}"), "new event", false,
		domain.CalendarOperationPending, nil, nil, nil,
	)
	mock.ExpectQuery("SELECT \\* FROM calendar_operations").WillReturnRows(rows)

	ops, err := GetPendingOperations(context.Background(), sqlxDB)
	if err != nil {
		t.Fatalf("GetPendingOperations: %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("len(ops) = %d, want 1", len(ops))
	}
}
