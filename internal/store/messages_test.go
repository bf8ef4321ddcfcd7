package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/aliedrevenue/concierge/internal/domain"
)

func TestInsertProcessedMessage_IdempotentOnConflict(t *testing.T) {
	sqlxDB, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO processed_messages").WillReturnResult(sqlmock.NewResult(0, 0))

	m := &domain.ProcessedMessage{
		ID:               uuid.New(),
		MessageID:        "gmail-msg-1",
		ProcessedAt:      time.Now(),
		PackID:           "kids-school",
		ExtractionStatus: domain.ExtractionStatusSuccess,
	}
	if err := InsertProcessedMessage(context.Background(), sqlxDB, m); err != nil {
		t.Fatalf("InsertProcessedMessage: %v", err)
	}
}

func TestGetProcessedMessage_ReturnsNilWhenAbsent(t *testing.T) {
	sqlxDB, mock := newMockStore(t)

	mock.ExpectQuery("SELECT .* FROM processed_messages").WillReturnRows(sqlmock.NewRows(nil))

	m, err := GetProcessedMessage(context.Background(), sqlxDB, "unknown-msg")
	if err != nil {
		t.Fatalf("GetProcessedMessage: %v", err)
	}
	if m != nil {
		t.Errorf("expected nil, got %+v", m)
	}
}

func TestInsertItem_ForeignKeyViolationBecomesDataIntegrityError(t *testing.T) {
	sqlxDB, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO items").WillReturnError(&pq.Error{Code: "23503"})

	item := &domain.Item{ID: uuid.New(), MessageID: "dangling-msg", PackID: "kids-school"}
	err := InsertItem(context.Background(), sqlxDB, item)
	if err == nil {
		t.Fatal("expected an error for a dangling message_id foreign key")
	}
	if _, ok := err.(*DataIntegrityError); !ok {
		t.Errorf("expected *DataIntegrityError, got %T: %v", err, err)
	}
}

func TestInsertItem_PassesThroughOtherErrors(t *testing.T) {
	sqlxDB, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO items").WillReturnError(&pq.Error{Code: "42601"})

	item := &domain.Item{ID: uuid.New(), MessageID: "msg-1", PackID: "kids-school"}
	err := InsertItem(context.Background(), sqlxDB, item)
	if err == nil {
		t.Fatal("expected an error")
	}
	if _, ok := err.(*DataIntegrityError); ok {
		t.Error("a non-FK error should not be reclassified as a DataIntegrityError")
	}
}
