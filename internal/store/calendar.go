package store

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/aliedrevenue/concierge/internal/domain"
)

// InsertCalendarOperation queues a write for the external calendar
// sink to consume. sendUpdates defaults to "none" at the call site
// (internal/config), never here.
func InsertCalendarOperation(ctx context.Context, ext execer, op *domain.CalendarOperation) error {
	_, err := sqlx.NamedExecContext(ctx, ext, `
		INSERT INTO calendar_operations
			(id, type, event_fingerprint, event_intent, reason, requires_approval,
			 status, executed_at, calendar_event_id, error)
		VALUES
			(:id, :type, :event_fingerprint, :event_intent, :reason, :requires_approval,
			 :status, :executed_at, :calendar_event_id, :error)
	`, op)
	return err
}

// UpdateCalendarOperation persists the writer's outcome for a queued
// operation.
func UpdateCalendarOperation(ctx context.Context, ext execer, op *domain.CalendarOperation) error {
	_, err := sqlx.NamedExecContext(ctx, ext, `
		UPDATE calendar_operations SET
			status = :status, executed_at = :executed_at,
			calendar_event_id = :calendar_event_id, error = :error
		WHERE id = :id
	`, op)
	return err
}

// GetPendingOperations returns queued operations awaiting execution,
// ordered by id ascending — the single queue the external calendar
// writer drains. Ids are random UUIDs, so this is not insertion order.
func GetPendingOperations(ctx context.Context, ext execer) ([]domain.CalendarOperation, error) {
	var ops []domain.CalendarOperation
	err := sqlx.SelectContext(ctx, ext, &ops, `
		SELECT * FROM calendar_operations WHERE status = 'pending' ORDER BY id ASC
	`)
	return ops, err
}

// InsertApprovalToken creates a single-use approval token for a
// CalendarOperation, with the default +2h TTL when expiresAt is zero.
func InsertApprovalToken(ctx context.Context, ext execer, t *domain.ApprovalToken) error {
	if t.ExpiresAt.IsZero() {
		t.ExpiresAt = t.CreatedAt.Add(domain.DefaultApprovalTTL)
	}
	_, err := sqlx.NamedExecContext(ctx, ext, `
		INSERT INTO approval_tokens (id, operation_id, created_at, expires_at, approved, approved_at, used)
		VALUES (:id, :operation_id, :created_at, :expires_at, :approved, :approved_at, :used)
	`, t)
	return err
}

// GetApprovalToken looks up a token by id.
func GetApprovalToken(ctx context.Context, ext execer, id string) (*domain.ApprovalToken, error) {
	var t domain.ApprovalToken
	err := sqlx.GetContext(ctx, ext, &t, `SELECT * FROM approval_tokens WHERE id = $1`, id)
	if errors.Is(err, errNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateApprovalToken marks a token approved/used.
func UpdateApprovalToken(ctx context.Context, ext execer, t *domain.ApprovalToken) error {
	_, err := sqlx.NamedExecContext(ctx, ext, `
		UPDATE approval_tokens SET approved = :approved, approved_at = :approved_at, used = :used
		WHERE id = :id
	`, t)
	return err
}

// CleanupExpiredTokens deletes tokens past their expiry that were
// never used, returning the count removed.
func CleanupExpiredTokens(ctx context.Context, ext execer) (int, error) {
	res, err := ext.ExecContext(ctx, `
		DELETE FROM approval_tokens WHERE expires_at < now() AND used = false
	`)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
