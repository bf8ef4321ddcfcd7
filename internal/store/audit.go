package store

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/aliedrevenue/concierge/internal/domain"
)

// InsertAuditLog appends one append-only audit row. Callers that are
// recording a state transition must pass the same *sqlx.Tx they used
// for the transition itself, so audit order reflects commit order —
// never a second connection.
func InsertAuditLog(ctx context.Context, ext execer, a *domain.AuditLog) error {
	_, err := sqlx.NamedExecContext(ctx, ext, `
		INSERT INTO audit_logs
			(id, timestamp, level, module, action, details, message_id, event_fingerprint, user_id)
		VALUES
			(:id, :timestamp, :level, :module, :action, :details, :message_id, :event_fingerprint, :user_id)
	`, a)
	return err
}
