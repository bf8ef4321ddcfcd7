package digest

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/aliedrevenue/concierge/internal/domain"
)

func categoryOf(s string) domain.Category { return domain.Category(s) }

// StoreProvider implements WindowProvider against the Store's
// PostgreSQL schema directly, the same sqlx.SelectContext idiom
// internal/dashboard's Query type uses for its own read projections.
type StoreProvider struct {
	db *sqlx.DB
}

// NewStoreProvider builds a StoreProvider over a live connection pool.
func NewStoreProvider(db *sqlx.DB) *StoreProvider {
	return &StoreProvider{db: db}
}

type itemRowScan struct {
	MessageID                string   `db:"message_id"`
	Subject                  string   `db:"subject"`
	Snippet                  string   `db:"snippet"`
	FromName                 string   `db:"from_name"`
	FromEmail                string   `db:"from_email"`
	PrimaryCategory          string   `db:"primary_category"`
	ClassificationConfidence *float64 `db:"classification_confidence"`
}

func (r itemRowScan) toItemRow() ItemRow {
	return ItemRow{
		MessageID:                r.MessageID,
		Subject:                  r.Subject,
		Snippet:                  r.Snippet,
		FromName:                 r.FromName,
		FromEmail:                r.FromEmail,
		PrimaryCategory:          categoryOf(r.PrimaryCategory),
		ClassificationConfidence: r.ClassificationConfidence,
	}
}

const itemColumns = `message_id, subject, snippet, from_name, from_email, primary_category, classification_confidence`

// Created returns items first recorded in [start, end), excluding
// anything already dismissed.
func (p *StoreProvider) Created(ctx context.Context, start, end time.Time) ([]ItemRow, error) {
	var rows []itemRowScan
	err := sqlx.SelectContext(ctx, p.db, &rows, `
		SELECT `+itemColumns+` FROM items
		WHERE created_at >= $1 AND created_at < $2
		  AND NOT EXISTS (SELECT 1 FROM dismissed_items d WHERE d.item_id = items.id)
		ORDER BY created_at ASC
	`, start, end)
	return toRows(rows), err
}

// Pending returns obligation items created in [start, end) that are
// not yet approved and not dismissed, whether or not they carry an
// obligation date, so a digest reader sees what still awaits approval.
func (p *StoreProvider) Pending(ctx context.Context, start, end time.Time) ([]ItemRow, error) {
	var rows []itemRowScan
	err := sqlx.SelectContext(ctx, p.db, &rows, `
		SELECT `+itemColumns+` FROM items
		WHERE item_type = 'obligation' AND approved = false
		  AND created_at >= $1 AND created_at < $2
		  AND NOT EXISTS (SELECT 1 FROM dismissed_items d WHERE d.item_id = items.id)
		ORDER BY created_at ASC
	`, start, end)
	return toRows(rows), err
}

// ApprovedPending returns obligation items the parent has approved but
// whose corresponding calendar write has not yet executed.
func (p *StoreProvider) ApprovedPending(ctx context.Context, start, end time.Time) ([]ItemRow, error) {
	var rows []itemRowScan
	err := sqlx.SelectContext(ctx, p.db, &rows, `
		SELECT `+itemColumns+` FROM items
		WHERE item_type = 'obligation' AND approved = true
		  AND approved_at >= $1 AND approved_at < $2
		  AND NOT EXISTS (
		      SELECT 1 FROM calendar_operations co
		      JOIN events e ON e.fingerprint = co.event_fingerprint
		      WHERE e.source_message_id = items.message_id AND co.status = 'executed'
		  )
		ORDER BY approved_at ASC
	`, start, end)
	return toRows(rows), err
}

// Forwarded returns messages the (out-of-core) forwarding rule handed
// off to a human in the window.
func (p *StoreProvider) Forwarded(ctx context.Context, start, end time.Time) ([]ItemRow, error) {
	var rows []struct {
		MessageID string `db:"source_message_id"`
		Reason    string `db:"reason"`
		PackID    string `db:"pack_id"`
	}
	err := sqlx.SelectContext(ctx, p.db, &rows, `
		SELECT source_message_id, reason, pack_id FROM forwarded_messages
		WHERE forwarded_at >= $1 AND forwarded_at < $2 AND success = true
		ORDER BY forwarded_at ASC
	`, start, end)
	if err != nil {
		return nil, err
	}
	out := make([]ItemRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, ItemRow{
			MessageID: r.MessageID,
			Subject:   r.Reason,
		})
	}
	return out, nil
}

// Deferred returns obligations the system could not resolve to a
// concrete date — the terminal-but-open state that escalates to the
// parent when it has sat unresolved past the window.
func (p *StoreProvider) Deferred(ctx context.Context, start, end time.Time) ([]ItemRow, error) {
	var rows []itemRowScan
	err := sqlx.SelectContext(ctx, p.db, &rows, `
		SELECT `+itemColumns+` FROM items
		WHERE item_type = 'obligation' AND obligation_date IS NULL
		  AND created_at >= $1 AND created_at < $2
		  AND NOT EXISTS (SELECT 1 FROM dismissed_items d WHERE d.item_id = items.id)
		ORDER BY created_at ASC
	`, start, end)
	return toRows(rows), err
}

// Dismissed returns items dismissed in the window, drawing its fields
// from the immutable dismissal row itself rather than the (possibly
// later-mutated) item.
func (p *StoreProvider) Dismissed(ctx context.Context, start, end time.Time) ([]ItemRow, error) {
	var rows []struct {
		Subject string `db:"original_subject"`
		From    string `db:"original_from"`
		Reason  string `db:"reason"`
	}
	err := sqlx.SelectContext(ctx, p.db, &rows, `
		SELECT original_subject, original_from, reason FROM dismissed_items
		WHERE dismissed_at >= $1 AND dismissed_at < $2
		ORDER BY dismissed_at ASC
	`, start, end)
	if err != nil {
		return nil, err
	}
	out := make([]ItemRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, ItemRow{
			Subject:   r.Subject,
			FromEmail: r.From,
			Snippet:   "dismissed: " + r.Reason,
		})
	}
	return out, nil
}

// Errors returns messages the engine could not extract successfully in
// the window, surfaced so a silent pipeline failure never goes unseen.
func (p *StoreProvider) Errors(ctx context.Context, start, end time.Time) ([]ItemRow, error) {
	var rows []struct {
		MessageID string  `db:"message_id"`
		PackID    string  `db:"pack_id"`
		Error     *string `db:"error"`
	}
	err := sqlx.SelectContext(ctx, p.db, &rows, `
		SELECT message_id, pack_id, error FROM processed_messages
		WHERE extraction_status = 'failed'
		  AND processed_at >= $1 AND processed_at < $2
		ORDER BY processed_at ASC
	`, start, end)
	if err != nil {
		return nil, err
	}
	out := make([]ItemRow, 0, len(rows))
	for _, r := range rows {
		reason := "unknown error"
		if r.Error != nil && *r.Error != "" {
			reason = *r.Error
		}
		out = append(out, ItemRow{
			MessageID: r.MessageID,
			Subject:   "[" + r.PackID + "] extraction failed",
			Snippet:   reason,
		})
	}
	return out, nil
}

func toRows(scans []itemRowScan) []ItemRow {
	out := make([]ItemRow, 0, len(scans))
	for _, s := range scans {
		out = append(out, s.toItemRow())
	}
	return out
}
