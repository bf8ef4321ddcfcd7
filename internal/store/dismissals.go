package store

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/aliedrevenue/concierge/internal/domain"
)

// DismissItem writes an immutable DismissedItem row. reason must be
// non-empty — an empty reason is an invariant breach, rejected here
// rather than left to the caller to notice.
func DismissItem(ctx context.Context, ext execer, d *domain.DismissedItem) error {
	if d.Reason == "" {
		return &DataIntegrityError{Invariant: "dismissal-reason-required", Detail: "empty reason"}
	}
	_, err := sqlx.NamedExecContext(ctx, ext, `
		INSERT INTO dismissed_items
			(id, item_id, item_type, reason, dismissed_at, dismissed_by,
			 original_subject, original_from, original_date, person, pack_id)
		VALUES
			(:id, :item_id, :item_type, :reason, :dismissed_at, :dismissed_by,
			 :original_subject, :original_from, :original_date, :person, :pack_id)
	`, d)
	return err
}

// IsItemDismissed reports whether any DismissedItem row exists for
// itemID. Re-dismissal is legal (a new row), so this is advisory, not
// a guard against the insert.
func IsItemDismissed(ctx context.Context, ext execer, itemID string) (bool, error) {
	var exists bool
	err := ext.QueryRowxContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM dismissed_items WHERE item_id = $1)
	`, itemID).Scan(&exists)
	return exists, err
}

// DateRange bounds a time-windowed query.
type DateRange struct {
	From time.Time
	To   time.Time
}

// ListDismissedItems returns dismissals in a date range, optionally
// filtered to one person via buildPersonFilter semantics.
func ListDismissedItems(ctx context.Context, ext execer, r DateRange, personFilter string) ([]domain.DismissedItem, error) {
	query := `
		SELECT * FROM dismissed_items
		WHERE dismissed_at BETWEEN $1 AND $2
	`
	args := []interface{}{r.From, r.To}

	if personFilter != "" {
		clause, filterArgs := buildPersonFilter(personFilter, len(args)+1)
		query += " AND (" + clause + ")"
		args = append(args, filterArgs...)
	}
	query += " ORDER BY dismissed_at DESC"

	var items []domain.DismissedItem
	err := sqlx.SelectContext(ctx, ext, &items, query, args...)
	return items, err
}

// InsertForwardedMessage records a forward the (out-of-core) forwarding
// sub-rule performed.
func InsertForwardedMessage(ctx context.Context, ext execer, f *domain.ForwardedMessage) error {
	_, err := sqlx.NamedExecContext(ctx, ext, `
		INSERT INTO forwarded_messages
			(id, source_message_id, forwarded_at, forwarded_to, pack_id, reason, conditions, success, error)
		VALUES
			(:id, :source_message_id, :forwarded_at, :forwarded_to, :pack_id, :reason, :conditions, :success, :error)
	`, f)
	return err
}
