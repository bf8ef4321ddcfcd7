package store

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/aliedrevenue/concierge/internal/domain"
)

// InsertProcessedMessage records a terminal decision about an external
// message id. Natural-key idempotent: a repeat messageId is a no-op,
// matching invariant 1 (exactly one ProcessedMessage per message).
func InsertProcessedMessage(ctx context.Context, ext execer, m *domain.ProcessedMessage) error {
	_, err := sqlx.NamedExecContext(ctx, ext, `
		INSERT INTO processed_messages
			(id, message_id, processed_at, pack_id, extraction_status, events_extracted, fingerprints, error)
		VALUES
			(:id, :message_id, :processed_at, :pack_id, :extraction_status, :events_extracted, :fingerprints, :error)
		ON CONFLICT (message_id) DO NOTHING
	`, m)
	return err
}

// GetProcessedMessage looks up a ProcessedMessage by external message
// id. Returns (nil, nil) when absent — its presence is the primary
// duplicate guard DiscoveryEngine checks before doing any other work.
func GetProcessedMessage(ctx context.Context, ext execer, messageID string) (*domain.ProcessedMessage, error) {
	var m domain.ProcessedMessage
	err := sqlx.GetContext(ctx, ext, &m, `
		SELECT id, message_id, processed_at, pack_id, extraction_status, events_extracted, fingerprints, error
		FROM processed_messages WHERE message_id = $1
	`, messageID)
	if errors.Is(err, errNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// InsertItem writes a classified Item row. The caller must have
// already written the matching ProcessedMessage in the same
// transaction; a dangling FK is rejected by the database as a
// DataIntegrityError-worthy defect, not silently accepted.
func InsertItem(ctx context.Context, ext execer, item *domain.Item) error {
	_, err := sqlx.NamedExecContext(ctx, ext, `
		INSERT INTO items
			(id, message_id, pack_id, subject, from_name, from_email, snippet,
			 email_body_text, email_body_html, relevance_score, primary_category,
			 secondary_categories, category_scores, save_reasons, person,
			 assignment_reason, item_type, obligation_date,
			 classification_confidence, classification_reasoning,
			 approved, approved_at, created_at)
		VALUES
			(:id, :message_id, :pack_id, :subject, :from_name, :from_email, :snippet,
			 :email_body_text, :email_body_html, :relevance_score, :primary_category,
			 :secondary_categories, :category_scores, :save_reasons, :person,
			 :assignment_reason, :item_type, :obligation_date,
			 :classification_confidence, :classification_reasoning,
			 :approved, :approved_at, :created_at)
	`, item)
	if isForeignKeyViolation(err) {
		return &DataIntegrityError{Invariant: "item-has-processed-message", Detail: err.Error()}
	}
	return err
}

// UpdateItem persists mutable fields on an existing Item (approval
// state, classification results filled in after Stage B).
func UpdateItem(ctx context.Context, ext execer, item *domain.Item) error {
	_, err := sqlx.NamedExecContext(ctx, ext, `
		UPDATE items SET
			item_type = :item_type,
			obligation_date = :obligation_date,
			classification_confidence = :classification_confidence,
			classification_reasoning = :classification_reasoning,
			approved = :approved,
			approved_at = :approved_at
		WHERE id = :id
	`, item)
	return err
}

// GetItemByID fetches a single Item by primary key.
func GetItemByID(ctx context.Context, ext execer, id string) (*domain.Item, error) {
	var item domain.Item
	err := sqlx.GetContext(ctx, ext, &item, `SELECT * FROM items WHERE id = $1`, id)
	if errors.Is(err, errNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// ListPendingItems returns the unapproved items for a pack, oldest first.
func ListPendingItems(ctx context.Context, ext execer, packID string) ([]domain.Item, error) {
	var items []domain.Item
	err := sqlx.SelectContext(ctx, ext, &items, `
		SELECT * FROM items WHERE pack_id = $1 AND approved = false ORDER BY created_at ASC
	`, packID)
	return items, err
}

func isForeignKeyViolation(err error) bool {
	return errContainsSQLState(err, "23503")
}
