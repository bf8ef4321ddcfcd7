package store

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/aliedrevenue/concierge/internal/domain"
)

// InsertEvent writes a new Event. Event.fingerprint is unique
// (invariant 2); a duplicate insert is rejected, not silently merged —
// callers that want idempotent behavior should check
// GetEventByFingerprint first.
func InsertEvent(ctx context.Context, ext execer, e *domain.Event) error {
	if e.Fingerprint == "" {
		return &DataIntegrityError{Invariant: "event-fingerprint-required", Detail: "empty fingerprint"}
	}
	_, err := sqlx.NamedExecContext(ctx, ext, `
		INSERT INTO events
			(id, fingerprint, source_message_id, pack_id, calendar_event_id,
			 event_intent, confidence, status, created_at, updated_at,
			 last_synced_at, manually_edited, provenance)
		VALUES
			(:id, :fingerprint, :source_message_id, :pack_id, :calendar_event_id,
			 :event_intent, :confidence, :status, :created_at, :updated_at,
			 :last_synced_at, :manually_edited, :provenance)
	`, e)
	return err
}

// UpdateEvent applies a partial patch to an existing Event, identified
// by its unique fingerprint.
func UpdateEvent(ctx context.Context, ext execer, fingerprint string, patch *domain.Event) error {
	patch.Fingerprint = fingerprint
	_, err := sqlx.NamedExecContext(ctx, ext, `
		UPDATE events SET
			calendar_event_id = :calendar_event_id,
			event_intent = :event_intent,
			confidence = :confidence,
			status = :status,
			updated_at = :updated_at,
			last_synced_at = :last_synced_at,
			manually_edited = :manually_edited,
			provenance = :provenance
		WHERE fingerprint = :fingerprint
	`, patch)
	return err
}

// GetEventByFingerprint looks up an Event by its unique fingerprint.
func GetEventByFingerprint(ctx context.Context, ext execer, fingerprint string) (*domain.Event, error) {
	var e domain.Event
	err := sqlx.GetContext(ctx, ext, &e, `SELECT * FROM events WHERE fingerprint = $1`, fingerprint)
	if errors.Is(err, errNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// FindDuplicateEvents searches for events with the same fingerprint
// whose createdAt falls within ±windowDays of referenceDate.
func FindDuplicateEvents(ctx context.Context, ext execer, fingerprint string, referenceDate time.Time, windowDays int) ([]domain.Event, error) {
	var events []domain.Event
	err := sqlx.SelectContext(ctx, ext, &events, `
		SELECT * FROM events
		WHERE fingerprint = $1
		  AND created_at BETWEEN $2::timestamptz - ($3 || ' days')::interval
		                      AND $2::timestamptz + ($3 || ' days')::interval
		ORDER BY created_at ASC
	`, fingerprint, referenceDate, windowDays)
	return events, err
}
