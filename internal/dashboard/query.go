// Package dashboard reconstitutes read-only dashboard sections
// (obligations, tasks, announcements, updates, catch-up) from the
// Store, with the multi-person filter and dismissal exclusion every
// section shares.
package dashboard

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Bucket is the obligations time-window grouping.
type Bucket string

const (
	BucketThisWeek  Bucket = "this_week"
	BucketNextWeek  Bucket = "next_week"
	BucketThisMonth Bucket = "this_month"
	BucketLater     Bucket = "later"
)

// ObligationRow is one Obligations-section entry.
type ObligationRow struct {
	ID             string     `db:"id"`
	Subject        string     `db:"subject"`
	Person         string     `db:"person"`
	PrimaryCategory string    `db:"primary_category"`
	ObligationDate *time.Time `db:"obligation_date"`
	Bucket         Bucket     `db:"-"`
}

// Filter scopes a dashboard query to an optional pack and person.
type Filter struct {
	PackID string
	Person string
}

// Query runs the five dashboard projections against a shared
// connection (pool or, in tests, a sqlmock-backed *sqlx.DB).
type Query struct {
	db sqlx.QueryerContext
}

// New builds a Query over any sqlx-compatible querier.
func New(db sqlx.QueryerContext) *Query { return &Query{db: db} }

// whereBuilder accretes parameterized WHERE clauses the same way the
// lineage's segmentation QueryBuilder does: one clause + positional
// arg per condition, numbered as they're added.
type whereBuilder struct {
	clauses []string
	args    []interface{}
}

func (w *whereBuilder) add(clauseFmt string, arg interface{}) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, fmt.Sprintf(clauseFmt, len(w.args)))
}

func (w *whereBuilder) addRaw(clause string) {
	w.clauses = append(w.clauses, clause)
}

func (w *whereBuilder) sql() string {
	sql := "1=1"
	for _, c := range w.clauses {
		sql += " AND " + c
	}
	return sql
}

// applyFilter adds the optional pack/person scoping every section shares.
func (w *whereBuilder) applyFilter(f Filter) {
	if f.PackID != "" {
		w.add("pack_id = $%d", f.PackID)
	}
	if f.Person != "" {
		start := len(w.args) + 1
		exact := fmt.Sprintf("$%d", start)
		prefix := fmt.Sprintf("$%d", start+1)
		suffix := fmt.Sprintf("$%d", start+2)
		middle := fmt.Sprintf("$%d", start+3)
		w.args = append(w.args, f.Person, f.Person+", %", "%, "+f.Person, "%, "+f.Person+", %")
		w.addRaw(fmt.Sprintf("(person = %s OR person LIKE %s OR person LIKE %s OR person LIKE %s)", exact, prefix, suffix, middle))
	}
}

// notDismissed excludes any item with a DismissedItem row, via the
// NOT EXISTS anti-join the lineage's suppression filter uses.
const notDismissed = `
	NOT EXISTS (SELECT 1 FROM dismissed_items d WHERE d.item_id = items.id)
`

// Obligations returns items where itemType = 'obligation' and
// obligationDate >= today, or items with an associated Event whose
// startDateTime is at or after now, excluding dismissals, bucketed and
// sorted bucket-then-date. Date-less obligations belong to Tasks, not
// here — IS NULL is deliberately absent from the obligation_date leg.
func (q *Query) Obligations(ctx context.Context, f Filter, now time.Time) ([]ObligationRow, error) {
	w := &whereBuilder{}
	w.addRaw(notDismissed)

	today := len(w.args) + 1
	w.args = append(w.args, now.Truncate(24*time.Hour))
	eventNow := len(w.args) + 1
	w.args = append(w.args, now)
	w.addRaw(fmt.Sprintf(`(
		(item_type = 'obligation' AND obligation_date >= $%d)
		OR EXISTS (
			SELECT 1 FROM events e
			WHERE e.source_message_id = items.message_id
			  AND e.pack_id = items.pack_id
			  AND (e.event_intent->>'startDateTime')::timestamptz >= $%d
		)
	)`, today, eventNow))
	w.applyFilter(f)

	query := fmt.Sprintf(`
		SELECT id, subject, person, primary_category, obligation_date
		FROM items
		WHERE %s
		ORDER BY obligation_date ASC NULLS LAST, created_at ASC
	`, w.sql())

	var rows []ObligationRow
	if err := sqlx.SelectContext(ctx, q.db, &rows, query, w.args...); err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].Bucket = bucketFor(rows[i].ObligationDate, now)
	}
	return rows, nil
}

func bucketFor(d *time.Time, now time.Time) Bucket {
	if d == nil {
		return BucketLater
	}
	days := int(d.Sub(now).Hours() / 24)
	switch {
	case days <= 7:
		return BucketThisWeek
	case days <= 14:
		return BucketNextWeek
	case days <= 30:
		return BucketThisMonth
	default:
		return BucketLater
	}
}

// TaskRow is one Tasks-section entry: an obligation with no date yet.
type TaskRow struct {
	ID      string    `db:"id"`
	Subject string    `db:"subject"`
	Person  string    `db:"person"`
	CreatedAt time.Time `db:"created_at"`
}

// Tasks returns obligations without a date, received in the last 30
// days, not dismissed, newest first.
func (q *Query) Tasks(ctx context.Context, f Filter, now time.Time) ([]TaskRow, error) {
	w := &whereBuilder{}
	w.addRaw("item_type = 'obligation'")
	w.addRaw("obligation_date IS NULL")
	w.addRaw(notDismissed)
	w.add("created_at >= $%d", now.AddDate(0, 0, -30))
	w.applyFilter(f)

	query := fmt.Sprintf(`
		SELECT id, subject, person, created_at FROM items
		WHERE %s
		ORDER BY created_at DESC
	`, w.sql())

	var rows []TaskRow
	err := sqlx.SelectContext(ctx, q.db, &rows, query, w.args...)
	return rows, err
}

// AnnouncementRow is one Announcements-section entry.
type AnnouncementRow struct {
	ID        string    `db:"id"`
	Subject   string    `db:"subject"`
	Person    string    `db:"person"`
	CreatedAt time.Time `db:"created_at"`
	Bucket    string    `db:"-"`
}

// Announcements returns non-obligation items from the last 7 days,
// not dismissed, grouped this_week (≤2 days) vs last_week.
func (q *Query) Announcements(ctx context.Context, f Filter, now time.Time) ([]AnnouncementRow, error) {
	w := &whereBuilder{}
	w.addRaw("(item_type != 'obligation')")
	w.addRaw(notDismissed)
	w.add("created_at >= $%d", now.AddDate(0, 0, -7))
	w.applyFilter(f)

	query := fmt.Sprintf(`
		SELECT id, subject, person, created_at FROM items
		WHERE %s
		ORDER BY created_at DESC
	`, w.sql())

	var rows []AnnouncementRow
	if err := sqlx.SelectContext(ctx, q.db, &rows, query, w.args...); err != nil {
		return nil, err
	}
	for i := range rows {
		if now.Sub(rows[i].CreatedAt) <= 2*24*time.Hour {
			rows[i].Bucket = "this_week"
		} else {
			rows[i].Bucket = "last_week"
		}
	}
	return rows, nil
}

// UpdateRow is one Updates-section entry — the merged announcement +
// past-obligation view.
type UpdateRow struct {
	ID            string    `db:"id"`
	Subject       string    `db:"subject"`
	Person        string    `db:"person"`
	EffectiveDate time.Time `db:"effective_date"`
	UpdateType    string    `db:"-"`
}

// Updates merges announcements from the last 14 days with past
// obligations (obligationDate already passed) from the last 14 days,
// sorted by effective date desc.
func (q *Query) Updates(ctx context.Context, f Filter, now time.Time) ([]UpdateRow, error) {
	since := now.AddDate(0, 0, -14)

	annW := &whereBuilder{}
	annW.addRaw("item_type != 'obligation'")
	annW.addRaw(notDismissed)
	annW.add("created_at >= $%d", since)
	annW.applyFilter(f)

	pastW := &whereBuilder{}
	pastW.addRaw("item_type = 'obligation'")
	pastW.addRaw(notDismissed)
	pastW.add("obligation_date < $%d", now)
	pastW.add("obligation_date >= $%d", since)
	pastW.applyFilter(f)

	var annRows []UpdateRow
	annQuery := fmt.Sprintf(`SELECT id, subject, person, created_at AS effective_date FROM items WHERE %s`, annW.sql())
	if err := sqlx.SelectContext(ctx, q.db, &annRows, annQuery, annW.args...); err != nil {
		return nil, err
	}
	for i := range annRows {
		annRows[i].UpdateType = "announcement"
	}

	var pastRows []UpdateRow
	pastQuery := fmt.Sprintf(`SELECT id, subject, person, obligation_date AS effective_date FROM items WHERE %s`, pastW.sql())
	if err := sqlx.SelectContext(ctx, q.db, &pastRows, pastQuery, pastW.args...); err != nil {
		return nil, err
	}
	for i := range pastRows {
		pastRows[i].UpdateType = "past_event"
	}

	merged := append(annRows, pastRows...)
	for i := 0; i < len(merged); i++ {
		for j := i + 1; j < len(merged); j++ {
			if merged[j].EffectiveDate.After(merged[i].EffectiveDate) {
				merged[i], merged[j] = merged[j], merged[i]
			}
		}
	}
	return merged, nil
}

// CatchUpRow is one Catch-up-section entry.
type CatchUpRow struct {
	ID            string    `db:"id"`
	Subject       string    `db:"subject"`
	Person        string    `db:"person"`
	EffectiveDate time.Time `db:"effective_date"`
}

// CatchUp returns items aged out of the live views: past obligations
// within the last daysBack (default 7), and announcements aged 7-14 days.
func (q *Query) CatchUp(ctx context.Context, f Filter, now time.Time, daysBack int) ([]CatchUpRow, error) {
	if daysBack <= 0 {
		daysBack = 7
	}

	pastW := &whereBuilder{}
	pastW.addRaw("item_type = 'obligation'")
	pastW.addRaw(notDismissed)
	pastW.add("obligation_date < $%d", now)
	pastW.add("obligation_date >= $%d", now.AddDate(0, 0, -daysBack))
	pastW.applyFilter(f)

	annW := &whereBuilder{}
	annW.addRaw("item_type != 'obligation'")
	annW.addRaw(notDismissed)
	annW.add("created_at < $%d", now.AddDate(0, 0, -7))
	annW.add("created_at >= $%d", now.AddDate(0, 0, -14))
	annW.applyFilter(f)

	var rows []CatchUpRow
	pastQuery := fmt.Sprintf(`SELECT id, subject, person, obligation_date AS effective_date FROM items WHERE %s`, pastW.sql())
	if err := sqlx.SelectContext(ctx, q.db, &rows, pastQuery, pastW.args...); err != nil {
		return nil, err
	}
	var annRows []CatchUpRow
	annQuery := fmt.Sprintf(`SELECT id, subject, person, created_at AS effective_date FROM items WHERE %s`, annW.sql())
	if err := sqlx.SelectContext(ctx, q.db, &annRows, annQuery, annW.args...); err != nil {
		return nil, err
	}
	return append(rows, annRows...), nil
}
