package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/aliedrevenue/concierge/internal/category"
	"github.com/aliedrevenue/concierge/internal/domain"
	"github.com/aliedrevenue/concierge/internal/mailsource"
	"github.com/aliedrevenue/concierge/internal/person"
	"github.com/aliedrevenue/concierge/internal/store"
)

// fakeMailSource is a minimal mailsource.MailSource test double; only
// the methods the engine actually calls during these tests do anything.
type fakeMailSource struct {
	ids         []string
	messages    map[string]*mailsource.MailMessage
	messageErrs map[string]error
}

func (f *fakeMailSource) ListMessageIds(ctx context.Context, query string, limit int) ([]string, error) {
	return f.ids, nil
}
func (f *fakeMailSource) GetMessage(ctx context.Context, id string) (*mailsource.MailMessage, error) {
	if err, ok := f.messageErrs[id]; ok {
		return nil, err
	}
	return f.messages[id], nil
}
func (f *fakeMailSource) GetAttachments(ctx context.Context, msg *mailsource.MailMessage) ([]mailsource.Attachment, error) {
	return nil, nil
}
func (f *fakeMailSource) Forward(ctx context.Context, msgID string, recipients []string, options mailsource.ForwardOptions) error {
	return nil
}
func (f *fakeMailSource) SendEmail(ctx context.Context, multipartMIME []byte) error { return nil }
func (f *fakeMailSource) ApplyLabel(ctx context.Context, msgID, label string) error { return nil }

func newMockEngineStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return store.New(sqlx.NewDb(db, "postgres")), mock
}

func testPack() domain.Pack {
	return domain.Pack{
		PackID:   "kids-school",
		Priority: 1,
		Sources:  []domain.PackSource{{FromDomains: []string{"school.edu"}}},
		Keywords: []string{"field trip"},
	}
}

func TestBuildQuery_NoSourcesIsNotOk(t *testing.T) {
	_, ok := buildQuery(domain.Pack{PackID: "empty"}, 14)
	if ok {
		t.Error("expected buildQuery to report ok=false for a pack with no sources")
	}
}

func TestBuildQuery_JoinsFromClausesWithOr(t *testing.T) {
	q, ok := buildQuery(testPack(), 14)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if !contains(q, "from:school.edu") {
		t.Errorf("query %q missing from: clause", q)
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

func TestDomainOf(t *testing.T) {
	cases := map[string]string{
		"office@school.edu": "school.edu",
		"no-at-sign":        "",
	}
	for in, want := range cases {
		if got := domainOf(in); got != want {
			t.Errorf("domainOf(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPackFromDomains_FlattensAllSources(t *testing.T) {
	pack := domain.Pack{Sources: []domain.PackSource{
		{FromDomains: []string{"a.com", "b.com"}},
		{FromDomains: []string{"c.com"}},
	}}
	got := packFromDomains(pack)
	if len(got) != 3 {
		t.Errorf("len(got) = %d, want 3", len(got))
	}
}

func TestToStrings_ConvertsCategorySliceToStringSlice(t *testing.T) {
	got := toStrings([]domain.Category{domain.CategorySchool, domain.CategoryLogistics})
	want := []string{string(domain.CategorySchool), string(domain.CategoryLogistics)}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("toStrings() = %v, want %v", got, want)
	}
}

func TestRun_NoSourcesSkipsPackAndAuditsWithoutListingMessages(t *testing.T) {
	st, mock := newMockEngineStore(t)
	mock.ExpectExec("INSERT INTO audit_logs").WillReturnResult(sqlmock.NewResult(1, 1))

	mail := &fakeMailSource{}
	engine := New(mail, st, category.Registry{}, nil, person.New(nil, nil), true)

	summary, err := engine.Run(context.Background(), domain.Pack{PackID: "no-sources"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Considered != 0 {
		t.Errorf("Considered = %d, want 0 when the pack has no sources", summary.Considered)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRun_SkipsAlreadyProcessedMessage(t *testing.T) {
	st, mock := newMockEngineStore(t)

	mail := &fakeMailSource{ids: []string{"msg-1"}}
	engine := New(mail, st, category.Registry{}, nil, person.New(nil, nil), true)

	mock.ExpectQuery("SELECT .* FROM processed_messages").WillReturnRows(
		sqlmock.NewRows([]string{
			"id", "message_id", "processed_at", "pack_id", "extraction_status",
			"events_extracted", "fingerprints", "error",
		}).AddRow(
			uuid.New(), "msg-1", time.Now(), "kids-school", "success", 0, []byte("[]"), nil,
		))

	summary, err := engine.Run(context.Background(), testPack())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1 for an already-processed message", summary.Skipped)
	}
	if summary.Processed != 0 {
		t.Errorf("Processed = %d, want 0", summary.Processed)
	}
}

func TestRun_TransientMailErrorAuditsOnlyAndStaysRetryable(t *testing.T) {
	st, mock := newMockEngineStore(t)

	mail := &fakeMailSource{
		ids: []string{"msg-1"},
		messageErrs: map[string]error{
			"msg-1": &mailsource.MailSourceError{Kind: mailsource.KindTransient, Reason: mailsource.ReasonTimeout, Op: "GetMessage"},
		},
	}
	engine := New(mail, st, category.Registry{}, nil, person.New(nil, nil), true)

	mock.ExpectQuery("SELECT .* FROM processed_messages").WillReturnRows(
		sqlmock.NewRows([]string{
			"id", "message_id", "processed_at", "pack_id", "extraction_status",
			"events_extracted", "fingerprints", "error",
		}))
	mock.ExpectExec("INSERT INTO audit_logs").WillReturnResult(sqlmock.NewResult(1, 1))

	summary, err := engine.Run(context.Background(), testPack())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", summary.Skipped)
	}
	// No INSERT INTO processed_messages expectation was set up above: if
	// the engine tried to write one, sqlmock would fail the unexpected
	// call and this would surface as an error on Run or a failed
	// ExpectationsWereMet below.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRun_PermanentMailErrorAbortsPackAndReturnsError(t *testing.T) {
	st, mock := newMockEngineStore(t)

	mail := &fakeMailSource{
		ids: []string{"msg-1"},
		messageErrs: map[string]error{
			"msg-1": &mailsource.MailSourceError{Kind: mailsource.KindPermanent, Op: "GetMessage"},
		},
	}
	engine := New(mail, st, category.Registry{}, nil, person.New(nil, nil), true)

	mock.ExpectQuery("SELECT .* FROM processed_messages").WillReturnRows(
		sqlmock.NewRows([]string{
			"id", "message_id", "processed_at", "pack_id", "extraction_status",
			"events_extracted", "fingerprints", "error",
		}))

	_, err := engine.Run(context.Background(), testPack())
	if err == nil {
		t.Fatal("expected Run to return an error for a permanent mail-source failure")
	}
}
