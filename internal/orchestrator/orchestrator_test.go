package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/aliedrevenue/concierge/internal/category"
	"github.com/aliedrevenue/concierge/internal/config"
	"github.com/aliedrevenue/concierge/internal/discovery"
	"github.com/aliedrevenue/concierge/internal/domain"
	"github.com/aliedrevenue/concierge/internal/mailsource"
	"github.com/aliedrevenue/concierge/internal/person"
	"github.com/aliedrevenue/concierge/internal/store"
)

type noopMailSource struct{}

func (noopMailSource) ListMessageIds(ctx context.Context, query string, limit int) ([]string, error) {
	return nil, nil
}
func (noopMailSource) GetMessage(ctx context.Context, id string) (*mailsource.MailMessage, error) {
	return nil, nil
}
func (noopMailSource) GetAttachments(ctx context.Context, msg *mailsource.MailMessage) ([]mailsource.Attachment, error) {
	return nil, nil
}
func (noopMailSource) Forward(ctx context.Context, msgID string, recipients []string, options mailsource.ForwardOptions) error {
	return nil
}
func (noopMailSource) SendEmail(ctx context.Context, multipartMIME []byte) error { return nil }
func (noopMailSource) ApplyLabel(ctx context.Context, msgID, label string) error { return nil }

func newMockOrchestratorStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return store.New(sqlx.NewDb(db, "postgres")), mock
}

func noopEngineFactory(pack domain.Pack, assigner *person.Assigner) *discovery.Engine {
	return discovery.New(noopMailSource{}, nil, category.Registry{}, nil, assigner, true)
}

func TestRun_VisitsPacksInPriorityOrder(t *testing.T) {
	st, mock := newMockOrchestratorStore(t)
	mock.ExpectExec("DELETE FROM approval_tokens").WillReturnResult(sqlmock.NewResult(0, 0))

	cfg := &config.Config{
		Packs: []domain.Pack{
			{PackID: "low-priority", Priority: 2},
			{PackID: "high-priority", Priority: 1},
		},
	}

	var order []string
	factory := func(pack domain.Pack, assigner *person.Assigner) *discovery.Engine {
		order = append(order, pack.PackID)
		return discovery.New(noopMailSource{}, st, category.Registry{}, nil, assigner, true)
	}

	o := New(cfg, st, factory, nil)
	result, err := o.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(order) != 2 || order[0] != "high-priority" || order[1] != "low-priority" {
		t.Errorf("visit order = %v, want [high-priority low-priority]", order)
	}
	if len(result.PackSummaries) != 2 {
		t.Errorf("len(PackSummaries) = %d, want 2", len(result.PackSummaries))
	}
}

func TestRun_SkipsRemainingPacksWhenContextCancelled(t *testing.T) {
	st, mock := newMockOrchestratorStore(t)
	mock.ExpectExec("DELETE FROM approval_tokens").WillReturnResult(sqlmock.NewResult(0, 0))

	cfg := &config.Config{
		Packs: []domain.Pack{{PackID: "a", Priority: 1}, {PackID: "b", Priority: 2}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var visited int
	factory := func(pack domain.Pack, assigner *person.Assigner) *discovery.Engine {
		visited++
		return discovery.New(noopMailSource{}, st, category.Registry{}, nil, assigner, true)
	}

	o := New(cfg, st, factory, nil)
	result, err := o.Run(ctx, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if visited != 0 {
		t.Errorf("visited = %d packs after cancellation, want 0", visited)
	}
	if len(result.PackSummaries) != 0 {
		t.Errorf("len(PackSummaries) = %d, want 0", len(result.PackSummaries))
	}
}

func TestRun_InvokesDigestTriggerWhenRequested(t *testing.T) {
	st, mock := newMockOrchestratorStore(t)
	mock.ExpectExec("DELETE FROM approval_tokens").WillReturnResult(sqlmock.NewResult(0, 0))

	cfg := &config.Config{}
	var triggered bool
	digestTrigger := func(ctx context.Context, mode config.AgentMode) error {
		triggered = true
		return nil
	}

	o := New(cfg, st, noopEngineFactory, digestTrigger)
	result, err := o.Run(context.Background(), true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !triggered {
		t.Error("expected the digest trigger to be invoked")
	}
	if !result.DigestTriggered {
		t.Error("expected RunResult.DigestTriggered = true")
	}
}

func TestRun_SkipsDigestTriggerWhenNotRequested(t *testing.T) {
	st, mock := newMockOrchestratorStore(t)
	mock.ExpectExec("DELETE FROM approval_tokens").WillReturnResult(sqlmock.NewResult(0, 0))

	cfg := &config.Config{}
	var triggered bool
	digestTrigger := func(ctx context.Context, mode config.AgentMode) error {
		triggered = true
		return nil
	}

	o := New(cfg, st, noopEngineFactory, digestTrigger)
	result, err := o.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if triggered {
		t.Error("digest trigger should not run when triggerDigest is false")
	}
	if result.DigestTriggered {
		t.Error("expected RunResult.DigestTriggered = false")
	}
}

func TestRun_ReportsTokensCleaned(t *testing.T) {
	st, mock := newMockOrchestratorStore(t)
	mock.ExpectExec("DELETE FROM approval_tokens").WillReturnResult(sqlmock.NewResult(0, 5))

	o := New(&config.Config{}, st, noopEngineFactory, nil)
	result, err := o.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.TokensCleaned != 5 {
		t.Errorf("TokensCleaned = %d, want 5", result.TokensCleaned)
	}
}

type failingMailSource struct{ noopMailSource }

func (failingMailSource) ListMessageIds(ctx context.Context, query string, limit int) ([]string, error) {
	return nil, context.DeadlineExceeded
}

func TestRun_RecordsFailedPackWhenEngineRunErrors(t *testing.T) {
	st, mock := newMockOrchestratorStore(t)
	mock.ExpectExec("DELETE FROM approval_tokens").WillReturnResult(sqlmock.NewResult(0, 0))

	cfg := &config.Config{Packs: []domain.Pack{
		{PackID: "broken", Priority: 1, Sources: []domain.PackSource{{FromDomains: []string{"a.com"}}}},
	}}
	factory := func(pack domain.Pack, assigner *person.Assigner) *discovery.Engine {
		return discovery.New(failingMailSource{}, st, category.Registry{}, nil, assigner, true)
	}

	o := New(cfg, st, factory, nil)
	result, err := o.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.FailedPacks) != 1 || result.FailedPacks[0] != "broken" {
		t.Errorf("FailedPacks = %v, want [broken]", result.FailedPacks)
	}
}

func TestRun_PromotesEligibleItemsInAutopilotMode(t *testing.T) {
	st, mock := newMockOrchestratorStore(t)

	itemID := uuid.New()
	confidence := 0.95
	mock.ExpectQuery("SELECT \\* FROM items").WillReturnRows(
		sqlmock.NewRows([]string{
			"id", "message_id", "pack_id", "subject", "from_name", "from_email", "snippet",
			"email_body_text", "email_body_html", "relevance_score", "primary_category",
			"secondary_categories", "category_scores", "save_reasons", "person",
			"assignment_reason", "item_type", "obligation_date",
			"classification_confidence", "classification_reasoning",
			"approved", "approved_at", "created_at",
		}).AddRow(
			itemID, "msg-1", "kids-school", "subj", "", "", "",
			"", "", 0.9, domain.CategorySchool,
			[]byte("[]"), []byte("{}"), []byte("[]"), "Shared",
			domain.AssignmentReasonSharedDefault, domain.ItemTypeObligation, nil,
			&confidence, nil,
			false, nil, time.Now(),
		))
	mock.ExpectExec("UPDATE items SET").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM approval_tokens").WillReturnResult(sqlmock.NewResult(0, 0))

	cfg := &config.Config{
		AgentMode:  config.AgentModeAutopilot,
		Confidence: config.ConfidenceConfig{AutoCreate: 0.9},
		Packs: []domain.Pack{
			{PackID: "kids-school", Priority: 1, Sources: []domain.PackSource{{FromDomains: []string{"school.edu"}}}},
		},
	}
	factory := func(pack domain.Pack, assigner *person.Assigner) *discovery.Engine {
		return discovery.New(noopMailSource{}, st, category.Registry{}, nil, assigner, true)
	}

	o := New(cfg, st, factory, nil)
	if _, err := o.Run(context.Background(), false); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPromotionThresholdMet_OnlyInAutopilotMode(t *testing.T) {
	confidence := 0.95
	cfg := &config.Config{AgentMode: config.AgentModeDryRun, Confidence: config.ConfidenceConfig{AutoCreate: 0.9}}
	o := &Orchestrator{cfg: cfg}
	if o.PromotionThresholdMet(&confidence) {
		t.Error("expected false outside autopilot mode")
	}

	cfg.AgentMode = config.AgentModeAutopilot
	if !o.PromotionThresholdMet(&confidence) {
		t.Error("expected true in autopilot mode with confidence above the bar")
	}
	if o.PromotionThresholdMet(nil) {
		t.Error("expected false when confidence is nil")
	}
}
