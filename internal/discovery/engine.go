// Package discovery runs the per-pack hot loop: list candidate
// messages, score and classify each one under bounded concurrency, and
// record a terminal ProcessedMessage/Item/AuditLog triple per message.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/aliedrevenue/concierge/internal/category"
	"github.com/aliedrevenue/concierge/internal/domain"
	"github.com/aliedrevenue/concierge/internal/itemtype"
	"github.com/aliedrevenue/concierge/internal/logger"
	"github.com/aliedrevenue/concierge/internal/mailsource"
	"github.com/aliedrevenue/concierge/internal/person"
	"github.com/aliedrevenue/concierge/internal/relevance"
	"github.com/aliedrevenue/concierge/internal/store"
)

const (
	mailStepTimeout = 15 * time.Second
	snippetCap      = 500
	defaultWorkers  = 4
)

// Summary tallies one run's terminal outcomes by state, for the "counts
// by terminal state" event the engine emits when a pack finishes.
type Summary struct {
	PackID      string
	Considered  int
	Processed   int
	Skipped     int
	OutOfScope  int
	Errored     int
	Cancelled   bool
}

// Engine runs DiscoveryEngine's per-pack message pipeline.
type Engine struct {
	mail             mailsource.MailSource
	store            *store.Store
	categoryRegistry category.Registry
	itemClassifier   itemtype.Classifier
	assigner         *person.Assigner
	personEnabled    bool
	workers          int
	maxEmailsPerRun  int
	lookbackDays     int
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithWorkers overrides the default bounded worker-pool size (2-5 per spec.md §5).
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithMaxEmailsPerRun sets the hard per-run cap.
func WithMaxEmailsPerRun(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxEmailsPerRun = n
		}
	}
}

// WithLookbackDays sets the time-based window cap.
func WithLookbackDays(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.lookbackDays = n
		}
	}
}

// New builds an Engine. personEnabled mirrors PERSON_ASSIGNMENT_ENABLED:
// when false, PersonAssigner is short-circuited to Family/Shared so a
// regression in person matching never blocks the rest of the pipeline.
// assigner is built once by the caller from the run's family roster and
// source assignments (both global config, shared across every pack).
func New(mail mailsource.MailSource, st *store.Store, reg category.Registry, classifier itemtype.Classifier, assigner *person.Assigner, personEnabled bool, opts ...Option) *Engine {
	e := &Engine{
		mail:             mail,
		store:            st,
		categoryRegistry: reg,
		itemClassifier:   classifier,
		assigner:         assigner,
		personEnabled:    personEnabled,
		workers:          defaultWorkers,
		maxEmailsPerRun:  500,
		lookbackDays:     30,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// buildQuery forms the Gmail-style search string from a pack's sources,
// e.g. "after:2026/07/01 (from:a.com OR from:b.com)".
func buildQuery(pack domain.Pack, lookbackDays int) (string, bool) {
	var domains []string
	for _, src := range pack.Sources {
		domains = append(domains, src.FromDomains...)
	}
	if len(domains) == 0 {
		return "", false
	}

	var fromClauses []string
	for _, d := range domains {
		fromClauses = append(fromClauses, "from:"+d)
	}
	after := time.Now().AddDate(0, 0, -lookbackDays).Format("2006/01/02")
	return fmt.Sprintf("after:%s (%s)", after, strings.Join(fromClauses, " OR ")), true
}

// Run executes one pack's discovery pass. Per-message transient
// mail-source failures (timeout, rate-limit, 5xx) never surface here —
// each becomes an audit log entry only, with no ProcessedMessage row,
// so the message stays eligible for the next run (see processOne).
// Messages below the relevance or category gate become SKIPPED
// ProcessedMessage rows. A permanent mail-source failure (expired auth, a 4xx
// that isn't a timeout) aborts the rest of the pack's run and Run
// returns an error so the caller can record the pack as failed for
// this run.
func (e *Engine) Run(ctx context.Context, pack domain.Pack) (Summary, error) {
	summary := Summary{PackID: pack.PackID}

	query, ok := buildQuery(pack, e.lookbackDays)
	if !ok {
		e.auditSkipPack(ctx, pack.PackID, "no_sources")
		return summary, nil
	}

	ids, err := e.mail.ListMessageIds(ctx, query, e.maxEmailsPerRun)
	if err != nil {
		return summary, fmt.Errorf("discovery: list messages for pack %s: %w", pack.PackID, err)
	}
	summary.Considered = len(ids)

	runCtx, abort := context.WithCancel(ctx)
	defer abort()

	sem := make(chan struct{}, e.workers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var permanentErr error

	for _, id := range ids {
		if runCtx.Err() != nil {
			summary.Cancelled = true
			break
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(messageID string) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome, err := e.processOne(runCtx, pack, messageID)

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case outcomeProcessed:
				summary.Processed++
			case outcomeOutOfScope:
				summary.OutOfScope++
			case outcomeSkipped:
				summary.Skipped++
			case outcomeErrored:
				summary.Errored++
			case outcomePermanentAbort:
				if permanentErr == nil {
					permanentErr = err
				}
				abort()
			}
		}(id)
	}

	wg.Wait()

	logger.Info("discovery", "pack_complete").
		Str("pack_id", pack.PackID).
		Int("considered", summary.Considered).
		Int("processed", summary.Processed).
		Int("skipped", summary.Skipped).
		Int("out_of_scope", summary.OutOfScope).
		Int("errored", summary.Errored).
		Bool("cancelled", summary.Cancelled).
		Msg("pack discovery run finished")

	if permanentErr != nil {
		return summary, fmt.Errorf("discovery: permanent mail-source error, aborting pack %s: %w", pack.PackID, permanentErr)
	}

	return summary, nil
}

type outcome int

const (
	outcomeProcessed outcome = iota
	outcomeOutOfScope
	outcomeSkipped
	outcomeErrored
	outcomePermanentAbort
)

// processOne runs the single-message state machine described in
// spec.md §4.7: idempotency guard, timeout-wrapped fetches, relevance
// gate, person/category classification, item-type classification, and
// a single all-or-nothing transactional write. A non-nil error return
// only ever accompanies outcomePermanentAbort — every other outcome
// carries its own terminal record and reports nil.
func (e *Engine) processOne(ctx context.Context, pack domain.Pack, messageID string) (outcome, error) {
	if ctx.Err() != nil {
		return outcomeSkipped, nil
	}

	existing, err := e.store.GetProcessedMessage(ctx, e.store.DB(), messageID)
	if err != nil {
		logger.Error("discovery", "check_processed", err).Str("message_id", messageID).Msg("failed to check idempotency guard")
		return outcomeErrored, nil
	}
	if existing != nil {
		return outcomeSkipped, nil
	}

	logStep := func(step string) func() {
		start := time.Now()
		logger.Debug("discovery", step).Str("message_id", messageID).Msg("before " + step)
		return func() {
			logger.Debug("discovery", step).Str("message_id", messageID).Float("ms", float64(time.Since(start).Microseconds())/1000).Msg("after " + step)
		}
	}

	msg, err := e.getMessageWithTimeout(ctx, messageID, logStep)
	if err != nil {
		if mailSourceKind(err) == mailsource.KindPermanent {
			return outcomePermanentAbort, err
		}
		// Transient (timeout, rate-limit, 5xx): no ProcessedMessage row,
		// so the message is still eligible for the next scheduled run.
		e.recordTransientSkip(ctx, messageID, "timeout:getMessage")
		return outcomeSkipped, nil
	}

	if _, err := e.getAttachmentsWithTimeout(ctx, msg, logStep); err != nil {
		if mailSourceKind(err) == mailsource.KindPermanent {
			return outcomePermanentAbort, err
		}
		e.recordTransientSkip(ctx, messageID, "timeout:getAttachments")
		return outcomeSkipped, nil
	}

	doneScore := logStep("score")
	score := relevance.Score(domainOf(msg.FromEmail), msg.Subject, msg.BodyText, packFromDomains(pack), pack.Keywords, pack.ExcludeKeywords)
	doneScore()
	if !relevance.IsCandidate(score) {
		e.recordSkip(ctx, pack.PackID, messageID, "below_relevance_threshold")
		return outcomeOutOfScope, nil
	}

	snippet := msg.Snippet
	if len(snippet) > snippetCap {
		snippet = snippet[:snippetCap]
	}

	donePerson := logStep("assignPerson")
	assignment := e.assignPerson(msg.Subject, snippet, domainOf(msg.FromEmail))
	donePerson()

	doneCategory := logStep("categorize")
	categoryResult := category.Classify(msg.Subject+"\n"+snippet, msg.FromEmail, e.categoryRegistry, pack.CategoryPrefs)
	doneCategory()

	if !categoryResult.ShouldSave {
		e.recordSkipWithReasons(ctx, pack.PackID, messageID, "below_category_threshold", nil)
		return outcomeOutOfScope, nil
	}

	doneClassify := logStep("classifyItem")
	stageA := itemtype.ClassifyStageA(strings.ToLower(msg.Subject), categoryResult.PrimaryCategory)
	itemType, obligationDate, confidence, reasoning := stageA.ItemType, stageA.ObligationDate, (*float64)(nil), (*string)(nil)
	if itemtype.NeedsStageB(stageA) && e.itemClassifier != nil {
		llmOut, err := e.classifyStageBWithTimeout(ctx, itemtype.LLMInput{
			Subject: msg.Subject,
			From:    msg.FromEmail,
			Snippet: snippet,
			PackName: pack.PackID,
		})
		if err != nil {
			it, od, c, r := itemtype.Unparseable(stageA)
			itemType, obligationDate, confidence, reasoning = it, od, &c, &r
		} else {
			it, od, c, r := itemtype.ApplyStageB(stageA, llmOut)
			itemType, obligationDate, confidence, reasoning = it, od, &c, &r
		}
	}
	doneClassify()

	item := &domain.Item{
		ID:                       uuid.New(),
		MessageID:                messageID,
		PackID:                   pack.PackID,
		Subject:                  msg.Subject,
		FromName:                 msg.FromName,
		FromEmail:                msg.FromEmail,
		Snippet:                  snippet,
		EmailBodyText:            msg.BodyText,
		EmailBodyHTML:            msg.BodyHTML,
		RelevanceScore:           score,
		PrimaryCategory:          categoryResult.PrimaryCategory,
		SecondaryCategories:      domain.StringList(toStrings(categoryResult.SecondaryCategories)),
		CategoryScores:           categoryResult.Scores,
		SaveReasons:              domain.StringList(categoryResult.SaveReasons),
		Person:                   assignment.Person,
		AssignmentReason:         assignment.Reason,
		ItemType:                 itemType,
		ObligationDate:           obligationDate,
		ClassificationConfidence: confidence,
		ClassificationReasoning:  reasoning,
		CreatedAt:                time.Now(),
	}

	doneInsert := logStep("insertItem")
	err = e.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		pm := &domain.ProcessedMessage{
			ID:               uuid.New(),
			MessageID:        messageID,
			ProcessedAt:      time.Now(),
			PackID:           pack.PackID,
			ExtractionStatus: domain.ExtractionStatusSuccess,
		}
		if err := store.InsertProcessedMessage(ctx, tx, pm); err != nil {
			return err
		}
		if err := store.InsertItem(ctx, tx, item); err != nil {
			return err
		}
		return store.InsertAuditLog(ctx, tx, &domain.AuditLog{
			ID:        uuid.New(),
			Timestamp: time.Now(),
			Level:     "info",
			Module:    "discovery",
			Action:    "item_created",
			MessageID: &messageID,
		})
	})
	doneInsert()
	if err != nil {
		logger.Error("discovery", "insert_item", err).Str("message_id", messageID).Msg("transactional write failed")
		return outcomeErrored, nil
	}

	return outcomeProcessed, nil
}

// mailSourceKind extracts the Kind a MailSource tagged a failure with.
// Errors that aren't a *mailsource.MailSourceError (e.g. a bare context
// deadline from the step's own timeout wrapper) are treated as
// transient, matching the existing timeout-retry behavior.
func mailSourceKind(err error) mailsource.Kind {
	var mse *mailsource.MailSourceError
	if errors.As(err, &mse) {
		return mse.Kind
	}
	return mailsource.KindTransient
}

func (e *Engine) getMessageWithTimeout(ctx context.Context, id string, logStep func(string) func()) (*mailsource.MailMessage, error) {
	done := logStep("getMessage")
	defer done()
	tctx, cancel := context.WithTimeout(ctx, mailStepTimeout)
	defer cancel()
	return e.mail.GetMessage(tctx, id)
}

func (e *Engine) getAttachmentsWithTimeout(ctx context.Context, msg *mailsource.MailMessage, logStep func(string) func()) ([]mailsource.Attachment, error) {
	done := logStep("getAttachments")
	defer done()
	tctx, cancel := context.WithTimeout(ctx, mailStepTimeout)
	defer cancel()
	return e.mail.GetAttachments(tctx, msg)
}

func (e *Engine) classifyStageBWithTimeout(ctx context.Context, in itemtype.LLMInput) (itemtype.LLMOutput, error) {
	tctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return e.itemClassifier.Classify(tctx, in)
}

// assignPerson applies the PERSON_ASSIGNMENT_ENABLED short-circuit.
func (e *Engine) assignPerson(subject, snippet, fromDomain string) person.Assignment {
	if !e.personEnabled {
		return person.Assignment{Person: person.SharedDefault, Reason: domain.AssignmentReasonSharedDefault}
	}
	return e.assigner.Assign(subject, snippet, fromDomain)
}

func (e *Engine) recordSkip(ctx context.Context, packID, messageID, reason string) {
	e.recordSkipWithReasons(ctx, packID, messageID, reason, nil)
}

func (e *Engine) recordSkipWithReasons(ctx context.Context, packID, messageID, reason string, saveReasons []string) {
	err := e.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		pm := &domain.ProcessedMessage{
			ID:               uuid.New(),
			MessageID:        messageID,
			ProcessedAt:      time.Now(),
			PackID:           packID,
			ExtractionStatus: domain.ExtractionStatusSkipped,
		}
		if err := store.InsertProcessedMessage(ctx, tx, pm); err != nil {
			return err
		}
		return store.InsertAuditLog(ctx, tx, &domain.AuditLog{
			ID:        uuid.New(),
			Timestamp: time.Now(),
			Level:     "info",
			Module:    "discovery",
			Action:    "skipped:" + reason,
			MessageID: &messageID,
		})
	})
	if err != nil {
		logger.Error("discovery", "record_skip", err).Str("message_id", messageID).Msg("failed to record skip")
	}
}

// recordTransientSkip audits a transient mail-source failure without
// writing a ProcessedMessage row. Writing that row would make
// GetProcessedMessage's idempotency guard treat the message as already
// handled, permanently blocking it from a retry on a later run — the
// one thing a transient failure must not do (spec.md §7).
func (e *Engine) recordTransientSkip(ctx context.Context, messageID, reason string) {
	err := store.InsertAuditLog(ctx, e.store.DB(), &domain.AuditLog{
		ID:        uuid.New(),
		Timestamp: time.Now(),
		Level:     "warn",
		Module:    "discovery",
		Action:    "transient_skip:" + reason,
		MessageID: &messageID,
	})
	if err != nil {
		logger.Error("discovery", "record_transient_skip", err).Str("message_id", messageID).Msg("failed to record transient skip")
	}
}

func (e *Engine) auditSkipPack(ctx context.Context, packID, reason string) {
	err := store.InsertAuditLog(ctx, e.store.DB(), &domain.AuditLog{
		ID:        uuid.New(),
		Timestamp: time.Now(),
		Level:     "warn",
		Module:    "discovery",
		Action:    "pack_skipped:" + reason,
	})
	if err != nil {
		logger.Error("discovery", "audit_skip_pack", err).Str("pack_id", packID).Msg("failed to write pack-skip audit")
	}
}

func domainOf(email string) string {
	parts := strings.SplitN(email, "@", 2)
	if len(parts) != 2 {
		return ""
	}
	return parts[1]
}

func packFromDomains(pack domain.Pack) []string {
	var out []string
	for _, src := range pack.Sources {
		out = append(out, src.FromDomains...)
	}
	return out
}

func toStrings(cats []domain.Category) []string {
	out := make([]string, len(cats))
	for i, c := range cats {
		out[i] = string(c)
	}
	return out
}
