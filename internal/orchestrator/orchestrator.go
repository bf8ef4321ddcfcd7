// Package orchestrator runs one end-to-end agent pass: load config,
// run DiscoveryEngine per enabled pack in priority order, optionally
// trigger the digest, and clean up stale approval tokens. Orchestrator
// is the only component permitted to consult the run's AgentMode.
package orchestrator

import (
	"context"
	"sort"
	"time"

	"github.com/aliedrevenue/concierge/internal/config"
	"github.com/aliedrevenue/concierge/internal/discovery"
	"github.com/aliedrevenue/concierge/internal/domain"
	"github.com/aliedrevenue/concierge/internal/logger"
	"github.com/aliedrevenue/concierge/internal/person"
	"github.com/aliedrevenue/concierge/internal/store"
)

// EngineFactory builds a discovery.Engine for one pack; the caller
// supplies this so Orchestrator doesn't need to know about MailSource
// or classifier wiring directly.
type EngineFactory func(pack domain.Pack, assigner *person.Assigner) *discovery.Engine

// DigestTrigger is invoked when the run's schedule calls for a digest;
// nil means "no digest this run."
type DigestTrigger func(ctx context.Context, mode config.AgentMode) error

// Orchestrator runs one pass across every enabled pack.
type Orchestrator struct {
	cfg           *config.Config
	store         *store.Store
	engineFactory EngineFactory
	digestTrigger DigestTrigger
}

// New builds an Orchestrator for one run.
func New(cfg *config.Config, st *store.Store, engineFactory EngineFactory, digestTrigger DigestTrigger) *Orchestrator {
	return &Orchestrator{
		cfg:           cfg,
		store:         st,
		engineFactory: engineFactory,
		digestTrigger: digestTrigger,
	}
}

// RunResult summarizes one Orchestrator.Run invocation.
type RunResult struct {
	PackSummaries   []discovery.Summary
	FailedPacks     []string
	TokensCleaned   int
	DigestTriggered bool
	Mode            config.AgentMode
}

// Run executes steps 1-4 of spec.md §4.8: load the (already-provided)
// config + family roster, iterate enabled packs in priority order,
// optionally trigger the digest, and clean up aged approval tokens.
func (o *Orchestrator) Run(ctx context.Context, triggerDigest bool) (RunResult, error) {
	mode := o.cfg.AgentMode
	result := RunResult{Mode: mode}

	assigner := person.New(o.cfg.Family, o.cfg.SourceAssignments)

	packs := make([]domain.Pack, len(o.cfg.Packs))
	copy(packs, o.cfg.Packs)
	sort.SliceStable(packs, func(i, j int) bool { return packs[i].Priority < packs[j].Priority })

	for _, pack := range packs {
		if ctx.Err() != nil {
			logger.Warn("orchestrator", "cancelled").Str("pack_id", pack.PackID).Msg("run cancelled before pack started")
			break
		}

		engine := o.engineFactory(pack, assigner)
		summary, err := engine.Run(ctx, pack)
		if err != nil {
			// A permanent mail-source failure (or ListMessageIds itself
			// failing) aborts this pack for the run; record it as
			// failed rather than silently moving on to the next pack.
			logger.Error("orchestrator", "pack_run", err).Str("pack_id", pack.PackID).Msg("pack discovery run failed")
			result.FailedPacks = append(result.FailedPacks, pack.PackID)
		} else if mode == config.AgentModeAutopilot {
			o.promoteEligibleItems(ctx, pack.PackID)
		}
		result.PackSummaries = append(result.PackSummaries, summary)
	}

	if triggerDigest && o.digestTrigger != nil {
		if err := o.digestTrigger(ctx, mode); err != nil {
			logger.Error("orchestrator", "digest_trigger", err).Msg("digest trigger failed")
		} else {
			result.DigestTriggered = true
		}
	}

	cleaned, err := store.CleanupExpiredTokens(ctx, o.store.DB())
	if err != nil {
		logger.Error("orchestrator", "token_cleanup", err).Msg("approval token cleanup failed")
	}
	result.TokensCleaned = cleaned

	logger.Info("orchestrator", "run_complete").
		Str("mode", string(mode)).
		Int("packs_run", len(result.PackSummaries)).
		Int("tokens_cleaned", cleaned).
		Bool("digest_triggered", result.DigestTriggered).
		Msg("orchestrator run finished")

	return result, nil
}

// promoteEligibleItems implements autopilot's promotion contract
// (spec.md §4.8): items whose classification confidence clears
// AutoCreate are approved without a human in the loop. It runs once
// per pack right after that pack's discovery pass completes cleanly.
func (o *Orchestrator) promoteEligibleItems(ctx context.Context, packID string) {
	items, err := store.ListPendingItems(ctx, o.store.DB(), packID)
	if err != nil {
		logger.Error("orchestrator", "list_pending_items", err).Str("pack_id", packID).Msg("failed to list pending items for autopilot promotion")
		return
	}

	now := time.Now()
	for i := range items {
		item := &items[i]
		if !o.PromotionThresholdMet(item.ClassificationConfidence) {
			continue
		}
		item.Approved = true
		item.ApprovedAt = &now
		if err := store.UpdateItem(ctx, o.store.DB(), item); err != nil {
			logger.Error("orchestrator", "promote_item", err).Str("pack_id", packID).Str("item_id", item.ID.String()).Msg("failed to persist autopilot promotion")
		}
	}
}

// PromotionThresholdMet reports whether an item's classification
// confidence clears the autopilot auto-create bar (mode contract,
// spec.md §4.8): only meaningful when mode == autopilot.
func (o *Orchestrator) PromotionThresholdMet(confidence *float64) bool {
	if o.cfg.AgentMode != config.AgentModeAutopilot {
		return false
	}
	if confidence == nil {
		return false
	}
	return *confidence >= o.cfg.Confidence.AutoCreate
}

// DryRun reports whether the run's mode short-circuits external
// writes while still recording internal state.
func (o *Orchestrator) DryRun() bool {
	return o.cfg.AgentMode == config.AgentModeDryRun
}
