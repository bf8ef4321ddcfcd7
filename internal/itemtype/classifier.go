// Package itemtype classifies a message as obligation, announcement,
// or unknown, and — when Stage B is enabled — resolves the obligation
// date via an LLM adapter, never rewriting a field Stage A already set.
package itemtype

import (
	"context"
	"time"

	"github.com/aliedrevenue/concierge/internal/domain"
)

var obligationKeywords = []string{
	"due", "deadline", "rsvp", "sign up", "signup", "required", "attend",
	"concert", "performance", "parade", "permission", "conference",
	"appointment", "meeting", "recital", "game", "match", "tournament",
}

var announcementKeywords = []string{
	"newsletter", "update", "this week", "learning about", "celebrating",
	"class update", "weekly", "announcement", "recap", "what we did",
}

// StageAResult is Stage A's deterministic verdict, before any LLM call.
type StageAResult struct {
	ItemType       domain.ItemType
	ObligationDate *time.Time
}

// ClassifyStageA matches the lowercased subject against the
// obligation/announcement keyword lists and the category's
// obligation-leaning bucket. No date extraction happens here.
func ClassifyStageA(subjectLower string, category domain.Category) StageAResult {
	obligation := containsAny(subjectLower, obligationKeywords) || category.IsObligationLeaning()
	announcement := containsAny(subjectLower, announcementKeywords)

	switch {
	case obligation && !announcement:
		return StageAResult{ItemType: domain.ItemTypeObligation}
	case announcement && !obligation:
		return StageAResult{ItemType: domain.ItemTypeAnnouncement}
	default:
		return StageAResult{ItemType: domain.ItemTypeUnknown}
	}
}

// NeedsStageB reports whether Stage A's result should be handed to the
// LLM classifier: unknown, or obligation without an extracted date.
func NeedsStageB(r StageAResult) bool {
	return r.ItemType == domain.ItemTypeUnknown ||
		(r.ItemType == domain.ItemTypeObligation && r.ObligationDate == nil)
}

func containsAny(text string, terms []string) bool {
	for _, t := range terms {
		if containsSubstring(text, t) {
			return true
		}
	}
	return false
}

func containsSubstring(text, sub string) bool {
	if len(sub) == 0 {
		return true
	}
	if len(sub) > len(text) {
		return false
	}
	for i := 0; i+len(sub) <= len(text); i++ {
		if text[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

// LLMInput is the structured prompt payload handed to Stage B.
type LLMInput struct {
	Subject       string
	From          string
	Snippet       string
	PackName      string
	MemberNames   []string
}

// LLMOutput is Stage B's strict-JSON contract. Any deviation the
// adapter can't parse is surfaced as Unparseable by the caller, not
// returned here.
type LLMOutput struct {
	ItemType       domain.ItemType
	ObligationDate *time.Time
	Confidence     float64
	Reasoning      string
}

// Classifier is the Stage B LLM adapter interface; BedrockClassifier
// is the concrete implementation.
type Classifier interface {
	Classify(ctx context.Context, in LLMInput) (LLMOutput, error)
}

// ApplyStageB merges a Stage B result into a StageAResult's already-set
// fields without overwriting them — the classifier only fills nulls.
// On adapter error or an unparseable result, the caller should instead
// call Unparseable.
func ApplyStageB(stageA StageAResult, out LLMOutput) (itemType domain.ItemType, obligationDate *time.Time, confidence float64, reasoning string) {
	itemType = stageA.ItemType
	if itemType == domain.ItemTypeUnknown {
		itemType = out.ItemType
	}
	obligationDate = stageA.ObligationDate
	if obligationDate == nil {
		obligationDate = out.ObligationDate
	}
	confidence = clamp01(out.Confidence)
	reasoning = out.Reasoning
	return
}

// Unparseable is the recoverable-degradation result for a Stage B call
// that errored, timed out, or returned unparseable JSON: Stage A's
// result stands, confidence is 0, reasoning records why.
func Unparseable(stageA StageAResult) (itemType domain.ItemType, obligationDate *time.Time, confidence float64, reasoning string) {
	return stageA.ItemType, stageA.ObligationDate, 0, "unparseable"
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
