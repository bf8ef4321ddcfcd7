package itemtype

import (
	"testing"
	"time"

	"github.com/aliedrevenue/concierge/internal/domain"
)

func TestClassifyStageA_ObligationKeywordMatch(t *testing.T) {
	r := ClassifyStageA("permission slip due friday", domain.CategoryFriendsSocial)
	if r.ItemType != domain.ItemTypeObligation {
		t.Errorf("ItemType = %v, want Obligation", r.ItemType)
	}
}

func TestClassifyStageA_AnnouncementKeywordMatch(t *testing.T) {
	r := ClassifyStageA("newsletter: this week in review", domain.CategoryFriendsSocial)
	if r.ItemType != domain.ItemTypeAnnouncement {
		t.Errorf("ItemType = %v, want Announcement", r.ItemType)
	}
}

func TestClassifyStageA_CategoryObligationLeaningOverride(t *testing.T) {
	const subject = "carpool switch this afternoon"
	if !domain.CategoryLogistics.IsObligationLeaning() {
		t.Fatal("expected CategoryLogistics to be obligation-leaning for this test to be meaningful")
	}
	r := ClassifyStageA(subject, domain.CategoryLogistics)
	if r.ItemType != domain.ItemTypeObligation {
		t.Errorf("ItemType = %v, want Obligation when the category leans obligation even without a keyword match", r.ItemType)
	}

	// Sanity check: without the category override, this subject matches neither keyword list.
	plain := ClassifyStageA(subject, domain.CategoryFriendsSocial)
	if plain.ItemType != domain.ItemTypeUnknown {
		t.Errorf("ItemType = %v, want Unknown for a non-obligation-leaning category with no keyword match", plain.ItemType)
	}
}

func TestClassifyStageA_BothMatchYieldsUnknown(t *testing.T) {
	r := ClassifyStageA("permission slip due friday — newsletter", domain.CategoryFriendsSocial)
	if r.ItemType != domain.ItemTypeUnknown {
		t.Errorf("ItemType = %v, want Unknown when both obligation and announcement keywords match", r.ItemType)
	}
}

func TestClassifyStageA_NeitherMatchYieldsUnknown(t *testing.T) {
	r := ClassifyStageA("hello from the front office", domain.CategoryFriendsSocial)
	if r.ItemType != domain.ItemTypeUnknown {
		t.Errorf("ItemType = %v, want Unknown when nothing matches", r.ItemType)
	}
}

func TestNeedsStageB(t *testing.T) {
	due := time.Now()
	cases := []struct {
		name string
		in   StageAResult
		want bool
	}{
		{"unknown always needs it", StageAResult{ItemType: domain.ItemTypeUnknown}, true},
		{"obligation without date needs it", StageAResult{ItemType: domain.ItemTypeObligation}, true},
		{"obligation with date doesn't", StageAResult{ItemType: domain.ItemTypeObligation, ObligationDate: &due}, false},
		{"announcement doesn't", StageAResult{ItemType: domain.ItemTypeAnnouncement}, false},
	}
	for _, c := range cases {
		if got := NeedsStageB(c.in); got != c.want {
			t.Errorf("%s: NeedsStageB() = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestApplyStageB_FillsOnlyNullFields(t *testing.T) {
	stageADate := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	stageA := StageAResult{ItemType: domain.ItemTypeObligation, ObligationDate: &stageADate}

	stageBDate := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	out := LLMOutput{
		ItemType:       domain.ItemTypeAnnouncement,
		ObligationDate: &stageBDate,
		Confidence:     0.8,
		Reasoning:      "looks like a newsletter",
	}

	itemType, obligationDate, confidence, reasoning := ApplyStageB(stageA, out)
	if itemType != domain.ItemTypeObligation {
		t.Errorf("itemType = %v, want Stage A's Obligation to be preserved", itemType)
	}
	if obligationDate == nil || !obligationDate.Equal(stageADate) {
		t.Errorf("obligationDate = %v, want Stage A's date to be preserved", obligationDate)
	}
	if confidence != 0.8 {
		t.Errorf("confidence = %v, want 0.8 from Stage B", confidence)
	}
	if reasoning != "looks like a newsletter" {
		t.Errorf("reasoning = %q, want Stage B's reasoning", reasoning)
	}
}

func TestApplyStageB_FillsFromStageBWhenStageAUnknown(t *testing.T) {
	stageA := StageAResult{ItemType: domain.ItemTypeUnknown}

	dueDate := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	out := LLMOutput{
		ItemType:       domain.ItemTypeObligation,
		ObligationDate: &dueDate,
		Confidence:     0.95,
		Reasoning:      "permission slip with a due date",
	}

	itemType, obligationDate, _, _ := ApplyStageB(stageA, out)
	if itemType != domain.ItemTypeObligation {
		t.Errorf("itemType = %v, want Stage B's Obligation to fill the unknown verdict", itemType)
	}
	if obligationDate == nil || !obligationDate.Equal(dueDate) {
		t.Errorf("obligationDate = %v, want Stage B's date", obligationDate)
	}
}

func TestApplyStageB_ClampsConfidence(t *testing.T) {
	stageA := StageAResult{ItemType: domain.ItemTypeUnknown}

	cases := []struct {
		in   float64
		want float64
	}{
		{-0.5, 0},
		{1.5, 1},
		{0.42, 0.42},
	}
	for _, c := range cases {
		_, _, confidence, _ := ApplyStageB(stageA, LLMOutput{Confidence: c.in})
		if confidence != c.want {
			t.Errorf("ApplyStageB confidence for input %v = %v, want %v", c.in, confidence, c.want)
		}
	}
}

func TestUnparseable_PreservesStageAVerdict(t *testing.T) {
	dueDate := time.Now()
	stageA := StageAResult{ItemType: domain.ItemTypeObligation, ObligationDate: &dueDate}

	itemType, obligationDate, confidence, reasoning := Unparseable(stageA)
	if itemType != domain.ItemTypeObligation {
		t.Errorf("itemType = %v, want Stage A's verdict preserved", itemType)
	}
	if obligationDate == nil || !obligationDate.Equal(dueDate) {
		t.Errorf("obligationDate = %v, want Stage A's date preserved", obligationDate)
	}
	if confidence != 0 {
		t.Errorf("confidence = %v, want 0", confidence)
	}
	if reasoning != "unparseable" {
		t.Errorf("reasoning = %q, want %q", reasoning, "unparseable")
	}
}
