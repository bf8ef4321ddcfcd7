package person

import (
	"testing"

	"github.com/aliedrevenue/concierge/internal/domain"
)

func testMembers() []domain.FamilyMember {
	return []domain.FamilyMember{
		{
			Name:         "Ava",
			Aliases:      []string{"Ava", "Ava Chen"},
			GroupAliases: []string{"3rd grade"},
			GradeAliases: []string{"room 12"},
		},
		{
			Name:            "Ben",
			Aliases:         []string{"Ben"},
			ExcludeKeywords: []string{"newsletter"},
		},
	}
}

func TestAssign_ExactAliasMatch(t *testing.T) {
	a := New(testMembers(), nil)
	result := a.Assign("Ava's field trip form", "permission slip due", "school.edu")

	if result.Person != "Ava" {
		t.Errorf("Person = %q, want Ava", result.Person)
	}
	if result.Reason != domain.AssignmentReasonExact {
		t.Errorf("Reason = %q, want exact", result.Reason)
	}
}

func TestAssign_NoMatchFallsBackToSharedDefault(t *testing.T) {
	a := New(testMembers(), nil)
	result := a.Assign("Community potluck Friday", "everyone welcome", "pto.org")

	if result.Person != SharedDefault {
		t.Errorf("Person = %q, want %q", result.Person, SharedDefault)
	}
	if result.Reason != domain.AssignmentReasonSharedDefault {
		t.Errorf("Reason = %q, want shared_default", result.Reason)
	}
}

func TestAssign_SourceDomainRule(t *testing.T) {
	sourceAssignments := []domain.SourceAssignment{
		{FromDomain: "*.district.k12.us", AssignTo: []string{"Ava", "Ben"}},
	}
	a := New(testMembers(), sourceAssignments)
	result := a.Assign("Report card available", "", "lincoln.district.k12.us")

	if result.Person != "Ava, Ben" {
		t.Errorf("Person = %q, want %q", result.Person, "Ava, Ben")
	}
	if result.Reason != domain.AssignmentReasonSource {
		t.Errorf("Reason = %q, want source", result.Reason)
	}
}

func TestAssign_ExcludeKeywordSuppressesMatch(t *testing.T) {
	a := New(testMembers(), nil)
	result := a.Assign("Ben's weekly newsletter", "fun facts inside", "pto.org")

	if result.Person != SharedDefault {
		t.Errorf("Person = %q, want %q (exclusion should suppress the Ben alias match)", result.Person, SharedDefault)
	}
}

func TestAssign_ExactBeatsGroupWhenBothMatch(t *testing.T) {
	a := New(testMembers(), nil)
	result := a.Assign("Ava update: 3rd grade field trip", "", "school.edu")

	if result.Reason != domain.AssignmentReasonExact {
		t.Errorf("Reason = %q, want exact (strongest of exact+group)", result.Reason)
	}
}

func TestAssign_OrderMatchesRosterOrder(t *testing.T) {
	sourceAssignments := []domain.SourceAssignment{
		{FromDomain: "school.edu", AssignTo: []string{"Ben"}},
	}
	a := New(testMembers(), sourceAssignments)
	// Ava matches by exact alias, Ben by the source rule; roster order
	// is Ava then Ben, so the joined string must preserve that order
	// regardless of which matched first internally.
	result := a.Assign("Ava field trip", "", "school.edu")

	if result.Person != "Ava, Ben" {
		t.Errorf("Person = %q, want %q", result.Person, "Ava, Ben")
	}
}

func TestMemberExcluded(t *testing.T) {
	m := domain.FamilyMember{ExcludeKeywords: []string{"Spam", ""}}
	if !memberExcluded(m, "this is spam content") {
		t.Error("expected exclusion to match case-insensitively")
	}
	if memberExcluded(m, "totally unrelated text") {
		t.Error("expected no exclusion match")
	}
}
