package digest

import (
	"context"
	"testing"
	"time"

	"github.com/aliedrevenue/concierge/internal/domain"
)

// fakeProvider is a WindowProvider test double that returns a fixed
// row set per section, named the way the section queries are named.
type fakeProvider struct {
	created []ItemRow
}

func (f *fakeProvider) Created(ctx context.Context, start, end time.Time) ([]ItemRow, error) {
	return f.created, nil
}
func (f *fakeProvider) Pending(ctx context.Context, start, end time.Time) ([]ItemRow, error) {
	return nil, nil
}
func (f *fakeProvider) ApprovedPending(ctx context.Context, start, end time.Time) ([]ItemRow, error) {
	return nil, nil
}
func (f *fakeProvider) Forwarded(ctx context.Context, start, end time.Time) ([]ItemRow, error) {
	return nil, nil
}
func (f *fakeProvider) Deferred(ctx context.Context, start, end time.Time) ([]ItemRow, error) {
	return nil, nil
}
func (f *fakeProvider) Dismissed(ctx context.Context, start, end time.Time) ([]ItemRow, error) {
	return nil, nil
}
func (f *fakeProvider) Errors(ctx context.Context, start, end time.Time) ([]ItemRow, error) {
	return nil, nil
}

func TestBuild_QuietWhenEverySectionEmpty(t *testing.T) {
	b := New(&fakeProvider{})
	d, err := b.Build(context.Background(), time.Now().Add(-24*time.Hour), time.Now(), false)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !d.Quiet {
		t.Error("expected Quiet=true when every section is empty")
	}
	if len(d.Sections) != 7 {
		t.Errorf("len(Sections) = %d, want 7", len(d.Sections))
	}
}

func TestBuild_NotQuietWithRows(t *testing.T) {
	b := New(&fakeProvider{created: []ItemRow{
		{Subject: "Permission slip due", PrimaryCategory: domain.CategorySchool},
	}})
	d, err := b.Build(context.Background(), time.Now().Add(-24*time.Hour), time.Now(), false)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if d.Quiet {
		t.Error("expected Quiet=false when a section has rows")
	}
}

func TestBuild_RendersRowsInCategoryPriorityOrderNotAlphabetical(t *testing.T) {
	b := New(&fakeProvider{created: []ItemRow{
		{Subject: "Potluck Friday", PrimaryCategory: domain.CategoryFriendsSocial},  // "Events & Performances"
		{Subject: "Report card posted", PrimaryCategory: domain.CategorySchool},     // "School Updates"
		{Subject: "Checkup reminder", PrimaryCategory: domain.CategoryMedicalHealth}, // "Medical"
	}})
	d, err := b.Build(context.Background(), time.Now().Add(-24*time.Hour), time.Now(), false)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	var rows []Row
	for _, sec := range d.Sections {
		if sec.Name == "created" {
			rows = sec.Rows
		}
	}
	if len(rows) != 3 {
		t.Fatalf("len(rows) = %d, want 3", len(rows))
	}
	// Alphabetically "Events & Performances" < "Medical" < "School
	// Updates", which would be wrong: domain.Categories() priority puts
	// School ahead of Medical ahead of FriendsSocial.
	want := []string{"School Updates", "Medical", "Events & Performances"}
	for i, g := range want {
		if rows[i].Group != g {
			t.Errorf("rows[%d].Group = %q, want %q (got order %v)", i, rows[i].Group, g, groupsOf(rows))
		}
	}
}

func groupsOf(rows []Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Group
	}
	return out
}

func TestLeadFacts_DedupesAndCaps(t *testing.T) {
	d := Digest{
		Sections: []Section{
			{Name: "created", Rows: []Row{
				{Fact: "Form due Jan 5"},
				{Fact: "Form due Jan 5"},
				{Fact: "Photos available"},
			}},
			{Name: "pending", Rows: []Row{
				{Fact: "Practice moved to Thursday"},
				{Fact: "Permission slip required"},
				{Fact: "Picture day"},
				{Fact: "Field trip deposit"},
				{Fact: "Yearbook order"},
				{Fact: "Spirit week"},
			}},
		},
	}

	facts := LeadFacts(d)
	if len(facts) != factCap {
		t.Errorf("len(facts) = %d, want %d", len(facts), factCap)
	}

	seen := map[string]bool{}
	for _, f := range facts {
		lower := f
		if seen[lower] {
			t.Errorf("duplicate fact %q in LeadFacts output", f)
		}
		seen[lower] = true
	}
}
