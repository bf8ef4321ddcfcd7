// Package digest builds the periodic household digest: a window of
// Items grouped under fixed category sections, each reduced to a
// single-line, hedging-free fact a human skims in seconds.
package digest

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/aliedrevenue/concierge/internal/domain"
)

const (
	factCap     = 7
	excerptCap  = 300
)

// factPattern is one recognizer: a compiled regexp (decided once at
// package init, unlike PersonAssigner/CategoryClassifier which are
// explicitly regex-free) plus the template used to render its match
// into a single-line fact.
type factPattern struct {
	re       *regexp.Regexp
	render   func(subject, snippet string, m []string) string
}

// factPatterns is evaluated in order; the first match wins for a given
// item. Patterns are intentionally narrow — a miss falls back to the
// subject line verbatim, never to a guess.
var factPatterns = []factPattern{
	{
		re: regexp.MustCompile(`(?i)photos?\s+(?:are\s+)?available`),
		render: func(subject, snippet string, m []string) string {
			return "Photos available"
		},
	},
	{
		re: regexp.MustCompile(`(?i)(newsletter).*?\(([A-Za-z]+\s+\d{1,2}\s*[-–]\s*\d{1,2})\)`),
		render: func(subject, snippet string, m []string) string {
			return fmt.Sprintf("%s for %s", strings.Title(strings.ToLower(m[1])), strings.ReplaceAll(m[2], "-", "–"))
		},
	},
	{
		re: regexp.MustCompile(`(?i)due\s+(?:by\s+)?((?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+\d{1,2})`),
		render: func(subject, snippet string, m []string) string {
			return fmt.Sprintf("Form due %s", strings.Title(strings.ToLower(m[1])))
		},
	},
	{
		re: regexp.MustCompile(`(?i)permission\s+slip`),
		render: func(subject, snippet string, m []string) string {
			return "Permission slip required"
		},
	},
}

// extractFact reduces a subject+snippet pair to a single normalized
// fact string. Facts are deduplicated by this normalized form.
func extractFact(subject, snippet string) string {
	combined := subject + " " + snippet
	for _, p := range factPatterns {
		if m := p.re.FindStringSubmatch(combined); m != nil {
			return p.render(subject, snippet, m)
		}
	}
	return subject
}

// groupDef is one fixed digest section.
type groupDef struct {
	Name       string
	Icon       string
	Categories []domain.Category
}

// groups are declared in domain.Categories() order — the same
// relevance priority CategoryClassifier scores against — so that a
// reader scanning top to bottom sees the household's highest-priority
// categories first; "Other" always trails.
var groups = []groupDef{
	{Name: "School Updates", Icon: "🏫", Categories: []domain.Category{domain.CategorySchool}},
	{Name: "Sports & Activities", Icon: "⚽", Categories: []domain.Category{domain.CategorySportsActivities}},
	{Name: "Medical", Icon: "🏥", Categories: []domain.Category{domain.CategoryMedicalHealth}},
	{Name: "Events & Performances", Icon: "🎭", Categories: []domain.Category{domain.CategoryFriendsSocial}},
	{Name: "Logistics", Icon: "📦", Categories: []domain.Category{domain.CategoryLogistics}},
	{Name: "Administrative / Forms", Icon: "📋", Categories: []domain.Category{domain.CategoryFormsAdmin, domain.CategoryFinancialBilling}},
	{Name: "Community", Icon: "🤝", Categories: []domain.Category{domain.CategoryCommunityOptional}},
}

func groupFor(cat domain.Category) groupDef {
	for _, g := range groups {
		for _, c := range g.Categories {
			if c == cat {
				return g
			}
		}
	}
	return groupDef{Name: "Other", Icon: ""}
}

// categoryPriority ranks a category by its index in domain.Categories()
// so sections render in that same order rather than alphabetically.
var categoryPriority = func() map[domain.Category]int {
	m := make(map[domain.Category]int, len(domain.Categories()))
	for i, c := range domain.Categories() {
		m[c] = i
	}
	return m
}()

func priorityFor(cat domain.Category) int {
	if p, ok := categoryPriority[cat]; ok {
		return p
	}
	return len(categoryPriority) // "Other" trails every named category
}

// ItemRow is the source record one DigestBuilder row summarizes.
type ItemRow struct {
	MessageID                string
	Subject                  string
	Snippet                  string
	FromName                 string
	FromEmail                string
	PrimaryCategory          domain.Category
	ClassificationConfidence *float64
}

// Row is one rendered digest line.
type Row struct {
	Title             string
	Fact              string
	FromName          string
	FromEmail         string
	Group             string
	Icon              string
	ConfidenceVisible bool
	ConfidencePercent int
	Excerpt           string
	DeepLink          string
	groupPriority     int
}

// Section is a named digest section ("created", "pending", etc.) per
// spec.md §4.11; which section an item belongs to is the caller's
// responsibility (it depends on state, not on this package).
type Section struct {
	Name string
	Rows []Row
}

// Digest is the full periodic output.
type Digest struct {
	StartDate time.Time
	EndDate   time.Time
	DryRun    bool
	Sections  []Section
	Quiet     bool
}

// WindowProvider supplies the raw rows for each section the builder
// assembles, so Builder itself never builds a query. StoreProvider
// (store_provider.go) is the Postgres-backed implementation.
type WindowProvider interface {
	Created(ctx context.Context, start, end time.Time) ([]ItemRow, error)
	Pending(ctx context.Context, start, end time.Time) ([]ItemRow, error)
	ApprovedPending(ctx context.Context, start, end time.Time) ([]ItemRow, error)
	Forwarded(ctx context.Context, start, end time.Time) ([]ItemRow, error)
	Deferred(ctx context.Context, start, end time.Time) ([]ItemRow, error)
	Dismissed(ctx context.Context, start, end time.Time) ([]ItemRow, error)
	Errors(ctx context.Context, start, end time.Time) ([]ItemRow, error)
}

// Builder assembles a Digest from a WindowProvider.
type Builder struct {
	provider WindowProvider
}

// New builds a Builder over provider.
func New(provider WindowProvider) *Builder { return &Builder{provider: provider} }

// Build runs every section query for [start, end] and renders the
// rows, recording dryRun on Digest.DryRun so the renderer can label
// the whole digest "[DRY RUN]". The 7-fact lead block is LeadFacts.
func (b *Builder) Build(ctx context.Context, start, end time.Time, dryRun bool) (Digest, error) {
	sectionSpecs := []struct {
		name  string
		fetch func(context.Context, time.Time, time.Time) ([]ItemRow, error)
	}{
		{"created", b.provider.Created},
		{"pending", b.provider.Pending},
		{"approved_pending", b.provider.ApprovedPending},
		{"forwarded", b.provider.Forwarded},
		{"deferred", b.provider.Deferred},
		{"dismissed", b.provider.Dismissed},
		{"errors", b.provider.Errors},
	}

	d := Digest{StartDate: start, EndDate: end, DryRun: dryRun}

	totalRows := 0
	for _, spec := range sectionSpecs {
		rows, err := spec.fetch(ctx, start, end)
		if err != nil {
			return Digest{}, fmt.Errorf("digest: fetch %s: %w", spec.name, err)
		}
		rendered := renderRows(rows)
		d.Sections = append(d.Sections, Section{Name: spec.name, Rows: rendered})
		totalRows += len(rendered)
	}

	d.Quiet = totalRows == 0
	return d, nil
}

// LeadFacts returns up to 7 deduplicated facts across every section,
// for the "This Week at a Glance" block.
func LeadFacts(d Digest) []string {
	seen := map[string]bool{}
	var facts []string
	for _, sec := range d.Sections {
		for _, row := range sec.Rows {
			key := strings.ToLower(row.Fact)
			if seen[key] {
				continue
			}
			seen[key] = true
			facts = append(facts, row.Fact)
			if len(facts) >= factCap {
				return facts
			}
		}
	}
	return facts
}

func renderRows(items []ItemRow) []Row {
	rows := make([]Row, 0, len(items))
	for _, it := range items {
		g := groupFor(it.PrimaryCategory)
		fact := extractFact(it.Subject, it.Snippet)

		confVisible := false
		confPct := 0
		if it.ClassificationConfidence != nil && *it.ClassificationConfidence < 0.95 {
			confVisible = true
			confPct = int(*it.ClassificationConfidence * 100)
		}

		excerpt := it.Snippet
		deepLink := ""
		if it.MessageID != "" {
			deepLink = fmt.Sprintf("mail://search/rfc822msgid:%%3C%s%%3E", it.MessageID)
			if len(excerpt) > excerptCap {
				excerpt = excerpt[:excerptCap]
			}
		}
		excerpt = html.EscapeString(excerpt)

		rows = append(rows, Row{
			Title:             it.Subject,
			Fact:              fact,
			FromName:          it.FromName,
			FromEmail:         it.FromEmail,
			Group:             g.Name,
			Icon:              g.Icon,
			ConfidenceVisible: confVisible,
			ConfidencePercent: confPct,
			Excerpt:           excerpt,
			DeepLink:          deepLink,
			groupPriority:     priorityFor(it.PrimaryCategory),
		})
	}
	// Sections render in scoring-priority order (domain.Categories()),
	// not alphabetically — "Events & Performances" must not jump ahead
	// of "School Updates" just because E sorts before S.
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].groupPriority < rows[j].groupPriority })
	return rows
}
