// Package person assigns a message to one or more configured family
// members by exact alias, alias/group substring, and sender-domain
// rule, with no regex and no per-call pattern compilation — grounded
// on the lineage's static-map ISP domain classifier.
package person

import (
	"sort"
	"strings"

	"github.com/aliedrevenue/concierge/internal/domain"
)

// SharedDefault is the person value a message gets when no member or
// source rule matches.
const SharedDefault = "Family/Shared"

// snippetCap is the hard input-size ceiling the algorithm enforces
// before tokenizing; anything longer is truncated, not rejected.
const snippetCap = 500

// Assignment is PersonAssigner's result: the resolved person string
// (comma-joined in configured order) and the strongest reason that
// produced it.
type Assignment struct {
	Person string
	Reason domain.AssignmentReason
}

// Assigner is a pure, stateless resolver built once per run from the
// configured family members and source assignments, shared by every
// pack.
type Assigner struct {
	members           []domain.FamilyMember
	sourceAssignments []domain.SourceAssignment
}

// New builds an Assigner for the family roster and source rules.
func New(members []domain.FamilyMember, sourceAssignments []domain.SourceAssignment) *Assigner {
	return &Assigner{members: members, sourceAssignments: sourceAssignments}
}

// Assign resolves subject + a body snippet (capped at 500 chars) plus
// the sender domain to zero or more family members. subject and
// snippet are combined and normalized once; no regex, no backtracking.
func (a *Assigner) Assign(subject, snippet, fromDomain string) Assignment {
	if len(snippet) > snippetCap {
		snippet = snippet[:snippetCap]
	}
	normalized := strings.ToLower(subject + " " + snippet)
	tokens := tokenize(normalized)

	candidates := map[string]domain.AssignmentReason{}

	for _, m := range a.members {
		if memberExcluded(m, normalized) {
			continue
		}
		for _, alias := range m.Aliases {
			if tokens[strings.ToLower(alias)] {
				addCandidate(candidates, m.Name, domain.AssignmentReasonExact)
				break
			}
		}
		for _, alias := range m.Aliases {
			if strings.Contains(alias, " ") && strings.Contains(normalized, strings.ToLower(alias)) {
				addCandidate(candidates, m.Name, domain.AssignmentReasonAlias)
			}
		}
		for _, alias := range m.GroupAliases {
			if strings.Contains(normalized, strings.ToLower(alias)) {
				addCandidate(candidates, m.Name, domain.AssignmentReasonGroup)
			}
		}
		for _, alias := range m.GradeAliases {
			if strings.Contains(normalized, strings.ToLower(alias)) {
				addCandidate(candidates, m.Name, domain.AssignmentReasonGroup)
			}
		}
	}

	lowerDomain := strings.ToLower(fromDomain)
	for _, sa := range a.sourceAssignments {
		if strings.EqualFold(sa.FromDomain, lowerDomain) || matchesDomainPattern(sa.FromDomain, lowerDomain) {
			for _, name := range sa.AssignTo {
				addCandidate(candidates, name, domain.AssignmentReasonSource)
			}
		}
	}

	if len(candidates) == 0 {
		return Assignment{Person: SharedDefault, Reason: domain.AssignmentReasonSharedDefault}
	}

	names := orderedNames(a.members, candidates)
	strongest := domain.AssignmentReasonSharedDefault
	for _, r := range candidates {
		strongest = strongest.Strongest(r)
	}

	return Assignment{Person: strings.Join(names, ", "), Reason: strongest}
}

// memberExcluded reports whether any of the member's configured
// exclusion keywords (added forward-only via `audit --exclude-keyword`)
// appear in the normalized subject+snippet text, suppressing an
// otherwise-matching assignment for this message only.
func memberExcluded(m domain.FamilyMember, normalized string) bool {
	for _, kw := range m.ExcludeKeywords {
		if kw != "" && strings.Contains(normalized, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func addCandidate(candidates map[string]domain.AssignmentReason, name string, reason domain.AssignmentReason) {
	existing, ok := candidates[name]
	if !ok {
		candidates[name] = reason
		return
	}
	candidates[name] = existing.Strongest(reason)
}

// orderedNames returns the matched names in the order the family
// roster configured them, so "person" strings are stable.
func orderedNames(members []domain.FamilyMember, candidates map[string]domain.AssignmentReason) []string {
	var names []string
	for _, m := range members {
		if _, ok := candidates[m.Name]; ok {
			names = append(names, m.Name)
		}
	}
	// Source-rule assignees that name someone outside the roster still
	// surface, sorted for determinism.
	var extra []string
	seen := map[string]bool{}
	for _, n := range names {
		seen[n] = true
	}
	for n := range candidates {
		if !seen[n] {
			extra = append(extra, n)
		}
	}
	sort.Strings(extra)
	return append(names, extra...)
}

// tokenize splits on anything that isn't a letter or digit, lowercased,
// producing a set membership check in O(n).
func tokenize(s string) map[string]bool {
	tokens := map[string]bool{}
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			tokens[b.String()] = true
			b.Reset()
		}
	}
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

// matchesDomainPattern allows a leading "*." wildcard, matching by
// suffix; otherwise an exact match.
func matchesDomainPattern(pattern, domain string) bool {
	pattern = strings.ToLower(pattern)
	if strings.HasPrefix(pattern, "*.") {
		return strings.HasSuffix(domain, pattern[1:])
	}
	return pattern == domain
}
