// Package category scores a message against the eight fixed household
// categories and gates whether the result clears its pack's configured
// sensitivity threshold.
package category

import (
	"fmt"
	"strings"

	"github.com/aliedrevenue/concierge/internal/domain"
)

// Signals is one category's keyword/domain/pattern/negative bundle.
type Signals struct {
	Keywords         []string
	Domains          []string
	SenderPatterns   []string
	NegativeKeywords []string
}

// Registry maps each of the eight categories to its signal bundle for
// one pack.
type Registry map[domain.Category]Signals

// Result is CategoryClassifier's output for one message.
type Result struct {
	PrimaryCategory     domain.Category
	SecondaryCategories []domain.Category
	Scores              domain.CategoryScores
	ShouldSave          bool
	SaveReasons         []string
}

// Classify scores text + sender against every category in the
// registry, applies the pack's CategoryPreferences sensitivity gate,
// and reports which (category, score) pairs cleared their threshold.
func Classify(text, sender string, reg Registry, prefs domain.CategoryPrefs) Result {
	lowerText := strings.ToLower(text)
	lowerSender := strings.ToLower(sender)

	scores := make(domain.CategoryScores, len(reg))
	for cat, sig := range reg {
		scores[cat] = score(lowerText, lowerSender, sig)
	}

	ordered := domain.Categories()
	primary := ordered[0]
	for _, cat := range ordered {
		if scores[cat] > scores[primary] {
			primary = cat
		}
	}

	var secondary []domain.Category
	type scored struct {
		cat   domain.Category
		score float64
	}
	var rest []scored
	for _, cat := range ordered {
		if cat == primary {
			continue
		}
		if scores[cat] > 0.5 {
			rest = append(rest, scored{cat, scores[cat]})
		}
	}
	for i := 0; i < len(rest); i++ {
		for j := i + 1; j < len(rest); j++ {
			if rest[j].score > rest[i].score {
				rest[i], rest[j] = rest[j], rest[i]
			}
		}
	}
	for i := 0; i < len(rest) && i < 2; i++ {
		secondary = append(secondary, rest[i].cat)
	}

	shouldSave, reasons := gate(primary, scores[primary], secondary, scores, prefs)

	return Result{
		PrimaryCategory:     primary,
		SecondaryCategories: secondary,
		Scores:              scores,
		ShouldSave:          shouldSave,
		SaveReasons:         reasons,
	}
}

func score(text, sender string, sig Signals) float64 {
	var s float64

	if len(sig.Keywords) > 0 {
		matches := countDistinctMatches(text, sig.Keywords)
		s += min(float64(matches)/float64(len(sig.Keywords)), 0.4)
	}

	if len(sig.Domains) > 0 {
		for _, d := range sig.Domains {
			if strings.Contains(sender, strings.ToLower(d)) {
				s += 0.3
				break
			}
		}
	}

	if len(sig.SenderPatterns) > 0 {
		matches := countDistinctMatches(sender, sig.SenderPatterns)
		s += min(float64(matches)/float64(len(sig.SenderPatterns)), 0.2)
	}

	if len(sig.NegativeKeywords) > 0 {
		negMatches := countDistinctMatches(text, sig.NegativeKeywords)
		s -= min(0.1*float64(negMatches), 0.3)
	}

	return clamp01(s)
}

func countDistinctMatches(text string, terms []string) int {
	n := 0
	for _, t := range terms {
		if strings.Contains(text, strings.ToLower(t)) {
			n++
		}
	}
	return n
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

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// gate applies the pack's per-category sensitivity threshold: the
// primary must clear its own threshold and be enabled, or any
// secondary must clear its own.
func gate(primary domain.Category, primaryScore float64, secondary []domain.Category, scores domain.CategoryScores, prefs domain.CategoryPrefs) (bool, []string) {
	var reasons []string

	primarySens := sensitivityFor(primary, prefs)
	if primarySens != domain.SensitivityOff && primaryScore >= primarySens.Threshold() {
		reasons = append(reasons, fmt.Sprintf("%s:%.2f", primary, primaryScore))
	}

	for _, cat := range secondary {
		sens := sensitivityFor(cat, prefs)
		if sens == domain.SensitivityOff {
			continue
		}
		if scores[cat] >= sens.Threshold() {
			reasons = append(reasons, fmt.Sprintf("%s:%.2f", cat, scores[cat]))
		}
	}

	return len(reasons) > 0, reasons
}

func sensitivityFor(cat domain.Category, prefs domain.CategoryPrefs) domain.Sensitivity {
	if prefs == nil {
		return domain.SensitivityBalanced
	}
	if s, ok := prefs[cat]; ok {
		return s
	}
	return domain.SensitivityBalanced
}
