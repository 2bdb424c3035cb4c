// Package risk classifies utterances into emotional-distress tiers.
package risk

import (
	_ "embed"
	"sync/atomic"

	"agrivoice/internal/domain"
	"agrivoice/internal/ruletable"
)

//go:embed risk.yaml
var defaultRules []byte

// DefaultTable returns the built-in risk rule table.
func DefaultTable() *ruletable.Table {
	return ruletable.MustParse("risk.yaml", defaultRules)
}

// Thresholds are the minimum scores for tiers 3, 2 and 1.
type Thresholds struct {
	Critical int
	Elevated int
	Mild     int
}

// DefaultThresholds matches the deployed behavior.
var DefaultThresholds = Thresholds{Critical: 6, Elevated: 3, Mild: 1}

func (t Thresholds) normalized() Thresholds {
	if t.Critical <= 0 {
		t.Critical = DefaultThresholds.Critical
	}
	if t.Elevated <= 0 || t.Elevated > t.Critical {
		t.Elevated = min(DefaultThresholds.Elevated, t.Critical)
	}
	if t.Mild <= 0 || t.Mild > t.Elevated {
		t.Mild = min(DefaultThresholds.Mild, t.Elevated)
	}
	return t
}

// Classifier scores utterances against a replaceable rule table.
type Classifier struct {
	table      atomic.Pointer[ruletable.Table]
	thresholds Thresholds
}

// NewClassifier uses table, or the built-in table when nil.
func NewClassifier(table *ruletable.Table, thresholds Thresholds) *Classifier {
	if table == nil {
		table = DefaultTable()
	}
	c := &Classifier{thresholds: thresholds.normalized()}
	c.table.Store(table)
	return c
}

// Replace swaps the rule table; in-flight classifications keep the table they started with.
func (c *Classifier) Replace(table *ruletable.Table) {
	if table == nil {
		return
	}
	c.table.Store(table)
}

// Classify scores text. Tier 3 when the score reaches the critical threshold or any sos
// rule matched; primary category is the heaviest signal, earliest on ties.
func (c *Classifier) Classify(text string) domain.EmotionAnalysis {
	matches := c.table.Load().Evaluate(text)

	analysis := domain.EmotionAnalysis{Signals: make([]domain.EmotionSignal, 0, len(matches))}
	hasSOS := false
	heaviest := -1
	for _, match := range matches {
		category := domain.EmotionCategory(match.Category)
		analysis.Signals = append(analysis.Signals, domain.EmotionSignal{
			Category: category,
			Phrase:   match.Phrase,
			Weight:   match.Weight,
		})
		analysis.Score += match.Weight
		if category == domain.CategorySOS {
			hasSOS = true
		}
		if match.Weight > heaviest {
			heaviest = match.Weight
			analysis.PrimaryCategory = category
		}
	}
	analysis.Tier = c.tier(analysis.Score, hasSOS)
	return analysis
}

func (c *Classifier) tier(score int, hasSOS bool) int {
	switch {
	case hasSOS || score >= c.thresholds.Critical:
		return 3
	case score >= c.thresholds.Elevated:
		return 2
	case score >= c.thresholds.Mild:
		return 1
	default:
		return 0
	}
}

// Max returns the analysis with the higher tier, then the higher score.
func Max(a, b domain.EmotionAnalysis) domain.EmotionAnalysis {
	if b.Tier > a.Tier || (b.Tier == a.Tier && b.Score > a.Score) {
		return b
	}
	return a
}
