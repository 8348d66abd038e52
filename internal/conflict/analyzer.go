package conflict

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"review-triage/internal/domain"
	"review-triage/internal/learned"
)

// Promotion thresholds. A conflict group becomes a learned rule only when it
// clears every one of them; anything weaker stays a hint.
const (
	minSampleCount = 5
	minConsistency = 0.90
	minCommonTags  = 2
	minUniqueFiles = 2

	// commonTagShare is the membership fraction a tag needs to count as
	// common to the group.
	commonTagShare = 0.8

	maxMinedConfidence      = 0.95
	manualConfidenceCap     = 0.85
	manualDefaultConfidence = 0.70
)

// ApplicableRule is a conflict group that cleared the promotion thresholds
// and can be written into the learned-rule store.
type ApplicableRule struct {
	RuleID                string              `json:"rule_id"`
	Language              string              `json:"language"`
	RequiredTags          []string            `json:"required_tags"`
	SuggestedContextLevel domain.ContextLevel `json:"suggested_context_level"`
	Confidence            float64             `json:"confidence"`
	SampleCount           int                 `json:"sample_count"`
	Consistency           float64             `json:"consistency"`
	UniqueFiles           int                 `json:"unique_files"`
	ConflictType          string              `json:"conflict_type"`
}

// ReferenceHint is a conflict group that was not promoted; Reason names each
// threshold it failed.
type ReferenceHint struct {
	RuleID                string              `json:"rule_id"`
	Language              string              `json:"language"`
	RequiredTags          []string            `json:"required_tags"`
	SuggestedContextLevel domain.ContextLevel `json:"suggested_context_level,omitempty"`
	SampleCount           int                 `json:"sample_count"`
	Consistency           float64             `json:"consistency"`
	UniqueFiles           int                 `json:"unique_files"`
	ConflictType          string              `json:"conflict_type"`
	Reason                string              `json:"reason"`
}

// Analysis is the analyzer output: promotable rules and everything else.
type Analysis struct {
	Rules []ApplicableRule `json:"rules"`
	Hints []ReferenceHint  `json:"hints"`
}

// Analyzer mines learned rules out of accumulated conflicts.
type Analyzer struct {
	store *learned.Store
}

// NewAnalyzer creates an analyzer writing promotions into store. store may be
// nil when the caller only wants the analysis.
func NewAnalyzer(store *learned.Store) *Analyzer {
	return &Analyzer{store: store}
}

// group collects the conflicts sharing one semantic feature key.
type group struct {
	language     string
	sortedTags   []string
	conflictType string
	members      []Record
}

// Analyze groups records by (language, sorted tags, conflict type) and
// evaluates each group against the promotion thresholds.
func (a *Analyzer) Analyze(records []Record) Analysis {
	groups := make(map[string]*group)
	var keys []string

	for _, rec := range records {
		tags := append([]string(nil), rec.Tags...)
		sort.Strings(tags)
		key := rec.Language + "|" + strings.Join(tags, ",") + "|" + rec.ConflictType

		g, ok := groups[key]
		if !ok {
			g = &group{language: rec.Language, sortedTags: tags, conflictType: rec.ConflictType}
			groups[key] = g
			keys = append(keys, key)
		}
		g.members = append(g.members, rec)
	}

	sort.Strings(keys)

	var analysis Analysis
	for _, key := range keys {
		g := groups[key]

		commonTags := g.commonTags()
		modalLevel, consistency := g.modalLLMLevel()
		uniqueFiles := g.uniqueFiles()
		ruleID := ruleIDFor(g.language, g.sortedTags, g.conflictType)

		var failures []string
		if len(g.members) < minSampleCount {
			failures = append(failures, fmt.Sprintf("sample_count %d < %d", len(g.members), minSampleCount))
		}
		if consistency < minConsistency {
			failures = append(failures, fmt.Sprintf("consistency %.2f < %.2f", consistency, minConsistency))
		}
		if len(commonTags) < minCommonTags {
			failures = append(failures, fmt.Sprintf("common_tags %d < %d", len(commonTags), minCommonTags))
		}
		if uniqueFiles < minUniqueFiles {
			failures = append(failures, fmt.Sprintf("unique_files %d < %d", uniqueFiles, minUniqueFiles))
		}
		if !modalLevel.Valid() {
			failures = append(failures, "no modal llm decision")
		}

		if len(failures) == 0 {
			analysis.Rules = append(analysis.Rules, ApplicableRule{
				RuleID:                ruleID,
				Language:              g.language,
				RequiredTags:          commonTags,
				SuggestedContextLevel: modalLevel,
				Confidence:            minedConfidence(consistency, len(g.members)),
				SampleCount:           len(g.members),
				Consistency:           consistency,
				UniqueFiles:           uniqueFiles,
				ConflictType:          g.conflictType,
			})
			continue
		}

		analysis.Hints = append(analysis.Hints, ReferenceHint{
			RuleID:                ruleID,
			Language:              g.language,
			RequiredTags:          commonTags,
			SuggestedContextLevel: modalLevel,
			SampleCount:           len(g.members),
			Consistency:           consistency,
			UniqueFiles:           uniqueFiles,
			ConflictType:          g.conflictType,
			Reason:                strings.Join(failures, "; "),
		})
	}

	slog.Debug("conflict analysis complete",
		"records", len(records),
		"groups", len(groups),
		"rules", len(analysis.Rules),
		"hints", len(analysis.Hints))
	return analysis
}

// commonTags returns the tags present in at least commonTagShare of members,
// sorted.
func (g *group) commonTags() []string {
	counts := make(map[string]int)
	for _, rec := range g.members {
		for _, tag := range rec.Tags {
			counts[tag]++
		}
	}

	threshold := commonTagShare * float64(len(g.members))
	var common []string
	for tag, n := range counts {
		if float64(n) >= threshold {
			common = append(common, tag)
		}
	}
	sort.Strings(common)
	return common
}

// modalLLMLevel finds the most frequent valid planner level among members and
// its share of the whole group. It returns ContextUnknown when no member
// carried a valid level.
func (g *group) modalLLMLevel() (domain.ContextLevel, float64) {
	counts := make(map[domain.ContextLevel]int)
	for _, rec := range g.members {
		level := domain.NormalizeContextLevel(rec.Planner.ContextLevel)
		if level.Valid() {
			counts[level]++
		}
	}
	if len(counts) == 0 {
		return domain.ContextUnknown, 0
	}

	modal := domain.ContextUnknown
	best := 0
	for level, n := range counts {
		if n > best || (n == best && level.Rank() > modal.Rank()) {
			modal = level
			best = n
		}
	}
	return modal, float64(best) / float64(len(g.members))
}

func (g *group) uniqueFiles() int {
	files := make(map[string]bool)
	for _, rec := range g.members {
		files[rec.FilePath] = true
	}
	return len(files)
}

// minedConfidence rewards sample depth a little beyond the minimum, capped.
func minedConfidence(consistency float64, sampleCount int) float64 {
	extra := float64(sampleCount - minSampleCount)
	if extra > 10 {
		extra = 10
	}
	confidence := consistency * (1 + 0.01*extra)
	if confidence > maxMinedConfidence {
		confidence = maxMinedConfidence
	}
	return confidence
}

// ruleIDFor derives the stable rule id from the semantic feature key.
func ruleIDFor(language string, sortedTags []string, conflictType string) string {
	sum := sha256.Sum256([]byte(language + "|" + strings.Join(sortedTags, ",") + "|" + conflictType))
	return hex.EncodeToString(sum[:])[:12]
}

// Promote writes a mined rule into the learned store.
func (a *Analyzer) Promote(rule ApplicableRule) error {
	if a.store == nil {
		return fmt.Errorf("no learned rule store configured")
	}
	return a.store.Upsert(rule.Language, learned.Rule{
		RuleID:         rule.RuleID,
		RequiredTags:   rule.RequiredTags,
		ContextLevel:   rule.SuggestedContextLevel,
		BaseConfidence: rule.Confidence,
		Notes:          fmt.Sprintf("mined from %d %s conflicts", rule.SampleCount, rule.ConflictType),
		Source:         learned.SourceConflictLearning,
		SampleCount:    rule.SampleCount,
		Consistency:    rule.Consistency,
	})
}

// PromoteAll promotes every mined rule, stopping at the first store failure.
func (a *Analyzer) PromoteAll(analysis Analysis) (int, error) {
	for i, rule := range analysis.Rules {
		if err := a.Promote(rule); err != nil {
			return i, err
		}
	}
	return len(analysis.Rules), nil
}

// PromoteHint forces a hint into a rule at reduced confidence. The hint must
// still carry a usable context level and at least one tag.
func (a *Analyzer) PromoteHint(hint ReferenceHint) (learned.Rule, error) {
	if a.store == nil {
		return learned.Rule{}, fmt.Errorf("no learned rule store configured")
	}
	if !hint.SuggestedContextLevel.Valid() {
		return learned.Rule{}, fmt.Errorf("hint %s has no usable context level", hint.RuleID)
	}
	if len(hint.RequiredTags) == 0 {
		return learned.Rule{}, fmt.Errorf("hint %s has no required tags", hint.RuleID)
	}

	confidence := manualDefaultConfidence
	if hint.Consistency > 0 {
		confidence = 0.9 * hint.Consistency
		if confidence > manualConfidenceCap {
			confidence = manualConfidenceCap
		}
	}

	rule := learned.Rule{
		RuleID:         hint.RuleID,
		RequiredTags:   hint.RequiredTags,
		ContextLevel:   hint.SuggestedContextLevel,
		BaseConfidence: confidence,
		Notes:          "manually promoted: " + hint.Reason,
		Source:         learned.SourceManualPromotion,
		SampleCount:    hint.SampleCount,
		Consistency:    hint.Consistency,
	}
	if err := a.store.Upsert(hint.Language, rule); err != nil {
		return learned.Rule{}, err
	}

	slog.Info("hint promoted manually",
		"rule_id", hint.RuleID,
		"language", hint.Language,
		"confidence", confidence)
	return rule, nil
}
