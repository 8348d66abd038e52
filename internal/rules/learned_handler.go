package rules

import (
	"sort"
	"strings"

	"review-triage/internal/domain"
	"review-triage/internal/learned"
)

// learnedHandler runs last in the chain so rules match against the tags the
// builtin handlers already attached.
type learnedHandler struct {
	store *learned.Store
}

func (learnedHandler) Name() string { return "learned" }

func (h learnedHandler) Evaluate(unit *domain.ReviewUnit) []Finding {
	rules := h.store.RulesFor(unit.Language)
	if len(rules) == 0 {
		return nil
	}

	var findings []Finding
	for _, rule := range rules {
		if !rule.Matches(unit.Tags) {
			continue
		}

		confidence := rule.BaseConfidence
		if confidence > learnedConfidenceCap {
			confidence = learnedConfidenceCap
		}

		findings = append(findings, Finding{
			Level:      rule.ContextLevel,
			Confidence: confidence,
			Note:       learnedNote(rule.RequiredTags),
		})
	}
	return findings
}

// learnedNote builds the stable grouping key "learned:<tag1>+<tag2>".
func learnedNote(requiredTags []string) string {
	tags := make([]string, len(requiredTags))
	copy(tags, requiredTags)
	sort.Strings(tags)
	return "learned:" + strings.Join(tags, "+")
}
