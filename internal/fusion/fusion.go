package fusion

import (
	"log/slog"

	"review-triage/internal/config"
	"review-triage/internal/domain"
	"review-triage/internal/rules"
)

// Fuser reconciles the rule layer's per-unit scores with the planner's
// decisions into the final plan. It is deterministic: the same units and
// planner response always produce the same plan.
type Fuser struct{}

// NewFuser creates a Fuser.
func NewFuser() *Fuser {
	return &Fuser{}
}

// Fuse produces exactly one PlanItem per unit, preserving input order.
// planner may be nil or empty, in which case selection falls back to the
// rule layer alone.
func (f *Fuser) Fuse(units []domain.ReviewUnit, planner *domain.PlannerResponse) *domain.FusionPlan {
	decisions := make(map[string]domain.PlannerDecision)
	if planner != nil {
		for _, d := range planner.Plan {
			if d.UnitID == "" {
				continue
			}
			if _, dup := decisions[d.UnitID]; dup {
				continue
			}
			decisions[d.UnitID] = d
		}
	}

	plan := make([]domain.PlanItem, 0, len(units))
	selected, skipped := 0, 0

	for i := range units {
		unit := &units[i]

		item := domain.PlanItem{
			UnitID:           unit.UnitID,
			FilePath:         unit.FilePath,
			Language:         unit.Language,
			Tags:             unit.Tags,
			RuleContextLevel: unit.RuleContextLevel,
			RuleConfidence:   unit.RuleConfidence,
			RuleNotes:        unit.RuleNotes,
			ExtraRequests:    []domain.ExtraRequest{},
		}

		if unit.UnitID == "" {
			item.SkipReview = true
			item.Reason = config.ReasonDroppedMissingUnitID
			item.FinalContextLevel = ruleLevelOrDiffOnly(unit)
			plan = append(plan, item)
			skipped++
			continue
		}

		decision, mentioned := decisions[unit.UnitID]
		if !mentioned && !ruleSelected(unit) {
			item.SkipReview = true
			item.Reason = config.ReasonDroppedLowConfidence
			item.FinalContextLevel = ruleLevelOrDiffOnly(unit)
			plan = append(plan, item)
			skipped++
			continue
		}

		if mentioned {
			item.LLMContextLevel = decision.LLMContextLevel
			item.SkipReview = decision.SkipReview
			item.Reason = decision.Reason
			if len(decision.ExtraRequests) > 0 {
				item.ExtraRequests = decision.ExtraRequests
			} else if len(unit.RuleExtraRequests) > 0 {
				item.ExtraRequests = unit.RuleExtraRequests
			}
		} else {
			// Selected by the rule layer but never mentioned by the planner.
			item.Reason = fallbackReason(unit.RuleConfidence)
			if len(unit.RuleExtraRequests) > 0 {
				item.ExtraRequests = unit.RuleExtraRequests
			}
		}

		item.FinalContextLevel = finalLevel(unit.RuleConfidence, unit.RuleContextLevel, item.LLMContextLevel)
		plan = append(plan, item)
		selected++
	}

	slog.Debug("fusion complete", "units", len(units), "selected", selected, "skipped", skipped)
	return &domain.FusionPlan{Plan: plan}
}

// ruleLevelOrDiffOnly returns the unit's rule level when valid, else diff_only.
func ruleLevelOrDiffOnly(unit *domain.ReviewUnit) domain.ContextLevel {
	level := domain.NormalizeContextLevel(unit.RuleContextLevel)
	if level.Valid() {
		return level
	}
	return domain.ContextDiffOnly
}

// ruleSelected is the high/medium-risk predicate that widens the selected set
// beyond what the planner mentioned.
func ruleSelected(unit *domain.ReviewUnit) bool {
	if unit.RuleConfidence >= rules.ConfidenceMedium {
		return true
	}
	return unit.HasAnyTag(
		rules.TagSecuritySensitive, rules.TagConfigFile, rules.TagRoutingFile,
		rules.TagInSingleFunction, rules.TagCompleteFunction,
	)
}

// fallbackReason names the confidence band the rule-only selection came from.
func fallbackReason(confidence float64) string {
	switch {
	case confidence >= rules.ConfidenceHigh:
		return config.ReasonRuleHighFallback
	case confidence > rules.ConfidenceLow:
		return config.ReasonRuleMediumFallback
	default:
		return config.ReasonRuleLowFallback
	}
}

// finalLevel reconciles the two context levels by confidence band. At high
// rule confidence the planner can only expand, never demote; at low
// confidence the planner wins outright when it expressed a level; in between
// the higher level wins and the planner breaks ties.
func finalLevel(confidence float64, ruleLevel, llmLevel domain.ContextLevel) domain.ContextLevel {
	ruleRank := ruleLevel.Rank()
	llmRank := llmLevel.Rank()

	var final domain.ContextLevel
	switch {
	case confidence >= rules.ConfidenceHigh:
		if llmRank > ruleRank {
			final = llmLevel
		} else {
			final = ruleLevel
		}
	case confidence <= rules.ConfidenceLow:
		if llmRank >= 0 {
			final = llmLevel
		} else {
			final = ruleLevel
		}
	default:
		switch {
		case llmRank > ruleRank:
			final = llmLevel
		case ruleRank > llmRank:
			final = ruleLevel
		case llmRank >= 0:
			final = llmLevel
		default:
			final = ruleLevel
		}
	}

	final = domain.NormalizeContextLevel(final)
	if !final.Valid() {
		return domain.ContextDiffOnly
	}
	return final
}
