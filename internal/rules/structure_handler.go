package rules

import "review-triage/internal/domain"

// Structure tags derived from symbol containment.
const (
	TagInSingleFunction = "in_single_function"
	TagCompleteFunction = "complete_function"
	TagFunctionChange   = "function_change"
)

// structureHandler relates the hunk's new-line range to the enclosing symbol
// found by the unit builder.
type structureHandler struct{}

func (structureHandler) Name() string { return "structure" }

func (structureHandler) Evaluate(unit *domain.ReviewUnit) []Finding {
	sym := unit.Symbol
	if sym == nil {
		return nil
	}

	start, end := unit.HunkRange.NewRange()

	var findings []Finding

	if sym.StartLine >= start && sym.EndLine <= end {
		// The whole declaration arrived in this hunk.
		tags := []string{TagCompleteFunction}
		if sym.Kind == "function" {
			tags = append(tags, TagFunctionChange)
		}
		findings = append(findings, Finding{
			Tags:       tags,
			Level:      domain.ContextFunction,
			Confidence: 0.65,
			Note:       "structure:complete_function",
		})
	} else if start >= sym.StartLine && end <= sym.EndLine {
		tags := []string{TagInSingleFunction}
		if sym.Kind == "function" {
			tags = append(tags, TagFunctionChange)
		}
		findings = append(findings, Finding{
			Tags:       tags,
			Level:      domain.ContextFunction,
			Confidence: 0.6,
			Note:       "structure:in_single_function",
		})
	}

	return findings
}
