package rules

import "review-triage/internal/domain"

// Size tags from the unit metrics.
const (
	TagLargeChange   = "large_change"
	TagTrivialChange = "trivial_change"
)

const (
	largeChangeLines   = 100
	trivialChangeLines = 2
)

type metricsHandler struct{}

func (metricsHandler) Name() string { return "metrics" }

func (metricsHandler) Evaluate(unit *domain.ReviewUnit) []Finding {
	total := unit.Metrics.AddedLines + unit.Metrics.RemovedLines

	switch {
	case total > largeChangeLines:
		return []Finding{{
			Tags:       []string{TagLargeChange},
			Level:      domain.ContextFileContext,
			Confidence: 0.6,
			Note:       "metrics:large_change",
		}}
	case total <= trivialChangeLines:
		return []Finding{{
			Tags:       []string{TagTrivialChange},
			Level:      domain.ContextDiffOnly,
			Confidence: 0.4,
			Note:       "metrics:trivial_change",
		}}
	}
	return nil
}
