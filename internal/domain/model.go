package domain

// ChangeType classifies how a unit's file changed. Pure deletions never
// produce units, so there is no delete variant.
type ChangeType string

const (
	ChangeAdd    ChangeType = "add"
	ChangeModify ChangeType = "modify"
)

// HunkRange holds the unified-diff header positions for one hunk.
type HunkRange struct {
	OldStart int `json:"old_start"`
	OldLines int `json:"old_lines"`
	NewStart int `json:"new_start"`
	NewLines int `json:"new_lines"`
}

// NewRange returns the inclusive new-file line span covered by the hunk.
// Zero-length hunks still occupy a single line.
func (h HunkRange) NewRange() (start, end int) {
	lines := h.NewLines
	if lines < 1 {
		lines = 1
	}
	return h.NewStart, h.NewStart + lines - 1
}

// CodeSnippets carries the textual views of a unit: the pre-image, the
// post-image and the widened context pulled from the current file content.
type CodeSnippets struct {
	Before  string `json:"before"`
	After   string `json:"after"`
	Context string `json:"context"`
}

// UnitMetrics are the line-count measurements of one hunk.
type UnitMetrics struct {
	AddedLines   int `json:"added_lines"`
	RemovedLines int `json:"removed_lines"`
}

// Symbol is the enclosing declaration a unit falls into, when one was found.
type Symbol struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// ExtraRequest asks for additional context beyond the final context level,
// e.g. {"type": "callers"} or {"type": "file", "details": "config/urls.py"}.
type ExtraRequest struct {
	Type    string `json:"type"`
	Details string `json:"details,omitempty"`
}

// ReviewUnit is one hunk of one file, carrying enough metadata to be reviewed
// independently. UnitID is unique and immutable within a run.
type ReviewUnit struct {
	UnitID     string       `json:"unit_id"`
	FilePath   string       `json:"file_path"`
	Language   string       `json:"language"`
	ChangeType ChangeType   `json:"change_type"`
	HunkRange  HunkRange    `json:"hunk_range"`
	Snippets   CodeSnippets `json:"code_snippets"`

	// ContextStart/ContextEnd bound the Snippets.Context window in new-file
	// line numbers. When the file is absent they fall back to the hunk range.
	ContextStart int `json:"context_start"`
	ContextEnd   int `json:"context_end"`

	// UnifiedDiff is the hunk rendered with an old/new line-number gutter,
	// the per-change form the planner index embeds.
	UnifiedDiff string `json:"unified_diff_with_lines,omitempty"`

	Metrics UnitMetrics `json:"metrics"`
	Tags    []string    `json:"tags"`

	RuleContextLevel  ContextLevel   `json:"rule_context_level"`
	RuleConfidence    float64        `json:"rule_confidence"`
	RuleNotes         []string       `json:"rule_notes"`
	RuleExtraRequests []ExtraRequest `json:"rule_extra_requests,omitempty"`

	Symbol *Symbol `json:"symbol,omitempty"`
}

// HasTag reports whether the unit carries the given tag.
func (u *ReviewUnit) HasTag(tag string) bool {
	for _, t := range u.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// HasAnyTag reports whether the unit carries at least one of the given tags.
func (u *ReviewUnit) HasAnyTag(tags ...string) bool {
	for _, t := range tags {
		if u.HasTag(t) {
			return true
		}
	}
	return false
}

// PlannerDecision is one per-unit entry of the planner response. A nil or
// empty LLMContextLevel means the planner expressed no level.
type PlannerDecision struct {
	UnitID          string         `json:"unit_id"`
	LLMContextLevel ContextLevel   `json:"llm_context_level,omitempty"`
	SkipReview      bool           `json:"skip_review,omitempty"`
	Reason          string         `json:"reason,omitempty"`
	ExtraRequests   []ExtraRequest `json:"extra_requests,omitempty"`
}

// PlannerResponse is the parsed planner output.
type PlannerResponse struct {
	Plan []PlannerDecision `json:"plan"`
}

// PlanItem is the fused decision for one unit. Rule fields are carried over
// verbatim from the unit so the item is self-describing.
type PlanItem struct {
	UnitID   string   `json:"unit_id"`
	FilePath string   `json:"file_path"`
	Language string   `json:"language"`
	Tags     []string `json:"tags"`

	RuleContextLevel ContextLevel `json:"rule_context_level"`
	RuleConfidence   float64      `json:"rule_confidence"`
	RuleNotes        []string     `json:"rule_notes"`

	LLMContextLevel   ContextLevel   `json:"llm_context_level,omitempty"`
	FinalContextLevel ContextLevel   `json:"final_context_level"`
	ExtraRequests     []ExtraRequest `json:"extra_requests"`
	SkipReview        bool           `json:"skip_review"`
	Reason            string         `json:"reason,omitempty"`
}

// FusionPlan is the fusion output: exactly one PlanItem per input unit, in
// input order.
type FusionPlan struct {
	Plan []PlanItem `json:"plan"`
}

// Severity levels for scanner issues, ordered error < warning < info for
// sorting purposes.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
	SeverityInfo    = "info"
)

// SeverityRank orders severities for aggregation; unknown severities sort
// after info.
func SeverityRank(severity string) int {
	switch severity {
	case SeverityError:
		return 0
	case SeverityWarning:
		return 1
	case SeverityInfo:
		return 2
	default:
		return 3
	}
}

// ScannerIssue is one normalized finding from a static scanner.
type ScannerIssue struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Column   int    `json:"column,omitempty"`
	Severity string `json:"severity"`
	RuleID   string `json:"rule_id,omitempty"`
	Message  string `json:"message,omitempty"`
	Source   string `json:"source"`
}
