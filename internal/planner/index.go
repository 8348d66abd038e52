package planner

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"review-triage/internal/config"
	"review-triage/internal/domain"
	"review-triage/internal/rules"

	"github.com/tidwall/sjson"
)

// Metadata identifies the run the index describes. It carries no timestamps,
// and the intent cache strips the whole block before hashing, so reruns of
// the same diff replay the stored plan.
type Metadata struct {
	SessionID string `json:"session_id"`
	Mode      string `json:"mode"`
	BaseRef   string `json:"base_ref,omitempty"`
}

// Summary totals what the index contains.
type Summary struct {
	TotalUnits   int `json:"total_units"`
	TotalFiles   int `json:"total_files"`
	AddedLines   int `json:"added_lines"`
	RemovedLines int `json:"removed_lines"`
}

// IndexUnit is the per-unit view the planner ranks. Snippets are present for
// every unit initially; slimming may strip them from low-risk units when the
// document runs over budget.
type IndexUnit struct {
	UnitID           string               `json:"unit_id"`
	FilePath         string               `json:"file_path"`
	PatchType        string               `json:"patch_type"`
	Tags             []string             `json:"tags"`
	Metrics          domain.UnitMetrics   `json:"metrics"`
	RuleContextLevel domain.ContextLevel  `json:"rule_context_level"`
	RuleConfidence   float64              `json:"rule_confidence"`
	LineNumbers      LineNumbers          `json:"line_numbers"`
	Snippets         domain.CodeSnippets  `json:"code_snippets"`
}

// LineNumbers is the new-file range a unit covers.
type LineNumbers struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// IndexFile groups a file's changes with their rendered diffs.
type IndexFile struct {
	FilePath string       `json:"file_path"`
	Language string       `json:"language"`
	Changes  []FileChange `json:"changes"`
}

// FileChange is one hunk's gutter-rendered diff plus the rule suggestion.
type FileChange struct {
	UnitID         string         `json:"unit_id"`
	PatchType      string         `json:"patch_type"`
	UnifiedDiff    string         `json:"unified_diff_with_lines"`
	Symbol         *domain.Symbol `json:"symbol,omitempty"`
	RuleSuggestion RuleSuggestion `json:"rule_suggestion"`
}

// RuleSuggestion is the rule layer's verdict embedded per change.
type RuleSuggestion struct {
	ContextLevel domain.ContextLevel `json:"context_level"`
	Confidence   float64             `json:"confidence"`
	Notes        []string            `json:"notes,omitempty"`
}

// Index is the document sent to the planner backend.
type Index struct {
	ReviewMetadata Metadata    `json:"review_metadata"`
	Summary        Summary     `json:"summary"`
	Units          []IndexUnit `json:"units"`
	Files          []IndexFile `json:"files"`
}

// BuildIndex assembles the planner index from scored units. Units keep their
// diff order; files appear in first-mention order.
func BuildIndex(meta Metadata, units []domain.ReviewUnit) *Index {
	idx := &Index{
		ReviewMetadata: meta,
		Units:          make([]IndexUnit, 0, len(units)),
		Files:          []IndexFile{},
	}

	var fileOrder []string
	changes := make(map[string][]FileChange)

	for _, u := range units {
		start, end := u.HunkRange.NewRange()
		idx.Units = append(idx.Units, IndexUnit{
			UnitID:           u.UnitID,
			FilePath:         u.FilePath,
			PatchType:        string(u.ChangeType),
			Tags:             u.Tags,
			Metrics:          u.Metrics,
			RuleContextLevel: u.RuleContextLevel,
			RuleConfidence:   u.RuleConfidence,
			LineNumbers:      LineNumbers{Start: start, End: end},
			Snippets:         u.Snippets,
		})

		if _, seen := changes[u.FilePath]; !seen {
			fileOrder = append(fileOrder, u.FilePath)
		}
		changes[u.FilePath] = append(changes[u.FilePath], FileChange{
			UnitID:      u.UnitID,
			PatchType:   string(u.ChangeType),
			UnifiedDiff: u.UnifiedDiff,
			Symbol:      u.Symbol,
			RuleSuggestion: RuleSuggestion{
				ContextLevel: u.RuleContextLevel,
				Confidence:   u.RuleConfidence,
				Notes:        u.RuleNotes,
			},
		})

		idx.Summary.AddedLines += u.Metrics.AddedLines
		idx.Summary.RemovedLines += u.Metrics.RemovedLines
	}

	for _, path := range fileOrder {
		idx.Files = append(idx.Files, IndexFile{
			FilePath: path,
			Language: domain.DetectLanguage(path),
			Changes:  changes[path],
		})
	}

	idx.Summary.TotalUnits = len(idx.Units)
	idx.Summary.TotalFiles = len(idx.Files)
	return idx
}

// Request serializes the index for one backend round trip. When the document
// exceeds budget, snippets are stripped from the lowest-risk units first, so
// high-risk units keep theirs. budget <= 0 disables slimming.
func (idx *Index) Request(budget int) (*Request, error) {
	data, err := json.Marshal(idx)
	if err != nil {
		return nil, fmt.Errorf("marshal index: %w", err)
	}

	if budget > 0 && len(data) > budget {
		data = idx.slim(data, budget)
	}

	return &Request{
		IndexJSON: data,
		Language:  idx.language(),
		Units:     len(idx.Units),
	}, nil
}

// slim strips snippet fields from units in ascending risk order: the context
// snippet first, then the before snippet, then truncation as a last resort.
func (idx *Index) slim(data []byte, budget int) []byte {
	order := idx.slimOrder()

	for _, field := range []string{"context", "before"} {
		for _, i := range order {
			if len(data) <= budget {
				return data
			}
			path := fmt.Sprintf("units.%d.code_snippets.%s", i, field)
			slimmed, err := sjson.DeleteBytes(data, path)
			if err != nil {
				slog.Warn("index slimming failed", "path", path, "error", err)
				continue
			}
			data = slimmed
		}
	}

	if len(data) > budget {
		slog.Warn("index still over budget after slimming, truncating",
			"size", len(data), "budget", budget)
		data = append(data[:budget], []byte(config.MarkerTruncated)...)
	}
	return data
}

// slimOrder returns unit positions sorted ascending by risk, so the least
// risky units lose their snippets first.
func (idx *Index) slimOrder() []int {
	order := make([]int, len(idx.Units))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return idx.riskScore(order[a]) < idx.riskScore(order[b])
	})
	return order
}

func (idx *Index) riskScore(i int) float64 {
	u := idx.Units[i]
	score := u.RuleConfidence
	for _, tag := range u.Tags {
		switch tag {
		case rules.TagSecuritySensitive:
			score += 1.0
		case rules.TagConfigFile, rules.TagRoutingFile:
			score += 0.5
		}
	}
	return score
}

func (idx *Index) language() string {
	files := make([]string, len(idx.Files))
	for i, f := range idx.Files {
		files[i] = f.FilePath
	}
	return domain.PrimaryLanguage(files)
}
