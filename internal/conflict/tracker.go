package conflict

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"review-triage/internal/domain"
	"review-triage/internal/metrics"
	"review-triage/internal/rules"
	"review-triage/internal/types"
)

// Conflict types, in detection order. Exactly one fires per unit.
const (
	TypeRuleHighLLMExpand    = "rule_high_llm_expand"
	TypeRuleHighLLMSkip      = "rule_high_llm_skip"
	TypeRuleLowLLMConsistent = "rule_low_llm_consistent"
	TypeContextLevelMismatch = "context_level_mismatch"
)

// RuleDecision is the rule layer's side of a conflict, snapshotted at fusion
// time so later analysis does not depend on the unit surviving.
type RuleDecision struct {
	ContextLevel domain.ContextLevel `json:"context_level"`
	Confidence   float64             `json:"confidence"`
	Notes        []string            `json:"notes,omitempty"`
}

// PlannerSnapshot is the planner's side of a conflict.
type PlannerSnapshot struct {
	ContextLevel domain.ContextLevel `json:"context_level,omitempty"`
	SkipReview   bool                `json:"skip_review"`
	Reason       string              `json:"reason,omitempty"`
}

// Record is one persisted rule/planner conflict.
type Record struct {
	ConflictType string              `json:"conflict_type"`
	SessionID    string              `json:"session_id,omitempty"`
	UnitID       string              `json:"unit_id"`
	FilePath     string              `json:"file_path"`
	Language     string              `json:"language"`
	Tags         []string            `json:"tags"`
	Rule         RuleDecision        `json:"rule_decision"`
	Planner      PlannerSnapshot     `json:"planner_decision"`
	FinalLevel   domain.ContextLevel `json:"final_context_level"`
	Symbol       *domain.Symbol      `json:"symbol,omitempty"`
	Timestamp    time.Time           `json:"timestamp"`
}

// Tracker detects rule/planner disagreements at the fusion boundary and
// persists each one as its own JSON file, so a crash never loses more than
// the record being written.
type Tracker struct {
	dir       string
	sessionID string

	mu      sync.Mutex
	session []Record
}

// NewTracker creates a tracker writing into dir. The directory is created on
// first use, not here, so a disabled tracker leaves no trace.
func NewTracker(dir, sessionID string) *Tracker {
	return &Tracker{dir: dir, sessionID: sessionID}
}

// Dir returns the conflicts directory.
func (t *Tracker) Dir() string { return t.dir }

// Detect classifies the disagreement between a unit's rule decision and the
// planner's decision. It returns the conflict type, or "" when the two agree
// closely enough. Rules are evaluated in declaration order; the first match
// wins.
func Detect(unit *domain.ReviewUnit, decision *domain.PlannerDecision) string {
	var llm domain.ContextLevel
	skip := false
	if decision != nil {
		llm = decision.LLMContextLevel
		skip = decision.SkipReview
	}

	ruleRank := unit.RuleContextLevel.Rank()
	llmRank := llm.Rank()
	conf := unit.RuleConfidence

	switch {
	case conf >= rules.ConfidenceHigh && llmRank > ruleRank && llmRank >= 0:
		return TypeRuleHighLLMExpand
	case conf >= rules.ConfidenceHigh && skip &&
		domain.NormalizeContextLevel(unit.RuleContextLevel) != domain.ContextDiffOnly:
		return TypeRuleHighLLMSkip
	case conf < rules.ConfidenceLow && llmRank >= 0:
		return TypeRuleLowLLMConsistent
	case conf >= rules.ConfidenceLow && conf < rules.ConfidenceHigh &&
		llmRank >= 0 && abs(llmRank-ruleRank) > 1:
		return TypeContextLevelMismatch
	}
	return ""
}

// Observe runs detection for one unit and, when a conflict fires, persists it
// and appends it to the in-memory session list. It returns the record, nil
// when the unit is conflict-free.
func (t *Tracker) Observe(unit *domain.ReviewUnit, decision *domain.PlannerDecision, final domain.ContextLevel) (*Record, error) {
	conflictType := Detect(unit, decision)
	if conflictType == "" {
		return nil, nil
	}

	rec := Record{
		ConflictType: conflictType,
		SessionID:    t.sessionID,
		UnitID:       unit.UnitID,
		FilePath:     unit.FilePath,
		Language:     unit.Language,
		Tags:         append([]string(nil), unit.Tags...),
		Rule: RuleDecision{
			ContextLevel: unit.RuleContextLevel,
			Confidence:   unit.RuleConfidence,
			Notes:        append([]string(nil), unit.RuleNotes...),
		},
		FinalLevel: final,
		Symbol:     unit.Symbol,
		Timestamp:  time.Now().UTC(),
	}
	if decision != nil {
		rec.Planner = PlannerSnapshot{
			ContextLevel: decision.LLMContextLevel,
			SkipReview:   decision.SkipReview,
			Reason:       decision.Reason,
		}
	}

	if err := t.persist(&rec); err != nil {
		return nil, err
	}
	metrics.ConflictsDetected.WithLabelValues(conflictType).Inc()

	t.mu.Lock()
	t.session = append(t.session, rec)
	t.mu.Unlock()

	slog.Info("conflict recorded",
		"type", conflictType,
		"unit_id", unit.UnitID,
		"file", unit.FilePath,
		"rule_level", unit.RuleContextLevel,
		"rule_confidence", unit.RuleConfidence)
	return &rec, nil
}

// SessionConflicts returns a copy of the conflicts recorded since the tracker
// was created.
func (t *Tracker) SessionConflicts() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Record, len(t.session))
	copy(out, t.session)
	return out
}

// persist writes the record atomically under a timestamped filename. On a
// microsecond collision the timestamp is nudged forward until the name is
// free.
func (t *Tracker) persist(rec *Record) error {
	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		return &types.PersistenceError{Path: t.dir, Err: fmt.Errorf("create conflicts dir: %w", err)}
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return &types.PersistenceError{Path: t.dir, Err: fmt.Errorf("marshal conflict: %w", err)}
	}

	ts := rec.Timestamp
	var path string
	for {
		path = filepath.Join(t.dir, conflictFilename(ts, rec.ConflictType))
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			break
		}
		ts = ts.Add(time.Microsecond)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &types.PersistenceError{Path: tmp, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return &types.PersistenceError{Path: path, Err: err}
	}
	return nil
}

// conflictFilename renders "YYYYMMDD_HHMMSS_ffffff_<type>.json" so age and
// type are readable without touching file metadata.
func conflictFilename(ts time.Time, conflictType string) string {
	return fmt.Sprintf("%s_%06d_%s.json", ts.Format("20060102_150405"), ts.Nanosecond()/1000, conflictType)
}

// parseConflictFilename recovers the timestamp and type from a conflict
// filename. ok is false for files that do not follow the naming scheme.
func parseConflictFilename(name string) (ts time.Time, conflictType string, ok bool) {
	base := strings.TrimSuffix(name, ".json")
	if base == name {
		return time.Time{}, "", false
	}
	parts := strings.SplitN(base, "_", 4)
	if len(parts) != 4 {
		return time.Time{}, "", false
	}
	stamp, err := time.Parse("20060102_150405", parts[0]+"_"+parts[1])
	if err != nil {
		return time.Time{}, "", false
	}
	var micros int
	if _, err := fmt.Sscanf(parts[2], "%d", &micros); err != nil || len(parts[2]) != 6 {
		return time.Time{}, "", false
	}
	return stamp.Add(time.Duration(micros) * time.Microsecond), parts[3], true
}

// LoadAll reads every conflict record in the tracker's directory, oldest
// first. A missing directory yields an empty slice.
func (t *Tracker) LoadAll() ([]Record, error) {
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &types.PersistenceError{Path: t.dir, Err: err}
	}

	var records []Record
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(t.dir, entry.Name()))
		if err != nil {
			slog.Warn("conflict file unreadable", "file", entry.Name(), "error", err)
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			slog.Warn("conflict file malformed", "file", entry.Name(), "error", err)
			continue
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Timestamp.Before(records[j].Timestamp) })
	return records, nil
}

// Cleanup deletes conflict files older than maxAgeDays, then evicts
// oldest-first until at most maxCount remain. File age comes from the
// filename when parseable, else from mtime. It returns the number of files
// removed.
func (t *Tracker) Cleanup(maxAgeDays, maxCount int) (int, error) {
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, &types.PersistenceError{Path: t.dir, Err: err}
	}

	type aged struct {
		name string
		ts   time.Time
	}
	var files []aged
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		ts, _, ok := parseConflictFilename(entry.Name())
		if !ok {
			info, infoErr := entry.Info()
			if infoErr != nil {
				continue
			}
			ts = info.ModTime()
		}
		files = append(files, aged{name: entry.Name(), ts: ts})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].ts.Before(files[j].ts) })

	cutoff := time.Now().AddDate(0, 0, -maxAgeDays)
	removed := 0
	kept := files[:0]
	for _, f := range files {
		if maxAgeDays > 0 && f.ts.Before(cutoff) {
			if err := os.Remove(filepath.Join(t.dir, f.name)); err != nil {
				slog.Warn("conflict cleanup failed", "file", f.name, "error", err)
				kept = append(kept, f)
				continue
			}
			removed++
			continue
		}
		kept = append(kept, f)
	}

	if maxCount > 0 && len(kept) > maxCount {
		for _, f := range kept[:len(kept)-maxCount] {
			if err := os.Remove(filepath.Join(t.dir, f.name)); err != nil {
				slog.Warn("conflict cleanup failed", "file", f.name, "error", err)
				continue
			}
			removed++
		}
	}

	if removed > 0 {
		slog.Info("conflicts cleaned up", "removed", removed, "max_age_days", maxAgeDays, "max_count", maxCount)
	}
	return removed, nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
