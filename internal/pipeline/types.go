package pipeline

import (
	"context"
	"time"

	"review-triage/internal/collector"
	"review-triage/internal/domain"
	"review-triage/internal/fusion"
	"review-triage/internal/planner"
	"review-triage/internal/scan"
	"review-triage/internal/session"
	"review-triage/internal/storage"
)

// DiffSource produces the unified diff for the run.
type DiffSource interface {
	Collect(ctx context.Context) (collector.Result, error)
}

// UnitSource turns diff text into review units.
type UnitSource interface {
	Build(diffText string) ([]domain.ReviewUnit, error)
}

// Scorer applies the rule layer to units in place.
type Scorer interface {
	ScoreAll(units []domain.ReviewUnit)
}

// ScanRunner executes the static scan side service.
type ScanRunner interface {
	Run(ctx context.Context, req scan.Request) *scan.Result
}

// Deps bundles the collaborators of one triage pipeline. Repo may be nil;
// run bookkeeping is then skipped.
type Deps struct {
	Source   DiffSource
	Units    UnitSource
	Engine   Scorer
	Planner  planner.Planner
	Scanner  ScanRunner
	Fuser    *fusion.Fuser
	Sessions *session.Store
	Repo     storage.Repository

	// ConflictsDir is where per-run conflict trackers persist their records.
	ConflictsDir string
	// ProjectRoot anchors scanner execution and the session header.
	ProjectRoot string
}

// Summary is what one run reports back to the caller.
type Summary struct {
	SessionID string
	RunID     string
	Mode      string
	BaseRef   string
	UnitCount int

	Plan *domain.FusionPlan
	// RuleOnly is set when the planner failed and fusion fell back to rule
	// scores alone.
	RuleOnly  bool
	Conflicts int
	Scan      *scan.Result

	Duration time.Duration
}
