// Package pipeline drives one triage run end to end: collect the diff,
// build and score review units, consult the planner and the static scan in
// parallel, fuse both signals into a plan, and record what happened.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"review-triage/internal/collector"
	"review-triage/internal/config"
	"review-triage/internal/conflict"
	"review-triage/internal/domain"
	"review-triage/internal/metrics"
	"review-triage/internal/planner"
	"review-triage/internal/scan"
	"review-triage/internal/session"
	"review-triage/internal/storage"
)

// Stage names recorded on session workflow events.
const (
	stageCollect   = "collect"
	stageUnits     = "units"
	stagePlanner   = "planner"
	stageScan      = "static_scan"
	stageFusion    = "fusion"
	stageConflicts = "conflicts"
)

// Event types for pipeline progress. The scan service emits its own
// static_scan_* event types through the callback bridge.
const (
	eventStageComplete = "stage_complete"
	eventStageDegraded = "stage_degraded"
)

// Triage is a session-scoped pipeline run factory. One Triage value serves
// many runs; each Run call creates its own session.
type Triage struct {
	cfg  *config.Config
	deps Deps
}

func New(cfg *config.Config, deps Deps) *Triage {
	return &Triage{cfg: cfg, deps: deps}
}

// Run executes the pipeline once. Diff collection failures abort the run;
// every later stage degrades instead, leaving a stage_degraded event on the
// session so a reader can tell what was lost.
func (t *Triage) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	mode := t.cfg.Diff.Mode
	status := "error"
	defer func() {
		metrics.RunsTotal.WithLabelValues(mode, status).Inc()
		metrics.RunDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}()

	res, err := t.deps.Source.Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("collect diff: %w", err)
	}
	mode = res.Mode

	sess, err := t.deps.Sessions.Create("triage-"+res.Mode, t.deps.ProjectRoot, nil)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	id := sess.SessionID
	slog.Info("triage run started",
		"session_id", id, "mode", res.Mode, "base_ref", res.BaseRef, "diff_bytes", len(res.DiffText))
	t.event(id, session.WorkflowEvent{
		Type:  eventStageComplete,
		Stage: stageCollect,
		Payload: map[string]any{
			"mode":       res.Mode,
			"base_ref":   res.BaseRef,
			"diff_bytes": len(res.DiffText),
		},
	})

	units := t.buildUnits(id, res.DiffText)
	t.deps.Engine.ScoreAll(units)
	metrics.UnitsBuilt.Add(float64(len(units)))
	files := unitFiles(units)
	if err := t.deps.Sessions.SetDiffFiles(id, files); err != nil {
		slog.Error("failed to persist diff files", "session_id", id, "error", err)
	}
	if err := t.deps.Sessions.SetDiffUnits(id, units); err != nil {
		slog.Error("failed to persist diff units", "session_id", id, "error", err)
	}
	t.event(id, session.WorkflowEvent{
		Type:    eventStageComplete,
		Stage:   stageUnits,
		Payload: map[string]any{"units": len(units), "files": len(files)},
	})

	// The planner round-trip and the static scan are independent; neither
	// may fail the other, so both goroutines degrade in place and return nil.
	plannerResp := &domain.PlannerResponse{}
	ruleOnly := false
	var scanRes *scan.Result

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		plannerResp, ruleOnly = t.plan(gctx, id, res, units)
		return nil
	})
	g.Go(func() error {
		scanRes = t.deps.Scanner.Run(gctx, scan.Request{
			Files:       files,
			Units:       units,
			ProjectRoot: t.deps.ProjectRoot,
			SessionID:   id,
			Callback:    t.scanCallback(id),
			Cancelled:   func() bool { return t.deps.Sessions.IsCancelled(id) },
		})
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	plan := t.deps.Fuser.Fuse(units, plannerResp)
	t.event(id, session.WorkflowEvent{
		Type:    eventStageComplete,
		Stage:   stageFusion,
		Payload: map[string]any{"items": len(plan.Plan), "rule_only": ruleOnly},
	})

	conflicts := t.recordConflicts(id, units, plannerResp, plan)

	if scanRes != nil && scanRes.Linked != nil {
		if err := t.deps.Sessions.SetStaticScanLinked(id, scanRes.Linked); err != nil {
			slog.Error("failed to persist scan linkage", "session_id", id, "error", err)
		}
	}
	if err := t.deps.Sessions.SetStatus(id, session.StatusCompleted); err != nil {
		slog.Error("failed to complete session", "session_id", id, "error", err)
	}

	status = "success"
	if (scanRes != nil && scanRes.Cancelled) || ctx.Err() != nil {
		status = "cancelled"
	}

	runID := uuid.NewString()
	if t.deps.Repo != nil {
		rec := &storage.RunRecord{
			ID:         runID,
			SessionID:  id,
			Mode:       res.Mode,
			BaseRef:    res.BaseRef,
			UnitCount:  len(units),
			PlanCount:  len(plan.Plan),
			CreatedAt:  start,
			DurationMs: time.Since(start).Milliseconds(),
			Status:     status,
		}
		if err := t.deps.Repo.SaveRun(ctx, rec); err != nil {
			slog.Error("failed to record run", "run_id", runID, "session_id", id, "error", err)
		}
	}

	sum := &Summary{
		SessionID: id,
		RunID:     runID,
		Mode:      res.Mode,
		BaseRef:   res.BaseRef,
		UnitCount: len(units),
		Plan:      plan,
		RuleOnly:  ruleOnly,
		Conflicts: conflicts,
		Scan:      scanRes,
		Duration:  time.Since(start),
	}
	slog.Info("triage run finished",
		"session_id", id, "run_id", runID, "status", status,
		"units", len(units), "conflicts", conflicts, "duration", sum.Duration.Round(time.Millisecond))
	return sum, nil
}

// buildUnits parses the diff into review units. A malformed diff is not
// fatal: the run continues with zero units and an empty plan.
func (t *Triage) buildUnits(id, diffText string) []domain.ReviewUnit {
	units, err := t.deps.Units.Build(diffText)
	if err != nil {
		slog.Warn("unit build degraded, continuing with no units", "session_id", id, "error", err)
		t.event(id, session.WorkflowEvent{
			Type:    eventStageDegraded,
			Stage:   stageUnits,
			Content: err.Error(),
		})
		return nil
	}
	return units
}

// plan asks the planner backend for per-unit decisions. Any failure falls
// back to an empty response so fusion proceeds on rule scores alone.
func (t *Triage) plan(ctx context.Context, id string, res collector.Result, units []domain.ReviewUnit) (*domain.PlannerResponse, bool) {
	if len(units) == 0 {
		return &domain.PlannerResponse{}, false
	}
	resp, err := t.requestPlan(ctx, id, res, units)
	if err != nil {
		slog.Warn("planner degraded, fusing on rule scores alone",
			"session_id", id, "backend", t.deps.Planner.Name(), "error", err)
		t.event(id, session.WorkflowEvent{
			Type:    eventStageDegraded,
			Stage:   stagePlanner,
			Content: err.Error(),
		})
		return &domain.PlannerResponse{}, true
	}
	t.event(id, session.WorkflowEvent{
		Type:  eventStageComplete,
		Stage: stagePlanner,
		Payload: map[string]any{
			"backend":   t.deps.Planner.Name(),
			"decisions": len(resp.Plan),
		},
	})
	return resp, false
}

func (t *Triage) requestPlan(ctx context.Context, id string, res collector.Result, units []domain.ReviewUnit) (*domain.PlannerResponse, error) {
	meta := planner.Metadata{SessionID: id, Mode: res.Mode, BaseRef: res.BaseRef}
	req, err := planner.BuildIndex(meta, units).Request(t.cfg.Planner.IndexByteBudget)
	if err != nil {
		return nil, err
	}
	return t.deps.Planner.Plan(ctx, req)
}

// recordConflicts feeds every unit's rule/planner pair to the conflict
// tracker and reports how many conflicts this session produced.
func (t *Triage) recordConflicts(id string, units []domain.ReviewUnit, resp *domain.PlannerResponse, plan *domain.FusionPlan) int {
	tracker := conflict.NewTracker(t.deps.ConflictsDir, id)
	decisions := make(map[string]*domain.PlannerDecision, len(resp.Plan))
	for i := range resp.Plan {
		decisions[resp.Plan[i].UnitID] = &resp.Plan[i]
	}
	for i := range units {
		final := plan.Plan[i].FinalContextLevel
		if _, err := tracker.Observe(&units[i], decisions[units[i].UnitID], final); err != nil {
			slog.Warn("conflict record failed", "session_id", id, "unit_id", units[i].UnitID, "error", err)
		}
	}
	records := tracker.SessionConflicts()
	if len(records) > 0 {
		t.event(id, session.WorkflowEvent{
			Type:    eventStageComplete,
			Stage:   stageConflicts,
			Payload: map[string]any{"conflicts": len(records)},
		})
	}
	return len(records)
}

// scanCallback bridges scan service events onto the session timeline.
func (t *Triage) scanCallback(id string) scan.Callback {
	return func(ev scan.Event) {
		t.event(id, session.WorkflowEvent{
			Type:      ev.Type,
			Stage:     stageScan,
			Payload:   ev.Payload,
			Timestamp: ev.Timestamp,
		})
	}
}

func (t *Triage) event(id string, ev session.WorkflowEvent) {
	if err := t.deps.Sessions.AppendWorkflowEvent(id, ev); err != nil {
		slog.Error("failed to append workflow event",
			"session_id", id, "type", ev.Type, "stage", ev.Stage, "error", err)
	}
}

// unitFiles returns the distinct file paths touched by the units, first
// mention first.
func unitFiles(units []domain.ReviewUnit) []string {
	seen := make(map[string]struct{}, len(units))
	files := make([]string, 0, len(units))
	for i := range units {
		if _, ok := seen[units[i].FilePath]; ok {
			continue
		}
		seen[units[i].FilePath] = struct{}{}
		files = append(files, units[i].FilePath)
	}
	return files
}
