package scan

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"review-triage/internal/config"
	"review-triage/internal/domain"
	"review-triage/internal/metrics"
	"review-triage/internal/rules"
	"review-triage/internal/types"
)

// topIssuesInComplete caps how many issues ride along in the completion
// event; the full set stays in the result.
const topIssuesInComplete = 50

// configPathKeywords add risk weight below the security keywords.
var configPathKeywords = []string{"config", "settings", "env", "yaml", "toml"}

// Event is one scan progress notification.
type Event struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Callback receives scan events. Callbacks are best-effort: a panic inside
// one is logged and never aborts the scan.
type Callback func(Event)

// LinkedIssues maps scanner issues onto the units whose hunk ranges cover
// them. It is persisted verbatim as the session's static_scan_linked block.
type LinkedIssues struct {
	Units         []domain.ReviewUnit              `json:"diff_units"`
	UnitIssues    map[string][]domain.ScannerIssue `json:"unit_issues"`
	MappedCount   int                              `json:"mapped_count"`
	UnmappedCount int                              `json:"unmapped_count"`
}

// Result is the outcome of one scan run.
type Result struct {
	FilesTotal       int                              `json:"files_total"`
	FilesScanned     int                              `json:"files_scanned"`
	Skipped          map[string]int                   `json:"skipped"`
	ScannersUsed     []string                         `json:"scanners_used"`
	Issues           []domain.ScannerIssue            `json:"issues"`
	IssuesBySeverity map[string][]domain.ScannerIssue `json:"issues_by_severity"`
	Linked           *LinkedIssues                    `json:"linked"`
	Duration         time.Duration                    `json:"duration"`
	Cancelled        bool                             `json:"cancelled"`
}

// Request carries everything one scan run needs.
type Request struct {
	Files       []string
	Units       []domain.ReviewUnit
	ProjectRoot string
	SessionID   string
	Callback    Callback
	// Cancelled is polled between files; nil means never cancelled.
	Cancelled func() bool
}

// Service runs the available scanners across the changed files without
// blocking the planner path of the pipeline.
type Service struct {
	cfg      config.ScanConfig
	registry *Registry
	cache    *Cache

	readFile func(path string) ([]byte, error)
}

// NewService wires the scan service. registry and cache are shared across
// runs; scanner binary presence and file-content results both outlive one
// session.
func NewService(cfg config.ScanConfig, registry *Registry, cache *Cache) *Service {
	return &Service{
		cfg:      cfg,
		registry: registry,
		cache:    cache,
		readFile: os.ReadFile,
	}
}

// scanFile is one ranked, scannable file.
type scanFile struct {
	path     string
	language string
	score    int
	scanners []Scanner
}

// Run executes the scan: dedupe and rank files, probe scanners once per
// language, fan file scans out over the worker pool, then aggregate, sort
// and link the issues.
func (s *Service) Run(ctx context.Context, req Request) *Result {
	start := time.Now()

	result := &Result{
		Skipped:          make(map[string]int),
		IssuesBySeverity: make(map[string][]domain.ScannerIssue),
	}

	files := s.rankFiles(ctx, req.Files, req.Units, result.Skipped)
	result.FilesTotal = len(files)

	s.emit(req.Callback, config.EventScanStart, map[string]any{
		"session_id":  req.SessionID,
		"files_total": len(files),
		"skipped":     copyCounts(result.Skipped),
	})

	var (
		mu           sync.Mutex
		issues       []domain.ScannerIssue
		scannersUsed = make(map[string]bool)
		done         int
	)

	pool := NewWorkerPool(s.cfg.Workers, s.cfg.QueueSize)
	pool.Start()

	cancelled := false
	for _, file := range files {
		if req.Cancelled != nil && req.Cancelled() {
			cancelled = true
			mu.Lock()
			result.Skipped["cancelled"]++
			mu.Unlock()
			continue
		}

		f := file
		job := func(jobCtx context.Context) error {
			if req.Cancelled != nil && req.Cancelled() {
				mu.Lock()
				result.Skipped["cancelled"]++
				mu.Unlock()
				return nil
			}

			s.emit(req.Callback, config.EventScanFileStart, map[string]any{
				"file":     f.path,
				"language": f.language,
			})

			fileIssues := s.scanOne(jobCtx, req.ProjectRoot, f, &mu, result.Skipped, scannersUsed)

			mu.Lock()
			issues = append(issues, fileIssues...)
			result.FilesScanned++
			done++
			progress := float64(done) / float64(len(files))
			mu.Unlock()

			s.emit(req.Callback, config.EventScanFileDone, map[string]any{
				"file":     f.path,
				"issues":   len(fileIssues),
				"progress": progress,
			})
			return nil
		}

		if err := pool.Submit(job); err != nil {
			// Queue full: run inline for backpressure.
			if errors.Is(err, ErrQueueFull) {
				_ = job(ctx)
			}
		}
	}

	pool.Stop()

	sortIssues(issues)
	result.Issues = issues
	result.Cancelled = cancelled

	for _, issue := range issues {
		sev := issue.Severity
		if len(result.IssuesBySeverity[sev]) < s.maxIssuesPerSeverity() {
			result.IssuesBySeverity[sev] = append(result.IssuesBySeverity[sev], issue)
		}
	}

	for name := range scannersUsed {
		result.ScannersUsed = append(result.ScannersUsed, name)
	}
	sort.Strings(result.ScannersUsed)

	result.Linked = LinkIssues(req.Units, issues)
	result.Duration = time.Since(start)
	metrics.ScanDuration.Observe(result.Duration.Seconds())

	s.emit(req.Callback, config.EventScanComplete, map[string]any{
		"session_id":     req.SessionID,
		"files_total":    result.FilesTotal,
		"files_scanned":  result.FilesScanned,
		"issues_total":   len(issues),
		"mapped_count":   result.Linked.MappedCount,
		"unmapped_count": result.Linked.UnmappedCount,
		"scanners_used":  result.ScannersUsed,
		"skipped":        copyCounts(result.Skipped),
		"cancelled":      cancelled,
		"top_issues":     topIssues(issues),
	})

	slog.Info("static scan complete",
		"session_id", req.SessionID,
		"files", result.FilesScanned,
		"issues", len(issues),
		"duration", result.Duration,
		"cancelled", cancelled)
	return result
}

// langScanners is the per-language probe outcome, resolved once per run.
type langScanners struct {
	available   []Scanner
	unavailable []string
}

// rankFiles normalizes, dedupes and risk-ranks the file list, resolving the
// scanners each file will see. Unsupported languages and scanner probe
// failures land in skipped, counted per file.
func (s *Service) rankFiles(ctx context.Context, paths []string, units []domain.ReviewUnit, skipped map[string]int) []scanFile {
	fileTags := make(map[string][]string)
	for i := range units {
		u := &units[i]
		key := domain.NormalizePath(u.FilePath)
		fileTags[key] = unionTags(fileTags[key], u.Tags)
	}

	seen := make(map[string]bool)
	byLang := make(map[string]langScanners)

	var files []scanFile
	for _, raw := range paths {
		path := domain.NormalizePath(raw)
		if path == "" || seen[path] {
			continue
		}
		seen[path] = true

		language := domain.DetectLanguage(path)
		if language == domain.LanguageText || language == domain.LanguageUnknown {
			skipped["unsupported_language"]++
			continue
		}

		ls, probed := byLang[language]
		if !probed {
			ls = s.resolveScanners(ctx, language)
			byLang[language] = ls
		}
		for _, name := range ls.unavailable {
			skipped[name]++
		}
		if len(ls.available) == 0 {
			skipped["no_scanner"]++
			continue
		}

		files = append(files, scanFile{
			path:     path,
			language: language,
			score:    riskScore(path, fileTags[path]),
			scanners: ls.available,
		})
	}

	sort.SliceStable(files, func(i, j int) bool {
		if files[i].score != files[j].score {
			return files[i].score > files[j].score
		}
		return files[i].path < files[j].path
	})
	return files
}

func (s *Service) resolveScanners(ctx context.Context, language string) langScanners {
	var ls langScanners
	for _, sc := range s.registry.ScannersFor(language) {
		if ok, _ := s.registry.Available(ctx, sc); ok {
			ls.available = append(ls.available, sc)
		} else {
			ls.unavailable = append(ls.unavailable, sc.Name())
		}
	}
	return ls
}

// scanOne reads the file once and runs every available scanner under the
// cache. A scanner failure mid-file keeps earlier scanners' issues.
func (s *Service) scanOne(ctx context.Context, root string, f scanFile, mu *sync.Mutex, skipped map[string]int, used map[string]bool) []domain.ScannerIssue {
	full := f.path
	if root != "" {
		full = filepath.Join(root, f.path)
	}

	raw, err := s.readFile(full)
	if err != nil {
		mu.Lock()
		skipped["unreadable"]++
		mu.Unlock()
		slog.Warn("scan file unreadable", "file", f.path, "error", err)
		return nil
	}
	content := strings.ToValidUTF8(string(raw), "�")

	var fileIssues []domain.ScannerIssue
	for _, sc := range f.scanners {
		name := sc.Name()

		if cached, hit := s.cache.Get(f.path, name, content); hit {
			metrics.ScannerInvocations.WithLabelValues(name, "cache_hit").Inc()
			fileIssues = append(fileIssues, cached...)
			mu.Lock()
			used[name] = true
			mu.Unlock()
			continue
		}

		issues, err := sc.Scan(ctx, f.path, content)
		if err != nil {
			metrics.ScannerInvocations.WithLabelValues(name, "error").Inc()
			mu.Lock()
			skipped[name]++
			mu.Unlock()

			var runtimeErr *types.ScannerRuntimeError
			if errors.As(err, &runtimeErr) {
				slog.Warn("scanner failed", "scanner", name, "file", f.path, "error", err)
			} else {
				slog.Error("scanner failed unexpectedly", "scanner", name, "file", f.path, "error", err)
			}
			continue
		}

		metrics.ScannerInvocations.WithLabelValues(name, "ok").Inc()
		s.cache.Set(f.path, name, content, issues)
		fileIssues = append(fileIssues, issues...)
		mu.Lock()
		used[name] = true
		mu.Unlock()
	}
	return fileIssues
}

func (s *Service) maxIssuesPerSeverity() int {
	if s.cfg.MaxIssuesPerSeverity > 0 {
		return s.cfg.MaxIssuesPerSeverity
	}
	return 20000
}

// emit invokes the callback, swallowing panics so a broken listener cannot
// abort the scan.
func (s *Service) emit(cb Callback, eventType string, payload map[string]any) {
	if cb == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("scan callback panicked", "event", eventType, "panic", r)
		}
	}()
	cb(Event{Type: eventType, Timestamp: time.Now().UTC(), Payload: payload})
}

// riskScore ranks a file by how much reviewer attention its path and tags
// suggest it deserves. Higher scores scan first.
func riskScore(path string, tags []string) int {
	lower := strings.ToLower(path)

	score := 0
	for _, kw := range rules.SecurityPathKeywords {
		if strings.Contains(lower, kw) {
			score += 100
		}
	}
	for _, kw := range configPathKeywords {
		if strings.Contains(lower, kw) {
			score += 50
		}
	}
	for _, tag := range tags {
		switch tag {
		case rules.TagSecuritySensitive:
			score += 80
		case rules.TagConfigFile:
			score += 40
		case rules.TagRoutingFile:
			score += 30
		}
	}
	return score
}

// sortIssues orders globally by severity first, then location.
func sortIssues(issues []domain.ScannerIssue) {
	sort.Slice(issues, func(i, j int) bool {
		a, b := issues[i], issues[j]
		if ra, rb := domain.SeverityRank(a.Severity), domain.SeverityRank(b.Severity); ra != rb {
			return ra < rb
		}
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		if a.Column != b.Column {
			return a.Column < b.Column
		}
		return a.RuleID < b.RuleID
	})
}

// LinkIssues assigns each issue to at most one unit: units are ordered by
// hunk start per file and the first covering range wins.
func LinkIssues(units []domain.ReviewUnit, issues []domain.ScannerIssue) *LinkedIssues {
	type span struct {
		unitID     string
		start, end int
	}

	byFile := make(map[string][]span)
	for i := range units {
		u := &units[i]
		if u.HunkRange.NewStart <= 0 {
			continue
		}
		start, end := u.HunkRange.NewRange()
		key := domain.NormalizePath(u.FilePath)
		byFile[key] = append(byFile[key], span{unitID: u.UnitID, start: start, end: end})
	}
	for _, spans := range byFile {
		sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	}

	linked := &LinkedIssues{
		Units:      units,
		UnitIssues: make(map[string][]domain.ScannerIssue),
	}
	for _, issue := range issues {
		matched := false
		for _, sp := range byFile[domain.NormalizePath(issue.File)] {
			if issue.Line >= sp.start && issue.Line <= sp.end {
				linked.UnitIssues[sp.unitID] = append(linked.UnitIssues[sp.unitID], issue)
				linked.MappedCount++
				matched = true
				break
			}
		}
		if !matched {
			linked.UnmappedCount++
		}
	}
	return linked
}

func topIssues(issues []domain.ScannerIssue) []domain.ScannerIssue {
	if len(issues) <= topIssuesInComplete {
		return issues
	}
	return issues[:topIssuesInComplete]
}

func unionTags(existing, add []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, t := range existing {
		seen[t] = true
	}
	for _, t := range add {
		if !seen[t] {
			seen[t] = true
			existing = append(existing, t)
		}
	}
	return existing
}

func copyCounts(counts map[string]int) map[string]int {
	out := make(map[string]int, len(counts))
	for k, v := range counts {
		out[k] = v
	}
	return out
}
