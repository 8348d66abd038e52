package scan

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"review-triage/internal/config"
	"review-triage/internal/domain"
	"review-triage/internal/rules"
)

// stubScanner is an in-process Scanner with canned issues per display path.
type stubScanner struct {
	name      string
	languages []string

	mu        sync.Mutex
	available bool
	reason    string
	probeN    int
	issues    map[string][]domain.ScannerIssue
	scanErr   error
	calls     []string
}

func (s *stubScanner) Name() string  { return s.name }
func (s *stubScanner) Enabled() bool { return true }

func (s *stubScanner) CheckAvailability(context.Context) (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probeN++
	return s.available, s.reason
}

func (s *stubScanner) Scan(_ context.Context, path, _ string) ([]domain.ScannerIssue, error) {
	s.mu.Lock()
	s.calls = append(s.calls, path)
	err := s.scanErr
	issues := append([]domain.ScannerIssue(nil), s.issues[path]...)
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	for i := range issues {
		issues[i].Source = s.name
	}
	return issues, nil
}

func (s *stubScanner) Info() ScannerInfo {
	return ScannerInfo{Name: s.name, Languages: s.languages, Enabled: true}
}

func (s *stubScanner) scanCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *stubScanner) probes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.probeN
}

func (s *stubScanner) setAvailable(ok bool, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.available = ok
	s.reason = reason
}

// newTestRegistry builds a registry holding only the given scanners, so
// builtin probe results cannot leak into assertions.
func newTestRegistry(scanners ...Scanner) *Registry {
	r := &Registry{
		byLang:  make(map[string][]Scanner),
		avail:   make(map[string]probeResult),
		lastLog: make(map[string]time.Time),
	}
	for _, s := range scanners {
		r.register(s)
	}
	return r
}

// eventCollector records callback events safely across pool workers.
type eventCollector struct {
	mu     sync.Mutex
	events []Event
}

func (c *eventCollector) add(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *eventCollector) all() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func testScanConfig() config.ScanConfig {
	return config.ScanConfig{Workers: 1, QueueSize: 16, MaxIssuesPerSeverity: 20000}
}

func newTestService(cfg config.ScanConfig, scanners ...Scanner) *Service {
	return NewService(cfg, newTestRegistry(scanners...), NewCache(config.ScanCacheConfig{}))
}

func writeProjectFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

func TestRunLinksIssuesToUnits(t *testing.T) {
	stub := &stubScanner{
		name:      "pylint",
		languages: []string{"python"},
		available: true,
		issues: map[string][]domain.ScannerIssue{
			"a.py": {
				{File: "a.py", Line: 12, Column: 1, Severity: domain.SeverityWarning, RuleID: "unused-variable", Message: "Unused variable 'x'"},
				{File: "a.py", Line: 20, Column: 1, Severity: domain.SeverityError, RuleID: "undefined-variable", Message: "Undefined variable 'y'"},
			},
		},
	}
	svc := newTestService(testScanConfig(), stub)
	root := t.TempDir()
	writeProjectFile(t, root, "a.py", "x = 1\n")

	units := []domain.ReviewUnit{{
		UnitID:    "a.py:10",
		FilePath:  "a.py",
		Language:  "python",
		HunkRange: domain.HunkRange{NewStart: 10, NewLines: 5},
	}}

	result := svc.Run(context.Background(), Request{
		Files:       []string{"a.py"},
		Units:       units,
		ProjectRoot: root,
		SessionID:   "s-1",
	})

	if result.FilesTotal != 1 || result.FilesScanned != 1 {
		t.Fatalf("FilesTotal/FilesScanned = %d/%d, want 1/1", result.FilesTotal, result.FilesScanned)
	}
	if len(result.Issues) != 2 {
		t.Fatalf("len(Issues) = %d, want 2", len(result.Issues))
	}

	linked := result.Linked
	got := linked.UnitIssues["a.py:10"]
	if len(got) != 1 || got[0].Line != 12 {
		t.Errorf("UnitIssues[a.py:10] = %+v, want only the line-12 issue", got)
	}
	if linked.MappedCount != 1 {
		t.Errorf("MappedCount = %d, want 1", linked.MappedCount)
	}
	if linked.UnmappedCount != 1 {
		t.Errorf("UnmappedCount = %d, want 1", linked.UnmappedCount)
	}
	if !reflect.DeepEqual(result.ScannersUsed, []string{"pylint"}) {
		t.Errorf("ScannersUsed = %v, want [pylint]", result.ScannersUsed)
	}
}

func TestRunOrdersFilesByRisk(t *testing.T) {
	stub := &stubScanner{name: "pylint", languages: []string{"python"}, available: true}
	svc := newTestService(testScanConfig(), stub)
	root := t.TempDir()
	for _, rel := range []string{"util/misc.py", "auth/login.py", "app/config.py"} {
		writeProjectFile(t, root, rel, "pass\n")
	}

	// The tag union bumps util/misc.py above the config-path file.
	units := []domain.ReviewUnit{{
		UnitID:    "util/misc.py:1",
		FilePath:  "util/misc.py",
		Language:  "python",
		HunkRange: domain.HunkRange{NewStart: 1, NewLines: 1},
		Tags:      []string{rules.TagSecuritySensitive},
	}}

	svc.Run(context.Background(), Request{
		Files:       []string{"util/misc.py", "auth/login.py", "app/config.py"},
		Units:       units,
		ProjectRoot: root,
	})

	want := []string{"auth/login.py", "util/misc.py", "app/config.py"}
	if got := stub.scanCalls(); !reflect.DeepEqual(got, want) {
		t.Errorf("scan order = %v, want %v", got, want)
	}
}

func TestRunEmitsEventSequence(t *testing.T) {
	stub := &stubScanner{
		name:      "pylint",
		languages: []string{"python"},
		available: true,
		issues: map[string][]domain.ScannerIssue{
			"a.py": {{File: "a.py", Line: 1, Severity: domain.SeverityWarning, RuleID: "r1"}},
		},
	}
	svc := newTestService(testScanConfig(), stub)
	root := t.TempDir()
	writeProjectFile(t, root, "a.py", "x = 1\n")
	writeProjectFile(t, root, "b.py", "y = 2\n")

	collector := &eventCollector{}
	svc.Run(context.Background(), Request{
		Files:       []string{"a.py", "b.py"},
		ProjectRoot: root,
		SessionID:   "s-events",
		Callback:    collector.add,
	})

	events := collector.all()
	if len(events) != 6 {
		t.Fatalf("len(events) = %d, want 6 (start, 2x file_start+file_done, complete)", len(events))
	}
	if events[0].Type != config.EventScanStart {
		t.Errorf("events[0].Type = %q, want %q", events[0].Type, config.EventScanStart)
	}
	if got := events[0].Payload["files_total"]; got != 2 {
		t.Errorf("start files_total = %v, want 2", got)
	}

	last := events[len(events)-1]
	if last.Type != config.EventScanComplete {
		t.Fatalf("last event = %q, want %q", last.Type, config.EventScanComplete)
	}
	if got := last.Payload["issues_total"]; got != 1 {
		t.Errorf("complete issues_total = %v, want 1", got)
	}
	if got := last.Payload["files_scanned"]; got != 2 {
		t.Errorf("complete files_scanned = %v, want 2", got)
	}

	var starts, dones int
	var lastProgress float64
	for _, e := range events {
		switch e.Type {
		case config.EventScanFileStart:
			starts++
		case config.EventScanFileDone:
			dones++
			lastProgress = e.Payload["progress"].(float64)
		}
	}
	if starts != 2 || dones != 2 {
		t.Errorf("file_start/file_done = %d/%d, want 2/2", starts, dones)
	}
	if lastProgress != 1.0 {
		t.Errorf("final progress = %v, want 1.0", lastProgress)
	}
}

func TestRunSkipsUnsupportedAndUnavailable(t *testing.T) {
	pylint := &stubScanner{name: "pylint", languages: []string{"python"}, available: true}
	eslint := &stubScanner{name: "eslint", languages: []string{"javascript"}, available: false, reason: "binary missing"}
	svc := newTestService(testScanConfig(), pylint, eslint)
	root := t.TempDir()
	writeProjectFile(t, root, "a.py", "x = 1\n")

	result := svc.Run(context.Background(), Request{
		Files:       []string{"a.py", "README.md", "LICENSE", "src/app.js"},
		ProjectRoot: root,
	})

	if result.FilesTotal != 1 {
		t.Errorf("FilesTotal = %d, want only the scannable file", result.FilesTotal)
	}
	if got := result.Skipped["unsupported_language"]; got != 2 {
		t.Errorf("skipped[unsupported_language] = %d, want 2", got)
	}
	if got := result.Skipped["eslint"]; got != 1 {
		t.Errorf("skipped[eslint] = %d, want 1", got)
	}
	if got := result.Skipped["no_scanner"]; got != 1 {
		t.Errorf("skipped[no_scanner] = %d, want 1", got)
	}
	if len(eslint.scanCalls()) != 0 {
		t.Error("unavailable scanner must not run")
	}
}

func TestRunCancelledBeforeAnyFile(t *testing.T) {
	stub := &stubScanner{name: "pylint", languages: []string{"python"}, available: true}
	svc := newTestService(testScanConfig(), stub)
	root := t.TempDir()
	writeProjectFile(t, root, "a.py", "x = 1\n")
	writeProjectFile(t, root, "b.py", "y = 2\n")

	result := svc.Run(context.Background(), Request{
		Files:       []string{"a.py", "b.py"},
		ProjectRoot: root,
		Cancelled:   func() bool { return true },
	})

	if !result.Cancelled {
		t.Error("Cancelled = false, want true")
	}
	if result.FilesScanned != 0 {
		t.Errorf("FilesScanned = %d, want 0", result.FilesScanned)
	}
	if got := result.Skipped["cancelled"]; got != 2 {
		t.Errorf("skipped[cancelled] = %d, want 2", got)
	}
	if len(stub.scanCalls()) != 0 {
		t.Error("no scanner should run after cancellation")
	}
}

func TestRunReusesCacheAcrossRuns(t *testing.T) {
	stub := &stubScanner{
		name:      "pylint",
		languages: []string{"python"},
		available: true,
		issues: map[string][]domain.ScannerIssue{
			"a.py": {{File: "a.py", Line: 3, Severity: domain.SeverityWarning, RuleID: "r1"}},
		},
	}
	svc := newTestService(testScanConfig(), stub)
	root := t.TempDir()
	writeProjectFile(t, root, "a.py", "x = 1\n")

	req := Request{Files: []string{"a.py"}, ProjectRoot: root}

	first := svc.Run(context.Background(), req)
	if len(first.Issues) != 1 || len(stub.scanCalls()) != 1 {
		t.Fatalf("first run: issues=%d calls=%d, want 1/1", len(first.Issues), len(stub.scanCalls()))
	}

	second := svc.Run(context.Background(), req)
	if len(stub.scanCalls()) != 1 {
		t.Errorf("scanner ran %d times, want the second run served from cache", len(stub.scanCalls()))
	}
	if len(second.Issues) != 1 {
		t.Errorf("second run issues = %d, want the cached issue", len(second.Issues))
	}
	if !reflect.DeepEqual(second.ScannersUsed, []string{"pylint"}) {
		t.Errorf("ScannersUsed = %v, want [pylint] even on cache hits", second.ScannersUsed)
	}

	// Changing the content invalidates the entry.
	writeProjectFile(t, root, "a.py", "x = 2\n")
	svc.Run(context.Background(), req)
	if got := len(stub.scanCalls()); got != 2 {
		t.Errorf("scanner ran %d times after content change, want 2", got)
	}
}

func TestRunToleratesScannerFailure(t *testing.T) {
	failing := &stubScanner{
		name:      "semgrep",
		languages: []string{"python"},
		available: true,
		scanErr:   errors.New("semgrep crashed"),
	}
	working := &stubScanner{
		name:      "pylint",
		languages: []string{"python"},
		available: true,
		issues: map[string][]domain.ScannerIssue{
			"a.py": {{File: "a.py", Line: 1, Severity: domain.SeverityInfo, RuleID: "r1"}},
		},
	}
	svc := newTestService(testScanConfig(), failing, working)
	root := t.TempDir()
	writeProjectFile(t, root, "a.py", "x = 1\n")

	result := svc.Run(context.Background(), Request{Files: []string{"a.py"}, ProjectRoot: root})

	if result.FilesScanned != 1 {
		t.Errorf("FilesScanned = %d, want 1 despite the failure", result.FilesScanned)
	}
	if len(result.Issues) != 1 || result.Issues[0].Source != "pylint" {
		t.Errorf("Issues = %+v, want only the working scanner's issue", result.Issues)
	}
	if got := result.Skipped["semgrep"]; got != 1 {
		t.Errorf("skipped[semgrep] = %d, want 1", got)
	}
	if !reflect.DeepEqual(result.ScannersUsed, []string{"pylint"}) {
		t.Errorf("ScannersUsed = %v, want [pylint]", result.ScannersUsed)
	}
}

func TestRunCapsIssuesBySeverity(t *testing.T) {
	stub := &stubScanner{
		name:      "pylint",
		languages: []string{"python"},
		available: true,
		issues: map[string][]domain.ScannerIssue{
			"a.py": {
				{File: "a.py", Line: 1, Severity: domain.SeverityWarning, RuleID: "w1"},
				{File: "a.py", Line: 2, Severity: domain.SeverityWarning, RuleID: "w2"},
				{File: "a.py", Line: 3, Severity: domain.SeverityWarning, RuleID: "w3"},
				{File: "a.py", Line: 4, Severity: domain.SeverityError, RuleID: "e1"},
			},
		},
	}
	cfg := testScanConfig()
	cfg.MaxIssuesPerSeverity = 2
	svc := newTestService(cfg, stub)
	root := t.TempDir()
	writeProjectFile(t, root, "a.py", "x = 1\n")

	result := svc.Run(context.Background(), Request{Files: []string{"a.py"}, ProjectRoot: root})

	if len(result.Issues) != 4 {
		t.Errorf("len(Issues) = %d, want the full sorted list", len(result.Issues))
	}
	if got := len(result.IssuesBySeverity[domain.SeverityWarning]); got != 2 {
		t.Errorf("warning bucket = %d entries, want capped at 2", got)
	}
	if got := len(result.IssuesBySeverity[domain.SeverityError]); got != 1 {
		t.Errorf("error bucket = %d entries, want 1", got)
	}
	// Errors sort ahead of warnings globally.
	if result.Issues[0].Severity != domain.SeverityError {
		t.Errorf("Issues[0].Severity = %q, want %q first", result.Issues[0].Severity, domain.SeverityError)
	}
}

func TestRunSurvivesCallbackPanic(t *testing.T) {
	stub := &stubScanner{name: "pylint", languages: []string{"python"}, available: true}
	svc := newTestService(testScanConfig(), stub)
	root := t.TempDir()
	writeProjectFile(t, root, "a.py", "x = 1\n")

	result := svc.Run(context.Background(), Request{
		Files:       []string{"a.py"},
		ProjectRoot: root,
		Callback:    func(Event) { panic("listener broke") },
	})

	if result.FilesScanned != 1 {
		t.Errorf("FilesScanned = %d, want 1 despite the panicking callback", result.FilesScanned)
	}
}

func TestRunCountsUnreadableFiles(t *testing.T) {
	stub := &stubScanner{name: "pylint", languages: []string{"python"}, available: true}
	svc := newTestService(testScanConfig(), stub)
	root := t.TempDir()

	result := svc.Run(context.Background(), Request{Files: []string{"missing.py"}, ProjectRoot: root})

	if got := result.Skipped["unreadable"]; got != 1 {
		t.Errorf("skipped[unreadable] = %d, want 1", got)
	}
	if len(stub.scanCalls()) != 0 {
		t.Error("scanner must not run for unreadable files")
	}
}

func TestRiskScore(t *testing.T) {
	tests := []struct {
		name string
		path string
		tags []string
		want int
	}{
		{"plain file", "app/views.py", nil, 0},
		{"auth path", "app/auth/login.py", nil, 100},
		{"config and settings", "config/settings.py", nil, 100},
		{"yaml extension", "deploy/app.yaml", nil, 50},
		{"security tag", "app/views.py", []string{rules.TagSecuritySensitive}, 80},
		{"stacked signals", "auth/config.py",
			[]string{rules.TagConfigFile, rules.TagRoutingFile}, 220},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := riskScore(tt.path, tt.tags); got != tt.want {
				t.Errorf("riskScore(%q, %v) = %d, want %d", tt.path, tt.tags, got, tt.want)
			}
		})
	}
}

func TestLinkIssuesFirstUnitByStartWins(t *testing.T) {
	units := []domain.ReviewUnit{
		{UnitID: "a.py:15", FilePath: "a.py", HunkRange: domain.HunkRange{NewStart: 15, NewLines: 1}},
		{UnitID: "a.py:10", FilePath: "a.py", HunkRange: domain.HunkRange{NewStart: 10, NewLines: 10}},
		{UnitID: "old.py:0", FilePath: "old.py", HunkRange: domain.HunkRange{NewStart: 0}},
	}
	issues := []domain.ScannerIssue{
		{File: "a.py", Line: 15},
		{File: "b/a.py", Line: 10},
		{File: "old.py", Line: 1},
	}

	linked := LinkIssues(units, issues)

	if got := len(linked.UnitIssues["a.py:10"]); got != 2 {
		t.Errorf("UnitIssues[a.py:10] = %d issues, want 2 (lowest start wins overlaps)", got)
	}
	if len(linked.UnitIssues["a.py:15"]) != 0 {
		t.Error("overlapped later unit must not receive the issue")
	}
	if linked.MappedCount != 2 || linked.UnmappedCount != 1 {
		t.Errorf("mapped/unmapped = %d/%d, want 2/1", linked.MappedCount, linked.UnmappedCount)
	}
}

func TestLinkIssuesZeroLineHunk(t *testing.T) {
	// A hunk with new_lines=0 still covers its single anchor line.
	units := []domain.ReviewUnit{
		{UnitID: "a.py:7", FilePath: "a.py", HunkRange: domain.HunkRange{NewStart: 7, NewLines: 0}},
	}
	issues := []domain.ScannerIssue{
		{File: "a.py", Line: 7},
		{File: "a.py", Line: 8},
	}

	linked := LinkIssues(units, issues)
	if got := len(linked.UnitIssues["a.py:7"]); got != 1 {
		t.Errorf("UnitIssues = %d issues, want only line 7", got)
	}
	if linked.UnmappedCount != 1 {
		t.Errorf("UnmappedCount = %d, want 1", linked.UnmappedCount)
	}
}

func TestSortIssuesOrdering(t *testing.T) {
	issues := []domain.ScannerIssue{
		{File: "b.py", Line: 1, Severity: domain.SeverityWarning, RuleID: "r1"},
		{File: "a.py", Line: 9, Severity: domain.SeverityWarning, RuleID: "r1"},
		{File: "a.py", Line: 2, Severity: domain.SeverityInfo, RuleID: "r1"},
		{File: "a.py", Line: 9, Severity: domain.SeverityWarning, RuleID: "r0"},
		{File: "z.py", Line: 1, Severity: domain.SeverityError, RuleID: "r1"},
	}

	sortIssues(issues)

	wantOrder := []struct {
		file   string
		line   int
		ruleID string
	}{
		{"z.py", 1, "r1"}, // error first
		{"a.py", 9, "r0"}, // warnings by file, line, rule
		{"a.py", 9, "r1"},
		{"b.py", 1, "r1"},
		{"a.py", 2, "r1"}, // info last
	}
	for i, want := range wantOrder {
		got := issues[i]
		if got.File != want.file || got.Line != want.line || got.RuleID != want.ruleID {
			t.Errorf("issues[%d] = %s:%d %s, want %s:%d %s",
				i, got.File, got.Line, got.RuleID, want.file, want.line, want.ruleID)
		}
	}
}
