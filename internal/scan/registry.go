package scan

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"review-triage/internal/config"

	"golang.org/x/sync/singleflight"
)

// probeLogInterval throttles repeated "scanner unavailable" log lines; the
// skipped counters still record every occurrence.
const probeLogInterval = 30 * time.Second

// Registry owns the builtin scanners and caches their availability probes.
// Binary presence is a process property, so results live until Reset.
type Registry struct {
	mu        sync.RWMutex
	byLang    map[string][]Scanner
	avail     map[string]probeResult
	lastLog   map[string]time.Time
	probeOnce singleflight.Group
}

type probeResult struct {
	ok     bool
	reason string
}

// NewRegistry builds the builtin scanner set, applying per-scanner config
// overrides.
func NewRegistry(cfg config.ScanConfig) *Registry {
	pylint := NewCommandScanner("pylint", "pylint",
		[]string{"--output-format=json", "--score=n", "{file}"},
		[]string{"python"}, parsePylint, cfg.ScannerFor("pylint"))

	eslint := NewCommandScanner("eslint", "eslint",
		[]string{"--format", "json", "--no-ignore", "{file}"},
		[]string{"javascript", "typescript"}, parseESLint, cfg.ScannerFor("eslint"))

	semgrep := NewCommandScanner("semgrep", "semgrep",
		[]string{"scan", "--json", "--quiet", "--config", "auto", "{file}"},
		[]string{"python", "javascript", "typescript"}, parseSemgrep, cfg.ScannerFor("semgrep"))

	yamllint := NewCommandScanner("yamllint", "yamllint",
		[]string{"--format", "parsable", "{file}"},
		[]string{"yaml"}, parseYamllint, cfg.ScannerFor("yamllint"))

	golangci := NewCommandScanner("golangci-lint", "golangci-lint",
		[]string{"run", "--out-format", "json", "--issues-exit-code", "0", "{file}"},
		[]string{"golang"}, parseGolangCI, cfg.ScannerFor("golangci-lint"))

	r := &Registry{
		byLang:  make(map[string][]Scanner),
		avail:   make(map[string]probeResult),
		lastLog: make(map[string]time.Time),
	}
	for _, s := range []Scanner{pylint, eslint, semgrep, yamllint, golangci} {
		r.register(s)
	}
	return r
}

func (r *Registry) register(s Scanner) {
	for _, lang := range s.Info().Languages {
		r.byLang[lang] = append(r.byLang[lang], s)
	}
}

// Register adds a non-builtin scanner, e.g. a stub in tests.
func (r *Registry) Register(s Scanner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.register(s)
}

// ScannersFor returns the scanners registered for a language, in
// registration order.
func (r *Registry) ScannersFor(language string) []Scanner {
	r.mu.RLock()
	defer r.mu.RUnlock()

	scanners := r.byLang[language]
	out := make([]Scanner, len(scanners))
	copy(out, scanners)
	return out
}

// Languages lists languages with at least one registered scanner.
func (r *Registry) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	langs := make([]string, 0, len(r.byLang))
	for lang := range r.byLang {
		langs = append(langs, lang)
	}
	return langs
}

// Available reports whether a scanner can run, probing at most once per
// scanner per process. Concurrent first probes coalesce.
func (r *Registry) Available(ctx context.Context, s Scanner) (bool, string) {
	name := s.Name()

	r.mu.RLock()
	cached, ok := r.avail[name]
	r.mu.RUnlock()
	if ok {
		return cached.ok, cached.reason
	}

	v, _, _ := r.probeOnce.Do(name, func() (any, error) {
		ok, reason := s.CheckAvailability(ctx)
		r.mu.Lock()
		r.avail[name] = probeResult{ok: ok, reason: reason}
		r.mu.Unlock()

		if !ok {
			r.logUnavailable(name, reason)
		}
		return probeResult{ok: ok, reason: reason}, nil
	})

	result := v.(probeResult)
	return result.ok, result.reason
}

// logUnavailable logs a probe failure at most once per interval per scanner.
func (r *Registry) logUnavailable(name, reason string) {
	r.mu.Lock()
	last := r.lastLog[name]
	now := time.Now()
	throttled := now.Sub(last) < probeLogInterval
	if !throttled {
		r.lastLog[name] = now
	}
	r.mu.Unlock()

	if !throttled {
		slog.Warn("scanner unavailable", "scanner", name, "reason", reason)
	}
}

// Reset drops all cached probe results. Used by tests and explicit reloads.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.avail = make(map[string]probeResult)
	r.lastLog = make(map[string]time.Time)
}
