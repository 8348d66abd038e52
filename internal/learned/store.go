package learned

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"review-triage/internal/domain"
	keysync "review-triage/internal/sync"

	"github.com/fsnotify/fsnotify"
)

// Rule sources recorded in provenance.
const (
	SourceConflictLearning = "conflict_learning"
	SourceManualPromotion  = "manual_promotion"
)

// fileVersion is bumped when the on-disk layout changes shape.
const fileVersion = 1

// reloadDebounce absorbs editor write bursts before re-reading the file.
const reloadDebounce = 300 * time.Millisecond

// Rule is one learned entry: when all RequiredTags are present on a unit of
// the rule's language, the rule engine contributes ContextLevel at
// BaseConfidence.
type Rule struct {
	RuleID         string              `json:"rule_id"`
	RequiredTags   []string            `json:"required_tags"`
	ContextLevel   domain.ContextLevel `json:"context_level"`
	BaseConfidence float64             `json:"base_confidence"`
	Notes          string              `json:"notes,omitempty"`
	Source         string              `json:"source"`
	LearnedAt      time.Time           `json:"learned_at"`
	SampleCount    int                 `json:"sample_count"`
	Consistency    float64             `json:"consistency"`
}

// Matches reports whether every required tag is present in tags.
func (r Rule) Matches(tags []string) bool {
	if len(r.RequiredTags) == 0 {
		return false
	}
	set := make(map[string]bool, len(tags))
	for _, t := range tags {
		set[t] = true
	}
	for _, required := range r.RequiredTags {
		if !set[required] {
			return false
		}
	}
	return true
}

// RuleFile is the persisted document, keyed by language.
type RuleFile struct {
	Version   int               `json:"version"`
	UpdatedAt time.Time         `json:"updated_at"`
	Rules     map[string][]Rule `json:"rules"`
}

// Store persists learned rules in one JSON file and serves them to the rule
// engine. An optional fsnotify watcher reloads the file when it is replaced
// out of process.
type Store struct {
	path string

	mu    sync.RWMutex
	rules map[string][]Rule

	watcher  *fsnotify.Watcher
	debounce *keysync.Debouncer
	stop     chan struct{}
	stopOnce sync.Once
}

// NewStore creates a store for the given file path and loads it. A missing
// file is an empty store, not an error.
func NewStore(path string) (*Store, error) {
	s := &Store{
		path:  path,
		rules: make(map[string][]Rule),
		stop:  make(chan struct{}),
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the backing file, replacing the in-memory rule set.
func (s *Store) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.mu.Lock()
			s.rules = make(map[string][]Rule)
			s.mu.Unlock()
			return nil
		}
		return fmt.Errorf("read learned rules: %w", err)
	}

	var file RuleFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse learned rules %s: %w", s.path, err)
	}
	if file.Rules == nil {
		file.Rules = make(map[string][]Rule)
	}

	s.mu.Lock()
	s.rules = file.Rules
	s.mu.Unlock()

	slog.Debug("learned rules loaded", "path", s.path, "languages", len(file.Rules))
	return nil
}

// RulesFor returns a copy of the rules for a language, nil when none exist.
func (s *Store) RulesFor(language string) []Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rules := s.rules[language]
	if len(rules) == 0 {
		return nil
	}
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}

// Languages lists the languages with at least one rule, sorted.
func (s *Store) Languages() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	langs := make([]string, 0, len(s.rules))
	for lang := range s.rules {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}

// Count returns the total number of rules across languages.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, rules := range s.rules {
		n += len(rules)
	}
	return n
}

// Upsert adds a rule for a language, replacing any existing entry with the
// same rule id, and persists the store.
func (s *Store) Upsert(language string, rule Rule) error {
	if rule.LearnedAt.IsZero() {
		rule.LearnedAt = time.Now().UTC()
	}

	s.mu.Lock()
	existing := s.rules[language]
	replaced := false
	for i, r := range existing {
		if r.RuleID == rule.RuleID {
			existing[i] = rule
			replaced = true
			break
		}
	}
	if !replaced {
		existing = append(existing, rule)
	}
	s.rules[language] = existing
	s.mu.Unlock()

	slog.Info("learned rule stored", "language", language, "rule_id", rule.RuleID, "source", rule.Source, "replaced", replaced)
	return s.save()
}

// Remove deletes a rule by id. It reports whether the rule existed.
func (s *Store) Remove(language, ruleID string) (bool, error) {
	s.mu.Lock()
	existing := s.rules[language]
	kept := existing[:0]
	found := false
	for _, r := range existing {
		if r.RuleID == ruleID {
			found = true
			continue
		}
		kept = append(kept, r)
	}
	if found {
		if len(kept) == 0 {
			delete(s.rules, language)
		} else {
			s.rules[language] = kept
		}
	}
	s.mu.Unlock()

	if !found {
		return false, nil
	}
	return true, s.save()
}

// save writes the whole store atomically (tmp + rename).
func (s *Store) save() error {
	s.mu.RLock()
	file := RuleFile{
		Version:   fileVersion,
		UpdatedAt: time.Now().UTC(),
		Rules:     s.rules,
	}
	data, err := json.MarshalIndent(file, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal learned rules: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create learned rules dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write learned rules: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace learned rules: %w", err)
	}
	return nil
}

// Watch starts an fsnotify watcher on the file's directory (watching the
// directory survives the tmp+rename replacement dance editors and this store
// both use). Reloads are debounced.
func (s *Store) Watch() error {
	if s.watcher != nil {
		return nil
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create watch dir: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	s.watcher = w
	s.debounce = keysync.NewDebouncer(reloadDebounce)
	go s.watchLoop()

	slog.Debug("learned rules watcher started", "path", s.path)
	return nil
}

func (s *Store) watchLoop() {
	target := filepath.Clean(s.path)
	for {
		select {
		case <-s.stop:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			s.debounce.Add("reload", func() {
				if err := s.Reload(); err != nil {
					slog.Warn("learned rules reload failed", "error", err)
				} else {
					slog.Info("learned rules reloaded", "path", s.path, "rules", s.Count())
				}
			})
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("learned rules watcher error", "error", err)
		}
	}
}

// Close stops the watcher. Safe to call without Watch.
func (s *Store) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	if s.debounce != nil {
		s.debounce.Cancel("reload")
	}
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}
