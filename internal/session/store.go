package session

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

	"review-triage/internal/config"
	"review-triage/internal/domain"
	"review-triage/internal/metrics"
	"review-triage/internal/scan"
	keysync "review-triage/internal/sync"
	"review-triage/internal/types"

	"github.com/google/uuid"
)

// Store persists sessions as one JSON document each. Writes are atomic
// (tmp+rename) and serialized per session id, so concurrent updates to
// different sessions never contend.
type Store struct {
	dir   string
	locks *keysync.KeyLock

	mu        sync.Mutex
	cancelled map[string]bool

	now func() time.Time
}

// NewStore creates a store rooted at dir. The directory is created on first
// write.
func NewStore(dir string) *Store {
	return &Store{
		dir:       dir,
		locks:     keysync.NewKeyLock(),
		cancelled: make(map[string]bool),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Dir returns the session directory.
func (s *Store) Dir() string { return s.dir }

// Create builds a new active session with a fresh UUID and persists it.
func (s *Store) Create(name, projectRoot string, tags []string) (*Session, error) {
	now := s.now()
	sess := &Session{
		SessionID: uuid.NewString(),
		Metadata: Metadata{
			CreatedAt:   now,
			UpdatedAt:   now,
			Name:        name,
			ProjectRoot: projectRoot,
			Status:      StatusActive,
			Tags:        append([]string(nil), tags...),
		},
		Messages:       []Message{},
		WorkflowEvents: []WorkflowEvent{},
	}

	s.locks.Lock(sess.SessionID)
	defer s.locks.Unlock(sess.SessionID)

	if err := s.write(sess); err != nil {
		return nil, err
	}
	slog.Info("session created", "session_id", sess.SessionID, "name", name)
	return sess, nil
}

// Get loads a session by id.
func (s *Store) Get(id string) (*Session, error) {
	if id == "" {
		return nil, &types.SessionNotFoundError{SessionID: id}
	}
	return s.load(id)
}

// Save persists the session, bumping UpdatedAt. A failed write degrades to a
// temp-directory copy and returns a PersistenceError; callers treat that as
// non-fatal.
func (s *Store) Save(sess *Session) error {
	s.locks.Lock(sess.SessionID)
	defer s.locks.Unlock(sess.SessionID)

	sess.Metadata.UpdatedAt = s.now()
	return s.write(sess)
}

// Delete removes the session document and its cancel flag.
func (s *Store) Delete(id string) error {
	s.locks.Lock(id)
	defer s.locks.Unlock(id)

	if err := os.Remove(s.path(id)); err != nil {
		if os.IsNotExist(err) {
			return &types.SessionNotFoundError{SessionID: id}
		}
		return &types.SessionOperationError{Op: "delete", SessionID: id, Err: err}
	}

	s.mu.Lock()
	delete(s.cancelled, id)
	s.mu.Unlock()
	return nil
}

// List returns all sessions, newest update first. Documents that fail to
// decode are skipped with a warning so one corrupt file cannot hide the rest.
func (s *Store) List() ([]*Session, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &types.SessionOperationError{Op: "list", SessionID: "", Err: err}
	}

	var sessions []*Session
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		sess, err := s.load(strings.TrimSuffix(name, ".json"))
		if err != nil {
			slog.Warn("skipping unreadable session file", "file", name, "error", err)
			continue
		}
		sessions = append(sessions, sess)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].Metadata.UpdatedAt.After(sessions[j].Metadata.UpdatedAt)
	})
	return sessions, nil
}

// Archive flips the session status to archived. Nothing else changes.
func (s *Store) Archive(id string) error {
	return s.update(id, func(sess *Session) {
		sess.Metadata.Status = StatusArchived
	})
}

// SetStatus records a status transition, e.g. completed at the end of a run.
func (s *Store) SetStatus(id, status string) error {
	return s.update(id, func(sess *Session) {
		sess.Metadata.Status = status
	})
}

// AppendMessage appends one conversation message.
func (s *Store) AppendMessage(id string, msg Message) error {
	return s.update(id, func(sess *Session) {
		if msg.Timestamp.IsZero() {
			msg.Timestamp = s.now()
		}
		sess.Messages = append(sess.Messages, msg)
	})
}

// AppendWorkflowEvent appends one workflow event, coalescing adjacent
// thought/chunk events that share a stage: content concatenates, the
// timestamp moves forward and the list length is unchanged.
func (s *Store) AppendWorkflowEvent(id string, event WorkflowEvent) error {
	return s.update(id, func(sess *Session) {
		if event.Timestamp.IsZero() {
			event.Timestamp = s.now()
		}
		sess.WorkflowEvents = appendEvent(sess.WorkflowEvents, event)
	})
}

// SetDiffFiles stores the changed-file list for the run.
func (s *Store) SetDiffFiles(id string, files []string) error {
	return s.update(id, func(sess *Session) {
		sess.DiffFiles = append([]string(nil), files...)
	})
}

// SetDiffUnits snapshots the run's review units.
func (s *Store) SetDiffUnits(id string, units []domain.ReviewUnit) error {
	return s.update(id, func(sess *Session) {
		sess.DiffUnits = append([]domain.ReviewUnit(nil), units...)
	})
}

// SetStaticScanLinked stores the scan linkage block.
func (s *Store) SetStaticScanLinked(id string, linked *scan.LinkedIssues) error {
	return s.update(id, func(sess *Session) {
		sess.StaticScanLinked = linked
	})
}

// Cancel raises the in-memory cancel flag for a session. The flag is not
// persisted; a restart clears it.
func (s *Store) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled[id] = true
}

// IsCancelled reports whether Cancel was called for the session.
func (s *Store) IsCancelled(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled[id]
}

// update runs a load-modify-save cycle under the session's lock.
func (s *Store) update(id string, fn func(*Session)) error {
	s.locks.Lock(id)
	defer s.locks.Unlock(id)

	sess, err := s.load(id)
	if err != nil {
		return err
	}
	fn(sess)
	sess.Metadata.UpdatedAt = s.now()
	return s.write(sess)
}

func (s *Store) load(id string) (*Session, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &types.SessionNotFoundError{SessionID: id}
		}
		return nil, &types.SessionOperationError{Op: "read", SessionID: id, Err: err}
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, &types.SessionOperationError{Op: "decode", SessionID: id, Err: err}
	}
	return &sess, nil
}

// write persists the document atomically. On failure it drops a copy in the
// temp directory so the run's data survives, and reports a PersistenceError.
func (s *Store) write(sess *Session) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		metrics.SessionSaves.WithLabelValues("error").Inc()
		return &types.SessionOperationError{Op: "encode", SessionID: sess.SessionID, Err: err}
	}

	path := s.path(sess.SessionID)
	if err := s.writeAtomic(path, data); err != nil {
		fallback, fbErr := s.writeFallback(sess.SessionID, data)
		if fbErr != nil {
			metrics.SessionSaves.WithLabelValues("error").Inc()
			slog.Error("session save failed, fallback failed too",
				"session_id", sess.SessionID, "error", err, "fallback_error", fbErr)
			return &types.PersistenceError{Path: path, Err: err}
		}
		metrics.SessionSaves.WithLabelValues("fallback").Inc()
		slog.Error("session save failed, wrote fallback copy",
			"session_id", sess.SessionID, "error", err, "fallback", fallback)
		return &types.PersistenceError{Path: path, Err: fmt.Errorf("%w (fallback copy at %s)", err, fallback)}
	}

	metrics.SessionSaves.WithLabelValues("success").Inc()
	return nil
}

func (s *Store) writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func (s *Store) writeFallback(id string, data []byte) (string, error) {
	dir := filepath.Join(os.TempDir(), "review-triage-sessions")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, id+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// appendEvent coalesces adjacent thought/chunk events sharing a stage.
func appendEvent(events []WorkflowEvent, e WorkflowEvent) []WorkflowEvent {
	if len(events) > 0 && coalescable(e.Type) {
		last := &events[len(events)-1]
		if last.Type == e.Type && last.Stage == e.Stage {
			last.Content += e.Content
			last.Timestamp = e.Timestamp
			return events
		}
	}
	return append(events, e)
}

func coalescable(eventType string) bool {
	return eventType == config.EventThought || eventType == config.EventChunk
}
