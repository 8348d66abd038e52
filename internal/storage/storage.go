package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// RunRecord is the bookkeeping row for one pipeline run.
type RunRecord struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Mode       string    `json:"mode"`
	BaseRef    string    `json:"base_ref,omitempty"`
	UnitCount  int       `json:"unit_count"`
	PlanCount  int       `json:"plan_count"`
	CreatedAt  time.Time `json:"created_at"`
	DurationMs int64     `json:"duration_ms"`
	Status     string    `json:"status"` // success, error, cancelled
}

// Repository is the persistence boundary for run bookkeeping and the planner
// intent cache.
type Repository interface {
	SaveRun(ctx context.Context, record *RunRecord) error
	GetRun(ctx context.Context, id string) (*RunRecord, error)
	ListRunsBySession(ctx context.Context, sessionID string) ([]*RunRecord, error)
	ListRecentRuns(ctx context.Context, limit int) ([]*RunRecord, error)

	// GetIntent returns a cached planner response for the key; a stale or
	// absent entry reports found=false.
	GetIntent(ctx context.Context, key string) (response string, found bool, err error)
	PutIntent(ctx context.Context, key, response string) error
	// PruneIntents deletes expired rows and returns how many were removed.
	PruneIntents(ctx context.Context) (int64, error)

	Close() error
}

// IntentKey derives the intent-cache key for a planner request: SHA-256 of
// the serialized review index, hex encoded.
func IntentKey(indexJSON []byte) string {
	sum := sha256.Sum256(indexJSON)
	return hex.EncodeToString(sum[:])
}
