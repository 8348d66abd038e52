package planner

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/tidwall/sjson"

	"review-triage/internal/domain"
	"review-triage/internal/metrics"
	"review-triage/internal/storage"
)

// IntentCache memoizes planner responses keyed by index hash.
type IntentCache interface {
	GetIntent(ctx context.Context, key string) (string, bool, error)
	PutIntent(ctx context.Context, key, response string) error
}

// cachedPlanner consults the intent cache before the wrapped backend. A hit
// replays the stored plan without touching the network. Cache failures are
// logged and treated as misses; they never fail the run.
type cachedPlanner struct {
	inner Planner
	cache IntentCache
}

// WithIntentCache wraps a planner with response memoization.
func WithIntentCache(p Planner, cache IntentCache) Planner {
	return &cachedPlanner{inner: p, cache: cache}
}

func (c *cachedPlanner) Name() string { return c.inner.Name() }

func (c *cachedPlanner) Plan(ctx context.Context, req *Request) (*domain.PlannerResponse, error) {
	key := cacheKey(req.IndexJSON)

	cached, found, err := c.cache.GetIntent(ctx, key)
	if err != nil {
		slog.Warn("intent cache read failed", "error", err)
	}
	if found {
		var resp domain.PlannerResponse
		if err := json.Unmarshal([]byte(cached), &resp); err == nil {
			metrics.IntentCacheLookups.WithLabelValues("hit").Inc()
			slog.Debug("intent cache hit", "key", key[:12], "backend", c.inner.Name())
			return &resp, nil
		}
		slog.Warn("discarding unreadable intent cache entry", "key", key[:12])
	}
	metrics.IntentCacheLookups.WithLabelValues("miss").Inc()

	resp, err := c.inner.Plan(ctx, req)
	if err != nil {
		return nil, err
	}

	// Store the normalized form so replays parse identically.
	if data, err := json.Marshal(resp); err == nil {
		if err := c.cache.PutIntent(ctx, key, string(data)); err != nil {
			slog.Warn("intent cache write failed", "error", err)
		}
	}
	return resp, nil
}

// cacheKey hashes the index minus review_metadata: the session id in the
// header changes every run, while the plan depends only on what is being
// reviewed. Stripping it lets a rerun of the same diff replay the stored plan.
func cacheKey(indexJSON []byte) string {
	stripped, err := sjson.DeleteBytes(indexJSON, "review_metadata")
	if err != nil {
		stripped = indexJSON
	}
	return storage.IntentKey(stripped)
}
