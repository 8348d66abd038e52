package planner

import (
	"context"
	"errors"
	"testing"

	"review-triage/internal/domain"
)

type fakePlanner struct {
	calls int
	resp  *domain.PlannerResponse
	err   error
}

func (f *fakePlanner) Name() string { return "fake" }

func (f *fakePlanner) Plan(_ context.Context, _ *Request) (*domain.PlannerResponse, error) {
	f.calls++
	return f.resp, f.err
}

type fakeIntentCache struct {
	entries map[string]string
	getErr  error
	putErr  error
	puts    int
}

func newFakeIntentCache() *fakeIntentCache {
	return &fakeIntentCache{entries: map[string]string{}}
}

func (c *fakeIntentCache) GetIntent(_ context.Context, key string) (string, bool, error) {
	if c.getErr != nil {
		return "", false, c.getErr
	}
	v, ok := c.entries[key]
	return v, ok, nil
}

func (c *fakeIntentCache) PutIntent(_ context.Context, key, response string) error {
	if c.putErr != nil {
		return c.putErr
	}
	c.puts++
	c.entries[key] = response
	return nil
}

func cacheRequest() *Request {
	return &Request{IndexJSON: []byte(`{"units":[{"unit_id":"u1"}]}`), Language: "python", Units: 1}
}

func TestCachedPlanner_MissThenHit(t *testing.T) {
	inner := &fakePlanner{resp: &domain.PlannerResponse{Plan: []domain.PlannerDecision{
		{UnitID: "u1", LLMContextLevel: domain.ContextFunction},
	}}}
	cache := newFakeIntentCache()
	p := WithIntentCache(inner, cache)

	first, err := p.Plan(context.Background(), cacheRequest())
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if inner.calls != 1 || cache.puts != 1 {
		t.Fatalf("calls = %d, puts = %d; want 1 and 1", inner.calls, cache.puts)
	}

	second, err := p.Plan(context.Background(), cacheRequest())
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("backend called %d times, want 1 (second call should hit cache)", inner.calls)
	}
	if len(second.Plan) != len(first.Plan) || second.Plan[0].UnitID != "u1" {
		t.Errorf("replayed plan differs: %+v vs %+v", second.Plan, first.Plan)
	}
	if second.Plan[0].LLMContextLevel != domain.ContextFunction {
		t.Errorf("replayed level = %q, want function", second.Plan[0].LLMContextLevel)
	}
}

func TestCachedPlanner_PrepopulatedHit(t *testing.T) {
	inner := &fakePlanner{resp: &domain.PlannerResponse{}}
	cache := newFakeIntentCache()
	req := cacheRequest()
	cache.entries[cacheKey(req.IndexJSON)] = `{"plan":[{"unit_id":"u9","skip_review":true}]}`

	resp, err := WithIntentCache(inner, cache).Plan(context.Background(), req)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if inner.calls != 0 {
		t.Errorf("backend called %d times, want 0 on a hit", inner.calls)
	}
	if len(resp.Plan) != 1 || resp.Plan[0].UnitID != "u9" || !resp.Plan[0].SkipReview {
		t.Errorf("cached plan not replayed: %+v", resp.Plan)
	}
}

func TestCachedPlanner_KeyIgnoresRunHeader(t *testing.T) {
	inner := &fakePlanner{resp: &domain.PlannerResponse{Plan: []domain.PlannerDecision{
		{UnitID: "u1", LLMContextLevel: domain.ContextFunction},
	}}}
	cache := newFakeIntentCache()
	p := WithIntentCache(inner, cache)

	firstRun := &Request{
		IndexJSON: []byte(`{"review_metadata":{"session_id":"abc","mode":"staged"},"units":[{"unit_id":"u1"}]}`),
		Language:  "python",
		Units:     1,
	}
	secondRun := &Request{
		IndexJSON: []byte(`{"review_metadata":{"session_id":"def","mode":"staged"},"units":[{"unit_id":"u1"}]}`),
		Language:  "python",
		Units:     1,
	}

	if _, err := p.Plan(context.Background(), firstRun); err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	resp, err := p.Plan(context.Background(), secondRun)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("backend called %d times, want 1: a new session id must not defeat replay", inner.calls)
	}
	if len(resp.Plan) != 1 || resp.Plan[0].UnitID != "u1" {
		t.Errorf("replayed plan = %+v", resp.Plan)
	}
}

func TestCachedPlanner_ReadErrorFallsThrough(t *testing.T) {
	inner := &fakePlanner{resp: &domain.PlannerResponse{}}
	cache := newFakeIntentCache()
	cache.getErr = errors.New("db locked")

	if _, err := WithIntentCache(inner, cache).Plan(context.Background(), cacheRequest()); err != nil {
		t.Fatalf("Plan() error = %v, cache failures must not fail the run", err)
	}
	if inner.calls != 1 {
		t.Errorf("backend called %d times, want 1", inner.calls)
	}
}

func TestCachedPlanner_WriteErrorIgnored(t *testing.T) {
	inner := &fakePlanner{resp: &domain.PlannerResponse{}}
	cache := newFakeIntentCache()
	cache.putErr = errors.New("disk full")

	if _, err := WithIntentCache(inner, cache).Plan(context.Background(), cacheRequest()); err != nil {
		t.Fatalf("Plan() error = %v, cache failures must not fail the run", err)
	}
}

func TestCachedPlanner_CorruptEntryTreatedAsMiss(t *testing.T) {
	inner := &fakePlanner{resp: &domain.PlannerResponse{}}
	cache := newFakeIntentCache()
	req := cacheRequest()
	cache.entries[cacheKey(req.IndexJSON)] = "not json"

	if _, err := WithIntentCache(inner, cache).Plan(context.Background(), req); err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("backend called %d times, want 1 for a corrupt entry", inner.calls)
	}
}

func TestCachedPlanner_BackendErrorNotCached(t *testing.T) {
	inner := &fakePlanner{err: errors.New("backend down")}
	cache := newFakeIntentCache()

	if _, err := WithIntentCache(inner, cache).Plan(context.Background(), cacheRequest()); err == nil {
		t.Fatal("Plan() error = nil, want backend failure")
	}
	if cache.puts != 0 {
		t.Errorf("failed response was cached (%d puts)", cache.puts)
	}
}

func TestCachedPlanner_NamePassthrough(t *testing.T) {
	p := WithIntentCache(&fakePlanner{}, newFakeIntentCache())
	if got := p.Name(); got != "fake" {
		t.Errorf("Name() = %q, want fake", got)
	}
}
