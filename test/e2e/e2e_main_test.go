//go:build e2e

package e2e

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"review-triage/internal/client"
	"review-triage/internal/collector"
	"review-triage/internal/config"
	"review-triage/internal/fusion"
	"review-triage/internal/learned"
	"review-triage/internal/pipeline"
	"review-triage/internal/planner"
	"review-triage/internal/rules"
	"review-triage/internal/scan"
	"review-triage/internal/session"
	"review-triage/internal/storage"
	"review-triage/internal/units"
)

// gitRun executes one git command inside dir, failing the test on any error.
func gitRun(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=triage-e2e",
		"GIT_AUTHOR_EMAIL=e2e@example.com",
		"GIT_COMMITTER_NAME=triage-e2e",
		"GIT_COMMITTER_EMAIL=e2e@example.com",
		"GIT_CONFIG_GLOBAL=/dev/null",
		"GIT_CONFIG_SYSTEM=/dev/null",
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return string(out)
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

// setupRepo creates a scratch git repository with one committed python view
// file and a staged modification that adds an auth decorator.
func setupRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	gitRun(t, dir, "init", "-q")

	writeFile(t, dir, "app/views.py", `import os

def index(request):
    return render(request, "index.html")
`)
	gitRun(t, dir, "add", ".")
	gitRun(t, dir, "commit", "-q", "-m", "initial")

	writeFile(t, dir, "app/views.py", `import os

@login_required
def index(request):
    user = request.user
    return render(request, "index.html", {"user": user})
`)
	gitRun(t, dir, "add", "app/views.py")
	return dir
}

// stubPlanner is an OpenAI-compatible chat completion endpoint. It reads the
// review index out of the user message and answers every unit with a
// file_context decision, counting calls so cache replay is observable.
type stubPlanner struct {
	calls atomic.Int64
	srv   *httptest.Server
}

func newStubPlanner(t *testing.T) *stubPlanner {
	t.Helper()
	s := &stubPlanner{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		s.calls.Add(1)

		body, _ := io.ReadAll(r.Body)
		index := gjson.GetBytes(body, "messages.1.content").String()
		decisions := make([]map[string]any, 0)
		for _, id := range gjson.Get(index, "units.#.unit_id").Array() {
			decisions = append(decisions, map[string]any{
				"unit_id":           id.String(),
				"llm_context_level": "file_context",
			})
		}
		plan, _ := json.Marshal(map[string]any{"plan": decisions})

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-e2e",
			"object":  "chat.completion",
			"created": time.Now().Unix(),
			"model":   "gpt-4o",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": string(plan)},
				"finish_reason": "stop",
			}},
		})
	}))
	t.Cleanup(s.srv.Close)
	return s
}

// testConfig builds a config rooted at agentRoot with the planner pointed at
// the stub endpoint, mirroring the defaults of LoadConfig where they matter.
func testConfig(agentRoot, endpoint string) *config.Config {
	cfg := &config.Config{AgentRoot: agentRoot}
	cfg.Diff.Mode = config.ModeStaged
	cfg.Diff.ContextRadius = 20

	cfg.Planner.Backend = config.BackendOpenAI
	cfg.Planner.Model = "gpt-4o"
	cfg.Planner.Endpoint = endpoint
	cfg.Planner.APIKey = "e2e-key"
	cfg.Planner.Timeout = 30 * time.Second
	cfg.Planner.MaxConcurrency = 2
	cfg.Planner.IndexByteBudget = 256 * 1024
	cfg.Planner.Temperature = 0.1

	cfg.IntentCache.Enabled = true
	cfg.IntentCache.TTL = time.Hour

	cfg.Scan.Workers = 1
	cfg.Scan.QueueSize = 8
	cfg.Scan.MaxIssuesPerSeverity = 1000
	cfg.Scan.Cache.TTL = time.Hour
	cfg.Scan.Cache.MaxEntries = 100

	cfg.Conflicts.MaxAgeDays = 30
	cfg.Conflicts.MaxCount = 1000

	cfg.Storage.Driver = "sqlite"
	cfg.Storage.Timeout = 5 * time.Second
	return cfg
}

// newTriage wires the full production stack against the scratch repo and the
// stub planner, the same way cmd/triage does.
func newTriage(t *testing.T, cfg *config.Config, repoDir string) (*pipeline.Triage, storage.Repository, *session.Store) {
	t.Helper()

	learnedStore, err := learned.NewStore(cfg.LearnedRulesPath())
	if err != nil {
		t.Fatalf("learned.NewStore: %v", err)
	}
	t.Cleanup(func() { learnedStore.Close() })

	sessions := session.NewStore(cfg.SessionsDir())

	repo, err := storage.NewSQLiteRepository(cfg.StorageDSN(), cfg.IntentCache.TTL)
	if err != nil {
		t.Fatalf("storage.NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	plan, err := planner.New(cfg.Planner, client.NewLLM(cfg.Planner))
	if err != nil {
		t.Fatalf("planner.New: %v", err)
	}
	plan = planner.WithIntentCache(plan, repo)

	registry := scan.NewRegistry(cfg.Scan)
	scanner := scan.NewService(cfg.Scan, registry, scan.NewCache(cfg.Scan.Cache))

	triage := pipeline.New(cfg, pipeline.Deps{
		Source:       collector.New(cfg.Diff, repoDir),
		Units:        units.NewBuilder(cfg.Diff.ContextRadius, repoDir),
		Engine:       rules.NewEngine(learnedStore),
		Planner:      plan,
		Scanner:      scanner,
		Fuser:        fusion.NewFuser(),
		Sessions:     sessions,
		Repo:         repo,
		ConflictsDir: cfg.ConflictsDir(),
		ProjectRoot:  repoDir,
	})
	return triage, repo, sessions
}
