package collector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"sync"

	"review-triage/internal/config"
	"review-triage/internal/types"
)

// validGitRefPattern matches valid git ref formats.
// Allows: branch names, tags, HEAD, HEAD~N, commit hashes, and ref ranges.
var validGitRefPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_./-]*(?:~\d+)?(?:\.\.[a-zA-Z0-9][a-zA-Z0-9_./-]*(?:~\d+)?)?$|^HEAD(?:~\d+)?(?:\.\.HEAD(?:~\d+)?)?$`)

// ValidateGitRef validates that a git ref has a safe format.
// Returns an error if the ref contains potentially dangerous characters.
func ValidateGitRef(ref string) error {
	if ref == "" {
		return nil // Empty ref is valid (defaults per mode)
	}

	for _, c := range ref {
		if c < 32 || c == 127 {
			return types.NewInputError("git ref contains invalid control character")
		}
	}

	if !validGitRefPattern.MatchString(ref) {
		return types.NewInputError("invalid git ref format: %q", ref)
	}

	return nil
}

// repoCheck memoizes the inside-a-work-tree probe per repository path. The
// probe runs exactly once per process for a given path.
var repoCheck = struct {
	mu   sync.Mutex
	seen map[string]error
}{seen: make(map[string]error)}

// ResetRepoCheck clears the memoized repository probes. Test hook.
func ResetRepoCheck() {
	repoCheck.mu.Lock()
	defer repoCheck.mu.Unlock()
	repoCheck.seen = make(map[string]error)
}

// Result is what the collector hands to the unit builder.
type Result struct {
	DiffText string
	Mode     string // resolved mode, never "auto"
	BaseRef  string // set for pr mode
}

// runFunc executes a git command and returns stdout. Swapped in tests.
type runFunc func(ctx context.Context, args ...string) (string, error)

// Collector produces the unified diff for the configured mode.
type Collector struct {
	cfg      config.DiffConfig
	repoPath string
	run      runFunc
}

// New creates a collector rooted at repoPath (empty means the process cwd).
func New(cfg config.DiffConfig, repoPath string) *Collector {
	c := &Collector{cfg: cfg, repoPath: repoPath}
	c.run = c.runGit
	return c
}

// Collect resolves the diff mode and returns the diff text. Mode "auto"
// probes staged, then working, then pr, and fails with an InputError when
// none of them produce a diff.
func (c *Collector) Collect(ctx context.Context) (Result, error) {
	if err := c.ensureRepo(ctx); err != nil {
		return Result{}, err
	}

	switch c.cfg.Mode {
	case config.ModeWorking:
		return c.collectWorking(ctx)
	case config.ModeStaged:
		return c.collectStaged(ctx)
	case config.ModePR:
		return c.collectPR(ctx)
	case config.ModeCommit:
		return c.collectCommit(ctx)
	case config.ModeAuto, "":
		return c.collectAuto(ctx)
	default:
		return Result{}, types.NewInputError("unknown diff mode: %q", c.cfg.Mode)
	}
}

func (c *Collector) collectWorking(ctx context.Context) (Result, error) {
	diff, err := c.run(ctx, "diff")
	if err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(diff) == "" {
		return Result{}, types.NewInputError("no working tree changes detected")
	}
	return Result{DiffText: diff, Mode: config.ModeWorking}, nil
}

func (c *Collector) collectStaged(ctx context.Context) (Result, error) {
	diff, err := c.run(ctx, "diff", "--staged")
	if err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(diff) == "" {
		return Result{}, types.NewInputError("no staged changes detected")
	}
	return Result{DiffText: diff, Mode: config.ModeStaged}, nil
}

func (c *Collector) collectPR(ctx context.Context) (Result, error) {
	base, err := c.resolveBase(ctx)
	if err != nil {
		return Result{}, err
	}

	// A failed fetch only degrades freshness; the local tracking ref still
	// yields a usable diff offline.
	if _, err := c.run(ctx, "fetch", "origin", base); err != nil {
		slog.Warn("fetch before pr diff failed, using local tracking ref", "base", base, "error", err)
	}

	diff, err := c.run(ctx, "diff", fmt.Sprintf("origin/%s...HEAD", base))
	if err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(diff) == "" {
		return Result{}, types.NewInputError("no changes against origin/%s", base)
	}
	return Result{DiffText: diff, Mode: config.ModePR, BaseRef: base}, nil
}

func (c *Collector) collectCommit(ctx context.Context) (Result, error) {
	if c.cfg.CommitFrom == "" {
		return Result{}, types.NewInputError("commit mode requires commit_from")
	}
	if err := ValidateGitRef(c.cfg.CommitFrom); err != nil {
		return Result{}, err
	}
	to := c.cfg.CommitTo
	if to == "" {
		to = "HEAD"
	}
	if err := ValidateGitRef(to); err != nil {
		return Result{}, err
	}

	diff, err := c.run(ctx, "diff", fmt.Sprintf("%s..%s", c.cfg.CommitFrom, to))
	if err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(diff) == "" {
		return Result{}, types.NewInputError("no changes between %s and %s", c.cfg.CommitFrom, to)
	}
	return Result{DiffText: diff, Mode: config.ModeCommit}, nil
}

// collectAuto probes staged, then working, then pr. VCS failures abort the
// probe chain; empty diffs move it along.
func (c *Collector) collectAuto(ctx context.Context) (Result, error) {
	if diff, err := c.run(ctx, "diff", "--staged"); err != nil {
		return Result{}, err
	} else if strings.TrimSpace(diff) != "" {
		slog.Debug("auto mode resolved", "mode", config.ModeStaged)
		return Result{DiffText: diff, Mode: config.ModeStaged}, nil
	}

	if diff, err := c.run(ctx, "diff"); err != nil {
		return Result{}, err
	} else if strings.TrimSpace(diff) != "" {
		slog.Debug("auto mode resolved", "mode", config.ModeWorking)
		return Result{DiffText: diff, Mode: config.ModeWorking}, nil
	}

	if res, err := c.collectPR(ctx); err == nil {
		slog.Debug("auto mode resolved", "mode", config.ModePR, "base", res.BaseRef)
		return res, nil
	} else {
		var vcsErr *types.VCSError
		if errors.As(err, &vcsErr) {
			return Result{}, err
		}
	}

	return Result{}, types.NewInputError("no diff detected in staged, working or pr mode")
}

// resolveBase picks the PR base branch: the explicit config value, else the
// first of main/master with an origin tracking ref.
func (c *Collector) resolveBase(ctx context.Context) (string, error) {
	if c.cfg.BaseBranch != "" {
		if err := ValidateGitRef(c.cfg.BaseBranch); err != nil {
			return "", err
		}
		return c.cfg.BaseBranch, nil
	}

	// With --quiet a missing ref exits 1 printing nothing, which the runner
	// treats as a clean empty result; presence is the non-empty output.
	for _, candidate := range []string{"main", "master"} {
		if out, err := c.run(ctx, "rev-parse", "--verify", "--quiet", "origin/"+candidate); err == nil && strings.TrimSpace(out) != "" {
			return candidate, nil
		}
	}

	return "", types.NewInputError("no base branch: origin/main and origin/master not found, set diff.base_branch")
}

// ensureRepo verifies the path is inside a git work tree, memoized per path.
func (c *Collector) ensureRepo(ctx context.Context) error {
	repoCheck.mu.Lock()
	defer repoCheck.mu.Unlock()

	if err, ok := repoCheck.seen[c.repoPath]; ok {
		return err
	}

	var err error
	if out, runErr := c.run(ctx, "rev-parse", "--is-inside-work-tree"); runErr != nil {
		err = runErr
	} else if strings.TrimSpace(out) != "true" {
		err = types.NewInputError("not inside a git work tree")
	}

	repoCheck.seen[c.repoPath] = err
	return err
}

// runGit executes a git command and returns its output. Exit code 1 with
// empty stderr is how git reports "nothing to diff", not a failure.
func (c *Collector) runGit(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = c.repoPath

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			if exitErr.ExitCode() == 1 && stderr.Len() == 0 {
				return stdout.String(), nil
			}
		}
		return "", &types.VCSError{
			Command: "git " + strings.Join(args, " "),
			Stderr:  strings.TrimSpace(stderr.String()),
			Err:     err,
		}
	}

	return stdout.String(), nil
}
