package scan

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"review-triage/internal/config"
	"review-triage/internal/domain"
	"review-triage/internal/types"
)

// Scanner is the driver contract for one static analysis tool.
type Scanner interface {
	Name() string
	Enabled() bool
	// CheckAvailability reports whether the scanner can run right now and,
	// when it cannot, a human-readable reason.
	CheckAvailability(ctx context.Context) (bool, string)
	// Scan analyzes one file's content. Issues keep the given path, not the
	// temp copy the tool actually saw.
	Scan(ctx context.Context, path, content string) ([]domain.ScannerIssue, error)
	Info() ScannerInfo
}

// ScannerInfo describes a scanner for diagnostics and events.
type ScannerInfo struct {
	Name      string   `json:"name"`
	Command   string   `json:"command"`
	Languages []string `json:"languages"`
	Enabled   bool     `json:"enabled"`
}

// parseFunc turns one tool invocation's stdout into issues. ok reports
// whether the output was recognizably the tool's format; a failed run with
// unrecognizable output is an error, a failed run with parseable output is a
// linter that exits non-zero on findings.
type parseFunc func(displayPath, stdout string) (issues []domain.ScannerIssue, ok bool)

// CommandScanner runs an external binary against a temp copy of the content
// and parses its stdout.
type CommandScanner struct {
	name      string
	command   string
	args      []string // argv template; "{file}" expands to the temp path
	languages []string
	enabled   bool
	timeout   time.Duration
	parse     parseFunc

	// Seams for tests.
	run      func(ctx context.Context, command string, args ...string) (stdout, stderr string, err error)
	lookPath func(file string) (string, error)
}

// NewCommandScanner builds a scanner around an argv template. cfg overrides
// the binary path, enablement and timeout.
func NewCommandScanner(name, command string, args, languages []string, parse parseFunc, cfg config.ScannerConfig) *CommandScanner {
	if cfg.Command != "" {
		command = cfg.Command
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultScannerTimeout
	}
	return &CommandScanner{
		name:      name,
		command:   command,
		args:      args,
		languages: languages,
		enabled:   cfg.IsEnabled(),
		timeout:   timeout,
		parse:     parse,
		run:       runCommand,
		lookPath:  exec.LookPath,
	}
}

func (s *CommandScanner) Name() string  { return s.name }
func (s *CommandScanner) Enabled() bool { return s.enabled }

func (s *CommandScanner) Info() ScannerInfo {
	return ScannerInfo{Name: s.name, Command: s.command, Languages: s.languages, Enabled: s.enabled}
}

// CheckAvailability probes for the binary without invoking it.
func (s *CommandScanner) CheckAvailability(ctx context.Context) (bool, string) {
	if !s.enabled {
		return false, "disabled in config"
	}
	if _, err := s.lookPath(s.command); err != nil {
		return false, fmt.Sprintf("binary %q not found in PATH", s.command)
	}
	return true, ""
}

// Scan writes content to a temp file carrying the original extension, runs
// the tool with the per-scanner timeout and parses stdout. Linters that exit
// non-zero on findings are tolerated as long as their output parses.
func (s *CommandScanner) Scan(ctx context.Context, path, content string) ([]domain.ScannerIssue, error) {
	tmp, err := writeTempFile(path, content)
	if err != nil {
		return nil, &types.ScannerRuntimeError{Scanner: s.name, File: path, Err: err}
	}
	defer os.Remove(tmp)

	args := make([]string, 0, len(s.args))
	for _, a := range s.args {
		args = append(args, strings.ReplaceAll(a, "{file}", tmp))
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	stdout, stderr, runErr := s.run(ctx, s.command, args...)
	display := domain.NormalizePath(path)
	issues, ok := s.parse(display, stdout)
	if runErr != nil && !ok {
		return nil, &types.ScannerRuntimeError{
			Scanner: s.name,
			File:    path,
			Err:     fmt.Errorf("%w (stderr: %s)", runErr, firstLine(stderr)),
		}
	}

	for i := range issues {
		issues[i].Source = s.name
	}
	return issues, nil
}

func runCommand(ctx context.Context, command string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// writeTempFile stores content under the original extension so tools that
// dispatch on it behave normally.
func writeTempFile(path, content string) (string, error) {
	ext := filepath.Ext(path)
	f, err := os.CreateTemp("", "triage-scan-*"+ext)
	if err != nil {
		return "", err
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
