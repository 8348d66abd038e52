package scan

import (
	"regexp"
	"strconv"
	"strings"

	"review-triage/internal/domain"

	"github.com/tidwall/gjson"
)

// Per-scanner severity tables. Whatever a tool reports collapses into the
// closed {error, warning, info} set; anything unmapped becomes info.
var (
	pylintSeverities = map[string]string{
		"fatal":       domain.SeverityError,
		"error":       domain.SeverityError,
		"warning":     domain.SeverityWarning,
		"convention":  domain.SeverityInfo,
		"refactor":    domain.SeverityInfo,
		"information": domain.SeverityInfo,
	}
	semgrepSeverities = map[string]string{
		"error":   domain.SeverityError,
		"warning": domain.SeverityWarning,
		"info":    domain.SeverityInfo,
	}
	yamllintSeverities = map[string]string{
		"error":   domain.SeverityError,
		"warning": domain.SeverityWarning,
	}
	golangciSeverities = map[string]string{
		"error":   domain.SeverityError,
		"warning": domain.SeverityWarning,
		"info":    domain.SeverityInfo,
		// golangci-lint often omits severity entirely.
		"": domain.SeverityWarning,
	}
)

func normalizeSeverity(raw string, table map[string]string) string {
	if severity, ok := table[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return severity
	}
	return domain.SeverityInfo
}

// parsePylint reads pylint's --output-format=json array:
// [{"type": "error", "line": 3, "column": 0, "message": "...", "symbol": "..."}].
func parsePylint(displayPath, stdout string) ([]domain.ScannerIssue, bool) {
	stdout = strings.TrimSpace(stdout)
	if !gjson.Valid(stdout) {
		return nil, false
	}
	root := gjson.Parse(stdout)
	if !root.IsArray() {
		return nil, false
	}

	var issues []domain.ScannerIssue
	root.ForEach(func(_, item gjson.Result) bool {
		ruleID := item.Get("symbol").String()
		if ruleID == "" {
			ruleID = item.Get("message-id").String()
		}
		issues = append(issues, domain.ScannerIssue{
			File:     displayPath,
			Line:     int(item.Get("line").Int()),
			Column:   int(item.Get("column").Int()),
			Severity: normalizeSeverity(item.Get("type").String(), pylintSeverities),
			RuleID:   ruleID,
			Message:  item.Get("message").String(),
		})
		return true
	})
	return issues, true
}

// parseESLint reads eslint's --format json output:
// [{"filePath": "...", "messages": [{"severity": 2, "line": 1, ...}]}].
// Severity 2 is an error, 1 a warning.
func parseESLint(displayPath, stdout string) ([]domain.ScannerIssue, bool) {
	stdout = strings.TrimSpace(stdout)
	if !gjson.Valid(stdout) {
		return nil, false
	}
	root := gjson.Parse(stdout)
	if !root.IsArray() {
		return nil, false
	}

	var issues []domain.ScannerIssue
	root.ForEach(func(_, file gjson.Result) bool {
		file.Get("messages").ForEach(func(_, msg gjson.Result) bool {
			severity := domain.SeverityWarning
			if msg.Get("severity").Int() >= 2 {
				severity = domain.SeverityError
			}
			issues = append(issues, domain.ScannerIssue{
				File:     displayPath,
				Line:     int(msg.Get("line").Int()),
				Column:   int(msg.Get("column").Int()),
				Severity: severity,
				RuleID:   msg.Get("ruleId").String(),
				Message:  msg.Get("message").String(),
			})
			return true
		})
		return true
	})
	return issues, true
}

// parseSemgrep reads semgrep's --json envelope:
// {"results": [{"check_id": "...", "start": {"line": 1, "col": 2}, "extra": {...}}]}.
func parseSemgrep(displayPath, stdout string) ([]domain.ScannerIssue, bool) {
	stdout = strings.TrimSpace(stdout)
	if !gjson.Valid(stdout) {
		return nil, false
	}
	results := gjson.Get(stdout, "results")
	if !results.Exists() {
		return nil, false
	}

	var issues []domain.ScannerIssue
	results.ForEach(func(_, item gjson.Result) bool {
		issues = append(issues, domain.ScannerIssue{
			File:     displayPath,
			Line:     int(item.Get("start.line").Int()),
			Column:   int(item.Get("start.col").Int()),
			Severity: normalizeSeverity(item.Get("extra.severity").String(), semgrepSeverities),
			RuleID:   item.Get("check_id").String(),
			Message:  item.Get("extra.message").String(),
		})
		return true
	})
	return issues, true
}

// yamllintLineRe matches --format parsable lines:
// "file.yaml:3:1: [error] duplication of key (key-duplicates)".
var yamllintLineRe = regexp.MustCompile(`^(.*?):(\d+):(\d+): \[(\w+)\] (.*?)(?: \(([^()]+)\))?$`)

// parseYamllint reads yamllint's parsable text output, one issue per line.
func parseYamllint(displayPath, stdout string) ([]domain.ScannerIssue, bool) {
	trimmed := strings.TrimSpace(stdout)
	if trimmed == "" {
		return nil, true
	}

	var issues []domain.ScannerIssue
	matchedAny := false
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		m := yamllintLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		matchedAny = true
		issues = append(issues, domain.ScannerIssue{
			File:     displayPath,
			Line:     atoiSafe(m[2]),
			Column:   atoiSafe(m[3]),
			Severity: normalizeSeverity(m[4], yamllintSeverities),
			RuleID:   m[6],
			Message:  m[5],
		})
	}
	return issues, matchedAny
}

// parseGolangCI reads golangci-lint's --out-format json envelope:
// {"Issues": [{"FromLinter": "...", "Text": "...", "Pos": {"Line": 1, ...}}]}.
func parseGolangCI(displayPath, stdout string) ([]domain.ScannerIssue, bool) {
	stdout = strings.TrimSpace(stdout)
	if !gjson.Valid(stdout) {
		return nil, false
	}
	root := gjson.Parse(stdout)
	issuesField := root.Get("Issues")
	if !issuesField.Exists() {
		return nil, false
	}

	var issues []domain.ScannerIssue
	issuesField.ForEach(func(_, item gjson.Result) bool {
		issues = append(issues, domain.ScannerIssue{
			File:     displayPath,
			Line:     int(item.Get("Pos.Line").Int()),
			Column:   int(item.Get("Pos.Column").Int()),
			Severity: normalizeSeverity(item.Get("Severity").String(), golangciSeverities),
			RuleID:   item.Get("FromLinter").String(),
			Message:  item.Get("Text").String(),
		})
		return true
	})
	return issues, true
}

func atoiSafe(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
