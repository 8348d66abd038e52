package scan

import (
	"testing"

	"review-triage/internal/domain"
)

func TestParsePylint(t *testing.T) {
	stdout := `[
    {"type": "error", "module": "a", "obj": "", "line": 3, "column": 4, "path": "/tmp/triage-scan-1.py", "symbol": "undefined-variable", "message": "Undefined variable 'x'", "message-id": "E0602"},
    {"type": "convention", "module": "a", "obj": "", "line": 1, "column": 0, "path": "/tmp/triage-scan-1.py", "symbol": "missing-module-docstring", "message": "Missing module docstring", "message-id": "C0114"}
]`

	issues, ok := parsePylint("app/a.py", stdout)
	if !ok {
		t.Fatal("expected pylint JSON to parse")
	}
	if len(issues) != 2 {
		t.Fatalf("len(issues) = %d, want 2", len(issues))
	}

	want := domain.ScannerIssue{
		File:     "app/a.py",
		Line:     3,
		Column:   4,
		Severity: domain.SeverityError,
		RuleID:   "undefined-variable",
		Message:  "Undefined variable 'x'",
	}
	if issues[0] != want {
		t.Errorf("issues[0] = %+v, want %+v", issues[0], want)
	}
	if issues[1].Severity != domain.SeverityInfo {
		t.Errorf("convention severity = %q, want %q", issues[1].Severity, domain.SeverityInfo)
	}
}

func TestParsePylintRejectsNonJSON(t *testing.T) {
	tests := []struct {
		name   string
		stdout string
	}{
		{"traceback", "Traceback (most recent call last):\n  File ...\n"},
		{"object not array", `{"error": "bad flag"}`},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := parsePylint("a.py", tt.stdout); ok {
				t.Errorf("parsePylint(%q) ok = true, want false", tt.stdout)
			}
		})
	}
}

func TestParseESLint(t *testing.T) {
	stdout := `[{"filePath": "/tmp/triage-scan-2.js", "messages": [
    {"ruleId": "no-unused-vars", "severity": 2, "message": "'x' is defined but never used.", "line": 1, "column": 7},
    {"ruleId": "semi", "severity": 1, "message": "Missing semicolon.", "line": 2, "column": 12}
], "errorCount": 1, "warningCount": 1}]`

	issues, ok := parseESLint("src/app.js", stdout)
	if !ok {
		t.Fatal("expected eslint JSON to parse")
	}
	if len(issues) != 2 {
		t.Fatalf("len(issues) = %d, want 2", len(issues))
	}
	if issues[0].File != "src/app.js" {
		t.Errorf("File = %q, want the display path, not the temp path", issues[0].File)
	}
	if issues[0].Severity != domain.SeverityError {
		t.Errorf("severity 2 mapped to %q, want %q", issues[0].Severity, domain.SeverityError)
	}
	if issues[1].Severity != domain.SeverityWarning {
		t.Errorf("severity 1 mapped to %q, want %q", issues[1].Severity, domain.SeverityWarning)
	}
	if issues[1].RuleID != "semi" || issues[1].Line != 2 || issues[1].Column != 12 {
		t.Errorf("issues[1] = %+v", issues[1])
	}
}

func TestParseSemgrep(t *testing.T) {
	stdout := `{"results": [{"check_id": "python.lang.security.audit.eval-detected",
      "path": "/tmp/triage-scan-3.py",
      "start": {"line": 4, "col": 9}, "end": {"line": 4, "col": 20},
      "extra": {"message": "Detected the use of eval().", "severity": "ERROR"}}],
    "errors": [], "paths": {"scanned": ["/tmp/triage-scan-3.py"]}}`

	issues, ok := parseSemgrep("app/handlers.py", stdout)
	if !ok {
		t.Fatal("expected semgrep JSON to parse")
	}
	if len(issues) != 1 {
		t.Fatalf("len(issues) = %d, want 1", len(issues))
	}

	want := domain.ScannerIssue{
		File:     "app/handlers.py",
		Line:     4,
		Column:   9,
		Severity: domain.SeverityError,
		RuleID:   "python.lang.security.audit.eval-detected",
		Message:  "Detected the use of eval().",
	}
	if issues[0] != want {
		t.Errorf("issues[0] = %+v, want %+v", issues[0], want)
	}

	if issues, ok := parseSemgrep("a.py", `{"results": [], "errors": []}`); !ok || len(issues) != 0 {
		t.Errorf("empty results = %+v, %v, want no issues and ok", issues, ok)
	}
	if _, ok := parseSemgrep("a.py", `{"errors": ["fatal"]}`); ok {
		t.Error("expected missing results key to be rejected")
	}
}

func TestParseYamllint(t *testing.T) {
	stdout := "config/app.yaml:3:1: [error] duplication of key \"a\" in mapping (key-duplicates)\n" +
		"config/app.yaml:10:81: [warning] line too long (120 > 80 characters) (line-length)\n"

	issues, ok := parseYamllint("config/app.yaml", stdout)
	if !ok {
		t.Fatal("expected yamllint output to parse")
	}
	if len(issues) != 2 {
		t.Fatalf("len(issues) = %d, want 2", len(issues))
	}
	if issues[0].Severity != domain.SeverityError || issues[0].RuleID != "key-duplicates" {
		t.Errorf("issues[0] = %+v", issues[0])
	}
	if issues[1].Line != 10 || issues[1].Column != 81 {
		t.Errorf("issues[1] position = %d:%d, want 10:81", issues[1].Line, issues[1].Column)
	}
	if issues[1].Message != "line too long (120 > 80 characters)" {
		t.Errorf("Message = %q", issues[1].Message)
	}
	if issues[1].RuleID != "line-length" {
		t.Errorf("RuleID = %q, want line-length", issues[1].RuleID)
	}
}

func TestParseYamllintCleanAndGarbage(t *testing.T) {
	// A clean file produces no output at all; that still counts as parsed.
	if issues, ok := parseYamllint("a.yaml", ""); !ok || len(issues) != 0 {
		t.Errorf("empty output = %+v, %v, want no issues and ok", issues, ok)
	}
	if _, ok := parseYamllint("a.yaml", "yamllint: command error\n"); ok {
		t.Error("expected unrecognized output to be rejected")
	}
}

func TestParseGolangCI(t *testing.T) {
	stdout := `{"Issues": [{"FromLinter": "errcheck",
      "Text": "Error return value of ` + "`f.Close`" + ` is not checked",
      "Severity": "",
      "Pos": {"Filename": "main.go", "Offset": 10, "Line": 42, "Column": 2}}],
    "Report": {"Linters": [{"Name": "errcheck", "Enabled": true}]}}`

	issues, ok := parseGolangCI("cmd/main.go", stdout)
	if !ok {
		t.Fatal("expected golangci-lint JSON to parse")
	}
	if len(issues) != 1 {
		t.Fatalf("len(issues) = %d, want 1", len(issues))
	}
	if issues[0].Severity != domain.SeverityWarning {
		t.Errorf("omitted severity mapped to %q, want %q", issues[0].Severity, domain.SeverityWarning)
	}
	if issues[0].RuleID != "errcheck" || issues[0].Line != 42 {
		t.Errorf("issues[0] = %+v", issues[0])
	}

	// A clean run emits "Issues": null, which is present but empty.
	if issues, ok := parseGolangCI("main.go", `{"Issues": null, "Report": {}}`); !ok || len(issues) != 0 {
		t.Errorf("null Issues = %+v, %v, want no issues and ok", issues, ok)
	}
	if _, ok := parseGolangCI("main.go", `{"Report": {}}`); ok {
		t.Error("expected missing Issues key to be rejected")
	}
}

func TestNormalizeSeverityDefaultsToInfo(t *testing.T) {
	if got := normalizeSeverity("bizarre", pylintSeverities); got != domain.SeverityInfo {
		t.Errorf("normalizeSeverity(bizarre) = %q, want %q", got, domain.SeverityInfo)
	}
	if got := normalizeSeverity(" WARNING ", semgrepSeverities); got != domain.SeverityWarning {
		t.Errorf("normalizeSeverity( WARNING ) = %q, want %q", got, domain.SeverityWarning)
	}
}
