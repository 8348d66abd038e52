package rules

import (
	"regexp"
	"strings"

	"review-triage/internal/domain"
)

var (
	goHTTPHandlerRe = regexp.MustCompile(`http\.ResponseWriter|\*gin\.Context|echo\.Context|chi\.Router|mux\.Router`)
	goDBRe          = regexp.MustCompile(`\bsql\.|\bdb\.(?:Exec|Query|QueryRow)|gorm\.|sqlx\.`)
	goConcurrencyRe = regexp.MustCompile(`\bgo func\b|\bchan\b|sync\.(?:Mutex|RWMutex|WaitGroup|Once)|atomic\.`)
)

type goHandler struct{}

func (goHandler) Name() string { return "golang" }

func (goHandler) Evaluate(unit *domain.ReviewUnit) []Finding {
	if unit.Language != "golang" {
		return nil
	}

	after := unit.Snippets.After
	scope := after + "\n" + unit.Snippets.Context

	var findings []Finding

	if goHTTPHandlerRe.MatchString(scope) {
		findings = append(findings, Finding{
			Tags:       []string{TagAPIEndpoint},
			Level:      domain.ContextFileContext,
			Confidence: 0.8,
			Note:       "go:http_handler",
		})
	}
	if goDBRe.MatchString(after) {
		findings = append(findings, Finding{
			Tags:       []string{TagDBAccess},
			Level:      domain.ContextFileContext,
			Confidence: 0.7,
			Note:       "go:db_access",
		})
	}
	if goConcurrencyRe.MatchString(after) {
		findings = append(findings, Finding{
			Tags:       []string{TagConcurrency},
			Level:      domain.ContextFileContext,
			Confidence: 0.7,
			Note:       "go:concurrency",
		})
	}
	if strings.Contains(after, "if err != nil") && !strings.Contains(unit.Snippets.Before, "if err != nil") {
		findings = append(findings, Finding{
			Tags:       []string{TagErrorHandling},
			Level:      domain.ContextFunction,
			Confidence: 0.55,
			Note:       "go:error_path",
		})
	}

	return findings
}
