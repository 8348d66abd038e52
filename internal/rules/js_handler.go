package rules

import (
	"regexp"

	"review-triage/internal/domain"
)

var (
	jsExpressRouteRe = regexp.MustCompile(`(?:app|router)\.(?:get|post|put|delete|patch|use)\(`)
	jsExportRe       = regexp.MustCompile(`export\s+(?:default\s+)?(?:function|class|const)\b`)
	jsDangerousRe    = regexp.MustCompile(`\beval\(|dangerouslySetInnerHTML|child_process|document\.write\(`)
)

// jsHandler covers both javascript and typescript units.
type jsHandler struct{}

func (jsHandler) Name() string { return "javascript" }

func (jsHandler) Evaluate(unit *domain.ReviewUnit) []Finding {
	if unit.Language != "javascript" && unit.Language != "typescript" {
		return nil
	}

	after := unit.Snippets.After
	scope := after + "\n" + unit.Snippets.Context

	var findings []Finding

	if jsExpressRouteRe.MatchString(scope) {
		findings = append(findings, Finding{
			Tags:       []string{TagAPIEndpoint, TagRoutingFile},
			Level:      domain.ContextFileContext,
			Confidence: 0.8,
			Note:       "js:express_route",
		})
	}
	if jsExportRe.MatchString(after) {
		findings = append(findings, Finding{
			Tags:       []string{TagExportedAPI},
			Level:      domain.ContextFunction,
			Confidence: 0.6,
			Note:       "js:exported_symbol",
		})
	}
	if jsDangerousRe.MatchString(after) && !jsDangerousRe.MatchString(unit.Snippets.Before) {
		findings = append(findings, Finding{
			Tags:          []string{TagSecuritySensitive},
			Level:         domain.ContextFullFile,
			Confidence:    0.9,
			Note:          "js:dangerous_call",
			ExtraRequests: []domain.ExtraRequest{{Type: "callers"}},
		})
	}

	return findings
}
