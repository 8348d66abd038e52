package rules

import (
	"regexp"
	"strings"

	"review-triage/internal/domain"
)

// Language-layer tags shared across the python/go/js handlers.
const (
	TagAPIEndpoint   = "api_endpoint"
	TagAuthLogic     = "auth_logic"
	TagDBAccess      = "db_access"
	TagErrorHandling = "error_handling"
	TagConcurrency   = "concurrency"
	TagExportedAPI   = "exported_api"
)

var (
	pyFlaskRouteRe  = regexp.MustCompile(`@(?:app|bp|blueprint)\.route\(`)
	pyDRFViewRe     = regexp.MustCompile(`@api_view\(|APIView\)|ViewSet\)`)
	pyAuthDecorRe   = regexp.MustCompile(`@(?:login_required|permission_required|user_passes_test|requires_auth)`)
	pyDjangoModelRe = regexp.MustCompile(`class\s+\w+\(.*models\.Model`)
	pyDangerousRe   = regexp.MustCompile(`\beval\(|\bexec\(|pickle\.loads\(|subprocess\.|os\.system\(|yaml\.load\(`)
)

// pythonHandler inspects the changed lines plus the widened context, since a
// decorator usually sits just above the hunk.
type pythonHandler struct{}

func (pythonHandler) Name() string { return "python" }

func (pythonHandler) Evaluate(unit *domain.ReviewUnit) []Finding {
	if unit.Language != "python" {
		return nil
	}

	after := unit.Snippets.After
	scope := after + "\n" + unit.Snippets.Context

	var findings []Finding

	if pyFlaskRouteRe.MatchString(scope) {
		findings = append(findings, Finding{
			Tags:       []string{TagAPIEndpoint, TagRoutingFile},
			Level:      domain.ContextFileContext,
			Confidence: 0.8,
			Note:       "py:decorator:flask_route",
		})
	}
	if pyDRFViewRe.MatchString(scope) {
		findings = append(findings, Finding{
			Tags:       []string{TagAPIEndpoint},
			Level:      domain.ContextFileContext,
			Confidence: 0.8,
			Note:       "py:decorator:django_view",
		})
	}
	if pyAuthDecorRe.MatchString(scope) {
		findings = append(findings, Finding{
			Tags:          []string{TagAuthLogic, TagSecuritySensitive},
			Level:         domain.ContextFileContext,
			Confidence:    0.85,
			Note:          "py:decorator:auth",
			ExtraRequests: []domain.ExtraRequest{{Type: "callers"}},
		})
	}
	if pyDjangoModelRe.MatchString(scope) {
		findings = append(findings, Finding{
			Tags:       []string{TagDBAccess},
			Level:      domain.ContextFileContext,
			Confidence: 0.75,
			Note:       "py:class:django_model",
		})
	}

	// Dangerous calls only count when the change itself introduces them.
	if pyDangerousRe.MatchString(after) && !pyDangerousRe.MatchString(unit.Snippets.Before) {
		findings = append(findings, Finding{
			Tags:          []string{TagSecuritySensitive},
			Level:         domain.ContextFullFile,
			Confidence:    0.9,
			Note:          "py:dangerous_call",
			ExtraRequests: []domain.ExtraRequest{{Type: "callers"}},
		})
	}

	if strings.Contains(after, "raise ") && !strings.Contains(unit.Snippets.Before, "raise ") {
		findings = append(findings, Finding{
			Tags:       []string{TagErrorHandling},
			Level:      domain.ContextFunction,
			Confidence: 0.55,
			Note:       "py:raise_path",
		})
	}

	return findings
}
