package rules

import (
	"path"
	"strings"

	"review-triage/internal/domain"
)

// Tag vocabulary produced by the path handler. The fusion selection predicate
// and the scan risk scoring key off these exact strings.
const (
	TagSecuritySensitive  = "security_sensitive"
	TagConfigFile         = "config_file"
	TagRoutingFile        = "routing_file"
	TagTestFile           = "test_file"
	TagMigrationFile      = "migration_file"
	TagDependencyManifest = "dependency_manifest"
	TagGeneratedFile      = "generated_file"
)

// SecurityPathKeywords mark a path as security-relevant. The scan service
// reuses the same list for risk ranking.
var SecurityPathKeywords = []string{
	"auth", "security", "crypto", "token", "password", "secret", "session", "acl", "permission",
}

var dependencyManifests = map[string]bool{
	"go.mod": true, "go.sum": true,
	"package.json": true, "package-lock.json": true, "yarn.lock": true, "pnpm-lock.yaml": true,
	"requirements.txt": true, "pyproject.toml": true, "pipfile": true, "pipfile.lock": true,
	"gemfile": true, "gemfile.lock": true,
	"pom.xml": true, "build.gradle": true,
	"cargo.toml": true, "cargo.lock": true,
}

// pathHandler tags units from the file path alone, independent of language.
type pathHandler struct{}

func (pathHandler) Name() string { return "path" }

func (pathHandler) Evaluate(unit *domain.ReviewUnit) []Finding {
	lower := strings.ToLower(unit.FilePath)
	base := path.Base(lower)

	var findings []Finding

	if dependencyManifests[base] {
		findings = append(findings, Finding{
			Tags:       []string{TagDependencyManifest},
			Level:      domain.ContextDiffOnly,
			Confidence: 0.85,
			Note:       "path:dependency_manifest",
		})
	}

	if strings.Contains(lower, ".pb.") || strings.Contains(lower, "_generated") ||
		strings.Contains(lower, ".gen.") || strings.HasPrefix(base, "zz_generated") {
		findings = append(findings, Finding{
			Tags:       []string{TagGeneratedFile},
			Level:      domain.ContextDiffOnly,
			Confidence: 0.9,
			Note:       "path:generated_file",
		})
	}

	if strings.Contains(base, "_test.") || strings.HasPrefix(base, "test_") ||
		strings.Contains(lower, "/tests/") || strings.Contains(base, ".spec.") ||
		strings.Contains(base, ".test.") {
		findings = append(findings, Finding{
			Tags:       []string{TagTestFile},
			Level:      domain.ContextDiffOnly,
			Confidence: 0.8,
			Note:       "path:test_file",
		})
	}

	for _, kw := range SecurityPathKeywords {
		if strings.Contains(lower, kw) {
			findings = append(findings, Finding{
				Tags:          []string{TagSecuritySensitive},
				Level:         domain.ContextFileContext,
				Confidence:    0.85,
				Note:          "path:security_sensitive",
				ExtraRequests: []domain.ExtraRequest{{Type: "callers"}},
			})
			break
		}
	}

	if base == "urls.py" || strings.Contains(base, "routes") || strings.Contains(base, "router") ||
		strings.Contains(lower, "/routing/") {
		findings = append(findings, Finding{
			Tags:       []string{TagRoutingFile},
			Level:      domain.ContextFileContext,
			Confidence: 0.75,
			Note:       "path:routing_file",
		})
	}

	if isConfigPath(lower, base, unit.Language) {
		findings = append(findings, Finding{
			Tags:       []string{TagConfigFile},
			Level:      domain.ContextFileContext,
			Confidence: 0.7,
			Note:       "path:config_file",
		})
	}

	return findings
}

// isConfigPath treats structured-data files and anything under a
// config/settings path as configuration. Dependency manifests are already
// covered above and still count as config when they match both.
func isConfigPath(lower, base, language string) bool {
	switch language {
	case "yaml", "toml", "ini":
		return true
	}
	if base == "settings.py" || base == ".env" || strings.HasPrefix(base, ".env.") {
		return true
	}
	return strings.Contains(lower, "config") || strings.Contains(lower, "settings")
}
