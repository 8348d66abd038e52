package domain

import "strings"

// Diff path prefixes stripped during normalization.
const (
	// PathPrefixGitSource is the standard git source prefix
	PathPrefixGitSource = "a/"
	// PathPrefixGitDestination is the standard git destination prefix
	PathPrefixGitDestination = "b/"
)

// NormalizePath normalizes a file path as it appears in diff or scanner
// output: rename markers and git a/ b/ prefixes are stripped, separators
// become forward slashes, and leading ./ or / are removed. The same
// normalization must be applied on both sides of unit/issue linkage.
func NormalizePath(path string) string {
	path = strings.TrimSpace(path)
	path = strings.ReplaceAll(path, "\\", "/")

	for _, marker := range []string{"rename from ", "rename to "} {
		path = strings.TrimPrefix(path, marker)
	}

	prefixes := []string{
		PathPrefixGitSource,
		PathPrefixGitDestination,
		"./",
		"/",
	}

	for _, p := range prefixes {
		path = strings.TrimPrefix(path, p)
	}

	return path
}
