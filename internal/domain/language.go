package domain

import (
	"path/filepath"
	"strings"
)

// Language identifiers that carry special meaning: neither maps to a scanner
// and both are dropped from static scans.
const (
	LanguageText    = "text"
	LanguageUnknown = "unknown"
)

// languageExtensions maps file extensions to language identifiers
var languageExtensions = map[string]string{
	".cpp": "cpp", ".cc": "cpp", ".cxx": "cpp", ".c": "cpp", ".h": "cpp", ".hpp": "cpp", ".hxx": "cpp",
	".go":   "golang",
	".py":   "python",
	".java": "java",
	".ts":   "typescript", ".tsx": "typescript",
	".js": "javascript", ".jsx": "javascript",
	".rs": "rust",
	".kt": "kotlin", ".kts": "kotlin",
	".swift": "swift",
	".rb":    "ruby",
	".cs":    "csharp",
	".sh":    "shell", ".bash": "shell",
	".yaml": "yaml", ".yml": "yaml",
	".json": "json",
	".toml": "toml",
	".ini":  "ini", ".cfg": "ini",
	".sql": "sql",
	".md":  LanguageText, ".markdown": LanguageText, ".rst": LanguageText, ".txt": LanguageText,
}

// DetectLanguage classifies a single file by extension. Files without a known
// extension are "unknown"; documentation formats are "text". Both mean no
// scanner applies.
func DetectLanguage(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if lang, ok := languageExtensions[ext]; ok {
		return lang
	}
	return LanguageUnknown
}

// PrimaryLanguage detects the dominant language across a list of file paths.
// Returns "default" if no language is detected, which selects the generic
// prompt in the planner's fallback hierarchy.
func PrimaryLanguage(files []string) string {
	counts := make(map[string]int)

	for _, file := range files {
		lang := DetectLanguage(file)
		if lang == LanguageUnknown || lang == LanguageText {
			continue
		}
		counts[lang]++
	}

	if len(counts) == 0 {
		return "default"
	}

	maxLang := "default"
	maxCount := 0
	for lang, count := range counts {
		if count > maxCount {
			maxCount = count
			maxLang = lang
		}
	}

	return maxLang
}
