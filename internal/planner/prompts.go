package planner

import (
	"log/slog"
	"os"
	"path/filepath"
)

// defaultSystemPrompt is the builtin planner instruction used when no prompt
// file is configured. It pins the response contract the parser expects.
const defaultSystemPrompt = `You are a code review planner. You receive a JSON review index describing change units. Each unit carries a rule-layer suggestion: a context level and a confidence. For each unit, decide how much context a human reviewer actually needs and whether review can be skipped.

Respond with JSON only, in exactly this shape:
{"plan": [{"unit_id": "<id from the index>", "llm_context_level": "diff_only|function|file_context|full_file", "skip_review": false, "reason": "<short>", "extra_requests": [{"type": "<kind>", "details": "<what>"}]}]}

Guidelines:
- Reference only unit_id values present in the index.
- Omit llm_context_level to accept the rule suggestion as-is.
- Set skip_review to true only for trivial or mechanical changes.
- Use extra_requests to ask for material beyond the context level, such as callers or tests.
- Keep reasons short.`

// PromptLoader loads planner system prompts with a language fallback chain.
type PromptLoader struct {
	baseDir string
}

// NewPromptLoader creates a loader rooted at baseDir. An empty baseDir always
// yields the builtin prompt.
func NewPromptLoader(baseDir string) *PromptLoader {
	return &PromptLoader{baseDir: baseDir}
}

// Load returns the system prompt for a language:
// 1. {baseDir}/{language}.md
// 2. {baseDir}/default.md
// 3. builtin default
func (l *PromptLoader) Load(language string) string {
	if l.baseDir == "" {
		return defaultSystemPrompt
	}

	candidates := []string{filepath.Join(l.baseDir, "default.md")}
	if language != "" && language != "default" {
		candidates = append([]string{filepath.Join(l.baseDir, language+".md")}, candidates...)
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err == nil {
			return string(data)
		}
		if !os.IsNotExist(err) {
			slog.Warn("read prompt failed", "path", path, "error", err)
		}
	}

	return defaultSystemPrompt
}
