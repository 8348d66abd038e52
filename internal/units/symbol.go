package units

import (
	"regexp"
	"strings"

	"review-triage/internal/domain"
)

// Declaration openers per language family. The scan is intentionally shallow:
// it only has to find the enclosing def/func/class for the data model, not
// build a real symbol table.
var (
	pythonDeclRe = regexp.MustCompile(`^(\s*)(def|class)\s+([A-Za-z_][A-Za-z0-9_]*)`)
	goDeclRe     = regexp.MustCompile(`^func\s+(?:\([^)]*\)\s*)?([A-Za-z_][A-Za-z0-9_]*)`)
	jsFuncRe     = regexp.MustCompile(`^(\s*)(?:export\s+)?(?:default\s+)?(?:async\s+)?function\s*\*?\s*([A-Za-z_$][A-Za-z0-9_$]*)`)
	jsClassRe    = regexp.MustCompile(`^(\s*)(?:export\s+)?(?:default\s+)?class\s+([A-Za-z_$][A-Za-z0-9_$]*)`)
	jsArrowRe    = regexp.MustCompile(`^(\s*)(?:export\s+)?(?:const|let|var)\s+([A-Za-z_$][A-Za-z0-9_$]*)\s*=\s*(?:async\s*)?(?:\([^)]*\)|[A-Za-z_$][A-Za-z0-9_$]*)\s*=>`)
)

// scanSymbol finds the declaration enclosing the first changed line, searching
// upward from hunkStart but never past the context window. Returns nil when
// the language has no handler or no declaration is in range. Lines are
// 1-based, matching the hunk header coordinates.
func scanSymbol(fileLines []string, language string, contextStart, contextEnd, hunkStart int) *domain.Symbol {
	if hunkStart < 1 || hunkStart > len(fileLines) {
		return nil
	}
	if contextStart < 1 {
		contextStart = 1
	}
	if contextEnd > len(fileLines) {
		contextEnd = len(fileLines)
	}

	switch language {
	case "python":
		return scanPythonSymbol(fileLines, contextStart, hunkStart)
	case "golang":
		return scanGoSymbol(fileLines, contextStart, hunkStart)
	case "javascript", "typescript":
		return scanJSSymbol(fileLines, contextStart, hunkStart)
	default:
		return nil
	}
}

// scanPythonSymbol walks upward to the nearest def/class whose indentation is
// shallower than the changed line, then extends downward while the body stays
// deeper indented.
func scanPythonSymbol(fileLines []string, contextStart, hunkStart int) *domain.Symbol {
	hunkIndent := indentWidth(fileLines[hunkStart-1])

	for ln := hunkStart; ln >= contextStart; ln-- {
		m := pythonDeclRe.FindStringSubmatch(fileLines[ln-1])
		if m == nil {
			continue
		}
		declIndent := len(m[1])
		if ln != hunkStart && declIndent > hunkIndent {
			// A nested declaration below our line's scope; keep climbing.
			continue
		}

		end := ln
		for next := ln + 1; next <= len(fileLines); next++ {
			line := fileLines[next-1]
			if strings.TrimSpace(line) == "" {
				continue
			}
			if indentWidth(line) <= declIndent {
				break
			}
			end = next
		}

		kind := "function"
		if m[2] == "class" {
			kind = "class"
		}
		return &domain.Symbol{Name: m[3], Kind: kind, StartLine: ln, EndLine: end}
	}
	return nil
}

// scanGoSymbol matches top-level func declarations and closes the body at the
// first brace returning to column zero.
func scanGoSymbol(fileLines []string, contextStart, hunkStart int) *domain.Symbol {
	for ln := hunkStart; ln >= contextStart; ln-- {
		m := goDeclRe.FindStringSubmatch(fileLines[ln-1])
		if m == nil {
			continue
		}

		end := ln
		for next := ln + 1; next <= len(fileLines); next++ {
			end = next
			if strings.HasPrefix(fileLines[next-1], "}") {
				break
			}
		}
		return &domain.Symbol{Name: m[1], Kind: "function", StartLine: ln, EndLine: end}
	}
	return nil
}

func scanJSSymbol(fileLines []string, contextStart, hunkStart int) *domain.Symbol {
	for ln := hunkStart; ln >= contextStart; ln-- {
		line := fileLines[ln-1]

		var name, kind, indent string
		if m := jsFuncRe.FindStringSubmatch(line); m != nil {
			indent, name, kind = m[1], m[2], "function"
		} else if m := jsClassRe.FindStringSubmatch(line); m != nil {
			indent, name, kind = m[1], m[2], "class"
		} else if m := jsArrowRe.FindStringSubmatch(line); m != nil {
			indent, name, kind = m[1], m[2], "function"
		} else {
			continue
		}

		end := ln
		closer := indent + "}"
		for next := ln + 1; next <= len(fileLines); next++ {
			end = next
			if strings.HasPrefix(fileLines[next-1], closer) && indentWidth(fileLines[next-1]) == len(indent) {
				break
			}
		}
		return &domain.Symbol{Name: name, Kind: kind, StartLine: ln, EndLine: end}
	}
	return nil
}

// indentWidth counts leading spaces, tabs expanding to four.
func indentWidth(line string) int {
	width := 0
	for _, r := range line {
		switch r {
		case ' ':
			width++
		case '\t':
			width += 4
		default:
			return width
		}
	}
	return width
}
