package units

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"review-triage/internal/domain"
	"review-triage/internal/types"

	"github.com/bluekeyes/go-gitdiff/gitdiff"
)

// Builder turns unified-diff text into review units. Context snippets are
// widened from the current file content on disk, so the builder is rooted at
// the project directory the diff was taken from.
type Builder struct {
	radius int
	root   string
}

// NewBuilder creates a unit builder. radius is the number of new-file lines
// pulled around each hunk (default 20 when non-positive).
func NewBuilder(radius int, root string) *Builder {
	if radius <= 0 {
		radius = 20
	}
	return &Builder{radius: radius, root: root}
}

// Build parses the diff and emits one unit per kept hunk, ids u1..uN in diff
// order. A malformed patch yields the units parsed so far plus a ParseError;
// callers log it and continue.
func (b *Builder) Build(diffText string) ([]domain.ReviewUnit, error) {
	files, _, err := gitdiff.Parse(strings.NewReader(diffText))

	var units []domain.ReviewUnit
	seq := 0
	for _, file := range files {
		if file.IsBinary {
			slog.Debug("skipping binary file", "path", file.NewName)
			continue
		}
		if file.IsDelete {
			continue
		}

		path := domain.NormalizePath(file.NewName)
		if path == "" {
			path = domain.NormalizePath(file.OldName)
		}
		changeType := domain.ChangeModify
		if file.IsNew {
			changeType = domain.ChangeAdd
		}

		fileLines := b.currentFileLines(path)

		for _, frag := range file.TextFragments {
			if frag == nil || isPureRemoval(frag) {
				continue
			}

			seq++
			units = append(units, b.buildUnit(seq, path, changeType, frag, fileLines))
		}
	}

	if err != nil {
		return units, &types.ParseError{Detail: fmt.Sprintf("%d files parsed", len(files)), Err: err}
	}
	return units, nil
}

// isPureRemoval reports whether the fragment has nothing on the new side:
// no added lines and no surviving context.
func isPureRemoval(frag *gitdiff.TextFragment) bool {
	for _, line := range frag.Lines {
		if line.Op == gitdiff.OpAdd || line.Op == gitdiff.OpContext {
			return false
		}
	}
	return true
}

func (b *Builder) buildUnit(seq int, path string, changeType domain.ChangeType, frag *gitdiff.TextFragment, fileLines []string) domain.ReviewUnit {
	hunk := domain.HunkRange{
		OldStart: int(frag.OldPosition),
		OldLines: int(frag.OldLines),
		NewStart: int(frag.NewPosition),
		NewLines: int(frag.NewLines),
	}
	if hunk.NewStart < 1 {
		hunk.NewStart = 1
	}

	var before, after []string
	added, removed := 0, 0
	for _, line := range frag.Lines {
		text := strings.TrimSuffix(line.Line, "\n")
		switch line.Op {
		case gitdiff.OpContext:
			before = append(before, text)
			after = append(after, text)
		case gitdiff.OpDelete:
			before = append(before, text)
			removed++
		case gitdiff.OpAdd:
			after = append(after, text)
			added++
		}
	}

	newStart, newEnd := hunk.NewRange()
	contextStart, contextEnd := newStart, newEnd
	contextText := ""
	if len(fileLines) > 0 {
		contextStart = max(1, newStart-b.radius)
		contextEnd = min(len(fileLines), newEnd+b.radius)
		if contextStart <= contextEnd {
			contextText = strings.Join(fileLines[contextStart-1:contextEnd], "\n")
		}
	}

	unit := domain.ReviewUnit{
		UnitID:     fmt.Sprintf("u%d", seq),
		FilePath:   path,
		Language:   domain.DetectLanguage(path),
		ChangeType: changeType,
		HunkRange:  hunk,
		Snippets: domain.CodeSnippets{
			Before:  strings.Join(before, "\n"),
			After:   strings.Join(after, "\n"),
			Context: contextText,
		},
		ContextStart: contextStart,
		ContextEnd:   contextEnd,
		UnifiedDiff:  renderUnifiedDiff(frag),
		Metrics: domain.UnitMetrics{
			AddedLines:   added,
			RemovedLines: removed,
		},
		Tags: []string{},
	}

	if len(fileLines) > 0 {
		unit.Symbol = scanSymbol(fileLines, unit.Language, contextStart, contextEnd, newStart)
	}

	return unit
}

// currentFileLines reads the present content of the file, nil when absent
// (renames or deletions mid-series degrade to empty context, never fail).
func (b *Builder) currentFileLines(path string) []string {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(filepath.Join(b.root, path))
	if err != nil {
		slog.Debug("file absent for context", "path", path, "error", err)
		return nil
	}
	lines := strings.Split(string(data), "\n")
	// A trailing newline yields one phantom empty element.
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return lines
}
