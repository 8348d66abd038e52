package units

import (
	"fmt"
	"strings"

	"review-triage/internal/config"

	"github.com/bluekeyes/go-gitdiff/gitdiff"
)

// Rendering caps. Context runs keep their head and collapse the tail; delete
// runs over the threshold collapse to a single counted marker. The gutter
// keeps counting through collapsed lines, so line numbers stay accurate.
const (
	maxContextRun   = 5
	foldDeletesOver = 30
)

// renderUnifiedDiff renders one hunk with an old/new line-number gutter:
//
//	   10    10   unchanged
//	   11         - removed
//	         11   + added
//
// Context lines carry both numbers, deletions only the old number, additions
// only the new one.
func renderUnifiedDiff(frag *gitdiff.TextFragment) string {
	var out []string
	var deletes []string

	oldN := int(frag.OldPosition)
	newN := int(frag.NewPosition)
	if oldN < 1 {
		oldN = 1
	}
	if newN < 1 {
		newN = 1
	}

	flushDeletes := func() {
		if len(deletes) == 0 {
			return
		}
		if len(deletes) > foldDeletesOver {
			out = append(out, fmt.Sprintf(config.MarkerDeleted, len(deletes)))
		} else {
			out = append(out, deletes...)
		}
		deletes = deletes[:0]
	}

	contextRun := 0
	for _, line := range frag.Lines {
		text := strings.TrimSuffix(line.Line, "\n")
		switch line.Op {
		case gitdiff.OpDelete:
			deletes = append(deletes, fmt.Sprintf("%5d       - %s", oldN, text))
			oldN++
			contextRun = 0
		case gitdiff.OpAdd:
			flushDeletes()
			out = append(out, fmt.Sprintf("      %5d + %s", newN, text))
			newN++
			contextRun = 0
		case gitdiff.OpContext:
			flushDeletes()
			contextRun++
			switch {
			case contextRun <= maxContextRun:
				out = append(out, fmt.Sprintf("%5d %5d   %s", oldN, newN, text))
			case contextRun == maxContextRun+1:
				out = append(out, config.MarkerOmitted)
			}
			oldN++
			newN++
		}
	}
	flushDeletes()

	return strings.Join(out, "\n")
}
