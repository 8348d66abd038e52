package domain

// ContextLevel describes how much surrounding code a reviewer should see for a unit.
// The levels form a closed ordered vocabulary shared by the rule layer, the planner
// and the fusion layer.
type ContextLevel string

const (
	ContextDiffOnly    ContextLevel = "diff_only"
	ContextFunction    ContextLevel = "function"
	ContextFileContext ContextLevel = "file_context"
	ContextFullFile    ContextLevel = "full_file"

	// ContextUnknown is the sentinel for values outside the vocabulary.
	ContextUnknown ContextLevel = "unknown"
)

// contextLevelRanks orders the canonical levels. Anything absent ranks -1 so a
// comparison never promotes an invalid level.
var contextLevelRanks = map[ContextLevel]int{
	ContextDiffOnly:    0,
	ContextFunction:    1,
	ContextFileContext: 2,
	ContextFullFile:    3,
}

// contextLevelSynonyms maps legacy spellings onto the canonical vocabulary.
var contextLevelSynonyms = map[ContextLevel]ContextLevel{
	"local": ContextDiffOnly,
	"file":  ContextFileContext,
}

// NormalizeContextLevel collapses legacy synonyms onto the canonical level and
// returns ContextUnknown for anything outside the vocabulary.
func NormalizeContextLevel(level ContextLevel) ContextLevel {
	if canonical, ok := contextLevelSynonyms[level]; ok {
		return canonical
	}
	if _, ok := contextLevelRanks[level]; ok {
		return level
	}
	return ContextUnknown
}

// Rank returns the position of the level in the ordering, after synonym
// normalization. Unknown or empty levels rank -1.
func (c ContextLevel) Rank() int {
	if rank, ok := contextLevelRanks[NormalizeContextLevel(c)]; ok {
		return rank
	}
	return -1
}

// Valid reports whether the level normalizes into the canonical vocabulary.
func (c ContextLevel) Valid() bool {
	return c.Rank() >= 0
}

// MaxLevel returns the higher-ranked of a and b. Ties return a.
func MaxLevel(a, b ContextLevel) ContextLevel {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}
