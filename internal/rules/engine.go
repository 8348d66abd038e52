package rules

import (
	"log/slog"

	"review-triage/internal/domain"
	"review-triage/internal/learned"
)

// Canonical confidence thresholds. The fusion layer and the conflict tracker
// band on these same values, so they are part of the cross-layer contract.
const (
	ConfidenceHigh   = 0.8
	ConfidenceMedium = 0.5
	ConfidenceLow    = 0.3
)

// defaultConfidence scores a unit no handler recognized.
const defaultConfidence = 0.2

// learnedConfidenceCap bounds what a learned rule may contribute, however
// confident the miner was.
const learnedConfidenceCap = 0.95

// Finding is one handler's contribution to a unit: tags to attach, a
// suggested context level with confidence, a stable note key the conflict
// tracker groups on, and optional extra-context requests.
type Finding struct {
	Tags          []string
	Level         domain.ContextLevel
	Confidence    float64
	Note          string
	ExtraRequests []domain.ExtraRequest
}

// Handler inspects a unit and returns zero or more findings. Handlers see the
// tags accumulated by the handlers before them in the chain.
type Handler interface {
	Name() string
	Evaluate(unit *domain.ReviewUnit) []Finding
}

// Engine runs the handler chain over units and writes the rule-layer fields:
// tags, rule_context_level, rule_confidence, rule_notes, rule_extra_requests.
type Engine struct {
	handlers []Handler
}

// NewEngine builds the standard chain. Path and structure handlers run first
// so the language handlers and learned rules can key off their tags. store
// may be nil, which disables learned matching.
func NewEngine(store *learned.Store) *Engine {
	handlers := []Handler{
		pathHandler{},
		structureHandler{},
		pythonHandler{},
		goHandler{},
		jsHandler{},
		metricsHandler{},
	}
	if store != nil {
		handlers = append(handlers, learnedHandler{store: store})
	}
	return &Engine{handlers: handlers}
}

// ScoreAll enriches every unit in place, preserving slice order.
func (e *Engine) ScoreAll(units []domain.ReviewUnit) {
	for i := range units {
		e.Score(&units[i])
	}
}

// Score applies the handler chain to one unit. Findings combine by highest
// context level, maximum confidence and note append order; tags and extra
// requests are deduplicated keeping first occurrence.
func (e *Engine) Score(unit *domain.ReviewUnit) {
	if unit.Tags == nil {
		unit.Tags = []string{}
	}
	unit.RuleNotes = nil
	unit.RuleExtraRequests = nil

	level := domain.ContextUnknown
	confidence := 0.0
	matched := false

	seenRequests := make(map[string]bool)

	for _, h := range e.handlers {
		for _, f := range h.Evaluate(unit) {
			matched = true

			for _, tag := range f.Tags {
				if !unit.HasTag(tag) {
					unit.Tags = append(unit.Tags, tag)
				}
			}
			if f.Note != "" {
				unit.RuleNotes = append(unit.RuleNotes, f.Note)
			}
			for _, req := range f.ExtraRequests {
				if !seenRequests[req.Type] {
					seenRequests[req.Type] = true
					unit.RuleExtraRequests = append(unit.RuleExtraRequests, req)
				}
			}

			level = domain.MaxLevel(level, f.Level)
			if f.Confidence > confidence {
				confidence = f.Confidence
			}
		}
	}

	if !matched {
		level = domain.ContextDiffOnly
		confidence = defaultConfidence
		unit.RuleNotes = []string{unit.Language + ":default"}
	}
	if !level.Valid() {
		level = domain.ContextDiffOnly
	}

	unit.RuleContextLevel = level
	unit.RuleConfidence = confidence

	slog.Debug("unit scored",
		"unit_id", unit.UnitID,
		"level", unit.RuleContextLevel,
		"confidence", unit.RuleConfidence,
		"tags", unit.Tags)
}
