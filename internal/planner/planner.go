package planner

import (
	"context"
	"fmt"

	"review-triage/internal/config"
	"review-triage/internal/domain"
	"review-triage/internal/llm"
)

// Planner proposes per-unit review decisions for a serialized review index.
type Planner interface {
	// Name identifies the backend for logging and metrics.
	Name() string
	// Plan sends the request to the backend and returns its decisions.
	Plan(ctx context.Context, req *Request) (*domain.PlannerResponse, error)
}

// Request is a review index serialized for one backend round trip.
type Request struct {
	// IndexJSON is the budget-slimmed index document.
	IndexJSON []byte
	// Language selects the system prompt variant.
	Language string
	// Units is the number of units described by the index.
	Units int
}

// New builds the backend selected by cfg.Backend. The openai backend shares
// the given llm.Client; langchain and gemini construct their own transports.
func New(cfg config.PlannerConfig, llmClient llm.Client) (Planner, error) {
	switch cfg.Backend {
	case "", config.BackendOpenAI:
		return newOpenAIPlanner(cfg, llmClient), nil
	case config.BackendLangChain:
		return newLangChainPlanner(cfg)
	case config.BackendGemini:
		return newGeminiPlanner(cfg)
	default:
		return nil, fmt.Errorf("unknown planner backend %q", cfg.Backend)
	}
}
