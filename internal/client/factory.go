package client

import (
	"review-triage/internal/config"
	"review-triage/internal/llm"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// NewLLM creates an LLM client from planner configuration.
// The returned client is safe for concurrent use as long as the
// configuration is not modified after creation.
func NewLLM(cfg config.PlannerConfig) llm.Client {
	client := openai.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.Endpoint),
	)
	adapter := NewOpenAIAdapter(&client, cfg.Model, cfg.MaxConcurrency)
	if cfg.Timeout > 0 {
		adapter.SetTimeout(cfg.Timeout)
	}
	return adapter
}
