package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"review-triage/internal/config"
	"review-triage/internal/domain"
	"review-triage/internal/metrics"
	"review-triage/internal/types"

	"github.com/tmc/langchaingo/llms"
	lcopenai "github.com/tmc/langchaingo/llms/openai"
)

// langchainPlanner drives an OpenAI-compatible endpoint through langchaingo,
// for deployments that rely on its provider handling.
type langchainPlanner struct {
	model       llms.Model
	temperature float64
	prompts     *PromptLoader
}

func newLangChainPlanner(cfg config.PlannerConfig) (*langchainPlanner, error) {
	opts := []lcopenai.Option{lcopenai.WithModel(cfg.Model)}
	if cfg.Endpoint != "" {
		opts = append(opts, lcopenai.WithBaseURL(cfg.Endpoint))
	}
	if cfg.APIKey != "" {
		opts = append(opts, lcopenai.WithToken(cfg.APIKey))
	}

	model, err := lcopenai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("init langchain backend: %w", err)
	}

	return &langchainPlanner{
		model:       model,
		temperature: cfg.Temperature,
		prompts:     NewPromptLoader(cfg.PromptDir),
	}, nil
}

func (p *langchainPlanner) Name() string { return config.BackendLangChain }

func (p *langchainPlanner) Plan(ctx context.Context, req *Request) (*domain.PlannerResponse, error) {
	status := "error"
	start := time.Now()
	defer func() {
		metrics.PlannerDuration.WithLabelValues(p.Name()).Observe(time.Since(start).Seconds())
		metrics.PlannerRequests.WithLabelValues(p.Name(), status).Inc()
	}()

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, p.prompts.Load(req.Language)),
		llms.TextParts(llms.ChatMessageTypeHuman, string(req.IndexJSON)),
	}

	resp, err := p.model.GenerateContent(ctx, messages,
		llms.WithTemperature(p.temperature),
		llms.WithJSONMode(),
	)
	if err != nil {
		return nil, &types.PlannerError{Backend: p.Name(), Err: err}
	}
	if len(resp.Choices) == 0 {
		return nil, &types.PlannerError{Backend: p.Name(), Err: errors.New("empty completion")}
	}

	plan, err := parsePlan(resp.Choices[0].Content)
	if err != nil {
		return nil, &types.PlannerError{Backend: p.Name(), Err: err}
	}

	status = "success"
	slog.Debug("planner responded",
		"backend", p.Name(), "units", req.Units, "decisions", len(plan.Plan))
	return plan, nil
}
