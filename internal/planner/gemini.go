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

	"google.golang.org/genai"
)

// geminiPlanner drives Google Gemini through the genai SDK, requesting JSON
// output via the response MIME type.
type geminiPlanner struct {
	client      *genai.Client
	model       string
	temperature float64
	prompts     *PromptLoader
}

func newGeminiPlanner(cfg config.PlannerConfig) (*geminiPlanner, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini backend requires an api key")
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("init gemini backend: %w", err)
	}

	return &geminiPlanner{
		client:      client,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		prompts:     NewPromptLoader(cfg.PromptDir),
	}, nil
}

func (p *geminiPlanner) Name() string { return config.BackendGemini }

func (p *geminiPlanner) Plan(ctx context.Context, req *Request) (*domain.PlannerResponse, error) {
	status := "error"
	start := time.Now()
	defer func() {
		metrics.PlannerDuration.WithLabelValues(p.Name()).Observe(time.Since(start).Seconds())
		metrics.PlannerRequests.WithLabelValues(p.Name(), status).Inc()
	}()

	contents := []*genai.Content{
		{Parts: []*genai.Part{{Text: string(req.IndexJSON)}}, Role: "user"},
	}
	genCfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(float32(p.temperature)),
		ResponseMIMEType: "application/json",
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: p.prompts.Load(req.Language)}},
		},
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, genCfg)
	if err != nil {
		return nil, &types.PlannerError{Backend: p.Name(), Err: err}
	}

	plan, err := parsePlan(resp.Text())
	if err != nil {
		return nil, &types.PlannerError{Backend: p.Name(), Err: err}
	}

	status = "success"
	slog.Debug("planner responded",
		"backend", p.Name(), "units", req.Units, "decisions", len(plan.Plan))
	return plan, nil
}
