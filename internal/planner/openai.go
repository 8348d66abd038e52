package planner

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"review-triage/internal/config"
	"review-triage/internal/domain"
	"review-triage/internal/llm"
	"review-triage/internal/metrics"
	"review-triage/internal/types"

	"github.com/cenkalti/backoff/v5"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"
)

const plannerMaxTries = 3

// openaiPlanner drives an OpenAI-compatible endpoint in JSON mode through the
// shared llm.Client. Transient failures (429/5xx) retry with exponential
// backoff; everything else fails immediately.
type openaiPlanner struct {
	client      llm.Client
	temperature float64
	prompts     *PromptLoader
	newBackOff  func() backoff.BackOff
}

func newOpenAIPlanner(cfg config.PlannerConfig, client llm.Client) *openaiPlanner {
	return &openaiPlanner{
		client:      client,
		temperature: cfg.Temperature,
		prompts:     NewPromptLoader(cfg.PromptDir),
		newBackOff:  newPlannerBackoff,
	}
}

func (p *openaiPlanner) Name() string { return config.BackendOpenAI }

func (p *openaiPlanner) Plan(ctx context.Context, req *Request) (*domain.PlannerResponse, error) {
	status := "error"
	start := time.Now()
	defer func() {
		metrics.PlannerDuration.WithLabelValues(p.Name()).Observe(time.Since(start).Seconds())
		metrics.PlannerRequests.WithLabelValues(p.Name(), status).Inc()
	}()

	jsonMode := shared.NewResponseFormatJSONObjectParam()
	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(p.prompts.Load(req.Language)),
			openai.UserMessage(string(req.IndexJSON)),
		},
		Temperature:    openai.Float(p.temperature),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{OfJSONObject: &jsonMode},
	}

	text, err := backoff.Retry(ctx, func() (string, error) {
		resp, err := p.client.Chat(ctx, params)
		if err != nil {
			var retryable *types.RetryableError
			if errors.As(err, &retryable) {
				slog.Warn("planner request failed, retrying", "backend", p.Name(), "error", err)
				return "", err
			}
			return "", backoff.Permanent(err)
		}
		if len(resp.Choices) == 0 {
			return "", backoff.Permanent(errors.New("empty completion"))
		}
		return resp.Choices[0].Message.Content, nil
	}, backoff.WithBackOff(p.newBackOff()), backoff.WithMaxTries(plannerMaxTries), backoff.WithMaxElapsedTime(0))
	if err != nil {
		return nil, &types.PlannerError{Backend: p.Name(), Err: err}
	}

	plan, err := parsePlan(text)
	if err != nil {
		return nil, &types.PlannerError{Backend: p.Name(), Err: err}
	}

	status = "success"
	slog.Debug("planner responded",
		"backend", p.Name(), "units", req.Units, "decisions", len(plan.Plan))
	return plan, nil
}

func newPlannerBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.MaxInterval = 10 * time.Second
	b.Multiplier = 2.0
	return b
}
