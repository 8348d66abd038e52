package planner

import (
	"errors"
	"strings"

	"review-triage/internal/domain"
	"review-triage/internal/types"

	"github.com/tidwall/gjson"
)

// parsePlan extracts planner decisions from raw model output. Markdown fences
// are stripped and the plan array probed leniently: entries without a unit_id
// or that are not objects are dropped rather than failing the whole response.
func parsePlan(raw string) (*domain.PlannerResponse, error) {
	text := types.CleanJSONFromMarkdown(raw)
	if text == "" {
		return nil, errors.New("empty response")
	}

	plan := gjson.Get(text, "plan")
	if !plan.Exists() {
		// Some models wrap the document in prose. Retry on the outermost
		// object before giving up.
		start, end := strings.Index(text, "{"), strings.LastIndex(text, "}")
		if start >= 0 && end > start {
			plan = gjson.Get(text[start:end+1], "plan")
		}
	}
	if !plan.Exists() || !plan.IsArray() {
		return nil, errors.New("no plan array in response")
	}

	resp := &domain.PlannerResponse{Plan: []domain.PlannerDecision{}}
	plan.ForEach(func(_, entry gjson.Result) bool {
		if !entry.IsObject() {
			return true
		}
		unitID := entry.Get("unit_id").String()
		if unitID == "" {
			return true
		}

		d := domain.PlannerDecision{
			UnitID:          unitID,
			LLMContextLevel: domain.ContextLevel(entry.Get("llm_context_level").String()),
			SkipReview:      entry.Get("skip_review").Bool(),
			Reason:          entry.Get("reason").String(),
		}
		entry.Get("extra_requests").ForEach(func(_, er gjson.Result) bool {
			reqType := er.Get("type").String()
			if reqType == "" {
				return true
			}
			d.ExtraRequests = append(d.ExtraRequests, domain.ExtraRequest{
				Type:    reqType,
				Details: er.Get("details").String(),
			})
			return true
		})

		resp.Plan = append(resp.Plan, d)
		return true
	})

	return resp, nil
}
