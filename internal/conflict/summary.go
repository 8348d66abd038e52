package conflict

import "time"

// DefaultTrendWindowDays is the trailing window for trend analysis.
const DefaultTrendWindowDays = 7

// maxSummaryNotes bounds how many leading rule notes each conflict
// contributes to the note breakdown.
const maxSummaryNotes = 2

// Summary is the aggregate view of a set of conflict records.
type Summary struct {
	Total      int            `json:"total"`
	ByType     map[string]int `json:"by_type"`
	ByLanguage map[string]int `json:"by_language"`
	ByRuleNote map[string]int `json:"by_rule_note"`
}

// Summarize counts records by conflict type, language and the first two rule
// notes of each record.
func Summarize(records []Record) Summary {
	s := Summary{
		Total:      len(records),
		ByType:     make(map[string]int),
		ByLanguage: make(map[string]int),
		ByRuleNote: make(map[string]int),
	}

	for _, rec := range records {
		s.ByType[rec.ConflictType]++
		s.ByLanguage[rec.Language]++

		notes := rec.Rule.Notes
		if len(notes) > maxSummaryNotes {
			notes = notes[:maxSummaryNotes]
		}
		for _, note := range notes {
			s.ByRuleNote[note]++
		}
	}
	return s
}

// Trend is daily conflict volume over a trailing window.
type Trend struct {
	WindowDays      int            `json:"window_days"`
	Total           int            `json:"total"`
	Daily           map[string]int `json:"daily"`
	AverageDaily    float64        `json:"average_daily"`
	LatestChangePct float64        `json:"latest_change_pct"`
	ModalType       string         `json:"modal_type"`
	ModalLanguage   string         `json:"modal_language"`
}

// AnalyzeTrend buckets records by day over the trailing window ending today.
// windowDays <= 0 uses the default.
func AnalyzeTrend(records []Record, windowDays int) Trend {
	return trendAt(records, windowDays, time.Now().UTC())
}

func trendAt(records []Record, windowDays int, now time.Time) Trend {
	if windowDays <= 0 {
		windowDays = DefaultTrendWindowDays
	}

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	windowStart := dayStart.AddDate(0, 0, -(windowDays - 1))

	trend := Trend{
		WindowDays: windowDays,
		Daily:      make(map[string]int),
	}

	typeCounts := make(map[string]int)
	langCounts := make(map[string]int)

	for _, rec := range records {
		ts := rec.Timestamp.UTC()
		if ts.Before(windowStart) || ts.After(now) {
			continue
		}
		trend.Total++
		trend.Daily[ts.Format("2006-01-02")]++
		typeCounts[rec.ConflictType]++
		langCounts[rec.Language]++
	}

	trend.AverageDaily = float64(trend.Total) / float64(windowDays)

	latest := float64(trend.Daily[dayStart.Format("2006-01-02")])
	if trend.AverageDaily > 0 {
		trend.LatestChangePct = (latest - trend.AverageDaily) / trend.AverageDaily * 100
	}

	trend.ModalType = modalKey(typeCounts)
	trend.ModalLanguage = modalKey(langCounts)
	return trend
}

// modalKey returns the most frequent key; ties break toward the
// lexicographically smaller key so the result is deterministic.
func modalKey(counts map[string]int) string {
	best := ""
	bestCount := 0
	for key, n := range counts {
		if n > bestCount || (n == bestCount && (best == "" || key < best)) {
			best = key
			bestCount = n
		}
	}
	return best
}
