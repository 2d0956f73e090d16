package analysis

import (
	"sort"
	"strconv"
	"time"

	"optimus/pkg/domain"
)

// Inflation is the normative inflation payload. TemporalGap is rendered as
// "{hours} hours", or "N/A" in the fallback payload.
type Inflation struct {
	NormativeDensity float64 `json:"normative_density"`
	ProcessingRate   float64 `json:"processing_rate"`
	Backlog          float64 `json:"backlog"`
	TemporalGap      string  `json:"temporal_gap"`
}

// FallbackInflation is returned when the metric cannot be computed.
func FallbackInflation() Inflation {
	return Inflation{TemporalGap: "N/A"}
}

// NormativeInflation replays the full history day by day. Norms count on the
// UTC date they were created, solved cases on the UTC date they were resolved.
// Density and processing rate describe the latest observed day; the backlog
// accumulates max(0, backlog + density - processed) across every day.
func NormativeInflation(view domain.TransactionView) Inflation {
	created := make(map[string]int)
	processed := make(map[string]int)
	days := make(map[string]struct{})

	for _, n := range view.ListNorms() {
		day := dayKey(n.CreatedAt)
		created[day]++
		days[day] = struct{}{}
	}

	var gapHours float64
	var gapCount int
	for _, c := range view.ListCases() {
		if !c.Solved() || c.ResolvedAt == nil {
			continue
		}
		day := dayKey(*c.ResolvedAt)
		processed[day]++
		days[day] = struct{}{}
		if !c.CreatedAt.IsZero() {
			gapHours += c.ResolvedAt.Sub(c.CreatedAt).Hours()
			gapCount++
		}
	}

	ordered := make([]string, 0, len(days))
	for d := range days {
		ordered = append(ordered, d)
	}
	sort.Strings(ordered)

	var out Inflation
	backlog := 0
	for _, d := range ordered {
		backlog = max(0, backlog+created[d]-processed[d])
	}
	out.Backlog = float64(backlog)
	if len(ordered) > 0 {
		latest := ordered[len(ordered)-1]
		out.NormativeDensity = float64(created[latest])
		out.ProcessingRate = float64(processed[latest])
	}
	gap := 0.0
	if gapCount > 0 {
		gap = round(gapHours/float64(gapCount), 2)
	}
	out.TemporalGap = strconv.FormatFloat(gap, 'f', -1, 64) + " hours"
	return out
}

func dayKey(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}
