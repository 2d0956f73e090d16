// Package analysis derives read-side statistics from norms and cases.
package analysis

import (
	"math"

	"optimus/pkg/domain"
)

// Counter summarizes case and norm totals.
type Counter struct {
	TotalCases     int     `json:"total_cases"`
	SolvedCases    int     `json:"solved_cases"`
	PendingCases   int     `json:"pending_cases"`
	TotalNorms     int     `json:"total_norms"`
	ValidNorms     int     `json:"valid_norms"`
	InvalidNorms   int     `json:"invalid_norms"`
	ResolutionRate float64 `json:"resolution_rate"`
}

// Count recomputes the counter from a store view.
func Count(view domain.TransactionView) Counter {
	var c Counter
	for _, n := range view.ListNorms() {
		c.TotalNorms++
		if n.Valid {
			c.ValidNorms++
		} else {
			c.InvalidNorms++
		}
	}
	for _, cs := range view.ListCases() {
		c.TotalCases++
		switch cs.Status {
		case domain.CaseStatusSolved:
			c.SolvedCases++
		case domain.CaseStatusPending:
			c.PendingCases++
		}
	}
	if c.TotalCases > 0 {
		c.ResolutionRate = round(float64(c.SolvedCases)/float64(c.TotalCases)*100, 1)
	}
	return c
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
