// Package progress aggregates a session's event log into per-type accuracy.
package progress

import (
	"slices"

	"github.com/ashureev/shsh-tutor/internal/domain"
)

// TypeStats is the tally for one normalized item type.
type TypeStats struct {
	Type     string  `json:"type"`
	Served   int     `json:"served"`
	Attempts int     `json:"attempts"`
	Correct  int     `json:"correct"`
	Accuracy float64 `json:"accuracy"`
}

// Report is the progress summary for one session.
type Report struct {
	SessionID string      `json:"session_id"`
	ByType    []TypeStats `json:"by_type"`
	Overall   TypeStats   `json:"overall"`
}

// Summarize tallies events. Only answered events count as attempts; an
// answer without a correctness flag counts as incorrect. Items without a
// type are grouped under "".
func Summarize(sessionID string, events []domain.AttemptEvent) Report {
	byType := make(map[string]*TypeStats)
	get := func(typ string) *TypeStats {
		s, ok := byType[typ]
		if !ok {
			s = &TypeStats{Type: typ}
			byType[typ] = s
		}
		return s
	}

	overall := TypeStats{Type: "all"}
	for _, ev := range events {
		s := get(domain.NormalizeType(ev.ItemType))
		switch ev.Action {
		case domain.ActionServed:
			s.Served++
			overall.Served++
		case domain.ActionAnswered:
			s.Attempts++
			overall.Attempts++
			if ev.Correct != nil && *ev.Correct {
				s.Correct++
				overall.Correct++
			}
		}
	}

	report := Report{
		SessionID: sessionID,
		ByType:    make([]TypeStats, 0, len(byType)),
	}
	for _, s := range byType {
		s.Accuracy = accuracy(s.Correct, s.Attempts)
		report.ByType = append(report.ByType, *s)
	}
	slices.SortFunc(report.ByType, func(a, b TypeStats) int {
		switch {
		case a.Type < b.Type:
			return -1
		case a.Type > b.Type:
			return 1
		}
		return 0
	})

	overall.Accuracy = accuracy(overall.Correct, overall.Attempts)
	report.Overall = overall
	return report
}

func accuracy(correct, attempts int) float64 {
	if attempts == 0 {
		return 0
	}
	return float64(correct) / float64(attempts)
}
