// Package verdict aggregates appeal decisions into outcome statistics and a
// predicted decision for similar future appeals.
package verdict

import (
	"fmt"
	"math"

	"github.com/acessolabs/lai-engine/engine/domain"
)

// Aggregate computes per-decision counts and percentages over a sample of
// appeals and picks the most frequent decision as the prediction. Ties break
// in favor of the decision earlier in domain.PredictionPriority. An empty
// sample is not a prediction basis and returns ErrInsufficientEvidence.
func Aggregate(appeals []domain.Appeal) (domain.DecisionStats, error) {
	if len(appeals) == 0 {
		return domain.DecisionStats{}, fmt.Errorf("verdict: empty sample: %w", domain.ErrInsufficientEvidence)
	}

	counts := make(map[domain.Decision]int)
	for _, a := range appeals {
		d := a.Decision
		if !domain.ValidDecisions[d] {
			d = domain.DecisionNotKnown
		}
		counts[d]++
	}

	total := len(appeals)
	by := make(map[domain.Decision]domain.DecisionCount, len(counts))
	for d, n := range counts {
		by[d] = domain.DecisionCount{
			Count:      n,
			Percentage: round2(100 * float64(n) / float64(total)),
		}
	}

	return domain.DecisionStats{
		ByDecision: by,
		Predicted:  predict(counts),
		Sample:     total,
	}, nil
}

func predict(counts map[domain.Decision]int) domain.Decision {
	best := domain.DecisionNotKnown
	bestCount := -1
	for _, d := range domain.PredictionPriority {
		if n := counts[d]; n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
