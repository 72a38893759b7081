package marker

import (
	"math"

	appErr "emc/pkg/errors"
)

const weightEpsilon = 1e-9

// OverallScore reduces task results to the final integer percentage.
// When the weights sum to one they are used as given; when they sum to
// zero every task weighs equally; anything else is a rubric defect.
func OverallScore(results []TaskResult) (int, error) {
	if len(results) == 0 {
		return 0, nil
	}
	var weightSum float64
	for i := range results {
		weightSum += results[i].Weight
	}

	var score float64
	switch {
	case math.Abs(weightSum-1.0) <= weightEpsilon:
		for i := range results {
			score += results[i].Percentage() * results[i].Weight
		}
	case math.Abs(weightSum) <= weightEpsilon:
		equal := 1.0 / float64(len(results))
		for i := range results {
			score += results[i].Percentage() * equal
		}
	default:
		return 0, appErr.Newf(appErr.ScorerWeightMismatch,
			"task weights sum to %g, want 1 or 0", weightSum)
	}
	return int(math.Round(score * 100)), nil
}
