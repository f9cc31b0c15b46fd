package weights

import "sort"

// Tier budgets of the weight vector
const (
	TopBudget    = 0.7
	MiddleBudget = 0.2
	BottomBudget = 0.1

	topShare    = 0.1
	middleShare = 0.4
)

type ranked struct {
	minerID string
	score   float64
}

// Allocate turns miner scores into a weight vector that sums to 1. Miners
// are ranked by score and split into a top 10%, a next 40% and the rest.
// Within a tier weights are proportional to the squared score; a tier whose
// scores are all zero is shared evenly.
func Allocate(scores map[string]float64) map[string]float64 {
	weights := make(map[string]float64, len(scores))
	if len(scores) == 0 {
		return weights
	}

	miners := make([]ranked, 0, len(scores))
	for id, score := range scores {
		miners = append(miners, ranked{minerID: id, score: score})
	}
	sort.Slice(miners, func(i, j int) bool {
		if miners[i].score != miners[j].score {
			return miners[i].score > miners[j].score
		}
		return miners[i].minerID < miners[j].minerID
	})

	n := len(miners)
	top := clamp(int(float64(n)*topShare), 1, n)
	middle := clamp(int(float64(n)*middleShare), 1, n-top)

	tiers := []struct {
		miners []ranked
		budget float64
	}{
		{miners[:top], TopBudget},
		{miners[top : top+middle], MiddleBudget},
		{miners[top+middle:], BottomBudget},
	}

	total := 0.0
	for _, tier := range tiers {
		for id, w := range allocateTier(tier.miners, tier.budget) {
			weights[id] = w
			total += w
		}
	}

	if total > 0 {
		for id := range weights {
			weights[id] /= total
		}
	}
	return weights
}

func allocateTier(miners []ranked, budget float64) map[string]float64 {
	out := make(map[string]float64, len(miners))
	if len(miners) == 0 {
		return out
	}

	sum := 0.0
	for _, m := range miners {
		sum += m.score * m.score
	}
	for _, m := range miners {
		if sum > 0 {
			out[m.minerID] = m.score * m.score / sum * budget
		} else {
			out[m.minerID] = budget / float64(len(miners))
		}
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		v = lo
	}
	if v > hi {
		v = hi
	}
	return v
}
