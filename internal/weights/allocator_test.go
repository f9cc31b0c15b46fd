package weights

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sum(weights map[string]float64) float64 {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	return total
}

func TestAllocate_Empty(t *testing.T) {
	assert.Empty(t, Allocate(nil))
}

func TestAllocate_SingleMiner(t *testing.T) {
	weights := Allocate(map[string]float64{"M1": 42})
	assert.InDelta(t, 1.0, weights["M1"], 1e-9)
}

func TestAllocate_TwoMiners(t *testing.T) {
	weights := Allocate(map[string]float64{"A": 90, "B": 45})
	assert.InDelta(t, 0.7/0.9, weights["A"], 1e-9)
	assert.InDelta(t, 0.2/0.9, weights["B"], 1e-9)
}

func TestAllocate_Tiers(t *testing.T) {
	scores := make(map[string]float64)
	for i := 0; i < 20; i++ {
		scores[fmt.Sprintf("M%02d", i)] = float64(100 - i)
	}

	weights := Allocate(scores)
	require.Len(t, weights, 20)
	assert.InDelta(t, 1.0, sum(weights), 1e-9)

	// 2 top miners, 8 middle, 10 bottom
	top := weights["M00"] + weights["M01"]
	assert.InDelta(t, 0.7, top, 1e-9)
	middle := 0.0
	for i := 2; i < 10; i++ {
		middle += weights[fmt.Sprintf("M%02d", i)]
	}
	assert.InDelta(t, 0.2, middle, 1e-9)

	assert.Greater(t, weights["M00"], weights["M01"])
	assert.InDelta(t, 0.7*100*100/(100*100+99*99), weights["M00"], 1e-9)
}

func TestAllocate_ZeroScoresShareEvenly(t *testing.T) {
	weights := Allocate(map[string]float64{"A": 0, "B": 0, "C": 0, "D": 0, "E": 0})
	assert.InDelta(t, 1.0, sum(weights), 1e-9)
	// Ties rank by id: A top, B C middle, D E bottom
	assert.InDelta(t, 0.7, weights["A"], 1e-9)
	assert.InDelta(t, 0.1, weights["B"], 1e-9)
	assert.InDelta(t, 0.1, weights["C"], 1e-9)
	assert.InDelta(t, 0.05, weights["E"], 1e-9)
}
