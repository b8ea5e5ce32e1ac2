package oneformer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHungarianSquare(t *testing.T) {
	// optimal: row0->col1, row1->col0 (cost 1+2=3 beats 4+3=7)
	cost := [][]float64{
		{4, 1},
		{2, 3},
	}
	match := hungarian(cost, 2, 2)
	assert.Equal(t, []int{1, 0}, match)
}

func TestHungarianIdentity(t *testing.T) {
	cost := [][]float64{
		{0, 9, 9},
		{9, 0, 9},
		{9, 9, 0},
	}
	assert.Equal(t, []int{0, 1, 2}, hungarian(cost, 3, 3))
}

func TestHungarianMoreColumnsThanRows(t *testing.T) {
	// two rows, three columns: one column stays unmatched
	cost := [][]float64{
		{1, 10, 10},
		{10, 10, 1},
	}
	match := hungarian(cost, 2, 3)
	assert.Equal(t, []int{0, -1, 1}, match)
}

func TestHungarianMoreRowsThanColumns(t *testing.T) {
	// three rows, two columns: every column gets its cheapest row
	cost := [][]float64{
		{10, 10},
		{1, 10},
		{10, 1},
	}
	match := hungarian(cost, 3, 2)
	assert.Equal(t, []int{1, 2}, match)
}

func TestHungarianMinimizesTotalCost(t *testing.T) {
	// greedy picks row0->col0 (1) then forces row1->col1 (8), total 9;
	// the optimum is row0->col1, row1->col0, total 2+2=4
	cost := [][]float64{
		{1, 2},
		{2, 8},
	}
	match := hungarian(cost, 2, 2)
	assert.Equal(t, []int{1, 0}, match)
}
