package oneformer

import "math"

// hungarian solves the rectangular assignment problem for a rows x cols
// cost matrix and returns, for every column, the matched row index (-1
// when the column is unmatched because cols > rows).
//
// O(n^3) shortest augmenting path formulation with row/column
// potentials. The standard library has no assignment solver and the
// matrix sizes here (queries x targets, a few hundred at most) make a
// dense solver the right tool.
func hungarian(cost [][]float64, rows, cols int) []int {
	n := rows
	if cols > n {
		n = cols
	}

	// pad to square with zeros; padded cells never beat real ones
	// because potentials start from the real minima
	const inf = math.MaxFloat64 / 4
	a := make([][]float64, n+1)
	for i := 0; i <= n; i++ {
		a[i] = make([]float64, n+1)
		for j := 1; j <= n; j++ {
			if i >= 1 && i <= rows && j <= cols {
				a[i][j] = cost[i-1][j-1]
			}
		}
	}

	u := make([]float64, n+1)
	v := make([]float64, n+1)
	p := make([]int, n+1) // p[j] = row matched to column j
	way := make([]int, n+1)

	for i := 1; i <= n; i++ {
		p[0] = i
		j0 := 0
		minv := make([]float64, n+1)
		used := make([]bool, n+1)
		for j := 0; j <= n; j++ {
			minv[j] = inf
		}
		for {
			used[j0] = true
			i0 := p[j0]
			delta := inf
			j1 := 0
			for j := 1; j <= n; j++ {
				if used[j] {
					continue
				}
				cur := a[i0][j] - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}
			for j := 0; j <= n; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}
			j0 = j1
			if p[j0] == 0 {
				break
			}
		}
		for j0 != 0 {
			j1 := way[j0]
			p[j0] = p[j1]
			j0 = j1
		}
	}

	match := make([]int, cols)
	for j := range match {
		match[j] = -1
	}
	for j := 1; j <= cols; j++ {
		if p[j] >= 1 && p[j] <= rows {
			match[j-1] = p[j] - 1
		}
	}
	return match
}
