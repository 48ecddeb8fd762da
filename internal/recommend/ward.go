package recommend

import "math"

// Ward groups vectors by agglomerative clustering with Ward linkage and
// returns a topic index per vector. Merging stops once the cheapest merge
// would exceed threshold (in Euclidean units), which is the same as cutting
// the full dendrogram at that height because Ward merge heights never
// decrease. Topic indices are assigned in order of first appearance.
func Ward(vectors [][]float64, threshold float64) []int {
	n := len(vectors)
	if n == 0 {
		return nil
	}

	// d holds squared Ward distances between live clusters.
	d := make([][]float64, n)
	for i := range d {
		d[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			sq := squaredDistance(vectors[i], vectors[j])
			d[i][j] = sq
			d[j][i] = sq
		}
	}

	size := make([]int, n)
	parent := make([]int, n)
	alive := make([]bool, n)
	for i := range size {
		size[i] = 1
		parent[i] = i
		alive[i] = true
	}

	limit := threshold * threshold
	for {
		a, b := -1, -1
		best := math.Inf(1)
		for i := 0; i < n; i++ {
			if !alive[i] {
				continue
			}
			for j := i + 1; j < n; j++ {
				if alive[j] && d[i][j] < best {
					best, a, b = d[i][j], i, j
				}
			}
		}
		if a < 0 || best > limit {
			break
		}

		// Fold b into a, updating a's distances with Lance-Williams.
		na, nb := float64(size[a]), float64(size[b])
		for k := 0; k < n; k++ {
			if !alive[k] || k == a || k == b {
				continue
			}
			nk := float64(size[k])
			v := ((na+nk)*d[a][k] + (nb+nk)*d[b][k] - nk*best) / (na + nb + nk)
			d[a][k] = v
			d[k][a] = v
		}
		size[a] += size[b]
		alive[b] = false
		parent[b] = a
	}

	labels := make([]int, n)
	ids := make(map[int]int)
	for i := 0; i < n; i++ {
		root := i
		for parent[root] != root {
			root = parent[root]
		}
		id, ok := ids[root]
		if !ok {
			id = len(ids)
			ids[root] = id
		}
		labels[i] = id
	}
	return labels
}

func squaredDistance(a, b []float64) float64 {
	var sum float64
	for k := range a {
		var bk float64
		if k < len(b) {
			bk = b[k]
		}
		diff := a[k] - bk
		sum += diff * diff
	}
	for k := len(a); k < len(b); k++ {
		sum += b[k] * b[k]
	}
	return sum
}
