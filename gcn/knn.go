package gcn

import (
	"fmt"
	"math"
	"sort"
)

// NearestNeighbors computes, for each vector, the indices of its k nearest
// other vectors under the given metric ("cosine" or "euclidean"). A vector
// is never its own neighbor. When fewer than k other vectors exist, the
// neighbor list is shorter. Ties break toward the lower index, which keeps
// the result deterministic.
func NearestNeighbors(x [][]float32, k int, metric string) ([][]int, error) {
	n := len(x)
	if k <= 0 {
		return nil, fmt.Errorf("knn: k must be positive, got %d", k)
	}
	var dist func(a, b []float32) float64
	switch metric {
	case "", "cosine":
		dist = cosineDistance
	case "euclidean", "l2":
		dist = euclideanDistance
	default:
		return nil, fmt.Errorf("knn: unknown metric %q", metric)
	}
	if k > n-1 {
		k = n - 1
	}

	type cand struct {
		idx int
		d   float64
	}
	out := make([][]int, n)
	cands := make([]cand, 0, n)
	for i := 0; i < n; i++ {
		cands = cands[:0]
		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			cands = append(cands, cand{idx: j, d: dist(x[i], x[j])})
		}
		sort.Slice(cands, func(a, b int) bool {
			if cands[a].d != cands[b].d {
				return cands[a].d < cands[b].d
			}
			return cands[a].idx < cands[b].idx
		})
		nn := make([]int, 0, k)
		for _, c := range cands[:k] {
			nn = append(nn, c.idx)
		}
		out[i] = nn
	}
	return out, nil
}

// BuildEdges turns per-node neighbor lists into a symmetric, deduplicated
// edge list in deterministic order. With mutual set, only pairs where each
// node names the other survive; if no mutual pair exists the full
// symmetric-union graph is used instead, so connected inputs never produce
// an edgeless graph.
func BuildEdges(neighbors [][]int, mutual bool) [][2]int {
	directed := make(map[[2]int]bool)
	for i, nn := range neighbors {
		for _, j := range nn {
			if i != j {
				directed[[2]int{i, j}] = true
			}
		}
	}

	edgeSet := make(map[[2]int]bool)
	if mutual {
		for e := range directed {
			if directed[[2]int{e[1], e[0]}] {
				edgeSet[e] = true
			}
		}
	}
	if len(edgeSet) == 0 {
		// Non-mutual union: every directed pick plus its reverse.
		for e := range directed {
			edgeSet[e] = true
			edgeSet[[2]int{e[1], e[0]}] = true
		}
	}

	out := make([][2]int, 0, len(edgeSet))
	for e := range edgeSet {
		out = append(out, e)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a][0] != out[b][0] {
			return out[a][0] < out[b][0]
		}
		return out[a][1] < out[b][1]
	})
	return out
}

func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		av, bv := float64(a[i]), float64(b[i])
		dot += av * bv
		na += av * av
		nb += bv * bv
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

func euclideanDistance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
