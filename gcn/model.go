package gcn

import (
	"fmt"
	"math"
)

// Model is an inference-only residual GCN. It is safe for concurrent use
// once constructed; Forward does not mutate model state.
type Model struct {
	blocks  []ConvBlock
	head    Linear
	classes []string
	inDim   int
}

// Classes returns the label list in logit order.
func (m *Model) Classes() []string {
	out := make([]string, len(m.classes))
	copy(out, m.classes)
	return out
}

// InputDim returns the expected embedding dimension.
func (m *Model) InputDim() int { return m.inDim }

// Forward runs the network over a node feature matrix and a symmetric edge
// list, returning one logit row per node. Edges are directed (src, dst)
// pairs; callers pass both directions. An empty edge list degenerates each
// convolution to a per-node linear transform through the self loop.
func (m *Model) Forward(x [][]float32, edges [][2]int) ([][]float64, error) {
	n := len(x)
	if n == 0 {
		return nil, nil
	}
	for i, row := range x {
		if len(row) != m.inDim {
			return nil, fmt.Errorf("node %d: feature dim %d, model expects %d", i, len(row), m.inDim)
		}
	}
	for _, e := range edges {
		if e[0] < 0 || e[0] >= n || e[1] < 0 || e[1] >= n {
			return nil, fmt.Errorf("edge (%d,%d) out of range for %d nodes", e[0], e[1], n)
		}
	}

	h := toFloat64(x)
	for i := range m.blocks {
		b := &m.blocks[i]
		out := convolve(h, edges, &b.Conv)
		batchNorm(out, &b.Norm)
		relu(out)

		// Residual connection, projected when the block changes width.
		res := h
		if b.ResProj != nil {
			res = matmul(h, b.ResProj)
		}
		for r := range out {
			for c := range out[r] {
				out[r][c] += res[r][c]
			}
		}
		h = out
	}

	return matmul(h, &m.head), nil
}

// convolve applies one graph convolution with doubled self loops: every
// node contributes to itself with weight 2 before symmetric normalization,
// so deg(i) = 2 + |neighbors(i)| and
//
//	out_i = (2/deg_i) * s_i + sum_j s_j / sqrt(deg_j * deg_i)
//
// where s = x * W^T and j ranges over in-neighbors of i. The bias is added
// after aggregation.
func convolve(x [][]float64, edges [][2]int, lin *Linear) [][]float64 {
	n := len(x)
	support := matmulNoBias(x, lin)

	deg := make([]float64, n)
	for i := range deg {
		deg[i] = 2
	}
	for _, e := range edges {
		deg[e[1]]++
	}

	outDim := len(lin.Weight)
	out := make([][]float64, n)
	for i := range out {
		row := make([]float64, outDim)
		w := 2 / deg[i]
		for c, v := range support[i] {
			row[c] = w * v
		}
		out[i] = row
	}
	for _, e := range edges {
		src, dst := e[0], e[1]
		w := 1 / math.Sqrt(deg[src]*deg[dst])
		for c, v := range support[src] {
			out[dst][c] += w * v
		}
	}

	if lin.Bias != nil {
		for i := range out {
			for c := range out[i] {
				out[i][c] += float64(lin.Bias[c])
			}
		}
	}
	return out
}

// batchNorm applies inference-mode normalization in place using the stored
// running statistics.
func batchNorm(x [][]float64, bn *BatchNorm) {
	eps := bn.Eps
	if eps == 0 {
		eps = 1e-5
	}
	dim := len(bn.Mean)
	scale := make([]float64, dim)
	shift := make([]float64, dim)
	for c := 0; c < dim; c++ {
		inv := 1 / math.Sqrt(float64(bn.Var[c])+eps)
		scale[c] = float64(bn.Gamma[c]) * inv
		shift[c] = float64(bn.Beta[c]) - float64(bn.Mean[c])*scale[c]
	}
	for i := range x {
		for c := range x[i] {
			x[i][c] = x[i][c]*scale[c] + shift[c]
		}
	}
}

func relu(x [][]float64) {
	for i := range x {
		for c := range x[i] {
			if x[i][c] < 0 {
				x[i][c] = 0
			}
		}
	}
}

// matmul computes x * W^T + b row by row.
func matmul(x [][]float64, lin *Linear) [][]float64 {
	out := matmulNoBias(x, lin)
	if lin.Bias != nil {
		for i := range out {
			for c := range out[i] {
				out[i][c] += float64(lin.Bias[c])
			}
		}
	}
	return out
}

func matmulNoBias(x [][]float64, lin *Linear) [][]float64 {
	outDim := len(lin.Weight)
	out := make([][]float64, len(x))
	for i, row := range x {
		dst := make([]float64, outDim)
		for o, wrow := range lin.Weight {
			var sum float64
			for c, v := range row {
				sum += v * float64(wrow[c])
			}
			dst[o] = sum
		}
		out[i] = dst
	}
	return out
}

func toFloat64(x [][]float32) [][]float64 {
	out := make([][]float64, len(x))
	for i, row := range x {
		dst := make([]float64, len(row))
		for c, v := range row {
			dst[c] = float64(v)
		}
		out[i] = dst
	}
	return out
}

// Softmax converts one logit row into a probability distribution, shifted
// by the row maximum for numerical stability.
func Softmax(logits []float64) []float64 {
	if len(logits) == 0 {
		return nil
	}
	max := logits[0]
	for _, v := range logits[1:] {
		if v > max {
			max = v
		}
	}
	out := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		e := math.Exp(v - max)
		out[i] = e
		sum += e
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
