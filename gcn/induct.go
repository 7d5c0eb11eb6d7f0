package gcn

import (
	"fmt"
	"log/slog"
)

// GraphOptions controls kNN graph construction for inductive inference.
type GraphOptions struct {
	K      int
	Metric string
	Mutual bool
}

// InferInductive classifies query embeddings by attaching them to the
// labeled reference set: the two matrices are concatenated, a kNN graph is
// built over the combined set, the model runs one forward pass, and only
// the probability rows for the query nodes are returned.
//
// With an empty reference set the queries are classified in degraded mode
// over an edgeless graph, which reduces each convolution to a linear
// transform. That keeps the pipeline alive but loses the neighborhood
// signal, so it is logged as a warning.
func InferInductive(m *Model, reference, query [][]float32, opts GraphOptions) ([][]float64, error) {
	if len(query) == 0 {
		return nil, nil
	}
	if opts.K <= 0 {
		opts.K = 10
	}

	combined := make([][]float32, 0, len(reference)+len(query))
	combined = append(combined, reference...)
	combined = append(combined, query...)

	var edges [][2]int
	if len(reference) == 0 {
		slog.Warn("gcn: empty reference set, classifying without graph context",
			"queries", len(query))
	} else {
		neighbors, err := NearestNeighbors(combined, opts.K, opts.Metric)
		if err != nil {
			return nil, fmt.Errorf("building knn graph: %w", err)
		}
		edges = BuildEdges(neighbors, opts.Mutual)
	}

	logits, err := m.Forward(combined, edges)
	if err != nil {
		return nil, fmt.Errorf("forward pass: %w", err)
	}

	probs := make([][]float64, len(query))
	for i := range query {
		probs[i] = Softmax(logits[len(reference)+i])
	}
	return probs, nil
}
