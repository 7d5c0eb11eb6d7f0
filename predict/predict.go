// Package predict runs the full classification pipeline for a batch of
// text blocks: embedding, inductive graph inference against the labeled
// reference set, top-3 decoding, and category/law resolution.
package predict

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/brunobiangulo/darkscan/block"
	"github.com/brunobiangulo/darkscan/embed"
	"github.com/brunobiangulo/darkscan/gcn"
	"github.com/brunobiangulo/darkscan/lawtable"
)

// Result is the classification outcome for one block. Predicate,
// Category, and Probability are nil when the block's classification
// failed; such blocks are never marked as dark patterns.
type Result struct {
	BlockIndex    int
	Text          string // model input (translated)
	Translated    string
	Original      string
	IsDarkPattern bool
	Predicate     *string
	Category      *string
	Probability   *int // 0-100
	TopPredicates []string
	Laws          []json.RawMessage
	Meta          block.Meta
	Err           error
}

// ProgressFunc is called before each block is classified with the
// zero-based block position and the total block count.
type ProgressFunc func(current, total int)

// Predictor classifies text blocks. It is safe for concurrent use: the
// model, law table, and reference set are read-only after construction.
type Predictor struct {
	model     *gcn.Model
	provider  embed.Provider
	laws      *lawtable.Table
	reference [][]float32
	opts      gcn.GraphOptions
}

// New builds a Predictor. The law table may be empty but not nil; the
// reference set may be empty, which degrades inference to graph-free
// classification.
func New(model *gcn.Model, provider embed.Provider, laws *lawtable.Table, reference [][]float32, opts gcn.GraphOptions) (*Predictor, error) {
	if model == nil {
		return nil, fmt.Errorf("predict: model is required")
	}
	if provider == nil {
		return nil, fmt.Errorf("predict: embedding provider is required")
	}
	if laws == nil {
		laws = lawtable.Empty()
	}
	for i, v := range reference {
		if len(v) != model.InputDim() {
			return nil, fmt.Errorf("predict: reference vector %d has dim %d, model expects %d",
				i, len(v), model.InputDim())
		}
	}
	return &Predictor{
		model:     model,
		provider:  provider,
		laws:      laws,
		reference: reference,
		opts:      opts,
	}, nil
}

// ReferenceSize returns the number of reference vectors in the graph context.
func (p *Predictor) ReferenceSize() int { return len(p.reference) }

// Predict classifies a batch of blocks. One inference pass covers every
// block whose embedding succeeded; blocks that could not be embedded get
// a degraded result with the failure recorded in Err. The returned error
// is non-nil only when no block could be classified at all.
func (p *Predictor) Predict(ctx context.Context, blocks []block.Block, onProgress ProgressFunc) ([]Result, error) {
	if len(blocks) == 0 {
		return nil, nil
	}

	results := make([]Result, len(blocks))
	texts := make([]string, len(blocks))
	for i, b := range blocks {
		texts[i] = b.TranslatedPlain
		results[i] = Result{
			BlockIndex: i,
			Text:       b.TranslatedPlain,
			Translated: b.TranslatedPlain,
			Original:   b.OriginalPlain,
			Meta:       b.Meta,
		}
		if containsHangul(b.TranslatedPlain) {
			// The model expects English input; warn but classify anyway.
			slog.Warn("predict: hangul text reached the model, check upstream translation",
				"index", i, "text", truncate(b.TranslatedPlain, 100))
		}
	}

	if onProgress != nil {
		onProgress(0, len(blocks))
	}

	vecs, errs := embed.EmbedEach(ctx, p.provider, texts)

	// Collect successfully embedded blocks for one inductive pass.
	var query [][]float32
	var queryIdx []int
	for i, v := range vecs {
		if v == nil {
			results[i].Err = fmt.Errorf("embedding block %d: %w", i, errs[i])
			continue
		}
		if len(v) != p.model.InputDim() {
			results[i].Err = fmt.Errorf("embedding block %d: dim %d, model expects %d",
				i, len(v), p.model.InputDim())
			continue
		}
		query = append(query, v)
		queryIdx = append(queryIdx, i)
	}
	if len(query) == 0 {
		return results, fmt.Errorf("embedding failed for all %d blocks", len(blocks))
	}

	probs, err := gcn.InferInductive(p.model, p.reference, query, p.opts)
	if err != nil {
		for _, i := range queryIdx {
			results[i].Err = err
		}
		return results, fmt.Errorf("inference: %w", err)
	}

	classes := p.model.Classes()
	for qi, i := range queryIdx {
		if onProgress != nil {
			onProgress(qi, len(blocks))
		}
		p.decode(&results[i], probs[qi], classes)
	}
	if onProgress != nil {
		onProgress(len(blocks), len(blocks))
	}
	return results, nil
}

// decode turns one probability row into a populated result.
func (p *Predictor) decode(r *Result, probs []float64, classes []string) {
	top := topIndices(probs, 3)
	if len(top) == 0 {
		r.Err = fmt.Errorf("empty probability row")
		return
	}

	predicate := classes[top[0]]
	probability := int(math.Round(probs[top[0]] * 100))

	r.Predicate = &predicate
	r.Probability = &probability
	r.IsDarkPattern = IsDarkPredicate(predicate)
	for _, idx := range top {
		r.TopPredicates = append(r.TopPredicates,
			fmt.Sprintf("%s (%.4f)", classes[idx], probs[idx]))
	}

	// Category comes from the fixed predicate map first, then the law
	// table; a predicate unknown to both stays uncategorized.
	category := PredicateCategory(predicate)
	if category == "" {
		category = p.laws.Category(predicate)
	}
	if category != "" {
		r.Category = &category
		r.Laws = p.laws.Laws(category)
	} else {
		r.Laws = []json.RawMessage{}
	}
}

// topIndices returns the indices of the n largest values, descending.
// Equal values order by lower index.
func topIndices(probs []float64, n int) []int {
	idx := make([]int, len(probs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		if probs[idx[a]] != probs[idx[b]] {
			return probs[idx[a]] > probs[idx[b]]
		}
		return idx[a] < idx[b]
	})
	if n > len(idx) {
		n = len(idx)
	}
	return idx[:n]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
