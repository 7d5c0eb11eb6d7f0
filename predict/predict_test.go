package predict

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/brunobiangulo/darkscan/block"
	"github.com/brunobiangulo/darkscan/gcn"
	"github.com/brunobiangulo/darkscan/lawtable"
)

// testClasses gives each class a dedicated embedding axis so that a
// one-hot vector deterministically classifies as that class through the
// identity model.
var testClasses = []string{
	"Countdown Timers",
	"Low-stock Messages",
	"Not Dark Pattern",
	"Confirmshaming",
}

func testModel(t *testing.T) *gcn.Model {
	t.Helper()
	dim := len(testClasses)
	eye := make([][]float32, dim)
	ones := make([]float32, dim)
	zeros := make([]float32, dim)
	for i := range eye {
		row := make([]float32, dim)
		row[i] = 1
		eye[i] = row
		ones[i] = 1
	}
	m, err := gcn.NewModel(gcn.Checkpoint{
		InDim: dim,
		Blocks: []gcn.ConvBlock{{
			Conv: gcn.Linear{Weight: eye},
			Norm: gcn.BatchNorm{Gamma: ones, Beta: zeros, Mean: zeros, Var: ones},
		}},
		Head:    gcn.Linear{Weight: eye},
		Classes: testClasses,
	})
	if err != nil {
		t.Fatalf("building model: %v", err)
	}
	return m
}

// keywordProvider embeds texts as one-hot vectors chosen by substring.
type keywordProvider struct {
	fail map[string]bool
}

func (p *keywordProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, txt := range texts {
		if p.fail[txt] {
			return nil, fmt.Errorf("no embedding for %q", txt)
		}
		vec := make([]float32, len(testClasses))
		lower := strings.ToLower(txt)
		switch {
		case strings.Contains(lower, "ends in"):
			vec[0] = 1 // Countdown Timers
		case strings.Contains(lower, "left in stock"):
			vec[1] = 1 // Low-stock Messages
		case strings.Contains(lower, "hate saving"):
			vec[3] = 1 // Confirmshaming
		default:
			vec[2] = 1 // Not Dark Pattern
		}
		out[i] = vec
	}
	return out, nil
}

func testLaws(t *testing.T) *lawtable.Table {
	t.Helper()
	csv := `predicate,type,laws
Countdown Timers,Urgency,"[{""name"":""E-Commerce Act""}]"
Low-stock Messages,Scarcity,"[{""name"":""Fair Labeling Act""},{""name"":""E-Commerce Act""}]"
`
	tbl, err := lawtable.LoadCSV(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("loading law table: %v", err)
	}
	return tbl
}

func newTestPredictor(t *testing.T, provider *keywordProvider) *Predictor {
	t.Helper()
	p, err := New(testModel(t), provider, testLaws(t), nil, gcn.GraphOptions{K: 10, Metric: "cosine", Mutual: true})
	if err != nil {
		t.Fatalf("building predictor: %v", err)
	}
	return p
}

func TestPredictEndToEnd(t *testing.T) {
	p := newTestPredictor(t, &keywordProvider{})

	blocks := block.Extract(block.Capture{
		FullText:     "Sale ends in 02:15:33#Only 2 left in stock#Contact us",
		OriginalText: "Sale ends in 02:15:33#Only 2 left in stock#Contact us",
	})
	results, err := p.Predict(context.Background(), blocks, nil)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}

	r := results[0]
	if r.Predicate == nil || *r.Predicate != "Countdown Timers" {
		t.Fatalf("result 0 predicate = %v", r.Predicate)
	}
	if !r.IsDarkPattern {
		t.Error("Countdown Timers should be a dark pattern")
	}
	if r.Category == nil || *r.Category != "Urgency" {
		t.Errorf("result 0 category = %v", r.Category)
	}
	if len(r.Laws) != 1 {
		t.Errorf("result 0 laws = %d entries, want 1", len(r.Laws))
	}
	if r.Probability == nil || *r.Probability < 0 || *r.Probability > 100 {
		t.Errorf("result 0 probability = %v", r.Probability)
	}
	if len(r.TopPredicates) != 3 || !strings.HasPrefix(r.TopPredicates[0], "Countdown Timers (") {
		t.Errorf("result 0 top predicates = %v", r.TopPredicates)
	}

	if results[1].Predicate == nil || *results[1].Predicate != "Low-stock Messages" {
		t.Errorf("result 1 predicate = %v", results[1].Predicate)
	}
	if results[1].Category == nil || *results[1].Category != "Scarcity" {
		t.Errorf("result 1 category = %v", results[1].Category)
	}
	if len(results[1].Laws) != 2 {
		t.Errorf("result 1 laws = %d entries, want 2", len(results[1].Laws))
	}
}

func TestPredictNotDark(t *testing.T) {
	p := newTestPredictor(t, &keywordProvider{})

	results, err := p.Predict(context.Background(), []block.Block{
		{TranslatedPlain: "Contact us", OriginalPlain: "Contact us"},
	}, nil)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	r := results[0]
	if r.Predicate == nil || *r.Predicate != "Not Dark Pattern" {
		t.Fatalf("predicate = %v", r.Predicate)
	}
	if r.IsDarkPattern {
		t.Error("Not Dark Pattern classified as dark")
	}
	if r.Category == nil || *r.Category != "Not Dark Pattern" {
		t.Errorf("category = %v", r.Category)
	}
}

func TestPredictDegradedUnit(t *testing.T) {
	provider := &keywordProvider{fail: map[string]bool{"broken text": true}}
	p := newTestPredictor(t, provider)

	results, err := p.Predict(context.Background(), []block.Block{
		{TranslatedPlain: "Only 2 left in stock", OriginalPlain: "Only 2 left in stock"},
		{TranslatedPlain: "broken text", OriginalPlain: "broken text"},
	}, nil)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}

	if results[0].Predicate == nil || *results[0].Predicate != "Low-stock Messages" {
		t.Errorf("healthy block predicate = %v", results[0].Predicate)
	}

	r := results[1]
	if r.Err == nil {
		t.Fatal("degraded block carries no error")
	}
	if r.Predicate != nil || r.Category != nil || r.Probability != nil {
		t.Errorf("degraded block got classification fields: %+v", r)
	}
	if r.IsDarkPattern {
		t.Error("degraded block marked as dark pattern")
	}
}

func TestPredictAllEmbeddingsFail(t *testing.T) {
	provider := &keywordProvider{fail: map[string]bool{"a": true, "b": true}}
	p := newTestPredictor(t, provider)

	results, err := p.Predict(context.Background(), []block.Block{
		{TranslatedPlain: "a", OriginalPlain: "a"},
		{TranslatedPlain: "b", OriginalPlain: "b"},
	}, nil)
	if err == nil {
		t.Fatal("expected error when every embedding fails")
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2 degraded results", len(results))
	}
	for i, r := range results {
		if r.Err == nil {
			t.Errorf("result %d carries no error", i)
		}
	}
}

func TestPredictWithReferenceSet(t *testing.T) {
	reference := [][]float32{
		{1, 0, 0, 0},
		{0.9, 0.1, 0, 0},
		{0, 1, 0, 0},
		{0, 0.9, 0.1, 0},
	}
	p, err := New(testModel(t), &keywordProvider{}, testLaws(t), reference,
		gcn.GraphOptions{K: 2, Metric: "cosine", Mutual: true})
	if err != nil {
		t.Fatalf("building predictor: %v", err)
	}
	if p.ReferenceSize() != 4 {
		t.Fatalf("ReferenceSize = %d", p.ReferenceSize())
	}

	results, err := p.Predict(context.Background(), []block.Block{
		{TranslatedPlain: "Only 2 left in stock", OriginalPlain: "Only 2 left in stock"},
	}, nil)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if results[0].Predicate == nil || *results[0].Predicate != "Low-stock Messages" {
		t.Errorf("predicate = %v", results[0].Predicate)
	}
}

func TestPredictProgressCallback(t *testing.T) {
	p := newTestPredictor(t, &keywordProvider{})

	var calls [][2]int
	_, err := p.Predict(context.Background(), []block.Block{
		{TranslatedPlain: "Only 2 left in stock"},
		{TranslatedPlain: "Contact us"},
	}, func(current, total int) {
		calls = append(calls, [2]int{current, total})
	})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if len(calls) == 0 {
		t.Fatal("progress callback never called")
	}
	last := calls[len(calls)-1]
	if last != [2]int{2, 2} {
		t.Errorf("final progress = %v, want [2 2]", last)
	}
}

func TestPredictEmpty(t *testing.T) {
	p := newTestPredictor(t, &keywordProvider{})
	results, err := p.Predict(context.Background(), nil, nil)
	if err != nil || results != nil {
		t.Errorf("Predict(empty) = %v, %v", results, err)
	}
}

func TestNewRejectsBadReference(t *testing.T) {
	_, err := New(testModel(t), &keywordProvider{}, nil,
		[][]float32{{1, 2}}, gcn.GraphOptions{})
	if err == nil {
		t.Fatal("expected error for wrong-dimension reference vector")
	}
}

func TestTopIndicesTieBreak(t *testing.T) {
	tests := []struct {
		name  string
		probs []float64
		want  []int
	}{
		{"distinct", []float64{0.1, 0.6, 0.3}, []int{1, 2, 0}},
		{"tie prefers lower index", []float64{0.2, 0.4, 0.4}, []int{1, 2, 0}},
		{"all equal", []float64{0.25, 0.25, 0.25, 0.25}, []int{0, 1, 2}},
		{"fewer than three", []float64{0.7, 0.3}, []int{0, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := topIndices(tt.probs, 3); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("topIndices(%v) = %v, want %v", tt.probs, got, tt.want)
			}
		})
	}
}

func TestIsDarkPredicate(t *testing.T) {
	tests := []struct {
		predicate string
		want      bool
	}{
		{"Countdown Timers", true},
		{"Not Dark Pattern", false},
		{"not_dark_pattern", false},
		{"Normal", false},
		{"None", false},
		{"", false},
		{"Confirmshaming", true},
	}
	for _, tt := range tests {
		if got := IsDarkPredicate(tt.predicate); got != tt.want {
			t.Errorf("IsDarkPredicate(%q) = %v, want %v", tt.predicate, got, tt.want)
		}
	}
}

func TestPredicateCategory(t *testing.T) {
	tests := []struct {
		predicate string
		want      string
	}{
		{"Countdown Timers", "Urgency"},
		{"countdown timers", "Urgency"},
		{"Low-stock Messages", "Scarcity"},
		{"Confirmshaming", "Misdirection"},
		{"Activity Notifications", "Social Proof"},
		{"Not Dark Pattern", "Not Dark Pattern"},
		{"Nagging", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := PredicateCategory(tt.predicate); got != tt.want {
			t.Errorf("PredicateCategory(%q) = %q, want %q", tt.predicate, got, tt.want)
		}
	}
}

func TestContainsHangul(t *testing.T) {
	if !containsHangul("재고 2개 남음") {
		t.Error("hangul not detected")
	}
	if containsHangul("Only 2 left in stock") {
		t.Error("false positive on english text")
	}
}
