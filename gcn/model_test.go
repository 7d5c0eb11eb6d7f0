package gcn

import (
	"math"
	"testing"
)

// identityModel builds a model whose single block and head are identity
// transforms with neutral batch-norm statistics, so the numeric path can
// be checked by hand.
func identityModel(t *testing.T, dim int) *Model {
	t.Helper()
	eye := make([][]float32, dim)
	gamma := make([]float32, dim)
	beta := make([]float32, dim)
	mean := make([]float32, dim)
	vars := make([]float32, dim)
	for i := range eye {
		row := make([]float32, dim)
		row[i] = 1
		eye[i] = row
		gamma[i] = 1
		vars[i] = 1
	}
	m, err := NewModel(Checkpoint{
		InDim: dim,
		Blocks: []ConvBlock{{
			Conv: Linear{Weight: eye},
			Norm: BatchNorm{Gamma: gamma, Beta: beta, Mean: mean, Var: vars},
		}},
		Head:    Linear{Weight: eye},
		Classes: make([]string, dim),
	})
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	return m
}

func TestForwardNoEdgesIsLinear(t *testing.T) {
	// Without edges each node only sees its doubled self loop, which
	// normalizes to weight 1, so the block reduces to conv + residual.
	m := identityModel(t, 2)
	out, err := m.Forward([][]float32{{1, 2}, {-3, 4}}, nil)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}

	// Identity conv, near-identity norm, ReLU, plus the residual input:
	// positive values double, negative values pass through the residual only.
	want := [][]float64{{2, 4}, {-3, 8}}
	for i := range want {
		for c := range want[i] {
			if math.Abs(out[i][c]-want[i][c]) > 1e-4 {
				t.Errorf("out[%d][%d] = %g, want %g", i, c, out[i][c], want[i][c])
			}
		}
	}
}

func TestForwardNeighborAggregation(t *testing.T) {
	m := identityModel(t, 2)
	x := [][]float32{{4, 0}, {0, 4}}
	edges := [][2]int{{0, 1}, {1, 0}}
	out, err := m.Forward(x, edges)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}

	// deg = 3 for both nodes: self weight 2/3, cross weight 1/3. Node 0
	// aggregates to (8/3, 4/3); norm shrinks negligibly, ReLU passes, and
	// the residual adds the raw input.
	want := [][]float64{{4 + 8.0/3, 4.0 / 3}, {4.0 / 3, 4 + 8.0/3}}
	for i := range want {
		for c := range want[i] {
			if math.Abs(out[i][c]-want[i][c]) > 1e-3 {
				t.Errorf("out[%d][%d] = %g, want %g", i, c, out[i][c], want[i][c])
			}
		}
	}
}

func TestForwardRejectsBadInput(t *testing.T) {
	m := identityModel(t, 2)
	if _, err := m.Forward([][]float32{{1, 2, 3}}, nil); err == nil {
		t.Error("expected error for wrong feature dim")
	}
	if _, err := m.Forward([][]float32{{1, 2}}, [][2]int{{0, 5}}); err == nil {
		t.Error("expected error for out-of-range edge")
	}
}

func TestSoftmax(t *testing.T) {
	probs := Softmax([]float64{1, 2, 3})
	var sum float64
	for _, p := range probs {
		sum += p
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("probabilities sum to %g, want 1", sum)
	}
	if !(probs[2] > probs[1] && probs[1] > probs[0]) {
		t.Errorf("softmax not monotone: %v", probs)
	}

	// Large logits must not overflow.
	probs = Softmax([]float64{1000, 1001})
	if math.IsNaN(probs[0]) || math.IsInf(probs[1], 0) {
		t.Errorf("softmax unstable for large logits: %v", probs)
	}
}

func TestNewModelValidation(t *testing.T) {
	dim := 2
	eye := [][]float32{{1, 0}, {0, 1}}
	norm := BatchNorm{
		Gamma: []float32{1, 1}, Beta: []float32{0, 0},
		Mean: []float32{0, 0}, Var: []float32{1, 1},
	}

	tests := []struct {
		name    string
		ckpt    Checkpoint
		wantErr bool
	}{
		{
			name:    "no blocks",
			ckpt:    Checkpoint{Head: Linear{Weight: eye}},
			wantErr: true,
		},
		{
			name: "dimension change without projection",
			ckpt: Checkpoint{
				InDim: 3,
				Blocks: []ConvBlock{{
					Conv: Linear{Weight: [][]float32{{1, 0, 0}, {0, 1, 0}}},
					Norm: norm,
				}},
				Head: Linear{Weight: eye},
			},
			wantErr: true,
		},
		{
			name: "class count mismatch",
			ckpt: Checkpoint{
				InDim:   dim,
				Blocks:  []ConvBlock{{Conv: Linear{Weight: eye}, Norm: norm}},
				Head:    Linear{Weight: eye},
				Classes: []string{"only one"},
			},
			wantErr: true,
		},
		{
			name: "valid with projection",
			ckpt: Checkpoint{
				InDim: 3,
				Blocks: []ConvBlock{{
					Conv:    Linear{Weight: [][]float32{{1, 0, 0}, {0, 1, 0}}},
					Norm:    norm,
					ResProj: &Linear{Weight: [][]float32{{1, 0, 0}, {0, 1, 0}}},
				}},
				Head:    Linear{Weight: eye},
				Classes: []string{"a", "b"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewModel(tt.ckpt)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewModel error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewModelDefaultClasses(t *testing.T) {
	dim := len(defaultClasses)
	eye := make([][]float32, dim)
	ones := make([]float32, dim)
	zeros := make([]float32, dim)
	for i := range eye {
		row := make([]float32, dim)
		row[i] = 1
		eye[i] = row
		ones[i] = 1
	}
	m, err := NewModel(Checkpoint{
		InDim: dim,
		Blocks: []ConvBlock{{
			Conv: Linear{Weight: eye},
			Norm: BatchNorm{Gamma: ones, Beta: zeros, Mean: zeros, Var: ones},
		}},
		Head: Linear{Weight: eye},
	})
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	classes := m.Classes()
	if classes[2] != "Countdown Timers" || classes[6] != "Not Dark Pattern" {
		t.Errorf("unexpected default classes: %v", classes)
	}
}
