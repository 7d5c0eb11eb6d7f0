// Package gcn implements the residual graph-convolutional classifier and the
// inductive kNN graph construction around it. The model is a pure function of
// its checkpoint weights: a stack of residual graph-convolution blocks
// followed by a linear head producing one logit vector per node.
package gcn

import (
	"encoding/json"
	"fmt"
	"os"
)

// defaultClasses is the label list used when the checkpoint does not carry
// its own class mapping.
var defaultClasses = []string{
	"Activity Notifications",
	"Confirmshaming",
	"Countdown Timers",
	"High-demand Messages",
	"Limited-time Messages",
	"Low-stock Messages",
	"Not Dark Pattern",
	"Pressured Selling",
	"Testimonials of Uncertain Origin",
	"Trick Questions",
}

// DefaultClasses returns a copy of the built-in label list.
func DefaultClasses() []string {
	out := make([]string, len(defaultClasses))
	copy(out, defaultClasses)
	return out
}

// Linear holds the parameters of a dense layer. Weight is row-major
// [outDim][inDim]; Bias may be nil.
type Linear struct {
	Weight [][]float32 `json:"weight"`
	Bias   []float32   `json:"bias,omitempty"`
}

// BatchNorm holds inference-mode normalization parameters.
type BatchNorm struct {
	Gamma []float32 `json:"gamma"`
	Beta  []float32 `json:"beta"`
	Mean  []float32 `json:"mean"`
	Var   []float32 `json:"var"`
	Eps   float64   `json:"eps,omitempty"`
}

// ConvBlock is one residual graph-convolution block: convolution, batch
// norm, ReLU, and a residual addition projected when dimensions differ.
// Dropout is a training-time parameter and is ignored at inference.
type ConvBlock struct {
	Conv    Linear     `json:"conv"`
	Norm    BatchNorm  `json:"norm"`
	ResProj *Linear    `json:"res_proj,omitempty"`
	Dropout float64    `json:"dropout,omitempty"`
}

// Checkpoint is the exported classifier artifact. The original training
// pipeline exports torch parameters to this JSON shape.
type Checkpoint struct {
	HP struct {
		Hidden  int     `json:"hidden"`
		Layers  int     `json:"layers"`
		Dropout float64 `json:"dropout"`
	} `json:"hp"`
	InDim   int         `json:"in_dim"`
	Blocks  []ConvBlock `json:"blocks"`
	Head    Linear      `json:"head"`
	Classes []string    `json:"classes,omitempty"`
}

// LoadCheckpoint reads and validates a checkpoint file, returning a ready
// Model. A checkpoint without a class mapping gets the default label list.
func LoadCheckpoint(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}

	var ckpt Checkpoint
	if err := json.Unmarshal(data, &ckpt); err != nil {
		return nil, fmt.Errorf("parsing checkpoint: %w", err)
	}
	return NewModel(ckpt)
}

// NewModel validates a checkpoint and builds a Model from it.
func NewModel(ckpt Checkpoint) (*Model, error) {
	if len(ckpt.Blocks) == 0 {
		return nil, fmt.Errorf("checkpoint has no convolution blocks")
	}
	if len(ckpt.Head.Weight) == 0 {
		return nil, fmt.Errorf("checkpoint has no head weights")
	}

	inDim := ckpt.InDim
	if inDim == 0 && len(ckpt.Blocks[0].Conv.Weight) > 0 {
		inDim = len(ckpt.Blocks[0].Conv.Weight[0])
	}

	// Dimension chain: each block's conv input must equal the previous
	// block's output; the head input must equal the last block's output.
	prev := inDim
	for i, b := range ckpt.Blocks {
		out := len(b.Conv.Weight)
		if out == 0 {
			return nil, fmt.Errorf("block %d: empty conv weight", i)
		}
		if got := len(b.Conv.Weight[0]); got != prev {
			return nil, fmt.Errorf("block %d: conv expects input dim %d, got %d", i, got, prev)
		}
		if len(b.Norm.Gamma) != out || len(b.Norm.Mean) != out {
			return nil, fmt.Errorf("block %d: norm parameters do not match dim %d", i, out)
		}
		if prev != out && b.ResProj == nil {
			return nil, fmt.Errorf("block %d: dimension change %d->%d without residual projection", i, prev, out)
		}
		if b.ResProj != nil {
			if len(b.ResProj.Weight) != out || len(b.ResProj.Weight[0]) != prev {
				return nil, fmt.Errorf("block %d: residual projection shape mismatch", i)
			}
		}
		prev = out
	}

	numClasses := len(ckpt.Head.Weight)
	if got := len(ckpt.Head.Weight[0]); got != prev {
		return nil, fmt.Errorf("head expects input dim %d, got %d", got, prev)
	}

	classes := ckpt.Classes
	if len(classes) == 0 {
		classes = DefaultClasses()
	}
	if len(classes) != numClasses {
		return nil, fmt.Errorf("class list has %d labels but head produces %d logits",
			len(classes), numClasses)
	}

	return &Model{
		blocks:  ckpt.Blocks,
		head:    ckpt.Head,
		classes: classes,
		inDim:   inDim,
	}, nil
}
