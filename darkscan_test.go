package darkscan

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/brunobiangulo/darkscan/predict"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.DBName != "darkscan" {
		t.Errorf("DBName = %q, want darkscan", cfg.DBName)
	}
	if cfg.Embedding.Provider != "ollama" {
		t.Errorf("Embedding.Provider = %q, want ollama", cfg.Embedding.Provider)
	}
	if cfg.KNNK != 10 {
		t.Errorf("KNNK = %d, want 10", cfg.KNNK)
	}
	if cfg.KNNMetric != "cosine" {
		t.Errorf("KNNMetric = %q, want cosine", cfg.KNNMetric)
	}
	if !cfg.MutualKNN {
		t.Error("MutualKNN should default to true")
	}
	if cfg.EmbeddingDim != 768 {
		t.Errorf("EmbeddingDim = %d, want 768", cfg.EmbeddingDim)
	}
}

func TestDatabasePath(t *testing.T) {
	explicit := Config{DBPath: "/tmp/custom.db"}
	if got := explicit.DatabasePath(); got != "/tmp/custom.db" {
		t.Errorf("explicit path = %q", got)
	}

	local := Config{DBName: "scans", StorageDir: "local"}
	if got := local.DatabasePath(); got != "scans.db" {
		t.Errorf("local path = %q, want scans.db", got)
	}

	home := Config{DBName: "scans", StorageDir: "home"}
	got := home.DatabasePath()
	if filepath.Base(got) != "scans.db" || !strings.Contains(got, ".darkscan") {
		t.Errorf("home path = %q, want .../.darkscan/scans.db", got)
	}

	unnamed := Config{StorageDir: "local"}
	if got := unnamed.DatabasePath(); got != "darkscan.db" {
		t.Errorf("unnamed path = %q, want darkscan.db", got)
	}
}

func TestNewRejectsMissingCheckpoint(t *testing.T) {
	_, err := New(Config{})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("New without checkpoint: err = %v, want ErrInvalidConfig", err)
	}
}

func TestToBlockResult(t *testing.T) {
	predicate := "Countdown Timers"
	category := "Urgency"
	probability := 93

	full := toBlockResult(predict.Result{
		BlockIndex:    2,
		Text:          "sale ends in 5 minutes",
		IsDarkPattern: true,
		Predicate:     &predicate,
		Category:      &category,
		Probability:   &probability,
		TopPredicates: []string{"Countdown Timers (0.9300)"},
		Laws:          []json.RawMessage{json.RawMessage(`{"act":"consumer protection"}`)},
	})
	if full.Index != 2 || !full.IsDarkPattern {
		t.Errorf("unexpected mapping: %+v", full)
	}
	if full.Predicate == nil || *full.Predicate != predicate {
		t.Error("predicate not carried over")
	}
	if len(full.Laws) != 1 {
		t.Errorf("laws = %d entries, want 1", len(full.Laws))
	}
	if full.Error != "" {
		t.Errorf("unexpected error string %q", full.Error)
	}

	degraded := toBlockResult(predict.Result{
		BlockIndex: 0,
		Text:       "plain text",
		Err:        errors.New("embedding unavailable"),
	})
	if degraded.Error != "embedding unavailable" {
		t.Errorf("error = %q", degraded.Error)
	}
	if degraded.Predicate != nil || degraded.Probability != nil {
		t.Error("degraded result should carry no classification")
	}
	if degraded.Laws == nil {
		t.Error("laws should be an empty slice, not null")
	}
}
