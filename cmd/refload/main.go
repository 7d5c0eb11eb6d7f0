// Command refload loads a labeled reference set into the darkscan
// database. The reference set anchors the classification graph: every
// incoming text block is connected to its nearest reference vectors
// before the model runs.
//
// Input is a JSON array of entries:
//
//	[{"label": "Countdown Timers", "text": "Sale ends in 00:14:59", "embedding": [...]}, ...]
//
// Entries without an embedding are embedded with the configured provider.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/brunobiangulo/darkscan"
	"github.com/brunobiangulo/darkscan/embed"
	"github.com/brunobiangulo/darkscan/store"
)

type refEntry struct {
	Label     string    `json:"label"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding,omitempty"`
}

func main() {
	configPath := flag.String("config", "", "Path to config file (JSON)")
	inputPath := flag.String("input", "", "Reference set file (JSON array)")
	replace := flag.Bool("replace", false, "Clear the existing reference set first")
	knnK := flag.Int("k", 0, "Record k for graph construction (0 keeps current)")
	metric := flag.String("metric", "", "Record distance metric (cosine, euclidean)")
	mutual := flag.String("mutual", "", "Record mutual-kNN flag (true, false)")
	flag.Parse()

	_ = godotenv.Load()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	if *inputPath == "" {
		slog.Error("missing required flag", "flag", "-input")
		os.Exit(1)
	}

	cfg := darkscan.DefaultConfig()
	if *configPath != "" {
		f, err := os.Open(*configPath)
		if err != nil {
			slog.Error("opening config", "error", err)
			os.Exit(1)
		}
		if err := json.NewDecoder(f).Decode(&cfg); err != nil {
			f.Close()
			slog.Error("parsing config", "error", err)
			os.Exit(1)
		}
		f.Close()
	}
	if v := os.Getenv("DARKSCAN_DB_PATH"); v != "" {
		cfg.DBPath = v
	}

	if err := run(cfg, *inputPath, *replace, *knnK, *metric, *mutual); err != nil {
		slog.Error("refload failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg darkscan.Config, inputPath string, replace bool, knnK int, metric, mutual string) error {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	var entries []refEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parsing input: %w", err)
	}
	if len(entries) == 0 {
		return fmt.Errorf("input contains no reference entries")
	}

	if cfg.EmbeddingDim == 0 {
		cfg.EmbeddingDim = 768
	}
	s, err := store.New(cfg.DatabasePath(), cfg.EmbeddingDim)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer s.Close()

	ctx := context.Background()

	if err := embedMissing(ctx, cfg, entries); err != nil {
		return err
	}

	if replace {
		if err := s.ClearReferenceSet(ctx); err != nil {
			return fmt.Errorf("clearing reference set: %w", err)
		}
		slog.Info("cleared existing reference set")
	}

	loaded := 0
	for i, e := range entries {
		if e.Label == "" {
			slog.Warn("skipping entry without label", "index", i)
			continue
		}
		if len(e.Embedding) == 0 {
			slog.Warn("skipping entry without embedding", "index", i, "label", e.Label)
			continue
		}
		if _, err := s.InsertReferenceEmbedding(ctx, e.Label, e.Text, e.Embedding); err != nil {
			return fmt.Errorf("inserting entry %d (%s): %w", i, e.Label, err)
		}
		loaded++
	}

	if knnK > 0 {
		if err := s.SetMeta(ctx, "knn_k", strconv.Itoa(knnK)); err != nil {
			return fmt.Errorf("recording knn_k: %w", err)
		}
	}
	if metric != "" {
		if err := s.SetMeta(ctx, "metric", metric); err != nil {
			return fmt.Errorf("recording metric: %w", err)
		}
	}
	if mutual != "" {
		if _, err := strconv.ParseBool(mutual); err != nil {
			return fmt.Errorf("invalid -mutual value %q", mutual)
		}
		if err := s.SetMeta(ctx, "mutual_knn", mutual); err != nil {
			return fmt.Errorf("recording mutual_knn: %w", err)
		}
	}

	total, err := s.ReferenceCount(ctx)
	if err != nil {
		return fmt.Errorf("counting reference set: %w", err)
	}
	slog.Info("reference set loaded", "loaded", loaded, "total", total)
	return nil
}

// embedMissing fills in embeddings for entries that ship only text.
func embedMissing(ctx context.Context, cfg darkscan.Config, entries []refEntry) error {
	var missing []int
	for i, e := range entries {
		if len(e.Embedding) == 0 && e.Text != "" {
			missing = append(missing, i)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	provider, err := embed.NewProvider(embed.Config{
		Provider: cfg.Embedding.Provider,
		Model:    cfg.Embedding.Model,
		BaseURL:  cfg.Embedding.BaseURL,
		APIKey:   cfg.Embedding.APIKey,
	})
	if err != nil {
		return fmt.Errorf("creating embedding provider: %w", err)
	}

	texts := make([]string, len(missing))
	for j, i := range missing {
		texts[j] = entries[i].Text
	}
	slog.Info("embedding reference texts", "count", len(texts),
		"provider", cfg.Embedding.Provider, "model", cfg.Embedding.Model)

	vecs, errs := embed.EmbedEach(ctx, provider, texts)
	for j, i := range missing {
		if errs[j] != nil {
			return fmt.Errorf("embedding entry %d (%s): %w", i, entries[i].Label, errs[j])
		}
		entries[i].Embedding = vecs[j]
	}
	return nil
}
