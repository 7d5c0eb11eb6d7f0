// Package darkscan detects dark patterns in captured web-page text. Pages
// collected by browser clients are split into text blocks, embedded, and
// classified by a residual graph-convolutional model that attaches each
// block to a labeled reference set; detected patterns are mapped to their
// category and the consumer-protection laws they may violate.
package darkscan

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/brunobiangulo/darkscan/block"
	"github.com/brunobiangulo/darkscan/embed"
	"github.com/brunobiangulo/darkscan/gcn"
	"github.com/brunobiangulo/darkscan/lawtable"
	"github.com/brunobiangulo/darkscan/predict"
	"github.com/brunobiangulo/darkscan/store"
	"github.com/brunobiangulo/darkscan/watch"
)

// Service is the main entry point for the darkscan pipeline.
type Service interface {
	// Collect stores a new capture for background classification.
	// Returns the capture ID.
	Collect(ctx context.Context, c block.Capture) (int64, error)

	// PredictText classifies delimiter-encoded text immediately, without
	// persisting anything.
	PredictText(ctx context.Context, text string) ([]BlockResult, error)

	// Results returns the capture record with its classification results.
	Results(ctx context.Context, captureID int64) (*CaptureResults, error)

	// Progress reports how far classification has advanced on a capture.
	Progress(ctx context.Context, captureID int64) (*store.Progress, error)

	// Summary aggregates lifecycle and classification counts.
	Summary(ctx context.Context) (*store.Summary, error)

	// Run watches for new captures until the context ends or the insert
	// feed closes. Intended to run in its own goroutine.
	Run(ctx context.Context) error

	// InstanceID returns the identity this instance claims captures under.
	InstanceID() string

	// Store returns the underlying store for diagnostic access.
	Store() *store.Store

	// Close cleanly shuts down the service.
	Close() error
}

// BlockResult is the classification outcome for one text block as exposed
// through the API. Predicate, Category, and Probability are null for
// blocks whose classification failed.
type BlockResult struct {
	Index         int               `json:"index"`
	Text          string            `json:"text"`
	Translated    string            `json:"translated"`
	Original      string            `json:"original_text"`
	IsDarkPattern bool              `json:"is_darkpattern"`
	Predicate     *string           `json:"predicate"`
	Category      *string           `json:"category"`
	Probability   *int              `json:"probability"`
	TopPredicates []string          `json:"top_predicates,omitempty"`
	Laws          []json.RawMessage `json:"laws"`
	Meta          block.Meta        `json:"meta,omitempty"`
	Error         string            `json:"error,omitempty"`
}

// CaptureResults bundles a capture with its stored results.
type CaptureResults struct {
	Capture store.Capture  `json:"capture"`
	Results []store.Result `json:"results"`
}

// service is the concrete implementation of Service.
type service struct {
	cfg       Config
	store     *store.Store
	provider  embed.Provider
	model     *gcn.Model
	laws      *lawtable.Table
	predictor *predict.Predictor
	coord     *watch.Coordinator
	watcher   *watch.Watcher
}

// New creates a darkscan service with the given configuration.
func New(cfg Config) (Service, error) {
	if cfg.CheckpointPath == "" {
		return nil, fmt.Errorf("%w: checkpoint_path is required", ErrInvalidConfig)
	}
	if cfg.EmbeddingDim == 0 {
		cfg.EmbeddingDim = 768
	}
	if cfg.KNNK == 0 {
		cfg.KNNK = 10
	}
	if cfg.KNNMetric == "" {
		cfg.KNNMetric = "cosine"
	}

	s, err := store.New(cfg.DatabasePath(), cfg.EmbeddingDim)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	provider, err := embed.NewProvider(embed.Config{
		Provider: cfg.Embedding.Provider,
		Model:    cfg.Embedding.Model,
		BaseURL:  cfg.Embedding.BaseURL,
		APIKey:   cfg.Embedding.APIKey,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}

	model, err := gcn.LoadCheckpoint(cfg.CheckpointPath)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: %v", ErrCheckpointInvalid, err)
	}
	if model.InputDim() != cfg.EmbeddingDim {
		s.Close()
		return nil, fmt.Errorf("%w: model expects dim %d, config says %d",
			ErrCheckpointInvalid, model.InputDim(), cfg.EmbeddingDim)
	}

	// The law table is optional; without it, categories still come from
	// the fixed predicate map but no laws are attached.
	laws := lawtable.Empty()
	if cfg.LawTablePath != "" {
		laws, err = lawtable.Load(cfg.LawTablePath)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("loading law table: %w", err)
		}
	} else {
		slog.Warn("no law table configured, results will carry no law references")
	}

	ctx := context.Background()
	reference, _, err := s.LoadReferenceSet(ctx)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("loading reference set: %w", err)
	}
	if len(reference) == 0 {
		slog.Warn("reference set is empty, classification will run without graph context")
	}

	opts := graphOptions(ctx, s, cfg)
	predictor, err := predict.New(model, provider, laws, reference, opts)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("building predictor: %w", err)
	}

	coord := watch.NewCoordinator(s)
	feed := watch.NewFeed(s, 0, cfg.PollInterval, cfg.MaxRetries)
	worker := watch.NewWorker(s, predictor, coord)

	slog.Info("darkscan service ready",
		"instance", coord.InstanceID(),
		"classes", len(model.Classes()),
		"reference_vectors", len(reference),
		"law_entries", laws.Len())

	return &service{
		cfg:       cfg,
		store:     s,
		provider:  provider,
		model:     model,
		laws:      laws,
		predictor: predictor,
		coord:     coord,
		watcher:   watch.NewWatcher(feed, worker),
	}, nil
}

// graphOptions resolves graph hyperparameters: values recorded alongside
// the reference set take precedence over configuration, so inference
// always matches how the reference embeddings were trained.
func graphOptions(ctx context.Context, s *store.Store, cfg Config) gcn.GraphOptions {
	opts := gcn.GraphOptions{K: cfg.KNNK, Metric: cfg.KNNMetric, Mutual: cfg.MutualKNN}

	if v, err := s.GetMeta(ctx, "knn_k"); err == nil && v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			opts.K = k
		}
	}
	if v, err := s.GetMeta(ctx, "metric"); err == nil && v != "" {
		opts.Metric = v
	}
	if v, err := s.GetMeta(ctx, "mutual_knn"); err == nil && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			opts.Mutual = b
		}
	}
	return opts
}

// Collect stores a capture in pending state; the background watcher picks
// it up from there.
func (sv *service) Collect(ctx context.Context, c block.Capture) (int64, error) {
	if c.FullText == "" && c.OriginalText == "" && len(c.StructuredBlocks) == 0 {
		return 0, ErrNoText
	}

	row := store.Capture{
		TabURL:          c.TabURL,
		TabTitle:        c.TabTitle,
		CollectedAt:     c.CollectedAt,
		FramesCollected: c.FramesCollected,
		FullText:        c.FullText,
		OriginalText:    c.OriginalText,
		ClientID:        c.ClientID,
	}
	if len(c.StructuredBlocks) > 0 {
		data, err := json.Marshal(c.StructuredBlocks)
		if err != nil {
			return 0, fmt.Errorf("encoding structured blocks: %w", err)
		}
		row.StructuredBlocks = string(data)
	}

	id, err := sv.store.InsertCapture(ctx, row)
	if err != nil {
		return 0, fmt.Errorf("storing capture: %w", err)
	}
	slog.Info("capture collected", "capture", id, "url", c.TabURL,
		"frames", c.FramesCollected)
	return id, nil
}

// PredictText classifies delimiter-encoded text synchronously.
func (sv *service) PredictText(ctx context.Context, text string) ([]BlockResult, error) {
	blocks := block.Extract(block.Capture{FullText: text, OriginalText: text})
	if len(blocks) == 0 {
		return nil, ErrNoText
	}

	results, err := sv.predictor.Predict(ctx, blocks, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	out := make([]BlockResult, len(results))
	for i, r := range results {
		out[i] = toBlockResult(r)
	}
	return out, nil
}

// Results returns a capture and its stored classification results.
func (sv *service) Results(ctx context.Context, captureID int64) (*CaptureResults, error) {
	c, err := sv.store.GetCapture(ctx, captureID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCaptureNotFound
		}
		return nil, err
	}
	results, err := sv.store.ResultsByCapture(ctx, captureID)
	if err != nil {
		return nil, err
	}
	return &CaptureResults{Capture: *c, Results: results}, nil
}

// Progress reports classification progress on a capture.
func (sv *service) Progress(ctx context.Context, captureID int64) (*store.Progress, error) {
	p, err := sv.store.GetProgress(ctx, captureID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCaptureNotFound
		}
		return nil, err
	}
	return p, nil
}

// Summary aggregates counts across all captures and results.
func (sv *service) Summary(ctx context.Context) (*store.Summary, error) {
	return sv.store.ResultSummary(ctx)
}

// Run drives the background watcher until the context ends or the feed
// closes.
func (sv *service) Run(ctx context.Context) error {
	return sv.watcher.Run(ctx)
}

// InstanceID returns this instance's claim identity.
func (sv *service) InstanceID() string {
	return sv.coord.InstanceID()
}

// Store returns the underlying store for diagnostic access.
func (sv *service) Store() *store.Store {
	return sv.store
}

// Close shuts down the service.
func (sv *service) Close() error {
	return sv.store.Close()
}

func toBlockResult(r predict.Result) BlockResult {
	out := BlockResult{
		Index:         r.BlockIndex,
		Text:          r.Text,
		Translated:    r.Translated,
		Original:      r.Original,
		IsDarkPattern: r.IsDarkPattern,
		Predicate:     r.Predicate,
		Category:      r.Category,
		Probability:   r.Probability,
		TopPredicates: r.TopPredicates,
		Laws:          r.Laws,
		Meta:          r.Meta,
	}
	if out.Laws == nil {
		out.Laws = []json.RawMessage{}
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return out
}
