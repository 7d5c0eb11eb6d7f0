package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/brunobiangulo/darkscan/block"
	"github.com/brunobiangulo/darkscan/predict"
	"github.com/brunobiangulo/darkscan/store"
)

// Worker runs the classification pipeline on claimed captures and
// persists the outcome.
type Worker struct {
	store     *store.Store
	predictor *predict.Predictor
	coord     *Coordinator
}

// NewWorker wires a worker to its store, predictor, and coordinator.
func NewWorker(s *store.Store, p *predict.Predictor, c *Coordinator) *Worker {
	return &Worker{store: s, predictor: p, coord: c}
}

// Process claims and classifies one capture. Captures owned elsewhere are
// skipped silently. A panic anywhere in the pipeline marks the capture
// failed instead of taking the whole watcher down.
func (w *Worker) Process(ctx context.Context, c store.Capture) (err error) {
	won, err := w.coord.TryAcquire(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("claiming capture %d: %w", c.ID, err)
	}
	if !won {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("watch: panic while processing capture",
				"capture", c.ID, "panic", r, "stack", string(debug.Stack()))
			err = w.fail(ctx, c.ID, fmt.Sprintf("panic: %v", r))
		}
	}()

	blocks := extractBlocks(c)
	if len(blocks) == 0 {
		slog.Warn("watch: capture has no usable text", "capture", c.ID)
		return w.fail(ctx, c.ID, "no usable text in capture")
	}

	if err := w.store.UpdateCaptureProgress(ctx, c.ID, 0, len(blocks)); err != nil {
		slog.Warn("watch: recording initial progress failed", "capture", c.ID, "error", err)
	}

	results, predictErr := w.predictor.Predict(ctx, blocks, func(current, total int) {
		if perr := w.store.UpdateCaptureProgress(ctx, c.ID, current, total); perr != nil {
			slog.Warn("watch: progress update failed", "capture", c.ID, "error", perr)
		}
	})

	// Persist whatever was produced, even when the pipeline failed as a
	// whole: degraded rows record which blocks went unclassified.
	saved := 0
	for _, r := range results {
		if serr := w.saveResult(ctx, c.ID, r); serr != nil {
			slog.Warn("watch: saving result failed",
				"capture", c.ID, "block", r.BlockIndex, "error", serr)
			continue
		}
		saved++
	}

	if predictErr != nil {
		slog.Error("watch: classification failed", "capture", c.ID, "error", predictErr)
		return w.fail(ctx, c.ID, predictErr.Error())
	}

	if err := w.store.CompleteCapture(ctx, c.ID, w.coord.InstanceID()); err != nil {
		return fmt.Errorf("completing capture %d: %w", c.ID, err)
	}
	slog.Info("watch: capture classified",
		"capture", c.ID, "blocks", len(blocks), "saved", saved)
	return nil
}

func (w *Worker) fail(ctx context.Context, captureID int64, message string) error {
	if err := w.store.FailCapture(ctx, captureID, w.coord.InstanceID(), message); err != nil {
		return fmt.Errorf("marking capture %d failed: %w", captureID, err)
	}
	return nil
}

func (w *Worker) saveResult(ctx context.Context, captureID int64, r predict.Result) error {
	row := store.Result{
		CaptureID:     captureID,
		BlockIndex:    r.BlockIndex,
		Text:          r.Text,
		Translated:    r.Translated,
		OriginalText:  r.Original,
		IsDarkPattern: r.IsDarkPattern,
		Predicate:     r.Predicate,
		Category:      r.Category,
		Probability:   r.Probability,
	}
	for i, tp := range r.TopPredicates {
		switch i {
		case 0:
			row.Top1Predicate = tp
		case 1:
			row.Top2Predicate = tp
		case 2:
			row.Top3Predicate = tp
		}
	}
	if len(r.Laws) > 0 {
		if data, err := json.Marshal(r.Laws); err == nil {
			row.Laws = string(data)
		}
	}
	if data, err := json.Marshal(r.Meta); err == nil {
		row.Meta = string(data)
	}

	_, err := w.store.InsertResult(ctx, row)
	return err
}

// extractBlocks converts a stored capture into normalized text blocks,
// decoding the structured block JSON when present.
func extractBlocks(c store.Capture) []block.Block {
	bc := block.Capture{
		TabURL:          c.TabURL,
		TabTitle:        c.TabTitle,
		CollectedAt:     c.CollectedAt,
		FramesCollected: c.FramesCollected,
		FullText:        c.FullText,
		OriginalText:    c.OriginalText,
		ClientID:        c.ClientID,
	}
	if c.StructuredBlocks != "" {
		if err := json.Unmarshal([]byte(c.StructuredBlocks), &bc.StructuredBlocks); err != nil {
			slog.Warn("watch: unparseable structured blocks, falling back to flat text",
				"capture", c.ID, "error", err)
		}
	}
	return block.Extract(bc)
}

// Watcher couples a feed with a worker: every capture the feed discovers
// is processed in order. Run returns when the context ends or the feed
// closes.
type Watcher struct {
	feed   *Feed
	worker *Worker
}

// NewWatcher builds a watcher from its parts.
func NewWatcher(f *Feed, w *Worker) *Watcher {
	return &Watcher{feed: f, worker: w}
}

// Run consumes the feed until it stops. Per-capture failures are logged
// and do not stop the watcher; only feed termination does.
func (w *Watcher) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- w.feed.Run(ctx) }()

	for c := range w.feed.Captures() {
		if err := w.worker.Process(ctx, c); err != nil {
			slog.Error("watch: processing capture failed", "capture", c.ID, "error", err)
		}
	}
	return <-errCh
}
