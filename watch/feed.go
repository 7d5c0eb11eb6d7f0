// Package watch drives background classification: it polls the database
// for newly collected captures, claims each one for this instance, and
// runs the classification pipeline on everything it wins.
package watch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/brunobiangulo/darkscan/store"
)

// ErrFeedClosed is returned when the insert feed has exhausted its retry
// budget and stopped.
var ErrFeedClosed = errors.New("watch: insert feed closed")

const feedBatchSize = 100

// Feed polls for pending captures inserted after its cursor and delivers
// them in ID order. Poll failures back off exponentially; after maxRetries
// consecutive failures the feed closes with ErrFeedClosed.
type Feed struct {
	store      *store.Store
	interval   time.Duration
	maxRetries int
	cursor     int64
	out        chan store.Capture
}

// NewFeed creates a feed starting after the given capture ID. A cursor of
// 0 replays every pending capture already in the database, which is what
// a restarted instance wants.
func NewFeed(s *store.Store, startAfter int64, interval time.Duration, maxRetries int) *Feed {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Feed{
		store:      s,
		interval:   interval,
		maxRetries: maxRetries,
		cursor:     startAfter,
		out:        make(chan store.Capture),
	}
}

// Captures returns the channel of discovered captures. It is closed when
// Run returns.
func (f *Feed) Captures() <-chan store.Capture {
	return f.out
}

// Run polls until the context is cancelled or the retry budget runs out.
func (f *Feed) Run(ctx context.Context) error {
	defer close(f.out)

	failures := 0
	for {
		captures, err := f.store.ListCapturesAfter(ctx, f.cursor, feedBatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			if failures >= f.maxRetries {
				slog.Error("watch: feed giving up after repeated poll failures",
					"failures", failures, "error", err)
				return ErrFeedClosed
			}
			delay := f.interval * time.Duration(1<<(failures-1))
			slog.Warn("watch: feed poll failed, backing off",
				"attempt", failures, "delay", delay, "error", err)
			if !sleep(ctx, delay) {
				return ctx.Err()
			}
			continue
		}
		failures = 0

		for _, c := range captures {
			select {
			case f.out <- c:
				f.cursor = c.ID
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if !sleep(ctx, f.interval) {
			return ctx.Err()
		}
	}
}

// sleep waits for d, returning false if the context ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
