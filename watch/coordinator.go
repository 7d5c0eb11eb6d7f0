package watch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/brunobiangulo/darkscan/store"
)

// Coordinator decides which captures this instance works on. Multiple
// instances may watch the same database; ownership is settled by an
// atomic conditional update, so exactly one instance wins each capture.
// A process-local seen set keeps the same instance from re-attempting a
// capture the feed delivers more than once.
type Coordinator struct {
	store *store.Store
	id    string

	mu   sync.Mutex
	seen map[int64]struct{}
}

// NewCoordinator creates a coordinator with a fresh instance identity.
func NewCoordinator(s *store.Store) *Coordinator {
	return &Coordinator{
		store: s,
		id:    uuid.NewString(),
		seen:  make(map[int64]struct{}),
	}
}

// InstanceID returns this instance's unique identity, used as the
// processing owner on every capture it claims.
func (c *Coordinator) InstanceID() string {
	return c.id
}

// TryAcquire attempts to claim a capture for this instance. It returns
// false without error when the capture was already seen locally or was
// won by another instance.
func (c *Coordinator) TryAcquire(ctx context.Context, captureID int64) (bool, error) {
	c.mu.Lock()
	if _, dup := c.seen[captureID]; dup {
		c.mu.Unlock()
		return false, nil
	}
	c.seen[captureID] = struct{}{}
	c.mu.Unlock()

	won, err := c.store.ClaimCapture(ctx, captureID, c.id)
	if err != nil {
		return false, err
	}
	if !won {
		// Lost the race: re-read to see who holds it. Useful when
		// diagnosing multi-instance deployments.
		owner, oerr := c.store.CaptureOwner(ctx, captureID)
		if oerr != nil {
			slog.Warn("watch: lost claim, owner unknown",
				"capture", captureID, "error", oerr)
		} else {
			slog.Info("watch: capture claimed by another instance",
				"capture", captureID, "owner", owner)
		}
		return false, nil
	}

	slog.Info("watch: claimed capture", "capture", captureID, "instance", c.id)
	return true, nil
}
