package sync

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/melos-app/melos/internal/shared"
)

// Backoff schedule for the synchronizer poll loop. The interval grows on
// every pass that had work and resets when the queue drains.
const (
	backoffFloor  = time.Second
	backoffFactor = 1.4
	backoffCap    = 30 * time.Second
)

// Source supplies a synchronizer with its queue and its upload behavior.
// Implementations exist for likes, settings, and listening events.
type Source[T any] interface {
	// Name identifies the synchronizer in logs.
	Name() string

	// BeforeLoop runs once before the first poll. Used for startup
	// cleanup such as purging stale terminal failures.
	BeforeLoop(ctx context.Context) error

	// ItemsToProcess returns the pending queue, oldest first.
	ItemsToProcess(ctx context.Context) ([]T, error)

	// ProcessItem uploads one item and transitions its status. A returned
	// error means the item was not confirmed this pass; the source has
	// already requeued or terminally failed it.
	ProcessItem(ctx context.Context, item T) error
}

// Synchronizer drains a pending-write queue against the server. It sleeps
// with exponential backoff between passes, suspends entirely when the
// queue is empty, and resumes on [Synchronizer.WakeUp].
//
// Per-item failures are isolated: one bad item never blocks the rest of
// the queue, and the loop itself never exits on upload errors.
type Synchronizer[T any] struct {
	source Source[T]
	wake   chan struct{}
	logger *log.Logger
}

// NewSynchronizer creates a synchronizer for the given source.
func NewSynchronizer[T any](source Source[T], logger *log.Logger) *Synchronizer[T] {
	return &Synchronizer[T]{
		source: source,
		wake:   make(chan struct{}, 1),
		logger: shared.WithLogger(logger, "component", "synchronizer", "queue", source.Name()),
	}
}

// WakeUp signals the loop that new work exists. Never blocks; a wake-up
// while one is already pending coalesces into it.
func (s *Synchronizer[T]) WakeUp() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run executes the synchronizer loop until ctx is canceled.
func (s *Synchronizer[T]) Run(ctx context.Context) error {
	if err := s.source.BeforeLoop(ctx); err != nil {
		s.logger.Warn("startup hook failed", "error", err)
	}

	interval := backoffFloor
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		items, err := s.source.ItemsToProcess(ctx)
		if err != nil {
			s.logger.Error("failed to read pending queue", "error", err)
			if err := s.sleep(ctx, interval); err != nil {
				return err
			}
			interval = nextInterval(interval)
			continue
		}

		if len(items) == 0 {
			interval = backoffFloor
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.wake:
			}
			continue
		}

		processed := 0
		for _, item := range items {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := s.source.ProcessItem(ctx, item); err != nil {
				s.logger.Warn("item not confirmed", "error", err)
				continue
			}
			processed++
		}
		s.logger.Debug("pass complete", "processed", processed, "total", len(items))

		if err := s.sleep(ctx, interval); err != nil {
			return err
		}
		interval = nextInterval(interval)
	}
}

func (s *Synchronizer[T]) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	case <-s.wake:
		return nil
	}
}

func nextInterval(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * backoffFactor)
	if next > backoffCap {
		return backoffCap
	}
	return next
}
