package sync

import (
	"sync"
	"time"

	"github.com/melos-app/melos/internal/models"
)

// Debounce window for grouping download notifications, and the age past
// which a completion is considered stale and never surfaced. Stale
// completions show up when a catch-up replays an old event log.
const (
	notifyWindow = 2500 * time.Millisecond
	notifyMaxAge = 24 * time.Hour
)

// Notifier groups download-completed events that arrive close together
// into one callback. Bulk server-side downloads finish in bursts; the
// user should see one notification, not thirty.
type Notifier struct {
	notify func([]models.DownloadCompleted)
	window time.Duration
	maxAge time.Duration
	now    func() time.Time

	mu      sync.Mutex
	pending []models.DownloadCompleted
	timer   *time.Timer
}

// NewNotifier creates a notifier that invokes notify with each debounced
// group. The callback runs on a timer goroutine.
func NewNotifier(notify func([]models.DownloadCompleted)) *Notifier {
	return &Notifier{
		notify: notify,
		window: notifyWindow,
		maxAge: notifyMaxAge,
		now:    time.Now,
	}
}

// Add queues one completion for the next grouped notification. Each call
// restarts the debounce window. Completions older than the staleness
// bound are dropped.
func (n *Notifier) Add(ev models.DownloadCompleted) {
	if !ev.CompletedAt.IsZero() && n.now().Sub(ev.CompletedAt) > n.maxAge {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	n.pending = append(n.pending, ev)
	if n.timer == nil {
		n.timer = time.AfterFunc(n.window, n.flush)
	} else {
		n.timer.Reset(n.window)
	}
}

// Flush delivers any queued completions immediately. Called on shutdown
// so a pending group is not lost.
func (n *Notifier) Flush() {
	n.flush()
}

func (n *Notifier) flush() {
	n.mu.Lock()
	batch := n.pending
	n.pending = nil
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	n.mu.Unlock()

	if len(batch) > 0 {
		n.notify(batch)
	}
}
