package sync

import (
	"sync"
	"testing"
	"time"

	"github.com/melos-app/melos/internal/models"
)

type notifyRecorder struct {
	mu      sync.Mutex
	batches [][]models.DownloadCompleted
}

func (r *notifyRecorder) record(batch []models.DownloadCompleted) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, batch)
}

func (r *notifyRecorder) snapshot() [][]models.DownloadCompleted {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]models.DownloadCompleted, len(r.batches))
	copy(out, r.batches)
	return out
}

func TestNotifierGroupsBurst(t *testing.T) {
	recorder := &notifyRecorder{}
	n := NewNotifier(recorder.record)
	n.window = 20 * time.Millisecond

	now := time.Now()
	n.Add(models.DownloadCompleted{ContentID: "c-1", CompletedAt: now})
	n.Add(models.DownloadCompleted{ContentID: "c-2", CompletedAt: now})
	n.Add(models.DownloadCompleted{ContentID: "c-3", CompletedAt: now})

	waitFor(t, func() bool { return len(recorder.snapshot()) == 1 })

	batches := recorder.snapshot()
	if len(batches[0]) != 3 {
		t.Errorf("batch size = %d, want 3 grouped completions", len(batches[0]))
	}
}

func TestNotifierEachAddExtendsWindow(t *testing.T) {
	recorder := &notifyRecorder{}
	n := NewNotifier(recorder.record)
	n.window = 50 * time.Millisecond

	now := time.Now()
	n.Add(models.DownloadCompleted{ContentID: "c-1", CompletedAt: now})
	time.Sleep(30 * time.Millisecond)
	n.Add(models.DownloadCompleted{ContentID: "c-2", CompletedAt: now})

	// 60ms after the first add, the window (restarted by the second add)
	// is still open.
	time.Sleep(30 * time.Millisecond)
	if got := recorder.snapshot(); len(got) != 0 {
		t.Fatalf("notification fired before the window closed: %v", got)
	}

	waitFor(t, func() bool { return len(recorder.snapshot()) == 1 })
	if batches := recorder.snapshot(); len(batches[0]) != 2 {
		t.Errorf("batch size = %d, want 2", len(batches[0]))
	}
}

func TestNotifierDropsStaleCompletions(t *testing.T) {
	recorder := &notifyRecorder{}
	n := NewNotifier(recorder.record)
	n.window = 20 * time.Millisecond

	n.Add(models.DownloadCompleted{ContentID: "old", CompletedAt: time.Now().Add(-25 * time.Hour)})
	n.Add(models.DownloadCompleted{ContentID: "new", CompletedAt: time.Now()})

	waitFor(t, func() bool { return len(recorder.snapshot()) == 1 })

	batches := recorder.snapshot()
	if len(batches[0]) != 1 || batches[0][0].ContentID != "new" {
		t.Errorf("batch = %v, want only the fresh completion", batches[0])
	}
}

func TestNotifierFlushDeliversImmediately(t *testing.T) {
	recorder := &notifyRecorder{}
	n := NewNotifier(recorder.record)
	n.window = time.Hour

	n.Add(models.DownloadCompleted{ContentID: "c-1", CompletedAt: time.Now()})
	n.Flush()

	if batches := recorder.snapshot(); len(batches) != 1 || len(batches[0]) != 1 {
		t.Errorf("batches = %v, want one immediate delivery", batches)
	}

	// A later timer fire must not deliver a second empty batch.
	n.Flush()
	if batches := recorder.snapshot(); len(batches) != 1 {
		t.Errorf("empty flush delivered a batch: %v", batches)
	}
}
