package tracker

import (
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/melos-app/melos/internal/models"
	"github.com/melos-app/melos/internal/repositories"
	"github.com/melos-app/melos/internal/shared"
	melostest "github.com/melos-app/melos/internal/testing"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type fakeWaker struct {
	wakes atomic.Int64
}

func (w *fakeWaker) WakeUp() { w.wakes.Add(1) }

func newTestTracker(t *testing.T) (*Tracker, *repositories.ListeningStore, *fakeClock, *fakeWaker) {
	t.Helper()
	store := repositories.NewListeningStore(melostest.MustOpenDB(t))
	clock := &fakeClock{t: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	waker := &fakeWaker{}
	tr := NewTracker(store, waker, shared.NewLogger(io.Discard))
	tr.now = clock.Now
	return tr, store, clock, waker
}

func pendingEvents(t *testing.T, store *repositories.ListeningStore) []models.ListeningEvent {
	t.Helper()
	events, err := store.Pending()
	if err != nil {
		t.Fatalf("Pending returned error: %v", err)
	}
	return events
}

func TestTrackerShortSessionDiscarded(t *testing.T) {
	tr, store, clock, waker := newTestTracker(t)

	tr.OnPlayback(Playback{TrackID: "t-1", Playing: true, TrackDurationSeconds: 180})
	clock.Advance(3 * time.Second)
	tr.OnPlayback(Playback{TrackID: "t-1", Playing: false})
	tr.Stop()

	if events := pendingEvents(t, store); len(events) != 0 {
		t.Errorf("session under 5s must not be reported, got %v", events)
	}
	if waker.wakes.Load() != 0 {
		t.Error("no write should have happened")
	}
}

func TestTrackerSessionReportedOnStop(t *testing.T) {
	tr, store, clock, waker := newTestTracker(t)

	tr.OnPlayback(Playback{TrackID: "t-1", Playing: true, TrackDurationSeconds: 180, Context: "album:al-1"})
	clock.Advance(30 * time.Second)
	tr.Stop()

	events := pendingEvents(t, store)
	if len(events) != 1 {
		t.Fatalf("expected one record, got %d", len(events))
	}
	ev := events[0]
	if ev.TrackID != "t-1" || ev.DurationSeconds != 30 || ev.TrackDurationSeconds != 180 {
		t.Errorf("unexpected record: %+v", ev)
	}
	if ev.EndedAt == nil {
		t.Error("finalized record must carry ended_at")
	}
	if ev.PlaybackContext != "album:al-1" {
		t.Errorf("playback context = %q", ev.PlaybackContext)
	}
	if waker.wakes.Load() != 1 {
		t.Errorf("wakes = %d, want 1", waker.wakes.Load())
	}
}

func TestTrackerSessionStartsOnPausedActivation(t *testing.T) {
	tr, store, clock, _ := newTestTracker(t)
	activatedAt := clock.Now()

	// Track loaded paused: the session starts now, and seeks made before
	// the first play belong to it.
	tr.OnPlayback(Playback{TrackID: "t-1", Playing: false, TrackDurationSeconds: 180})
	tr.OnSeek()
	tr.OnSeek()
	clock.Advance(20 * time.Second)
	tr.OnPlayback(Playback{TrackID: "t-1", Playing: true})
	clock.Advance(30 * time.Second)
	tr.Stop()

	events := pendingEvents(t, store)
	if len(events) != 1 {
		t.Fatalf("expected one record, got %d", len(events))
	}
	ev := events[0]
	if !ev.StartedAt.Equal(activatedAt) {
		t.Errorf("started_at = %v, want activation time %v", ev.StartedAt, activatedAt)
	}
	if ev.DurationSeconds != 30 {
		t.Errorf("duration = %d, want 30 (paused lead-in excluded)", ev.DurationSeconds)
	}
	if ev.SeekCount != 2 {
		t.Errorf("seek count = %d, want 2", ev.SeekCount)
	}
	if ev.PauseCount != 0 {
		t.Errorf("pause count = %d, want 0", ev.PauseCount)
	}
}

func TestTrackerPausedActivationNeverPlayedDiscarded(t *testing.T) {
	tr, store, clock, _ := newTestTracker(t)

	tr.OnPlayback(Playback{TrackID: "t-1", Playing: false})
	clock.Advance(time.Minute)
	tr.OnPlayback(Playback{TrackID: "t-2", Playing: true})
	clock.Advance(10 * time.Second)
	tr.Stop()

	events := pendingEvents(t, store)
	if len(events) != 1 {
		t.Fatalf("expected only the played session, got %d rows", len(events))
	}
	if events[0].TrackID != "t-2" {
		t.Errorf("reported track = %s, want t-2", events[0].TrackID)
	}
}

func TestTrackerCheckpointUpdatesInPlace(t *testing.T) {
	tr, store, clock, waker := newTestTracker(t)

	tr.OnPlayback(Playback{TrackID: "t-1", Playing: true})
	clock.Advance(12 * time.Second)
	tr.checkpoint()

	events := pendingEvents(t, store)
	if len(events) != 1 {
		t.Fatalf("expected one checkpointed record, got %d", len(events))
	}
	firstID := events[0].ID
	if events[0].DurationSeconds != 12 {
		t.Errorf("duration = %d, want 12", events[0].DurationSeconds)
	}
	if events[0].EndedAt != nil {
		t.Error("checkpoint must not set ended_at")
	}

	clock.Advance(10 * time.Second)
	tr.checkpoint()

	events = pendingEvents(t, store)
	if len(events) != 1 {
		t.Fatalf("second checkpoint must update, not insert; got %d rows", len(events))
	}
	if events[0].ID != firstID {
		t.Errorf("record ID changed: %s -> %s", firstID, events[0].ID)
	}
	if events[0].DurationSeconds != 22 {
		t.Errorf("duration = %d, want 22", events[0].DurationSeconds)
	}
	if waker.wakes.Load() != 2 {
		t.Errorf("wakes = %d, want 2", waker.wakes.Load())
	}
}

func TestTrackerCheckpointNoOpWhenUnchanged(t *testing.T) {
	tr, store, clock, _ := newTestTracker(t)

	tr.OnPlayback(Playback{TrackID: "t-1", Playing: true})
	clock.Advance(10 * time.Second)
	tr.OnPlayback(Playback{TrackID: "t-1", Playing: false})
	tr.checkpoint()

	events := pendingEvents(t, store)
	if len(events) != 1 {
		t.Fatalf("expected one record, got %d", len(events))
	}
	// Simulate the synchronizer confirming the checkpoint.
	store.Mark(events[0].ID, models.StatusSynced)

	// Still paused, nothing changed: the next tick must not touch the row.
	clock.Advance(10 * time.Second)
	tr.checkpoint()

	if events := pendingEvents(t, store); len(events) != 0 {
		t.Errorf("unchanged checkpoint re-queued the record: %v", events)
	}
}

func TestTrackerCheckpointBelowMinimum(t *testing.T) {
	tr, store, clock, _ := newTestTracker(t)

	tr.OnPlayback(Playback{TrackID: "t-1", Playing: true})
	clock.Advance(3 * time.Second)
	tr.checkpoint()

	if events := pendingEvents(t, store); len(events) != 0 {
		t.Errorf("sub-minimum session must not be checkpointed, got %v", events)
	}
}

func TestTrackerTrackChangeSplitsSessions(t *testing.T) {
	tr, store, clock, _ := newTestTracker(t)

	tr.OnPlayback(Playback{TrackID: "t-1", Playing: true})
	clock.Advance(20 * time.Second)
	tr.OnPlayback(Playback{TrackID: "t-2", Playing: true})
	clock.Advance(15 * time.Second)
	tr.Stop()

	events := pendingEvents(t, store)
	if len(events) != 2 {
		t.Fatalf("expected two sessions, got %d", len(events))
	}
	if events[0].TrackID != "t-1" || events[0].DurationSeconds != 20 {
		t.Errorf("first session: %+v", events[0])
	}
	if events[1].TrackID != "t-2" || events[1].DurationSeconds != 15 {
		t.Errorf("second session: %+v", events[1])
	}
	if events[0].SessionID == events[1].SessionID {
		t.Error("sessions must have distinct session IDs")
	}
}

func TestTrackerLongPauseSplitsSession(t *testing.T) {
	tr, store, clock, _ := newTestTracker(t)

	// 10s of playback, a 5 minute pause, then 300s more: two sessions.
	tr.OnPlayback(Playback{TrackID: "t-1", Playing: true})
	clock.Advance(10 * time.Second)
	tr.OnPlayback(Playback{TrackID: "t-1", Playing: false})
	clock.Advance(5 * time.Minute)
	tr.OnPlayback(Playback{TrackID: "t-1", Playing: true})
	clock.Advance(300 * time.Second)
	tr.Stop()

	events := pendingEvents(t, store)
	if len(events) != 2 {
		t.Fatalf("expected two sessions, got %d", len(events))
	}
	if events[0].DurationSeconds != 10 {
		t.Errorf("first session duration = %d, want 10", events[0].DurationSeconds)
	}
	if events[1].DurationSeconds != 300 {
		t.Errorf("second session duration = %d, want 300", events[1].DurationSeconds)
	}
}

func TestTrackerShortPauseContinuesSession(t *testing.T) {
	tr, store, clock, _ := newTestTracker(t)

	tr.OnPlayback(Playback{TrackID: "t-1", Playing: true})
	clock.Advance(10 * time.Second)
	tr.OnPlayback(Playback{TrackID: "t-1", Playing: false})
	clock.Advance(time.Minute)
	tr.OnPlayback(Playback{TrackID: "t-1", Playing: true})
	clock.Advance(10 * time.Second)
	tr.Stop()

	events := pendingEvents(t, store)
	if len(events) != 1 {
		t.Fatalf("expected one continued session, got %d", len(events))
	}
	if events[0].DurationSeconds != 20 {
		t.Errorf("duration = %d, want 20 (pause time excluded)", events[0].DurationSeconds)
	}
	if events[0].PauseCount != 1 {
		t.Errorf("pause count = %d, want 1", events[0].PauseCount)
	}
}

func TestTrackerExpiredPauseFinalizedByCheckpoint(t *testing.T) {
	tr, store, clock, _ := newTestTracker(t)

	tr.OnPlayback(Playback{TrackID: "t-1", Playing: true})
	clock.Advance(30 * time.Second)
	tr.OnPlayback(Playback{TrackID: "t-1", Playing: false})
	clock.Advance(6 * time.Minute)
	tr.checkpoint()

	events := pendingEvents(t, store)
	if len(events) != 1 {
		t.Fatalf("expected abandoned session finalized, got %d rows", len(events))
	}
	if events[0].EndedAt == nil {
		t.Error("finalized record must carry ended_at")
	}
	if events[0].DurationSeconds != 30 {
		t.Errorf("duration = %d, want 30", events[0].DurationSeconds)
	}

	// A fresh play afterwards starts a brand new session.
	tr.OnPlayback(Playback{TrackID: "t-1", Playing: true})
	clock.Advance(10 * time.Second)
	tr.Stop()
	if events := pendingEvents(t, store); len(events) != 2 {
		t.Errorf("expected a second session, got %d rows", len(events))
	}
}

func TestTrackerSeekCount(t *testing.T) {
	tr, store, clock, _ := newTestTracker(t)

	tr.OnPlayback(Playback{TrackID: "t-1", Playing: true})
	clock.Advance(10 * time.Second)
	tr.OnSeek()
	tr.OnSeek()
	clock.Advance(10 * time.Second)
	tr.Stop()

	events := pendingEvents(t, store)
	if len(events) != 1 {
		t.Fatalf("expected one record, got %d", len(events))
	}
	if events[0].SeekCount != 2 {
		t.Errorf("seek count = %d, want 2", events[0].SeekCount)
	}
}

func TestTrackerReinsertsAfterUploadedRecordDeleted(t *testing.T) {
	tr, store, clock, _ := newTestTracker(t)

	tr.OnPlayback(Playback{TrackID: "t-1", Playing: true})
	clock.Advance(10 * time.Second)
	tr.checkpoint()

	// The synchronizer uploads the checkpoint and deletes the row while
	// the session is still going.
	events := pendingEvents(t, store)
	store.Delete(events[0].ID)
	sessionID := events[0].SessionID

	clock.Advance(10 * time.Second)
	tr.checkpoint()

	events = pendingEvents(t, store)
	if len(events) != 1 {
		t.Fatalf("expected record re-inserted, got %d rows", len(events))
	}
	if events[0].SessionID != sessionID {
		t.Error("re-inserted record must keep its session ID for server dedup")
	}
	if events[0].DurationSeconds != 20 {
		t.Errorf("duration = %d, want 20", events[0].DurationSeconds)
	}
}
