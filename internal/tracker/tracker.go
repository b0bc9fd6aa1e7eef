// Package tracker turns raw playback state changes into listening-session
// records for the listening synchronizer to upload.
package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/melos-app/melos/internal/models"
	"github.com/melos-app/melos/internal/repositories"
	"github.com/melos-app/melos/internal/shared"
)

// Session accounting rules: sessions shorter than the minimum are never
// reported; a pause longer than the inactivity limit splits the listen
// into a new session; progress is checkpointed on a fixed cadence so a
// crash loses at most one interval.
const (
	minSessionDuration = 5 * time.Second
	inactivityLimit    = 5 * time.Minute
	checkpointInterval = 10 * time.Second
)

// Waker is notified whenever the tracker writes a record, so the
// listening synchronizer can pick it up immediately.
type Waker interface {
	WakeUp()
}

// Playback is one observed playback state: which track is loaded and
// whether it is currently playing.
type Playback struct {
	TrackID              string
	Playing              bool
	TrackDurationSeconds int
	Context              string
}

// session is the single in-flight listening session. recordID is set
// once the session has been checkpointed to the store.
type session struct {
	id                   string
	trackID              string
	trackDurationSeconds int
	playbackContext      string
	startedAt            time.Time
	accumulated          time.Duration
	playingSince         time.Time // zero while paused
	lastActivity         time.Time
	seekCount            int
	pauseCount           int
	recordID             string
	saved                savedProgress
}

// savedProgress is what the last checkpoint persisted; an identical
// snapshot makes the next checkpoint a no-op.
type savedProgress struct {
	durationSeconds int
	seekCount       int
	pauseCount      int
	final           bool
}

func (s *session) playing() bool { return !s.playingSince.IsZero() }

func (s *session) duration(now time.Time) time.Duration {
	d := s.accumulated
	if s.playing() {
		d += now.Sub(s.playingSince)
	}
	return d
}

// Tracker owns at most one listening session at a time. All input is
// serialized; playback sources feed it combined (track, playing) states
// and it decides when sessions start, split, checkpoint, and end.
type Tracker struct {
	store  *repositories.ListeningStore
	waker  Waker
	logger *log.Logger
	now    func() time.Time

	// mu serializes playback input, seeks, and checkpoint ticks.
	mu      sync.Mutex
	current *session
}

// NewTracker creates a tracker writing through the given store. waker
// may be nil.
func NewTracker(store *repositories.ListeningStore, waker Waker, logger *log.Logger) *Tracker {
	return &Tracker{
		store:  store,
		waker:  waker,
		logger: shared.WithLogger(logger, "component", "tracker"),
		now:    time.Now,
	}
}

// OnPlayback ingests one playback state change.
func (t *Tracker) OnPlayback(p Playback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()

	if t.current == nil {
		// A session starts when a track becomes active, playing or not,
		// so startedAt and pre-play seeks belong to it.
		if p.TrackID != "" {
			t.start(p, now)
		}
		return
	}

	if p.TrackID != t.current.trackID {
		t.finalize(now)
		if p.TrackID != "" {
			t.start(p, now)
		}
		return
	}

	switch {
	case p.Playing && !t.current.playing():
		// Resuming after a long pause is a new listen, not more of the
		// old one.
		if now.Sub(t.current.lastActivity) >= inactivityLimit {
			t.finalize(t.current.lastActivity)
			t.start(p, now)
			return
		}
		t.current.playingSince = now
		t.current.lastActivity = now
	case !p.Playing && t.current.playing():
		t.current.accumulated += now.Sub(t.current.playingSince)
		t.current.playingSince = time.Time{}
		t.current.pauseCount++
		t.current.lastActivity = now
	default:
		t.current.lastActivity = now
	}
}

// OnSeek records one seek within the current session.
func (t *Tracker) OnSeek() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return
	}
	t.current.seekCount++
	t.current.lastActivity = t.now()
}

// Stop finalizes the current session, if any. Called on shutdown.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current != nil {
		t.finalize(t.now())
	}
}

// Run checkpoints the current session on a fixed cadence until ctx is
// canceled, then finalizes it.
func (t *Tracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(checkpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-ticker.C:
			t.checkpoint()
		}
	}
}

func (t *Tracker) start(p Playback, now time.Time) {
	sess := &session{
		id:                   shared.GenerateID(),
		trackID:              p.TrackID,
		trackDurationSeconds: p.TrackDurationSeconds,
		playbackContext:      p.Context,
		startedAt:            now,
		lastActivity:         now,
	}
	if p.Playing {
		sess.playingSince = now
	}
	t.current = sess
	t.logger.Debug("session started", "session_id", sess.id, "track_id", p.TrackID, "playing", p.Playing)
}

// checkpoint persists the current session's progress. Strictly a no-op
// when nothing changed since the last persist (e.g. the player is
// paused), and never persists a session still under the minimum.
func (t *Tracker) checkpoint() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return
	}
	now := t.now()

	// A session paused past the inactivity limit will never continue;
	// close it out as of its last activity.
	if !t.current.playing() && now.Sub(t.current.lastActivity) >= inactivityLimit {
		t.finalize(t.current.lastActivity)
		return
	}

	duration := t.current.duration(now)
	if duration < minSessionDuration {
		return
	}

	progress := savedProgress{
		durationSeconds: int(duration.Seconds()),
		seekCount:       t.current.seekCount,
		pauseCount:      t.current.pauseCount,
	}
	if progress == t.current.saved {
		return
	}
	t.persist(t.current, progress, nil)
}

// finalize ends the current session as of endedAt. Sessions under the
// minimum are not reported; if one was already checkpointed, its record
// is withdrawn.
func (t *Tracker) finalize(endedAt time.Time) {
	sess := t.current
	t.current = nil

	if sess.playing() {
		sess.accumulated += endedAt.Sub(sess.playingSince)
		sess.playingSince = time.Time{}
	}

	if sess.accumulated < minSessionDuration {
		if sess.recordID != "" {
			if err := t.store.DeleteBySession(sess.id); err != nil {
				t.logger.Error("failed to withdraw short session", "session_id", sess.id, "error", err)
			}
		}
		t.logger.Debug("session under minimum, discarded", "session_id", sess.id)
		return
	}

	t.persist(sess, savedProgress{
		durationSeconds: int(sess.accumulated.Seconds()),
		seekCount:       sess.seekCount,
		pauseCount:      sess.pauseCount,
		final:           true,
	}, &endedAt)
	t.logger.Debug("session ended", "session_id", sess.id, "duration_s", int(sess.accumulated.Seconds()))
}

// persist writes the session's progress through the store: an insert the
// first time, an in-place update after. A record the synchronizer has
// already uploaded and deleted is re-inserted under the same session ID;
// the server dedups on it.
func (t *Tracker) persist(sess *session, progress savedProgress, endedAt *time.Time) {
	ev := &models.ListeningEvent{
		ID:                   sess.recordID,
		SessionID:            sess.id,
		TrackID:              sess.trackID,
		StartedAt:            sess.startedAt,
		EndedAt:              endedAt,
		DurationSeconds:      progress.durationSeconds,
		TrackDurationSeconds: sess.trackDurationSeconds,
		SeekCount:            progress.seekCount,
		PauseCount:           progress.pauseCount,
		PlaybackContext:      sess.playbackContext,
	}

	var err error
	if sess.recordID == "" {
		err = t.store.Insert(ev)
	} else {
		err = t.store.Update(ev)
		if errors.Is(err, shared.ErrRecordNotFound) {
			ev.ID = ""
			err = t.store.Insert(ev)
		}
	}
	if err != nil {
		t.logger.Error("failed to persist session", "session_id", sess.id, "error", err)
		return
	}

	sess.recordID = ev.ID
	sess.saved = progress
	if t.waker != nil {
		t.waker.WakeUp()
	}
}
