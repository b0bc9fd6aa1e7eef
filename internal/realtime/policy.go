package realtime

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/melos-app/melos/internal/shared"
)

// policyDebounce is how long condition changes settle before they are
// acted on, so an app hopping between foreground and background does not
// flap the connection.
const policyDebounce = 500 * time.Millisecond

// Policy decides when the realtime channel should be up: the app is in
// the foreground or playing audio, the network is reachable, and the
// user is authenticated. Condition changes are debounced before the
// connect or disconnect action fires.
type Policy struct {
	connect    func()
	disconnect func()
	debounce   time.Duration
	logger     *log.Logger

	mu            sync.Mutex
	foreground    bool
	playing       bool
	network       bool
	authenticated bool
	applied       bool
	timer         *time.Timer
}

// NewPolicy creates a connection policy that invokes connect and
// disconnect as conditions change. All conditions start false, so the
// initial decision is disconnected.
func NewPolicy(connect, disconnect func(), logger *log.Logger) *Policy {
	return &Policy{
		connect:    connect,
		disconnect: disconnect,
		debounce:   policyDebounce,
		logger:     shared.WithLogger(logger, "component", "connection-policy"),
	}
}

// SetForeground records whether the app is in the foreground.
func (p *Policy) SetForeground(v bool) { p.set(&p.foreground, v) }

// SetPlaying records whether audio playback is active. Playback keeps
// the channel up even in the background.
func (p *Policy) SetPlaying(v bool) { p.set(&p.playing, v) }

// SetNetworkAvailable records network reachability.
func (p *Policy) SetNetworkAvailable(v bool) { p.set(&p.network, v) }

// SetAuthenticated records whether the user holds valid credentials.
func (p *Policy) SetAuthenticated(v bool) { p.set(&p.authenticated, v) }

// ShouldConnect reports the current (undebounced) decision.
func (p *Policy) ShouldConnect() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.desiredLocked()
}

// Stop cancels any pending debounced evaluation.
func (p *Policy) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *Policy) set(field *bool, v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if *field == v {
		return
	}
	*field = v

	// Restart the settle window on every change; only the state at the
	// end of the window is acted on.
	if p.timer == nil {
		p.timer = time.AfterFunc(p.debounce, p.evaluate)
	} else {
		p.timer.Reset(p.debounce)
	}
}

func (p *Policy) evaluate() {
	p.mu.Lock()
	desired := p.desiredLocked()
	changed := desired != p.applied
	p.applied = desired
	p.timer = nil
	p.mu.Unlock()

	if !changed {
		return
	}
	if desired {
		p.logger.Info("conditions met, connecting")
		p.connect()
	} else {
		p.logger.Info("conditions no longer met, disconnecting")
		p.disconnect()
	}
}

func (p *Policy) desiredLocked() bool {
	return (p.foreground || p.playing) && p.network && p.authenticated
}
