package realtime

import (
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/melos-app/melos/internal/shared"
)

func newTestPolicy() (*Policy, *atomic.Int64, *atomic.Int64) {
	var connects, disconnects atomic.Int64
	p := NewPolicy(
		func() { connects.Add(1) },
		func() { disconnects.Add(1) },
		shared.NewLogger(io.Discard),
	)
	p.debounce = 10 * time.Millisecond
	return p, &connects, &disconnects
}

func settle() { time.Sleep(50 * time.Millisecond) }

func TestPolicyShouldConnect(t *testing.T) {
	tests := []struct {
		name                                      string
		foreground, playing, network, authed, want bool
	}{
		{"all conditions", true, false, true, true, true},
		{"background playback keeps channel", false, true, true, true, true},
		{"background idle disconnects", false, false, true, true, false},
		{"no network", true, true, false, true, false},
		{"logged out", true, true, true, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _, _ := newTestPolicy()
			defer p.Stop()
			p.SetForeground(tt.foreground)
			p.SetPlaying(tt.playing)
			p.SetNetworkAvailable(tt.network)
			p.SetAuthenticated(tt.authed)

			if got := p.ShouldConnect(); got != tt.want {
				t.Errorf("ShouldConnect() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPolicyConnectsAfterSettle(t *testing.T) {
	p, connects, disconnects := newTestPolicy()
	defer p.Stop()

	p.SetNetworkAvailable(true)
	p.SetAuthenticated(true)
	p.SetForeground(true)
	settle()

	if got := connects.Load(); got != 1 {
		t.Errorf("connects = %d, want 1", got)
	}
	if got := disconnects.Load(); got != 0 {
		t.Errorf("disconnects = %d, want 0", got)
	}
}

func TestPolicyFlapWithinWindowIsCoalesced(t *testing.T) {
	p, connects, disconnects := newTestPolicy()
	defer p.Stop()

	p.SetNetworkAvailable(true)
	p.SetAuthenticated(true)

	// Foreground flaps within the settle window; only the final state
	// counts, and it matches the applied state, so nothing fires.
	p.SetForeground(true)
	p.SetForeground(false)
	settle()

	if got := connects.Load(); got != 0 {
		t.Errorf("connects = %d, want 0", got)
	}
	if got := disconnects.Load(); got != 0 {
		t.Errorf("disconnects = %d, want 0", got)
	}
}

func TestPolicyDisconnectsOnConditionLoss(t *testing.T) {
	p, connects, disconnects := newTestPolicy()
	defer p.Stop()

	p.SetNetworkAvailable(true)
	p.SetAuthenticated(true)
	p.SetForeground(true)
	settle()

	p.SetNetworkAvailable(false)
	settle()

	if got := connects.Load(); got != 1 {
		t.Errorf("connects = %d, want 1", got)
	}
	if got := disconnects.Load(); got != 1 {
		t.Errorf("disconnects = %d, want 1", got)
	}
}

func TestPolicyNoDuplicateActions(t *testing.T) {
	p, connects, _ := newTestPolicy()
	defer p.Stop()

	p.SetNetworkAvailable(true)
	p.SetAuthenticated(true)
	p.SetForeground(true)
	settle()

	// Playing starting while already connected changes nothing.
	p.SetPlaying(true)
	settle()

	if got := connects.Load(); got != 1 {
		t.Errorf("connects = %d, want exactly 1", got)
	}
}
