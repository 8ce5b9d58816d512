package session

import "sync/atomic"

// micGate is the controller-owned microphone gate. The controller is its only
// writer; the capture pipeline reads it through the capture.Gate interface.
// Each Close invalidates any reopen scheduled for an earlier generation, so a
// stale cooldown timer can never reopen the gate under a newer turn.
type micGate struct {
	open atomic.Bool
	gen  atomic.Uint64
}

func newMicGate() *micGate {
	g := &micGate{}
	g.open.Store(true)
	return g
}

// Open reports whether microphone audio may be forwarded.
func (g *micGate) Open() bool { return g.open.Load() }

// Close shuts the gate and returns the generation a matching reopen must carry.
func (g *micGate) Close() uint64 {
	g.open.Store(false)
	return g.gen.Add(1)
}

// Reopen opens the gate if no newer Close has happened since gen was issued.
func (g *micGate) Reopen(gen uint64) bool {
	if g.gen.Load() != gen {
		return false
	}
	g.open.Store(true)
	return true
}
