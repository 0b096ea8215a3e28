package vm

import (
	"log/slog"

	"github.com/sibexico/HexKernel/threads"
)

// acquireFrame returns an unassigned frame for t, evicting one if none is
// free. While every frame is pinned it sleeps on frameAvailable, releasing
// the memory lock. t must hold the memory lock.
func (m *Manager) acquireFrame(t *threads.Thread) int {
	for {
		if ppn, ok := m.takeFreeFrame(); ok {
			return ppn
		}
		if !m.allPinned() {
			break
		}
		m.metrics.RecordFrameWait()
		m.frameAvailable.Sleep(t)
	}

	victim := m.nextVictim()
	m.evict(t, victim)
	return victim
}

// nextVictim runs the clock: every frame the hand passes loses its used bit,
// and the first frame that is neither pinned nor recently used is the victim.
// At least one frame must be evictable.
func (m *Manager) nextVictim() int {
	n := len(m.frames)
	for {
		f := &m.frames[m.hand]
		if !f.wired {
			if !f.pinned && !f.entry.Used {
				break
			}
			f.entry.Used = false
		}
		m.hand = (m.hand + 1) % n
	}

	victim := m.hand
	m.hand = (m.hand + 1) % n
	return victim
}

// evict detaches the page held by ppn, writing it to swap first if dirty
func (m *Manager) evict(t *threads.Thread, ppn int) {
	f := &m.frames[ppn]
	entry := f.entry
	owner := f.owner

	wrote := false
	if entry.Dirty {
		m.swapOut(t, ppn, entry)
		entry.Dirty = false
		wrote = true
	}
	entry.Valid = false

	f.owner = noOwner
	f.entry = nil
	m.metrics.RecordEviction(wrote)

	m.logger.Debug("page evicted",
		slog.Int("ppn", ppn),
		slog.Int("pid", owner),
		slog.Int("vpn", entry.VPN),
		slog.Int("slot", entry.Slot),
		slog.Bool("swapped", wrote),
	)
}
