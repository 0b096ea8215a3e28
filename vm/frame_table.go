package vm

import (
	"fmt"

	"github.com/sibexico/HexKernel/threads"
)

const noOwner = -1

// frame is one row of the inverted page table. owner is a process id kept
// for bookkeeping only; it never keeps an address space alive.
type frame struct {
	owner  int
	pinned bool
	wired  bool // eagerly loaded, never a victim
	entry  *TranslationEntry
}

// FrameInfo is a snapshot of a frame table row
type FrameInfo struct {
	PPN    int
	Owner  int
	VPN    int
	Pinned bool
	Wired  bool
	Free   bool
}

// Pin keeps frame ppn from being chosen for eviction. t must hold the memory
// lock and unpin before releasing it.
func (m *Manager) Pin(t *threads.Thread, ppn int) {
	m.mustHoldLock(t, "Pin")
	m.frames[ppn].pinned = true
}

// Unpin makes frame ppn evictable again and wakes threads waiting for a frame
func (m *Manager) Unpin(t *threads.Thread, ppn int) {
	m.mustHoldLock(t, "Unpin")
	m.frames[ppn].pinned = false
	m.frameAvailable.WakeAll(t)
}

// Frame returns a snapshot of frame ppn. t must hold the memory lock.
func (m *Manager) Frame(t *threads.Thread, ppn int) FrameInfo {
	m.mustHoldLock(t, "Frame")

	f := &m.frames[ppn]
	info := FrameInfo{
		PPN:    ppn,
		Owner:  f.owner,
		VPN:    -1,
		Pinned: f.pinned,
		Wired:  f.wired,
		Free:   f.entry == nil && !f.wired,
	}
	if f.entry != nil {
		info.VPN = f.entry.VPN
	}
	return info
}

// FreeFrames returns the number of unallocated frames. t must hold the memory lock.
func (m *Manager) FreeFrames(t *threads.Thread) int {
	m.mustHoldLock(t, "FreeFrames")
	return len(m.free)
}

// ClockHand returns the current clock hand position. t must hold the memory lock.
func (m *Manager) ClockHand(t *threads.Thread) int {
	m.mustHoldLock(t, "ClockHand")
	return m.hand
}

func (m *Manager) takeFreeFrame() (int, bool) {
	if len(m.free) == 0 {
		return 0, false
	}
	ppn := m.free[0]
	m.free = m.free[1:]
	return ppn, true
}

// assign records that ppn now holds entry for process pid
func (m *Manager) assign(ppn, pid int, entry *TranslationEntry, wired bool) {
	f := &m.frames[ppn]
	if f.entry != nil {
		panic(fmt.Sprintf("vm: frame %d assigned while holding page %d of process %d", ppn, f.entry.VPN, f.owner))
	}
	f.owner = pid
	f.entry = entry
	f.wired = wired

	entry.PPN = ppn
	entry.Valid = true
	entry.Used = true
}

// releaseFrame clears ppn and puts it back on the free list
func (m *Manager) releaseFrame(ppn int) {
	f := &m.frames[ppn]
	if f.pinned {
		panic(fmt.Sprintf("vm: frame %d released while pinned", ppn))
	}
	*f = frame{owner: noOwner}
	m.free = append(m.free, ppn)
}

// allPinned reports whether no frame could currently be evicted
func (m *Manager) allPinned() bool {
	for i := range m.frames {
		if !m.frames[i].pinned && !m.frames[i].wired {
			return false
		}
	}
	return true
}
