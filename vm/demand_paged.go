package vm

import (
	"log/slog"
	"time"

	"github.com/sibexico/HexKernel/machine"
	"github.com/sibexico/HexKernel/threads"
)

// DemandPaged is an address space whose pages are brought in on first touch
// and may be evicted to swap at any time the memory lock is free.
type DemandPaged struct {
	*pageTable
}

// NewDemandPaged registers a demand-paged address space for pid. No frame is
// allocated until a page is touched.
func NewDemandPaged(m *Manager, pid int, image machine.Image, stackPages int) (*DemandPaged, error) {
	pt, err := newPageTable(m, pid, image, stackPages)
	if err != nil {
		return nil, err
	}

	as := &DemandPaged{pageTable: pt}
	if err := m.register(pid, as); err != nil {
		return nil, err
	}
	return as, nil
}

func (as *DemandPaged) ReadVirtualMemory(t *threads.Thread, vaddr int, data []byte) int {
	return as.transfer(t, vaddr, data, false, as.fault)
}

func (as *DemandPaged) WriteVirtualMemory(t *threads.Thread, vaddr int, data []byte) int {
	return as.transfer(t, vaddr, data, true, as.fault)
}

// HandlePageFault makes the page holding vaddr resident
func (as *DemandPaged) HandlePageFault(t *threads.Thread, vaddr int) error {
	m := as.m
	m.lock.Acquire(t)
	defer m.lock.Release(t)

	limit := len(as.entries) * m.pageSize
	if as.released || vaddr < 0 || vaddr >= limit {
		return ErrAddressOutOfRange("HandlePageFault", vaddr, limit)
	}

	vpn := vaddr / m.pageSize
	if !as.entries[vpn].Valid {
		as.fault(t, vpn)
	}
	return nil
}

// fault brings vpn into a frame. t must hold the memory lock.
func (as *DemandPaged) fault(t *threads.Thread, vpn int) {
	m := as.m
	start := time.Now()

	ppn := m.acquireFrame(t)

	// acquireFrame may have slept, letting another thread fault the page in
	entry := &as.entries[vpn]
	if entry.Valid || as.released {
		m.releaseFrame(ppn)
		return
	}

	m.assign(ppn, as.pid, entry, false)
	if entry.Slot != NoSlot {
		m.swapIn(t, ppn, entry.Slot)
		entry.Dirty = false
	} else {
		as.fill(t, vpn, ppn)
	}

	m.metrics.RecordPageFault(time.Since(start))
	m.logger.Debug("page fault",
		slog.Int("pid", as.pid),
		slog.Int("vpn", vpn),
		slog.Int("ppn", ppn),
		slog.Int("slot", entry.Slot),
	)
}

// Release frees every resident frame and swap slot and unregisters the
// address space. Releasing twice is a no-op.
func (as *DemandPaged) Release(t *threads.Thread) {
	m := as.m
	m.lock.Acquire(t)
	defer m.lock.Release(t)

	if as.released {
		return
	}
	as.released = true

	pool := m.swap.Pool()
	for vpn := range as.entries {
		entry := &as.entries[vpn]
		if entry.Valid {
			m.releaseFrame(entry.PPN)
			entry.Valid = false
		}
		if entry.Slot != NoSlot {
			pool.Free(entry.Slot)
			entry.Slot = NoSlot
		}
	}
	m.unregister(as.pid)
	m.frameAvailable.WakeAll(t)
}
