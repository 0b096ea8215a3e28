package vm

import (
	"github.com/sibexico/HexKernel/machine"
	"github.com/sibexico/HexKernel/threads"
)

// FlatLoaded is an address space loaded eagerly at creation. Its frames are
// wired: they are never evicted and it never faults.
type FlatLoaded struct {
	*pageTable
}

// NewFlatLoaded allocates and fills every page of the address space from the
// free frame list. It fails with ErrCodeInsufficientMemory rather than evict.
func NewFlatLoaded(t *threads.Thread, m *Manager, pid int, image machine.Image, stackPages int) (*FlatLoaded, error) {
	pt, err := newPageTable(m, pid, image, stackPages)
	if err != nil {
		return nil, err
	}

	as := &FlatLoaded{pageTable: pt}
	if err := m.register(pid, as); err != nil {
		return nil, err
	}

	m.lock.Acquire(t)
	defer m.lock.Release(t)

	if len(m.free) < len(pt.entries) {
		m.unregister(pid)
		return nil, ErrInsufficientMemory("NewFlatLoaded", len(pt.entries), len(m.free))
	}
	for vpn := range pt.entries {
		ppn, _ := m.takeFreeFrame()
		m.assign(ppn, pid, &pt.entries[vpn], true)
		pt.fill(t, vpn, ppn)
	}
	return as, nil
}

func (as *FlatLoaded) ReadVirtualMemory(t *threads.Thread, vaddr int, data []byte) int {
	return as.transfer(t, vaddr, data, false, as.fault)
}

func (as *FlatLoaded) WriteVirtualMemory(t *threads.Thread, vaddr int, data []byte) int {
	return as.transfer(t, vaddr, data, true, as.fault)
}

// HandlePageFault only validates vaddr; every page is already resident.
func (as *FlatLoaded) HandlePageFault(t *threads.Thread, vaddr int) error {
	m := as.m
	m.lock.Acquire(t)
	defer m.lock.Release(t)

	limit := len(as.entries) * m.pageSize
	if as.released || vaddr < 0 || vaddr >= limit {
		return ErrAddressOutOfRange("HandlePageFault", vaddr, limit)
	}
	return nil
}

func (as *FlatLoaded) fault(t *threads.Thread, vpn int) {
	panic("vm: page fault in a flat-loaded address space")
}

// Release returns every frame to the free list. Releasing twice is a no-op.
func (as *FlatLoaded) Release(t *threads.Thread) {
	m := as.m
	m.lock.Acquire(t)
	defer m.lock.Release(t)

	if as.released {
		return
	}
	as.released = true

	for vpn := range as.entries {
		entry := &as.entries[vpn]
		if entry.Valid {
			m.releaseFrame(entry.PPN)
			entry.Valid = false
		}
	}
	m.unregister(as.pid)
	m.frameAvailable.WakeAll(t)
}
