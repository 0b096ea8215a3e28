package vm

import (
	"bytes"

	"github.com/sibexico/HexKernel/machine"
	"github.com/sibexico/HexKernel/threads"
)

// AddressSpace is a process's view of virtual memory. Transfers never fail:
// they return the number of bytes moved, which is short when the range leaves
// the address space or reaches a read-only page.
//
// None of the methods may be called while holding the memory lock.
type AddressSpace interface {
	PID() int
	NumPages() int
	ReadVirtualMemory(t *threads.Thread, vaddr int, data []byte) int
	WriteVirtualMemory(t *threads.Thread, vaddr int, data []byte) int
	HandlePageFault(t *threads.Thread, vaddr int) error
	Release(t *threads.Thread)
}

// pageTable is the per-process translation table shared by both address
// space kinds. Entries are owned by the process; the frame table points into
// them, so the slice is never reallocated.
type pageTable struct {
	m         *Manager
	pid       int
	image     machine.Image
	entries   []TranslationEntry
	sectionOf []int // image section index per vpn, -1 for stack and arguments
	released  bool
}

// newPageTable lays out image sections contiguously from page 0, followed by
// stackPages stack pages and a single argument page.
func newPageTable(m *Manager, pid int, image machine.Image, stackPages int) (*pageTable, error) {
	imagePages := 0
	for s := 0; s < image.NumSections(); s++ {
		section := image.Section(s)
		if section.FirstVPN() != imagePages {
			return nil, ErrFragmentedImage("newPageTable", section.Name(), section.FirstVPN(), imagePages)
		}
		imagePages += section.Length()
	}
	if stackPages < 0 {
		return nil, ErrInvalidConfig("newPageTable", "stack pages must not be negative")
	}

	numPages := imagePages + stackPages + 1
	pt := &pageTable{
		m:         m,
		pid:       pid,
		image:     image,
		entries:   make([]TranslationEntry, numPages),
		sectionOf: make([]int, numPages),
	}
	for vpn := range pt.entries {
		pt.entries[vpn] = newEntry(vpn, false)
		pt.sectionOf[vpn] = -1
	}
	for s := 0; s < image.NumSections(); s++ {
		section := image.Section(s)
		for i := 0; i < section.Length(); i++ {
			vpn := section.FirstVPN() + i
			pt.entries[vpn].ReadOnly = section.ReadOnly()
			pt.sectionOf[vpn] = s
		}
	}
	return pt, nil
}

func (pt *pageTable) PID() int {
	return pt.pid
}

func (pt *pageTable) NumPages() int {
	return len(pt.entries)
}

// Entry returns a copy of the translation entry for vpn
func (pt *pageTable) Entry(t *threads.Thread, vpn int) TranslationEntry {
	pt.m.lock.Acquire(t)
	defer pt.m.lock.Release(t)
	return pt.entries[vpn]
}

// fill loads the initial contents of vpn into ppn: from the image for image
// pages, zeros for everything else.
func (pt *pageTable) fill(t *threads.Thread, vpn, ppn int) {
	frame := pt.m.memory.Frame(ppn)

	pt.m.Pin(t, ppn)
	if s := pt.sectionOf[vpn]; s >= 0 {
		section := pt.image.Section(s)
		section.LoadPage(vpn-section.FirstVPN(), frame)
		pt.m.metrics.RecordImageLoad()
	} else {
		clear(frame)
		pt.m.metrics.RecordZeroFill()
	}
	pt.m.Unpin(t, ppn)
}

// transfer walks the pages covered by [vaddr, vaddr+len(data)) one at a time,
// faulting each in as needed. It stops at the end of the address space or at
// the first read-only page of a write.
func (pt *pageTable) transfer(t *threads.Thread, vaddr int, data []byte, write bool, fault func(*threads.Thread, int)) int {
	m := pt.m
	m.lock.Acquire(t)
	defer m.lock.Release(t)

	if pt.released {
		return 0
	}

	limit := len(pt.entries) * m.pageSize
	done := 0
	for done < len(data) {
		addr := vaddr + done
		if addr < 0 || addr >= limit {
			break
		}

		vpn, offset := addr/m.pageSize, addr%m.pageSize
		entry := &pt.entries[vpn]
		if write && entry.ReadOnly {
			break
		}
		if !entry.Valid {
			fault(t, vpn)
			if !entry.Valid {
				break
			}
		}

		ppn := entry.PPN
		m.Pin(t, ppn)
		entry.Used = true
		frame := m.memory.Frame(ppn)[offset:]
		var n int
		if write {
			entry.Dirty = true
			n = copy(frame, data[done:])
		} else {
			n = copy(data[done:], frame)
		}
		m.Unpin(t, ppn)

		done += n
	}
	return done
}

// readStringChunk is how many bytes ReadString pulls per transfer
const readStringChunk = 256

// ReadString reads a NUL-terminated string of at most maxLength bytes
// starting at vaddr. It reports false if no terminator was found.
func ReadString(as AddressSpace, t *threads.Thread, vaddr, maxLength int) (string, bool) {
	if maxLength < 0 {
		return "", false
	}

	var str []byte
	chunk := make([]byte, readStringChunk)
	for {
		want := len(chunk)
		if left := maxLength - len(str); left < want {
			want = left + 1 // room for the terminator
		}
		n := as.ReadVirtualMemory(t, vaddr+len(str), chunk[:want])
		if i := bytes.IndexByte(chunk[:n], 0); i >= 0 {
			return string(append(str, chunk[:i]...)), true
		}
		str = append(str, chunk[:n]...)
		if n < want || len(str) > maxLength {
			return "", false
		}
	}
}
