package vm

import (
	"bytes"
	"math"
	"sync"
	"testing"

	"github.com/sibexico/HexKernel/machine"
	"github.com/sibexico/HexKernel/threads"
)

func TestWriteSpanningTwoPages(t *testing.T) {
	m := newTestManager(t, 4, CompressionNone)
	th := threads.NewThread("test")
	as, err := NewDemandPaged(m, 1, stackOnly(), 2)
	if err != nil {
		t.Fatalf("Failed to create address space: %v", err)
	}

	data := []byte("0123456789")
	vaddr := testPageSize - 4
	if n := as.WriteVirtualMemory(th, vaddr, data); n != len(data) {
		t.Fatalf("Expected %d bytes written, got %d", len(data), n)
	}

	for vpn := 0; vpn < 2; vpn++ {
		e := as.Entry(th, vpn)
		if !e.Valid || !e.Dirty {
			t.Errorf("Page %d should be resident and dirty, got %+v", vpn, e)
		}
	}
	if m.Metrics().GetPageFaults() != 2 {
		t.Errorf("Expected 2 faults, got %d", m.Metrics().GetPageFaults())
	}

	got := make([]byte, len(data))
	if n := as.ReadVirtualMemory(th, vaddr, got); n != len(data) || !bytes.Equal(got, data) {
		t.Errorf("Read back %q (%d bytes), expected %q", got[:n], n, data)
	}
}

func TestTransferClippedAtEnd(t *testing.T) {
	m := newTestManager(t, 2, CompressionNone)
	th := threads.NewThread("test")
	as, err := NewDemandPaged(m, 1, stackOnly(), 0)
	if err != nil {
		t.Fatalf("Failed to create address space: %v", err)
	}

	// one argument page only
	if as.NumPages() != 1 {
		t.Fatalf("Expected 1 page, got %d", as.NumPages())
	}

	buf := make([]byte, 16)
	if n := as.ReadVirtualMemory(th, testPageSize-6, buf); n != 6 {
		t.Errorf("Expected read clipped to 6 bytes, got %d", n)
	}
	if n := as.ReadVirtualMemory(th, testPageSize, buf); n != 0 {
		t.Errorf("Expected out of range read to transfer 0, got %d", n)
	}
	if n := as.WriteVirtualMemory(th, -1, buf); n != 0 {
		t.Errorf("Expected negative address write to transfer 0, got %d", n)
	}
}

func TestReadOnlyWriteTransfersNothing(t *testing.T) {
	m := newTestManager(t, 4, CompressionNone)
	th := threads.NewThread("test")
	as, err := NewDemandPaged(m, 1, testImage(), 1)
	if err != nil {
		t.Fatalf("Failed to create address space: %v", err)
	}

	if n := as.WriteVirtualMemory(th, 8, []byte("patch")); n != 0 {
		t.Errorf("Expected write to code to transfer 0, got %d", n)
	}

	// the data section is writable
	if n := as.WriteVirtualMemory(th, testPageSize, []byte("HELLO")); n != 5 {
		t.Errorf("Expected write to data to transfer 5, got %d", n)
	}

	code := make([]byte, 4)
	as.ReadVirtualMemory(th, 0, code)
	if code[0] != 0xC0 || code[3] != 0xC3 {
		t.Errorf("Code page should be loaded from the image, got %x", code)
	}
}

func TestImagePagesReloadedAfterEviction(t *testing.T) {
	m := newTestManager(t, 1, CompressionLZ4)
	th := threads.NewThread("test")
	as, err := NewDemandPaged(m, 1, testImage(), 1)
	if err != nil {
		t.Fatalf("Failed to create address space: %v", err)
	}

	got, ok := ReadString(as, th, testPageSize, 32)
	if !ok || got != "hello, kernel" {
		t.Fatalf("ReadString = %q, %v", got, ok)
	}

	// touch code then stack, pushing the clean data page out twice
	as.ReadVirtualMemory(th, 0, make([]byte, 1))
	as.ReadVirtualMemory(th, 2*testPageSize, make([]byte, 1))

	got, ok = ReadString(as, th, testPageSize, 32)
	if !ok || got != "hello, kernel" {
		t.Errorf("ReadString after eviction = %q, %v", got, ok)
	}
	if m.Metrics().GetSwapOuts() != 0 {
		t.Errorf("Clean image pages should never be swapped, got %d", m.Metrics().GetSwapOuts())
	}
	if m.Metrics().GetImageLoads() != 3 {
		t.Errorf("Expected 3 image loads, got %d", m.Metrics().GetImageLoads())
	}
}

func TestDataSurvivesSwap(t *testing.T) {
	const pages = 6
	m := newTestManager(t, 2, CompressionSnappy)
	th := threads.NewThread("test")
	as, err := NewDemandPaged(m, 1, stackOnly(), pages-1)
	if err != nil {
		t.Fatalf("Failed to create address space: %v", err)
	}

	for vpn := 0; vpn < pages; vpn++ {
		page := bytes.Repeat([]byte{byte(vpn + 1)}, testPageSize)
		if n := as.WriteVirtualMemory(th, vpn*testPageSize, page); n != testPageSize {
			t.Fatalf("Write to page %d transferred %d", vpn, n)
		}
	}

	for vpn := 0; vpn < pages; vpn++ {
		got := make([]byte, testPageSize)
		as.ReadVirtualMemory(th, vpn*testPageSize, got)
		if !bytes.Equal(got, bytes.Repeat([]byte{byte(vpn + 1)}, testPageSize)) {
			t.Errorf("Page %d corrupted after swap", vpn)
		}
	}
	if m.Metrics().GetSwapIns() == 0 {
		t.Error("Expected pages to come back from swap")
	}
}

func TestHandlePageFault(t *testing.T) {
	m := newTestManager(t, 2, CompressionNone)
	th := threads.NewThread("test")
	as, err := NewDemandPaged(m, 1, stackOnly(), 1)
	if err != nil {
		t.Fatalf("Failed to create address space: %v", err)
	}

	if err := as.HandlePageFault(th, testPageSize+3); err != nil {
		t.Fatalf("HandlePageFault failed: %v", err)
	}
	if !as.Entry(th, 1).Valid {
		t.Error("Faulted page should be resident")
	}
	if m.Metrics().GetZeroFills() != 1 {
		t.Errorf("Expected 1 zero fill, got %d", m.Metrics().GetZeroFills())
	}

	err = as.HandlePageFault(th, 2*testPageSize)
	if !IsErrorCode(err, ErrCodeAddressOutOfRange) {
		t.Errorf("Expected out of range error, got %v", err)
	}
}

func TestReleaseReturnsFramesAndSlots(t *testing.T) {
	m := newTestManager(t, 2, CompressionNone)
	th := threads.NewThread("test")
	as, err := NewDemandPaged(m, 7, stackOnly(), 3)
	if err != nil {
		t.Fatalf("Failed to create address space: %v", err)
	}
	for vpn := 0; vpn < 4; vpn++ {
		as.WriteVirtualMemory(th, vpn*testPageSize, []byte{1})
	}

	pool := m.Swap().Pool()
	if pool.Available() == pool.Size() {
		t.Fatal("Expected some slots in use before release")
	}
	if _, ok := m.Lookup(7); !ok {
		t.Fatal("Address space should be registered")
	}

	as.Release(th)
	as.Release(th)

	if pool.Available() != pool.Size() {
		t.Errorf("Expected every slot free, %d of %d", pool.Available(), pool.Size())
	}
	m.Lock().Acquire(th)
	free := m.FreeFrames(th)
	m.Lock().Release(th)
	if free != 2 {
		t.Errorf("Expected 2 free frames, got %d", free)
	}
	if _, ok := m.Lookup(7); ok {
		t.Error("Released address space should be unregistered")
	}
	if n := as.ReadVirtualMemory(th, 0, make([]byte, 1)); n != 0 {
		t.Errorf("Released space should transfer 0, got %d", n)
	}
}

func TestDuplicatePID(t *testing.T) {
	m := newTestManager(t, 2, CompressionNone)
	if _, err := NewDemandPaged(m, 3, stackOnly(), 1); err != nil {
		t.Fatalf("Failed to create address space: %v", err)
	}
	if _, err := NewDemandPaged(m, 3, stackOnly(), 1); !IsErrorCode(err, ErrCodeInternal) {
		t.Errorf("Expected duplicate pid error, got %v", err)
	}
}

func TestFragmentedImageRejected(t *testing.T) {
	m := newTestManager(t, 2, CompressionNone)
	image := machine.NewStaticImage(
		&machine.StaticSection{SectionName: ".text", First: 0, Pages: 1},
		&machine.StaticSection{SectionName: ".data", First: 2, Pages: 1},
	)

	_, err := NewDemandPaged(m, 1, image, 1)
	if !IsErrorCode(err, ErrCodeFragmentedImage) {
		t.Errorf("Expected fragmented image error, got %v", err)
	}
	if m.NumSpaces() != 0 {
		t.Error("Rejected image should not register a space")
	}
}

func TestFlatLoaded(t *testing.T) {
	m := newTestManager(t, 4, CompressionNone)
	th := threads.NewThread("test")

	as, err := NewFlatLoaded(th, m, 1, testImage(), 1)
	if err != nil {
		t.Fatalf("Failed to create flat space: %v", err)
	}
	if as.NumPages() != 4 {
		t.Fatalf("Expected 4 pages, got %d", as.NumPages())
	}
	if m.Metrics().GetImageLoads() != 2 || m.Metrics().GetZeroFills() != 2 {
		t.Errorf("Expected 2 image loads and 2 zero fills, got %d and %d",
			m.Metrics().GetImageLoads(), m.Metrics().GetZeroFills())
	}

	if got, ok := ReadString(as, th, testPageSize, 20); !ok || got != "hello, kernel" {
		t.Errorf("ReadString = %q, %v", got, ok)
	}
	if n := as.WriteVirtualMemory(th, 0, []byte{1}); n != 0 {
		t.Errorf("Expected write to code to transfer 0, got %d", n)
	}
	if n := as.WriteVirtualMemory(th, 2*testPageSize-2, []byte("abcd")); n != 4 {
		t.Errorf("Expected write across data and stack to transfer 4, got %d", n)
	}
	if err := as.HandlePageFault(th, 4*testPageSize); !IsErrorCode(err, ErrCodeAddressOutOfRange) {
		t.Errorf("Expected out of range error, got %v", err)
	}

	m.Lock().Acquire(th)
	for ppn := 0; ppn < 4; ppn++ {
		if info := m.Frame(th, ppn); !info.Wired || info.Owner != 1 {
			t.Errorf("Frame %d should be wired to process 1, got %+v", ppn, info)
		}
	}
	m.Lock().Release(th)

	as.Release(th)
	m.Lock().Acquire(th)
	free := m.FreeFrames(th)
	m.Lock().Release(th)
	if free != 4 {
		t.Errorf("Expected 4 free frames after release, got %d", free)
	}
}

func TestFlatLoadedInsufficientMemory(t *testing.T) {
	m := newTestManager(t, 3, CompressionNone)
	th := threads.NewThread("test")

	_, err := NewFlatLoaded(th, m, 1, testImage(), 1)
	if !IsErrorCode(err, ErrCodeInsufficientMemory) {
		t.Errorf("Expected insufficient memory error, got %v", err)
	}
	if m.NumSpaces() != 0 {
		t.Error("Failed flat space should not stay registered")
	}
}

func TestFlatFramesAreNeverVictims(t *testing.T) {
	m := newTestManager(t, 5, CompressionNone)
	th := threads.NewThread("test")

	flat, err := NewFlatLoaded(th, m, 1, stackOnly(), 2)
	if err != nil {
		t.Fatalf("Failed to create flat space: %v", err)
	}
	flat.WriteVirtualMemory(th, 0, []byte("wired"))

	paged, err := NewDemandPaged(m, 2, stackOnly(), 5)
	if err != nil {
		t.Fatalf("Failed to create paged space: %v", err)
	}
	for vpn := 0; vpn < paged.NumPages(); vpn++ {
		paged.WriteVirtualMemory(th, vpn*testPageSize, []byte{byte(vpn)})
	}

	for vpn := 0; vpn < flat.NumPages(); vpn++ {
		if !flat.Entry(th, vpn).Valid {
			t.Errorf("Flat page %d was evicted", vpn)
		}
	}
	if got, _ := ReadString(flat, th, 0, 8); got != "wired" {
		t.Errorf("Flat data changed: %q", got)
	}
}

func TestReadStringWithoutTerminator(t *testing.T) {
	m := newTestManager(t, 2, CompressionNone)
	th := threads.NewThread("test")
	as, err := NewDemandPaged(m, 1, stackOnly(), 1)
	if err != nil {
		t.Fatalf("Failed to create address space: %v", err)
	}
	as.WriteVirtualMemory(th, 0, []byte("abcdef"))

	if _, ok := ReadString(as, th, 0, 4); ok {
		t.Error("Expected no terminator within 4 bytes")
	}
	if got, ok := ReadString(as, th, 0, 6); !ok || got != "abcdef" {
		t.Errorf("ReadString = %q, %v", got, ok)
	}
}

func TestReadStringUnboundedLength(t *testing.T) {
	m := newTestManager(t, 2, CompressionNone)
	th := threads.NewThread("test")
	as, err := NewDemandPaged(m, 1, stackOnly(), 1)
	if err != nil {
		t.Fatalf("Failed to create address space: %v", err)
	}
	as.WriteVirtualMemory(th, testPageSize-3, []byte("abcdef\x00"))

	if got, ok := ReadString(as, th, testPageSize-3, math.MaxInt); !ok || got != "abcdef" {
		t.Errorf("ReadString = %q, %v", got, ok)
	}

	// no terminator anywhere: the read stops at the end of the space
	size := as.NumPages() * testPageSize
	if n := as.WriteVirtualMemory(th, 0, bytes.Repeat([]byte{'x'}, size)); n != size {
		t.Fatalf("Fill transferred %d of %d", n, size)
	}
	if _, ok := ReadString(as, th, 0, math.MaxInt); ok {
		t.Error("Expected no terminator in a space full of 'x'")
	}
	if _, ok := ReadString(as, th, size+1, math.MaxInt); ok {
		t.Error("Expected no string past the end of the space")
	}
}

func TestConcurrentDemandPaging(t *testing.T) {
	m := newTestManager(t, 3, CompressionLZ4)
	const workers, pages = 4, 5

	var wg sync.WaitGroup
	errs := make(chan string, workers*pages*3)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		threads.Go("worker", func(th *threads.Thread) {
			defer wg.Done()
			as, err := NewDemandPaged(m, w+1, stackOnly(), pages-1)
			if err != nil {
				errs <- err.Error()
				return
			}
			defer as.Release(th)

			for round := 0; round < 3; round++ {
				for vpn := 0; vpn < pages; vpn++ {
					as.WriteVirtualMemory(th, vpn*testPageSize, []byte{byte(w), byte(vpn), byte(round)})
				}
				for vpn := 0; vpn < pages; vpn++ {
					got := make([]byte, 3)
					as.ReadVirtualMemory(th, vpn*testPageSize, got)
					if got[0] != byte(w) || got[1] != byte(vpn) || got[2] != byte(round) {
						errs <- "worker saw another page's data"
					}
				}
			}
		})
	}
	wg.Wait()
	close(errs)

	for e := range errs {
		t.Error(e)
	}
	if m.NumSpaces() != 0 {
		t.Errorf("Expected every space released, %d left", m.NumSpaces())
	}
	if m.Swap().Pool().Available() != m.Swap().Pool().Size() {
		t.Error("Expected every swap slot returned")
	}
}
