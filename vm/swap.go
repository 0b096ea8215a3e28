package vm

import (
	"errors"
	"log/slog"
	"time"

	"github.com/sibexico/HexKernel/threads"
)

// Swap moves frame contents to and from fixed-size slots in a backing store.
// It is guarded by the memory lock.
type Swap struct {
	store       BackingStore
	pool        *SlotPool
	compression Compression
	pageSize    int
	stride      int64
	buf         []byte
	metrics     *Metrics
	logger      *slog.Logger
}

// NewSwap creates a swap manager over store
func NewSwap(store BackingStore, pool *SlotPool, compression Compression, pageSize int, metrics *Metrics, logger *slog.Logger) *Swap {
	if metrics == nil {
		metrics = NewMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}

	stride := slotStride(compression, pageSize)
	return &Swap{
		store:       store,
		pool:        pool,
		compression: compression,
		pageSize:    pageSize,
		stride:      int64(stride),
		buf:         make([]byte, stride),
		metrics:     metrics,
		logger:      logger,
	}
}

// Pool returns the slot pool
func (s *Swap) Pool() *SlotPool {
	return s.pool
}

// Compression returns the configured slot encoding
func (s *Swap) Compression() Compression {
	return s.compression
}

// WriteSlot stores frame in slot. Any short write is reported as
// ErrCodeSwapShortIO.
func (s *Swap) WriteSlot(slot int, frame []byte) error {
	start := time.Now()
	off := int64(slot) * s.stride

	data := frame
	stored := CompressionNone
	if s.compression != CompressionNone {
		n, enc, err := encodeSlot(s.compression, frame, s.buf)
		if err != nil {
			return ErrSwapIO("WriteSlot", err)
		}
		data, stored = s.buf[:n], enc
	}

	n, err := s.store.WriteAt(data, off)
	if n != len(data) {
		e := ErrSwapShortIO("WriteSlot", slot, n, len(data))
		e.Err = err
		return e
	}
	if err != nil {
		return ErrSwapIO("WriteSlot", err)
	}

	s.metrics.RecordSwapOut(time.Since(start), len(data), stored)
	return nil
}

// ReadSlot loads slot into frame. A short read is ErrCodeSwapShortIO and a
// slot that fails to decode is ErrCodeSwapCorrupted.
func (s *Swap) ReadSlot(slot int, frame []byte) error {
	start := time.Now()
	off := int64(slot) * s.stride

	if s.compression == CompressionNone {
		if n, err := s.store.ReadAt(frame, off); n != len(frame) {
			e := ErrSwapShortIO("ReadSlot", slot, n, len(frame))
			e.Err = err
			return e
		}
		s.metrics.RecordSwapIn(time.Since(start))
		return nil
	}

	hdr := s.buf[:slotHeaderSize]
	if n, err := s.store.ReadAt(hdr, off); n != len(hdr) {
		e := ErrSwapShortIO("ReadSlot", slot, n, len(hdr))
		e.Err = err
		return e
	}
	stored, size, checksum, err := decodeSlotHeader(hdr, s.pageSize)
	if err != nil {
		return ErrSwapCorrupted("ReadSlot", slot, err)
	}

	payload := s.buf[slotHeaderSize : slotHeaderSize+size]
	if n, err := s.store.ReadAt(payload, off+slotHeaderSize); n != len(payload) {
		e := ErrSwapShortIO("ReadSlot", slot, slotHeaderSize+n, slotHeaderSize+size)
		e.Err = err
		return e
	}
	if err := decodeSlotPayload(stored, payload, checksum, frame); err != nil {
		return ErrSwapCorrupted("ReadSlot", slot, err)
	}

	s.metrics.RecordSwapIn(time.Since(start))
	return nil
}

// Close closes the backing store and removes it
func (s *Swap) Close() error {
	return errors.Join(s.store.Close(), s.store.Remove())
}

// swapOut writes frame ppn to the slot of entry, claiming one if the page has
// never been swapped. The frame stays pinned for the write. Failure is fatal.
func (m *Manager) swapOut(t *threads.Thread, ppn int, entry *TranslationEntry) {
	m.Pin(t, ppn)
	if entry.Slot == NoSlot {
		entry.Slot = m.swap.pool.Allocate()
	}
	if err := m.swap.WriteSlot(entry.Slot, m.memory.Frame(ppn)); err != nil {
		panic(err)
	}
	m.Unpin(t, ppn)
}

// swapIn fills frame ppn from slot with the frame pinned. Failure is fatal.
func (m *Manager) swapIn(t *threads.Thread, ppn, slot int) {
	m.Pin(t, ppn)
	if err := m.swap.ReadSlot(slot, m.memory.Frame(ppn)); err != nil {
		panic(err)
	}
	m.Unpin(t, ppn)
}
