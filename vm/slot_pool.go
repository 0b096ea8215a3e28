package vm

import (
	"fmt"
	"log/slog"

	"github.com/Workiva/go-datastructures/bitarray"
)

// DefaultSwapSlots is the initial number of swap slots
const DefaultSwapSlots = 30

// SlotPool hands out swap slot numbers. Free slots are reused in FIFO order;
// when none is left the pool doubles. It never shrinks.
//
// A slot is free iff its bit in claimed is clear. The pool is not safe for
// concurrent use; the memory manager lock guards it.
type SlotPool struct {
	free    []int
	claimed bitarray.BitArray
	size    int
	logger  *slog.Logger
}

// NewSlotPool creates a pool of initial free slots
func NewSlotPool(initial int, logger *slog.Logger) *SlotPool {
	if initial <= 0 {
		initial = DefaultSwapSlots
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &SlotPool{
		free:    make([]int, 0, initial),
		claimed: bitarray.NewBitArray(uint64(initial)),
		size:    initial,
		logger:  logger,
	}
	for i := 0; i < initial; i++ {
		p.free = append(p.free, i)
	}
	return p
}

// Allocate claims a free slot, growing the pool if it is exhausted
func (p *SlotPool) Allocate() int {
	if len(p.free) == 0 {
		p.grow()
	}

	slot := p.free[0]
	p.free = p.free[1:]
	if err := p.claimed.SetBit(uint64(slot)); err != nil {
		panic(fmt.Sprintf("vm: claim swap slot %d: %v", slot, err))
	}
	return slot
}

// Free returns slot to the pool. Freeing an unclaimed slot is a kernel bug.
func (p *SlotPool) Free(slot int) {
	if !p.IsClaimed(slot) {
		panic(fmt.Sprintf("vm: swap slot %d freed while not claimed", slot))
	}
	if err := p.claimed.ClearBit(uint64(slot)); err != nil {
		panic(fmt.Sprintf("vm: release swap slot %d: %v", slot, err))
	}
	p.free = append(p.free, slot)
}

// IsClaimed reports whether slot is currently owned by some page
func (p *SlotPool) IsClaimed(slot int) bool {
	if slot < 0 || slot >= p.size {
		return false
	}
	set, err := p.claimed.GetBit(uint64(slot))
	return err == nil && set
}

// Size returns the total number of slots, free or claimed
func (p *SlotPool) Size() int {
	return p.size
}

// Available returns the number of free slots
func (p *SlotPool) Available() int {
	return len(p.free)
}

// grow doubles the pool and carries claimed bits over to a larger bitmap
func (p *SlotPool) grow() {
	oldSize := p.size
	newSize := oldSize * 2

	claimed := bitarray.NewBitArray(uint64(newSize))
	for _, slot := range p.claimed.ToNums() {
		if err := claimed.SetBit(slot); err != nil {
			panic(fmt.Sprintf("vm: carry swap slot %d: %v", slot, err))
		}
	}
	p.claimed = claimed

	for i := oldSize; i < newSize; i++ {
		p.free = append(p.free, i)
	}
	p.size = newSize

	p.logger.Debug("swap pool doubled",
		slog.Int("from", oldSize),
		slog.Int("to", newSize),
	)
}
