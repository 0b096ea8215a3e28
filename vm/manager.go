package vm

import (
	"fmt"
	"log/slog"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/sibexico/HexKernel/machine"
	"github.com/sibexico/HexKernel/threads"
)

// Options configures a Manager
type Options struct {
	PhysicalPages int
	PageSize      int
	SwapSlots     int         // initial swap slots, DefaultSwapSlots if zero
	Compression   Compression // encoding of swapped pages
	Store         BackingStore
	Metrics       *Metrics
	Logger        *slog.Logger
}

// Manager is the memory manager context created at boot. It owns physical
// memory, the frame table, the clock hand and swap. All of that state is
// guarded by the whole-memory lock; the address space registry is not.
type Manager struct {
	memory   *machine.Memory
	pageSize int

	// guarded by lock
	frames []frame
	free   []int
	hand   int

	lock           *threads.Lock
	frameAvailable *threads.Condition

	swap    *Swap
	spaces  *xsync.MapOf[int, AddressSpace]
	metrics *Metrics
	logger  *slog.Logger
}

// NewManager creates a memory manager with every frame free
func NewManager(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, ErrInvalidConfig("NewManager", "a swap backing store is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}

	memory, err := machine.NewMemory(opts.PhysicalPages, opts.PageSize)
	if err != nil {
		return nil, NewVMError(ErrCodeInvalidConfig, "NewManager", "invalid physical memory", err)
	}

	lock := threads.NewLock()
	m := &Manager{
		memory:         memory,
		pageSize:       opts.PageSize,
		frames:         make([]frame, opts.PhysicalPages),
		free:           make([]int, 0, opts.PhysicalPages),
		lock:           lock,
		frameAvailable: threads.NewCondition(lock, nil),
		spaces:         xsync.NewMapOf[int, AddressSpace](),
		metrics:        opts.Metrics,
		logger:         opts.Logger,
	}
	m.swap = NewSwap(opts.Store, NewSlotPool(opts.SwapSlots, opts.Logger), opts.Compression, opts.PageSize, opts.Metrics, opts.Logger)

	for ppn := range m.frames {
		m.frames[ppn].owner = noOwner
		m.free = append(m.free, ppn)
	}
	return m, nil
}

// PageSize returns the page and frame size in bytes
func (m *Manager) PageSize() int {
	return m.pageSize
}

// Memory returns physical memory
func (m *Manager) Memory() *machine.Memory {
	return m.memory
}

// Lock returns the whole-memory lock
func (m *Manager) Lock() *threads.Lock {
	return m.lock
}

// Metrics returns the metrics tracker
func (m *Manager) Metrics() *Metrics {
	return m.metrics
}

// Swap returns the swap manager
func (m *Manager) Swap() *Swap {
	return m.swap
}

// Lookup returns the live address space registered for pid
func (m *Manager) Lookup(pid int) (AddressSpace, bool) {
	return m.spaces.Load(pid)
}

// NumSpaces returns the number of live address spaces
func (m *Manager) NumSpaces() int {
	return m.spaces.Size()
}

// Close tears down every remaining address space on behalf of t, then closes
// and removes the swap store.
func (m *Manager) Close(t *threads.Thread) error {
	var live []AddressSpace
	m.spaces.Range(func(_ int, as AddressSpace) bool {
		live = append(live, as)
		return true
	})
	for _, as := range live {
		as.Release(t)
	}

	return m.swap.Close()
}

func (m *Manager) register(pid int, as AddressSpace) error {
	if _, loaded := m.spaces.LoadOrStore(pid, as); loaded {
		return NewVMError(ErrCodeInternal, "register", fmt.Sprintf("process %d already has an address space", pid), nil)
	}
	return nil
}

func (m *Manager) unregister(pid int) {
	m.spaces.Delete(pid)
}

func (m *Manager) mustHoldLock(t *threads.Thread, op string) {
	if !m.lock.IsHeldBy(t) {
		panic(fmt.Sprintf("vm: %s called by %s without the memory lock", op, t))
	}
}
