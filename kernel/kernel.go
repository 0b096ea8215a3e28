package kernel

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/sibexico/HexKernel/machine"
	"github.com/sibexico/HexKernel/threads"
	"github.com/sibexico/HexKernel/vm"
)

// Kernel ties the machine, the scheduler clock and the memory manager
// together. It is created by Boot and torn down by Shutdown.
type Kernel struct {
	config  *Config
	logger  *slog.Logger
	metrics *vm.Metrics

	timer  *machine.Timer
	alarm  *threads.Alarm
	memory *vm.Manager

	processes *xsync.MapOf[int, *Process]
	nextPID   atomic.Int64

	// exited is signalled whenever a process finishes
	procLock *threads.Lock
	exited   *threads.Condition

	boot   *threads.Thread
	closed atomic.Bool
}

// NewLogger creates a text logger writing to w at the configured level
func NewLogger(w io.Writer, config *Config) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: config.SlogLevel()}))
}

// Boot validates config, opens swap and builds the memory manager
func Boot(config *Config, logger *slog.Logger) (*Kernel, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	compression, err := vm.ParseCompression(config.SwapCompression)
	if err != nil {
		return nil, err
	}
	store, err := vm.OpenBackingStore(config.SwapBackend, config.SwapPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open swap: %w", err)
	}

	metrics := vm.NewMetrics()
	memory, err := vm.NewManager(vm.Options{
		PhysicalPages: config.PhysicalPages,
		PageSize:      config.PageSize,
		SwapSlots:     config.SwapInitialSlots,
		Compression:   compression,
		Store:         store,
		Metrics:       metrics,
		Logger:        logger.With(slog.String("component", "vm")),
	})
	if err != nil {
		store.Close()
		store.Remove()
		return nil, err
	}

	timer := machine.NewTimer()
	alarm := threads.NewAlarm(timer, logger.With(slog.String("component", "alarm")))
	procLock := threads.NewLock()

	k := &Kernel{
		config:    config.Clone(),
		logger:    logger,
		metrics:   metrics,
		timer:     timer,
		alarm:     alarm,
		memory:    memory,
		processes: xsync.NewMapOf[int, *Process](),
		procLock:  procLock,
		exited:    threads.NewCondition(procLock, alarm),
		boot:      threads.NewThread("boot"),
	}

	logger.Info("kernel booted",
		slog.Int("physical_pages", config.PhysicalPages),
		slog.Int("page_size", config.PageSize),
		slog.String("address_space", config.AddressSpace),
		slog.String("swap_backend", config.SwapBackend),
		slog.String("swap_compression", compression.String()),
	)
	return k, nil
}

// Config returns a copy of the kernel configuration
func (k *Kernel) Config() *Config {
	return k.config.Clone()
}

// Timer returns the machine timer
func (k *Kernel) Timer() *machine.Timer {
	return k.timer
}

// Alarm returns the scheduler clock
func (k *Kernel) Alarm() *threads.Alarm {
	return k.alarm
}

// Memory returns the memory manager
func (k *Kernel) Memory() *vm.Manager {
	return k.memory
}

// Metrics returns the paging metrics
func (k *Kernel) Metrics() *vm.Metrics {
	return k.metrics
}

// Process returns the live or unreaped process pid
func (k *Kernel) Process(pid int) (*Process, bool) {
	return k.processes.Load(pid)
}

// NumProcesses returns the number of processes not yet reaped by Wait
func (k *Kernel) NumProcesses() int {
	return k.processes.Size()
}

// Run drives the timer in real time until ctx is done
func (k *Kernel) Run(ctx context.Context) {
	k.logger.Debug("timer running",
		slog.Duration("tick", k.config.TickInterval()),
		slog.Uint64("period", k.config.TimerPeriodTicks),
	)
	k.timer.Run(ctx, k.config.TickInterval(), k.config.TimerPeriodTicks)
}

// Shutdown releases every remaining address space and removes swap.
// Processes still running at shutdown must not touch memory again.
func (k *Kernel) Shutdown() error {
	if !k.closed.CompareAndSwap(false, true) {
		return nil
	}

	if k.config.EnableMetrics {
		k.metrics.LogMetrics(k.logger)
	}
	if err := k.memory.Close(k.boot); err != nil {
		return fmt.Errorf("failed to remove swap: %w", err)
	}

	k.logger.Info("kernel halted")
	return nil
}
