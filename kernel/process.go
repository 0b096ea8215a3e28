package kernel

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/sibexico/HexKernel/machine"
	"github.com/sibexico/HexKernel/threads"
	"github.com/sibexico/HexKernel/vm"
)

// argPointerSize is the width of one argv pointer in the argument page
const argPointerSize = 4

// Program is the body of a user process. It runs on the process thread and
// returns the exit status.
type Program func(p *Process, t *threads.Thread) int

// Process is a user program with its own address space
type Process struct {
	pid    int
	kernel *Kernel
	space  vm.AddressSpace
	argc   int
	argv   int // virtual address of the argv pointer array
	result *threads.Future[int]

	// guarded by kernel.procLock
	exited bool
	status int
}

// PID returns the process id
func (p *Process) PID() int {
	return p.pid
}

// Space returns the address space of the process
func (p *Process) Space() vm.AddressSpace {
	return p.space
}

// Argc returns the number of arguments
func (p *Process) Argc() int {
	return p.argc
}

// Argv returns the virtual address of the argv pointer array
func (p *Process) Argv() int {
	return p.argv
}

// Args reads the argument strings back out of the argument page
func (p *Process) Args(t *threads.Thread) ([]string, error) {
	args := make([]string, 0, p.argc)
	ptr := make([]byte, argPointerSize)
	limit := p.kernel.config.PageSize

	for i := 0; i < p.argc; i++ {
		if n := p.space.ReadVirtualMemory(t, p.argv+i*argPointerSize, ptr); n != len(ptr) {
			return nil, fmt.Errorf("argv[%d]: pointer unreadable", i)
		}
		arg, ok := vm.ReadString(p.space, t, int(binary.LittleEndian.Uint32(ptr)), limit)
		if !ok {
			return nil, fmt.Errorf("argv[%d]: string not terminated", i)
		}
		args = append(args, arg)
	}
	return args, nil
}

// Sleep suspends the process thread for at least ticks timer ticks
func (p *Process) Sleep(t *threads.Thread, ticks uint64) {
	p.kernel.alarm.WaitUntil(t, ticks)
}

// Spawn creates an address space for image, copies args into its argument
// page and starts prog on a new thread. t is the calling thread.
func (k *Kernel) Spawn(t *threads.Thread, image machine.Image, args []string, prog Program) (*Process, error) {
	if k.closed.Load() {
		return nil, fmt.Errorf("kernel is shut down")
	}

	pid := int(k.nextPID.Add(1))

	var space vm.AddressSpace
	var err error
	switch k.config.AddressSpace {
	case "flat":
		space, err = vm.NewFlatLoaded(t, k.memory, pid, image, k.config.StackPages)
	default:
		space, err = vm.NewDemandPaged(k.memory, pid, image, k.config.StackPages)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create address space for process %d: %w", pid, err)
	}

	p := &Process{
		pid:    pid,
		kernel: k,
		space:  space,
		argc:   len(args),
		argv:   (space.NumPages() - 1) * k.config.PageSize,
	}
	if err := p.loadArgs(t, args); err != nil {
		space.Release(t)
		return nil, err
	}

	p.result = threads.NewFuture(fmt.Sprintf("pid%d", pid), func(th *threads.Thread) int {
		status := prog(p, th)
		k.exit(th, p, status)
		return status
	})
	k.processes.Store(pid, p)

	k.logger.Debug("process spawned",
		slog.Int("pid", pid),
		slog.Int("pages", space.NumPages()),
		slog.Int("argc", len(args)),
	)
	return p, nil
}

// loadArgs writes the argv pointer array followed by the NUL-terminated
// argument strings into the last page of the address space.
func (p *Process) loadArgs(t *threads.Thread, args []string) error {
	size := len(args) * argPointerSize
	for _, arg := range args {
		size += len(arg) + 1
	}
	if size > p.kernel.config.PageSize {
		return fmt.Errorf("arguments need %d bytes, argument page holds %d", size, p.kernel.config.PageSize)
	}

	entry := p.argv
	str := p.argv + len(args)*argPointerSize
	ptr := make([]byte, argPointerSize)
	for _, arg := range args {
		binary.LittleEndian.PutUint32(ptr, uint32(str))
		if p.space.WriteVirtualMemory(t, entry, ptr) != argPointerSize {
			return fmt.Errorf("failed to write argv pointer at %#x", entry)
		}
		entry += argPointerSize

		data := append([]byte(arg), 0)
		if p.space.WriteVirtualMemory(t, str, data) != len(data) {
			return fmt.Errorf("failed to write argument at %#x", str)
		}
		str += len(data)
	}
	return nil
}

// exit releases the address space and publishes the exit status
func (k *Kernel) exit(t *threads.Thread, p *Process, status int) {
	p.space.Release(t)

	k.procLock.Acquire(t)
	p.exited = true
	p.status = status
	k.exited.WakeAll(t)
	k.procLock.Release(t)

	k.logger.Debug("process exited",
		slog.Int("pid", p.pid),
		slog.Int("status", status),
	)
}

// Wait blocks t until process pid exits, reaps it and returns its status
func (k *Kernel) Wait(t *threads.Thread, pid int) (int, error) {
	p, ok := k.processes.Load(pid)
	if !ok {
		return 0, fmt.Errorf("no such process: %d", pid)
	}

	status := p.result.Get(t)
	k.processes.Delete(pid)
	return status, nil
}

// WaitFor is Wait bounded by timeout ticks. It reports false, leaving the
// process unreaped, if the process is still running when the time is up.
func (k *Kernel) WaitFor(t *threads.Thread, pid int, timeout uint64) (int, bool, error) {
	p, ok := k.processes.Load(pid)
	if !ok {
		return 0, false, fmt.Errorf("no such process: %d", pid)
	}

	k.procLock.Acquire(t)
	deadline := k.alarm.Deadline(timeout)
	for !p.exited {
		now := k.alarm.Now()
		if now >= deadline {
			break
		}
		k.exited.SleepFor(t, deadline-now)
	}
	exited, status := p.exited, p.status
	k.procLock.Release(t)

	if !exited {
		return 0, false, nil
	}
	p.result.Get(t)
	k.processes.Delete(pid)
	return status, true, nil
}
