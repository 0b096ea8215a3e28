package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sibexico/HexKernel/kernel"
	"github.com/sibexico/HexKernel/machine"
	"github.com/sibexico/HexKernel/threads"
)

func main() {
	configPath := flag.String("config", "", "JSON configuration file (default: HEXKERNEL_* environment)")
	procs := flag.Int("procs", 4, "number of worker processes")
	rounds := flag.Int("rounds", 3, "write/verify rounds per worker")
	sleepTicks := flag.Uint64("sleep", 1000, "ticks each worker sleeps between rounds")
	flag.Parse()

	config := kernel.LoadConfigFromEnv()
	if *configPath != "" {
		var err error
		if config, err = kernel.LoadConfigFromFile(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "hexkernel: %v\n", err)
			os.Exit(1)
		}
	}
	logger := kernel.NewLogger(os.Stderr, config)

	if err := run(config, logger, *procs, *rounds, *sleepTicks); err != nil {
		logger.Error("kernel failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(config *kernel.Config, logger *slog.Logger, procs, rounds int, sleepTicks uint64) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	k, err := kernel.Boot(config, logger)
	if err != nil {
		return err
	}
	defer k.Shutdown()

	go k.Run(ctx)

	initThread := threads.NewThread("init")
	image := workerImage(config.PageSize)
	worker := func(p *kernel.Process, t *threads.Thread) int {
		return exerciseMemory(p, t, config.PageSize, rounds, sleepTicks)
	}

	var pids []int
	for i := 0; i < procs; i++ {
		p, err := k.Spawn(initThread, image, []string{"worker", fmt.Sprint(i)}, worker)
		if err != nil {
			return err
		}
		pids = append(pids, p.PID())
	}
	logger.Info("workers spawned",
		slog.Int("procs", procs),
		slog.Int("physical_pages", config.PhysicalPages),
	)

	done := make(chan error, 1)
	go func() {
		done <- reap(k, initThread, pids, logger)
	}()

	select {
	case err := <-done:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		// the timer has stopped, so sleeping workers will never wake
		logger.Warn("interrupted, abandoning workers")
		return nil
	}

	logger.Info("all workers finished", slog.Uint64("ticks", k.Timer().Now()))
	return nil
}

// reap waits for every worker and fails if any saw corrupted memory
func reap(k *kernel.Kernel, t *threads.Thread, pids []int, logger *slog.Logger) error {
	failed := 0
	for _, pid := range pids {
		status, err := k.Wait(t, pid)
		if err != nil {
			return err
		}
		if status != 0 {
			failed++
			logger.Warn("worker failed", slog.Int("pid", pid), slog.Int("status", status))
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d workers saw corrupted memory", failed, len(pids))
	}
	return nil
}

// workerImage is a read-only code page followed by two pages of data
func workerImage(pageSize int) machine.Image {
	return machine.NewStaticImage(
		&machine.StaticSection{
			SectionName: ".text",
			First:       0,
			Pages:       1,
			IsReadOnly:  true,
			Data:        bytes.Repeat([]byte{0x90}, pageSize),
		},
		&machine.StaticSection{
			SectionName: ".data",
			First:       1,
			Pages:       2,
			Data:        []byte("hexkernel worker\x00"),
		},
	)
}

// exerciseMemory fills every writable page with a per-process pattern, sleeps
// so other workers can evict it, then checks the pattern survived.
func exerciseMemory(p *kernel.Process, t *threads.Thread, pageSize, rounds int, sleepTicks uint64) int {
	space := p.Space()
	last := space.NumPages() - 1 // argument page

	for round := 0; round < rounds; round++ {
		for vpn := 1; vpn < last; vpn++ {
			fill := bytes.Repeat([]byte{byte(p.PID() + vpn + round)}, pageSize)
			if space.WriteVirtualMemory(t, vpn*pageSize, fill) != pageSize {
				return 1
			}
		}

		p.Sleep(t, sleepTicks)

		page := make([]byte, pageSize)
		for vpn := 1; vpn < last; vpn++ {
			space.ReadVirtualMemory(t, vpn*pageSize, page)
			if !bytes.Equal(page, bytes.Repeat([]byte{byte(p.PID() + vpn + round)}, pageSize)) {
				return 2
			}
		}
	}

	if args, err := p.Args(t); err != nil || len(args) != 2 {
		return 3
	}
	return 0
}
