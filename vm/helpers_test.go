package vm

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/sibexico/HexKernel/machine"
	"github.com/sibexico/HexKernel/threads"
)

const testPageSize = 64

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestManager creates a manager over an in-memory swap store
func newTestManager(t *testing.T, frames int, c Compression) *Manager {
	t.Helper()
	m, err := NewManager(Options{
		PhysicalPages: frames,
		PageSize:      testPageSize,
		SwapSlots:     4,
		Compression:   c,
		Store:         NewMemStore(),
		Logger:        discardLogger(),
	})
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	return m
}

// stackOnly is an image with no sections; every page is zero-filled
func stackOnly() machine.Image {
	return machine.NewStaticImage()
}

// testImage has one read-only code page followed by one writable data page
func testImage() machine.Image {
	code := make([]byte, testPageSize)
	for i := range code {
		code[i] = byte(0xC0 + i%16)
	}
	return machine.NewStaticImage(
		&machine.StaticSection{SectionName: ".text", First: 0, Pages: 1, IsReadOnly: true, Data: code},
		&machine.StaticSection{SectionName: ".data", First: 1, Pages: 1, Data: []byte("hello, kernel")},
	)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// expectFatal runs fn and returns the *VMError it panicked with
func expectFatal(t *testing.T, name string, fn func()) (vmErr *VMError) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("%s should panic", name)
		}
		err, ok := r.(error)
		if !ok || !errors.As(err, &vmErr) {
			t.Fatalf("%s panicked with %v, expected a *VMError", name, r)
		}
	}()
	fn()
	return nil
}

func expectPanic(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("%s should panic", name)
		}
	}()
	fn()
}

// residentVPN returns the vpn held by ppn, or -1
func residentVPN(m *Manager, th *threads.Thread, ppn int) int {
	m.Lock().Acquire(th)
	defer m.Lock().Release(th)
	return m.Frame(th, ppn).VPN
}
