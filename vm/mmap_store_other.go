//go:build !unix

package vm

import (
	"errors"
	"io"
)

// MmapStore is unavailable on this platform
type MmapStore struct {
	io.ReaderAt
	io.WriterAt
}

// OpenMmapStore reports that memory-mapped swap is unsupported here
func OpenMmapStore(path string) (*MmapStore, error) {
	return nil, errors.New("mmap swap backend is only supported on unix systems")
}

func (ms *MmapStore) Close() error  { return nil }
func (ms *MmapStore) Remove() error { return nil }
