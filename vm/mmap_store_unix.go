//go:build unix

package vm

import (
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

const (
	// Initial swap mapping: 1MB
	InitialMmapSize = 1024 * 1024
)

// MmapStore keeps swap in a memory-mapped file. The mapping doubles whenever
// a write lands past its end.
type MmapStore struct {
	file     *os.File
	path     string
	mmapData []byte
	fileSize int64
	mutex    sync.RWMutex
}

// OpenMmapStore creates or truncates the swap file at path and maps it
func OpenMmapStore(path string) (*MmapStore, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open/create swap file %s: %w", path, err)
	}

	ms := &MmapStore{
		file: file,
		path: path,
	}
	if err := ms.remap(InitialMmapSize); err != nil {
		file.Close()
		return nil, err
	}
	return ms, nil
}

// remap resizes the file to size and maps it again. Caller holds the write lock.
func (ms *MmapStore) remap(size int64) error {
	if ms.mmapData != nil {
		if err := unix.Msync(ms.mmapData, unix.MS_SYNC); err != nil {
			return fmt.Errorf("failed to sync mapping: %w", err)
		}
		if err := unix.Munmap(ms.mmapData); err != nil {
			return fmt.Errorf("failed to unmap swap file: %w", err)
		}
		ms.mmapData = nil
	}

	if err := ms.file.Truncate(size); err != nil {
		return fmt.Errorf("failed to grow swap file: %w", err)
	}

	data, err := unix.Mmap(int(ms.file.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("failed to map swap file: %w", err)
	}
	ms.mmapData = data
	ms.fileSize = size
	return nil
}

// ReadAt copies len(p) bytes at off out of the mapping
func (ms *MmapStore) ReadAt(p []byte, off int64) (int, error) {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	if ms.mmapData == nil {
		return 0, os.ErrClosed
	}
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	if off >= ms.fileSize {
		return 0, io.EOF
	}
	n := copy(p, ms.mmapData[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt copies p into the mapping at off, growing the file if needed
func (ms *MmapStore) WriteAt(p []byte, off int64) (int, error) {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	if ms.mmapData == nil {
		return 0, os.ErrClosed
	}
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}

	end := off + int64(len(p))
	if end > ms.fileSize {
		size := ms.fileSize
		for size < end {
			size *= 2
		}
		if err := ms.remap(size); err != nil {
			return 0, err
		}
	}
	return copy(ms.mmapData[off:end], p), nil
}

// Close flushes and unmaps the file
func (ms *MmapStore) Close() error {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	if ms.mmapData == nil {
		return nil
	}

	var firstErr error
	if err := unix.Msync(ms.mmapData, unix.MS_SYNC); err != nil {
		firstErr = fmt.Errorf("failed to sync mapping: %w", err)
	}
	if err := unix.Munmap(ms.mmapData); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to unmap swap file: %w", err)
	}
	ms.mmapData = nil

	if err := ms.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to close swap file: %w", err)
	}
	return firstErr
}

// Remove deletes the swap file
func (ms *MmapStore) Remove() error {
	if err := os.Remove(ms.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove swap file %s: %w", ms.path, err)
	}
	return nil
}
