package vm

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// BackingStore is byte-addressed storage for swapped out pages
type BackingStore interface {
	io.ReaderAt
	io.WriterAt
	// Close releases the store; Remove deletes whatever Close left behind
	Close() error
	Remove() error
}

// OpenBackingStore opens a store of the given kind: "file", "mmap", or "memory"
func OpenBackingStore(kind, path string) (BackingStore, error) {
	switch kind {
	case "", "file":
		store, err := OpenFileStore(path)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "mmap":
		store, err := OpenMmapStore(path)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "memory":
		return NewMemStore(), nil
	default:
		return nil, fmt.Errorf("unsupported swap backend: %s (must be file, mmap, or memory)", kind)
	}
}

// FileStore keeps swap in a regular file
type FileStore struct {
	file  *os.File
	path  string
	mutex sync.Mutex
}

// OpenFileStore creates or truncates the swap file at path
func OpenFileStore(path string) (*FileStore, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open/create swap file %s: %w", path, err)
	}

	return &FileStore{
		file: file,
		path: path,
	}, nil
}

// ReadAt reads len(p) bytes at off
func (fs *FileStore) ReadAt(p []byte, off int64) (int, error) {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if fs.file == nil {
		return 0, os.ErrClosed
	}
	return fs.file.ReadAt(p, off)
}

// WriteAt writes p at off
func (fs *FileStore) WriteAt(p []byte, off int64) (int, error) {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if fs.file == nil {
		return 0, os.ErrClosed
	}
	return fs.file.WriteAt(p, off)
}

// Close closes the swap file
func (fs *FileStore) Close() error {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if fs.file == nil {
		return nil
	}
	err := fs.file.Close()
	fs.file = nil
	return err
}

// Remove deletes the swap file
func (fs *FileStore) Remove() error {
	if err := os.Remove(fs.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove swap file %s: %w", fs.path, err)
	}
	return nil
}

// MemStore keeps swap in a growable byte slice
type MemStore struct {
	data  []byte
	mutex sync.Mutex
}

// NewMemStore creates an empty in-memory store
func NewMemStore() *MemStore {
	return &MemStore{}
}

// ReadAt reads len(p) bytes at off, returning io.EOF past the end
func (ms *MemStore) ReadAt(p []byte, off int64) (int, error) {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	if off >= int64(len(ms.data)) {
		return 0, io.EOF
	}
	n := copy(p, ms.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt writes p at off, growing the store as needed
func (ms *MemStore) WriteAt(p []byte, off int64) (int, error) {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	if end := off + int64(len(p)); end > int64(len(ms.data)) {
		grown := make([]byte, end)
		copy(grown, ms.data)
		ms.data = grown
	}
	return copy(ms.data[off:], p), nil
}

func (ms *MemStore) Close() error { return nil }

// Remove drops the stored bytes
func (ms *MemStore) Remove() error {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()
	ms.data = nil
	return nil
}
