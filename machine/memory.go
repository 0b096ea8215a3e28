package machine

import "fmt"

// Memory is the simulated physical memory: numPages frames of pageSize bytes
// laid out back to back.
type Memory struct {
	data     []byte
	pageSize int
	numPages int
}

// NewMemory allocates zeroed physical memory
func NewMemory(numPages, pageSize int) (*Memory, error) {
	if numPages <= 0 {
		return nil, fmt.Errorf("number of physical pages must be greater than 0, got %d", numPages)
	}
	if pageSize <= 0 {
		return nil, fmt.Errorf("page size must be greater than 0, got %d", pageSize)
	}

	return &Memory{
		data:     make([]byte, numPages*pageSize),
		pageSize: pageSize,
		numPages: numPages,
	}, nil
}

// PageSize returns the frame size in bytes
func (m *Memory) PageSize() int {
	return m.pageSize
}

// NumPages returns the number of frames
func (m *Memory) NumPages() int {
	return m.numPages
}

// Frame returns the bytes backing frame ppn. The slice aliases memory.
func (m *Memory) Frame(ppn int) []byte {
	off := ppn * m.pageSize
	return m.data[off : off+m.pageSize : off+m.pageSize]
}

// Bytes returns the whole physical memory
func (m *Memory) Bytes() []byte {
	return m.data
}
