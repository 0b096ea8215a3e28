package vm

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"strings"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4/v4"
)

// Compression selects how evicted frames are stored in swap slots
type Compression uint8

const (
	CompressionNone   Compression = 0
	CompressionLZ4    Compression = 1
	CompressionSnappy Compression = 2
)

// Swap slot header layout (compressed swap only):
// [0-1]: Magic number (0x5A9E)
// [2]: Stored encoding (0=none, 1=LZ4, 2=Snappy)
// [3]: Reserved
// [4-7]: Payload length
// [8-11]: CRC32 of the uncompressed frame
// [12+]: Payload
const (
	slotMagic      = 0x5A9E
	slotHeaderSize = 12
)

// ParseCompression maps a configuration name to a Compression
func ParseCompression(name string) (Compression, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "snappy":
		return CompressionSnappy, nil
	default:
		return CompressionNone, fmt.Errorf("unsupported swap compression: %s (must be none, lz4, or snappy)", name)
	}
}

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionSnappy:
		return "snappy"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// slotStride is the space one slot occupies in the backing store
func slotStride(c Compression, pageSize int) int {
	if c == CompressionNone {
		return pageSize
	}
	return slotHeaderSize + pageSize
}

// encodeSlot writes the header and payload for frame into dst, which must be
// at least slotStride bytes. It returns the number of bytes to store and the
// encoding actually used; a frame that does not shrink is stored raw.
func encodeSlot(c Compression, frame, dst []byte) (int, Compression, error) {
	payload := dst[slotHeaderSize:]
	stored := c
	n := 0

	switch c {
	case CompressionLZ4:
		compressed, err := lz4.CompressBlock(frame, payload, nil)
		if err == nil {
			// zero means incompressible; an error means it did not fit
			n = compressed
		}

	case CompressionSnappy:
		if enc := snappy.Encode(nil, frame); len(enc) < len(frame) {
			n = copy(payload, enc)
		}

	case CompressionNone:

	default:
		return 0, c, fmt.Errorf("unsupported swap compression: %d", c)
	}

	if n == 0 || n >= len(frame) {
		stored = CompressionNone
		n = copy(payload, frame)
	}

	binary.LittleEndian.PutUint16(dst[0:2], slotMagic)
	dst[2] = uint8(stored)
	dst[3] = 0
	binary.LittleEndian.PutUint32(dst[4:8], uint32(n))
	binary.LittleEndian.PutUint32(dst[8:12], crc32.ChecksumIEEE(frame))

	return slotHeaderSize + n, stored, nil
}

// decodeSlotHeader validates a slot header and returns the stored encoding and payload length
func decodeSlotHeader(hdr []byte, pageSize int) (Compression, int, uint32, error) {
	if len(hdr) < slotHeaderSize {
		return 0, 0, 0, fmt.Errorf("slot header too short: %d bytes", len(hdr))
	}
	if magic := binary.LittleEndian.Uint16(hdr[0:2]); magic != slotMagic {
		return 0, 0, 0, fmt.Errorf("invalid slot magic: got %04x, expected %04x", magic, slotMagic)
	}

	stored := Compression(hdr[2])
	n := int(binary.LittleEndian.Uint32(hdr[4:8]))
	if n > pageSize {
		return 0, 0, 0, fmt.Errorf("slot payload of %d bytes exceeds page size %d", n, pageSize)
	}
	return stored, n, binary.LittleEndian.Uint32(hdr[8:12]), nil
}

// decodeSlotPayload restores frame from payload and verifies the checksum
func decodeSlotPayload(stored Compression, payload []byte, checksum uint32, frame []byte) error {
	switch stored {
	case CompressionNone:
		if len(payload) != len(frame) {
			return fmt.Errorf("raw slot holds %d bytes, expected %d", len(payload), len(frame))
		}
		copy(frame, payload)

	case CompressionLZ4:
		n, err := lz4.UncompressBlock(payload, frame)
		if err != nil {
			return fmt.Errorf("LZ4 decompression failed: %w", err)
		}
		if n != len(frame) {
			return fmt.Errorf("LZ4 decompression size mismatch: got %d, expected %d", n, len(frame))
		}

	case CompressionSnappy:
		size, err := snappy.DecodedLen(payload)
		if err != nil {
			return fmt.Errorf("snappy decompression failed: %w", err)
		}
		if size != len(frame) {
			return fmt.Errorf("snappy decompression size mismatch: got %d, expected %d", size, len(frame))
		}
		if _, err := snappy.Decode(frame, payload); err != nil {
			return fmt.Errorf("snappy decompression failed: %w", err)
		}

	default:
		return fmt.Errorf("unsupported slot encoding: %d", stored)
	}

	if sum := crc32.ChecksumIEEE(frame); sum != checksum {
		return fmt.Errorf("checksum mismatch: got %08x, expected %08x", sum, checksum)
	}
	return nil
}
