// types.go defines the checksum types a block trailer may carry.
package checksum

import "github.com/zeebo/xxh3"

// Type represents the checksum algorithm used for a block trailer.
type Type uint8

const (
	// TypeNoChecksum means no checksum is used.
	TypeNoChecksum Type = 0
	// TypeCRC32C is CRC32C (Castagnoli) checksum. This is the default and
	// the only type the core block trailer format mandates.
	TypeCRC32C Type = 1
	// TypeXXH3 is XXH3-64, truncated to 32 bits. Opt-in via BuilderOptions.
	TypeXXH3 Type = 4
)

// String returns a human-readable name for the checksum type.
func (t Type) String() string {
	switch t {
	case TypeNoChecksum:
		return "NoChecksum"
	case TypeCRC32C:
		return "CRC32C"
	case TypeXXH3:
		return "XXH3"
	default:
		return "Unknown"
	}
}

// ComputeCRC32CChecksumWithLastByte computes the masked CRC32C checksum of
// data with a trailing byte (the block trailer's compression tag) folded in
// without needing to copy data and tag into one buffer.
func ComputeCRC32CChecksumWithLastByte(data []byte, lastByte byte) uint32 {
	crc := Value(data)
	crc = Extend(crc, []byte{lastByte})
	return Mask(crc)
}

// ComputeXXH3ChecksumWithLastByte computes an XXH3-64 checksum of data with
// a trailing byte folded in, truncated to 32 bits to share the trailer's
// fixed32 checksum field with CRC32C.
func ComputeXXH3ChecksumWithLastByte(data []byte, lastByte byte) uint32 {
	h := xxh3.New()
	_, _ = h.Write(data)
	_, _ = h.Write([]byte{lastByte})
	return uint32(h.Sum64())
}

// ComputeChecksum computes a checksum of the given type over data, with
// lastByte (the compression tag) folded in as though appended to data.
func ComputeChecksum(t Type, data []byte, lastByte byte) uint32 {
	switch t {
	case TypeCRC32C:
		return ComputeCRC32CChecksumWithLastByte(data, lastByte)
	case TypeXXH3:
		return ComputeXXH3ChecksumWithLastByte(data, lastByte)
	case TypeNoChecksum:
		return 0
	default:
		return 0
	}
}
