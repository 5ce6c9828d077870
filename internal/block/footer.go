// footer.go implements the fixed-layout SST file footer: a checksum type
// byte, two block handles (metaindex and index), zero padding, a format
// version, and a magic number.
package block

import (
	"encoding/binary"
)

// TableMagicNumber identifies this module's SST file format. It has no
// relation to any other table format's magic number.
const TableMagicNumber uint64 = 0xdbbad01beefe0f44

// MagicNumberLengthByte is the length of the magic number in bytes.
const MagicNumberLengthByte = 8

// ChecksumType mirrors checksum.Type for the footer's on-disk checksum_type
// byte, kept distinct so the block package doesn't need to import checksum
// just to declare a footer field type.
type ChecksumType uint8

const (
	ChecksumTypeNone  ChecksumType = 0
	ChecksumTypeCRC32C ChecksumType = 1
	ChecksumTypeXXH3  ChecksumType = 4
)

// FormatVersion is the single footer format version this module writes and
// reads. There is no negotiation: a footer with any other version number is
// Corruption.
const FormatVersion uint32 = 5

// BlockTrailerSize is the size of a data/index/pilot/metaindex block
// trailer: 1 byte compression tag + 4 byte masked checksum.
const BlockTrailerSize = 5

// EncodedLength is the fixed, exact size of an encoded footer: checksum_type
// (1) + metaindex handle (<=20) + index handle (<=20) + zero padding to fill
// out the handle region (padding makes the two-handle region exactly
// 2*MaxEncodedLength regardless of each handle's actual varint length) +
// format_version (4) + magic (8).
const EncodedLength = 1 + 2*MaxEncodedLength + 4 + MagicNumberLengthByte

// Footer is the fixed trailer of every SST file.
type Footer struct {
	ChecksumType    ChecksumType
	MetaindexHandle Handle
	IndexHandle     Handle
	FormatVersion   uint32
	TableMagicNumber uint64
}

// DecodeFooter decodes a footer from the last EncodedLength bytes of an SST
// file. enforceMagicNumber, if true, rejects any other magic as Corruption.
func DecodeFooter(data []byte, enforceMagicNumber bool) (*Footer, error) {
	if len(data) < EncodedLength {
		return nil, ErrBadBlockFooter
	}
	// Footer is always the trailing EncodedLength bytes of the slice handed
	// in; callers pass exactly that slice.
	data = data[len(data)-EncodedLength:]

	f := &Footer{}

	f.TableMagicNumber = binary.LittleEndian.Uint64(data[EncodedLength-MagicNumberLengthByte:])
	if enforceMagicNumber && f.TableMagicNumber != TableMagicNumber {
		return nil, ErrBadBlockFooter
	}

	f.FormatVersion = binary.LittleEndian.Uint32(data[EncodedLength-MagicNumberLengthByte-4:])
	if f.FormatVersion != FormatVersion {
		return nil, ErrBadBlockFooter
	}

	f.ChecksumType = ChecksumType(data[0])

	handleData := data[1:]
	var err error
	var remaining []byte
	f.MetaindexHandle, remaining, err = DecodeHandle(handleData)
	if err != nil {
		return nil, err
	}
	f.IndexHandle, _, err = DecodeHandle(remaining)
	if err != nil {
		return nil, err
	}

	return f, nil
}

// EncodeTo encodes the footer to a fixed EncodedLength-byte buffer.
func (f *Footer) EncodeTo() []byte {
	buf := make([]byte, EncodedLength)

	buf[0] = byte(f.ChecksumType)

	cur := 1
	encoded := f.MetaindexHandle.EncodeTo(nil)
	copy(buf[cur:], encoded)
	cur += len(encoded)

	encoded = f.IndexHandle.EncodeTo(nil)
	copy(buf[cur:], encoded)
	cur += len(encoded)

	part3Start := 1 + 2*MaxEncodedLength
	for i := cur; i < part3Start; i++ {
		buf[i] = 0
	}

	binary.LittleEndian.PutUint32(buf[part3Start:], FormatVersion)
	binary.LittleEndian.PutUint64(buf[part3Start+4:], f.TableMagicNumber)

	return buf
}
