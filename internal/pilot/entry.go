// Package pilot implements the pilot block, the data structure that lets a
// level iterator merge a top-level table with its lower levels without
// decoding every intervening data block. Two variants share a wire format
// (Entry): the per-key variant (one entry per top-level key) and the
// Mars fixed-chunk variant (one entry per 256 merged keys).
package pilot

import (
	"errors"

	"github.com/sstcore/sstcore/internal/encoding"
	"github.com/sstcore/sstcore/internal/table"
)

// pastEnd flags a captured restart position as "this level's iterator had
// been exhausted at capture time" rather than a real restart ordinal.
const pastEnd = 0x8000

// ErrBadEntry is returned when a pilot entry's value cannot be decoded.
var ErrBadEntry = errors.New("pilot: malformed pilot entry")

// Position is a lower level's recorded cursor: the restart ordinal within
// the index block, and within the data block it points to, or PastEnd if
// the level had no more entries at capture time.
type Position struct {
	IndexOrdinal uint32
	DataOrdinal  uint32
	PastEnd      bool
}

// Entry is a decoded pilot entry. Both variants share this shape: the
// cursor every level should be repositioned to, and the sequence of levels
// whose entries are emitted (in order) from that cursor before the next
// pilot entry takes over.
type Entry struct {
	Positions []Position
	Levels    []byte
}

// capturePosition snapshots a lower level's table iterator as a Position.
func capturePosition(it *table.Iterator) Position {
	idx := it.IndexRestartIndex()
	data := it.DataRestartIndex()
	if idx < 0 || data < 0 {
		return Position{PastEnd: true}
	}
	return Position{IndexOrdinal: uint32(idx), DataOrdinal: uint32(data)}
}

// EncodeEntry appends e's wire encoding to dst: varint(len(Positions)),
// then per position varint(index_ordinal) varint(data_ordinal) (pastEnd
// sentinel in place of both when PastEnd), then varint(len(Levels)) and the
// raw level bytes.
func EncodeEntry(e Entry) []byte {
	dst := encoding.AppendVarint32(nil, uint32(len(e.Positions)))
	for _, p := range e.Positions {
		idx, data := p.IndexOrdinal, p.DataOrdinal
		if p.PastEnd {
			idx, data = pastEnd, pastEnd
		}
		dst = encoding.AppendVarint32(dst, idx)
		dst = encoding.AppendVarint32(dst, data)
	}
	dst = encoding.AppendVarint32(dst, uint32(len(e.Levels)))
	dst = append(dst, e.Levels...)
	return dst
}

// DecodeEntry decodes a pilot entry's raw value.
func DecodeEntry(data []byte) (Entry, error) {
	numPositions, n, err := encoding.DecodeVarint32(data)
	if err != nil {
		return Entry{}, ErrBadEntry
	}
	data = data[n:]

	positions := make([]Position, numPositions)
	for i := range positions {
		idx, n, err := encoding.DecodeVarint32(data)
		if err != nil {
			return Entry{}, ErrBadEntry
		}
		data = data[n:]

		d, n, err := encoding.DecodeVarint32(data)
		if err != nil {
			return Entry{}, ErrBadEntry
		}
		data = data[n:]

		if idx == pastEnd && d == pastEnd {
			positions[i] = Position{PastEnd: true}
		} else {
			positions[i] = Position{IndexOrdinal: idx, DataOrdinal: d}
		}
	}

	numLevels, n, err := encoding.DecodeVarint32(data)
	if err != nil {
		return Entry{}, ErrBadEntry
	}
	data = data[n:]
	if uint32(len(data)) < numLevels {
		return Entry{}, ErrBadEntry
	}

	return Entry{
		Positions: positions,
		Levels:    append([]byte(nil), data[:numLevels]...),
	}, nil
}
