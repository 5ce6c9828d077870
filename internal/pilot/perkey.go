package pilot

import (
	"container/heap"
	"errors"

	"github.com/sstcore/sstcore/internal/block"
	"github.com/sstcore/sstcore/internal/table"
)

// ErrOutOfOrder is returned when BuildPilot is called with a key not
// strictly greater than the previously added one.
var ErrOutOfOrder = errors.New("pilot: keys must be added in increasing order")

// PerKeyBuilder builds the per-key pilot block: one entry per
// top-level key. TableBuilder drives it by calling BuildPilot once per
// Add. It owns a min-heap over the lower-level iterators and, for each
// top-level key, drains and records every lower-level entry that precedes
// it, along with where each lower level's cursor sat at that moment.
//
// PerKeyBuilder satisfies table.PilotBuilder.
type PerKeyBuilder struct {
	levels []*table.Iterator
	cmp    block.Comparator
	heap   *levelHeap

	havePrev      bool
	prevTopKey    []byte
	prevPositions []Position

	out *block.Builder

	finished bool
	err      error
}

// NewPerKeyBuilder creates a per-key pilot builder over lowerLevels, each
// already opened for reading and not yet positioned.
func NewPerKeyBuilder(lowerLevels []*table.Iterator, cmp block.Comparator) *PerKeyBuilder {
	if cmp == nil {
		cmp = block.BytewiseComparator
	}
	b := &PerKeyBuilder{
		levels: lowerLevels,
		cmp:    cmp,
		heap:   &levelHeap{cmp: cmp},
		out:    block.NewBuilder(),
	}
	for i, it := range lowerLevels {
		it.SeekToFirst()
		if it.Valid() {
			heap.Push(b.heap, heapEntry{level: i, key: append([]byte(nil), it.Key()...)})
		}
	}
	return b
}

// BuildPilot drains every lower-level entry preceding key and emits the
// pilot entry describing the window since the previous top-level key. The
// entry emitted here always describes the *previous* key's window, using
// the cursor captured at the end of the previous call.
func (b *PerKeyBuilder) BuildPilot(key []byte) error {
	if b.err != nil {
		return b.err
	}
	if b.havePrev && b.cmp(key, b.prevTopKey) <= 0 {
		b.err = ErrOutOfOrder
		return b.err
	}

	levels := b.drainBelow(key)
	if b.havePrev {
		b.emit(b.prevTopKey, b.prevPositions, levels)
	}

	b.prevPositions = b.capturePositions()
	b.prevTopKey = append(b.prevTopKey[:0], key...)
	b.havePrev = true
	return nil
}

// drainBelow pops every heap entry with key < target, advancing that
// level's iterator, and returns the drained levels in emission order.
// target == nil drains unconditionally (used by Finish).
func (b *PerKeyBuilder) drainBelow(target []byte) []byte {
	var levels []byte
	for b.heap.Len() > 0 {
		top := b.heap.items[0]
		if target != nil && b.cmp(top.key, target) >= 0 {
			break
		}
		levels = append(levels, byte(top.level))

		it := b.levels[top.level]
		it.Next()
		if it.Valid() {
			b.heap.items[0].key = append(b.heap.items[0].key[:0], it.Key()...)
			heap.Fix(b.heap, 0)
		} else {
			heap.Pop(b.heap)
		}
	}
	return levels
}

func (b *PerKeyBuilder) capturePositions() []Position {
	positions := make([]Position, len(b.levels))
	for i, it := range b.levels {
		positions[i] = capturePosition(it)
	}
	return positions
}

func (b *PerKeyBuilder) emit(topKey []byte, positions []Position, levels []byte) {
	b.out.Add(topKey, EncodeEntry(Entry{Positions: positions, Levels: levels}))
}

// Finish drains every remaining lower-level entry, emits the final pending
// pilot entry, and returns the finished pilot block's bytes.
func (b *PerKeyBuilder) Finish() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.finished {
		return b.out.Finish(), nil
	}
	b.finished = true

	levels := b.drainBelow(nil)
	if b.havePrev {
		b.emit(b.prevTopKey, b.prevPositions, levels)
	}
	return b.out.Finish(), nil
}
