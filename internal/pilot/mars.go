package pilot

import (
	"container/heap"

	"github.com/sstcore/sstcore/internal/block"
	"github.com/sstcore/sstcore/internal/table"
)

// MarsChunkSize is the number of merged keys (kSpace) a single Mars pilot
// entry covers.
const MarsChunkSize = 256

// Counts maps, per level, that level's cumulative emission ordinal to the
// chunk-local offset (0..MarsChunkSize-1) the merge held when that entry
// was emitted. Grounded on the original's counts_ side-channel: it is a
// build-time artifact, scaled to the total entry count of every lower
// level, and is deliberately never serialized into the pilot block — a
// MarsIterator must be constructed with the exact Counts its MarsBuilder
// produced, in the same build/merge session.
type Counts [][]uint16

// MarsBuilder builds the Mars (fixed-chunk) pilot block: a plain
// N-way merge of levels with no distinguished top level, chunked into
// fixed windows of MarsChunkSize keys regardless of key boundaries.
type MarsBuilder struct {
	levels []*table.Iterator
	cmp    block.Comparator
	heap   *levelHeap

	counts      Counts
	chunkLevels []byte
	chunkStart  []Position
	lastKey     []byte

	out *block.Builder
}

// NewMarsBuilder creates a Mars pilot builder over levels, each already
// opened for reading and not yet positioned.
func NewMarsBuilder(levels []*table.Iterator, cmp block.Comparator) *MarsBuilder {
	if cmp == nil {
		cmp = block.BytewiseComparator
	}
	b := &MarsBuilder{
		levels: levels,
		cmp:    cmp,
		heap:   &levelHeap{cmp: cmp},
		out:    block.NewBuilder(),
		counts: make(Counts, len(levels)),
	}
	for i, it := range levels {
		it.SeekToFirst()
		if it.Valid() {
			heap.Push(b.heap, heapEntry{level: i, key: append([]byte(nil), it.Key()...)})
		}
	}
	return b
}

// Build drains the full merge, emitting one pilot entry per MarsChunkSize
// keys (the trailing partial chunk included), and returns the finished
// pilot block's bytes plus the Counts side-channel MarsIterator needs.
func (b *MarsBuilder) Build() ([]byte, Counts, error) {
	if b.heap.Len() == 0 {
		return b.out.Finish(), b.counts, nil
	}

	b.lastKey = append(b.lastKey[:0], b.heap.items[0].key...)
	b.chunkStart = b.capturePositions()

	for b.heap.Len() > 0 {
		top := b.heap.items[0]
		level := top.level

		it := b.levels[level]
		it.Next()
		if it.Valid() {
			b.heap.items[0].key = append(b.heap.items[0].key[:0], it.Key()...)
			heap.Fix(b.heap, 0)
		} else {
			heap.Pop(b.heap)
		}

		b.counts[level] = append(b.counts[level], uint16(len(b.chunkLevels)))
		b.chunkLevels = append(b.chunkLevels, byte(level))

		if len(b.chunkLevels) >= MarsChunkSize {
			b.flush()
			if b.heap.Len() == 0 {
				break
			}
			b.lastKey = append(b.lastKey[:0], b.heap.items[0].key...)
			b.chunkStart = b.capturePositions()
		}
	}

	if len(b.chunkLevels) > 0 {
		b.flush()
	}

	return b.out.Finish(), b.counts, nil
}

func (b *MarsBuilder) flush() {
	b.out.Add(b.lastKey, EncodeEntry(Entry{Positions: b.chunkStart, Levels: b.chunkLevels}))
	b.chunkLevels = nil
}

func (b *MarsBuilder) capturePositions() []Position {
	positions := make([]Position, len(b.levels))
	for i, it := range b.levels {
		positions[i] = capturePosition(it)
	}
	return positions
}

// MarsIterator merges the same levels a MarsBuilder drained, driven by the
// pilot block it produced and the Counts side-channel produced alongside
// it.
type MarsIterator struct {
	pilotIter *block.Iterator
	counts    Counts
	levels    []*table.Iterator
	cmp       block.Comparator

	entry   Entry
	current int

	currentIter *table.Iterator
	err         error
}

// NewMarsIterator creates a Mars pilot iterator over pilotBlock (as built
// by MarsBuilder.Build) and levels, using counts to resynchronize the
// merge position after a Seek.
func NewMarsIterator(pilotBlock *block.Block, counts Counts, levels []*table.Iterator, cmp block.Comparator) *MarsIterator {
	if cmp == nil {
		cmp = block.BytewiseComparator
	}
	return &MarsIterator{
		pilotIter: pilotBlock.NewIterator(cmp),
		counts:    counts,
		levels:    levels,
		cmp:       cmp,
	}
}

func (it *MarsIterator) Valid() bool {
	return it.err == nil && it.currentIter != nil && it.currentIter.Valid()
}

func (it *MarsIterator) Key() []byte {
	if it.currentIter == nil {
		return nil
	}
	return it.currentIter.Key()
}

func (it *MarsIterator) Value() []byte {
	if it.currentIter == nil {
		return nil
	}
	return it.currentIter.Value()
}

func (it *MarsIterator) Error() error { return it.err }

func (it *MarsIterator) parsePilot() bool {
	if !it.pilotIter.Valid() {
		return false
	}
	e, err := DecodeEntry(it.pilotIter.Value())
	if err != nil {
		it.err = err
		return false
	}
	it.entry = e
	return true
}

// SeekToFirst positions every level and the pilot at the start of the
// merge.
func (it *MarsIterator) SeekToFirst() {
	it.pilotIter.SeekToFirst()
	for _, lvl := range it.levels {
		lvl.SeekToFirst()
	}
	if !it.parsePilot() || len(it.entry.Levels) == 0 {
		it.currentIter = nil
		return
	}
	it.current = 0
	it.currentIter = it.levels[it.entry.Levels[0]]
}

// Seek locates the chunk that may contain target via SeekForPrev on the
// pilot block, restricts each level's search to that chunk's recorded
// window via HintedSeek, picks the smallest resulting key, and resyncs the
// merge position using the Counts side-channel.
func (it *MarsIterator) Seek(target []byte) {
	it.pilotIter.SeekForPrev(target)
	if !it.parsePilot() {
		it.currentIter = nil
		return
	}
	left := it.entry.Positions

	right := make([]Position, len(it.levels))
	it.pilotIter.Next()
	if it.pilotIter.Valid() {
		if nextEntry, err := DecodeEntry(it.pilotIter.Value()); err == nil {
			right = nextEntry.Positions
		}
	} else {
		for i, lvl := range it.levels {
			lvl.SeekToLast()
			idx, data := lvl.IndexRestartIndex(), lvl.DataRestartIndex()
			if idx < 0 || data < 0 {
				right[i] = Position{PastEnd: true}
				continue
			}
			right[i] = Position{IndexOrdinal: uint32(idx), DataOrdinal: uint32(data)}
		}
	}

	bestLevel := -1
	var bestKey []byte
	for i, lvl := range it.levels {
		l := left[i]
		if l.PastEnd {
			continue
		}
		r := right[i]
		indexRight, dataRight := int(r.IndexOrdinal), int(r.DataOrdinal)
		if r.PastEnd {
			lvl.SeekToLast()
			indexRight, dataRight = lvl.IndexRestartIndex(), lvl.DataRestartIndex()
		}

		lvl.HintedSeek(target, int(l.IndexOrdinal), indexRight, int(l.DataOrdinal), dataRight)
		if !lvl.Valid() {
			continue
		}
		if bestLevel == -1 || it.cmp(lvl.Key(), bestKey) < 0 {
			bestKey = lvl.Key()
			bestLevel = i
		}
	}

	if bestLevel == -1 {
		it.currentIter = nil
		return
	}

	it.current = 0
	if ordinal, ok := it.levels[bestLevel].GlobalOrdinal(); ok && int(ordinal) < len(it.counts[bestLevel]) {
		it.current = int(it.counts[bestLevel][ordinal])
	}
	it.currentIter = it.levels[bestLevel]
}

// Next advances to the next merged entry, crossing into the next pilot
// chunk when the current one is exhausted.
func (it *MarsIterator) Next() {
	if it.currentIter == nil {
		return
	}
	it.currentIter.Next()
	it.current++
	if it.current >= len(it.entry.Levels) {
		it.pilotIter.Next()
		if !it.parsePilot() || len(it.entry.Levels) == 0 {
			it.currentIter = nil
			return
		}
		it.current = 0
	}
	it.currentIter = it.levels[it.entry.Levels[it.current]]
}
