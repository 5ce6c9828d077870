package block

import (
	"bytes"
	"encoding/binary"

	"github.com/sstcore/sstcore/internal/encoding"
)

// Comparator orders two byte strings: negative if a < b, zero if equal,
// positive if a > b. Passed explicitly to iterators rather than resolved
// through a global, so a single process can open tables with different
// orderings without data races.
type Comparator func(a, b []byte) int

// BytewiseComparator orders keys by unsigned byte value, shorter-is-less on
// a shared prefix. This is the default comparator everywhere in this
// module.
func BytewiseComparator(a, b []byte) int {
	return bytes.Compare(a, b)
}

// kHasDBitBitShift is the bit position of the "this block carries a DBit
// sidecar" flag within the trailing fixed32 footer.
const kHasDBitBitShift = 31

// kNumRestartsMask masks out the DBit flag bit.
const kNumRestartsMask = (1 << kHasDBitBitShift) - 1 // 0x7FFFFFFF

// PackBlockFooter packs the DBit flag and num_restarts into the block's
// trailing fixed32.
func PackBlockFooter(hasDBit bool, numRestarts uint32) uint32 {
	footer := numRestarts
	if hasDBit {
		footer |= 1 << kHasDBitBitShift
	}
	return footer
}

// UnpackBlockFooter unpacks the DBit flag and num_restarts from a block's
// trailing fixed32.
func UnpackBlockFooter(footer uint32) (hasDBit bool, numRestarts uint32) {
	hasDBit = footer&(1<<kHasDBitBitShift) != 0
	numRestarts = footer & kNumRestartsMask
	return hasDBit, numRestarts
}

// Block is a parsed view over a data or index block: a run of verbatim
// key-value entries, a restart-point offset array, an optional DBit
// sidecar, and the trailing footer. Every entry is a restart point.
type Block struct {
	data        []byte
	restarts    int // offset where the restart array begins
	numRestarts int
	dbit        *Index // nil if this block has no DBit sidecar
}

// NewBlock parses data (including its trailing footer) into a Block. The
// slice is not copied; the caller must keep it alive for the Block's
// lifetime.
func NewBlock(data []byte) (*Block, error) {
	if len(data) < 4 {
		return nil, ErrBadBlock
	}

	footerOffset := len(data) - 4
	footer := binary.LittleEndian.Uint32(data[footerOffset:])
	hasDBit, numRestarts := UnpackBlockFooter(footer)

	// A block holding nothing but its footer is the empty block an empty
	// Builder writes; any other block needs at least one restart.
	if numRestarts == 0 && footerOffset != 0 {
		return nil, ErrBadBlock
	}

	restartsSize := int(numRestarts) * 4
	sidecarEnd := footerOffset // DBit sidecar, if present, ends where the footer begins
	b := &Block{
		data:        data,
		numRestarts: int(numRestarts),
	}

	if hasDBit {
		dbitIdx, err := NewIndex(data, int(numRestarts), sidecarEnd)
		if err != nil {
			return nil, err
		}
		b.dbit = dbitIdx
		restartsOffset := sidecarEnd - dbitIdx.SidecarLength() - restartsSize
		if restartsOffset < 0 {
			return nil, ErrBadBlock
		}
		b.restarts = restartsOffset
	} else {
		restartsOffset := footerOffset - restartsSize
		if restartsOffset < 0 {
			return nil, ErrBadBlock
		}
		b.restarts = restartsOffset
	}

	return b, nil
}

// Size returns the size of the block data.
func (b *Block) Size() int { return len(b.data) }

// Data returns the raw block data.
func (b *Block) Data() []byte { return b.data }

// NumRestarts returns the number of restart points.
func (b *Block) NumRestarts() int { return b.numRestarts }

// HasDBit returns true if this block carries a DBit sidecar.
func (b *Block) HasDBit() bool { return b.dbit != nil }

// DBitIndex returns the block's DBit sidecar index, or nil if it has none.
func (b *Block) DBitIndex() *Index { return b.dbit }

// GetRestartPoint returns the byte offset of the i-th restart point.
func (b *Block) GetRestartPoint(i int) int {
	if i < 0 || i >= b.numRestarts {
		return -1
	}
	offset := b.restarts + i*4
	return int(binary.LittleEndian.Uint32(b.data[offset:]))
}

// DataEnd returns the offset where the entry region ends (start of the
// restart array).
func (b *Block) DataEnd() int { return b.restarts }

// Iterator iterates over the entries of a Block in key order.
type Iterator struct {
	block       *Block
	data        []byte
	restartsEnd int
	cmp         Comparator
	current     int
	nextOffset  int
	key         []byte
	value       []byte
	valid       bool
	err         error
}

// NewIterator creates an iterator over b. A nil cmp defaults to
// BytewiseComparator.
func (b *Block) NewIterator(cmp Comparator) *Iterator {
	if cmp == nil {
		cmp = BytewiseComparator
	}
	return &Iterator{
		block:       b,
		data:        b.data,
		restartsEnd: b.restarts,
		cmp:         cmp,
	}
}

func (it *Iterator) Valid() bool  { return it.valid && it.err == nil }
func (it *Iterator) Key() []byte  { return it.key }
func (it *Iterator) Value() []byte { return it.value }
func (it *Iterator) Error() error { return it.err }

// SeekToFirst positions the iterator at the first entry.
func (it *Iterator) SeekToFirst() {
	it.key = it.key[:0]
	it.value = nil
	it.valid = false
	it.current = 0
	it.nextOffset = 0
	it.Next()
}

// SeekToLast positions the iterator at the last entry.
func (it *Iterator) SeekToLast() {
	it.seekToRestartPoint(it.block.numRestarts - 1)

	var lastKey, lastValue []byte
	var lastCurrent, lastNextOffset int
	lastValid := false

	for {
		it.Next()
		if !it.Valid() {
			break
		}
		lastKey = append(lastKey[:0], it.key...)
		lastValue = it.value
		lastCurrent = it.current
		lastNextOffset = it.nextOffset
		lastValid = true
	}

	if lastValid {
		it.key = lastKey
		it.value = lastValue
		it.current = lastCurrent
		it.nextOffset = lastNextOffset
		it.valid = true
	}
}

// Next moves to the next entry.
func (it *Iterator) Next() {
	if it.err != nil {
		it.valid = false
		return
	}
	if it.nextOffset >= it.restartsEnd {
		it.valid = false
		return
	}
	it.current = it.nextOffset
	it.parseCurrentEntry()
}

// Prev moves to the previous entry. REQUIRES: Valid().
func (it *Iterator) Prev() {
	if it.err != nil {
		it.valid = false
		return
	}

	original := it.current
	restartIndex := it.findRestartPointBefore(original)

	restartOffset := it.block.GetRestartPoint(restartIndex)
	if restartOffset == original && restartIndex > 0 {
		restartIndex--
	}

	it.seekToRestartPoint(restartIndex)

	var prevKey, prevValue []byte
	var prevCurrent, prevNextOffset int
	found := false

	for {
		it.Next()
		if !it.Valid() || it.current >= original {
			break
		}
		prevKey = append(prevKey[:0], it.key...)
		prevValue = it.value
		prevCurrent = it.current
		prevNextOffset = it.nextOffset
		found = true
	}

	if found {
		it.key = prevKey
		it.value = prevValue
		it.current = prevCurrent
		it.nextOffset = prevNextOffset
		it.valid = true
	} else {
		it.valid = false
	}
}

// NextK moves forward k entries by calling Next k times, stopping early if
// the iterator becomes invalid. If the iterator is not valid on entry, it
// first seeks to the first entry and counts that as one of the k steps.
func (it *Iterator) NextK(k int) {
	if k <= 0 {
		return
	}
	if !it.Valid() {
		it.SeekToFirst()
		k--
	}
	for ; k > 0 && it.Valid(); k-- {
		it.Next()
	}
}

// CurrentOffset returns the byte offset of the iterator's current entry
// within the block. REQUIRES: Valid().
func (it *Iterator) CurrentOffset() int { return it.current }

// RestartIndex returns the 0-based ordinal of the iterator's current entry
// among the block's restart points (every entry is itself a restart point).
// REQUIRES: Valid().
func (it *Iterator) RestartIndex() int {
	left, right := 0, it.block.numRestarts-1
	for left < right {
		mid := (left + right + 1) / 2
		if it.block.GetRestartPoint(mid) <= it.current {
			left = mid
		} else {
			right = mid - 1
		}
	}
	return left
}

// SeekToRestartIndex positions the iterator directly at the i-th restart
// point, decoding exactly that one entry. REQUIRES: 0 <= i < NumRestarts().
func (it *Iterator) SeekToRestartIndex(i int) {
	it.seekToRestartPoint(i)
	it.Next()
}

// findRestartPointBefore finds the largest restart index with offset <= target.
func (it *Iterator) findRestartPointBefore(target int) int {
	left := 0
	right := it.block.numRestarts - 1

	for left < right {
		mid := (left + right + 1) / 2
		offset := it.block.GetRestartPoint(mid)
		if offset <= target {
			left = mid
		} else {
			right = mid - 1
		}
	}
	return left
}

// seekToRestartPoint positions the iterator at the given restart point.
func (it *Iterator) seekToRestartPoint(index int) {
	it.key = it.key[:0]
	it.value = nil
	it.valid = false
	offset := max(it.block.GetRestartPoint(index), 0)
	it.current = offset
	it.nextOffset = offset
}

// parseCurrentEntry parses the verbatim entry at it.current:
// varint(keylen) varint(vallen) key value.
func (it *Iterator) parseCurrentEntry() {
	if it.current >= it.restartsEnd {
		it.valid = false
		return
	}

	data := it.data[it.current:]
	offset := 0

	keyLen, n1, err := encoding.DecodeVarint32(data)
	if err != nil {
		it.err = ErrBadBlock
		it.valid = false
		return
	}
	offset += n1
	data = data[n1:]

	valLen, n2, err := encoding.DecodeVarint32(data)
	if err != nil {
		it.err = ErrBadBlock
		it.valid = false
		return
	}
	offset += n2
	data = data[n2:]

	if len(data) < int(keyLen)+int(valLen) {
		it.err = ErrBadBlock
		it.valid = false
		return
	}

	it.key = append(it.key[:0], data[:keyLen]...)
	offset += int(keyLen)
	data = data[keyLen:]

	it.value = data[:valLen]
	offset += int(valLen)

	it.nextOffset = it.current + offset
	it.valid = true
}

// Seek positions the iterator at the first key >= target. When the block
// carries a DBit sidecar, it extracts target's partial key, probes the
// sidecar for a candidate restart, and confirms with a single full-key
// comparison (FinishSeek walks off at most a few restarts on a miss)
// instead of a binary search over restart keys.
func (it *Iterator) Seek(target []byte) {
	if it.block.dbit != nil {
		it.dbitSeek(target)
		return
	}
	it.binarySeek(target)
}

// binarySeek is the restart-key binary search fallback used when the block
// has no DBit sidecar.
func (it *Iterator) binarySeek(target []byte) {
	left := 0
	right := it.block.numRestarts - 1

	for left < right {
		mid := (left + right + 1) / 2
		it.seekToRestartPoint(mid)
		it.Next()

		if !it.Valid() || it.cmp(it.key, target) > 0 {
			right = mid - 1
		} else {
			left = mid
		}
	}

	it.seekToRestartPoint(left)
	for {
		it.Next()
		if !it.Valid() {
			return
		}
		if it.cmp(it.key, target) >= 0 {
			return
		}
	}
}

// dbitSeek resolves target against the block's DBit sidecar: Lookup gives a
// candidate restart position from the extracted partial key alone, then a
// single full-key comparison against that candidate either confirms it or
// drives FinishSeek's bounded walk to the true position, per the sidecar's
// P3 consistency invariant (inserted[pos-1] < target <= inserted[pos]).
func (it *Iterator) dbitSeek(target []byte) {
	idx := it.block.dbit
	pos := idx.Lookup(idx.ExtractKey(target))
	if !it.seekRestartValid(pos) {
		return
	}

	cmp := it.cmp(target, it.key)
	if cmp == 0 {
		return
	}

	probeKey := append([]byte(nil), it.key...)
	lcp := idx.PartialKeyLCP(target, probeKey)
	pos = idx.FinishSeek(pos, cmp, lcp, func(i int) []byte {
		if !it.seekRestartValid(i) {
			return nil
		}
		return it.key
	})
	it.seekRestartValid(pos)
}

// seekRestartValid positions the iterator at restart index pos and reports
// whether pos names an in-range entry; an out-of-range pos (target exceeds
// every key in the block) leaves the iterator invalid.
func (it *Iterator) seekRestartValid(pos int) bool {
	if pos < 0 || pos >= it.block.numRestarts {
		it.valid = false
		return false
	}
	it.seekToRestartPoint(pos)
	it.Next()
	return it.Valid()
}

// SeekForPrev positions the iterator at the last entry with key <= target,
// or invalid if every entry's key exceeds target.
func (it *Iterator) SeekForPrev(target []byte) {
	it.Seek(target)
	if !it.Valid() {
		it.SeekToLast()
		return
	}
	if it.cmp(it.key, target) > 0 {
		it.Prev()
	}
}
