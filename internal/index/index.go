// Package index implements the index block: a regular block whose entries
// map a data block's separator key to an IndexValue carrying the block's
// handle and first key. The value's Restarts field holds the cumulative
// entry count through the pointed block, turning the index into a rank
// index over the data layer so a table iterator can skip exactly k
// data-entries via binary search instead of decoding intervening blocks.
package index

import (
	"errors"

	"github.com/sstcore/sstcore/internal/block"
	"github.com/sstcore/sstcore/internal/encoding"
)

// ErrBadIndexValue is returned when an index entry's value cannot be
// decoded as an IndexValue.
var ErrBadIndexValue = errors.New("index: bad index value")

// Value is the value half of an index block entry: the handle of the data
// block this entry points to, the cumulative data-entry count through that
// block (Restarts), and the block's first key.
type Value struct {
	Handle   block.Handle
	Restarts uint64
	FirstKey []byte
}

// EncodeTo appends the wire encoding of v to dst:
// block_handle varint(offset) varint(size), varint(restarts),
// varint(len(first_key)) first_key.
func (v Value) EncodeTo(dst []byte) []byte {
	dst = v.Handle.EncodeTo(dst)
	dst = encoding.AppendVarint64(dst, v.Restarts)
	dst = encoding.AppendVarint32(dst, uint32(len(v.FirstKey)))
	dst = append(dst, v.FirstKey...)
	return dst
}

// DecodeValue decodes an IndexValue from data.
func DecodeValue(data []byte) (Value, error) {
	handle, rest, err := block.DecodeHandle(data)
	if err != nil {
		return Value{}, ErrBadIndexValue
	}

	restarts, n, err := encoding.DecodeVarint64(rest)
	if err != nil {
		return Value{}, ErrBadIndexValue
	}
	rest = rest[n:]

	keyLen, n, err := encoding.DecodeVarint32(rest)
	if err != nil {
		return Value{}, ErrBadIndexValue
	}
	rest = rest[n:]

	if len(rest) < int(keyLen) {
		return Value{}, ErrBadIndexValue
	}

	return Value{
		Handle:   handle,
		Restarts: restarts,
		FirstKey: rest[:keyLen],
	}, nil
}

// Builder accumulates (separator_key -> IndexValue) entries for the index
// block. OnKeyAdded remembers the first key of the data block currently
// being built; AddEntry is called once that block is flushed, using its
// last key as the separator.
type Builder struct {
	block          *block.Builder
	pendingFirst   []byte
	haveFirst      bool
	cumulative     uint64
}

// NewBuilder creates an empty index builder.
func NewBuilder() *Builder {
	return &Builder{block: block.NewBuilder()}
}

// OnKeyAdded records key as the first key of the data block currently
// being accumulated, if no first key has been recorded since the last
// AddEntry.
func (b *Builder) OnKeyAdded(key []byte) {
	if !b.haveFirst {
		b.pendingFirst = append(b.pendingFirst[:0], key...)
		b.haveFirst = true
	}
}

// AddEntry adds an index entry for a just-flushed data block: lastKey is
// the separator (the last key written to that block), handle is its
// location, and numEntries is the number of entries it contains (used to
// maintain the running cumulative count stored in handle.Restarts).
func (b *Builder) AddEntry(lastKey []byte, handle block.Handle, numEntries uint64) {
	b.cumulative += numEntries
	iv := Value{
		Handle:   handle,
		Restarts: b.cumulative,
		FirstKey: b.pendingFirst,
	}
	b.block.Add(lastKey, iv.EncodeTo(nil))
	b.haveFirst = false
}

// Finish finishes the index block and returns its bytes.
func (b *Builder) Finish() []byte {
	return b.block.Finish()
}

// Empty returns true if no entries have been added.
func (b *Builder) Empty() bool {
	return b.block.Empty()
}

// Reset resets the builder for reuse.
func (b *Builder) Reset() {
	b.block.Reset()
	b.pendingFirst = b.pendingFirst[:0]
	b.haveFirst = false
	b.cumulative = 0
}

// Reader wraps a parsed index block and exposes iteration plus the
// cumulative-restart binary search that makes Next(k) possible.
type Reader struct {
	blk *block.Block
}

// NewReader parses data as an index block.
func NewReader(data []byte) (*Reader, error) {
	blk, err := block.NewBlock(data)
	if err != nil {
		return nil, err
	}
	return &Reader{blk: blk}, nil
}

// NewReaderFromBlock wraps an already-parsed index block.
func NewReaderFromBlock(blk *block.Block) *Reader {
	return &Reader{blk: blk}
}

// NewIterator returns an iterator over the index block's separator-key
// entries. Values are raw encoded IndexValue bytes; callers use
// DecodeValue to interpret them.
func (r *Reader) NewIterator(cmp block.Comparator) *block.Iterator {
	return r.blk.NewIterator(cmp)
}

// NumRestarts returns the number of entries in the index block (one per
// data block).
func (r *Reader) NumRestarts() int {
	return r.blk.NumRestarts()
}

// BinarySearchRestarts finds the smallest index entry whose cumulative
// Restarts exceeds target, using the index block's own restart-point
// binary search (O(log |index|)) rather than a linear scan. It returns the
// decoded IndexValue for that entry, the entry's ordinal position within
// the index block, and the previous entry's cumulative restart count (0 if
// this is the first entry).
func BinarySearchRestarts(r *Reader, target uint64) (iv Value, ordinal int, prevCumulative uint64, ok bool) {
	left, right := 0, r.blk.NumRestarts()-1
	if right < 0 {
		return Value{}, 0, 0, false
	}

	it := r.blk.NewIterator(nil)
	decodeAt := func(i int) (Value, error) {
		it.SeekToRestartIndex(i)
		if !it.Valid() {
			return Value{}, ErrBadIndexValue
		}
		return DecodeValue(it.Value())
	}

	for left < right {
		mid := (left + right) / 2
		v, err := decodeAt(mid)
		if err != nil {
			return Value{}, 0, 0, false
		}
		if v.Restarts <= target {
			left = mid + 1
		} else {
			right = mid
		}
	}

	v, err := decodeAt(left)
	if err != nil {
		return Value{}, 0, 0, false
	}
	if v.Restarts <= target {
		return Value{}, 0, 0, false
	}

	prev := uint64(0)
	if left > 0 {
		pv, err := decodeAt(left - 1)
		if err == nil {
			prev = pv.Restarts
		}
	}

	return v, left, prev, true
}
