// builder.go implements block building. Every key is stored verbatim and
// is itself a restart point (no prefix/delta compression): random access
// inside a block never needs to replay a run of entries to reconstruct a
// key, and the restart array doubles as the DBit sidecar's entry index.
package block

import (
	"github.com/sstcore/sstcore/internal/encoding"
)

// Builder accumulates key-value entries for a single block.
//
// Format (single entry):
//
//	key_length:   varint32
//	value_length: varint32
//	key:          char[key_length]
//	value:        char[value_length]
//
// Format (overall block):
//
//	[entry 1] [entry 2] ... [entry N]
//	[restart offset 1: fixed32] ... [restart offset N: fixed32]
//	(optional DBit sidecar)
//	[footer: fixed32]  // PackBlockFooter(hasDBit, N)
type Builder struct {
	buffer   []byte
	restarts []uint32
	lastKey  []byte
	finished bool
	dbit     *DBitBuilder // nil unless DBit sidecar accumulation is enabled
}

// NewBuilder creates a block builder with no DBit sidecar. Used for index,
// metaindex, and pilot blocks.
func NewBuilder() *Builder {
	return &Builder{buffer: make([]byte, 0, 4096)}
}

// NewBuilderWithDBit creates a block builder that also accumulates a DBit
// sidecar. Used for data blocks.
func NewBuilderWithDBit() *Builder {
	b := NewBuilder()
	b.dbit = NewDBitBuilder()
	return b
}

// Reset resets the builder for reuse.
func (b *Builder) Reset() {
	b.buffer = b.buffer[:0]
	b.restarts = b.restarts[:0]
	b.lastKey = b.lastKey[:0]
	b.finished = false
	if b.dbit != nil {
		b.dbit.Reset()
	}
}

// Add adds a key-value pair to the block.
// REQUIRES: Finish() has not been called since the last Reset().
// REQUIRES: key is larger than any previously added key.
func (b *Builder) Add(key, value []byte) {
	if b.finished {
		panic("block: Add called after Finish")
	}

	b.restarts = append(b.restarts, uint32(len(b.buffer)))

	b.buffer = encoding.AppendVarint32(b.buffer, uint32(len(key)))
	b.buffer = encoding.AppendVarint32(b.buffer, uint32(len(value)))
	b.buffer = append(b.buffer, key...)
	b.buffer = append(b.buffer, value...)

	if b.dbit != nil {
		b.dbit.Add(key)
	}

	b.lastKey = append(b.lastKey[:0], key...)
}

// CurrentSizeEstimate returns an estimate of the current block size,
// including the restart array and footer but excluding any not-yet-Finish'd
// DBit sidecar.
func (b *Builder) CurrentSizeEstimate() int {
	return len(b.buffer) + len(b.restarts)*4 + 4
}

// EstimateSizeAfterKV estimates the block size after adding a key-value pair.
func (b *Builder) EstimateSizeAfterKV(key, value []byte) int {
	estimate := b.CurrentSizeEstimate()
	estimate += encoding.VarintLength(uint64(len(key)))
	estimate += encoding.VarintLength(uint64(len(value)))
	estimate += len(key) + len(value)
	estimate += 4 // new restart offset
	return estimate
}

// Empty returns true if no entries have been added.
func (b *Builder) Empty() bool {
	return len(b.buffer) == 0
}

// NumEntries returns the number of entries (and restart points) added.
func (b *Builder) NumEntries() int {
	return len(b.restarts)
}

// Finish finishes building the block and returns its bytes. The returned
// slice is valid until Reset() is called.
func (b *Builder) Finish() []byte {
	for _, restart := range b.restarts {
		b.buffer = encoding.AppendFixed32(b.buffer, restart)
	}

	hasDBit := false
	if b.dbit != nil && b.dbit.NumPairs() > 0 {
		ranks, maskBytes, maskLen, ok := b.dbit.Finish()
		if ok {
			b.buffer = append(b.buffer, ranks...)
			b.buffer = append(b.buffer, maskBytes...)
			b.buffer = encoding.AppendFixed16(b.buffer, maskLen)
			hasDBit = true
		}
		// ok == false means M exceeded MaxDiscriminators: fall back to a
		// plain block (no DBit sidecar) rather than serialize colliding ranks.
	}

	footer := PackBlockFooter(hasDBit, uint32(len(b.restarts)))
	b.buffer = encoding.AppendFixed32(b.buffer, footer)

	b.finished = true
	return b.buffer
}

// sharedPrefixLength returns the length of the shared prefix between a and b.
func sharedPrefixLength(a, b []byte) int {
	n := min(len(a), len(b))
	for i := range n {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}
