package sstcore

import "github.com/sstcore/sstcore/internal/block"

// Comparator orders keys. Every block, index, pilot, and level component
// takes one; callers needing non-bytewise order (reversed, numeric,
// composite) implement it directly rather than going through an interface
// with FindShortestSeparator/FindShortSuccessor methods — this format never
// prefix-compresses keys, so there's no separator-shortening step that
// would need them.
type Comparator = block.Comparator

// BytewiseComparator orders keys by unsigned byte value; the default for
// every Builder and Reader that doesn't set one explicitly.
var BytewiseComparator Comparator = block.BytewiseComparator

// Block is a decoded data, index, or pilot block: the unit Reader.ReadBlock
// returns and NewLevelIterator/NewMarsIterator consume.
type Block = block.Block

// NewBlock decodes a block's raw bytes, such as a MarsPilotBuilder's or
// PerKeyPilotBuilder's Finish output, into a Block.
func NewBlock(data []byte) (*Block, error) {
	return block.NewBlock(data)
}
