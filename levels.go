// levels.go re-exports the multi-level merge surface from internal/pilot
// and internal/level: building and consuming the pilot block that lets a
// level iterator merge a top-level table with its lower levels without
// decoding every intervening lower-level block.
package sstcore

import (
	"github.com/sstcore/sstcore/internal/level"
	"github.com/sstcore/sstcore/internal/pilot"
)

type (
	// PerKeyPilotBuilder builds a pilot block with one entry per top-level
	// key. Attach it as BuilderOptions.Pilot while writing the top-level
	// table.
	PerKeyPilotBuilder = pilot.PerKeyBuilder

	// MarsPilotBuilder builds a pilot block with one entry per
	// pilot.MarsChunkSize merged keys, drawn from a symmetric N-way merge
	// with no distinguished top level. Unlike PerKeyPilotBuilder, it isn't
	// driven through BuilderOptions.Pilot — call Build directly once every
	// level's table is written.
	MarsPilotBuilder = pilot.MarsBuilder

	// MarsCounts is the in-memory side-channel a MarsPilotBuilder produces
	// alongside its pilot block and a MarsIterator needs to read it back.
	// It is never written to the SST file: a Mars pilot is only readable
	// within the process and session that built it.
	MarsCounts = pilot.Counts

	// MarsIterator merges the levels a MarsPilotBuilder drained, using its
	// pilot block and MarsCounts to navigate.
	MarsIterator = pilot.MarsIterator

	// LevelIterator merges a top-level Reader's Iterator with its lower
	// levels' Iterators, using a PerKeyPilotBuilder's output to navigate.
	LevelIterator = level.Iterator
)

// MarsChunkSize is the number of merged keys a single Mars pilot entry
// covers.
const MarsChunkSize = pilot.MarsChunkSize

// SetBinarySeekThreshold overrides the minimum number of lower-level
// entries accumulated in a single top-level key's window above which
// LevelIterator.Seek probes the window with a binary search instead of a
// linear scan, and returns the previous value. Meant for tests that want
// to exercise the binary-search path against small fixtures.
func SetBinarySeekThreshold(n int) int {
	prev := level.BinarySeekThreshold
	level.BinarySeekThreshold = n
	return prev
}

// NewPerKeyPilotBuilder creates a per-key pilot builder over lowerLevels,
// each already opened for reading and not yet positioned.
func NewPerKeyPilotBuilder(lowerLevels []*Iterator, cmp Comparator) *PerKeyPilotBuilder {
	return pilot.NewPerKeyBuilder(lowerLevels, cmp)
}

// NewMarsPilotBuilder creates a Mars pilot builder over levels, each
// already opened for reading and not yet positioned.
func NewMarsPilotBuilder(levels []*Iterator, cmp Comparator) *MarsPilotBuilder {
	return pilot.NewMarsBuilder(levels, cmp)
}

// NewMarsIterator creates a Mars pilot iterator over pilotBlock (as built
// by a MarsPilotBuilder) and levels, using counts to resynchronize the
// merge position after a Seek.
func NewMarsIterator(pilotBlock *Block, counts MarsCounts, levels []*Iterator, cmp Comparator) *MarsIterator {
	return pilot.NewMarsIterator(pilotBlock, counts, levels, cmp)
}

// NewLevelIterator creates a level iterator over top and its lower levels,
// using pilotBlock (as built by a PerKeyPilotBuilder) to navigate between
// them. pilotBlock may be nil when levels is empty.
func NewLevelIterator(top *Iterator, levels []*Iterator, pilotBlock *Block, cmp Comparator) *LevelIterator {
	return level.NewIterator(top, levels, pilotBlock, cmp)
}
