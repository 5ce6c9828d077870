// Package level implements the level iterator: a merge of a
// top-level table with its lower levels, driven by a per-key pilot block so
// that Seek and Next need not decode every intervening lower-level data
// block.
package level

import (
	"github.com/sstcore/sstcore/internal/block"
	"github.com/sstcore/sstcore/internal/pilot"
	"github.com/sstcore/sstcore/internal/table"
)

// BinarySeekThreshold is the minimum number of lower-level entries
// accumulated in a single top-level key's window above which Seek probes
// the window with a binary search instead of scanning it linearly.
var BinarySeekThreshold = 8

// Iterator merges a top-level table iterator with its lower-level table
// iterators, presenting the union as a single sorted iterator. It never
// decodes a lower-level data block that the current pilot entry doesn't
// say it needs.
type Iterator struct {
	top    *table.Iterator
	levels []*table.Iterator
	cmp    block.Comparator

	pilotIter *block.Iterator
	entry     pilot.Entry

	// current is -1 while currentIter is top itself (the entry's pilot
	// window, entry.Levels, describes the lower-level keys between top's
	// current key and its successor, not before it); otherwise it indexes
	// entry.Levels.
	current     int
	currentIter *table.Iterator

	err error
}

// NewIterator creates a level iterator over top and its lower levels,
// using pilotBlock (as built by pilot.PerKeyBuilder) to navigate between
// them. pilotBlock may be nil when levels is empty, in which case the
// iterator is a plain pass-through over top.
func NewIterator(top *table.Iterator, levels []*table.Iterator, pilotBlock *block.Block, cmp block.Comparator) *Iterator {
	if cmp == nil {
		cmp = block.BytewiseComparator
	}
	it := &Iterator{
		top:    top,
		levels: levels,
		cmp:    cmp,
	}
	if pilotBlock != nil {
		it.pilotIter = pilotBlock.NewIterator(cmp)
	}
	return it
}

func (it *Iterator) Valid() bool {
	return it.err == nil && it.currentIter != nil && it.currentIter.Valid()
}

func (it *Iterator) Key() []byte {
	if it.currentIter == nil {
		return nil
	}
	return it.currentIter.Key()
}

func (it *Iterator) Value() []byte {
	if it.currentIter == nil {
		return nil
	}
	return it.currentIter.Value()
}

func (it *Iterator) Error() error { return it.err }

// SeekToFirst positions the iterator at the smallest key across the
// top level and its lower levels: the top level's first key, since a top
// level's key range is assumed to cover the full merge (no lower-level key
// precedes it).
func (it *Iterator) SeekToFirst() {
	it.err = nil
	it.top.SeekToFirst()
	if !it.top.Valid() {
		it.currentIter = nil
		return
	}
	it.enterTop()
}

// Seek positions the iterator at the first entry, across the top level and
// its lower levels, with key >= target. It locates the top-level key that
// may precede target via SeekForPrev, fetches that key's trailing window,
// and, if the top key itself doesn't already satisfy target, narrows into
// the window either by binary search (when it's large enough to be worth
// it) or a linear scan; both can cross into later windows via Next.
func (it *Iterator) Seek(target []byte) {
	it.err = nil
	it.top.SeekForPrev(target)
	if !it.top.Valid() {
		it.top.SeekToFirst()
	}
	if !it.top.Valid() {
		it.currentIter = nil
		return
	}
	it.enterTop()

	if !it.Valid() || it.cmp(it.Key(), target) >= 0 {
		return
	}

	if len(it.entry.Levels) > BinarySeekThreshold {
		it.binarySeek(target)
		return
	}
	for it.Valid() && it.cmp(it.Key(), target) < 0 {
		it.Next()
	}
}

// Next advances to the next entry: from top's current key into its
// trailing window, through the window in pilot-recorded order, then to the
// next top key once the window is exhausted.
func (it *Iterator) Next() {
	if it.currentIter == nil {
		return
	}

	if it.current < 0 {
		// Sitting on a top key; either enter its window or, if the window
		// is empty, move straight to the next top key.
		if len(it.entry.Levels) == 0 {
			it.advanceTop()
			return
		}
		it.current = 0
		it.currentIter = it.levels[it.entry.Levels[0]]
		return
	}

	it.currentIter.Next()
	it.current++
	if it.current < len(it.entry.Levels) {
		it.currentIter = it.levels[it.entry.Levels[it.current]]
		return
	}
	it.advanceTop()
}

// enterTop fetches the pilot entry for top's current key, syncs the lower
// levels to it, and positions the iterator at top's own key (current = -1).
func (it *Iterator) enterTop() {
	if !it.fetchPilot(it.top.Key()) {
		it.currentIter = nil
		return
	}
	it.syncLevels()
	it.current = -1
	it.currentIter = it.top
}

// advanceTop moves past the exhausted window to the next top key, or
// invalidates the iterator if top has no more keys.
func (it *Iterator) advanceTop() {
	it.top.Next()
	if !it.top.Valid() {
		it.currentIter = nil
		return
	}
	it.enterTop()
}

// fetchPilot positions the pilot iterator at the entry keyed exactly by
// topKey (pilot entries are keyed by top-level key, describing the window
// of lower-level keys between that key and its successor) and decodes it.
// A table with no lower levels, or a pilot block with no entry for topKey
// (the top key's trailing window is empty), decodes to a zero Entry.
func (it *Iterator) fetchPilot(topKey []byte) bool {
	if it.pilotIter == nil || len(it.levels) == 0 {
		it.entry = pilot.Entry{}
		return true
	}
	it.pilotIter.Seek(topKey)
	if !it.pilotIter.Valid() {
		it.entry = pilot.Entry{}
		return true
	}
	e, err := pilot.DecodeEntry(it.pilotIter.Value())
	if err != nil {
		it.err = err
		return false
	}
	it.entry = e
	return true
}

// syncLevels repositions every lower level to the cursor the current pilot
// entry recorded for it.
func (it *Iterator) syncLevels() {
	for i := range it.levels {
		if i >= len(it.entry.Positions) {
			it.invalidateLevel(i)
			continue
		}
		it.syncOneLevel(i)
	}
}

func (it *Iterator) syncOneLevel(level int) {
	p := it.entry.Positions[level]
	if p.PastEnd {
		it.invalidateLevel(level)
		return
	}
	it.levels[level].SeekToRestartPositions(int(p.IndexOrdinal), int(p.DataOrdinal))
}

func (it *Iterator) invalidateLevel(level int) {
	lvl := it.levels[level]
	lvl.SeekToLast()
	lvl.Next()
}

// binarySeek narrows the current window (top's key already having been
// ruled out by the caller) to the first position with key >= target, using
// a binary search over entry.Levels rather than replaying the original's
// incremental occurrence bookkeeping: every probe reseeks the probed
// level from its pilot-recorded start and fast-forwards by that level's
// occurrence count within the window (occur), making each probe a pure
// function of (start, count) instead of of probe order. A final
// resyncLevels pass then repositions every level touched before the
// winning index to just past its last occurrence there, leaving the window
// in the same state either traversal order would. If no window position
// satisfies target, the next top key necessarily does (by the SeekForPrev
// invariant), so the search falls through to a linear Next() scan.
func (it *Iterator) binarySeek(target []byte) {
	levels := it.entry.Levels
	occur := occurrences(levels)

	lo, hi := 0, len(levels)
	for lo < hi {
		mid := (lo + hi) / 2
		lvl := int(levels[mid])
		it.syncOneLevel(lvl)
		if occur[mid] > 0 {
			it.levels[lvl].NextK(uint64(occur[mid]))
		}
		if it.levels[lvl].Valid() && it.cmp(it.levels[lvl].Key(), target) >= 0 {
			hi = mid
		} else {
			lo = mid + 1
		}
	}

	if lo < len(levels) {
		it.resyncLevels(lo)
		it.current = lo
		it.currentIter = it.levels[levels[lo]]
		return
	}

	it.advanceTop()
	for it.Valid() && it.cmp(it.Key(), target) < 0 {
		it.Next()
	}
}

// occurrences returns, for each position i, the number of times
// levels[i] occurs earlier in levels[0:i].
func occurrences(levels []byte) []int {
	occur := make([]int, len(levels))
	seen := make(map[byte]int, len(levels))
	for i, l := range levels {
		occur[i] = seen[l]
		seen[l]++
	}
	return occur
}

// resyncLevels repositions every level that occurs at least once in
// entry.Levels[0:upto] to just past its last occurrence there, undoing
// whatever binarySeek's probing left it at.
func (it *Iterator) resyncLevels(upto int) {
	levels := it.entry.Levels
	if upto > len(levels) {
		upto = len(levels)
	}
	counts := make(map[byte]int)
	for i := 0; i < upto; i++ {
		counts[levels[i]]++
	}
	for l, cnt := range counts {
		it.syncOneLevel(int(l))
		if cnt > 0 {
			it.levels[l].NextK(uint64(cnt))
		}
	}
}
