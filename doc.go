/*
Package sstcore implements a sorted-string-table (SST) file format and the
readers and writers for it: a block-based, immutable, single-file key/value
store meant to sit underneath an LSM-tree storage engine rather than be one
itself — this package has no WAL, no MANIFEST, and no compaction policy; it
only reads and writes the SST files such an engine would manage.

Two features set this format apart from a plain sorted-block file:

  - A Discriminative-Bit (DBit) index inside each data block, letting a seek
    land on the right entry within the block without a full binary search
    over shared-prefix-compressed keys (this format never prefix-compresses
    keys, trading a little size for a simpler, faster seek path).
  - A pilot block that records, for a "top" table's keys, exactly how its
    lower-level tables interleave between them — so a level iterator can
    merge a top-level table with its lower levels by replaying recorded
    cursor positions instead of re-decoding every intervening block.

# Usage

Build a table with NewTableBuilder, writing keys in increasing order, then
Finish it. Open a finished table for reading with Open, and iterate with
NewIterator. The pilot and level packages (internal/pilot, internal/level)
build and consume the pilot block for multi-level merges; this package's
surface is the single-table read/write path.

# Concurrency

A Reader and its Iterators are not safe for concurrent use by multiple
goroutines; give each goroutine its own Iterator over a shared Reader.
Builders are not safe for concurrent use at all — a table is written by one
goroutine, once, start to finish.
*/
package sstcore
