package sstcore

import (
	"errors"

	"github.com/sstcore/sstcore/internal/block"
	"github.com/sstcore/sstcore/internal/index"
	"github.com/sstcore/sstcore/internal/pilot"
	"github.com/sstcore/sstcore/internal/table"
)

// Re-exported sentinels for callers that want to match a specific failure
// rather than the general IsCorruption predicate below.
var (
	ErrInvalidSST       = table.ErrInvalidSST
	ErrChecksumMismatch = table.ErrChecksumMismatch
	ErrBlockNotFound    = table.ErrBlockNotFound
)

// corruptionSentinels lists every error the block, index, pilot, and table
// packages raise when the bytes they're parsing don't describe a valid SST
// — as opposed to an *os.PathError or similar propagated unchanged from the
// underlying vfs.FS, which IsCorruption reports false for.
var corruptionSentinels = []error{
	block.ErrBadBlock,
	block.ErrBadBlockHandle,
	block.ErrBadBlockFooter,
	block.ErrCorruptDBitSidecar,
	index.ErrBadIndexValue,
	pilot.ErrBadEntry,
	table.ErrInvalidSST,
	table.ErrChecksumMismatch,
}

// IsCorruption reports whether err indicates the SST data itself is
// malformed, rather than a failure to reach or read the underlying file.
//
// Out-of-range is not an error in this API: an out-of-range seek just
// leaves an Iterator with Valid() == false and Error() == nil. Of the logic
// errors, a TableBuilder used after Finish or Abandon returns an error
// (ErrBuilderFinished in internal/table, which IsCorruption reports false
// for), and the order of keys passed to Add is not checked.
func IsCorruption(err error) bool {
	for _, sentinel := range corruptionSentinels {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
