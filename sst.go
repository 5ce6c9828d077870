// sst.go re-exports the single-table read/write surface from
// internal/table; that package does the real work; this file just gives
// outside callers a name for it, since internal/ packages aren't
// importable outside this module.
package sstcore

import (
	"github.com/sstcore/sstcore/internal/cache"
	"github.com/sstcore/sstcore/internal/logging"
	"github.com/sstcore/sstcore/internal/table"
	"github.com/sstcore/sstcore/internal/vfs"
)

type (
	// FS is the filesystem a TableBuilder writes to and a Reader opens
	// from. Default() returns the real one; tests substitute their own.
	FS = vfs.FS

	// WritableFile is the write half of FS.
	WritableFile = vfs.WritableFile

	// RandomAccessFile is the read half of FS.
	RandomAccessFile = vfs.RandomAccessFile

	// BuilderOptions configures a TableBuilder.
	BuilderOptions = table.BuilderOptions

	// ReaderOptions configures a Reader.
	ReaderOptions = table.ReaderOptions

	// TableBuilder assembles data blocks, an index block, an optional
	// pilot block, a properties block, and a footer into one SST file.
	TableBuilder = table.TableBuilder

	// Reader reads an SST file written by a TableBuilder.
	Reader = table.Reader

	// Iterator reads a Reader's entries in sorted order.
	Iterator = table.Iterator

	// PilotBuilder is implemented by PerKeyPilotBuilder; attach one via
	// BuilderOptions.Pilot to have a TableBuilder record how a set of
	// lower-level tables interleave with this one's keys.
	PilotBuilder = table.PilotBuilder

	// Cache is an optional, capacity-bounded cache of decoded blocks,
	// attached via ReaderOptions.Cache.
	Cache = cache.Cache

	// Logger receives build and read progress messages, attached via
	// BuilderOptions.Logger / ReaderOptions.Logger.
	Logger = logging.Logger
)

// DiscardLogger is the default Logger: it discards every message.
var DiscardLogger = logging.Discard

// NewTableBuilder creates a TableBuilder writing to w.
func NewTableBuilder(w vfs.WritableFile, opts BuilderOptions) *TableBuilder {
	return table.NewTableBuilder(w, opts)
}

// Open opens an SST file for reading.
func Open(file vfs.RandomAccessFile, opts ReaderOptions) (*Reader, error) {
	return table.Open(file, opts)
}

// NewCache creates a Cache holding at most capacity decoded blocks.
// capacity <= 0 means unbounded.
func NewCache(capacity int) *Cache {
	return cache.New(capacity)
}

// DefaultFS returns the real, os-backed filesystem.
func DefaultFS() FS {
	return vfs.Default()
}
