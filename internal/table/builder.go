// Package table assembles data blocks, an index block, an optional pilot
// block, a properties block, a metaindex block, and a footer into a single
// immutable SST file, and reads that file back out.
package table

import (
	"encoding/binary"
	"errors"
	"sort"

	"github.com/sstcore/sstcore/internal/block"
	"github.com/sstcore/sstcore/internal/checksum"
	"github.com/sstcore/sstcore/internal/compression"
	"github.com/sstcore/sstcore/internal/encoding"
	"github.com/sstcore/sstcore/internal/index"
	"github.com/sstcore/sstcore/internal/logging"
	"github.com/sstcore/sstcore/internal/testutil"
	"github.com/sstcore/sstcore/internal/vfs"
)

// MetaPilotKey is the metaindex key under which the pilot block's handle is
// stored, when a pilot builder is attached.
const MetaPilotKey = "seek.pilot"

// MetaPropertiesKey is the metaindex key under which the properties block's
// handle is stored.
const MetaPropertiesKey = "sstcore.properties"

var (
	// ErrBuilderFinished is returned by any mutating call after Finish or
	// Abandon.
	ErrBuilderFinished = errors.New("table: builder already finished")
)

// PilotBuilder is the narrow interface TableBuilder drives during Add: for
// every top-level key, it drains whatever lower-level entries precede it
// and records the interleaving. The per-key pilot builder in internal/pilot
// satisfies this via duck typing to avoid a table -> pilot import cycle
// (pilot depends on table.Reader for its lower levels); the Mars builder
// does not implement it and is run through its own Build instead.
type PilotBuilder interface {
	BuildPilot(key []byte) error
	Finish() ([]byte, error)
}

// Compressor is the pluggable compression seam. Data blocks are written
// uncompressed (trailer tag 0) unless BuilderOptions.Compression names a
// codec, in which case the Compressor performs the compression.
type Compressor interface {
	Compress(t compression.Type, data []byte) ([]byte, error)
}

type stdCompressor struct{}

func (stdCompressor) Compress(t compression.Type, data []byte) ([]byte, error) {
	return compression.Compress(t, data)
}

// BuilderOptions configures a TableBuilder.
type BuilderOptions struct {
	// BlockSize is the target size for data blocks before a flush (default 4096).
	BlockSize int

	// ChecksumType selects the block trailer / footer checksum algorithm.
	// Defaults to ChecksumTypeCRC32C.
	ChecksumType checksum.Type

	// ComparatorName is recorded in the properties block for diagnostics.
	ComparatorName string

	// Compression, if not compression.NoCompression, is applied to data
	// blocks via Compressor. The wire format's core DBit/pilot path is
	// unaffected either way; this is an optional overlay.
	Compression compression.Type

	// Compressor implements Compression when set; defaults to the real
	// snappy/zstd/lz4 backed compression.Compress.
	Compressor Compressor

	// Pilot, if non-nil, receives BuildPilot(key) on every Add and its
	// Finish() output is written as the pilot block.
	Pilot PilotBuilder

	// Logger receives build progress and pilot construction messages.
	// Defaults to logging.Discard.
	Logger logging.Logger
}

// DefaultBuilderOptions returns the default options.
func DefaultBuilderOptions() BuilderOptions {
	return BuilderOptions{
		BlockSize:      4096,
		ChecksumType:   checksum.TypeCRC32C,
		ComparatorName: "sstcore.BytewiseComparator",
		Compression:    compression.NoCompression,
		Logger:         logging.Discard,
	}
}

// TableBuilder builds an SST file in order, one (key, value) pair at a
// time, with strictly increasing keys.
type TableBuilder struct {
	writer  vfs.WritableFile
	options BuilderOptions

	dataBlock  *block.Builder
	indexBuild *index.Builder

	pendingHandle     block.Handle
	pendingNumEntries uint64
	havePending       bool
	lastKey           []byte

	offset uint64

	numEntries   uint64
	numDataBlks  uint64
	rawKeySize   uint64
	rawValueSize uint64
	dataSize     uint64
	indexSize    uint64

	finished bool
	err      error
}

// NewTableBuilder creates a TableBuilder writing to w.
func NewTableBuilder(w vfs.WritableFile, opts BuilderOptions) *TableBuilder {
	if opts.BlockSize <= 0 {
		opts.BlockSize = 4096
	}
	if opts.ChecksumType == 0 {
		opts.ChecksumType = checksum.TypeCRC32C
	}
	if opts.ComparatorName == "" {
		opts.ComparatorName = "sstcore.BytewiseComparator"
	}
	if opts.Compressor == nil {
		opts.Compressor = stdCompressor{}
	}
	if logging.IsNil(opts.Logger) {
		opts.Logger = logging.Discard
	}

	return &TableBuilder{
		writer:     w,
		options:    opts,
		dataBlock:  block.NewBuilderWithDBit(),
		indexBuild: index.NewBuilder(),
	}
}

// Add adds a key-value pair. Keys must be strictly increasing.
func (tb *TableBuilder) Add(key, value []byte) error {
	if tb.finished {
		return ErrBuilderFinished
	}
	if tb.err != nil {
		return tb.err
	}

	if tb.havePending {
		tb.indexBuild.AddEntry(tb.lastKey, tb.pendingHandle, tb.pendingNumEntries)
		tb.havePending = false
	}

	if tb.options.Pilot != nil {
		if err := tb.options.Pilot.BuildPilot(key); err != nil {
			tb.options.Logger.Errorf("%sBuildPilot failed: %v", logging.NSPilot, err)
			tb.err = err
			return err
		}
	}

	tb.indexBuild.OnKeyAdded(key)
	tb.dataBlock.Add(key, value)
	tb.numEntries++
	tb.rawKeySize += uint64(len(key))
	tb.rawValueSize += uint64(len(value))
	tb.lastKey = append(tb.lastKey[:0], key...)

	if tb.dataBlock.CurrentSizeEstimate() >= tb.options.BlockSize {
		if err := tb.flushDataBlock(); err != nil {
			tb.err = err
			return err
		}
	}

	return nil
}

func (tb *TableBuilder) flushDataBlock() error {
	if tb.dataBlock.Empty() {
		return nil
	}
	n := uint64(tb.dataBlock.NumEntries())
	contents := tb.dataBlock.Finish()

	handle, err := tb.writeBlockWithTrailer(contents, tb.options.Compression)
	if err != nil {
		return err
	}

	tb.dataSize += handle.Size
	tb.numDataBlks++

	tb.pendingHandle = handle
	tb.pendingNumEntries = n
	tb.havePending = true

	tb.dataBlock.Reset()
	return nil
}

// writeBlockWithTrailer writes block contents with optional compression and
// the [compression tag][masked checksum] trailer, returning its handle.
func (tb *TableBuilder) writeBlockWithTrailer(contents []byte, comp compression.Type) (block.Handle, error) {
	data := contents
	tag := compression.NoCompression

	if comp != compression.NoCompression {
		compressed, err := tb.options.Compressor.Compress(comp, contents)
		if err == nil && len(compressed) > 0 && len(compressed) < len(contents) {
			data = compressed
			tag = comp
		}
	}

	handle := block.Handle{Offset: tb.offset, Size: uint64(len(data))}

	n, err := tb.writer.Write(data)
	if err != nil {
		return block.Handle{}, err
	}
	tb.offset += uint64(n)

	trailer := make([]byte, block.BlockTrailerSize)
	trailer[0] = byte(tag)
	cksum := checksum.ComputeChecksum(tb.options.ChecksumType, data, trailer[0])
	binary.LittleEndian.PutUint32(trailer[1:], cksum)

	n, err = tb.writer.Write(trailer)
	if err != nil {
		return block.Handle{}, err
	}
	tb.offset += uint64(n)

	return handle, nil
}

// Finish flushes the tail data block and writes the index, optional pilot,
// properties, metaindex, and footer. After Finish the builder must not be
// used again.
func (tb *TableBuilder) Finish() error {
	testutil.MaybeKill(testutil.KPSSTClose0)

	if tb.finished {
		return ErrBuilderFinished
	}
	if tb.err != nil {
		return tb.err
	}
	tb.finished = true

	if err := tb.flushDataBlock(); err != nil {
		tb.err = err
		return err
	}
	if tb.havePending {
		tb.indexBuild.AddEntry(tb.lastKey, tb.pendingHandle, tb.pendingNumEntries)
		tb.havePending = false
	}

	type metaEntry struct {
		key   string
		value []byte
	}
	var metaEntries []metaEntry

	if tb.options.Pilot != nil {
		testutil.MaybeKill(testutil.KPPilotWrite0)
		pilotData, err := tb.options.Pilot.Finish()
		if err != nil {
			tb.err = err
			return err
		}
		if len(pilotData) > 0 {
			pilotHandle, err := tb.writeBlockWithTrailer(pilotData, compression.NoCompression)
			if err != nil {
				tb.err = err
				return err
			}
			metaEntries = append(metaEntries, metaEntry{MetaPilotKey, pilotHandle.EncodeToSlice()})
			tb.options.Logger.Debugf("%swrote pilot block (%d bytes)", logging.NSPilot, pilotHandle.Size)
		}
	}

	propsData := tb.buildPropertiesBlock()
	propsHandle, err := tb.writeBlockWithTrailer(propsData, compression.NoCompression)
	if err != nil {
		tb.err = err
		return err
	}
	metaEntries = append(metaEntries, metaEntry{MetaPropertiesKey, propsHandle.EncodeToSlice()})

	indexContents := tb.indexBuild.Finish()
	indexHandle, err := tb.writeBlockWithTrailer(indexContents, compression.NoCompression)
	if err != nil {
		tb.err = err
		return err
	}
	tb.indexSize = indexHandle.Size

	sort.Slice(metaEntries, func(i, j int) bool { return metaEntries[i].key < metaEntries[j].key })

	metaindexBuilder := block.NewBuilder()
	for _, e := range metaEntries {
		metaindexBuilder.Add([]byte(e.key), e.value)
	}
	metaindexHandle, err := tb.writeBlockWithTrailer(metaindexBuilder.Finish(), compression.NoCompression)
	if err != nil {
		tb.err = err
		return err
	}

	footer := &block.Footer{
		ChecksumType:     block.ChecksumType(tb.options.ChecksumType),
		MetaindexHandle:  metaindexHandle,
		IndexHandle:      indexHandle,
		FormatVersion:    block.FormatVersion,
		TableMagicNumber: block.TableMagicNumber,
	}
	footerData := footer.EncodeTo()
	n, err := tb.writer.Write(footerData)
	if err != nil {
		tb.err = err
		return err
	}
	tb.offset += uint64(n)

	testutil.MaybeKill(testutil.KPSSTClose1)

	testutil.MaybeKill(testutil.KPFileSync0)
	if err := tb.writer.Sync(); err != nil {
		tb.err = err
		return err
	}
	testutil.MaybeKill(testutil.KPFileSync1)

	tb.options.Logger.Infof("%stable finished: %d entries, %d data blocks, %d bytes",
		logging.NSBuild, tb.numEntries, tb.numDataBlks, tb.offset)

	return nil
}

func (tb *TableBuilder) buildPropertiesBlock() []byte {
	type prop struct {
		name  string
		value []byte
	}
	addUint64 := func(props *[]prop, name string, v uint64) {
		buf := make([]byte, encoding.MaxVarintLen64)
		n := encoding.PutVarint64(buf, v)
		*props = append(*props, prop{name, buf[:n]})
	}

	var props []prop
	addUint64(&props, "sstcore.num.entries", tb.numEntries)
	addUint64(&props, "sstcore.raw.key.size", tb.rawKeySize)
	addUint64(&props, "sstcore.raw.value.size", tb.rawValueSize)
	addUint64(&props, "sstcore.data.size", tb.dataSize)
	addUint64(&props, "sstcore.index.size", tb.indexSize)
	addUint64(&props, "sstcore.num.data.blocks", tb.numDataBlks)
	props = append(props, prop{"sstcore.comparator", []byte(tb.options.ComparatorName)})

	sort.Slice(props, func(i, j int) bool { return props[i].name < props[j].name })

	b := block.NewBuilder()
	for _, p := range props {
		b.Add([]byte(p.name), p.value)
	}
	return b.Finish()
}

// Abandon discards the builder without writing a footer.
func (tb *TableBuilder) Abandon() {
	tb.finished = true
}

// NumEntries returns the number of entries added so far.
func (tb *TableBuilder) NumEntries() uint64 { return tb.numEntries }

// FileSize returns the number of bytes written so far.
func (tb *TableBuilder) FileSize() uint64 { return tb.offset }

// Status returns any sticky error encountered during building.
func (tb *TableBuilder) Status() error { return tb.err }
