package table

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/sstcore/sstcore/internal/block"
	"github.com/sstcore/sstcore/internal/cache"
	"github.com/sstcore/sstcore/internal/checksum"
	"github.com/sstcore/sstcore/internal/compression"
	"github.com/sstcore/sstcore/internal/index"
	"github.com/sstcore/sstcore/internal/logging"
	"github.com/sstcore/sstcore/internal/vfs"
)

var (
	// ErrInvalidSST indicates the file is not a valid SST file.
	ErrInvalidSST = errors.New("table: invalid SST file")

	// ErrChecksumMismatch indicates a block checksum verification failed.
	ErrChecksumMismatch = errors.New("table: checksum mismatch")

	// ErrBlockNotFound indicates a requested meta block was not found.
	ErrBlockNotFound = errors.New("table: block not found")
)

// ReaderOptions controls TableReader behavior.
type ReaderOptions struct {
	// VerifyChecksums verifies every block's trailer checksum on read.
	VerifyChecksums bool

	// Comparator orders keys; defaults to block.BytewiseComparator.
	Comparator block.Comparator

	// Cache, if set, is consulted before decoding any block and populated
	// after. Unset (the default) means every read decodes the block fresh.
	Cache *cache.Cache

	// FileID identifies this file's blocks within Cache, distinguishing
	// them from blocks of other files sharing the same Cache. Ignored if
	// Cache is nil.
	FileID uint64

	// Logger receives open and block-decode error messages. Defaults to
	// logging.Discard.
	Logger logging.Logger
}

// Reader reads an SST file written by TableBuilder.
type Reader struct {
	file    vfs.RandomAccessFile
	size    int64
	options ReaderOptions

	footer *block.Footer

	indexHandle      block.Handle
	propertiesHandle block.Handle
	pilotHandle      block.Handle
	havePilot        bool

	index      *index.Reader
	properties *Properties
}

// Open opens an SST file for reading.
func Open(file vfs.RandomAccessFile, opts ReaderOptions) (*Reader, error) {
	if opts.Comparator == nil {
		opts.Comparator = block.BytewiseComparator
	}
	if logging.IsNil(opts.Logger) {
		opts.Logger = logging.Discard
	}

	size := file.Size()
	if size < int64(block.EncodedLength) {
		opts.Logger.Errorf("%sfile too small to hold a footer (%d bytes)", logging.NSRead, size)
		return nil, ErrInvalidSST
	}

	r := &Reader{file: file, size: size, options: opts}

	if err := r.readFooter(); err != nil {
		opts.Logger.Errorf("%sreadFooter: %v", logging.NSRead, err)
		return nil, err
	}
	if err := r.readMetaindex(); err != nil {
		opts.Logger.Errorf("%sreadMetaindex: %v", logging.NSRead, err)
		return nil, err
	}
	if err := r.readIndex(); err != nil {
		opts.Logger.Errorf("%sreadIndex: %v", logging.NSRead, err)
		return nil, err
	}

	opts.Logger.Debugf("%sopened table (%d bytes, pilot=%v)", logging.NSRead, size, r.havePilot)
	return r, nil
}

func (r *Reader) readFooter() error {
	buf := make([]byte, block.EncodedLength)
	offset := r.size - int64(block.EncodedLength)
	if _, err := r.file.ReadAt(buf, offset); err != nil {
		return err
	}
	footer, err := block.DecodeFooter(buf, true)
	if err != nil {
		return err
	}
	r.footer = footer
	return nil
}

func (r *Reader) readMetaindex() error {
	if r.footer.MetaindexHandle.IsNull() {
		return nil
	}
	meta, err := r.readBlock(r.footer.MetaindexHandle)
	if err != nil {
		return err
	}

	it := meta.NewIterator(r.options.Comparator)
	for it.SeekToFirst(); it.Valid(); it.Next() {
		name := string(it.Key())
		handle, _, err := block.DecodeHandle(it.Value())
		if err != nil {
			continue
		}
		switch name {
		case MetaPropertiesKey:
			r.propertiesHandle = handle
		case MetaPilotKey:
			r.pilotHandle = handle
			r.havePilot = true
		}
	}
	return nil
}

func (r *Reader) readIndex() error {
	if r.footer.IndexHandle.IsNull() {
		return ErrBlockNotFound
	}
	idxBlock, err := r.readBlock(r.footer.IndexHandle)
	if err != nil {
		return err
	}
	r.index = index.NewReaderFromBlock(idxBlock)
	return nil
}

const maxBlockSize = 256 * 1024 * 1024

// readBlock reads, verifies, and decompresses a block at handle, serving
// it from r.options.Cache when present.
func (r *Reader) readBlock(handle block.Handle) (*block.Block, error) {
	var cacheKey cache.Key
	if r.options.Cache != nil {
		cacheKey = cache.Key{FileID: r.options.FileID, Offset: handle.Offset}
		if blk, ok := r.options.Cache.Get(cacheKey); ok {
			return blk, nil
		}
	}

	blk, err := r.readBlockUncached(handle)
	if err != nil {
		return nil, err
	}

	if r.options.Cache != nil {
		r.options.Cache.Put(cacheKey, blk)
	}
	return blk, nil
}

func (r *Reader) readBlockUncached(handle block.Handle) (*block.Block, error) {
	if handle.Size > maxBlockSize {
		return nil, fmt.Errorf("%w: block size %d exceeds maximum", ErrInvalidSST, handle.Size)
	}

	trailerSize := block.BlockTrailerSize
	totalSize := int(handle.Size) + trailerSize
	end := handle.Offset + uint64(totalSize)
	if end < handle.Offset || end > uint64(r.size) {
		return nil, fmt.Errorf("%w: block at offset %d exceeds file size", ErrInvalidSST, handle.Offset)
	}

	buf := make([]byte, totalSize)
	n, err := r.file.ReadAt(buf, int64(handle.Offset))
	if err != nil {
		return nil, err
	}
	if n < totalSize {
		return nil, ErrInvalidSST
	}

	blockData := buf[:handle.Size]
	compressionTag := buf[handle.Size]
	storedChecksum := binary.LittleEndian.Uint32(buf[len(buf)-4:])

	if r.options.VerifyChecksums {
		computed := checksum.ComputeChecksum(checksum.Type(r.footer.ChecksumType), blockData, compressionTag)
		if computed != storedChecksum {
			r.options.Logger.Errorf("%schecksum mismatch at offset %d: got %#x want %#x",
				logging.NSRead, handle.Offset, storedChecksum, computed)
			return nil, ErrChecksumMismatch
		}
	}

	if compression.Type(compressionTag) != compression.NoCompression {
		decompressed, err := compression.Decompress(compression.Type(compressionTag), blockData)
		if err != nil {
			return nil, fmt.Errorf("table: decompress block: %w", err)
		}
		blockData = decompressed
	}

	return block.NewBlock(blockData)
}

// Close releases the underlying file.
func (r *Reader) Close() error { return r.file.Close() }

// Footer returns the parsed footer.
func (r *Reader) Footer() *block.Footer { return r.footer }

// PilotHandle returns the pilot block's handle and whether one is present.
func (r *Reader) PilotHandle() (block.Handle, bool) { return r.pilotHandle, r.havePilot }

// ReadBlock exposes the verified, decompressed block at handle to callers
// outside this package (the pilot and level packages read the pilot block
// and data/index blocks directly).
func (r *Reader) ReadBlock(handle block.Handle) (*block.Block, error) { return r.readBlock(handle) }

// Comparator returns the comparator this reader was opened with.
func (r *Reader) Comparator() block.Comparator { return r.options.Comparator }

// IndexReader exposes the parsed index block reader.
func (r *Reader) IndexReader() *index.Reader { return r.index }

// Properties returns the table's properties block, loading it lazily.
func (r *Reader) Properties() (*Properties, error) {
	if r.properties != nil {
		return r.properties, nil
	}
	if r.propertiesHandle.IsNull() {
		return nil, nil
	}
	blk, err := r.readBlock(r.propertiesHandle)
	if err != nil {
		return nil, err
	}
	props, err := ParseProperties(blk.Data())
	if err != nil {
		return nil, err
	}
	r.properties = props
	return props, nil
}

// -----------------------------------------------------------------------------
// TableIterator
// -----------------------------------------------------------------------------

// Iterator couples an index-block cursor with the data-block cursor it
// points to, presenting the table's entries as one sorted stream.
type Iterator struct {
	reader    *Reader
	indexIter *block.Iterator
	dataBlock *block.Block
	dataIter  *block.Iterator
	err       error
}

// NewIterator returns a table iterator. It is initially invalid; call
// SeekToFirst, SeekToLast, or Seek before use.
func (r *Reader) NewIterator() *Iterator {
	return &Iterator{
		reader:    r,
		indexIter: r.index.NewIterator(r.options.Comparator),
	}
}

// Valid returns true if the iterator is positioned at an entry.
func (it *Iterator) Valid() bool {
	return it.err == nil && it.dataIter != nil && it.dataIter.Valid()
}

// Error returns any sticky error.
func (it *Iterator) Error() error { return it.err }

// Key returns the current key.
func (it *Iterator) Key() []byte {
	if it.dataIter == nil {
		return nil
	}
	return it.dataIter.Key()
}

// Value returns the current value.
func (it *Iterator) Value() []byte {
	if it.dataIter == nil {
		return nil
	}
	return it.dataIter.Value()
}

// SeekToFirst positions the iterator at the table's first entry.
func (it *Iterator) SeekToFirst() {
	it.indexIter.SeekToFirst()
	it.loadDataBlock()
	if it.dataIter != nil {
		it.dataIter.SeekToFirst()
	}
}

// SeekToLast positions the iterator at the table's last entry.
func (it *Iterator) SeekToLast() {
	it.indexIter.SeekToLast()
	it.loadDataBlock()
	if it.dataIter != nil {
		it.dataIter.SeekToLast()
	}
}

// Seek positions the iterator at the first entry with key >= target. If
// the current data block already spans target (its key range covers it),
// the index is not re-consulted.
func (it *Iterator) Seek(target []byte) {
	if it.dataIter != nil && it.dataIter.Valid() && it.indexIter.Valid() {
		iv, err := index.DecodeValue(it.indexIter.Value())
		if err == nil && it.reader.options.Comparator(target, iv.FirstKey) >= 0 &&
			it.reader.options.Comparator(target, it.indexIter.Key()) <= 0 {
			it.dataIter.Seek(target)
			return
		}
	}

	it.indexIter.Seek(target)
	if !it.indexIter.Valid() {
		it.dataIter = nil
		return
	}
	it.loadDataBlock()
	if it.dataIter != nil {
		it.dataIter.Seek(target)
	}
}

// Next advances to the next entry.
func (it *Iterator) Next() {
	if it.dataIter == nil {
		return
	}
	it.dataIter.Next()
	if !it.dataIter.Valid() {
		it.indexIter.Next()
		it.loadDataBlock()
		if it.dataIter != nil {
			it.dataIter.SeekToFirst()
		}
	}
}

// Prev moves to the previous entry.
func (it *Iterator) Prev() {
	if it.dataIter == nil {
		return
	}
	it.dataIter.Prev()
	if !it.dataIter.Valid() {
		it.indexIter.Prev()
		it.loadDataBlock()
		if it.dataIter != nil {
			it.dataIter.SeekToLast()
		}
	}
}

// NextK advances exactly k entries forward from the current position. If
// the target position falls within the current data block it seeks
// directly there; otherwise it binary searches the index block's
// cumulative restart counts to jump straight to the target block,
// without decoding any intervening block.
func (it *Iterator) NextK(k uint64) {
	if k == 0 {
		return
	}
	if it.dataIter == nil || !it.dataIter.Valid() {
		return
	}

	iv, err := index.DecodeValue(it.indexIter.Value())
	if err != nil {
		it.err = err
		it.dataIter = nil
		return
	}

	remaining := uint64(it.dataBlock.NumRestarts() - it.dataIter.RestartIndex())
	if k < remaining {
		it.dataIter.NextK(int(k))
		return
	}

	base := iv.Restarts - uint64(it.dataBlock.NumRestarts()) + uint64(it.dataIter.RestartIndex())
	target := base + k

	entry, _, prevCumulative, ok := index.BinarySearchRestarts(it.reader.index, target)
	if !ok {
		it.dataIter = nil
		return
	}

	blk, err := it.reader.readBlock(entry.Handle)
	if err != nil {
		it.err = err
		it.dataIter = nil
		return
	}
	it.dataBlock = blk
	it.dataIter = blk.NewIterator(it.reader.options.Comparator)
	it.dataIter.SeekToRestartIndex(int(target - prevCumulative))
}

func (it *Iterator) loadDataBlock() {
	if !it.indexIter.Valid() {
		it.dataBlock = nil
		it.dataIter = nil
		return
	}
	iv, err := index.DecodeValue(it.indexIter.Value())
	if err != nil {
		it.err = err
		it.dataBlock = nil
		it.dataIter = nil
		return
	}
	blk, err := it.reader.readBlock(iv.Handle)
	if err != nil {
		it.err = err
		it.dataBlock = nil
		it.dataIter = nil
		return
	}
	it.dataBlock = blk
	it.dataIter = blk.NewIterator(it.reader.options.Comparator)
}

// SeekForPrev positions the iterator at the last entry with key <= target,
// or invalid if every entry's key exceeds target.
func (it *Iterator) SeekForPrev(target []byte) {
	it.Seek(target)
	if !it.Valid() {
		it.SeekToLast()
		return
	}
	if it.reader.options.Comparator(it.Key(), target) > 0 {
		it.Prev()
	}
}

// IndexRestartIndex returns the ordinal of the current index entry among
// the index block's restart points (one per data block), or -1 if the
// iterator is not positioned at an entry.
func (it *Iterator) IndexRestartIndex() int {
	if !it.indexIter.Valid() {
		return -1
	}
	return it.indexIter.RestartIndex()
}

// DataRestartIndex returns the ordinal of the current entry among the
// current data block's restart points, or -1 if the iterator is not
// positioned at an entry.
func (it *Iterator) DataRestartIndex() int {
	if it.dataIter == nil || !it.dataIter.Valid() {
		return -1
	}
	return it.dataIter.RestartIndex()
}

// GlobalOrdinal returns the iterator's 0-based position among all of the
// table's entries, cumulative across every data block, or false if the
// iterator is not positioned at a valid entry. Used by the pilot and level
// layers to index into per-level side-channels keyed by absolute position.
func (it *Iterator) GlobalOrdinal() (uint64, bool) {
	if it.dataIter == nil || !it.dataIter.Valid() || !it.indexIter.Valid() {
		return 0, false
	}
	iv, err := index.DecodeValue(it.indexIter.Value())
	if err != nil {
		return 0, false
	}
	base := iv.Restarts - uint64(it.dataBlock.NumRestarts())
	return base + uint64(it.dataIter.RestartIndex()), true
}

// SeekToRestartPositions repositions the iterator directly to the given
// index-block and data-block restart ordinals, without a key-based search.
// Used by the pilot and level layers to replay a previously captured
// cursor.
func (it *Iterator) SeekToRestartPositions(indexOrdinal, dataOrdinal int) {
	it.indexIter.SeekToRestartIndex(indexOrdinal)
	if !it.indexIter.Valid() {
		it.dataBlock = nil
		it.dataIter = nil
		return
	}
	it.loadDataBlock()
	if it.dataIter == nil {
		return
	}
	it.dataIter.SeekToRestartIndex(dataOrdinal)
}

// HintedSeek behaves like Seek but restricts the index-block binary search
// to [indexLeft, indexRight] and, once the data block is loaded, the
// data-block binary search to [dataLeft, dataRight]. Used by the Mars
// pilot iterator to bound a seek to a known chunk window. After the
// windowed search it verifies key() >= target and steps forward if not.
func (it *Iterator) HintedSeek(target []byte, indexLeft, indexRight, dataLeft, dataRight int) {
	if indexRight < indexLeft || indexLeft < 0 {
		it.dataIter = nil
		return
	}

	left, right := indexLeft, indexRight
	for left < right {
		mid := (left + right) / 2
		it.indexIter.SeekToRestartIndex(mid)
		if !it.indexIter.Valid() {
			right = mid
			continue
		}
		if it.reader.options.Comparator(it.indexIter.Key(), target) >= 0 {
			right = mid
		} else {
			left = mid + 1
		}
	}
	it.indexIter.SeekToRestartIndex(left)
	if !it.indexIter.Valid() {
		it.dataIter = nil
		return
	}

	it.loadDataBlock()
	if it.dataIter == nil {
		return
	}

	dl, dr := dataLeft, dataRight
	if dr >= it.dataBlock.NumRestarts() {
		dr = it.dataBlock.NumRestarts() - 1
	}
	if dl < 0 {
		dl = 0
	}
	for dl < dr {
		mid := (dl + dr) / 2
		it.dataIter.SeekToRestartIndex(mid)
		if !it.dataIter.Valid() || it.reader.options.Comparator(it.dataIter.Key(), target) >= 0 {
			dr = mid
		} else {
			dl = mid + 1
		}
	}
	it.dataIter.SeekToRestartIndex(dl)

	for it.dataIter.Valid() && it.reader.options.Comparator(it.dataIter.Key(), target) < 0 {
		it.dataIter.Next()
	}
}
