package pilot

import (
	"bytes"
	"testing"

	"github.com/sstcore/sstcore/internal/block"
	"github.com/sstcore/sstcore/internal/table"
)

// memFile is an in-memory vfs.WritableFile for building fixture tables.
type memFile struct{ buf bytes.Buffer }

func (f *memFile) Write(p []byte) (int, error) { return f.buf.Write(p) }
func (f *memFile) Append(p []byte) error       { _, err := f.buf.Write(p); return err }
func (f *memFile) Sync() error                 { return nil }
func (f *memFile) Truncate(size int64) error   { f.buf.Truncate(int(size)); return nil }
func (f *memFile) Close() error                { return nil }
func (f *memFile) Size() (int64, error)        { return int64(f.buf.Len()), nil }

// memReaderFile adapts a finished memFile's bytes to vfs.RandomAccessFile.
type memReaderFile struct{ data []byte }

func (f *memReaderFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(f.data)) {
		return 0, nil
	}
	return copy(p, f.data[off:]), nil
}
func (f *memReaderFile) Close() error { return nil }
func (f *memReaderFile) Size() int64  { return int64(len(f.data)) }

// buildLevel writes a table containing the given sorted keys (each mapped
// to a value of "v-"+key) and returns a fresh Iterator over it.
func buildLevel(t *testing.T, keys []string) *table.Iterator {
	t.Helper()
	w := &memFile{}
	opts := table.DefaultBuilderOptions()
	opts.BlockSize = 8 // force a restart per entry, exercising IndexRestartIndex/DataRestartIndex
	tb := table.NewTableBuilder(w, opts)
	for _, k := range keys {
		if err := tb.Add([]byte(k), []byte("v-"+k)); err != nil {
			t.Fatalf("Add(%s) error: %v", k, err)
		}
	}
	if err := tb.Finish(); err != nil {
		t.Fatalf("Finish error: %v", err)
	}

	r, err := table.Open(&memReaderFile{data: w.buf.Bytes()}, table.ReaderOptions{VerifyChecksums: true})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	return r.NewIterator()
}

func collectKeys(t *testing.T, it *table.Iterator) []string {
	t.Helper()
	var keys []string
	for it.SeekToFirst(); it.Valid(); it.Next() {
		keys = append(keys, string(it.Key()))
	}
	return keys
}

func TestPerKeyBuilderSingleLevel(t *testing.T) {
	lower := buildLevel(t, []string{"a", "c", "e", "g"})
	pb := NewPerKeyBuilder([]*table.Iterator{lower}, block.BytewiseComparator)

	topKeys := []string{"b", "d", "f", "h"}
	for _, k := range topKeys {
		if err := pb.BuildPilot([]byte(k)); err != nil {
			t.Fatalf("BuildPilot(%s) error: %v", k, err)
		}
	}
	data, err := pb.Finish()
	if err != nil {
		t.Fatalf("Finish error: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("Finish returned empty pilot block")
	}

	blk, err := block.NewBlock(data)
	if err != nil {
		t.Fatalf("NewBlock error: %v", err)
	}
	it := blk.NewIterator(block.BytewiseComparator)

	// One pilot entry per top key. "a" drains before "b", so the entry
	// keyed by "b" should record Levels = [0] (level 0 drained once).
	it.SeekToFirst()
	if !it.Valid() {
		t.Fatal("expected at least one pilot entry")
	}
	if string(it.Key()) != "b" {
		t.Errorf("first pilot entry key = %q, want %q", it.Key(), "b")
	}
	entry, err := DecodeEntry(it.Value())
	if err != nil {
		t.Fatalf("DecodeEntry error: %v", err)
	}
	if !bytes.Equal(entry.Levels, []byte{0}) {
		t.Errorf("Levels = %v, want [0]", entry.Levels)
	}

	var gotKeys []string
	for ; it.Valid(); it.Next() {
		gotKeys = append(gotKeys, string(it.Key()))
	}
	if len(gotKeys) != len(topKeys) {
		t.Fatalf("pilot entry count = %d, want %d", len(gotKeys), len(topKeys))
	}
}

func TestPerKeyBuilderOutOfOrder(t *testing.T) {
	lower := buildLevel(t, []string{"a"})
	pb := NewPerKeyBuilder([]*table.Iterator{lower}, block.BytewiseComparator)

	if err := pb.BuildPilot([]byte("m")); err != nil {
		t.Fatalf("BuildPilot error: %v", err)
	}
	if err := pb.BuildPilot([]byte("m")); err != ErrOutOfOrder {
		t.Errorf("BuildPilot with duplicate key error = %v, want ErrOutOfOrder", err)
	}
	if err := pb.BuildPilot([]byte("a")); err != ErrOutOfOrder {
		t.Errorf("BuildPilot with earlier key error = %v, want ErrOutOfOrder", err)
	}
}

func TestPerKeyBuilderEmptyLowerLevels(t *testing.T) {
	pb := NewPerKeyBuilder(nil, block.BytewiseComparator)
	if err := pb.BuildPilot([]byte("a")); err != nil {
		t.Fatalf("BuildPilot error: %v", err)
	}
	if err := pb.BuildPilot([]byte("b")); err != nil {
		t.Fatalf("BuildPilot error: %v", err)
	}
	data, err := pb.Finish()
	if err != nil {
		t.Fatalf("Finish error: %v", err)
	}
	blk, err := block.NewBlock(data)
	if err != nil {
		t.Fatalf("NewBlock error: %v", err)
	}
	it := blk.NewIterator(block.BytewiseComparator)
	it.SeekToFirst()
	if !it.Valid() {
		t.Fatal("expected one pilot entry")
	}
	entry, err := DecodeEntry(it.Value())
	if err != nil {
		t.Fatalf("DecodeEntry error: %v", err)
	}
	if len(entry.Levels) != 0 {
		t.Errorf("Levels = %v, want empty with no lower levels", entry.Levels)
	}
}

func TestMarsBuilderMerge(t *testing.T) {
	levelA := buildLevel(t, []string{"a", "d", "g", "j"})
	levelB := buildLevel(t, []string{"b", "e", "h"})
	levelC := buildLevel(t, []string{"c", "f", "i"})

	mb := NewMarsBuilder([]*table.Iterator{levelA, levelB, levelC}, block.BytewiseComparator)
	data, counts, err := mb.Build()
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("Build returned empty pilot block")
	}
	if len(counts) != 3 {
		t.Fatalf("len(counts) = %d, want 3", len(counts))
	}

	blk, err := block.NewBlock(data)
	if err != nil {
		t.Fatalf("NewBlock error: %v", err)
	}
	it := blk.NewIterator(block.BytewiseComparator)
	it.SeekToFirst()
	if !it.Valid() {
		t.Fatal("expected at least one pilot entry")
	}
	entry, err := DecodeEntry(it.Value())
	if err != nil {
		t.Fatalf("DecodeEntry error: %v", err)
	}
	// 10 total keys across the three levels, fewer than MarsChunkSize, so
	// everything lands in one trailing partial chunk.
	if len(entry.Levels) != 10 {
		t.Errorf("Levels length = %d, want 10", len(entry.Levels))
	}
}

func TestMarsIteratorRoundTrip(t *testing.T) {
	levelA := buildLevel(t, []string{"a", "d", "g", "j"})
	levelB := buildLevel(t, []string{"b", "e", "h"})
	levelC := buildLevel(t, []string{"c", "f", "i"})
	wantKeys := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}

	mb := NewMarsBuilder([]*table.Iterator{levelA, levelB, levelC}, block.BytewiseComparator)
	data, counts, err := mb.Build()
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	pilotBlk, err := block.NewBlock(data)
	if err != nil {
		t.Fatalf("NewBlock error: %v", err)
	}

	// Fresh iterators over the same underlying tables, since Build drained
	// the ones used above.
	levelA2 := buildLevel(t, []string{"a", "d", "g", "j"})
	levelB2 := buildLevel(t, []string{"b", "e", "h"})
	levelC2 := buildLevel(t, []string{"c", "f", "i"})

	mi := NewMarsIterator(pilotBlk, counts, []*table.Iterator{levelA2, levelB2, levelC2}, block.BytewiseComparator)
	var gotKeys []string
	for mi.SeekToFirst(); mi.Valid(); mi.Next() {
		gotKeys = append(gotKeys, string(mi.Key()))
	}
	if err := mi.Error(); err != nil {
		t.Fatalf("iteration error: %v", err)
	}
	if len(gotKeys) != len(wantKeys) {
		t.Fatalf("got %d keys, want %d: %v", len(gotKeys), len(wantKeys), gotKeys)
	}
	for i, k := range wantKeys {
		if gotKeys[i] != k {
			t.Errorf("key %d = %q, want %q", i, gotKeys[i], k)
		}
	}
}

func TestMarsIteratorSeek(t *testing.T) {
	levelA := buildLevel(t, []string{"a", "d", "g", "j"})
	levelB := buildLevel(t, []string{"b", "e", "h"})
	levelC := buildLevel(t, []string{"c", "f", "i"})

	mb := NewMarsBuilder([]*table.Iterator{levelA, levelB, levelC}, block.BytewiseComparator)
	data, counts, err := mb.Build()
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	pilotBlk, err := block.NewBlock(data)
	if err != nil {
		t.Fatalf("NewBlock error: %v", err)
	}

	levelA2 := buildLevel(t, []string{"a", "d", "g", "j"})
	levelB2 := buildLevel(t, []string{"b", "e", "h"})
	levelC2 := buildLevel(t, []string{"c", "f", "i"})
	mi := NewMarsIterator(pilotBlk, counts, []*table.Iterator{levelA2, levelB2, levelC2}, block.BytewiseComparator)

	mi.Seek([]byte("f"))
	if !mi.Valid() {
		t.Fatal("Seek(f) should be valid")
	}
	if string(mi.Key()) != "f" {
		t.Errorf("Seek(f) landed on %q, want %q", mi.Key(), "f")
	}

	mi.Seek([]byte("z"))
	if mi.Valid() {
		t.Errorf("Seek(z) should be invalid (past end), got key %q", mi.Key())
	}
}

func TestCapturePositionPastEnd(t *testing.T) {
	lower := buildLevel(t, []string{"a"})
	lower.SeekToFirst()
	lower.Next() // exhaust
	pos := capturePosition(lower)
	if !pos.PastEnd {
		t.Error("capturePosition on an exhausted iterator should set PastEnd")
	}
}

func TestEntryEncodeDecodeRoundTrip(t *testing.T) {
	e := Entry{
		Positions: []Position{
			{IndexOrdinal: 1, DataOrdinal: 2},
			{PastEnd: true},
		},
		Levels: []byte{0, 1, 0},
	}
	encoded := EncodeEntry(e)
	decoded, err := DecodeEntry(encoded)
	if err != nil {
		t.Fatalf("DecodeEntry error: %v", err)
	}
	if len(decoded.Positions) != 2 {
		t.Fatalf("len(Positions) = %d, want 2", len(decoded.Positions))
	}
	if decoded.Positions[0] != e.Positions[0] {
		t.Errorf("Positions[0] = %+v, want %+v", decoded.Positions[0], e.Positions[0])
	}
	if !decoded.Positions[1].PastEnd {
		t.Error("Positions[1].PastEnd should round-trip true")
	}
	if !bytes.Equal(decoded.Levels, e.Levels) {
		t.Errorf("Levels = %v, want %v", decoded.Levels, e.Levels)
	}
}
