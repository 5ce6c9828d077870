package level

import (
	"bytes"
	"testing"

	"github.com/sstcore/sstcore/internal/block"
	"github.com/sstcore/sstcore/internal/pilot"
	"github.com/sstcore/sstcore/internal/table"
)

type memFile struct{ buf bytes.Buffer }

func (f *memFile) Write(p []byte) (int, error) { return f.buf.Write(p) }
func (f *memFile) Append(p []byte) error       { _, err := f.buf.Write(p); return err }
func (f *memFile) Sync() error                 { return nil }
func (f *memFile) Truncate(size int64) error   { f.buf.Truncate(int(size)); return nil }
func (f *memFile) Close() error                { return nil }
func (f *memFile) Size() (int64, error)        { return int64(f.buf.Len()), nil }

type memReaderFile struct{ data []byte }

func (f *memReaderFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(f.data)) {
		return 0, nil
	}
	return copy(p, f.data[off:]), nil
}
func (f *memReaderFile) Close() error { return nil }
func (f *memReaderFile) Size() int64  { return int64(len(f.data)) }

func buildLevel(t *testing.T, keys []string) *table.Iterator {
	t.Helper()
	w := &memFile{}
	opts := table.DefaultBuilderOptions()
	opts.BlockSize = 8
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

// buildMerge constructs a top table from topKeys and len(lowerKeys) lower
// tables, builds the per-key pilot over them, and returns a fresh Iterator
// plus the full expected sorted key sequence.
func buildMerge(t *testing.T, topKeys []string, lowerKeys [][]string) (*Iterator, []string) {
	t.Helper()

	// PerKeyBuilder drains the lower-level iterators it's given, so build a
	// throwaway set just to produce the pilot block...
	lowerForPilot := make([]*table.Iterator, len(lowerKeys))
	for i, keys := range lowerKeys {
		lowerForPilot[i] = buildLevel(t, keys)
	}
	pb := pilot.NewPerKeyBuilder(lowerForPilot, block.BytewiseComparator)
	for _, k := range topKeys {
		if err := pb.BuildPilot([]byte(k)); err != nil {
			t.Fatalf("BuildPilot(%s) error: %v", k, err)
		}
	}
	pilotData, err := pb.Finish()
	if err != nil {
		t.Fatalf("pilot Finish error: %v", err)
	}
	pilotBlk, err := block.NewBlock(pilotData)
	if err != nil {
		t.Fatalf("NewBlock error: %v", err)
	}

	// ...and fresh, unpositioned ones for the actual merge under test.
	top := buildLevel(t, topKeys)
	lowers := make([]*table.Iterator, len(lowerKeys))
	for i, keys := range lowerKeys {
		lowers[i] = buildLevel(t, keys)
	}

	it := NewIterator(top, lowers, pilotBlk, block.BytewiseComparator)

	all := append([]string{}, topKeys...)
	for _, keys := range lowerKeys {
		all = append(all, keys...)
	}
	sortStrings(all)
	return it, all
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func TestLevelIteratorFullScan(t *testing.T) {
	// The top level must hold the global minimum key: a pilot entry
	// describes the window of lower-level keys between its key and the
	// next top key, not before it, so nothing would represent a
	// lower-level key below the first top key.
	it, want := buildMerge(t,
		[]string{"a", "c", "e", "g", "i"},
		[][]string{{"b", "d", "f", "h"}},
	)

	var got []string
	for it.SeekToFirst(); it.Valid(); it.Next() {
		got = append(got, string(it.Key()))
	}
	if err := it.Error(); err != nil {
		t.Fatalf("iteration error: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d keys %v, want %d %v", len(got), got, len(want), want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("key %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestLevelIteratorMultipleLowerLevels(t *testing.T) {
	it, want := buildMerge(t,
		[]string{"a", "e", "i"},
		[][]string{
			{"b", "f", "j"},
			{"c", "g", "k"},
			{"d", "h", "l"},
		},
	)

	var got []string
	for it.SeekToFirst(); it.Valid(); it.Next() {
		got = append(got, string(it.Key()))
	}
	if len(got) != len(want) {
		t.Fatalf("got %d keys %v, want %d %v", len(got), got, len(want), want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("key %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestLevelIteratorSeekLinear(t *testing.T) {
	it, _ := buildMerge(t,
		[]string{"a", "c", "e", "g", "i"},
		[][]string{{"b", "d", "f", "h"}},
	)

	tests := []struct {
		target string
		want   string
		valid  bool
	}{
		{"a", "a", true},
		{"b", "b", true},
		{"b5", "c", true},
		{"h", "h", true},
		{"z", "", false},
	}
	for _, tt := range tests {
		it.Seek([]byte(tt.target))
		if it.Valid() != tt.valid {
			t.Errorf("Seek(%q) valid = %v, want %v", tt.target, it.Valid(), tt.valid)
			continue
		}
		if tt.valid && string(it.Key()) != tt.want {
			t.Errorf("Seek(%q) = %q, want %q", tt.target, it.Key(), tt.want)
		}
	}
}

func TestLevelIteratorSeekBinary(t *testing.T) {
	prev := BinarySeekThreshold
	BinarySeekThreshold = 2
	defer func() { BinarySeekThreshold = prev }()

	// A single top key ("a", holding the global minimum) with a 9-key
	// trailing window, large enough to exceed the lowered threshold, then
	// a second top key ("z") with an empty trailing window.
	lowerKeys := []string{"b", "c", "d", "e", "f", "g", "h", "i", "j"}
	it, _ := buildMerge(t, []string{"a", "z"}, [][]string{lowerKeys})

	tests := []struct {
		target string
		want   string
	}{
		{"a", "a"},
		{"e", "e"},
		{"h", "h"},
		{"m", "z"}, // past the window's last key, falls through to the next top key
	}
	for _, tt := range tests {
		it.Seek([]byte(tt.target))
		if !it.Valid() {
			t.Errorf("Seek(%q) should be valid", tt.target)
			continue
		}
		if string(it.Key()) != tt.want {
			t.Errorf("Seek(%q) = %q, want %q", tt.target, it.Key(), tt.want)
		}
	}

	// After exercising binarySeek, a full scan from the front should still
	// visit every key in order exactly once.
	it.SeekToFirst()
	var got []string
	for ; it.Valid(); it.Next() {
		got = append(got, string(it.Key()))
	}
	want := append(append([]string{}, lowerKeys...), "a", "z")
	sortStrings(want)
	if len(got) != len(want) {
		t.Fatalf("got %d keys %v, want %d %v", len(got), got, len(want), want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("key %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestLevelIteratorNoLowerLevels(t *testing.T) {
	top := buildLevel(t, []string{"a", "b", "c"})
	it := NewIterator(top, nil, nil, block.BytewiseComparator)

	var got []string
	for it.SeekToFirst(); it.Valid(); it.Next() {
		got = append(got, string(it.Key()))
	}
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("key %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestLevelIteratorEmptyTop(t *testing.T) {
	top := buildLevel(t, nil)
	lower := buildLevel(t, []string{"a"})
	it := NewIterator(top, []*table.Iterator{lower}, nil, block.BytewiseComparator)

	it.SeekToFirst()
	if it.Valid() {
		t.Error("SeekToFirst on an empty top level should be invalid")
	}
}

func TestOccurrences(t *testing.T) {
	levels := []byte{0, 1, 0, 2, 0, 1}
	got := occurrences(levels)
	want := []int{0, 0, 1, 0, 2, 1}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("occurrences[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}
