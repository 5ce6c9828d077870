package index

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/sstcore/sstcore/internal/block"
)

func TestValueEncodeDecode(t *testing.T) {
	tests := []Value{
		{Handle: block.Handle{Offset: 0, Size: 0}, Restarts: 0, FirstKey: nil},
		{Handle: block.Handle{Offset: 100, Size: 200}, Restarts: 42, FirstKey: []byte("abc")},
		{Handle: block.Handle{Offset: 1 << 40, Size: 1 << 20}, Restarts: 1 << 30, FirstKey: []byte("")},
	}

	for i, tt := range tests {
		t.Run(fmt.Sprintf("case_%d", i), func(t *testing.T) {
			encoded := tt.EncodeTo(nil)
			decoded, err := DecodeValue(encoded)
			if err != nil {
				t.Fatalf("DecodeValue error: %v", err)
			}
			if decoded.Handle != tt.Handle {
				t.Errorf("Handle = %+v, want %+v", decoded.Handle, tt.Handle)
			}
			if decoded.Restarts != tt.Restarts {
				t.Errorf("Restarts = %d, want %d", decoded.Restarts, tt.Restarts)
			}
			if !bytes.Equal(decoded.FirstKey, tt.FirstKey) {
				t.Errorf("FirstKey = %q, want %q", decoded.FirstKey, tt.FirstKey)
			}
		})
	}
}

func TestDecodeValueTruncated(t *testing.T) {
	v := Value{Handle: block.Handle{Offset: 1, Size: 2}, Restarts: 5, FirstKey: []byte("longkey")}
	encoded := v.EncodeTo(nil)

	for n := 0; n < len(encoded); n++ {
		if _, err := DecodeValue(encoded[:n]); err == nil {
			t.Errorf("DecodeValue(%d bytes) should fail", n)
		}
	}
}

func buildIndex(t *testing.T, blocks []struct {
	lastKey    string
	numEntries uint64
}) *Reader {
	t.Helper()
	b := NewBuilder()
	for _, blk := range blocks {
		b.OnKeyAdded([]byte("first-" + blk.lastKey))
		b.AddEntry([]byte(blk.lastKey), block.Handle{Offset: 0, Size: 10}, blk.numEntries)
	}
	data := b.Finish()
	r, err := NewReader(data)
	if err != nil {
		t.Fatalf("NewReader error: %v", err)
	}
	return r
}

func TestBuilderCumulativeRestarts(t *testing.T) {
	r := buildIndex(t, []struct {
		lastKey    string
		numEntries uint64
	}{
		{"bbb", 3},
		{"ddd", 2},
		{"fff", 5},
	})

	if r.NumRestarts() != 3 {
		t.Fatalf("NumRestarts() = %d, want 3", r.NumRestarts())
	}

	it := r.NewIterator(block.BytewiseComparator)
	var want []uint64 = []uint64{3, 5, 10}
	i := 0
	for it.SeekToFirst(); it.Valid(); it.Next() {
		v, err := DecodeValue(it.Value())
		if err != nil {
			t.Fatalf("DecodeValue error: %v", err)
		}
		if v.Restarts != want[i] {
			t.Errorf("entry %d Restarts = %d, want %d", i, v.Restarts, want[i])
		}
		i++
	}
	if i != 3 {
		t.Fatalf("iterated %d entries, want 3", i)
	}
}

func TestBinarySearchRestarts(t *testing.T) {
	r := buildIndex(t, []struct {
		lastKey    string
		numEntries uint64
	}{
		{"bbb", 3}, // cumulative 3
		{"ddd", 2}, // cumulative 5
		{"fff", 5}, // cumulative 10
	})

	tests := []struct {
		target         uint64
		wantOrdinal    int
		wantPrevCum    uint64
		wantCumulative uint64
		wantOK         bool
	}{
		{0, 0, 0, 3, true},
		{2, 0, 0, 3, true},
		{3, 1, 3, 5, true},
		{4, 1, 3, 5, true},
		{9, 2, 5, 10, true},
		{10, 0, 0, 0, false},
		{100, 0, 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("target=%d", tt.target), func(t *testing.T) {
			v, ordinal, prevCum, ok := BinarySearchRestarts(r, tt.target)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if ordinal != tt.wantOrdinal {
				t.Errorf("ordinal = %d, want %d", ordinal, tt.wantOrdinal)
			}
			if prevCum != tt.wantPrevCum {
				t.Errorf("prevCumulative = %d, want %d", prevCum, tt.wantPrevCum)
			}
			if v.Restarts != tt.wantCumulative {
				t.Errorf("Restarts = %d, want %d", v.Restarts, tt.wantCumulative)
			}
		})
	}
}

func TestBuilderEmpty(t *testing.T) {
	b := NewBuilder()
	if !b.Empty() {
		t.Error("new builder should be Empty()")
	}
	b.OnKeyAdded([]byte("k"))
	b.AddEntry([]byte("k"), block.Handle{}, 1)
	if b.Empty() {
		t.Error("builder with an entry should not be Empty()")
	}
	b.Reset()
	if !b.Empty() {
		t.Error("builder should be Empty() after Reset()")
	}
}

func TestBuilderOnKeyAddedKeepsFirstKey(t *testing.T) {
	b := NewBuilder()
	b.OnKeyAdded([]byte("aaa"))
	b.OnKeyAdded([]byte("zzz")) // should be ignored: first key already recorded
	b.AddEntry([]byte("last"), block.Handle{Size: 1}, 1)
	data := b.Finish()

	r, err := NewReader(data)
	if err != nil {
		t.Fatalf("NewReader error: %v", err)
	}
	it := r.NewIterator(block.BytewiseComparator)
	it.SeekToFirst()
	if !it.Valid() {
		t.Fatal("expected one entry")
	}
	v, err := DecodeValue(it.Value())
	if err != nil {
		t.Fatalf("DecodeValue error: %v", err)
	}
	if string(v.FirstKey) != "aaa" {
		t.Errorf("FirstKey = %q, want %q", v.FirstKey, "aaa")
	}
}
