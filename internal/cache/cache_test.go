package cache

import (
	"testing"

	"github.com/sstcore/sstcore/internal/block"
)

func makeBlock(t *testing.T, key, value string) *block.Block {
	t.Helper()
	b := block.NewBuilder()
	b.Add([]byte(key), []byte(value))
	blk, err := block.NewBlock(b.Finish())
	if err != nil {
		t.Fatalf("NewBlock error: %v", err)
	}
	return blk
}

func TestCacheGetMiss(t *testing.T) {
	c := New(10)
	if _, ok := c.Get(Key{FileID: 1, Offset: 0}); ok {
		t.Error("Get on empty cache should miss")
	}
}

func TestCachePutGet(t *testing.T) {
	c := New(10)
	blk := makeBlock(t, "k", "v")
	key := Key{FileID: 1, Offset: 100}

	c.Put(key, blk)
	got, ok := c.Get(key)
	if !ok {
		t.Fatal("Get should hit after Put")
	}
	if got != blk {
		t.Error("Get returned a different block than was Put")
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestCacheDistinctFileIDs(t *testing.T) {
	c := New(10)
	blkA := makeBlock(t, "a", "1")
	blkB := makeBlock(t, "b", "2")

	c.Put(Key{FileID: 1, Offset: 0}, blkA)
	c.Put(Key{FileID: 2, Offset: 0}, blkB)

	gotA, ok := c.Get(Key{FileID: 1, Offset: 0})
	if !ok || gotA != blkA {
		t.Error("FileID 1 offset 0 should return blkA")
	}
	gotB, ok := c.Get(Key{FileID: 2, Offset: 0})
	if !ok || gotB != blkB {
		t.Error("FileID 2 offset 0 should return blkB")
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := New(2)
	blk1 := makeBlock(t, "k1", "v1")
	blk2 := makeBlock(t, "k2", "v2")
	blk3 := makeBlock(t, "k3", "v3")

	k1, k2, k3 := Key{FileID: 1, Offset: 1}, Key{FileID: 1, Offset: 2}, Key{FileID: 1, Offset: 3}

	c.Put(k1, blk1)
	c.Put(k2, blk2)
	// touch k1 so k2 becomes the least recently used
	if _, ok := c.Get(k1); !ok {
		t.Fatal("expected k1 to be present")
	}
	c.Put(k3, blk3) // should evict k2, not k1

	if _, ok := c.Get(k2); ok {
		t.Error("k2 should have been evicted")
	}
	if _, ok := c.Get(k1); !ok {
		t.Error("k1 should still be cached")
	}
	if _, ok := c.Get(k3); !ok {
		t.Error("k3 should be cached")
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

func TestCachePutReplacesExisting(t *testing.T) {
	c := New(10)
	key := Key{FileID: 1, Offset: 0}
	blkOld := makeBlock(t, "k", "old")
	blkNew := makeBlock(t, "k", "new")

	c.Put(key, blkOld)
	c.Put(key, blkNew)

	got, ok := c.Get(key)
	if !ok {
		t.Fatal("Get should hit")
	}
	if got != blkNew {
		t.Error("Put with an existing key should replace the cached value")
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1 after replacing", c.Len())
	}
}

func TestCacheUnboundedCapacity(t *testing.T) {
	c := New(0)
	for i := 0; i < 100; i++ {
		c.Put(Key{FileID: 1, Offset: uint64(i)}, makeBlock(t, "k", "v"))
	}
	if c.Len() != 100 {
		t.Errorf("Len() = %d, want 100 for unbounded cache", c.Len())
	}
}
