package pilot

import "github.com/sstcore/sstcore/internal/block"

// heapEntry is one level's current key in the merge heap both builders
// drain from.
type heapEntry struct {
	level int
	key   []byte
}

// levelHeap is a min-heap of heapEntry driving the merge, ordered by key.
// Implements container/heap.Interface.
type levelHeap struct {
	items []heapEntry
	cmp   block.Comparator
}

func (h *levelHeap) Len() int           { return len(h.items) }
func (h *levelHeap) Less(i, j int) bool { return h.cmp(h.items[i].key, h.items[j].key) < 0 }
func (h *levelHeap) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *levelHeap) Push(x any) {
	h.items = append(h.items, x.(heapEntry))
}

func (h *levelHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}
