// dbit.go implements the Discriminative-Bit (DBit) intra-block index: a
// sidecar that records, for each adjacent pair of keys in a data block, the
// single bit position that first distinguishes them. A lookup probe can
// then extract just those bits from a candidate key and compare against a
// packed integer instead of re-walking full keys at every restart point.
//
// Ported from the reference disc_bit_block_index implementation: ranks are
// assigned MSB-first across the accumulated mask bytes, and a probe key is
// reduced to a packed integer by extracting exactly the bits the mask
// selects, in the same order.
package block

import (
	"math/bits"

	"github.com/bits-and-blooms/bitset"

	"github.com/sstcore/sstcore/internal/encoding"
)

// DBitBuilder accumulates the discriminating bit for each consecutive key
// pair added to a data block and produces the sidecar bytes at Finish.
type DBitBuilder struct {
	lastKey  []byte
	hasLast  bool
	pairs    []dbitPair   // one per Add after the first
	bits     *bitset.BitSet // pos = byteIndex*8 + bitIndexFromLSB
	maxByte  int          // highest byte index with any bit set, -1 if none
}

type dbitPair struct {
	shared int  // byte index of the discriminating bit
	mask   byte // single set bit, e.g. 0x08
}

// NewDBitBuilder returns an empty DBitBuilder.
func NewDBitBuilder() *DBitBuilder {
	return &DBitBuilder{
		bits:    bitset.New(64),
		maxByte: -1,
	}
}

// Add records the discriminating bit between key and the previously added
// key. REQUIRES: keys are added in strictly increasing order.
func (d *DBitBuilder) Add(key []byte) {
	if !d.hasLast {
		d.lastKey = append(d.lastKey[:0], key...)
		d.hasLast = true
		return
	}

	shared := sharedPrefixLength(d.lastKey, key)
	mask := discriminatingBitMask(d.lastKey, key, shared)
	d.pairs = append(d.pairs, dbitPair{shared: shared, mask: mask})

	pos := uint(shared*8 + bits.TrailingZeros8(mask))
	d.bits.Set(pos)
	if shared > d.maxByte {
		d.maxByte = shared
	}

	d.lastKey = append(d.lastKey[:0], key...)
}

// Reset clears the builder for reuse.
func (d *DBitBuilder) Reset() {
	d.lastKey = d.lastKey[:0]
	d.hasLast = false
	d.pairs = d.pairs[:0]
	d.bits.ClearAll()
	d.maxByte = -1
}

// NumPairs returns the number of discriminating-bit entries recorded so far
// (one less than the number of keys added).
func (d *DBitBuilder) NumPairs() int {
	return len(d.pairs)
}

// NumDiscriminators returns M, the number of distinct discriminative bit
// positions accumulated so far — the rank space Finish must pack into a
// single byte per pair. Finish refuses to serialize once this exceeds 255.
func (d *DBitBuilder) NumDiscriminators() int {
	return int(d.bits.Count())
}

// MaxDiscriminators is the largest M a DBit sidecar can encode: ranks are
// one byte each, so M must fit in [0, 255].
const MaxDiscriminators = 255

// Finish assigns ranks to every discriminating bit position (MSB-first,
// byte index ascending) and returns the three sidecar components in the
// order they are written to the block: rank bytes (one per pair), mask
// bytes (one per byte position up to the highest used), and the mask byte
// count. ok is false when M = NumDiscriminators() exceeds MaxDiscriminators
// and a rank byte could no longer name every position uniquely; the caller
// must fall back to a plain block with no DBit sidecar in that case rather
// than serialize colliding ranks.
func (d *DBitBuilder) Finish() (ranks []byte, maskBytes []byte, maskLen uint16, ok bool) {
	if d.maxByte < 0 {
		return nil, nil, 0, true
	}
	if d.NumDiscriminators() > MaxDiscriminators {
		return nil, nil, 0, false
	}

	maskLen = uint16(d.maxByte + 1)
	maskBytes = make([]byte, maskLen)
	rankOf := make(map[uint]int)
	next := 0
	for i := 0; i <= d.maxByte; i++ {
		var b byte
		for j := 7; j >= 0; j-- {
			pos := uint(i*8 + j)
			if d.bits.Test(pos) {
				b |= 1 << uint(j)
				rankOf[pos] = next
				next++
			}
		}
		maskBytes[i] = b
	}

	ranks = make([]byte, len(d.pairs))
	for i, p := range d.pairs {
		pos := uint(p.shared*8 + bits.TrailingZeros8(p.mask))
		ranks[i] = byte(rankOf[pos])
	}

	return ranks, maskBytes, maskLen, true
}

// discriminatingBitMask returns a single-bit mask isolating the highest set
// bit of the byte that first differs between key1 and key2 at position
// shared. A key shorter than shared+1 is treated as having an implicit
// zero byte there, which preserves the invariant that a strict prefix
// sorts before its extension.
func discriminatingBitMask(key1, key2 []byte, shared int) byte {
	var b1, b2 byte
	if shared < len(key1) {
		b1 = key1[shared]
	}
	if shared < len(key2) {
		b2 = key2[shared]
	}
	diff := b1 ^ b2
	if diff == 0 {
		// Degenerate case: the differing bytes happen to both be zero past
		// the true end of the shorter key. Fall back to the lowest bit so
		// the sidecar stays well-formed; FinishSeek's full-key comparison
		// resolves the tie correctly regardless of which bit is recorded.
		return 0x01
	}
	return 1 << uint(bits.Len8(diff)-1)
}

// Index reads a DBit sidecar previously written by DBitBuilder, given the
// number of restart points in the block (supplied by the caller, not
// self-derived, matching the reference implementation's Initialize).
type Index struct {
	ranks     []byte
	maskBytes []byte
	maxRank   int
}

// NewIndex parses the sidecar that sits between the block's restart array
// and its trailing footer. sidecarEnd is the offset one past the sidecar's
// last byte (i.e. the start of the trailing fixed32 footer).
func NewIndex(data []byte, numRestarts int, sidecarEnd int) (*Index, error) {
	if sidecarEnd < 2 {
		return nil, ErrCorruptDBitSidecar
	}
	maskLen := int(encoding.DecodeFixed16(data[sidecarEnd-2 : sidecarEnd]))

	ranksLen := numRestarts - 1
	if ranksLen < 0 {
		ranksLen = 0
	}
	maskStart := sidecarEnd - 2 - maskLen
	ranksStart := maskStart - ranksLen
	if ranksStart < 0 || maskStart < 0 {
		return nil, ErrCorruptDBitSidecar
	}

	maskBytes := data[maskStart : maskStart+maskLen]
	ranks := data[ranksStart : ranksStart+ranksLen]

	maxRank := 0
	for _, b := range maskBytes {
		maxRank += bits.OnesCount8(b)
	}

	return &Index{ranks: ranks, maskBytes: maskBytes, maxRank: maxRank}, nil
}

// SidecarLength returns the total byte length of the sidecar (ranks + mask
// bytes + the fixed16 mask length field), so a caller can compute where the
// restart array ends.
func (idx *Index) SidecarLength() int {
	return len(idx.ranks) + len(idx.maskBytes) + 2
}

// extractBits compresses the bits of b selected by mask into contiguous low
// bits, preserving relative (MSB-to-LSB) order — the Go analogue of a
// hardware PEXT instruction.
func extractBits(b, mask byte) byte {
	var out byte
	for bit := 7; bit >= 0; bit-- {
		m := byte(1) << uint(bit)
		if mask&m != 0 {
			out <<= 1
			if b&m != 0 {
				out |= 1
			}
		}
	}
	return out
}

// sliceExtract packs the bits of key selected by the sidecar's mask bytes
// into a single integer, byte position ascending, each byte's selected
// bits MSB-first — the same order Finish assigns ranks in.
func sliceExtract(key []byte, maskBytes []byte) uint64 {
	var pkey uint64
	for i, m := range maskBytes {
		if m == 0 {
			continue
		}
		var b byte
		if i < len(key) {
			b = key[i]
		}
		pkey = (pkey << uint(bits.OnesCount8(m))) | uint64(extractBits(b, m))
	}
	return pkey
}

// Lookup narrows the probe key's extracted pkey to a single candidate
// restart index by sweeping ranks left to right: a set bit advances and
// records the candidate, a clear bit skips the remainder of the subtree
// rooted at that discriminative bit (every following rank whose value is
// >= the current one belongs to it). Returns 0 if the sidecar has no
// entries (single-restart block). The caller must still confirm with a
// full key comparison (FinishSeek).
func (idx *Index) Lookup(pkey uint64) int {
	pos := 0
	i := 0
	for i < len(idx.ranks) {
		r := int(idx.ranks[i])
		bit := (pkey >> uint(idx.maxRank-1-r)) & 1
		if bit == 1 {
			i++
			pos = i
		} else {
			i++
			for i < len(idx.ranks) && int(idx.ranks[i]) >= r {
				i++
			}
		}
	}
	return pos
}

// FinishSeek refines a Lookup candidate into the index of the first restart
// whose key is >= the probe key. cmp is sign(compare(probeKey,
// candidateKey)); lcp is PartialKeyLCP(probeKey, candidateKey). It walks
// linearly from pos in the direction cmp indicates as long as the adjacent
// rank is >= lcp, i.e. until a restart boundary at or above the shared
// discriminator is crossed; when cmp > 0 it returns the index one past the
// last restart walked over (the restart count if the probe key exceeds
// every key). keyAt is not called; the walk reads only the ranks.
func (idx *Index) FinishSeek(pos int, cmp int, lcp int, keyAt func(i int) []byte) int {
	if cmp == 0 {
		return pos
	}
	if cmp < 0 {
		for pos > 0 && int(idx.ranks[pos-1]) >= lcp {
			pos--
		}
	} else {
		for pos < len(idx.ranks) && int(idx.ranks[pos]) >= lcp {
			pos++
		}
		pos++
	}
	_ = keyAt
	return pos
}

// PartialKeyLCP returns the number of discriminative bits shared between a
// and b: mask bytes where the two keys agree contribute their full
// popcount, and the first differing byte contributes only the bits
// strictly above the first differing bit. A key shorter than a given byte
// position is treated as having an implicit zero byte there.
func (idx *Index) PartialKeyLCP(a, b []byte) int {
	lcp := 0
	for i, m := range idx.maskBytes {
		if m == 0 {
			continue
		}
		var ab, bb byte
		if i < len(a) {
			ab = a[i]
		}
		if i < len(b) {
			bb = b[i]
		}
		if ab == bb {
			lcp += bits.OnesCount8(m)
			continue
		}
		x := ab ^ bb
		high := bits.Len8(x) - 1
		lowBits := byte((1 << uint(high+1)) - 1)
		lcp += bits.OnesCount8(m &^ lowBits)
		break
	}
	return lcp
}

// ExtractKey returns the packed partial key for key under this index's mask.
func (idx *Index) ExtractKey(key []byte) uint64 {
	return sliceExtract(key, idx.maskBytes)
}

