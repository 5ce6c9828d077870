// properties.go implements the properties block: a small set of
// diagnostic statistics about the table, written by TableBuilder under
// the metaindex key "sstcore.properties".
package table

import (
	"github.com/sstcore/sstcore/internal/block"
	"github.com/sstcore/sstcore/internal/encoding"
)

// Property name constants.
const (
	PropNumEntries     = "sstcore.num.entries"
	PropRawKeySize     = "sstcore.raw.key.size"
	PropRawValueSize   = "sstcore.raw.value.size"
	PropDataSize       = "sstcore.data.size"
	PropIndexSize      = "sstcore.index.size"
	PropNumDataBlocks  = "sstcore.num.data.blocks"
	PropComparatorName = "sstcore.comparator"
)

// Properties holds the table's diagnostic statistics.
type Properties struct {
	NumEntries     uint64
	RawKeySize     uint64
	RawValueSize   uint64
	DataSize       uint64
	IndexSize      uint64
	NumDataBlocks  uint64
	ComparatorName string

	// UnknownProperties holds any entry not recognized above, keyed by
	// its raw property name. Lets a future writer add fields this reader
	// doesn't yet know about without losing them.
	UnknownProperties map[string][]byte
}

// ParseProperties parses a properties block's raw bytes.
func ParseProperties(data []byte) (*Properties, error) {
	blk, err := block.NewBlock(data)
	if err != nil {
		return nil, err
	}

	props := &Properties{}

	it := blk.NewIterator(nil)
	for it.SeekToFirst(); it.Valid(); it.Next() {
		key := string(it.Key())
		value := it.Value()

		var target *uint64
		switch key {
		case PropNumEntries:
			target = &props.NumEntries
		case PropRawKeySize:
			target = &props.RawKeySize
		case PropRawValueSize:
			target = &props.RawValueSize
		case PropDataSize:
			target = &props.DataSize
		case PropIndexSize:
			target = &props.IndexSize
		case PropNumDataBlocks:
			target = &props.NumDataBlocks
		case PropComparatorName:
			props.ComparatorName = string(value)
			continue
		default:
			if props.UnknownProperties == nil {
				props.UnknownProperties = make(map[string][]byte)
			}
			props.UnknownProperties[key] = append([]byte(nil), value...)
			continue
		}

		v, _, err := encoding.DecodeVarint64(value)
		if err != nil {
			continue
		}
		*target = v
	}

	return props, nil
}
