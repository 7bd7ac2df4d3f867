package itemset

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
)

// Merged record layout:
//
//	[item, n]        block header
//	[tid, tid, ...]  partial list 0
//	...
//	[tid, ...]       partial list n-1
//
// Blocks repeat, one per item. Partial lists may be empty.

// EncodeMerged encodes item records into a merged record matrix.
func EncodeMerged(items []ItemRecord) Matrix {
	size := 0
	for _, it := range items {
		size += 1 + len(it.Partials)
	}
	m := make(Matrix, 0, size)
	for _, it := range items {
		m = append(m, Row{it.Item, uint32(len(it.Partials))})
		for _, p := range it.Partials {
			m = append(m, p)
		}
	}
	return m
}

// DecodeMerged decodes a merged record matrix into item records in the order
// they appear. The returned partial rows alias the matrix.
func DecodeMerged(m Matrix) ([]ItemRecord, error) {
	var items []ItemRecord
	seen := mapset.NewThreadUnsafeSet[Item]()

	for i := 0; i < len(m); {
		header := m[i]
		if len(header) != 2 {
			return nil, fmt.Errorf("%w: row %d: block header has %d values, want 2", ErrMalformedRecord, i, len(header))
		}
		item, n := header[0], int(header[1])
		if i+1+n > len(m) {
			return nil, fmt.Errorf("%w: item %d declares %d partial lists, only %d rows left", ErrMalformedRecord, item, n, len(m)-i-1)
		}
		if seen.Contains(item) {
			return nil, fmt.Errorf("%w: item %d", ErrDuplicateItem, item)
		}
		seen.Add(item)

		items = append(items, ItemRecord{
			Item:     item,
			Partials: m[i+1 : i+1+n],
		})
		i += 1 + n
	}
	return items, nil
}

// EncodeShort encodes a finalized itemset as a two-row record: the itemset
// followed by a single-value support row.
func EncodeShort(s ShortItemset) Matrix {
	return Matrix{Row(append([]Item(nil), s.Items...)), Row{uint32(s.Support)}}
}

// DecodeShort decodes a short itemset record.
func DecodeShort(m Matrix) (ShortItemset, error) {
	if len(m) != 2 {
		return ShortItemset{}, fmt.Errorf("%w: short itemset has %d rows, want 2", ErrMalformedRecord, len(m))
	}
	if len(m[0]) == 0 {
		return ShortItemset{}, fmt.Errorf("%w: short itemset is empty", ErrMalformedRecord)
	}
	if len(m[1]) != 1 {
		return ShortItemset{}, fmt.Errorf("%w: support row has %d values, want 1", ErrMalformedRecord, len(m[1]))
	}
	return ShortItemset{
		Items:   append([]Item(nil), m[0]...),
		Support: int64(m[1][0]),
	}, nil
}
