// Package itemset defines the data model shared by the prefix-group reducer:
// items, transaction ids, prefixes, and the int-matrix wire shape used by
// merged records and bucket artifacts.
package itemset

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Item identifies a single item in the transaction database.
type Item = uint32

// TID identifies a transaction in which an item occurs.
type TID = uint32

// Row is an ordered sequence of unsigned integers. It carries either item ids
// (prefixes, itemsets) or transaction ids (partial TID lists).
type Row []uint32

// Matrix is an ordered sequence of rows. Merged records, short itemset records
// and bucket artifact values all use this shape on the wire.
type Matrix []Row

// ShortKey is the reserved input key under which already-finalized
// single-item frequent itemsets arrive. It can never parse as a Prefix.
const ShortKey = "#short"

// Prefix is the leading item sequence that names an equivalence class.
type Prefix []Item

// ParsePrefix parses the text form of a prefix ("1 2 3").
// Items may be separated by any amount of whitespace.
func ParsePrefix(s string) (Prefix, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty prefix", ErrInvalidPrefix)
	}
	p := make(Prefix, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseUint(f, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidPrefix, s, err)
		}
		p[i] = Item(v)
	}
	return p, nil
}

// String renders the prefix in its text form.
func (p Prefix) String() string {
	var b strings.Builder
	for i, item := range p {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(strconv.FormatUint(uint64(item), 10))
	}
	return b.String()
}

// Row returns the prefix as a wire row.
func (p Prefix) Row() Row {
	return Row(slices.Clone(p))
}

// ItemRecord holds one item's partial TID lists under a prefix, one list per
// source partition, in partition order.
type ItemRecord struct {
	Item     Item
	Partials []Row
}

// Support returns the number of TIDs across all partial lists.
func (r ItemRecord) Support() int64 {
	var n int64
	for _, p := range r.Partials {
		n += int64(len(p))
	}
	return n
}

// PrefixGroup is a prefix together with the items that survived support
// filtering. Items are sorted by item id.
type PrefixGroup struct {
	Prefix Prefix
	Items  []ItemRecord
	Total  int64
}

// ShortItemset is a finalized frequent itemset with its support.
type ShortItemset struct {
	Items   []Item
	Support int64
}
