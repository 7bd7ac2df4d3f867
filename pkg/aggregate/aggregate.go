// Package aggregate turns the merged record of a prefix into a prefix group,
// dropping items whose support is below the minimum support threshold.
package aggregate

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/eunmann/disteclat/pkg/itemset"
)

// ErrMultipleRecords indicates more than one merged record for one prefix.
// Upstream merging guarantees a single record, so this is not recoverable.
var ErrMultipleRecords = errors.New("more than one merged record for a prefix")

// Stats counts the items seen and kept for one prefix.
type Stats struct {
	ItemsSeen int
	ItemsKept int
}

// Pruned returns the number of items dropped by support filtering.
func (s Stats) Pruned() int {
	return s.ItemsSeen - s.ItemsKept
}

// Aggregate decodes the merged record of prefix and filters its items by
// minSup. It returns ok=false when no TIDs survive filtering, in which case
// the group must be discarded.
func Aggregate(prefix itemset.Prefix, records []itemset.Matrix, minSup int64) (itemset.PrefixGroup, Stats, bool, error) {
	var stats Stats

	if len(records) > 1 {
		return itemset.PrefixGroup{}, stats, false, fmt.Errorf("prefix %q: %w (got %d)", prefix, ErrMultipleRecords, len(records))
	}
	if len(records) == 0 {
		return itemset.PrefixGroup{}, stats, false, nil
	}

	items, err := itemset.DecodeMerged(records[0])
	if err != nil {
		return itemset.PrefixGroup{}, stats, false, fmt.Errorf("prefix %q: decode merged record: %w", prefix, err)
	}
	stats.ItemsSeen = len(items)

	group := itemset.PrefixGroup{Prefix: prefix}
	for _, it := range items {
		support := it.Support()
		if support < minSup {
			continue
		}
		group.Items = append(group.Items, it)
		group.Total += support
	}
	stats.ItemsKept = len(group.Items)

	if group.Total == 0 {
		return itemset.PrefixGroup{}, stats, false, nil
	}

	slices.SortFunc(group.Items, func(a, b itemset.ItemRecord) int {
		return cmp.Compare(a.Item, b.Item)
	})
	return group, stats, true, nil
}
