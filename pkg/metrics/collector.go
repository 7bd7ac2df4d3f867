// Package metrics records reducer counters for one run.
package metrics

// Collector receives reducer events. Implementations must be safe for use
// from a single goroutine; the stage never calls them concurrently.
type Collector interface {
	// EntryProcessed counts one input entry (prefix key or short key).
	EntryProcessed()
	// GroupAssigned records a prefix group of tids TIDs placed in bucket.
	GroupAssigned(bucket int, tids int64)
	// GroupPruned counts a prefix group dropped because nothing survived minSup.
	GroupPruned()
	// ItemsPruned counts items dropped by the support filter.
	ItemsPruned(n int)
	// BucketCreated reports the bucket count after a bucket was appended.
	BucketCreated(buckets int)
	// ShortEmitted counts one finalized short itemset.
	ShortEmitted()
}

// Nop discards all metrics.
type Nop struct{}

var _ Collector = Nop{}

// NewNop returns a Collector that records nothing.
func NewNop() Nop { return Nop{} }

func (Nop) EntryProcessed() {}

func (Nop) GroupAssigned(int, int64) {}

func (Nop) GroupPruned() {}

func (Nop) ItemsPruned(int) {}

func (Nop) BucketCreated(int) {}

func (Nop) ShortEmitted() {}
