// Package bucket schedules prefix groups onto output buckets.
//
// A Registry tracks the running TID total of every bucket. A Balancer places
// each prefix group, whole, on the least-loaded bucket and opens a new bucket
// when the least-loaded one cannot take the group without exceeding the
// capacity bound.
//
// Registries are owned by a single reducer instance and are NOT safe for
// concurrent use.
package bucket

// Registry is an append-only ordered collection of bucket totals.
// Bucket ordinals are indices into the registry.
type Registry struct {
	totals []int64
}

// NewRegistry creates a registry seeded with initial empty buckets.
// Values below 1 are treated as 1.
func NewRegistry(initial int) *Registry {
	if initial < 1 {
		initial = 1
	}
	return &Registry{totals: make([]int64, initial)}
}

// Len returns the number of buckets.
func (r *Registry) Len() int {
	return len(r.totals)
}

// Total returns the running TID total of bucket i.
func (r *Registry) Total(i int) int64 {
	return r.totals[i]
}

// Totals returns a copy of all bucket totals in ordinal order.
func (r *Registry) Totals() []int64 {
	out := make([]int64, len(r.totals))
	copy(out, r.totals)
	return out
}

// Lowest returns the ordinal of the bucket with the smallest total.
// Ties go to the lowest ordinal.
func (r *Registry) Lowest() int {
	lowest := 0
	for i := 1; i < len(r.totals); i++ {
		if r.totals[i] < r.totals[lowest] {
			lowest = i
		}
	}
	return lowest
}

// Add adds n TIDs to bucket i. Totals never decrease, so negative n is ignored.
func (r *Registry) Add(i int, n int64) {
	if n > 0 {
		r.totals[i] += n
	}
}

// Append adds an empty bucket and returns its ordinal.
func (r *Registry) Append() int {
	r.totals = append(r.totals, 0)
	return len(r.totals) - 1
}
