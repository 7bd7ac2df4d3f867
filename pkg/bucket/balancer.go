package bucket

import (
	"fmt"

	"github.com/eunmann/disteclat/pkg/itemset"
	"github.com/eunmann/disteclat/pkg/recfile"
)

const (
	// MaxArtifactBytes is the intended maximum size of one bucket artifact.
	MaxArtifactBytes = 1_000_000_000
	// TIDEncodingWidth is the encoded size of one TID in bytes.
	TIDEncodingWidth = 4
	// SafetyFactor leaves room for keys, markers and headers.
	SafetyFactor = 0.7

	// DefaultCapacity is the TID bound per bucket (175,000,000).
	DefaultCapacity = int64(SafetyFactor * (MaxArtifactBytes / TIDEncodingWidth))
)

// Emitter receives the frames of assigned groups, addressed by bucket ordinal.
type Emitter interface {
	Emit(bucket int, f recfile.Frame) error
}

// Placement describes where a group went.
type Placement struct {
	Bucket int
	// Grew is true when a new bucket was appended for the group.
	Grew bool
}

// Balancer assigns prefix groups to buckets of a Registry.
type Balancer struct {
	registry *Registry
	capacity int64
}

// NewBalancer creates a balancer over registry. A capacity <= 0 selects
// DefaultCapacity.
func NewBalancer(registry *Registry, capacity int64) *Balancer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Balancer{registry: registry, capacity: capacity}
}

// Capacity returns the per-bucket TID bound.
func (b *Balancer) Capacity() int64 {
	return b.capacity
}

// Registry returns the registry the balancer schedules onto.
func (b *Balancer) Registry() *Registry {
	return b.registry
}

// fits reports whether bucket i can take total more TIDs. The check is on
// the bucket's accumulated total, not its ordinal.
func (b *Balancer) fits(i int, total int64) bool {
	return b.registry.Total(i)+total <= b.capacity
}

// Place selects a bucket for a group of the given total and records the
// total on it. A group that does not fit the least-loaded bucket gets a
// freshly appended bucket, even when the group alone exceeds the capacity.
func (b *Balancer) Place(total int64) Placement {
	p := Placement{Bucket: b.registry.Lowest()}
	if !b.fits(p.Bucket, total) {
		p.Bucket = b.registry.Append()
		p.Grew = true
	}
	b.registry.Add(p.Bucket, total)
	return p
}

// Assign places group and emits it to the chosen bucket as a start marker,
// one frame per item, and an end marker.
func (b *Balancer) Assign(group itemset.PrefixGroup, out Emitter) (Placement, error) {
	p := b.Place(group.Total)

	if err := out.Emit(p.Bucket, recfile.Frame{Tag: recfile.TagGroupStart, Key: group.Prefix.Row()}); err != nil {
		return p, fmt.Errorf("emit group start %q to bucket %d: %w", group.Prefix, p.Bucket, err)
	}
	for _, it := range group.Items {
		f := recfile.Frame{
			Tag:   recfile.TagItem,
			Key:   itemset.Row{it.Item},
			Value: itemset.Matrix(it.Partials),
		}
		if err := out.Emit(p.Bucket, f); err != nil {
			return p, fmt.Errorf("emit item %d of %q to bucket %d: %w", it.Item, group.Prefix, p.Bucket, err)
		}
	}
	if err := out.Emit(p.Bucket, recfile.Frame{Tag: recfile.TagGroupEnd}); err != nil {
		return p, fmt.Errorf("emit group end %q to bucket %d: %w", group.Prefix, p.Bucket, err)
	}

	return p, nil
}
