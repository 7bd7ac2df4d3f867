package metrics

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus implements Collector with Prometheus counters, a bucket gauge
// and a histogram of group sizes.
type Prometheus struct {
	reg *prometheus.Registry

	entries       prometheus.Counter
	groups        *prometheus.CounterVec
	groupTIDs     prometheus.Histogram
	bucketTIDs    *prometheus.CounterVec
	groupsPruned  prometheus.Counter
	itemsPruned   prometheus.Counter
	buckets       prometheus.Gauge
	shortItemsets prometheus.Counter
}

var _ Collector = (*Prometheus)(nil)

// NewPrometheus creates a collector registered on its own registry.
// An empty namespace defaults to "disteclat".
func NewPrometheus(namespace string) *Prometheus {
	if namespace == "" {
		namespace = "disteclat"
	}
	const subsystem = "prefix_reducer"

	p := &Prometheus{
		reg: prometheus.NewRegistry(),
		entries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "entries_total",
			Help:      "Input entries processed.",
		}),
		groups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "groups_assigned_total",
			Help:      "Prefix groups assigned, by bucket.",
		}, []string{"bucket"}),
		groupTIDs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "group_tids",
			Help:      "TIDs per assigned prefix group.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 14), // 1 .. ~67M
		}),
		bucketTIDs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "bucket_tids_total",
			Help:      "TIDs routed to each bucket.",
		}, []string{"bucket"}),
		groupsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "groups_pruned_total",
			Help:      "Prefix groups dropped because no item reached min support.",
		}),
		itemsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "items_pruned_total",
			Help:      "Items dropped by the min support filter.",
		}),
		buckets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "buckets",
			Help:      "Current number of buckets.",
		}),
		shortItemsets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "short_itemsets_total",
			Help:      "Short frequent itemsets reported.",
		}),
	}

	p.reg.MustRegister(
		p.entries,
		p.groups,
		p.groupTIDs,
		p.bucketTIDs,
		p.groupsPruned,
		p.itemsPruned,
		p.buckets,
		p.shortItemsets,
	)
	return p
}

// Registry exposes the underlying registry.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.reg
}

// SetBuckets sets the bucket gauge, typically to the initial bucket count.
func (p *Prometheus) SetBuckets(n int) {
	p.buckets.Set(float64(n))
}

func (p *Prometheus) EntryProcessed() {
	p.entries.Inc()
}

func (p *Prometheus) GroupAssigned(bucket int, tids int64) {
	label := strconv.Itoa(bucket)
	p.groups.WithLabelValues(label).Inc()
	p.bucketTIDs.WithLabelValues(label).Add(float64(tids))
	p.groupTIDs.Observe(float64(tids))
}

func (p *Prometheus) GroupPruned() {
	p.groupsPruned.Inc()
}

func (p *Prometheus) ItemsPruned(n int) {
	if n > 0 {
		p.itemsPruned.Add(float64(n))
	}
}

func (p *Prometheus) BucketCreated(buckets int) {
	p.buckets.Set(float64(buckets))
}

func (p *Prometheus) ShortEmitted() {
	p.shortItemsets.Inc()
}

// WriteTextfile writes the current metrics in the node_exporter textfile
// format, replacing path atomically.
func (p *Prometheus) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, p.reg); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
