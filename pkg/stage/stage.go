// Package stage runs the prefix-group reduce step: it aggregates and filters
// each prefix's merged record, places surviving groups into buckets, and
// forwards pre-finalized short itemsets to a reporter.
//
// A Stage owns its bucket registry and is driven by one goroutine.
package stage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/rs/zerolog"

	"github.com/eunmann/disteclat/internal/logctx"
	"github.com/eunmann/disteclat/pkg/aggregate"
	"github.com/eunmann/disteclat/pkg/bucket"
	"github.com/eunmann/disteclat/pkg/input"
	"github.com/eunmann/disteclat/pkg/itemset"
	"github.com/eunmann/disteclat/pkg/logging"
	"github.com/eunmann/disteclat/pkg/metrics"
	"github.com/eunmann/disteclat/pkg/output"
	"github.com/eunmann/disteclat/pkg/report"
)

var (
	// ErrUpstreamInvariant indicates the input broke the one merged record
	// per prefix guarantee. The run must be aborted.
	ErrUpstreamInvariant = errors.New("upstream invariant violated")
	// ErrRepeatedPrefix indicates a prefix that arrived as more than one
	// entry. It is wrapped in ErrUpstreamInvariant.
	ErrRepeatedPrefix = errors.New("prefix repeated in input")
	// ErrClosed indicates use of a closed stage.
	ErrClosed = errors.New("stage closed")
)

// Sink receives bucket frames and prefix placements, and commits or
// discards them when the stage closes. *output.Dir implements it.
type Sink interface {
	bucket.Emitter
	Assigned(prefix itemset.Prefix, bucket int) error
	Commit(ctx context.Context, stats output.RunStats) error
	Abort() error
}

// Config holds the stage parameters.
type Config struct {
	// MinSupport is the minimum item support kept. Default: 1.
	MinSupport int64
	// InitialBuckets seeds the registry. Default: 1.
	InitialBuckets int
	// Capacity is the per-bucket TID bound. Default: bucket.DefaultCapacity.
	Capacity int64
}

// Summary counts what a stage has processed so far.
type Summary struct {
	Entries        int64
	GroupsAssigned int64
	GroupsPruned   int64
	ItemsPruned    int64
	ShortItemsets  int64
	BucketsCreated int
	BucketTotals   []int64
}

// Option configures a Stage.
type Option func(*Stage)

// WithMetrics sets the metrics collector.
func WithMetrics(c metrics.Collector) Option {
	return func(s *Stage) {
		s.metrics = c
	}
}

// Stage is one reducer instance.
type Stage struct {
	cfg      Config
	registry *bucket.Registry
	balancer *bucket.Balancer
	sink     Sink
	short    *shortEmitter
	metrics  metrics.Collector
	loads    *bucket.LoadStats
	seen     mapset.Set[string]

	summary Summary
	start   time.Time
	closed  bool
}

// New creates a stage writing groups to sink and short itemsets to short.
func New(cfg Config, sink Sink, short report.Reporter, opts ...Option) (*Stage, error) {
	if cfg.MinSupport < 1 {
		cfg.MinSupport = 1
	}
	if cfg.InitialBuckets < 1 {
		cfg.InitialBuckets = 1
	}
	loads, err := bucket.NewLoadStats()
	if err != nil {
		return nil, err
	}

	registry := bucket.NewRegistry(cfg.InitialBuckets)
	s := &Stage{
		cfg:      cfg,
		registry: registry,
		balancer: bucket.NewBalancer(registry, cfg.Capacity),
		sink:     sink,
		short:    &shortEmitter{r: short},
		metrics:  metrics.NewNop(),
		loads:    loads,
		seen:     mapset.NewThreadUnsafeSet[string](),
		start:    time.Now(),
	}
	s.cfg.Capacity = s.balancer.Capacity()
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the effective configuration.
func (s *Stage) Config() Config {
	return s.cfg
}

// Process handles one input entry: the short key goes to the short
// reporter, every other key is aggregated and placed in a bucket.
func (s *Stage) Process(ctx context.Context, e input.Entry) error {
	if s.closed {
		return ErrClosed
	}
	s.summary.Entries++
	s.metrics.EntryProcessed()

	if e.IsShort() {
		n, err := s.short.emit(e.Records)
		s.summary.ShortItemsets += int64(n)
		for range n {
			s.metrics.ShortEmitted()
		}
		return err
	}

	prefix, err := itemset.ParsePrefix(e.Key)
	if err != nil {
		return err
	}
	// Keyed by canonical text so "1  2" and "1 2" collide.
	if !s.seen.Add(prefix.String()) {
		return fmt.Errorf("%w: %w: %q", ErrUpstreamInvariant, ErrRepeatedPrefix, prefix.String())
	}
	return s.processGroup(ctx, prefix, e.Records)
}

func (s *Stage) processGroup(ctx context.Context, prefix itemset.Prefix, records []itemset.Matrix) error {
	group, stats, ok, err := aggregate.Aggregate(prefix, records, s.cfg.MinSupport)
	if err != nil {
		if errors.Is(err, aggregate.ErrMultipleRecords) {
			return fmt.Errorf("%w: %w", ErrUpstreamInvariant, err)
		}
		return err
	}

	if pruned := stats.Pruned(); pruned > 0 {
		s.summary.ItemsPruned += int64(pruned)
		s.metrics.ItemsPruned(pruned)
	}
	if !ok {
		s.summary.GroupsPruned++
		s.metrics.GroupPruned()
		return nil
	}

	placement, err := s.balancer.Assign(group, s.sink)
	if err != nil {
		return err
	}
	if err := s.sink.Assigned(prefix, placement.Bucket); err != nil {
		return err
	}

	s.summary.GroupsAssigned++
	s.loads.Observe(group.Total)
	s.metrics.GroupAssigned(placement.Bucket, group.Total)
	if placement.Grew {
		s.summary.BucketsCreated++
		s.metrics.BucketCreated(s.registry.Len())
	}

	if log := logctx.FromContext(ctx); debugEnabled(log) {
		logging.GroupPlaced(log, prefix.String(), placement.Bucket).
			Int64("tids", group.Total).
			Int("items", len(group.Items)).
			Bool("new_bucket", placement.Grew).
			LogDebug("group placed")
	}
	return nil
}

func debugEnabled(log zerolog.Logger) bool {
	return zerolog.GlobalLevel() <= zerolog.DebugLevel && log.GetLevel() <= zerolog.DebugLevel
}

// Run processes every entry of r in order. It stops at the first error or
// when ctx is cancelled between entries. r is not closed.
func (s *Stage) Run(ctx context.Context, r input.Reader) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		if err := s.Process(ctx, e); err != nil {
			return err
		}
	}
}

// Summary returns the counters so far.
func (s *Stage) Summary() Summary {
	sum := s.summary
	sum.BucketTotals = s.registry.Totals()
	return sum
}

// Close closes the short reporter and commits the sink. If the reporter
// fails to close, the sink is aborted instead and both errors are returned.
func (s *Stage) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.short.close(); err != nil {
		return errors.Join(err, s.sink.Abort())
	}

	sum := s.Summary()
	stats := output.RunStats{
		MinSupport:   s.cfg.MinSupport,
		Capacity:     s.cfg.Capacity,
		BucketTotals: sum.BucketTotals,
		Entries:      sum.Entries,
		GroupsPruned: sum.GroupsPruned,
		ItemsPruned:  sum.ItemsPruned,
	}
	if err := s.sink.Commit(ctx, stats); err != nil {
		return err
	}

	s.logSummary(logctx.FromContext(ctx), sum)
	return nil
}

// Abort discards everything written so far. It is used when Run fails.
func (s *Stage) Abort() error {
	if s.closed {
		return nil
	}
	s.closed = true

	return errors.Join(s.short.close(), s.sink.Abort())
}

func (s *Stage) logSummary(log zerolog.Logger, sum Summary) {
	q := s.loads.Quantiles(0.5, 0.9, 0.99)
	logging.PhaseComplete(log, "reduce", time.Since(s.start)).
		Int64("entries", sum.Entries).
		Int64("groups_assigned", sum.GroupsAssigned).
		Int64("groups_pruned", sum.GroupsPruned).
		Int64("items_pruned", sum.ItemsPruned).
		Int64("short_itemsets", sum.ShortItemsets).
		Int("buckets", len(sum.BucketTotals)).
		Int("buckets_created", sum.BucketsCreated).
		Ints64("bucket_totals", sum.BucketTotals).
		Float64("group_tids_p50", q[0]).
		Float64("group_tids_p90", q[1]).
		Float64("group_tids_p99", q[2]).
		Int64("group_tids_max", s.loads.Largest()).
		Rate("entries_per_sec", sum.Entries).
		Log("reduce complete")
}
