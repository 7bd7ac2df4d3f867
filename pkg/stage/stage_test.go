package stage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"reflect"
	"testing"

	"github.com/eunmann/disteclat/pkg/aggregate"
	"github.com/eunmann/disteclat/pkg/input"
	"github.com/eunmann/disteclat/pkg/itemset"
	"github.com/eunmann/disteclat/pkg/output"
	"github.com/eunmann/disteclat/pkg/recfile"
	"github.com/eunmann/disteclat/pkg/report"
)

// memSink keeps frames per bucket in memory.
type memSink struct {
	frames    map[int][]recfile.Frame
	assigned  map[string]int
	committed *output.RunStats
	aborted   bool
	emitErr   error
	abortErr  error
}

func newMemSink() *memSink {
	return &memSink{frames: make(map[int][]recfile.Frame), assigned: make(map[string]int)}
}

func (m *memSink) Emit(bucket int, f recfile.Frame) error {
	if m.emitErr != nil {
		return m.emitErr
	}
	m.frames[bucket] = append(m.frames[bucket], f)
	return nil
}

func (m *memSink) Assigned(prefix itemset.Prefix, bucket int) error {
	m.assigned[prefix.String()] = bucket
	return nil
}

func (m *memSink) Commit(_ context.Context, stats output.RunStats) error {
	m.committed = &stats
	return nil
}

func (m *memSink) Abort() error {
	m.aborted = true
	return m.abortErr
}

// sliceReader serves entries from memory.
type sliceReader struct {
	entries []input.Entry
}

func (r *sliceReader) Next() (input.Entry, error) {
	if len(r.entries) == 0 {
		return input.Entry{}, io.EOF
	}
	e := r.entries[0]
	r.entries = r.entries[1:]
	return e, nil
}

func (r *sliceReader) Close() error { return nil }

func merged(items ...itemset.ItemRecord) []itemset.Matrix {
	return []itemset.Matrix{itemset.EncodeMerged(items)}
}

func item(id itemset.Item, partials ...itemset.Row) itemset.ItemRecord {
	return itemset.ItemRecord{Item: id, Partials: partials}
}

func twoPrefixEntries() []input.Entry {
	return []input.Entry{
		{Key: "1", Records: merged(
			item(2, itemset.Row{0}, itemset.Row{0, 1}, itemset.Row{0}),
			item(3, itemset.Row{}, itemset.Row{0}, itemset.Row{}),
		)},
		{Key: "2", Records: merged(
			item(3, itemset.Row{}, itemset.Row{0}, itemset.Row{1}),
		)},
	}
}

func newStage(t *testing.T, cfg Config, sink Sink, short report.Reporter) *Stage {
	t.Helper()
	s, err := New(cfg, sink, short)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func TestRun_TwoPrefixes(t *testing.T) {
	sink := newMemSink()
	var shortBuf bytes.Buffer
	s := newStage(t, Config{MinSupport: 1, InitialBuckets: 1}, sink, report.NewTextReporter(&shortBuf))

	ctx := context.Background()
	if err := s.Run(ctx, &sliceReader{entries: twoPrefixEntries()}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	want := []recfile.Frame{
		{Tag: recfile.TagGroupStart, Key: itemset.Row{1}},
		{Tag: recfile.TagItem, Key: itemset.Row{2}, Value: itemset.Matrix{{0}, {0, 1}, {0}}},
		{Tag: recfile.TagItem, Key: itemset.Row{3}, Value: itemset.Matrix{{}, {0}, {}}},
		{Tag: recfile.TagGroupEnd},
		{Tag: recfile.TagGroupStart, Key: itemset.Row{2}},
		{Tag: recfile.TagItem, Key: itemset.Row{3}, Value: itemset.Matrix{{}, {0}, {1}}},
		{Tag: recfile.TagGroupEnd},
	}
	if len(sink.frames) != 1 {
		t.Fatalf("buckets used = %d, want 1", len(sink.frames))
	}
	if !reflect.DeepEqual(sink.frames[0], want) {
		t.Errorf("bucket-0 frames =\n%v\nwant\n%v", sink.frames[0], want)
	}

	sum := s.Summary()
	if !reflect.DeepEqual(sum.BucketTotals, []int64{7}) {
		t.Errorf("BucketTotals = %v, want [7]", sum.BucketTotals)
	}
	if sum.GroupsAssigned != 2 || sum.Entries != 2 || sum.GroupsPruned != 0 {
		t.Errorf("Summary = %+v", sum)
	}
	if sink.committed == nil || sink.committed.Entries != 2 || sink.aborted {
		t.Errorf("sink not committed: %+v aborted=%v", sink.committed, sink.aborted)
	}
	if !reflect.DeepEqual(sink.assigned, map[string]int{"1": 0, "2": 0}) {
		t.Errorf("assigned = %v", sink.assigned)
	}
	if shortBuf.Len() != 0 {
		t.Errorf("unexpected short output %q", shortBuf.String())
	}
}

func TestProcess_Pruning(t *testing.T) {
	sink := newMemSink()
	s := newStage(t, Config{MinSupport: 3}, sink, report.NewTextReporter(&bytes.Buffer{}))
	ctx := context.Background()

	// Prefix 1 keeps item 2 (support 4), drops item 3 (support 1).
	// Prefix 2 loses its only item (support 2) and disappears.
	for _, e := range twoPrefixEntries() {
		if err := s.Process(ctx, e); err != nil {
			t.Fatalf("Process(%q) error = %v", e.Key, err)
		}
	}

	want := []recfile.Frame{
		{Tag: recfile.TagGroupStart, Key: itemset.Row{1}},
		{Tag: recfile.TagItem, Key: itemset.Row{2}, Value: itemset.Matrix{{0}, {0, 1}, {0}}},
		{Tag: recfile.TagGroupEnd},
	}
	if !reflect.DeepEqual(sink.frames[0], want) {
		t.Errorf("frames = %v, want %v", sink.frames[0], want)
	}
	if _, ok := sink.assigned["2"]; ok {
		t.Error("pruned prefix was assigned")
	}

	sum := s.Summary()
	if sum.GroupsPruned != 1 || sum.ItemsPruned != 2 || sum.GroupsAssigned != 1 {
		t.Errorf("Summary = %+v", sum)
	}
	if sum.BucketTotals[0] != 4 {
		t.Errorf("bucket total = %d, want 4", sum.BucketTotals[0])
	}
}

func TestProcess_ShortPath(t *testing.T) {
	sink := newMemSink()
	var buf bytes.Buffer
	lengths := report.NewLengthCountReporter(&bytes.Buffer{})
	s := newStage(t, Config{}, sink, report.Tee(report.NewTextReporter(&buf), lengths))
	ctx := context.Background()

	short := input.Entry{Key: itemset.ShortKey, Records: []itemset.Matrix{
		itemset.EncodeShort(itemset.ShortItemset{Items: []itemset.Item{7}, Support: 12}),
		itemset.EncodeShort(itemset.ShortItemset{Items: []itemset.Item{3}, Support: 5}),
	}}
	if err := s.Process(ctx, short); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if err := s.Close(ctx); err != nil {
		t.Fatal(err)
	}

	if got, want := buf.String(), "1\t7(12)\n1\t3(5)\n"; got != want {
		t.Errorf("short output = %q, want %q", got, want)
	}
	if len(sink.frames) != 0 {
		t.Errorf("short itemsets reached buckets: %v", sink.frames)
	}
	if got := s.Summary(); got.ShortItemsets != 2 || !reflect.DeepEqual(got.BucketTotals, []int64{0}) {
		t.Errorf("Summary = %+v", got)
	}
	if lengths.Counts()[1] != 2 {
		t.Errorf("length counts = %v", lengths.Counts())
	}
}

func TestProcess_MalformedShort(t *testing.T) {
	s := newStage(t, Config{}, newMemSink(), report.NewTextReporter(&bytes.Buffer{}))
	e := input.Entry{Key: itemset.ShortKey, Records: []itemset.Matrix{{{1}}}}
	if err := s.Process(context.Background(), e); !errors.Is(err, itemset.ErrMalformedRecord) {
		t.Errorf("Process() error = %v, want ErrMalformedRecord", err)
	}
}

func TestProcess_MultipleRecordsIsFatal(t *testing.T) {
	sink := newMemSink()
	s := newStage(t, Config{}, sink, report.NewTextReporter(&bytes.Buffer{}))

	e := input.Entry{Key: "1", Records: append(merged(item(2, itemset.Row{0})), merged(item(3, itemset.Row{1}))...)}
	err := s.Run(context.Background(), &sliceReader{entries: []input.Entry{e}})
	if !errors.Is(err, ErrUpstreamInvariant) || !errors.Is(err, aggregate.ErrMultipleRecords) {
		t.Fatalf("Run() error = %v, want ErrUpstreamInvariant", err)
	}
	if len(sink.frames) != 0 {
		t.Errorf("frames written before failure: %v", sink.frames)
	}

	if err := s.Abort(); err != nil {
		t.Fatal(err)
	}
	if !sink.aborted || sink.committed != nil {
		t.Errorf("aborted=%v committed=%v", sink.aborted, sink.committed)
	}
}

func TestProcess_InvalidPrefix(t *testing.T) {
	s := newStage(t, Config{}, newMemSink(), report.NewTextReporter(&bytes.Buffer{}))
	err := s.Process(context.Background(), input.Entry{Key: "1 x", Records: merged(item(2, itemset.Row{0}))})
	if !errors.Is(err, itemset.ErrInvalidPrefix) {
		t.Errorf("Process() error = %v, want ErrInvalidPrefix", err)
	}
}

func TestProcess_BucketGrowth(t *testing.T) {
	sink := newMemSink()
	s := newStage(t, Config{InitialBuckets: 2, Capacity: 5}, sink, report.NewTextReporter(&bytes.Buffer{}))
	ctx := context.Background()

	entries := []input.Entry{
		// 4 TIDs: bucket 0.
		{Key: "1", Records: merged(item(9, itemset.Row{0, 1, 2, 3}))},
		// 3 TIDs: bucket 1.
		{Key: "2", Records: merged(item(9, itemset.Row{0, 1, 2}))},
		// 3 TIDs: lowest is bucket 1 at 3, 6 > 5, so bucket 2 is appended.
		{Key: "3", Records: merged(item(9, itemset.Row{0, 1, 2}))},
		// 7 TIDs exceed the capacity alone: sole occupant of a new bucket 3.
		{Key: "4", Records: merged(item(9, itemset.Row{0, 1, 2, 3, 4, 5, 6}))},
	}
	for _, e := range entries {
		if err := s.Process(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	want := map[string]int{"1": 0, "2": 1, "3": 2, "4": 3}
	if !reflect.DeepEqual(sink.assigned, want) {
		t.Errorf("assigned = %v, want %v", sink.assigned, want)
	}
	sum := s.Summary()
	if !reflect.DeepEqual(sum.BucketTotals, []int64{4, 3, 3, 7}) {
		t.Errorf("BucketTotals = %v", sum.BucketTotals)
	}
	if sum.BucketsCreated != 2 {
		t.Errorf("BucketsCreated = %d, want 2", sum.BucketsCreated)
	}
}

func TestRun_Deterministic(t *testing.T) {
	run := func() (map[int][]recfile.Frame, map[string]int) {
		sink := newMemSink()
		s := newStage(t, Config{InitialBuckets: 3, Capacity: 6}, sink, report.NewTextReporter(&bytes.Buffer{}))
		var entries []input.Entry
		for i := range 20 {
			tids := make(itemset.Row, i%5+1)
			for j := range tids {
				tids[j] = uint32(j)
			}
			key := itemset.Prefix{itemset.Item(i)}.String()
			entries = append(entries, input.Entry{Key: key, Records: merged(item(100, tids))})
		}
		if err := s.Run(context.Background(), &sliceReader{entries: entries}); err != nil {
			t.Fatal(err)
		}
		return sink.frames, sink.assigned
	}

	f1, a1 := run()
	f2, a2 := run()
	if !reflect.DeepEqual(f1, f2) || !reflect.DeepEqual(a1, a2) {
		t.Error("re-run produced different assignments")
	}
}

func TestRun_Cancelled(t *testing.T) {
	s := newStage(t, Config{}, newMemSink(), report.NewTextReporter(&bytes.Buffer{}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Run(ctx, &sliceReader{entries: twoPrefixEntries()}); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
	if s.Summary().Entries != 0 {
		t.Error("entries processed after cancel")
	}
}

func TestClosedStage(t *testing.T) {
	s := newStage(t, Config{}, newMemSink(), report.NewTextReporter(&bytes.Buffer{}))
	ctx := context.Background()
	if err := s.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(ctx); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := s.Process(ctx, twoPrefixEntries()[0]); !errors.Is(err, ErrClosed) {
		t.Errorf("Process() after Close error = %v, want ErrClosed", err)
	}
}

type failingReporter struct{}

func (failingReporter) Report([]itemset.Item, int64) error { return nil }

func (failingReporter) Close() error { return errors.New("disk full") }

func TestClose_ReporterFailureAborts(t *testing.T) {
	sink := newMemSink()
	s := newStage(t, Config{}, sink, failingReporter{})
	if err := s.Close(context.Background()); err == nil {
		t.Fatal("Close() succeeded with failing reporter")
	}
	if !sink.aborted || sink.committed != nil {
		t.Errorf("aborted=%v committed=%v", sink.aborted, sink.committed)
	}
}

func TestProcess_EmitError(t *testing.T) {
	sink := newMemSink()
	sink.emitErr = errors.New("write failed")
	s := newStage(t, Config{}, sink, report.NewTextReporter(&bytes.Buffer{}))
	if err := s.Process(context.Background(), twoPrefixEntries()[0]); !errors.Is(err, sink.emitErr) {
		t.Errorf("Process() error = %v, want emit error", err)
	}
}

func TestRun_RepeatedPrefixAcrossInputs(t *testing.T) {
	sink := newMemSink()
	s := newStage(t, Config{}, sink, report.NewTextReporter(&bytes.Buffer{}))

	first := &sliceReader{entries: []input.Entry{
		{Key: "1", Records: merged(item(2, itemset.Row{0, 1, 2, 3, 4}))},
		{Key: "2", Records: merged(item(3, itemset.Row{0}))},
	}}
	second := &sliceReader{entries: []input.Entry{
		{Key: "1", Records: merged(item(4, itemset.Row{5, 6, 7, 8, 9}))},
	}}

	err := s.Run(context.Background(), input.Concat(first, second))
	if !errors.Is(err, ErrUpstreamInvariant) || !errors.Is(err, ErrRepeatedPrefix) {
		t.Fatalf("Run() error = %v, want ErrUpstreamInvariant wrapping ErrRepeatedPrefix", err)
	}

	sum := s.Summary()
	if sum.GroupsAssigned != 2 {
		t.Errorf("GroupsAssigned = %d, want 2", sum.GroupsAssigned)
	}
	if !reflect.DeepEqual(sum.BucketTotals, []int64{6}) {
		t.Errorf("BucketTotals = %v, want [6]", sum.BucketTotals)
	}
	if n := len(sink.frames[0]); n != 6 {
		t.Errorf("bucket 0 has %d frames, want 6 (two groups)", n)
	}
}

func TestProcess_RepeatedPrunedPrefix(t *testing.T) {
	s := newStage(t, Config{MinSupport: 10}, newMemSink(), report.NewTextReporter(&bytes.Buffer{}))
	e := input.Entry{Key: "5", Records: merged(item(2, itemset.Row{0}))}
	if err := s.Process(context.Background(), e); err != nil {
		t.Fatal(err)
	}
	e.Key = "5 "
	if err := s.Process(context.Background(), e); !errors.Is(err, ErrRepeatedPrefix) {
		t.Errorf("Process() error = %v, want ErrRepeatedPrefix", err)
	}
}

func TestClose_JoinsAbortError(t *testing.T) {
	sink := newMemSink()
	sink.abortErr = errors.New("remove staging failed")
	s := newStage(t, Config{}, sink, failingReporter{})

	err := s.Close(context.Background())
	if !errors.Is(err, sink.abortErr) {
		t.Errorf("Close() error = %v, want abort error joined", err)
	}

	s = newStage(t, Config{}, sink, failingReporter{})
	if err := s.Abort(); !errors.Is(err, sink.abortErr) {
		t.Errorf("Abort() error = %v, want abort error joined", err)
	}
}
