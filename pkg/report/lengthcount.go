package report

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/eunmann/disteclat/pkg/itemset"
)

// LengthCountReporter counts itemsets per length and writes the totals on
// Close as "<length>\t<count>" lines in ascending length order.
type LengthCountReporter struct {
	w      io.Writer
	counts map[int]int64
	closed bool
}

// NewLengthCountReporter creates a length-count reporter writing to w. If w
// is an io.Closer it is closed by Close.
func NewLengthCountReporter(w io.Writer) *LengthCountReporter {
	return &LengthCountReporter{
		w:      w,
		counts: make(map[int]int64),
	}
}

// Report counts one itemset.
func (r *LengthCountReporter) Report(items []itemset.Item, _ int64) error {
	if r.closed {
		return ErrClosed
	}
	r.counts[len(items)]++
	return nil
}

// Counts returns a copy of the per-length counts.
func (r *LengthCountReporter) Counts() map[int]int64 {
	return maps.Clone(r.counts)
}

// Close writes the counts and closes the underlying writer.
func (r *LengthCountReporter) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	err := r.writeCounts()
	if c, ok := r.w.(io.Closer); ok {
		if cerr := c.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close: %w", cerr))
		}
	}
	return err
}

func (r *LengthCountReporter) writeCounts() error {
	bw := bufio.NewWriter(r.w)
	for _, length := range slices.Sorted(maps.Keys(r.counts)) {
		if _, err := fmt.Fprintf(bw, "%d\t%d\n", length, r.counts[length]); err != nil {
			return fmt.Errorf("write count: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}
