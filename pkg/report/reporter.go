// Package report provides sinks for frequent itemsets.
//
// A Reporter receives itemsets one at a time and is closed once to flush or
// finalize its output. Producers only depend on the interface.
package report

import (
	"errors"

	"github.com/eunmann/disteclat/pkg/itemset"
)

// Reporter is a sink for frequent itemsets.
type Reporter interface {
	// Report records one itemset with its support.
	Report(items []itemset.Item, support int64) error
	// Close flushes and finalizes the sink.
	Close() error
}

// ErrClosed is returned when reporting to a closed reporter.
var ErrClosed = errors.New("reporter closed")

type tee []Reporter

// Tee returns a Reporter that forwards every itemset to all given reporters.
// Close closes every reporter and returns the first error.
func Tee(reporters ...Reporter) Reporter {
	return tee(reporters)
}

func (t tee) Report(items []itemset.Item, support int64) error {
	for _, r := range t {
		if err := r.Report(items, support); err != nil {
			return err
		}
	}
	return nil
}

func (t tee) Close() error {
	var firstErr error
	for _, r := range t {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
