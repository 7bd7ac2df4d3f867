package stage

import (
	"fmt"

	"github.com/eunmann/disteclat/pkg/itemset"
	"github.com/eunmann/disteclat/pkg/report"
)

// shortEmitter forwards already-final short itemsets to a reporter in
// arrival order. It never touches the bucket registry.
type shortEmitter struct {
	r report.Reporter
}

// emit reports every record and returns how many were reported.
func (e *shortEmitter) emit(records []itemset.Matrix) (int, error) {
	for i, rec := range records {
		s, err := itemset.DecodeShort(rec)
		if err != nil {
			return i, fmt.Errorf("short itemset %d: %w", i, err)
		}
		if err := e.r.Report(s.Items, s.Support); err != nil {
			return i, fmt.Errorf("report short itemset: %w", err)
		}
	}
	return len(records), nil
}

func (e *shortEmitter) close() error {
	if err := e.r.Close(); err != nil {
		return fmt.Errorf("close short itemsets: %w", err)
	}
	return nil
}
