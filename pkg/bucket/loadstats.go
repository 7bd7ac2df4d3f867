package bucket

import (
	"fmt"

	"github.com/DataDog/sketches-go/ddsketch"
)

// LoadStats summarizes the sizes of assigned groups with a relative-error
// quantile sketch.
type LoadStats struct {
	sketch  *ddsketch.DDSketch
	largest int64
}

// NewLoadStats creates an empty summary with 1% relative accuracy.
func NewLoadStats() (*LoadStats, error) {
	sketch, err := ddsketch.NewDefaultDDSketch(0.01)
	if err != nil {
		return nil, fmt.Errorf("create sketch: %w", err)
	}
	return &LoadStats{sketch: sketch}, nil
}

// Observe records one assigned group total.
func (s *LoadStats) Observe(total int64) {
	if total <= 0 {
		return
	}
	// Add only rejects values outside the sketch's indexable range.
	_ = s.sketch.Add(float64(total))
	if total > s.largest {
		s.largest = total
	}
}

// Count returns the number of observed groups.
func (s *LoadStats) Count() int64 {
	return int64(s.sketch.GetCount())
}

// Largest returns the largest observed group total.
func (s *LoadStats) Largest() int64 {
	return s.largest
}

// Quantiles returns approximate group totals at the given quantiles.
// An empty summary yields zeros.
func (s *LoadStats) Quantiles(qs ...float64) []float64 {
	if s.sketch.IsEmpty() {
		return make([]float64, len(qs))
	}
	vals, err := s.sketch.GetValuesAtQuantiles(qs)
	if err != nil {
		return make([]float64, len(qs))
	}
	return vals
}
