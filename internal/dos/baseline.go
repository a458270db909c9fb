// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package dos

import (
	"context"
	"errors"
	"fmt"

	"github.com/mlnoga/darkobject/internal/raster"
	"github.com/mlnoga/darkobject/internal/stats"
)

// The dark object value of a band. Computed once in the first phase, read-only afterwards
type Baseline struct {
	Band       string           `json:"band"`
	Value      float64          `json:"value"`
	Percentile float64          `json:"percentile"`
	Degenerate bool             `json:"degenerate"` // percentile walk fell through, Value is the fallback 0
	Samples    int64            `json:"samples"`
	Low        float64          `json:"low"`
	High       float64          `json:"high"`
	Histogram  *stats.Histogram `json:"-"`
}

func (b Baseline) String() string {
	s := fmt.Sprintf("baseline %.6g at percentile %g of %d samples in [%.6g,%.6g]", b.Value, b.Percentile, b.Samples, b.Low, b.High)
	if b.Degenerate {
		s += " (degenerate)"
	}
	return s
}

// Checks that a percentile lies in [0,100]
func validatePercentile(p float64) error {
	if !(p >= 0 && p <= 100) {
		return configError("percentile %g outside [0,100]", p)
	}
	return nil
}

// Estimates the baseline of a band from the histogram of its valid samples inside the selection.
// Returns a BandError wrapping ErrEmptySelection if no valid sample is selected, or ErrCancelled.
// A degenerate percentile walk is not an error: the baseline falls back to 0 and is flagged.
func EstimateBaseline(ctx context.Context, b *raster.Band, sel stats.Selector, percentile float64, bins, threads int) (Baseline, error) {
	if err := validatePercentile(percentile); err != nil {
		return Baseline{}, err
	}
	h, err := stats.Build(ctx, b.Samples(), sel, bins, threads)
	if errors.Is(err, stats.ErrNoSamples) {
		return Baseline{}, &BandError{Band: b.Name, Err: fmt.Errorf("%w: no valid samples in %v", ErrEmptySelection, sel.Extent())}
	}
	if err != nil {
		return Baseline{}, cancelled(err)
	}
	value, ok := h.Percentile(percentile)
	return Baseline{
		Band:       b.Name,
		Value:      value,
		Percentile: percentile,
		Degenerate: !ok,
		Samples:    h.Total,
		Low:        h.Low,
		High:       h.High,
		Histogram:  h,
	}, nil
}
