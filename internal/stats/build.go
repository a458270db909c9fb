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

package stats

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/mlnoga/darkobject/internal/parallel"
)

// Returned when a selection contains no valid samples
var ErrNoSamples = errors.New("no valid samples in selection")

// Row-major float32 samples of a raster, with a test for missing values.
// NaN and infinite values are always treated as missing.
type Samples struct {
	Data    []float32
	Width   int
	Height  int
	Missing func(v float32) bool
}

// True for NaN, infinite values and values matching the Missing test
func (s Samples) IsMissing(v float32) bool {
	if v != v || math.IsInf(float64(v), 0) {
		return true
	}
	return s.Missing != nil && s.Missing(v)
}

// Selects which pixels contribute to a histogram. Extent bounds all pixels
// for which Includes may return true.
type Selector interface {
	Includes(x, y int) bool
	Extent() image.Rectangle
}

// Builds a histogram of all valid samples selected by sel, with numBins bins spanning the exact
// min and max of those samples. Runs two passes over row chunks in parallel: first the range,
// then the bin counts. Partial results are merged per chunk, so the result does not depend on
// the number of threads. Returns ErrNoSamples if no valid sample is selected, or the context
// error on cancellation.
func Build(ctx context.Context, s Samples, sel Selector, numBins, threads int) (*Histogram, error) {
	if numBins < 1 {
		return nil, fmt.Errorf("invalid number of histogram bins %d", numBins)
	}
	if len(s.Data) < s.Width*s.Height {
		return nil, fmt.Errorf("raster has %d samples, want %dx%d", len(s.Data), s.Width, s.Height)
	}
	ext := sel.Extent().Intersect(image.Rect(0, 0, s.Width, s.Height))
	if ext.Empty() {
		return nil, ErrNoSamples
	}
	plan := parallel.NewPlan(ext.Min.Y, ext.Max.Y, ext.Dx(), threads)

	// first pass: exact range of the selected valid samples
	ranges := make([]Range, plan.NumChunks())
	err := plan.Run(ctx, threads, func(chunk, y0, y1 int) error {
		r := EmptyRange()
		for y := y0; y < y1; y++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			row := s.Data[y*s.Width : (y+1)*s.Width]
			for x := ext.Min.X; x < ext.Max.X; x++ {
				v := row[x]
				if s.IsMissing(v) || !sel.Includes(x, y) {
					continue
				}
				r.Add(float64(v))
			}
		}
		ranges[chunk] = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	total := EmptyRange()
	for _, r := range ranges {
		total = MergeRange(total, r)
	}
	if total.Count == 0 {
		return nil, ErrNoSamples
	}

	// second pass: bin counts
	partials := make([]*Histogram, plan.NumChunks())
	err = plan.Run(ctx, threads, func(chunk, y0, y1 int) error {
		h := NewHistogram(numBins, total.Low, total.High)
		for y := y0; y < y1; y++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			row := s.Data[y*s.Width : (y+1)*s.Width]
			for x := ext.Min.X; x < ext.Max.X; x++ {
				v := row[x]
				if s.IsMissing(v) || !sel.Includes(x, y) {
					continue
				}
				h.Add(float64(v))
			}
		}
		partials[chunk] = h
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := NewHistogram(numBins, total.Low, total.High)
	for _, p := range partials {
		if err := result.Merge(p); err != nil {
			return nil, err
		}
	}
	return result, nil
}
