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
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Default number of histogram bins for baseline estimation
const DefaultBins = 512

// Observed value range of a set of samples. Merges by min/max, so partial
// ranges from disjoint chunks can be combined in any order.
type Range struct {
	Low   float64
	High  float64
	Count int64
}

// Returns a range containing no samples
func EmptyRange() Range {
	return Range{Low: math.Inf(1), High: math.Inf(-1)}
}

func (r *Range) Add(v float64) {
	if v < r.Low {
		r.Low = v
	}
	if v > r.High {
		r.High = v
	}
	r.Count++
}

// Combines two partial ranges
func MergeRange(a, b Range) Range {
	return Range{
		Low:   math.Min(a.Low, b.Low),
		High:  math.Max(a.High, b.High),
		Count: a.Count + b.Count,
	}
}

// A histogram with a fixed number of bins spanning [Low,High].
// Bin i covers [Low+i*step, Low+(i+1)*step) with step=(High-Low)/(len(Bins)-1),
// so the maximum value falls into the last bin. Sum of Bins equals Total.
type Histogram struct {
	Bins  []int64 `json:"bins"`
	Low   float64 `json:"low"`
	High  float64 `json:"high"`
	Total int64   `json:"total"`
}

// A histogram entry. Spans [Min,Max) and contains Count samples
type Bucket struct {
	Min, Max float64
	Count    int64
}

// Creates an empty histogram with numBins bins over [low,high]
func NewHistogram(numBins int, low, high float64) *Histogram {
	return &Histogram{
		Bins: make([]int64, numBins),
		Low:  low,
		High: high,
	}
}

// Width of a bin. Zero for degenerate histograms with a single bin or an empty value range
func (h *Histogram) Step() float64 {
	if len(h.Bins) <= 1 || !(h.High > h.Low) {
		return 0
	}
	return (h.High - h.Low) / float64(len(h.Bins)-1)
}

// Returns the bin index for value v, clamped to the valid bin range
func (h *Histogram) Index(v float64) int {
	step := h.Step()
	if step == 0 {
		return 0
	}
	i := int(math.Floor((v - h.Low) / step))
	if i < 0 {
		return 0
	}
	if i > len(h.Bins)-1 {
		return len(h.Bins) - 1
	}
	return i
}

func (h *Histogram) Add(v float64) {
	h.Bins[h.Index(v)]++
	h.Total++
}

// Adds the counts of another histogram with identical binning into this one
func (h *Histogram) Merge(o *Histogram) error {
	if len(h.Bins) != len(o.Bins) || h.Low != o.Low || h.High != o.High {
		return fmt.Errorf("cannot merge histogram with %d bins over [%g,%g] into %d bins over [%g,%g]",
			len(o.Bins), o.Low, o.High, len(h.Bins), h.Low, h.High)
	}
	for i, c := range o.Bins {
		h.Bins[i] += c
	}
	h.Total += o.Total
	return nil
}

// Sample point of bin i, as used by the percentile walk. This is the start of the bin, not its midpoint
func (h *Histogram) BinValue(i int) float64 {
	return h.Low + float64(i)*h.Step()
}

// Returns the i'th bucket. i must be between 0 and len(Bins)-1
func (h *Histogram) Bucket(i int) Bucket {
	step := h.Step()
	return Bucket{
		Min:   h.Low + step*float64(i),
		Max:   h.Low + step*float64(i+1),
		Count: h.Bins[i],
	}
}

// Returns the value at which the cumulative bin count first reaches p percent of the total.
// Percentile 0 returns the minimum. Degenerate histograms with one bin or Low==High return Low.
// If no bin satisfies the threshold, returns 0 and ok=false.
func (h *Histogram) Percentile(p float64) (value float64, ok bool) {
	if h.Total <= 0 {
		return 0, false
	}
	if h.Step() == 0 {
		return h.Low, true
	}
	threshold := p * float64(h.Total) / 100
	running := int64(0)
	for i, c := range h.Bins {
		running += c
		if float64(running) >= threshold {
			return h.BinValue(i), true
		}
	}
	return 0, false
}

// Returns the location and the count of the histogram peak
func (h *Histogram) Peak() (x float64, count int64) {
	maxIndex, maxCount := 0, int64(-1)
	for i, c := range h.Bins {
		if c > maxCount {
			maxIndex, maxCount = i, c
		}
	}
	return h.BinValue(maxIndex), maxCount
}

// Mean and standard deviation of the binned samples, weighting each bin value by its count
func (h *Histogram) MeanStdDev() (mean, stdDev float64) {
	if h.Total == 0 {
		return math.NaN(), math.NaN()
	}
	xs := make([]float64, len(h.Bins))
	ws := make([]float64, len(h.Bins))
	for i, c := range h.Bins {
		xs[i], ws[i] = h.BinValue(i), float64(c)
	}
	return stat.MeanStdDev(xs, ws)
}

func (h *Histogram) String() string {
	return fmt.Sprintf("%d samples in %d bins over [%.6g,%.6g]", h.Total, len(h.Bins), h.Low, h.High)
}
