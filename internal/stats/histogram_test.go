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
	"image"
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fastrand"
	"gonum.org/v1/gonum/stat"
)

// selects all pixels inside a rectangle
type rectSelector image.Rectangle

func (r rectSelector) Includes(x, y int) bool  { return image.Pt(x, y).In(image.Rectangle(r)) }
func (r rectSelector) Extent() image.Rectangle { return image.Rectangle(r) }

func all(width, height int) rectSelector { return rectSelector(image.Rect(0, 0, width, height)) }

var nan = float32(math.NaN())

// 4x3 band with two missing values
var smallBand = []float32{
	2, 3, nan, 5,
	6, nan, 8, 9,
	10, 11, 12, 13,
}

func TestPercentileZeroIsMinimum(t *testing.T) {
	s := Samples{Data: smallBand, Width: 4, Height: 3}
	h, err := Build(context.Background(), s, all(4, 3), DefaultBins, 2)
	require.NoError(t, err)

	assert.Equal(t, int64(10), h.Total)
	assert.Equal(t, 2.0, h.Low)
	assert.Equal(t, 13.0, h.High)

	v, ok := h.Percentile(0)
	assert.True(t, ok)
	assert.Equal(t, 2.0, v)
}

func TestPercentileHundredIsMaximumBin(t *testing.T) {
	s := Samples{Data: smallBand, Width: 4, Height: 3}
	h, err := Build(context.Background(), s, all(4, 3), DefaultBins, 1)
	require.NoError(t, err)

	v, ok := h.Percentile(100)
	assert.True(t, ok)
	assert.InDelta(t, 13.0, v, 1e-9)
}

func TestBinCountsSumToTotal(t *testing.T) {
	s := Samples{Data: smallBand, Width: 4, Height: 3}
	for _, bins := range []int{1, 2, 3, 16, 512} {
		h, err := Build(context.Background(), s, all(4, 3), bins, 3)
		require.NoError(t, err)
		sum := int64(0)
		for _, c := range h.Bins {
			sum += c
		}
		assert.Equal(t, h.Total, sum, "bins=%d", bins)
		assert.GreaterOrEqual(t, h.Bins[0], int64(1), "bins=%d minimum must land in bin 0", bins)
	}
}

func TestDegenerateHistogramReturnsLow(t *testing.T) {
	h := NewHistogram(512, 4.5, 4.5)
	for i := 0; i < 10; i++ {
		h.Add(4.5)
	}
	assert.Equal(t, int64(10), h.Bins[0])
	for _, p := range []float64{0, 37, 100} {
		v, ok := h.Percentile(p)
		assert.True(t, ok)
		assert.Equal(t, 4.5, v)
	}

	one := NewHistogram(1, 1, 9)
	one.Add(1)
	one.Add(9)
	v, ok := one.Percentile(50)
	assert.True(t, ok)
	assert.Equal(t, 1.0, v)
}

func TestEmptyHistogramIsDegenerate(t *testing.T) {
	h := NewHistogram(16, 0, 1)
	v, ok := h.Percentile(0)
	assert.False(t, ok)
	assert.Equal(t, 0.0, v)
}

func TestPercentileAboveHundredFallsThrough(t *testing.T) {
	h := NewHistogram(4, 0, 3)
	for _, v := range []float64{0, 1, 2, 3} {
		h.Add(v)
	}
	v, ok := h.Percentile(101)
	assert.False(t, ok)
	assert.Equal(t, 0.0, v)
}

func TestBuildMissingMarker(t *testing.T) {
	data := []float32{-999, 4, 5, -999, 7, 8}
	s := Samples{Data: data, Width: 3, Height: 2, Missing: func(v float32) bool { return v == -999 }}
	h, err := Build(context.Background(), s, all(3, 2), 8, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(4), h.Total)
	assert.Equal(t, 4.0, h.Low)
	assert.Equal(t, 8.0, h.High)
}

func TestBuildInfiniteValuesIgnored(t *testing.T) {
	data := []float32{float32(math.Inf(1)), 4, 5, float32(math.Inf(-1))}
	s := Samples{Data: data, Width: 2, Height: 2}
	h, err := Build(context.Background(), s, all(2, 2), 8, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), h.Total)
	assert.Equal(t, 4.0, h.Low)
	assert.Equal(t, 5.0, h.High)
}

func TestBuildEmptySelection(t *testing.T) {
	s := Samples{Data: smallBand, Width: 4, Height: 3}
	_, err := Build(context.Background(), s, rectSelector(image.Rect(10, 10, 20, 20)), DefaultBins, 1)
	assert.ErrorIs(t, err, ErrNoSamples)

	allNaN := []float32{nan, nan, nan, nan}
	_, err = Build(context.Background(), Samples{Data: allNaN, Width: 2, Height: 2}, all(2, 2), DefaultBins, 1)
	assert.ErrorIs(t, err, ErrNoSamples)
}

func TestBuildCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := Samples{Data: smallBand, Width: 4, Height: 3}
	_, err := Build(ctx, s, all(4, 3), DefaultBins, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuildIndependentOfThreads(t *testing.T) {
	rng := fastrand.RNG{}
	width, height := 97, 83
	data := make([]float32, width*height)
	for i := range data {
		if rng.Uint32n(17) == 0 {
			data[i] = nan
		} else {
			data[i] = float32(rng.Uint32n(100000)) / 100
		}
	}
	s := Samples{Data: data, Width: width, Height: height}
	sel := rectSelector(image.Rect(5, 7, 90, 80))

	ref, err := Build(context.Background(), s, sel, DefaultBins, 1)
	require.NoError(t, err)
	for _, threads := range []int{2, 3, 8, 33} {
		h, err := Build(context.Background(), s, sel, DefaultBins, threads)
		require.NoError(t, err)
		assert.Equal(t, ref, h, "threads=%d", threads)
	}
}

func TestMergeMatchesSingleHistogram(t *testing.T) {
	whole := NewHistogram(64, 0, 63)
	a, b := NewHistogram(64, 0, 63), NewHistogram(64, 0, 63)
	for i := 0; i < 200; i++ {
		v := float64(i % 64)
		whole.Add(v)
		if i%3 == 0 {
			a.Add(v)
		} else {
			b.Add(v)
		}
	}
	require.NoError(t, b.Merge(a))
	assert.Equal(t, whole, b)

	assert.Error(t, b.Merge(NewHistogram(32, 0, 63)))
}

func TestPercentileMatchesEmpiricalQuantile(t *testing.T) {
	// a shuffled permutation of 0..999, so the empirical quantile is exact
	rng := fastrand.RNG{}
	n := 1000
	data := make([]float32, n)
	for i := range data {
		data[i] = float32(i)
	}
	for i := range data {
		j := rng.Uint32n(uint32(n))
		data[i], data[j] = data[j], data[i]
	}
	h, err := Build(context.Background(), Samples{Data: data, Width: 40, Height: 25}, all(40, 25), DefaultBins, 4)
	require.NoError(t, err)

	sorted := make([]float64, n)
	for i, d := range data {
		sorted[i] = float64(d)
	}
	sort.Float64s(sorted)
	for _, p := range []float64{1, 5, 37, 50, 90} {
		got, ok := h.Percentile(p)
		require.True(t, ok)
		want := stat.Quantile(p/100, stat.Empirical, sorted, nil)
		assert.InDelta(t, want, got, 2*h.Step(), "p=%f", p)
		assert.LessOrEqual(t, got, want, "p=%f: bin start must not exceed the quantile", p)
	}
}

func TestBucketAndBinValue(t *testing.T) {
	h := NewHistogram(5, 0, 8)
	assert.Equal(t, 2.0, h.Step())
	assert.Equal(t, 4.0, h.BinValue(2))
	b := h.Bucket(2)
	assert.Equal(t, 4.0, b.Min)
	assert.Equal(t, 6.0, b.Max)
	assert.Equal(t, 4, h.Index(8))
	assert.Equal(t, 0, h.Index(-3))
}

func TestMeanStdDev(t *testing.T) {
	h := NewHistogram(3, 0, 2)
	for _, v := range []float64{0, 2, 2, 0} {
		h.Add(v)
	}
	mean, std := h.MeanStdDev()
	assert.InDelta(t, 1.0, mean, 1e-12)
	assert.InDelta(t, math.Sqrt(4.0/3.0), std, 1e-12)

	x, c := h.Peak()
	assert.Equal(t, int64(2), c)
	assert.Equal(t, 0.0, x)
}
