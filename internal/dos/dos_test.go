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
	"bytes"
	"context"
	"errors"
	"image"
	"io"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fastrand"

	"github.com/mlnoga/darkobject/internal/raster"
	"github.com/mlnoga/darkobject/internal/region"
)

var nan = float32(math.NaN())

// 4x3 band with two missing values
var smallData = []float32{
	2, 3, nan, 5,
	6, nan, 8, 9,
	10, 11, 12, 13,
}

func spectralBand(name string, width, height int, data []float32, wavelength float32) *raster.Band {
	b := raster.NewBand(name, width, height)
	if data != nil {
		copy(b.Data, data)
	}
	b.SpectralIndex = int(wavelength) / 100
	b.Wavelength = wavelength
	return b
}

// 100x100 band where each sample is the sum of its pixel centre coordinates, plus an offset
func gradientBand(name string, offset float32) *raster.Band {
	b := spectralBand(name, 100, 100, nil, 560)
	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			cx, cy := float32(x)+0.5, float32(y)+0.5
			b.Set(x, y, (cx-0.5)+(cy-0.5)+offset)
		}
	}
	return b
}

func pt(x, y int) image.Point { return image.Pt(x, y) }

func productOf(bands ...*raster.Band) *raster.Product {
	p := raster.NewProduct("scene", "L1C", bands[0].Width, bands[0].Height)
	p.ID = 7
	for _, b := range bands {
		if err := p.AddBand(b); err != nil {
			panic(err)
		}
	}
	return p
}

func paramsFor(bands ...string) Params {
	params := DefaultParams()
	params.SourceBands = bands
	return params
}

func TestSubtractFloorKeepsOriginalWhereNotPositive(t *testing.T) {
	src := spectralBand("B1", 4, 3, smallData, 443)
	out, err := Subtract(context.Background(), src, 2, FloorPolicy{}, 3)
	require.NoError(t, err)

	want := []float32{
		2, 1, nan, 3,
		4, nan, 6, 7,
		8, 9, 10, 11,
	}
	if diff := cmp.Diff(want, out.Data, cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("subtraction mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, float32(2), src.Data[0], "source must not be modified")
	assert.Equal(t, src.Name, out.Name)
	assert.Equal(t, src.Wavelength, out.Wavelength)
}

func TestFloorPolicyNeverInvertsSign(t *testing.T) {
	p := FloorPolicy{}
	for i := 0; i < 10000; i++ {
		s := float64(fastrand.Uint32n(2000)) - 1000
		b := float64(fastrand.Uint32n(2000)) - 1000
		got := p.Apply(s, b)
		if s-b <= 0 {
			assert.Equal(t, s, got, "s=%g b=%g", s, b)
		} else {
			assert.Equal(t, s-b, got, "s=%g b=%g", s, b)
			assert.Greater(t, got, 0.0)
		}
	}
}

func TestMissingSamplesPassThrough(t *testing.T) {
	policies := []Policy{FloorPolicy{}, DirectPolicy{}, ClampRescalePolicy{ClampMin: 0}}
	baselines := []float64{-100, 0, 2, 1e6}

	nanBand := spectralBand("B1", 4, 3, smallData, 443)
	noDataBand := spectralBand("B2", 2, 2, []float32{-9999, 5, 7, -9999}, 490)
	noDataBand.HasNoData, noDataBand.NoData = true, -9999

	for _, policy := range policies {
		for _, baseline := range baselines {
			out, err := Subtract(context.Background(), nanBand, baseline, policy, 2)
			require.NoError(t, err)
			for i, s := range nanBand.Data {
				if s != s {
					assert.True(t, math.IsNaN(float64(out.Data[i])), "%s at %d", policy.Name(), i)
				}
			}

			out, err = Subtract(context.Background(), noDataBand, baseline, policy, 2)
			require.NoError(t, err)
			assert.Equal(t, float32(-9999), out.Data[0], policy.Name())
			assert.Equal(t, float32(-9999), out.Data[3], policy.Name())
		}
	}
}

func TestLegacyPolicies(t *testing.T) {
	band := spectralBand("B1", 2, 2, []float32{1, 3, 5, 10}, 443)
	band.ScalingFactor = 2

	out, err := Subtract(context.Background(), band, 3, ClampRescalePolicy{ClampMin: 0.5}, 1)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.25, 0.25, 1, 3.5}, out.Data)

	out, err = Subtract(context.Background(), band, 3, ClampRescalePolicy{ClampMin: 0, ScaleFactor: 4}, 1)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 0.5, 1.75}, out.Data)

	out, err = Subtract(context.Background(), band, 3, DirectPolicy{}, 1)
	require.NoError(t, err)
	assert.Equal(t, []float32{-2, 0, 2, 7}, out.Data)

	out, err = Subtract(context.Background(), band, 3, nil, 1)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 3, 2, 7}, out.Data, "nil selects the floor policy")
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"", PolicyFloor},
		{"floor", PolicyFloor},
		{"FLOOR", PolicyFloor},
		{"clamprescale", PolicyClampRescale},
		{"clampRescale", PolicyClampRescale},
		{"Direct", PolicyDirect},
	}
	for _, tt := range tests {
		p, err := ParsePolicy(tt.name, 0)
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, p.Name(), tt.name)
	}

	_, err := ParsePolicy("ceiling", 0)
	assert.ErrorIs(t, err, ErrConfiguration)

	p, err := ParsePolicy("clampRescale", 0.01)
	require.NoError(t, err)
	assert.Equal(t, ClampRescalePolicy{ClampMin: 0.01}, p)
}

func TestEstimateBaselinePercentileZeroIsMinimum(t *testing.T) {
	band := spectralBand("B1", 4, 3, smallData, 443)
	bl, err := EstimateBaseline(context.Background(), band, region.Rect{Max: pt(4, 3)}, 0, 512, 2)
	require.NoError(t, err)
	assert.Equal(t, 2.0, bl.Value)
	assert.Equal(t, int64(10), bl.Samples)
	assert.False(t, bl.Degenerate)
	assert.Equal(t, "B1", bl.Band)
}

func TestEstimateBaselineRejectsBadPercentile(t *testing.T) {
	band := spectralBand("B1", 4, 3, smallData, 443)
	for _, p := range []float64{-1, 100.5, math.NaN()} {
		_, err := EstimateBaseline(context.Background(), band, region.Rect{Max: pt(4, 3)}, p, 512, 1)
		assert.ErrorIs(t, err, ErrConfiguration, "percentile %g", p)
	}
}

func TestEstimateBaselineAllMissingIsEmptySelection(t *testing.T) {
	band := spectralBand("B1", 2, 2, []float32{nan, nan, nan, nan}, 443)
	_, err := EstimateBaseline(context.Background(), band, region.Rect{Max: pt(2, 2)}, 0, 512, 1)
	assert.ErrorIs(t, err, ErrEmptySelection)

	var bandErr *BandError
	require.True(t, errors.As(err, &bandErr))
	assert.Equal(t, "B1", bandErr.Band)
}

func TestRunRectangleShiftsBaseline(t *testing.T) {
	p := productOf(gradientBand("B3", 1.3))

	res, err := Run(context.Background(), p, paramsFor("B3"), io.Discard, 4)
	require.NoError(t, err)
	assert.InDelta(t, 1.3, res.Baselines["B3"].Value, 1e-5)

	params := paramsFor("B3")
	params.Region = region.NewRectangle(10, 10, 90, 90)
	res, err = Run(context.Background(), p, params, io.Discard, 4)
	require.NoError(t, err)
	assert.InDelta(t, 21.3, res.Baselines["B3"].Value, 1e-5)

	// the baseline comes from the region, subtraction applies to the whole band
	out := res.Product.Band("B3")
	require.NotNil(t, out)
	assert.InDelta(t, 1.3, out.At(0, 0), 1e-5, "floored to original")
	assert.InDelta(t, 198+1.3-21.3, out.At(99, 99), 1e-4)
}

func TestRunLegacyInclusiveBounds(t *testing.T) {
	p := productOf(gradientBand("B3", 0))
	params := paramsFor("B3")
	params.Region = region.NewRectangle(10, 10, 5, 5)

	res, err := Run(context.Background(), p, params, io.Discard, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(25), res.Baselines["B3"].Samples)
	assert.InDelta(t, 28, res.Baselines["B3"].High, 1e-5)

	params.Bounds = region.Inclusive
	res, err = Run(context.Background(), p, params, io.Discard, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(36), res.Baselines["B3"].Samples)
	assert.InDelta(t, 30, res.Baselines["B3"].High, 1e-5)
}

func TestRunMaskRegion(t *testing.T) {
	b3 := gradientBand("B3", 0)
	b4 := gradientBand("B4", 100)
	p := productOf(b3, b4)
	params := paramsFor("B3", "B4")
	params.Region = region.NewMask("X > 50 && Y > 20 && B3 < 120")

	res, err := Run(context.Background(), p, params, io.Discard, 4)
	require.NoError(t, err)
	assert.InDelta(t, 50+20, res.Baselines["B3"].Value, 1e-5)
	assert.InDelta(t, 50+20+100, res.Baselines["B4"].Value, 1e-5)
	assert.Equal(t, res.Baselines["B3"].Samples, res.Baselines["B4"].Samples)
}

func TestMaskIgnoresNoDataOfOtherBands(t *testing.T) {
	b1 := spectralBand("B1", 2, 2, []float32{1, 5, 7, 9}, 443)
	b2 := spectralBand("B2", 2, 2, []float32{-9999, 5, 7, 9}, 490)
	b2.HasNoData, b2.NoData = true, -9999
	params := paramsFor("B1")
	params.Region = region.NewMask("B2 < 0")

	res, err := Estimate(context.Background(), productOf(b1, b2), params, io.Discard, 2)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrEmptySelection)

	params.Region = region.NewMask("B2 != B2")
	res, err = Estimate(context.Background(), productOf(b1, b2), params, io.Discard, 2)
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Baselines["B1"].Value)
	assert.Equal(t, int64(1), res.Baselines["B1"].Samples)
}

func TestInfiniteSamplesExcludedAndPassedThrough(t *testing.T) {
	inf := float32(math.Inf(1))
	data := []float32{-inf, 5, 7, 9, inf, 6}
	for _, name := range []string{PolicyFloor, PolicyClampRescale, PolicyDirect} {
		params := paramsFor("B1")
		params.Policy = name
		res, err := Run(context.Background(), productOf(spectralBand("B1", 3, 2, data, 443)), params, io.Discard, 2)
		require.NoError(t, err, name)
		assert.Equal(t, 5.0, res.Baselines["B1"].Value, name)
		assert.Equal(t, int64(4), res.Baselines["B1"].Samples, name)

		out := res.Product.Band("B1").Data
		assert.Equal(t, -inf, out[0], name)
		assert.Equal(t, inf, out[4], name)
	}
}

func TestRunRectangleOutsideRasterIsEmptySelection(t *testing.T) {
	p := productOf(spectralBand("B1", 4, 3, smallData, 443))
	params := paramsFor("B1")
	params.Region = region.NewRectangle(200, 200, 10, 10)

	res, err := Run(context.Background(), p, params, io.Discard, 2)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrEmptySelection)
	assert.NotErrorIs(t, err, ErrConfiguration)
}

func TestRunIsolatesBandErrors(t *testing.T) {
	good := spectralBand("B1", 4, 3, smallData, 443)
	empty := spectralBand("B2", 4, 3, []float32{nan, nan, nan, nan, nan, nan, nan, nan, nan, nan, nan, nan}, 490)
	p := productOf(good, empty)

	var log bytes.Buffer
	res, err := Run(context.Background(), p, paramsFor("B1", "B2"), &log, 2)
	require.NoError(t, err)

	assert.Contains(t, res.Baselines, "B1")
	assert.NotContains(t, res.Baselines, "B2")
	assert.ErrorIs(t, res.BandErrors["B2"], ErrEmptySelection)
	assert.Contains(t, log.String(), "7: Warning: band B2")

	// the failed band is copied unmodified
	if diff := cmp.Diff(empty.Data, res.Product.Band("B2").Data, cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("band B2 changed (-want +got):\n%s", diff)
	}
}

func TestRunTargetProduct(t *testing.T) {
	b1 := spectralBand("B1", 4, 3, smallData, 443)
	mask := raster.NewBand("cloud_mask", 4, 3)
	mask.Data[5] = 1
	other := spectralBand("B2", 4, 3, smallData, 490)
	p := productOf(b1, mask, other)
	p.Header.Strings["TELESCOP"] = "S2A"
	p.GeoCoding.Names["CTYPE1"] = "RA---TAN"

	res, err := Run(context.Background(), p, paramsFor("B1", "cloud_mask"), io.Discard, 2)
	require.NoError(t, err)
	out := res.Product

	assert.Equal(t, TargetProductName, out.Name)
	assert.Equal(t, TargetProductType, out.Type)
	assert.Equal(t, []string{"B1", "cloud_mask", "B2"}, out.BandNames())
	assert.Equal(t, "S2A", out.Header.Strings["TELESCOP"])
	assert.Equal(t, "RA---TAN", out.GeoCoding.Names["CTYPE1"])
	assert.Equal(t, []string{"cloud_mask"}, res.Skipped)
	require.Len(t, out.Header.History, 1)
	assert.True(t, strings.HasPrefix(out.Header.History[0], "DOS B1: subtracted 2"), out.Header.History[0])

	// corrected band
	assert.Equal(t, float32(1), out.Band("B1").At(1, 0))
	// non-spectral selected band and unselected band are copied
	assert.Equal(t, mask.Data, out.Band("cloud_mask").Data)
	assert.NotSame(t, mask, out.Band("cloud_mask"))
	assert.Equal(t, float32(3), out.Band("B2").At(1, 0))

	// the source product is untouched
	assert.Equal(t, float32(3), b1.At(1, 0))
	out.Header.Strings["TELESCOP"] = "changed"
	assert.Equal(t, "S2A", p.Header.Strings["TELESCOP"])
}

func TestRunDegenerateHistogram(t *testing.T) {
	p := productOf(spectralBand("B1", 2, 2, []float32{4, 4, 4, 4}, 443))
	res, err := Run(context.Background(), p, paramsFor("B1"), io.Discard, 1)
	require.NoError(t, err)

	// a constant band has a zero-width histogram, and its baseline is the constant
	assert.Equal(t, 4.0, res.Baselines["B1"].Value)
	assert.Empty(t, res.Anomalies)
	assert.Equal(t, []float32{4, 4, 4, 4}, res.Product.Band("B1").Data)
}

func TestValidate(t *testing.T) {
	b1 := spectralBand("B1", 4, 3, smallData, 443)
	p := productOf(b1)

	small := raster.NewBand("small", 2, 2)
	multi := productOf(spectralBand("B1", 4, 3, smallData, 443))
	multi.Bands = append(multi.Bands, small)

	tests := []struct {
		name    string
		product *raster.Product
		mutate  func(*Params)
	}{
		{"no bands", p, func(pa *Params) { pa.SourceBands = nil }},
		{"unknown band", p, func(pa *Params) { pa.SourceBands = []string{"B9"} }},
		{"duplicate band", p, func(pa *Params) { pa.SourceBands = []string{"B1", "B1"} }},
		{"multi-size", multi, func(pa *Params) {}},
		{"negative percentile", p, func(pa *Params) { pa.Percentile = -0.1 }},
		{"percentile above 100", p, func(pa *Params) { pa.Percentile = 101 }},
		{"no bins", p, func(pa *Params) { pa.Bins = 0 }},
		{"unknown policy", p, func(pa *Params) { pa.Policy = "ceiling" }},
		{"bad mask", p, func(pa *Params) { pa.Region = region.NewMask("X >") }},
		{"empty mask", p, func(pa *Params) { pa.Region = region.NewMask("") }},
		{"non-boolean mask", p, func(pa *Params) { pa.Region = region.NewMask("X + 1") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := paramsFor("B1")
			tt.mutate(&params)
			err := Validate(tt.product, params)
			assert.ErrorIs(t, err, ErrConfiguration)

			res, err := Run(context.Background(), tt.product, params, io.Discard, 1)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, ErrConfiguration)
		})
	}

	assert.NoError(t, Validate(p, paramsFor("B1")))
}

func TestRunCancelled(t *testing.T) {
	p := productOf(gradientBand("B3", 1.3), gradientBand("B4", 2.6))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := Run(ctx, p, paramsFor("B3", "B4"), io.Discard, 4)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSubtractCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := Subtract(ctx, gradientBand("B3", 0), 1, FloorPolicy{}, 2)
	assert.Nil(t, out)
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestRunDoesNotDependOnThreads(t *testing.T) {
	p := productOf(gradientBand("B3", 1.3), gradientBand("B4", 7), gradientBand("B5", -3))
	params := paramsFor("B3", "B4", "B5")
	params.Percentile = 5

	want, err := Run(context.Background(), p, params, io.Discard, 1)
	require.NoError(t, err)
	for _, threads := range []int{2, 3, 8, 17} {
		got, err := Run(context.Background(), p, params, io.Discard, threads)
		require.NoError(t, err)
		for name, bl := range want.Baselines {
			assert.Equal(t, bl.Value, got.Baselines[name].Value, "%s with %d threads", name, threads)
		}
		for i, b := range want.Product.Bands {
			assert.Equal(t, b.Data, got.Product.Bands[i].Data)
		}
	}
}

func TestForEachBandLimitsConcurrency(t *testing.T) {
	bands := make([]*raster.Band, 10)
	for i := range bands {
		bands[i] = raster.NewBand("b", 1, 1)
	}
	var inFlight, peak int32
	var mutex sync.Mutex
	seen := map[int]int{}
	err := forEachBand(context.Background(), bands, 3, func(i int, b *raster.Band, bandThreads int) error {
		n := atomic.AddInt32(&inFlight, 1)
		defer atomic.AddInt32(&inFlight, -1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		mutex.Lock()
		seen[i]++
		mutex.Unlock()
		assert.Equal(t, 1, bandThreads)
		return nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak, int32(3))
	assert.Len(t, seen, 10)
}

func TestForEachBandReturnsFirstError(t *testing.T) {
	bands := []*raster.Band{raster.NewBand("a", 1, 1), raster.NewBand("b", 1, 1)}
	boom := errors.New("boom")
	err := forEachBand(context.Background(), bands, 1, func(i int, b *raster.Band, bandThreads int) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestEstimateAllBands(t *testing.T) {
	mask := raster.NewBand("cloud_mask", 100, 100)
	p := productOf(gradientBand("B3", 1.3), mask, gradientBand("B4", 5))

	res, err := Estimate(context.Background(), p, paramsFor(AllBands), io.Discard, 2)
	require.NoError(t, err)
	assert.Nil(t, res.Product)
	assert.Equal(t, []string{"B3", "B4"}, res.Bands)
	assert.Equal(t, []string{"cloud_mask"}, res.Skipped)
	assert.InDelta(t, 1.3, res.Baselines["B3"].Value, 1e-5)
	assert.InDelta(t, 5, res.Baselines["B4"].Value, 1e-5)
	require.NotNil(t, res.Baselines["B4"].Histogram)
	assert.Equal(t, int64(10000), res.Baselines["B4"].Histogram.Total)
}
