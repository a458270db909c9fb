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
	"io"
	"runtime"
	"sync"
	"time"

	"github.com/mlnoga/darkobject/internal/raster"
	"github.com/mlnoga/darkobject/internal/region"
	"github.com/mlnoga/darkobject/internal/stats"
)

// Name and type of products created by a run
const (
	TargetProductName = "Dark-Object-Subtraction"
	TargetProductType = "dark-object-subtraction"
)

// Selects all bands of a product when given as the only source band
const AllBands = "*"

// Parameters of a dark object subtraction run
type Params struct {
	SourceBands []string      `json:"sourceBands"`
	Region      region.Region `json:"region"`
	Bounds      region.Bounds `json:"bounds"`     // rectangle bounds, half-open unless legacy inclusive bounds are requested
	Percentile  float64       `json:"percentile"` // in [0,100], 0 is the minimum
	Bins        int           `json:"bins"`
	Policy      string        `json:"policy"`   // floor, clampRescale or direct
	ClampMin    float64       `json:"clampMin"` // lower clamp of the clampRescale policy
}

func DefaultParams() Params {
	return Params{
		Region:     region.NewFull(),
		Bounds:     region.HalfOpen,
		Percentile: 0,
		Bins:       stats.DefaultBins,
		Policy:     PolicyFloor,
	}
}

// A run plan: parameters checked against a product
type plan struct {
	region   *region.Prepared
	policy   Policy
	eligible []*raster.Band // selected spectral bands, in product order
	skipped  []*raster.Band // selected bands without spectral semantics
}

// Checks the parameters against the product. All errors wrap ErrConfiguration
func Validate(p *raster.Product, params Params) error {
	_, err := validate(p, params)
	return err
}

func validate(p *raster.Product, params Params) (*plan, error) {
	if len(params.SourceBands) == 0 {
		return nil, configError("Please select at least one source band")
	}
	if p.IsMultiSize() {
		return nil, configError("%d: cannot handle multi-size products, consider resampling the product first", p.ID)
	}
	if err := validatePercentile(params.Percentile); err != nil {
		return nil, err
	}
	if params.Bins < 1 {
		return nil, configError("invalid number of histogram bins %d", params.Bins)
	}
	policy, err := ParsePolicy(params.Policy, params.ClampMin)
	if err != nil {
		return nil, err
	}

	names := params.SourceBands
	if len(names) == 1 && names[0] == AllBands {
		names = p.BandNames()
	}
	selected := map[string]bool{}
	for _, name := range names {
		if p.Band(name) == nil {
			return nil, configError("%d: product has no band named %s", p.ID, name)
		}
		if selected[name] {
			return nil, configError("band %s selected twice", name)
		}
		selected[name] = true
	}
	pl := &plan{policy: policy}
	for _, b := range p.Bands {
		if !selected[b.Name] {
			continue
		}
		if raster.IsSpectral(b) {
			pl.eligible = append(pl.eligible, b)
		} else {
			pl.skipped = append(pl.skipped, b)
		}
	}

	pl.region, err = region.Prepare(params.Region, params.Bounds, p.BandNames())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return pl, nil
}

// Outcome of a run
type Result struct {
	Product    *raster.Product     // the target product, nil if the run failed
	Baselines  map[string]Baseline // per corrected band, immutable once published
	BandErrors map[string]error    // per band whose baseline could not be computed; copied unmodified
	Anomalies  []error             // soft anomalies such as degenerate histograms
	Skipped    []string            // selected bands without spectral semantics, copied unmodified
	Bands      []string            // selected spectral bands in product order
}

// Estimates the baselines of the selected spectral bands from the histograms of the selected
// region, without subtracting them. Result.Product is nil. Errors as for Run.
func Estimate(ctx context.Context, p *raster.Product, params Params, logWriter io.Writer, threads int) (*Result, error) {
	if threads < 1 {
		threads = runtime.GOMAXPROCS(0)
	}
	pl, err := validate(p, params)
	if err != nil {
		return nil, err
	}
	return estimate(ctx, p, pl, params, logWriter, threads)
}

// Runs dark object subtraction on the selected spectral bands of the product.
//
// Phase 1 estimates one baseline per band from the histogram of the selected region. Phase 2
// starts only after all baselines are published, and subtracts each band's baseline from every
// sample. Bands are processed concurrently within each phase. The target product holds the
// corrected bands and unmodified copies of all other bands.
//
// Configuration errors wrap ErrConfiguration and are returned before any histogram work. A band
// whose selection is empty is isolated in Result.BandErrors; if no band yields a baseline the run
// fails. Cancellation returns ErrCancelled and no product.
func Run(ctx context.Context, p *raster.Product, params Params, logWriter io.Writer, threads int) (*Result, error) {
	if threads < 1 {
		threads = runtime.GOMAXPROCS(0)
	}
	pl, err := validate(p, params)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	res, err := estimate(ctx, p, pl, params, logWriter, threads)
	if err != nil {
		return nil, err
	}

	// phase 2: subtraction
	outs := make([]*raster.Band, len(pl.eligible))
	err = forEachBand(ctx, pl.eligible, threads, func(i int, b *raster.Band, bandThreads int) error {
		bl, ok := res.Baselines[b.Name]
		if !ok {
			return nil
		}
		out, err := Subtract(ctx, b, bl.Value, pl.policy, bandThreads)
		if err != nil {
			return err
		}
		outs[i] = out
		return nil
	})
	if err != nil {
		return nil, cancelled(err)
	}

	// assemble the target product, keeping the source band order
	corrected := map[string]*raster.Band{}
	for _, out := range outs {
		if out != nil {
			corrected[out.Name] = out
		}
	}
	target := raster.NewTargetProduct(p, TargetProductName, TargetProductType)
	for _, b := range p.Bands {
		out, ok := corrected[b.Name]
		if !ok {
			out = raster.CopyBand(b)
		}
		if err := target.AddBand(out); err != nil {
			return nil, err
		}
	}
	for _, b := range pl.eligible {
		if bl, ok := res.Baselines[b.Name]; ok {
			target.AddHistory("DOS %s: subtracted %.6g (p%g, %s)", b.Name, bl.Value, bl.Percentile, describePolicy(pl.policy))
		}
	}
	fmt.Fprintf(logWriter, "%d: Dark object subtraction of %d bands with policy %s done in %v\n",
		p.ID, len(corrected), describePolicy(pl.policy), time.Since(start).Round(time.Millisecond))
	res.Product = target
	return res, nil
}

// Phase 1: selection, histograms and baselines, up to the barrier
func estimate(ctx context.Context, p *raster.Product, pl *plan, params Params, logWriter io.Writer, threads int) (*Result, error) {
	res := &Result{
		Baselines:  map[string]Baseline{},
		BandErrors: map[string]error{},
	}
	for _, b := range pl.skipped {
		fmt.Fprintf(logWriter, "%d: Band %s is not spectral, copying unmodified\n", p.ID, b.Name)
		res.Skipped = append(res.Skipped, b.Name)
	}
	for _, b := range pl.eligible {
		res.Bands = append(res.Bands, b.Name)
	}

	// pixel selection, shared read-only by all bands
	layers := region.Layers{}
	for _, b := range p.Bands {
		layers[b.Name] = b.Samples()
	}
	sel, err := pl.region.Selector(ctx, p.Width, p.Height, layers, threads)
	if err != nil {
		if errors.Is(err, region.ErrInvalidRegion) {
			return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		return nil, cancelled(err)
	}
	fmt.Fprintf(logWriter, "%d: Estimating baselines of %d bands from %v at percentile %g\n",
		p.ID, len(pl.eligible), params.Region, params.Percentile)

	baselines := make([]*Baseline, len(pl.eligible))
	failures := make([]error, len(pl.eligible))
	err = forEachBand(ctx, pl.eligible, threads, func(i int, b *raster.Band, bandThreads int) error {
		bl, err := EstimateBaseline(ctx, b, sel, params.Percentile, params.Bins, bandThreads)
		var bandErr *BandError
		if errors.As(err, &bandErr) {
			fmt.Fprintf(logWriter, "%d: Warning: %s, copying unmodified\n", p.ID, bandErr.Error())
			failures[i] = bandErr
			return nil
		}
		if err != nil {
			return err
		}
		baselines[i] = &bl
		return nil
	})
	if err != nil {
		return nil, cancelled(err)
	}

	// barrier: publish all baselines before any subtraction starts
	bandErrs := []error{}
	for i, b := range pl.eligible {
		bl := baselines[i]
		if bl == nil {
			e := failures[i]
			if e == nil {
				e = &BandError{Band: b.Name, Err: ErrEmptySelection}
			}
			res.BandErrors[b.Name] = e
			bandErrs = append(bandErrs, e)
			continue
		}
		if bl.Degenerate {
			res.Anomalies = append(res.Anomalies, &BandError{Band: b.Name, Err: ErrDegenerateHistogram})
			fmt.Fprintf(logWriter, "%d: Warning: band %s: percentile walk fell through, using fallback baseline 0\n", p.ID, b.Name)
		}
		mean, stdDev := bl.Histogram.MeanStdDev()
		fmt.Fprintf(logWriter, "%d: Band %s %v, mean %.6g stddev %.6g\n", p.ID, b.Name, bl, mean, stdDev)
		res.Baselines[b.Name] = *bl
	}
	if len(pl.eligible) > 0 && len(res.Baselines) == 0 {
		return nil, errors.Join(bandErrs...)
	}
	return res, nil
}

// Applies fn to all bands concurrently, with at most threads bands in flight. Splits the
// thread budget evenly among the bands in flight. Stops handing out bands after the first
// error or cancellation, and returns the first error.
func forEachBand(ctx context.Context, bands []*raster.Band, threads int, fn func(i int, b *raster.Band, bandThreads int) error) error {
	if len(bands) == 0 {
		return ctx.Err()
	}
	inFlight := threads
	if inFlight > len(bands) {
		inFlight = len(bands)
	}
	bandThreads := threads / inFlight
	if bandThreads < 1 {
		bandThreads = 1
	}

	var (
		mutex    sync.Mutex
		firstErr error
		wg       sync.WaitGroup
	)
	limiter := make(chan bool, inFlight)
	for i, b := range bands {
		mutex.Lock()
		stop := firstErr != nil
		mutex.Unlock()
		if stop || ctx.Err() != nil {
			break
		}
		limiter <- true
		wg.Add(1)
		go func(i int, b *raster.Band) {
			defer func() { <-limiter; wg.Done() }()
			if err := fn(i, b, bandThreads); err != nil {
				mutex.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mutex.Unlock()
			}
		}(i, b)
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}
	return firstErr
}
