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

	"github.com/mlnoga/darkobject/internal/parallel"
	"github.com/mlnoga/darkobject/internal/raster"
)

// Subtracts the baseline from every valid sample of the source band under the given policy,
// in parallel over row chunks. Missing and infinite samples are copied unchanged, the same samples
// the histogram leaves out. Returns a new band with the
// source's metadata; the source is never modified. On cancellation the partial output is
// discarded and ErrCancelled returned.
func Subtract(ctx context.Context, src *raster.Band, baseline float64, policy Policy, threads int) (*raster.Band, error) {
	if policy == nil {
		policy = FloorPolicy{}
	}
	if bp, ok := policy.(BandPolicy); ok {
		policy = bp.ForBand(src)
	}
	dst := raster.NewBandLike(src)
	samples := src.Samples()
	plan := parallel.NewPlan(0, src.Height, src.Width, threads)
	err := plan.Run(ctx, threads, func(chunk, y0, y1 int) error {
		for y := y0; y < y1; y++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			row := y * src.Width
			in, out := src.Data[row:row+src.Width], dst.Data[row:row+src.Width]
			for x, s := range in {
				if samples.IsMissing(s) {
					out[x] = s
					continue
				}
				out[x] = float32(policy.Apply(float64(s), baseline))
			}
		}
		return nil
	})
	if err != nil {
		return nil, cancelled(err)
	}
	return dst, nil
}
