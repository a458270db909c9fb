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

package region

import (
	"context"
	"fmt"

	"github.com/mlnoga/darkobject/internal/stats"
)

// A validated region. For masks, the expression is compiled at preparation time
type Prepared struct {
	Region Region
	Bounds Bounds
	Mask   *CompiledMask // nil unless Region is a mask
}

// Validates the region and compiles its mask expression against the given band names
func Prepare(r Region, bounds Bounds, bandNames []string) (*Prepared, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	p := &Prepared{Region: r, Bounds: bounds}
	if r.Kind == Mask {
		m, err := CompileMask(r.Expression, bandNames)
		if err != nil {
			return nil, err
		}
		p.Mask = m
	}
	return p, nil
}

// Returns the pixel selection on a raster of the given size. The selection is shared
// read-only by all bands of a product.
func (p *Prepared) Selector(ctx context.Context, width, height int, layers Layers, threads int) (stats.Selector, error) {
	if p.Mask == nil {
		if p.Region.Kind == Mask {
			return nil, fmt.Errorf("%w: mask region was not compiled", ErrInvalidRegion)
		}
		return Rect(p.Region.Rect(width, height, p.Bounds)), nil
	}
	return p.Mask.Rasterize(ctx, width, height, layers, threads)
}
