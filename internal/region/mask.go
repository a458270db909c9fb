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
	"image"
	"math"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/mlnoga/darkobject/internal/parallel"
	"github.com/mlnoga/darkobject/internal/stats"
)

// Names of the coordinate variables visible to mask expressions.
// X and Y are pixel centres, x and y integer pixel indices.
const (
	VarX      = "X"
	VarY      = "Y"
	VarIndexX = "x"
	VarIndexY = "y"
)

// Band samples visible to a mask expression, keyed by band name. Missing samples
// are seen by the expression as NaN.
type Layers map[string]stats.Samples

// A compiled mask expression. Safe for concurrent use
type CompiledMask struct {
	Expression string
	program    *vm.Program
	bands      []string // band names the expression may reference
}

// Compiles a boolean mask expression once. The expression may use the coordinate variables and
// the given band names; coordinates take precedence if a band shares their name.
func CompileMask(expression string, bandNames []string) (*CompiledMask, error) {
	if strings.TrimSpace(expression) == "" {
		return nil, fmt.Errorf("%w: empty mask expression", ErrInvalidRegion)
	}
	env := map[string]interface{}{}
	referenced := []string{}
	for _, name := range bandNames {
		if isCoordinate(name) {
			continue
		}
		env[name] = 0.0
		if strings.Contains(expression, name) {
			referenced = append(referenced, name)
		}
	}
	env[VarX], env[VarY] = 0.0, 0.0
	env[VarIndexX], env[VarIndexY] = 0, 0

	program, err := expr.Compile(expression, expr.Env(env), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("%w: mask '%s': %s", ErrInvalidRegion, expression, err.Error())
	}
	return &CompiledMask{Expression: expression, program: program, bands: referenced}, nil
}

func isCoordinate(name string) bool {
	return name == VarX || name == VarY || name == VarIndexX || name == VarIndexY
}

// Evaluates the mask at a single pixel, reusing the given environment
func (m *CompiledMask) eval(env map[string]interface{}, layers Layers, width, x, y int) (bool, error) {
	env[VarX], env[VarY] = float64(x)+0.5, float64(y)+0.5
	env[VarIndexX], env[VarIndexY] = x, y
	for _, name := range m.bands {
		v := math.NaN()
		if s, ok := layers[name]; ok {
			if sample := s.Data[y*width+x]; !s.IsMissing(sample) {
				v = float64(sample)
			}
		}
		env[name] = v
	}
	out, err := expr.Run(m.program, env)
	if err != nil {
		return false, err
	}
	b, _ := out.(bool)
	return b, nil
}

// Evaluates the mask on every pixel of a raster with the given size, in parallel over row chunks.
// Returns the resulting bitmap, an evaluation error wrapped as ErrInvalidRegion, or the context
// error on cancellation.
func (m *CompiledMask) Rasterize(ctx context.Context, width, height int, layers Layers, threads int) (*Bitmap, error) {
	for _, name := range m.bands {
		if s, ok := layers[name]; ok && len(s.Data) < width*height {
			return nil, fmt.Errorf("%w: band %s has %d samples, want %dx%d", ErrInvalidRegion, name, len(s.Data), width, height)
		}
	}
	bm := NewBitmap(width, height)
	plan := parallel.NewPlan(0, height, width, threads)
	extents := make([]image.Rectangle, plan.NumChunks())
	err := plan.Run(ctx, threads, func(chunk, y0, y1 int) error {
		env := make(map[string]interface{}, len(m.bands)+4)
		ext := image.Rectangle{}
		for y := y0; y < y1; y++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			for x := 0; x < width; x++ {
				in, err := m.eval(env, layers, width, x, y)
				if err != nil {
					return fmt.Errorf("%w: mask '%s' at pixel %d,%d: %s", ErrInvalidRegion, m.Expression, x, y, err.Error())
				}
				if in {
					bm.bits[y*width+x] = true
					ext = ext.Union(image.Rect(x, y, x+1, y+1))
				}
			}
		}
		extents[chunk] = ext
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, e := range extents {
		bm.extent = bm.extent.Union(e)
	}
	return bm, nil
}

// A per-pixel selection evaluated ahead of time
type Bitmap struct {
	Width, Height int
	bits          []bool
	extent        image.Rectangle // bounding box of all selected pixels
}

func NewBitmap(width, height int) *Bitmap {
	return &Bitmap{Width: width, Height: height, bits: make([]bool, width*height)}
}

func (b *Bitmap) Includes(x, y int) bool {
	if x < 0 || y < 0 || x >= b.Width || y >= b.Height {
		return false
	}
	return b.bits[y*b.Width+x]
}

func (b *Bitmap) Extent() image.Rectangle { return b.extent }

// Number of selected pixels
func (b *Bitmap) Count() int {
	n := 0
	for _, v := range b.bits {
		if v {
			n++
		}
	}
	return n
}
