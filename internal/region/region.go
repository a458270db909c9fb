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
	"errors"
	"fmt"
	"image"
	"strconv"
	"strings"
)

// Returned for region descriptors which cannot be turned into a pixel selection
var ErrInvalidRegion = errors.New("invalid region")

// The kind of a region
type Kind int

const (
	Full      Kind = iota // all pixels of the raster
	Rectangle             // pixels inside an axis-aligned rectangle
	Mask                  // pixels for which a boolean expression holds
)

var kindNames = []string{"full", "rectangle", "mask"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	for i, n := range kindNames {
		if strings.EqualFold(n, string(b)) {
			*k = Kind(i)
			return nil
		}
	}
	return fmt.Errorf("%w: unknown region kind '%s'", ErrInvalidRegion, string(b))
}

// How the upper bounds of a rectangle are interpreted
type Bounds int

const (
	HalfOpen  Bounds = iota // x0 <= x < x0+w
	Inclusive               // x0 <= x <= x0+w, the legacy behaviour covering w+1 columns
)

func (b Bounds) String() string {
	if b == Inclusive {
		return "inclusive"
	}
	return "halfOpen"
}

func (b Bounds) MarshalText() ([]byte, error) { return []byte(b.String()), nil }

func (b *Bounds) UnmarshalText(t []byte) error {
	switch strings.ToLower(string(t)) {
	case "", "halfopen":
		*b = HalfOpen
	case "inclusive":
		*b = Inclusive
	default:
		return fmt.Errorf("%w: unknown rectangle bounds '%s'", ErrInvalidRegion, string(t))
	}
	return nil
}

// Describes which pixels contribute to a band's statistics
type Region struct {
	Kind       Kind   `json:"kind"`
	X          int    `json:"x,omitempty"`
	Y          int    `json:"y,omitempty"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	Expression string `json:"expression,omitempty"`
}

func NewFull() Region { return Region{Kind: Full} }

func NewRectangle(x, y, width, height int) Region {
	return Region{Kind: Rectangle, X: x, Y: y, Width: width, Height: height}
}

func NewMask(expression string) Region { return Region{Kind: Mask, Expression: expression} }

// Parses a rectangle in the textual format <x>,<y>,<width>,<height>.
// An empty or blank string yields the full region.
func ParseRectangle(s string) (Region, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return NewFull(), nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Region{}, fmt.Errorf("%w: rectangle '%s' must have the format x,y,width,height", ErrInvalidRegion, s)
	}
	var vals [4]int
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return Region{}, fmt.Errorf("%w: rectangle '%s': %s", ErrInvalidRegion, s, err.Error())
		}
		vals[i] = v
	}
	return NewRectangle(vals[0], vals[1], vals[2], vals[3]), nil
}

// True if the region selects the whole raster. A rectangle with non-positive
// width or height falls back to the full region.
func (r Region) IsFull() bool {
	return r.Kind == Full || (r.Kind == Rectangle && (r.Width <= 0 || r.Height <= 0))
}

// Checks that the region descriptor is well-formed. Does not compile mask expressions
func (r Region) Validate() error {
	switch r.Kind {
	case Full, Rectangle:
		return nil
	case Mask:
		if strings.TrimSpace(r.Expression) == "" {
			return fmt.Errorf("%w: empty mask expression", ErrInvalidRegion)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown region kind %d", ErrInvalidRegion, int(r.Kind))
	}
}

// Returns the pixel rectangle selected by a full or rectangular region, before
// clipping to the raster. Must not be called for masks.
func (r Region) Rect(width, height int, bounds Bounds) image.Rectangle {
	if r.IsFull() {
		return image.Rect(0, 0, width, height)
	}
	x1, y1 := r.X+r.Width, r.Y+r.Height
	if bounds == Inclusive {
		x1, y1 = x1+1, y1+1
	}
	return image.Rect(r.X, r.Y, x1, y1)
}

func (r Region) String() string {
	switch {
	case r.IsFull():
		return "full scene"
	case r.Kind == Rectangle:
		return fmt.Sprintf("rectangle %d,%d,%d,%d", r.X, r.Y, r.Width, r.Height)
	default:
		return fmt.Sprintf("mask '%s'", r.Expression)
	}
}

// Selects all pixels inside a rectangle
type Rect image.Rectangle

func (r Rect) Includes(x, y int) bool  { return image.Pt(x, y).In(image.Rectangle(r)) }
func (r Rect) Extent() image.Rectangle { return image.Rectangle(r) }
