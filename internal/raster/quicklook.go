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

package raster

import (
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"sync"

	"github.com/lucasb-eyer/go-colorful"
)

// Colour stops of the false-colour ramp, from dark to bright
var rampStops = []string{"#000004", "#3b0f70", "#8c2981", "#de4968", "#fe9f6d", "#fcfdbf"}

var (
	rampOnce sync.Once
	ramp     [256]color.RGBA
)

// Builds a 256 entry lookup table by blending the ramp stops in HCL space
func buildRamp() {
	stops := make([]colorful.Color, len(rampStops))
	for i, s := range rampStops {
		c, err := colorful.Hex(s)
		if err != nil {
			panic(err)
		}
		stops[i] = c
	}
	segments := float64(len(stops) - 1)
	for i := range ramp {
		t := float64(i) / 255 * segments
		seg := int(t)
		if seg >= len(stops)-1 {
			seg = len(stops) - 2
		}
		c := stops[seg].BlendHcl(stops[seg+1], t-float64(seg)).Clamped()
		r, g, b := c.RGB255()
		ramp[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
}

// Colour of a normalized value in [0,1] on the false-colour ramp
func RampColor(v float32) color.RGBA {
	rampOnce.Do(buildRamp)
	if v != v || v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return ramp[int(v*255+0.5)]
}

// Writes one band as a false-colour JPEG, stretched linearly from min to max.
// Missing samples are written as black.
func (b *Band) WriteQuicklookJPG(writer io.Writer, min, max float32, quality int) error {
	img := image.NewRGBA(image.Rect(0, 0, b.Width, b.Height))
	scale := float32(1)
	if max > min {
		scale = 1 / (max - min)
	}
	black := color.RGBA{A: 255}
	for y := 0; y < b.Height; y++ {
		yoffset := y * b.Width
		for x := 0; x < b.Width; x++ {
			v := b.Data[yoffset+x]
			if b.IsMissing(v) {
				img.SetRGBA(x, y, black)
				continue
			}
			img.SetRGBA(x, y, RampColor((v-min)*scale))
		}
	}
	return jpeg.Encode(writer, img, &jpeg.Options{Quality: quality})
}
