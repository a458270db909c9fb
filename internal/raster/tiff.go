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
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"path/filepath"
	"strings"

	"golang.org/x/image/tiff"
)

// Reads a product from a TIFF stream. Grayscale images yield one band named gray,
// colour images three bands named red, green and blue. Samples are 16-bit intensities.
// TIFF carries no spectral metadata, so bands are not spectral unless a sidecar says so.
func ReadTIFF(r io.Reader, id int, fileName string) (*Product, error) {
	t, err := tiff.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%d: %w", id, err)
	}

	// determine width, height and number of color channels
	bounds := t.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	channels := colorModelToChannels(t.ColorModel())

	p := NewProduct(strings.TrimSuffix(filepath.Base(fileName), filepath.Ext(fileName)), "", width, height)
	p.ID, p.FileName = id, fileName

	if channels == 1 {
		gray := NewBand("gray", width, height)
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				c := color.Gray16Model.Convert(t.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray16)
				gray.Set(x, y, float32(c.Y))
			}
		}
		return p, p.AddBand(gray)
	}

	red, green, blue := NewBand("red", width, height), NewBand("green", width, height), NewBand("blue", width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := t.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			red.Set(x, y, float32(r))
			green.Set(x, y, float32(g))
			blue.Set(x, y, float32(b))
		}
	}
	for _, b := range []*Band{red, green, blue} {
		if err := p.AddBand(b); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func colorModelToChannels(m color.Model) int {
	switch m {
	case color.AlphaModel, color.Alpha16Model, color.GrayModel, color.Gray16Model:
		return 1
	default:
		return 3
	}
}

// Writes one band as a 16-bit grayscale TIFF, linearly stretched from min to max.
// Missing samples and values below min are written as black.
func (b *Band) WriteMonoTIFF16(writer io.Writer, min, max float32) error {
	img := image.NewGray16(image.Rect(0, 0, b.Width, b.Height))
	scale := float32(1)
	if max > min {
		scale = 1 / (max - min)
	}
	for y := 0; y < b.Height; y++ {
		yoffset := y * b.Width
		for x := 0; x < b.Width; x++ {
			v := b.Data[yoffset+x]
			if b.IsMissing(v) {
				img.SetGray16(x, y, color.Gray16{})
				continue
			}
			gray := (v - min) * scale
			if gray < 0 {
				gray = 0
			}
			if gray > 1 {
				gray = 1
			}
			img.SetGray16(x, y, color.Gray16{Y: uint16(gray * 65535)})
		}
	}

	return tiff.Encode(writer, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
}

// Returns the exact range of the valid samples of the band, or 0,0 if there are none
func (b *Band) ValidRange() (min, max float32) {
	min, max = float32(math.Inf(1)), float32(math.Inf(-1))
	for _, v := range b.Data {
		if b.IsMissing(v) || math.IsInf(float64(v), 0) {
			continue
		}
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	if min > max {
		return 0, 0
	}
	return min, max
}
