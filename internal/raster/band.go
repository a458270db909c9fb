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
	"math"

	"github.com/mlnoga/darkobject/internal/stats"
)

// A single 2-D raster layer of float32 samples, with spectral and scaling metadata.
// Missing samples are NaN, or equal to NoData if HasNoData is set.
type Band struct {
	Name        string
	Description string
	Unit        string
	Width       int
	Height      int
	Data        []float32 // row-major, Width*Height samples

	HasNoData bool    // true if NoData marks missing samples in addition to NaN
	NoData    float32 // the no-data value

	SpectralIndex int     // zero-based index in the spectrum, -1 if the band is not spectral
	Wavelength    float32 // centre wavelength in nm, NaN if undefined
	Bandwidth     float32 // bandwidth in nm, NaN if undefined

	ScalingFactor float64 // physical value is ScalingOffset + ScalingFactor * sample
	ScalingOffset float64
}

// Creates a band with allocated, zeroed data and no spectral semantics
func NewBand(name string, width, height int) *Band {
	b := newBandMetadata(name, width, height)
	b.Data = make([]float32, width*height)
	return b
}

// Creates a band without data
func newBandMetadata(name string, width, height int) *Band {
	return &Band{
		Name:          name,
		Width:         width,
		Height:        height,
		SpectralIndex: -1,
		Wavelength:    float32(math.NaN()),
		Bandwidth:     float32(math.NaN()),
		ScalingFactor: 1,
	}
}

// Creates a band with the spectral and raster properties of the source band, and newly allocated zeroed data
func NewBandLike(src *Band) *Band {
	b := *src
	b.Data = make([]float32, len(src.Data))
	return &b
}

// Deep copy of a band including its data
func CopyBand(src *Band) *Band {
	b := *src
	b.Data = append([]float32(nil), src.Data...)
	return &b
}

func (b *Band) At(x, y int) float32 { return b.Data[y*b.Width+x] }

func (b *Band) Set(x, y int, v float32) { b.Data[y*b.Width+x] = v }

// True if v marks a missing sample in this band
func (b *Band) IsMissing(v float32) bool {
	return v != v || (b.HasNoData && v == b.NoData)
}

// The missing-value marker written for missing samples
func (b *Band) MissingValue() float32 {
	if b.HasNoData {
		return b.NoData
	}
	return float32(math.NaN())
}

func (b *Band) Shape() (width, height int) { return b.Width, b.Height }

// Returns the band's samples for histogram building
func (b *Band) Samples() stats.Samples {
	s := stats.Samples{Data: b.Data, Width: b.Width, Height: b.Height}
	if b.HasNoData {
		noData := b.NoData
		s.Missing = func(v float32) bool { return v == noData }
	}
	return s
}

func (b *Band) String() string {
	spectral := "not spectral"
	if IsSpectral(b) {
		spectral = fmt.Sprintf("spectral #%d at %gnm", b.SpectralIndex, b.Wavelength)
	}
	return fmt.Sprintf("band %s %dx%d %s", b.Name, b.Width, b.Height, spectral)
}

// Band descriptor accessors
func (b *Band) GetName() string                { return b.Name }
func (b *Band) GetSpectralBandIndex() int      { return b.SpectralIndex }
func (b *Band) GetSpectralWavelength() float32 { return b.Wavelength }
