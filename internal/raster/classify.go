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

// Metadata of a band as needed to decide whether it has spectral semantics
type BandDescriptor interface {
	GetName() string
	GetSpectralBandIndex() int
	GetSpectralWavelength() float32
}

// A band is spectral if it has a valid spectral index and a defined wavelength.
// Only spectral bands are corrected, all others are passed through unmodified.
func IsSpectral(d BandDescriptor) bool {
	w := d.GetSpectralWavelength()
	return d.GetSpectralBandIndex() >= 0 && w == w
}
