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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

// Suffix appended to a raster file name to locate its band metadata sidecar
const SidecarSuffix = ".bands.json"

// Maximum accepted sidecar size
const maxSidecarBytes = 1 << 20

// Band metadata overrides from a sidecar file. Nil fields keep the value read from the raster.
type BandOverride struct {
	Index         int      `json:"index"` // one-based band index in the raster file
	Name          *string  `json:"name,omitempty"`
	Description   *string  `json:"description,omitempty"`
	Unit          *string  `json:"unit,omitempty"`
	SpectralIndex *int     `json:"spectralIndex,omitempty"`
	Wavelength    *float32 `json:"wavelength,omitempty"`
	Bandwidth     *float32 `json:"bandwidth,omitempty"`
	NoData        *float32 `json:"noData,omitempty"`
	ScalingFactor *float64 `json:"scalingFactor,omitempty"`
	ScalingOffset *float64 `json:"scalingOffset,omitempty"`
}

// Contents of a band metadata sidecar file
type Sidecar struct {
	ProductName *string        `json:"productName,omitempty"`
	ProductType *string        `json:"productType,omitempty"`
	Bands       []BandOverride `json:"bands"`
}

// Decodes a sidecar, rejecting unknown fields
func ReadSidecar(r io.Reader) (*Sidecar, error) {
	dec := json.NewDecoder(io.LimitReader(r, maxSidecarBytes))
	dec.DisallowUnknownFields()
	var s Sidecar
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("decoding band sidecar: %w", err)
	}
	return &s, nil
}

// Loads the sidecar for the given raster file name, if present. Returns nil without error if there is none
func LoadSidecar(rasterFileName string) (*Sidecar, error) {
	f, err := os.Open(rasterFileName + SidecarSuffix)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadSidecar(f)
}

// Applies the overrides to the product's bands
func (s *Sidecar) Apply(p *Product) error {
	if s.ProductName != nil {
		p.Name = *s.ProductName
	}
	if s.ProductType != nil {
		p.Type = *s.ProductType
	}
	for _, o := range s.Bands {
		if o.Index < 1 || o.Index > len(p.Bands) {
			return fmt.Errorf("%d: sidecar band index %d out of range 1..%d", p.ID, o.Index, len(p.Bands))
		}
		b := p.Bands[o.Index-1]
		if o.Name != nil {
			if other := p.Band(*o.Name); other != nil && other != b {
				return fmt.Errorf("%d: sidecar renames band %d to existing name %s", p.ID, o.Index, *o.Name)
			}
			b.Name = *o.Name
		}
		if o.Description != nil {
			b.Description = *o.Description
		}
		if o.Unit != nil {
			b.Unit = *o.Unit
		}
		if o.SpectralIndex != nil {
			b.SpectralIndex = *o.SpectralIndex
		}
		if o.Wavelength != nil {
			b.Wavelength = *o.Wavelength
		}
		if o.Bandwidth != nil {
			b.Bandwidth = *o.Bandwidth
		}
		if o.NoData != nil {
			b.HasNoData, b.NoData = true, *o.NoData
		}
		if o.ScalingFactor != nil {
			b.ScalingFactor = *o.ScalingFactor
		}
		if o.ScalingOffset != nil {
			b.ScalingOffset = *o.ScalingOffset
		}
	}
	return nil
}
