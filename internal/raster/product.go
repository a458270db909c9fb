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
	"strings"
	"time"
)

// A raster product: a named set of bands over a common scene, with metadata
type Product struct {
	ID       int    // Sequential ID number, for log output
	FileName string // Original file name, if any, for log output

	Name   string
	Type   string
	Width  int // scene width
	Height int // scene height
	Bands  []*Band

	Header    Header    // Remaining header keys, copied verbatim into derived products
	StartTime time.Time // Zero if unknown
	EndTime   time.Time
	GeoCoding GeoCoding
}

// Creates an empty product with the given scene size
func NewProduct(name, typ string, width, height int) *Product {
	return &Product{
		Name:      name,
		Type:      typ,
		Width:     width,
		Height:    height,
		Header:    NewHeader(),
		GeoCoding: NewGeoCoding(),
	}
}

// Creates an empty product over the scene of src, copying its metadata, times and geo-coding
func NewTargetProduct(src *Product, name, typ string) *Product {
	p := NewProduct(name, typ, src.Width, src.Height)
	p.ID = src.ID
	p.FileName = src.FileName
	p.Header = src.Header.Clone()
	p.StartTime, p.EndTime = src.StartTime, src.EndTime
	p.GeoCoding = src.GeoCoding.Clone()
	return p
}

// Returns the band with the given name, or nil
func (p *Product) Band(name string) *Band {
	for _, b := range p.Bands {
		if b.Name == name {
			return b
		}
	}
	return nil
}

func (p *Product) BandNames() []string {
	names := make([]string, len(p.Bands))
	for i, b := range p.Bands {
		names[i] = b.Name
	}
	return names
}

// Appends a band. Band names must be unique within a product
func (p *Product) AddBand(b *Band) error {
	if p.Band(b.Name) != nil {
		return fmt.Errorf("%d: product already contains a band named %s", p.ID, b.Name)
	}
	p.Bands = append(p.Bands, b)
	return nil
}

// True if any band's shape differs from the scene size
func (p *Product) IsMultiSize() bool {
	for _, b := range p.Bands {
		if b.Width != p.Width || b.Height != p.Height {
			return true
		}
	}
	return false
}

// Appends a processing history entry
func (p *Product) AddHistory(format string, args ...interface{}) {
	p.Header.History = append(p.Header.History, fmt.Sprintf(format, args...))
}

func (p *Product) DimensionsToString() string {
	return fmt.Sprintf("%dx%dx%d", p.Width, p.Height, len(p.Bands))
}

func (p *Product) String() string {
	return fmt.Sprintf("%s (%s) %s bands [%s]", p.Name, p.Type, p.DimensionsToString(), strings.Join(p.BandNames(), ","))
}

// FITS-style header data not otherwise represented in the product
type Header struct {
	Bools    map[string]bool
	Ints     map[string]int64
	Floats   map[string]float64
	Strings  map[string]string
	Dates    map[string]string
	Comments []string
	History  []string
	End      bool
	Length   int32
}

// Creates a header initialized with empty maps and arrays
func NewHeader() Header {
	return Header{
		Bools:    make(map[string]bool),
		Ints:     make(map[string]int64),
		Floats:   make(map[string]float64),
		Strings:  make(map[string]string),
		Dates:    make(map[string]string),
		Comments: make([]string, 0),
		History:  make([]string, 0),
	}
}

// Deep copy of the header
func (h Header) Clone() Header {
	c := NewHeader()
	for k, v := range h.Bools {
		c.Bools[k] = v
	}
	for k, v := range h.Ints {
		c.Ints[k] = v
	}
	for k, v := range h.Floats {
		c.Floats[k] = v
	}
	for k, v := range h.Strings {
		c.Strings[k] = v
	}
	for k, v := range h.Dates {
		c.Dates[k] = v
	}
	c.Comments = append(c.Comments, h.Comments...)
	c.History = append(c.History, h.History...)
	c.End, c.Length = h.End, h.Length
	return c
}

// World coordinate system keys of a product, copied verbatim between products
type GeoCoding struct {
	Names   map[string]string  // CTYPEn, CUNITn, RADESYS
	Numbers map[string]float64 // CRPIXn, CRVALn, CDELTn, CROTAn, CDi_j, PCi_j, EQUINOX
}

func NewGeoCoding() GeoCoding {
	return GeoCoding{Names: map[string]string{}, Numbers: map[string]float64{}}
}

func (g GeoCoding) IsEmpty() bool { return len(g.Names) == 0 && len(g.Numbers) == 0 }

func (g GeoCoding) Clone() GeoCoding {
	c := NewGeoCoding()
	for k, v := range g.Names {
		c.Names[k] = v
	}
	for k, v := range g.Numbers {
		c.Numbers[k] = v
	}
	return c
}

// True if a header key belongs to the geo-coding
func isGeoCodingKey(key string) bool {
	for _, prefix := range []string{"CTYPE", "CUNIT", "CRPIX", "CRVAL", "CDELT", "CROTA", "CD1_", "CD2_", "CD3_", "PC1_", "PC2_", "PC3_"} {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return key == "RADESYS" || key == "EQUINOX"
}
