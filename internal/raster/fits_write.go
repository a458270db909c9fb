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
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
)

const fitsTimeLayout = "2006-01-02T15:04:05.999"

// Writes a product as FITS with BITPIX=-32. All bands must have the scene size.
// NaN samples are written as NaN, so missing values survive a round trip.
func (p *Product) WriteFITS(w io.Writer) error {
	if len(p.Bands) == 0 {
		return fmt.Errorf("%d: cannot write product without bands", p.ID)
	}
	if p.IsMultiSize() {
		return fmt.Errorf("%d: cannot write multi-size product as FITS", p.ID)
	}

	cards := []string{
		boolCard("SIMPLE", true, "FITS standard 4.0"),
		intCard("BITPIX", -32, "32-bit floating point"),
	}
	if len(p.Bands) == 1 {
		cards = append(cards, intCard("NAXIS", 2, "Number of axes"))
	} else {
		cards = append(cards, intCard("NAXIS", 3, "Number of axes"))
	}
	cards = append(cards,
		intCard("NAXIS1", int64(p.Width), "Scene width"),
		intCard("NAXIS2", int64(p.Height), "Scene height"))
	if len(p.Bands) > 1 {
		cards = append(cards, intCard("NAXIS3", int64(len(p.Bands)), "Number of bands"))
	}

	if p.Name != "" {
		cards = append(cards, stringCard("OBJECT", p.Name, "Product name"))
	}
	if p.Type != "" {
		cards = append(cards, stringCard("PRODTYPE", p.Type, "Product type"))
	}
	if !p.StartTime.IsZero() {
		cards = append(cards, stringCard("DATE-BEG", p.StartTime.UTC().Format(fitsTimeLayout), "Start time"))
	}
	if !p.EndTime.IsZero() {
		cards = append(cards, stringCard("DATE-END", p.EndTime.UTC().Format(fitsTimeLayout), "End time"))
	}

	for i, b := range p.Bands {
		cards = append(cards, bandCards(b, i+1)...)
	}
	for _, k := range sortedKeys(p.GeoCoding.Names) {
		cards = append(cards, stringCard(k, p.GeoCoding.Names[k], ""))
	}
	for _, k := range sortedKeys(p.GeoCoding.Numbers) {
		cards = append(cards, floatCard(k, p.GeoCoding.Numbers[k], ""))
	}
	cards = append(cards, headerCards(&p.Header)...)
	cards = append(cards, "END"+strings.Repeat(" ", HeaderLineSize-3))

	// Write header block(s), padded with spaces
	sb := strings.Builder{}
	for _, c := range cards {
		if c != "" {
			sb.WriteString(c)
		}
	}
	if rest := sb.Len() % fitsBlockSize; rest > 0 {
		sb.WriteString(strings.Repeat(" ", fitsBlockSize-rest))
	}
	if _, err := io.WriteString(w, sb.String()); err != nil {
		return err
	}

	// Write payload data, padded with zeros
	written := 0
	for _, b := range p.Bands {
		if err := writeFloat32Array(w, b.Data); err != nil {
			return err
		}
		written += 4 * len(b.Data)
	}
	if rest := written % fitsBlockSize; rest > 0 {
		if _, err := w.Write(make([]byte, fitsBlockSize-rest)); err != nil {
			return err
		}
	}
	return nil
}

func bandCards(b *Band, n int) []string {
	suffix := strconv.Itoa(n)
	cards := []string{stringCard("BAND"+suffix, b.Name, "Band name")}
	if b.SpectralIndex >= 0 {
		cards = append(cards, intCard("SPECIDX"+suffix, int64(b.SpectralIndex), "Spectral band index"))
	}
	cards = append(cards,
		floatCard("WAVELN"+suffix, float64(b.Wavelength), "Wavelength [nm]"),
		floatCard("BWIDTH"+suffix, float64(b.Bandwidth), "Bandwidth [nm]"))
	if b.Unit != "" {
		cards = append(cards, stringCard("BUNIT"+suffix, b.Unit, "Unit"))
	}
	if b.Description != "" {
		cards = append(cards, stringCard("BDESC"+suffix, b.Description, ""))
	}
	if b.ScalingFactor != 1 {
		cards = append(cards, floatCard("SCALE"+suffix, b.ScalingFactor, "Scaling factor"))
	}
	if b.ScalingOffset != 0 {
		cards = append(cards, floatCard("OFFSET"+suffix, b.ScalingOffset, "Scaling offset"))
	}
	if b.HasNoData {
		cards = append(cards, floatCard("NODATA"+suffix, float64(b.NoData), "No-data value"))
	}
	return cards
}

// Keys describing the data layout, which are always derived from the product when writing
var structuralKeys = map[string]bool{
	"SIMPLE": true, "BITPIX": true, "NAXIS": true, "NAXIS1": true, "NAXIS2": true, "NAXIS3": true,
	"EXTEND": true, "BZERO": true, "BSCALE": true, "BLANK": true, "END": true,
}

func headerCards(h *Header) []string {
	cards := []string{}
	for _, k := range sortedKeys(h.Bools) {
		if !structuralKeys[k] {
			cards = append(cards, boolCard(k, h.Bools[k], ""))
		}
	}
	for _, k := range sortedKeys(h.Ints) {
		if !structuralKeys[k] {
			cards = append(cards, intCard(k, h.Ints[k], ""))
		}
	}
	for _, k := range sortedKeys(h.Floats) {
		if !structuralKeys[k] {
			cards = append(cards, floatCard(k, h.Floats[k], ""))
		}
	}
	for _, k := range sortedKeys(h.Strings) {
		cards = append(cards, stringCard(k, h.Strings[k], ""))
	}
	for _, k := range sortedKeys(h.Dates) {
		cards = append(cards, stringCard(k, h.Dates[k], ""))
	}
	for _, c := range h.Comments {
		line := "COMMENT " + c
		if len(line) > HeaderLineSize {
			line = line[:HeaderLineSize]
		}
		cards = append(cards, line+strings.Repeat(" ", HeaderLineSize-len(line)))
	}
	for _, hist := range h.History {
		cards = append(cards, historyCards(hist)...)
	}
	return cards
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

const bufLen int = 16 * 1024 // output buffer length for writing data

// Writes FITS binary body data in network byte order
func writeFloat32Array(w io.Writer, data []float32) error {
	buf := make([]byte, bufLen)

	for block := 0; block < len(data); block += (bufLen >> 2) {
		size := len(data) - block
		if size > (bufLen >> 2) {
			size = (bufLen >> 2)
		}

		for offset := 0; offset < size; offset++ {
			val := math.Float32bits(data[block+offset])
			buf[(offset<<2)+0] = byte(val >> 24)
			buf[(offset<<2)+1] = byte(val >> 16)
			buf[(offset<<2)+2] = byte(val >> 8)
			buf[(offset<<2)+3] = byte(val)
		}
		if _, err := w.Write(buf[:(size << 2)]); err != nil {
			return err
		}
	}
	return nil
}
