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
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Reads a product from a FITS stream. NAXIS=2 yields one band, NAXIS=3 one band per plane.
// Integer samples equal to BLANK become NaN. BZERO and BSCALE are applied to all samples.
// Per-band metadata is taken from the BANDn, WAVELNn, BWIDTHn, SPECIDXn, BUNITn,
// SCALEn, OFFSETn and NODATAn keys, with n counting from 1.
func ReadFITS(r io.Reader, id int, fileName string, logWriter io.Writer) (*Product, error) {
	h := NewHeader()
	if err := h.read(r, id, logWriter); err != nil {
		return nil, err
	}

	// check mandatory fields as per standard
	if !h.Bools["SIMPLE"] {
		return nil, fmt.Errorf("%d: Not a valid FITS file; SIMPLE=T missing in header", id)
	}
	delete(h.Bools, "SIMPLE")
	delete(h.Bools, "EXTEND")

	bitpix, ok := h.PopInt("BITPIX")
	if !ok {
		return nil, fmt.Errorf("%d: FITS header does not contain key BITPIX", id)
	}
	naxis, ok := h.PopInt("NAXIS")
	if !ok {
		return nil, fmt.Errorf("%d: FITS header does not contain key NAXIS", id)
	}
	if naxis < 2 || naxis > 3 {
		return nil, fmt.Errorf("%d: cannot read FITS image with NAXIS=%d, want 2 or 3", id, naxis)
	}
	naxisn := make([]int, naxis)
	for i := range naxisn {
		name := "NAXIS" + strconv.Itoa(i+1)
		nai, ok := h.PopInt(name)
		if !ok {
			return nil, fmt.Errorf("%d: FITS header does not contain key %s", id, name)
		}
		if nai <= 0 {
			return nil, fmt.Errorf("%d: invalid FITS axis size %s=%d", id, name, nai)
		}
		naxisn[i] = int(nai)
	}
	width, height, planes := naxisn[0], naxisn[1], 1
	if naxis == 3 {
		planes = naxisn[2]
	}

	bzero, ok := h.PopFloat("BZERO")
	if !ok {
		bzero = 0
	}
	bscale, ok := h.PopFloat("BSCALE")
	if !ok {
		bscale = 1
	}
	blank, hasBlank := h.PopInt("BLANK")

	data, err := readFITSData(r, id, int(bitpix), width*height*planes, bzero, bscale, blank, hasBlank, logWriter)
	if err != nil {
		return nil, err
	}

	p := NewProduct(strings.TrimSuffix(filepath.Base(fileName), filepath.Ext(fileName)), "", width, height)
	p.ID, p.FileName = id, fileName
	if name, ok := h.PopString("OBJECT"); ok && name != "" {
		p.Name = name
	}
	if typ, ok := h.PopString("PRODTYPE"); ok {
		p.Type = typ
	}
	p.StartTime = popTime(&h, "DATE-BEG", id, logWriter)
	p.EndTime = popTime(&h, "DATE-END", id, logWriter)
	p.GeoCoding = popGeoCoding(&h)

	size := width * height
	for i := 0; i < planes; i++ {
		b := popBand(&h, i+1, width, height)
		b.Data = data[i*size : (i+1)*size : (i+1)*size]
		if err := p.AddBand(b); err != nil {
			return nil, err
		}
	}
	p.Header = h
	return p, nil
}

// Reads band metadata for the band with one-based index n, removing the keys from the header
func popBand(h *Header, n, width, height int) *Band {
	suffix := strconv.Itoa(n)
	b := newBandMetadata("band_"+suffix, width, height)
	if name, ok := h.PopString("BAND" + suffix); ok && name != "" {
		b.Name = name
	}
	if v, ok := h.PopFloat("WAVELN" + suffix); ok {
		b.Wavelength = float32(v)
	}
	if v, ok := h.PopFloat("BWIDTH" + suffix); ok {
		b.Bandwidth = float32(v)
	}
	if v, ok := h.PopInt("SPECIDX" + suffix); ok {
		b.SpectralIndex = int(v)
	}
	if v, ok := h.PopString("BUNIT" + suffix); ok {
		b.Unit = v
	}
	if v, ok := h.PopString("BDESC" + suffix); ok {
		b.Description = v
	}
	if v, ok := h.PopFloat("SCALE" + suffix); ok {
		b.ScalingFactor = v
	}
	if v, ok := h.PopFloat("OFFSET" + suffix); ok {
		b.ScalingOffset = v
	}
	if v, ok := h.PopFloat("NODATA" + suffix); ok {
		b.HasNoData, b.NoData = true, float32(v)
	}
	return b
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02T15:04:05", "2006-01-02"}

func popTime(h *Header, key string, id int, logWriter io.Writer) time.Time {
	s, ok := h.PopString(key)
	if !ok {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	fmt.Fprintf(logWriter, "%d: Warning: cannot parse %s='%s', ignoring\n", id, key, s)
	return time.Time{}
}

func popGeoCoding(h *Header) GeoCoding {
	g := NewGeoCoding()
	for k, v := range h.Strings {
		if isGeoCodingKey(k) {
			g.Names[k] = v
			delete(h.Strings, k)
		}
	}
	for k, v := range h.Floats {
		if isGeoCodingKey(k) {
			g.Numbers[k] = v
			delete(h.Floats, k)
		}
	}
	for k, v := range h.Ints {
		if isGeoCodingKey(k) {
			g.Numbers[k] = float64(v)
			delete(h.Ints, k)
		}
	}
	return g
}

// Reads the data unit, converting from network byte order to float32 and applying BZERO and BSCALE
func readFITSData(r io.Reader, id, bitpix, numSamples int, bzero, bscale float64, blank int64, hasBlank bool, logWriter io.Writer) ([]float32, error) {
	bytesPerSample := bitpix / 8
	if bytesPerSample < 0 {
		bytesPerSample = -bytesPerSample
	}
	switch bitpix {
	case 8, 16, -32:
	case 32, 64:
		fmt.Fprintf(logWriter, "%d: Warning: loss of precision converting int%d to float32 values\n", id, bitpix)
	case -64:
		fmt.Fprintf(logWriter, "%d: Warning: loss of precision converting float%d to float32 values\n", id, -bitpix)
	default:
		return nil, fmt.Errorf("%d: Unknown BITPIX value %d", id, bitpix)
	}

	buf := make([]byte, numSamples*bytesPerSample)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("%d: reading FITS data: %w", id, err)
	}

	data := make([]float32, numSamples)
	nan := float32(math.NaN())
	integral := func(i int, raw int64) {
		if hasBlank && raw == blank {
			data[i] = nan
			return
		}
		data[i] = float32(float64(raw)*bscale + bzero)
	}
	for i := range data {
		b := buf[i*bytesPerSample:]
		switch bitpix {
		case 8:
			integral(i, int64(b[0]))
		case 16:
			integral(i, int64(int16(binary.BigEndian.Uint16(b))))
		case 32:
			integral(i, int64(int32(binary.BigEndian.Uint32(b))))
		case 64:
			integral(i, int64(binary.BigEndian.Uint64(b)))
		case -32:
			data[i] = float32(float64(math.Float32frombits(binary.BigEndian.Uint32(b)))*bscale + bzero)
		case -64:
			data[i] = float32(math.Float64frombits(binary.BigEndian.Uint64(b))*bscale + bzero)
		}
	}
	return data, nil
}
