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
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strings"
)

// File formats recognized by suffix
type Format int

const (
	FormatUnknown Format = iota
	FormatFITS
	FormatFITSGzip
	FormatTIFF
	FormatJPEG
)

// Determines the file format from the file name suffix, ignoring case
func FormatOf(fileName string) Format {
	fnLower := strings.ToLower(fileName)
	for _, ext := range []string{".fits", ".fit", ".fts"} {
		if strings.HasSuffix(fnLower, ext) {
			return FormatFITS
		}
		if strings.HasSuffix(fnLower, ext+".gz") || strings.HasSuffix(fnLower, ext+".gzip") {
			return FormatFITSGzip
		}
	}
	switch {
	case strings.HasSuffix(fnLower, ".tif") || strings.HasSuffix(fnLower, ".tiff"):
		return FormatTIFF
	case strings.HasSuffix(fnLower, ".jpg") || strings.HasSuffix(fnLower, ".jpeg"):
		return FormatJPEG
	}
	return FormatUnknown
}

// Loads a product from a FITS or TIFF file, decompressing gzip by suffix.
// Applies the band metadata sidecar if one exists next to the file.
func Load(fileName string, id int, logWriter io.Writer) (*Product, error) {
	f, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var r io.Reader = bufio.NewReader(f)

	var p *Product
	switch FormatOf(fileName) {
	case FormatFITS:
		p, err = ReadFITS(r, id, fileName, logWriter)
	case FormatFITSGzip:
		gz, gzErr := gzip.NewReader(r)
		if gzErr != nil {
			return nil, fmt.Errorf("%d: %w", id, gzErr)
		}
		defer gz.Close()
		p, err = ReadFITS(gz, id, fileName, logWriter)
	case FormatTIFF:
		p, err = ReadTIFF(r, id, fileName)
	default:
		return nil, fmt.Errorf("%d: unknown file format for %s", id, fileName)
	}
	if err != nil {
		return nil, err
	}

	sidecar, err := LoadSidecar(fileName)
	if err != nil {
		return nil, fmt.Errorf("%d: %w", id, err)
	}
	if sidecar != nil {
		if err := sidecar.Apply(p); err != nil {
			return nil, err
		}
		fmt.Fprintf(logWriter, "%d: Applied band metadata from %s%s\n", id, fileName, SidecarSuffix)
	}
	return p, nil
}

// Saves a product by file suffix: all bands as FITS, or the named band (first band if empty)
// as 16-bit TIFF or false-colour JPEG quicklook. Creates or truncates the file.
func Save(p *Product, fileName, bandName string) (err error) {
	format := FormatOf(fileName)
	if format == FormatUnknown {
		return fmt.Errorf("%d: unknown file format for %s", p.ID, fileName)
	}
	var band *Band
	if format == FormatTIFF || format == FormatJPEG {
		if band, err = p.pickBand(bandName); err != nil {
			return err
		}
	}

	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := file.Close(); err == nil {
			err = cerr
		}
	}()
	writer := bufio.NewWriter(file)

	switch format {
	case FormatFITS:
		err = p.WriteFITS(writer)
	case FormatFITSGzip:
		gz := gzip.NewWriter(writer)
		if err = p.WriteFITS(gz); err == nil {
			err = gz.Close()
		}
	case FormatTIFF:
		min, max := band.ValidRange()
		err = band.WriteMonoTIFF16(writer, min, max)
	case FormatJPEG:
		min, max := band.ValidRange()
		err = band.WriteQuicklookJPG(writer, min, max, 95)
	}
	if err != nil {
		return err
	}
	return writer.Flush()
}

func (p *Product) pickBand(name string) (*Band, error) {
	if name == "" {
		if len(p.Bands) == 0 {
			return nil, fmt.Errorf("%d: product has no bands", p.ID)
		}
		return p.Bands[0], nil
	}
	b := p.Band(name)
	if b == nil {
		return nil, fmt.Errorf("%d: product has no band named %s", p.ID, name)
	}
	return b, nil
}
