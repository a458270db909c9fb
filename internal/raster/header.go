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
	"regexp"
	"strconv"
	"strings"
)

const fitsBlockSize int = 2880 // Block size of FITS header and data units
const HeaderLineSize int = 80  // Line size of a FITS header

var reParser *regexp.Regexp = compileRE() // Regexp parser for FITS header lines

func (h *Header) read(r io.Reader, id int, logWriter io.Writer) error {
	buf := make([]byte, fitsBlockSize)

	for h.Length = 0; !h.End; {
		// read next header unit
		bytesRead, err := io.ReadFull(r, buf)
		if err != nil {
			return fmt.Errorf("%d: reading FITS header: %w", id, err)
		}
		h.Length += int32(bytesRead)

		// parse all lines in this header unit
		for lineNo := 0; lineNo < fitsBlockSize/HeaderLineSize && !h.End; lineNo++ {
			line := buf[lineNo*HeaderLineSize : (lineNo+1)*HeaderLineSize]
			subValues := reParser.FindSubmatch(line)
			if subValues == nil {
				fmt.Fprintf(logWriter, "%d: Warning: Cannot parse '%s', ignoring\n", id, string(line))
			} else {
				h.readLine(reParser.SubexpNames(), subValues, id, lineNo, logWriter)
			}
		}
	}
	return nil
}

func (h *Header) readLine(subNames []string, subValues [][]byte, id, lineNo int, logWriter io.Writer) {
	key := ""
	// ignore index 0 which is the whole line
	for i := 1; i < len(subNames); i++ {
		if subValues[i] == nil || len(subNames[i]) != 1 {
			continue
		}
		switch c := subNames[i][0]; c {
		case byte('E'): // end line
			h.End = true
		case byte('H'): // history line
			h.History = append(h.History, strings.TrimRight(string(subValues[i]), " "))
		case byte('C'): // comment line
			h.Comments = append(h.Comments, strings.TrimRight(string(subValues[i]), " "))
		case byte('k'): // key
			key = string(subValues[i])
		case byte('b'): // boolean
			if len(subValues[i]) > 0 {
				v := subValues[i][0]
				h.Bools[key] = v == byte('t') || v == byte('T')
			}
		case byte('i'): // int
			if val, err := strconv.ParseInt(string(subValues[i]), 10, 64); err == nil {
				h.Ints[key] = val
			}
		case byte('f'): // float
			s := strings.Replace(string(subValues[i]), "D", "E", 1)
			if val, err := strconv.ParseFloat(s, 64); err == nil {
				h.Floats[key] = val
			}
		case byte('s'): // string
			h.Strings[key] = strings.TrimRight(string(subValues[i]), " ")
		case byte('d'): // date
			h.Dates[key] = string(subValues[i])
		case byte('c'): // comment
			// ignore value comments
		default:
			fmt.Fprintf(logWriter, "%d:%d: Warning: Unknown token '%s'\n", id, lineNo, string(c))
		}
	}
}

// Removes and returns an integer key
func (h *Header) PopInt(key string) (int64, bool) {
	if val, ok := h.Ints[key]; ok {
		delete(h.Ints, key)
		return val, true
	}
	return 0, false
}

// Removes and returns a numeric key, accepting integer or floating point values
func (h *Header) PopFloat(key string) (float64, bool) {
	if val, ok := h.Floats[key]; ok {
		delete(h.Floats, key)
		return val, true
	} else if val, ok := h.Ints[key]; ok {
		delete(h.Ints, key)
		return float64(val), true
	}
	return 0, false
}

// Removes and returns a string key, also accepting unquoted dates
func (h *Header) PopString(key string) (string, bool) {
	if val, ok := h.Strings[key]; ok {
		delete(h.Strings, key)
		return val, true
	} else if val, ok := h.Dates[key]; ok {
		delete(h.Dates, key)
		return val, true
	}
	return "", false
}

// Build regexp parser for FITS header lines
func compileRE() *regexp.Regexp {
	white := "\\s+"
	whiteOpt := "\\s*"
	whiteLine := white

	hist := "HISTORY"
	rest := ".*"
	histLine := hist + "(?:" + white + "(?P<H>" + rest + "))?"

	commKey := "COMMENT"
	commLine := commKey + "(?:" + white + "(?P<C>" + rest + "))?"

	end := "(?P<E>END)"
	endLine := end + whiteOpt

	key := "(?P<k>[A-Z0-9_-]+)"
	equals := "="

	boo := "(?P<b>[TF])"
	inte := "(?P<i>[+-]?[0-9]+)"
	floa := "(?P<f>[+-]?[0-9]*\\.[0-9]*(?:[ED][-+]?[0-9]+)?)"
	stri := "'(?P<s>[^']*)'"
	date := "(?P<d>[0-9]{1,4}-?[012][0-9]-?[0123][0-9]T[012][0-9]:?[0-5][0-9]:?[0-5][0-9].?[0-9]*)"
	val := "(?:" + boo + "|" + inte + "|" + floa + "|" + stri + "|" + date + ")"

	// missing: CONTINUE for strings
	// missing: complex int: (nr, nr)
	// missing: complex float: (nr, nr)

	commOpt := "(?:/(?P<c>.*))?"
	keyLine := key + whiteOpt + equals + whiteOpt + val + whiteOpt + commOpt

	lineRe := "^(?:" + whiteLine + "|" + histLine + "|" + commLine + "|" + keyLine + "|" + endLine + ")$"
	return regexp.MustCompile(lineRe)
}

// Formats a FITS header card of exactly HeaderLineSize characters
func card(key, value, comment string) string {
	if len(key) > 8 {
		key = key[:8]
	}
	line := fmt.Sprintf("%-8s= %20s", key, value)
	if comment != "" {
		line += " / " + comment
	}
	if len(line) > HeaderLineSize {
		line = line[:HeaderLineSize]
	}
	return line + strings.Repeat(" ", HeaderLineSize-len(line))
}

func boolCard(key string, value bool, comment string) string {
	v := "F"
	if value {
		v = "T"
	}
	return card(key, v, comment)
}

func intCard(key string, value int64, comment string) string {
	return card(key, strconv.FormatInt(value, 10), comment)
}

// Formats a float so that it always parses back as a float, never as an integer
func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'E', -1, 64)
	if !strings.Contains(s, ".") {
		s = strings.Replace(s, "E", ".0E", 1)
	}
	return s
}

// Returns a float card, or an empty string for values FITS cannot represent
func floatCard(key string, value float64, comment string) string {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return ""
	}
	return card(key, formatFloat(value), comment)
}

// Maximum length of a string value on a single card, leaving room for key and quotes
const maxStringLen = HeaderLineSize - 10 - 2

func stringCard(key, value, comment string) string {
	value = strings.ReplaceAll(value, "'", "\"")
	if len(value) > maxStringLen {
		value = value[:maxStringLen]
	}
	quoted := fmt.Sprintf("%-20s", "'"+value+"'")
	return card(key, quoted, comment)
}

// Formats a HISTORY entry, wrapped over as many cards as needed
func historyCards(text string) []string {
	const width = HeaderLineSize - 8
	lines := []string{}
	for {
		chunk := text
		if len(chunk) > width {
			chunk = chunk[:width]
		}
		line := "HISTORY " + chunk
		lines = append(lines, line+strings.Repeat(" ", HeaderLineSize-len(line)))
		text = text[len(chunk):]
		if text == "" {
			return lines
		}
	}
}
