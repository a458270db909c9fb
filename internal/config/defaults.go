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

package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mlnoga/darkobject/internal/dos"
	"github.com/mlnoga/darkobject/internal/region"
)

// Maximum size of a defaults file
const maxFileSize = 1 * 1024 * 1024

// Run defaults loaded from a JSON file. Fields omitted from the file keep the built-in
// defaults, so partial files are safe. Command line flags override both.
type Defaults struct {
	Bands      []string `json:"bands,omitempty"`
	Region     *string  `json:"region,omitempty"` // "x,y,width,height", empty for the full raster
	Mask       *string  `json:"mask,omitempty"`   // mask expression, overrides region
	Inclusive  *bool    `json:"inclusive,omitempty"`
	Percentile *float64 `json:"percentile,omitempty"`
	Bins       *int     `json:"bins,omitempty"`
	Policy     *string  `json:"policy,omitempty"`
	ClampMin   *float64 `json:"clamp_min,omitempty"`
	Threads    *int     `json:"threads,omitempty"`
	LogFile    *string  `json:"log_file,omitempty"`
}

// Loads run defaults from a JSON file. The file must have a .json extension and be at most 1MiB
func LoadDefaults(path string) (*Defaults, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	d := &Defaults{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(d); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return d, nil
}

// Checks the values which are set
func (d *Defaults) Validate() error {
	if d.Region != nil {
		if _, err := region.ParseRectangle(*d.Region); err != nil {
			return err
		}
	}
	if d.Percentile != nil && !(*d.Percentile >= 0 && *d.Percentile <= 100) {
		return fmt.Errorf("percentile must be between 0 and 100, got %g", *d.Percentile)
	}
	if d.Bins != nil && *d.Bins < 1 {
		return fmt.Errorf("bins must be positive, got %d", *d.Bins)
	}
	if d.Policy != nil {
		if _, err := dos.ParsePolicy(*d.Policy, 0); err != nil {
			return err
		}
	}
	if d.Threads != nil && *d.Threads < 0 {
		return fmt.Errorf("threads must be non-negative, got %d", *d.Threads)
	}
	return nil
}

// Returns run parameters with all set values applied on top of dos.DefaultParams()
func (d *Defaults) Params() (dos.Params, error) {
	p := dos.DefaultParams()
	if len(d.Bands) > 0 {
		p.SourceBands = append([]string(nil), d.Bands...)
	}
	if d.Region != nil {
		r, err := region.ParseRectangle(*d.Region)
		if err != nil {
			return p, err
		}
		p.Region = r
	}
	if d.Mask != nil && *d.Mask != "" {
		p.Region = region.NewMask(*d.Mask)
	}
	if d.GetInclusive() {
		p.Bounds = region.Inclusive
	}
	if d.Percentile != nil {
		p.Percentile = *d.Percentile
	}
	if d.Bins != nil {
		p.Bins = *d.Bins
	}
	if d.Policy != nil {
		p.Policy = *d.Policy
	}
	if d.ClampMin != nil {
		p.ClampMin = *d.ClampMin
	}
	return p, nil
}

func (d *Defaults) GetInclusive() bool {
	return d.Inclusive != nil && *d.Inclusive
}

// Returns the number of threads, or 0 to use all processors
func (d *Defaults) GetThreads() int {
	if d.Threads == nil {
		return 0
	}
	return *d.Threads
}

func (d *Defaults) GetLogFile() string {
	if d.LogFile == nil {
		return ""
	}
	return *d.LogFile
}
