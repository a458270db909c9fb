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

package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlnoga/darkobject/internal/config"
	"github.com/mlnoga/darkobject/internal/dos"
	"github.com/mlnoga/darkobject/internal/ops"
	"github.com/mlnoga/darkobject/internal/raster"
	"github.com/mlnoga/darkobject/internal/region"
)

func TestAutoName(t *testing.T) {
	assert.Equal(t, "dos.log", autoName("%auto", "dos%d.fits", ".log"))
	assert.Equal(t, "dos%d.jpg", autoName("%auto", "dos%d.fits", ".jpg"))
	assert.Equal(t, "", autoName("%auto", "", ".jpg"))
	assert.Equal(t, "run.log", autoName("run.log", "dos%d.fits", ".log"))
}

func TestSplitBands(t *testing.T) {
	assert.Equal(t, []string{"B2", "B3", "B4"}, splitBands(" B2, B3,,B4 "))
	assert.Empty(t, splitBands(""))
	assert.Equal(t, []string{dos.AllBands}, splitBands("*"))
}

func TestFlagsOverrideConfig(t *testing.T) {
	fileName := filepath.Join(t.TempDir(), "defaults.json")
	require.NoError(t, os.WriteFile(fileName,
		[]byte(`{"bands":["B2"],"mask":"B8 > 0.1","percentile":1,"policy":"direct"}`), 0644))
	d, err := config.LoadDefaults(fileName)
	require.NoError(t, err)

	*bands, *regionRect, *percentile = "B3,B4", "0,0,10,10", 2
	applyDefaults(d, map[string]bool{"bands": true, "region": true})
	require.NoError(t, d.Validate())
	params, err := d.Params()
	require.NoError(t, err)

	assert.Equal(t, []string{"B3", "B4"}, params.SourceBands)
	assert.Equal(t, region.NewRectangle(0, 0, 10, 10), params.Region, "flag region replaces configured mask")
	assert.Equal(t, 1.0, params.Percentile, "unset flag keeps configured value")
	assert.Equal(t, dos.PolicyDirect, params.Policy)
}

func TestCmdSubtract(t *testing.T) {
	dir := t.TempDir()
	p := raster.NewProduct("scene", "L1C", 8, 4)
	b := raster.NewBand("B2", 8, 4)
	b.SpectralIndex, b.Wavelength = 1, 490
	for i := range b.Data {
		b.Data[i] = float32(i) + 3
	}
	require.NoError(t, p.AddBand(b))
	require.NoError(t, raster.Save(p, filepath.Join(dir, "in.fits"), ""))

	*out = filepath.Join(dir, "dos%d.fits")
	*quicklook = filepath.Join(dir, "dos%d.jpg")
	*hist, *baselines = "", filepath.Join(dir, "baselines%d.json")
	params := dos.DefaultParams()
	params.SourceBands = []string{dos.AllBands}

	c := ops.NewContext(context.Background(), io.Discard)
	require.NoError(t, cmdSubtract([]string{filepath.Join(dir, "*.fits")}, params, c))

	got, err := raster.Load(filepath.Join(dir, "dos0.fits"), 0, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, dos.TargetProductType, got.Type)
	assert.InDelta(t, 3.0, got.Band("B2").At(3, 0), 1e-4)
	for _, name := range []string{"dos0.jpg", "baselines0.json"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
}
