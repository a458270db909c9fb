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

package darkobj

import (
	"encoding/json"
	"fmt"

	"github.com/mlnoga/darkobject/internal/dos"
	"github.com/mlnoga/darkobject/internal/ops"
	"github.com/mlnoga/darkobject/internal/raster"
)

// Subtracts the dark object baseline from the selected spectral bands of each product.
// Optionally exports the baselines and histograms of each run, with %d expanded to the product id.
type OpDarkObjectSubtraction struct {
	ops.OpUnaryBase
	dos.Params
	HistogramFile string `json:"histogramFile"`
	BaselinesFile string `json:"baselinesFile"`
}

// register the operator for JSON decoding
func init() {
	ops.SetOperatorFactory(func() ops.Operator { return NewOpDarkObjectSubtractionDefault() })
}

func NewOpDarkObjectSubtractionDefault() *OpDarkObjectSubtraction {
	return NewOpDarkObjectSubtraction(dos.DefaultParams())
}

func NewOpDarkObjectSubtraction(params dos.Params) *OpDarkObjectSubtraction {
	op := &OpDarkObjectSubtraction{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "darkObjectSubtraction", Active: true}},
		Params:      params,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpDarkObjectSubtraction) UnmarshalJSON(data []byte) error {
	type defaults OpDarkObjectSubtraction
	def := defaults(*NewOpDarkObjectSubtractionDefault())
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	*op = OpDarkObjectSubtraction(def)
	op.OpUnaryBase.Apply = op.Apply // make method receiver point to op, not def
	return nil
}

func (op *OpDarkObjectSubtraction) Apply(p *raster.Product, c *ops.Context) (result *raster.Product, err error) {
	res, err := dos.Run(c.Ctx, p, op.Params, c.Log, c.MaxThreads)
	if err != nil {
		return nil, fmt.Errorf("%d: %w", p.ID, err)
	}
	if err := exportResult(p, res, op.HistogramFile, op.BaselinesFile, c); err != nil {
		return nil, err
	}
	return res.Product, nil
}

// Writes the histograms and baselines of a result to the given file patterns, where non-empty
func exportResult(p *raster.Product, res *dos.Result, histogramPattern, baselinesPattern string, c *ops.Context) error {
	if histogramPattern != "" {
		fileName := ops.ExpandPattern(histogramPattern, p.ID)
		fmt.Fprintf(c.Log, "%d: Writing histograms of %d bands to %s\n", p.ID, len(res.Baselines), fileName)
		if err := WriteHistogramFile(fileName, p, res); err != nil {
			return fmt.Errorf("%d: Error writing to file %s: %w", p.ID, fileName, err)
		}
	}
	if baselinesPattern != "" {
		fileName := ops.ExpandPattern(baselinesPattern, p.ID)
		fmt.Fprintf(c.Log, "%d: Writing baselines of %d bands to %s\n", p.ID, len(res.Baselines), fileName)
		if err := WriteBaselinesFile(fileName, p, res); err != nil {
			return fmt.Errorf("%d: Error writing to file %s: %w", p.ID, fileName, err)
		}
	}
	return nil
}

// Estimates the baselines of each product and exports them as JSON, without modifying the product.
type OpExportBaselines struct {
	ops.OpUnaryBase
	dos.Params
	FilePattern string `json:"filePattern"`
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpExportBaselinesDefault() }) } // register the operator for JSON decoding

func NewOpExportBaselinesDefault() *OpExportBaselines {
	return NewOpExportBaselines(dos.DefaultParams(), "")
}

func NewOpExportBaselines(params dos.Params, filePattern string) *OpExportBaselines {
	op := &OpExportBaselines{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "exportBaselines", Active: filePattern != ""}},
		Params:      params,
		FilePattern: filePattern,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpExportBaselines) UnmarshalJSON(data []byte) error {
	type defaults OpExportBaselines
	def := defaults(*NewOpExportBaselinesDefault())
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	*op = OpExportBaselines(def)
	op.OpUnaryBase.Apply = op.Apply // make method receiver point to op, not def
	return op.SetActiveFromJSON(data, op.FilePattern != "")
}

func (op *OpExportBaselines) Apply(p *raster.Product, c *ops.Context) (result *raster.Product, err error) {
	if op.FilePattern == "" {
		fmt.Fprintf(c.Log, "%d: exportBaselines empty filePattern\n", p.ID)
		return p, nil
	}
	res, err := dos.Estimate(c.Ctx, p, op.Params, c.Log, c.MaxThreads)
	if err != nil {
		return nil, fmt.Errorf("%d: %w", p.ID, err)
	}
	if err := exportResult(p, res, "", op.FilePattern, c); err != nil {
		return nil, err
	}
	return p, nil
}

// Estimates the baselines of each product and exports the histograms with their baselines as
// an HTML chart or a PNG, SVG or PDF plot by file suffix, without modifying the product.
type OpExportHistogram struct {
	ops.OpUnaryBase
	dos.Params
	FilePattern string `json:"filePattern"`
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpExportHistogramDefault() }) } // register the operator for JSON decoding

func NewOpExportHistogramDefault() *OpExportHistogram {
	return NewOpExportHistogram(dos.DefaultParams(), "")
}

func NewOpExportHistogram(params dos.Params, filePattern string) *OpExportHistogram {
	op := &OpExportHistogram{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "exportHistogram", Active: filePattern != ""}},
		Params:      params,
		FilePattern: filePattern,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpExportHistogram) UnmarshalJSON(data []byte) error {
	type defaults OpExportHistogram
	def := defaults(*NewOpExportHistogramDefault())
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	*op = OpExportHistogram(def)
	op.OpUnaryBase.Apply = op.Apply // make method receiver point to op, not def
	return op.SetActiveFromJSON(data, op.FilePattern != "")
}

func (op *OpExportHistogram) Apply(p *raster.Product, c *ops.Context) (result *raster.Product, err error) {
	if op.FilePattern == "" {
		fmt.Fprintf(c.Log, "%d: exportHistogram empty filePattern\n", p.ID)
		return p, nil
	}
	res, err := dos.Estimate(c.Ctx, p, op.Params, c.Log, c.MaxThreads)
	if err != nil {
		return nil, fmt.Errorf("%d: %w", p.ID, err)
	}
	if err := exportResult(p, res, op.FilePattern, "", c); err != nil {
		return nil, err
	}
	return p, nil
}
