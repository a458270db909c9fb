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
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/mlnoga/darkobject/internal/dos"
	"github.com/mlnoga/darkobject/internal/raster"
)

// Serializable summary of the baselines of a product
type Report struct {
	ProductID  int               `json:"productId"`
	FileName   string            `json:"fileName,omitempty"`
	Product    string            `json:"product"`
	Baselines  []dos.Baseline    `json:"baselines"`
	BandErrors map[string]string `json:"bandErrors,omitempty"`
	Anomalies  []string          `json:"anomalies,omitempty"`
	Skipped    []string          `json:"skipped,omitempty"`
}

// Summarizes a result, listing baselines in band order
func NewReport(p *raster.Product, res *dos.Result) *Report {
	r := &Report{
		ProductID: p.ID,
		FileName:  p.FileName,
		Product:   p.Name,
		Baselines: []dos.Baseline{},
		Skipped:   res.Skipped,
	}
	for _, name := range res.Bands {
		if bl, ok := res.Baselines[name]; ok {
			r.Baselines = append(r.Baselines, bl)
		}
		if err, ok := res.BandErrors[name]; ok {
			if r.BandErrors == nil {
				r.BandErrors = map[string]string{}
			}
			r.BandErrors[name] = err.Error()
		}
	}
	for _, a := range res.Anomalies {
		r.Anomalies = append(r.Anomalies, a.Error())
	}
	return r
}

// Writes the report of a result as indented JSON
func WriteBaselines(w io.Writer, p *raster.Product, res *dos.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(NewReport(p, res))
}

func WriteBaselinesFile(fileName string, p *raster.Product, res *dos.Result) error {
	return writeFile(fileName, func(w io.Writer) error { return WriteBaselines(w, p, res) })
}

// Writes one bar chart per band with its histogram and baseline as a standalone HTML page
func WriteHistogramHTML(w io.Writer, p *raster.Product, res *dos.Result) error {
	page := components.NewPage()
	for _, name := range res.Bands {
		bl, ok := res.Baselines[name]
		if !ok || bl.Histogram == nil {
			continue
		}
		h := bl.Histogram
		x := make([]string, len(h.Bins))
		y := make([]opts.BarData, len(h.Bins))
		for i, c := range h.Bins {
			x[i] = fmt.Sprintf("%.4g", h.BinValue(i))
			y[i] = opts.BarData{Value: c}
		}

		bar := charts.NewBar()
		bar.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px"}),
			charts.WithTitleOpts(opts.Title{Title: "Band " + name, Subtitle: bl.String()}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
			charts.WithXAxisOpts(opts.XAxis{Name: "Value", NameLocation: "middle", NameGap: 25}),
			charts.WithYAxisOpts(opts.YAxis{Name: "Samples", NameLocation: "middle", NameGap: 40}),
			charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
		)
		bar.SetXAxis(x).AddSeries(name, y)
		page.AddCharts(bar)
	}
	return page.Render(w)
}

// Saves a plot of all band histograms with a dashed marker at each baseline. The format
// follows the file suffix, as supported by gonum/plot.
func WriteHistogramPlot(fileName string, p *raster.Product, res *dos.Result) error {
	pl := plot.New()
	pl.Title.Text = fmt.Sprintf("Dark object histograms of %s", p.Name)
	pl.X.Label.Text = "Value"
	pl.Y.Label.Text = "Samples"

	n := len(res.Bands)
	for i, name := range res.Bands {
		bl, ok := res.Baselines[name]
		if !ok || bl.Histogram == nil {
			continue
		}
		h := bl.Histogram
		pts := make(plotter.XYs, len(h.Bins))
		maxCount := int64(0)
		for j, c := range h.Bins {
			pts[j] = plotter.XY{X: h.BinValue(j), Y: float64(c)}
			if c > maxCount {
				maxCount = c
			}
		}
		col := raster.RampColor(float32(i+1) / float32(n+1))

		line, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		line.Color = col
		line.Width = vg.Points(1)
		pl.Add(line)
		pl.Legend.Add(name, line)

		marker, err := plotter.NewLine(plotter.XYs{{X: bl.Value, Y: 0}, {X: bl.Value, Y: float64(maxCount)}})
		if err != nil {
			return err
		}
		marker.Color = col
		marker.Width = vg.Points(1)
		marker.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		pl.Add(marker)
	}
	pl.Legend.Top = true
	pl.Legend.Left = false
	pl.Legend.XOffs = -10
	pl.Legend.YOffs = -10

	return pl.Save(10*vg.Inch, 5*vg.Inch, fileName)
}

// Writes the histograms as HTML for .html and .htm suffixes, or as plot otherwise
func WriteHistogramFile(fileName string, p *raster.Product, res *dos.Result) error {
	switch ext := strings.ToLower(filepath.Ext(fileName)); ext {
	case ".html", ".htm":
		return writeFile(fileName, func(w io.Writer) error { return WriteHistogramHTML(w, p, res) })
	case ".png", ".svg", ".pdf", ".jpg", ".jpeg", ".tif", ".tiff", ".eps":
		return WriteHistogramPlot(fileName, p, res)
	default:
		return fmt.Errorf("unknown histogram format '%s'", ext)
	}
}

// Creates or truncates a file and writes to it through a buffer
func writeFile(fileName string, write func(w io.Writer) error) (err error) {
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
	if err := write(writer); err != nil {
		return err
	}
	return writer.Flush()
}
