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
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"
	"syscall"
	"time"

	"github.com/klauspost/cpuid"

	nl "github.com/mlnoga/darkobject/internal"
	"github.com/mlnoga/darkobject/internal/config"
	"github.com/mlnoga/darkobject/internal/dos"
	"github.com/mlnoga/darkobject/internal/ops"
	"github.com/mlnoga/darkobject/internal/ops/darkobj"
	"github.com/mlnoga/darkobject/internal/rest"
)

const version = "0.3.0"

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
var memprofile = flag.String("memprofile", "", "write memory profile to `file`")

var configFile = flag.String("config", "", "load default settings from JSON `file`; flags given on the command line take precedence")

var out = flag.String("out", "dos%d.fits", "save corrected products with given filename pattern, e.g. `dos%d.fits`")
var quicklook = flag.String("quicklook", "%auto", "save 8bit false-colour quicklook of one band as JPEG with given filename pattern. `%auto` replaces suffix of output pattern with .jpg")
var quickBand = flag.String("quickBand", "", "band for the quicklook, blank for the first band")
var log = flag.String("log", "%auto", "save log output to `file`. `%auto` replaces suffix of output pattern with .log")
var hist = flag.String("hist", "", "save band histograms with given filename pattern, .html for interactive charts or .png/.svg/.pdf for plots, e.g. `hist%d.html`")
var baselines = flag.String("baselines", "", "save baselines and histogram statistics as JSON with given filename pattern, e.g. `baselines%d.json`")

var bands = flag.String("bands", "", "comma-separated source bands, or * for all bands")
var regionRect = flag.String("region", "", "rectangle x,y,width,height to derive baselines from, blank for the full raster")
var mask = flag.String("mask", "", "boolean expression selecting the pixels to derive baselines from, e.g. `B8 > 0.1 && X < 500`; overrides -region")
var inclusive = flag.Bool("inclusive", false, "treat the rectangle bounds as inclusive, for compatibility with earlier releases")
var percentile = flag.Float64("percentile", 0, "histogram percentile in [0,100] to take as baseline, 0=minimum")
var bins = flag.Int("bins", 0, "number of histogram bins, 0=default")
var policy = flag.String("policy", dos.PolicyFloor, "subtraction policy: floor keeps samples which would turn non-positive, clampRescale and direct reproduce earlier releases")
var clampMin = flag.Float64("clampMin", 0, "lower clamp of the clampRescale policy")

var threads = flag.Int("threads", 0, "number of threads, 0=all processors")
var memoryMB = flag.Int("memory", 0, "total MiB of memory to use for products in flight, 0=physical memory")

var addr = flag.String("addr", ":8080", "listen address of the REST server")
var chroot = flag.String("chroot", "", "chroot the REST server into given `dir`")
var setuid = flag.Int("setuid", -1, "switch the REST server to given user id, -1=don't")

func main() {
	logWriter := nl.Log
	start := time.Now()
	flag.Usage = func() {
		fmt.Fprintf(logWriter, `Darkobject Copyright (c) 2020 Markus L. Noga
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Usage: %s [-flag value] (stats|subtract|serve|legal|version) (img0.fits ... imgn.fits)

Commands:
  stats    Estimate and show band baselines without changing the inputs
  subtract Subtract band baselines and save the corrected products
  serve    Serve the REST API
  legal    Show license and attribution information
  version  Show version information

Flags:
`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	defaults := &config.Defaults{}
	if *configFile != "" {
		d, err := config.LoadDefaults(*configFile)
		if err != nil {
			nl.LogFatalf("Unable to load configuration: %s\n", err.Error())
		}
		defaults = d
	}
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	// Initialize logging to file in addition to stdout, if selected
	if !set["log"] && defaults.GetLogFile() != "" {
		*log = defaults.GetLogFile()
	}
	*log = autoName(*log, *out, ".log")
	if *log != "" {
		if err := nl.LogAlsoToFile(*log); err != nil {
			nl.LogFatalf("Unable to open logfile '%s'\n", *log)
		}
	}
	defer nl.LogClose()
	*quicklook = autoName(*quicklook, *out, ".jpg")

	// Enable CPU profiling if flagged
	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			nl.LogFatal("Could not create CPU profile: ", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			nl.LogFatal("Could not start CPU profile: ", err)
		}
		defer pprof.StopCPUProfile()
	}

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		return
	}

	// interrupts cancel running jobs; no partial products are written
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := ops.NewContext(ctx, logWriter)
	applyDefaults(defaults, set)
	if err := defaults.Validate(); err != nil {
		nl.LogFatalf("Invalid settings: %s\n", err.Error())
	}
	if t := defaults.GetThreads(); t > 0 {
		c.MaxThreads = t
	}
	if *memoryMB > 0 {
		c.MemoryMB = *memoryMB
	}
	params, err := defaults.Params()
	if err != nil {
		nl.LogFatalf("Invalid settings: %s\n", err.Error())
	}

	switch args[0] {
	case "stats", "subtract", "serve":
		fmt.Fprintf(logWriter, "Running on %s with %d physical and %d logical cores (AVX2 %v), using %d threads and %d MiB\n",
			cpuid.CPU.BrandName, cpuid.CPU.PhysicalCores, cpuid.CPU.LogicalCores, cpuid.CPU.AVX2(), c.MaxThreads, c.MemoryMB)
	}

	// run actions
	switch args[0] {
	case "stats":
		err = cmdStats(args[1:], params, c)

	case "subtract":
		err = cmdSubtract(args[1:], params, c)

	case "serve":
		if err = rest.MakeSandbox(logWriter, *chroot, *setuid); err == nil {
			err = rest.NewServer(logWriter, c.MaxThreads).Serve(*addr)
		}

	case "legal":
		fmt.Fprint(logWriter, legal)

	case "version":
		fmt.Fprintf(logWriter, "Version %s\n", version)

	case "help", "?":
		flag.Usage()

	default:
		fmt.Fprintf(logWriter, "Unknown command '%s'\n\n", args[0])
		flag.Usage()
		return
	}

	fmt.Fprintf(logWriter, "\nDone after %v\n", time.Since(start))

	// Store memory profile if flagged
	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			nl.LogFatal("Could not create memory profile: ", err)
		}
		defer f.Close()
		runtime.GC() // get up-to-date statistics
		if err := pprof.Lookup("allocs").WriteTo(f, 0); err != nil {
			nl.LogFatal("Could not write allocation profile: ", err)
		}
	}

	if err != nil {
		nl.LogFatalf("Error: %s\n", err.Error())
	}
}

// Resolves %auto by replacing the suffix of the output pattern, dropping its %d placeholder
func autoName(name, outPattern, suffix string) string {
	if name != "%auto" {
		return name
	}
	if outPattern == "" {
		return ""
	}
	base := strings.TrimSuffix(outPattern, filepath.Ext(outPattern))
	if suffix == ".log" {
		base = strings.ReplaceAll(base, "%d", "")
	}
	return base + suffix
}

// Applies the flags given on the command line on top of the defaults from the configuration file
func applyDefaults(d *config.Defaults, set map[string]bool) {
	if set["bands"] || len(d.Bands) == 0 {
		d.Bands = splitBands(*bands)
	}
	if set["region"] {
		d.Region, d.Mask = regionRect, nil
	}
	if set["mask"] {
		d.Mask = mask
	}
	if set["inclusive"] {
		d.Inclusive = inclusive
	}
	if set["percentile"] {
		d.Percentile = percentile
	}
	if set["bins"] && *bins > 0 {
		d.Bins = bins
	}
	if set["policy"] {
		d.Policy = policy
	}
	if set["clampMin"] {
		d.ClampMin = clampMin
	}
	if set["threads"] {
		d.Threads = threads
	}
}

func splitBands(s string) []string {
	var names []string
	for _, name := range strings.Split(s, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// Estimates baselines for all inputs, exporting them as JSON and histograms if selected
func cmdStats(patterns []string, params dos.Params, c *ops.Context) error {
	baselinesPattern := *baselines
	if baselinesPattern == "" && *hist == "" {
		baselinesPattern = "baselines%d.json"
	}
	seq := ops.NewOpSequence(ops.NewOpLoadMany(patterns))
	if baselinesPattern != "" {
		seq.Append(ops.NewOpForEach(darkobj.NewOpExportBaselines(params, baselinesPattern)))
	}
	if *hist != "" {
		seq.Append(ops.NewOpForEach(darkobj.NewOpExportHistogram(params, *hist)))
	}
	return runSequence(seq, c)
}

// Subtracts band baselines from all inputs and saves the target products
func cmdSubtract(patterns []string, params dos.Params, c *ops.Context) error {
	opDOS := darkobj.NewOpDarkObjectSubtraction(params)
	opDOS.HistogramFile = *hist
	opDOS.BaselinesFile = *baselines

	seq := ops.NewOpSequence(
		ops.NewOpLoadMany(patterns),
		ops.NewOpForEach(opDOS),
		ops.NewOpForEach(ops.NewOpSave(*out, "")),
	)
	if *quicklook != "" {
		seq.Append(ops.NewOpForEach(ops.NewOpSave(*quicklook, *quickBand)))
	}

	m, err := json.MarshalIndent(seq, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(c.Log, "\nSubtracting dark objects with these settings:\n%s\n", string(m))
	return runSequence(seq, c)
}

// Materializes the first product alone to size the number of products in flight, then all others
func runSequence(seq *ops.OpSequence, c *ops.Context) error {
	promises, err := seq.MakePromises(nil, c)
	if err != nil {
		return err
	}
	first, err := ops.MaterializeAll(promises[:1], 1, false)
	if err != nil || len(promises) == 1 {
		return err
	}
	inFlight := c.ProductsInMemory(first[0].Width, first[0].Height, len(first[0].Bands))
	fmt.Fprintf(c.Log, "Processing remaining %d products with %d in flight\n", len(promises)-1, inFlight)
	_, err = ops.MaterializeAll(promises[1:], inFlight, true)
	return err
}
