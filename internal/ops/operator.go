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

package ops

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/pbnjay/memory"

	"github.com/mlnoga/darkobject/internal/raster"
)

// An execution context for operators
type Context struct {
	Log           io.Writer
	Ctx           context.Context // cancels long-running operators
	MemoryMB      int             // memory.TotalMemory()/1024/1024
	MaxThreads    int             `json:"maxThreads"`
	RestrictPaths bool            // only relative paths inside the working directory tree, for the REST server
}

func NewContext(ctx context.Context, log io.Writer) *Context {
	return &Context{
		Log:        log,
		Ctx:        ctx,
		MemoryMB:   int(memory.TotalMemory() / 1024 / 1024),
		MaxThreads: runtime.GOMAXPROCS(0),
	}
}

// Returns the number of products which can be held in memory at once, assuming all bands
// are float32 and half the memory is available for products. At least one.
func (c *Context) ProductsInMemory(width, height, numBands int) int {
	bytesPerProduct := int64(width) * int64(height) * int64(numBands) * 4
	if bytesPerProduct <= 0 || c.MemoryMB <= 0 {
		return 1
	}
	n := int64(c.MemoryMB) * 1024 * 1024 / 2 / bytesPerProduct
	if n < 1 {
		return 1
	}
	if n > int64(c.MaxThreads) {
		return c.MaxThreads
	}
	return int(n)
}

// A promise for a raster product. Returns a materialized product, or an error
type Promise func() (p *raster.Product, err error)

// Materializes all promises with given concurrency limit
func MaterializeAll(ins []Promise, maxThreads int, forget bool) (outs []*raster.Product, err error) {
	if len(ins) == 0 {
		return nil, nil
	}
	if maxThreads < 1 {
		maxThreads = 1
	}
	if !forget {
		outs = make([]*raster.Product, len(ins))
	}
	limiter := make(chan bool, maxThreads)
	errs := make(chan error, len(ins))
	for i, in := range ins {
		limiter <- true
		go func(i int, theIn Promise) {
			defer func() { <-limiter }()
			p, err := theIn() // materialize the promise
			if err != nil {
				errs <- err
				return
			}
			if !forget {
				outs[i] = p
			}
			errs <- nil
		}(i, in)
	}
	for i := 0; i < cap(limiter); i++ { // wait for goroutines to finish
		limiter <- true
	}
	errList := []error{}
	for i := 0; i < len(ins); i++ { // collect errors
		if e := <-errs; e != nil {
			errList = append(errList, e)
		}
	}
	return RemoveNils(outs), errors.Join(errList...)
}

// Remove nils from an array of products, editing the underlying array in place
func RemoveNils(ps []*raster.Product) []*raster.Product {
	o := 0
	for i := 0; i < len(ps); i++ {
		if ps[i] != nil {
			ps[o] = ps[i]
			o++
		}
	}
	for i := o; i < len(ps); i++ {
		ps[i] = nil
	}
	return ps[:o]
}

// A general raster processing operator: takes n promises as inputs,
// and produces m promises as output or an error
type Operator interface {
	GetType() string
	IsActive() bool
	MakePromises(ins []Promise, c *Context) (outs []Promise, err error)
}

// Base type for operators, including type information for JSON serializing/deserializing
type OpBase struct {
	Type   string `json:"type"`
	Active bool   `json:"active"`
}

func (op *OpBase) GetType() string { return op.Type }
func (op *OpBase) IsActive() bool  { return op.Active }

// Sets Active from the "active" entry of a JSON message if given, else to the fallback
func (op *OpBase) SetActiveFromJSON(data []byte, fallback bool) error {
	var given struct {
		Active *bool `json:"active"`
	}
	if err := json.Unmarshal(data, &given); err != nil {
		return err
	}
	op.Active = fallback
	if given.Active != nil {
		op.Active = *given.Active
	}
	return nil
}

// Factory method for subclasses of operators. For JSON serializing/deserializing
type OperatorFactory func() Operator

// Mapping from operator type strings to factory method for the type
var operatorFactories = map[string]OperatorFactory{}

// Returns the operator factory for a given type string
func GetOperatorFactory(t string) OperatorFactory {
	return operatorFactories[t]
}

// Registers a given type string for a given type of Operator, identified via an exemplar generator
func SetOperatorFactory(f OperatorFactory) {
	op := f()
	t := op.GetType()
	if GetOperatorFactory(t) != nil {
		panic(fmt.Sprintf("error: re-registering operator key %s\n", t))
	}
	operatorFactories[t] = f
}

// Unmarshals a single polymorphic operator from JSON, based on its type field
func UnmarshalOperator(raw []byte) (Operator, error) {
	var base OpBase
	if err := json.Unmarshal(raw, &base); err != nil {
		return nil, err
	}
	factory := GetOperatorFactory(base.Type)
	if factory == nil {
		return nil, fmt.Errorf("unknown operator type '%s' in raw JSON message '%s'", base.Type, string(raw))
	}
	op := factory()
	if err := json.Unmarshal(raw, op); err != nil {
		return nil, err
	}
	return op, nil
}

// A unary raster processing operator: given n promises as inputs,
// applies itself to each of them individually and returns n output promises or an error
type OperatorUnary interface {
	Operator
	Apply(p *raster.Product, c *Context) (pOut *raster.Product, err error)
}

// Abstract base type for unary operators. Uses golang workaround for abstract classes
// from https://golangbyexample.com/go-abstract-class/
type OpUnaryBase struct {
	OpBase
	Apply func(p *raster.Product, c *Context) (pOut *raster.Product, err error) `json:"-"`
}

func (op *OpUnaryBase) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	if len(ins) == 0 {
		return nil, fmt.Errorf("unary operator %s with %d inputs", op.Type, len(ins))
	}
	outs = make([]Promise, len(ins))
	for i, in := range ins {
		outs[i] = op.MakePromise(in, c)
	}
	return outs, nil
}

func (op *OpUnaryBase) MakePromise(in Promise, c *Context) (out Promise) {
	return func() (p *raster.Product, err error) {
		if p, err = in(); err != nil { // materialize input promise
			return nil, err
		}
		if p == nil || !op.Active { // filtered out upstream, or inactive
			return p, nil
		}
		return op.Apply(p, c) // apply unary operator
	}
}

// Load a single product from a single filename. Takes zero inputs, produces one output
type OpLoad struct {
	OpBase
	ID       int    `json:"id"`
	FileName string `json:"fileName"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpLoadDefault() }) } // register the operator for JSON decoding

func NewOpLoadDefault() *OpLoad { return NewOpLoad(0, "") }

func NewOpLoad(id int, fileName string) *OpLoad {
	return &OpLoad{
		OpBase:   OpBase{Type: "load", Active: true},
		ID:       id,
		FileName: fileName,
	}
}

// Load product from a file
func (op *OpLoad) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	if len(ins) > 0 {
		return nil, fmt.Errorf("%s operator with non-zero input", op.Type)
	}
	if c.RestrictPaths && !isPathAllowed(op.FileName) {
		return nil, errors.New("Filename outside current directory tree, aborting")
	}

	out := func() (p *raster.Product, err error) {
		return op.Apply(c)
	}
	return []Promise{out}, nil
}

// Returns true if a path is considered safe, i.e. not an absolute path,
// and doesn't contain the ".." characters to change to a parent directory
func isPathAllowed(p string) bool {
	if filepath.IsAbs(p) { // relative paths only
		return false
	}
	if strings.Contains(p, "..") { // no going outside the tree
		return false
	}
	return true
}

func (op *OpLoad) Apply(c *Context) (result *raster.Product, err error) {
	p, err := raster.Load(op.FileName, op.ID, c.Log)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(c.Log, "%d: Loaded %s from %s\n", p.ID, p, p.FileName)
	return p, nil
}

// Load many products from a slice of filename patterns with wildcards.
// Takes zero inputs, produces n outputs
type OpLoadMany struct {
	OpBase
	FilePatterns []string `json:"filePatterns"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpLoadManyDefault() }) } // register the operator for JSON decoding

func NewOpLoadManyDefault() *OpLoadMany { return NewOpLoadMany(nil) }

func NewOpLoadMany(filePatterns []string) *OpLoadMany {
	return &OpLoadMany{
		OpBase:       OpBase{Type: "loadMany", Active: true},
		FilePatterns: filePatterns,
	}
}

// Turn filename wildcards into list of file load operators
func (op *OpLoadMany) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	if len(ins) > 0 {
		return nil, fmt.Errorf("%s operator with non-zero input", op.Type)
	}
	for _, pattern := range op.FilePatterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, err
		}
		for _, match := range matches {
			if c.RestrictPaths && !isPathAllowed(match) {
				fmt.Fprintf(c.Log, "Pattern match outside current directory tree, skipping\n")
				continue
			}
			opLoad := NewOpLoad(len(outs), match)
			promises, err := opLoad.MakePromises(nil, c)
			if err != nil {
				return nil, err
			}
			outs = append(outs, promises...)
		}
	}
	if len(outs) == 0 {
		return nil, fmt.Errorf("%s operator with no files to load from pattern %v", op.Type, op.FilePatterns)
	}
	fmt.Fprintf(c.Log, "Found %d files.\n", len(outs))
	return outs, nil
}

// Saves given promise under a given filename, with pattern expansion for %d based on the product id.
// FITS files receive all bands, TIFF and JPEG files the given band.
// Takes one input, produces one output (the materialized but unchanged input)
type OpSave struct {
	OpUnaryBase
	FilePattern string `json:"filePattern"`
	Band        string `json:"band"` // for single-band formats, empty for the first band
}

func init() { SetOperatorFactory(func() Operator { return NewOpSaveDefault() }) } // register the operator for JSON decoding

func NewOpSaveDefault() *OpSave { return NewOpSave("", "") }

func NewOpSave(filenamePattern, band string) *OpSave {
	op := OpSave{
		OpUnaryBase: OpUnaryBase{OpBase: OpBase{Type: "save", Active: filenamePattern != ""}},
		FilePattern: filenamePattern,
		Band:        band,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return &op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpSave) UnmarshalJSON(data []byte) error {
	type defaults OpSave
	def := defaults(*NewOpSaveDefault())
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	*op = OpSave(def)
	op.OpUnaryBase.Apply = op.Apply // make method receiver point to op, not def
	return op.SetActiveFromJSON(data, op.FilePattern != "")
}

// Expands %d in a file pattern with the product id
func ExpandPattern(pattern string, id int) string {
	if strings.Contains(pattern, "%d") {
		return fmt.Sprintf(pattern, id)
	}
	return pattern
}

func (op *OpSave) Apply(p *raster.Product, c *Context) (result *raster.Product, err error) {
	if !op.Active || op.FilePattern == "" {
		return p, nil
	}
	fileName := ExpandPattern(op.FilePattern, p.ID)
	if c.RestrictPaths && !isPathAllowed(fileName) {
		return nil, fmt.Errorf("%d: filename %s outside current directory tree, aborting", p.ID, fileName)
	}

	switch raster.FormatOf(fileName) {
	case raster.FormatFITS, raster.FormatFITSGzip:
		fmt.Fprintf(c.Log, "%d: Writing %s pixel FITS with %d bands to %s\n", p.ID, p.DimensionsToString(), len(p.Bands), fileName)
	case raster.FormatTIFF:
		fmt.Fprintf(c.Log, "%d: Writing %s pixel mono TIFF of band %s to %s\n", p.ID, p.DimensionsToString(), op.bandName(p), fileName)
	case raster.FormatJPEG:
		fmt.Fprintf(c.Log, "%d: Writing %s pixel quicklook JPEG of band %s to %s\n", p.ID, p.DimensionsToString(), op.bandName(p), fileName)
	}
	if err := raster.Save(p, fileName, op.Band); err != nil {
		return nil, fmt.Errorf("%d: Error writing to file %s: %w", p.ID, fileName, err)
	}
	return p, nil
}

func (op *OpSave) bandName(p *raster.Product) string {
	if op.Band == "" && len(p.Bands) > 0 {
		return p.Bands[0].Name
	}
	return op.Band
}

// Applies a sequence of operators to a promise. Number of inputs, outputs as per the chained steps
type OpSequence struct {
	OpBase
	Steps    []Operator        `json:"-"`     // the actual steps
	StepsRaw []json.RawMessage `json:"steps"` // helper for unmarshaling
}

func init() { SetOperatorFactory(func() Operator { return NewOpSequenceDefault() }) } // register the operator for JSON decoding

func NewOpSequenceDefault() *OpSequence { return NewOpSequence() }

func NewOpSequence(steps ...Operator) *OpSequence {
	return &OpSequence{
		OpBase: OpBase{Type: "seq", Active: len(steps) > 0},
		Steps:  steps,
	}
}

// Unmarshals a sequence of polymorphic operators from JSON.
// Uses temporary op.StepsRaw inspired by https://alexkappa.medium.com/json-polymorphism-in-go-4cade1e58ed1
func (op *OpSequence) UnmarshalJSON(b []byte) error {
	type alias OpSequence
	if err := json.Unmarshal(b, (*alias)(op)); err != nil {
		return err
	}
	for _, raw := range op.StepsRaw {
		step, err := UnmarshalOperator(raw)
		if err != nil {
			return err
		}
		op.Steps = append(op.Steps, step)
	}
	op.StepsRaw = nil
	return nil
}

// Appends one or more operators to the existing sequence
func (op *OpSequence) Append(steps ...Operator) {
	op.Steps = append(op.Steps, steps...)
	op.Active = op.Active || len(steps) > 0
}

// Marshals a sequence with polymorphic operators to JSON.
// Uses the actual op.Steps with label "steps", and ignores op.StepsRaw
func (op *OpSequence) MarshalJSON() (bs []byte, err error) {
	buf := bytes.Buffer{}
	buf.WriteString("{\"type\":")
	inner, err := json.Marshal(op.Type)
	if err != nil {
		return nil, err
	}
	buf.Write(inner)
	fmt.Fprintf(&buf, ", \"active\":%v, \"steps\":", op.Active)
	inner, err = json.Marshal(op.Steps)
	if err != nil {
		return nil, err
	}
	buf.Write(inner)
	buf.WriteRune('}')
	return buf.Bytes(), nil
}

func (op *OpSequence) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	return op.applyRecursive(op.Steps, ins, c)
}

func (op *OpSequence) applyRecursive(steps []Operator, ins []Promise, c *Context) (outs []Promise, err error) {
	if len(steps) == 0 {
		return ins, nil
	}
	ins, err = steps[0].MakePromises(ins, c)
	if err != nil {
		return nil, err
	}
	return op.applyRecursive(steps[1:], ins, c)
}

// Applies a single operator to each input. Takes n inputs, produces n outputs
type OpForEach struct {
	OpBase
	Operation Operator `json:"operation"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpForEachDefault() }) } // register the operator for JSON decoding

func NewOpForEachDefault() *OpForEach { return NewOpForEach(nil) }

func NewOpForEach(operation Operator) *OpForEach {
	return &OpForEach{
		OpBase:    OpBase{Type: "forEach", Active: operation != nil},
		Operation: operation,
	}
}

// Unmarshals the polymorphic embedded operation from JSON
func (op *OpForEach) UnmarshalJSON(b []byte) error {
	var raw struct {
		OpBase
		Operation json.RawMessage `json:"operation"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	op.OpBase = raw.OpBase
	op.Operation = nil
	if len(raw.Operation) == 0 || string(raw.Operation) == "null" {
		return nil
	}
	operation, err := UnmarshalOperator(raw.Operation)
	if err != nil {
		return err
	}
	op.Operation = operation
	return nil
}

// Applies the operation to each input promise individually
func (op *OpForEach) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	if len(ins) == 0 {
		return ins, nil
	}
	if op.Operation == nil {
		return nil, fmt.Errorf("%s operator has no operation to apply", op.Type)
	}
	for _, in := range ins {
		out, err := op.Operation.MakePromises([]Promise{in}, c)
		if err != nil {
			return nil, err
		}
		if len(out) != 1 {
			return nil, fmt.Errorf("%s operator needs exactly one promise from embedded operation", op.Type)
		}
		outs = append(outs, out[0])
	}
	return outs, nil
}
