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

package parallel

import (
	"context"
	"runtime"
	"sync"

	"github.com/klauspost/cpuid"
)

// Bytes per sample of the float32 rasters we split into row chunks
const bytesPerSample = 4

// Fallback L2 cache size if the CPU does not report one
const defaultL2Bytes = 256 * 1024

// A plan splitting rows [Y0,Y1) of a raster into chunks of consecutive rows.
// Chunks are numbered from 0, so callers can keep per-chunk partial results in a slice.
type Plan struct {
	Y0, Y1       int
	RowsPerChunk int
}

// Creates a plan for rows [y0,y1) of a raster with given width. Aims for 8*threads work packages
// as the pixel functions do, but never makes a chunk larger than fits into the L2 cache.
func NewPlan(y0, y1, width, threads int) Plan {
	if threads < 1 {
		threads = runtime.GOMAXPROCS(0)
	}
	rows := y1 - y0
	if rows <= 0 {
		return Plan{Y0: y0, Y1: y0, RowsPerChunk: 1}
	}
	numBatches := 8 * threads
	perChunk := (rows + numBatches - 1) / numBatches
	if cacheRows := CacheRows(width); perChunk > cacheRows {
		perChunk = cacheRows
	}
	if perChunk < 1 {
		perChunk = 1
	}
	return Plan{Y0: y0, Y1: y1, RowsPerChunk: perChunk}
}

// Returns the number of rows of given width which fit into the L2 cache, at least 1
func CacheRows(width int) int {
	l2 := cpuid.CPU.Cache.L2
	if l2 <= 0 {
		l2 = defaultL2Bytes
	}
	if width < 1 {
		width = 1
	}
	rows := l2 / (width * bytesPerSample)
	if rows < 1 {
		rows = 1
	}
	return rows
}

// Number of chunks in the plan
func (p Plan) NumChunks() int {
	if p.Y1 <= p.Y0 {
		return 0
	}
	return (p.Y1 - p.Y0 + p.RowsPerChunk - 1) / p.RowsPerChunk
}

// Returns the row range [y0,y1) of chunk i
func (p Plan) Chunk(i int) (y0, y1 int) {
	y0 = p.Y0 + i*p.RowsPerChunk
	y1 = y0 + p.RowsPerChunk
	if y1 > p.Y1 {
		y1 = p.Y1
	}
	return y0, y1
}

// Runs fn on every chunk, with at most threads goroutines active. Checks the context before
// starting each chunk and stops handing out work after the first error or cancellation.
// Returns the context error if the context was cancelled, else the first error from fn.
func (p Plan) Run(ctx context.Context, threads int, fn func(chunk, y0, y1 int) error) error {
	if threads < 1 {
		threads = runtime.GOMAXPROCS(0)
	}
	var (
		mutex    sync.Mutex
		firstErr error
		wg       sync.WaitGroup
	)
	failed := func() bool {
		mutex.Lock()
		defer mutex.Unlock()
		return firstErr != nil
	}

	sem := make(chan bool, threads)
	for i := 0; i < p.NumChunks(); i++ {
		if ctx.Err() != nil || failed() {
			break
		}
		y0, y1 := p.Chunk(i)
		sem <- true
		wg.Add(1)
		go func(i, y0, y1 int) {
			defer func() { <-sem; wg.Done() }()
			if ctx.Err() != nil {
				return
			}
			if err := fn(i, y0, y1); err != nil {
				mutex.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mutex.Unlock()
			}
		}(i, y0, y1)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	return firstErr
}
