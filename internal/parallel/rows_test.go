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
	"errors"
	"sync/atomic"
	"testing"
)

func TestPlanCoversAllRowsOnce(t *testing.T) {
	for _, tc := range []struct{ y0, y1, width, threads int }{
		{0, 1, 1, 1},
		{0, 100, 100, 4},
		{10, 17, 3, 8},
		{0, 1000, 100000, 2},
		{5, 5, 10, 2},
	} {
		p := NewPlan(tc.y0, tc.y1, tc.width, tc.threads)
		seen := make([]int32, tc.y1)
		err := p.Run(context.Background(), tc.threads, func(chunk, y0, y1 int) error {
			for y := y0; y < y1; y++ {
				atomic.AddInt32(&seen[y], 1)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("plan %+v: unexpected error %v", p, err)
		}
		for y := 0; y < tc.y1; y++ {
			want := int32(0)
			if y >= tc.y0 {
				want = 1
			}
			if seen[y] != want {
				t.Errorf("plan %+v: row %d visited %d times; want %d", p, y, seen[y], want)
			}
		}
	}
}

func TestPlanChunkBounds(t *testing.T) {
	p := Plan{Y0: 3, Y1: 12, RowsPerChunk: 4}
	if n := p.NumChunks(); n != 3 {
		t.Fatalf("NumChunks=%d; want 3", n)
	}
	if y0, y1 := p.Chunk(2); y0 != 11 || y1 != 12 {
		t.Errorf("Chunk(2)=[%d,%d); want [11,12)", y0, y1)
	}
}

func TestPlanRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := int32(0)
	p := Plan{Y0: 0, Y1: 64, RowsPerChunk: 1}
	err := p.Run(ctx, 4, func(chunk, y0, y1 int) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err=%v; want context.Canceled", err)
	}
	if calls != 0 {
		t.Errorf("calls=%d; want 0", calls)
	}
}

func TestPlanRunReturnsFirstError(t *testing.T) {
	boom := errors.New("boom")
	p := Plan{Y0: 0, Y1: 10, RowsPerChunk: 1}
	err := p.Run(context.Background(), 1, func(chunk, y0, y1 int) error {
		if chunk == 3 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Errorf("err=%v; want %v", err, boom)
	}
}

func TestCacheRowsAtLeastOne(t *testing.T) {
	if r := CacheRows(1 << 30); r < 1 {
		t.Errorf("CacheRows=%d; want >=1", r)
	}
}
