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

package internal

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogTeesToFile(t *testing.T) {
	var console bytes.Buffer
	logStdout = &console
	defer func() { logStdout = os.Stdout }()

	fileName := filepath.Join(t.TempDir(), "run.log")
	require.NoError(t, LogAlsoToFile(fileName))
	LogPrintf("%d: Band %s baseline %g\n", 1, "B2", 0.25)
	LogPrintln("done")
	require.NoError(t, LogClose())

	want := "1: Band B2 baseline 0.25\ndone\n"
	assert.Equal(t, want, console.String())
	data, err := os.ReadFile(fileName)
	require.NoError(t, err)
	assert.Equal(t, want, string(data))
}

func TestLogAlsoToFileReportsOpenErrors(t *testing.T) {
	err := LogAlsoToFile(filepath.Join(t.TempDir(), "missing", "run.log"))
	assert.Error(t, err)
	assert.NoError(t, LogSync())
}

func TestLogConcurrentWritesKeepLines(t *testing.T) {
	var console bytes.Buffer
	logStdout = &console
	defer func() { logStdout = os.Stdout }()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fmt.Fprintf(Log, "%02d: line\n", i)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 16*len("00: line\n"), console.Len())
}
