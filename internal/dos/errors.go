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

package dos

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds. Check with errors.Is
var (
	// Invalid parameters, raised before any computation starts
	ErrConfiguration = errors.New("configuration error")

	// A region selects no valid samples of a band
	ErrEmptySelection = errors.New("empty selection")

	// The percentile walk fell through without reaching its threshold. Soft anomaly, never returned from Run
	ErrDegenerateHistogram = errors.New("degenerate histogram")

	// The run was cancelled, no output was published
	ErrCancelled = errors.New("cancellation requested")
)

// An error isolated to a single band
type BandError struct {
	Band string
	Err  error
}

func (e *BandError) Error() string { return fmt.Sprintf("band %s: %s", e.Band, e.Err.Error()) }

func (e *BandError) Unwrap() error { return e.Err }

func configError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// Maps context errors to ErrCancelled, keeping the context error in the chain
func cancelled(err error) error {
	if errors.Is(err, ErrCancelled) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return err
}
