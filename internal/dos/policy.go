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
	"fmt"
	"math"
	"strings"

	"github.com/mlnoga/darkobject/internal/raster"
)

// Policy names
const (
	PolicyFloor        = "floor"
	PolicyClampRescale = "clampRescale"
	PolicyDirect       = "direct"
)

// A subtraction policy, applied to valid samples only. Missing samples are always passed through
type Policy interface {
	Name() string
	Apply(sample, baseline float64) float64
}

// A policy which depends on band metadata, bound once per band before subtraction
type BandPolicy interface {
	Policy
	ForBand(b *raster.Band) Policy
}

// Subtracts the baseline, but keeps the original sample wherever the difference would be zero
// or negative. Never inverts the sign of a measurement. The default.
type FloorPolicy struct{}

func (FloorPolicy) Name() string { return PolicyFloor }

func (FloorPolicy) Apply(sample, baseline float64) float64 {
	if d := sample - baseline; d > 0 {
		return d
	}
	return sample
}

// Legacy policy: clamps the difference to ClampMin, then divides by the scaling factor.
// A zero ScaleFactor uses the band's scaling factor.
type ClampRescalePolicy struct {
	ClampMin    float64
	ScaleFactor float64
}

func (ClampRescalePolicy) Name() string { return PolicyClampRescale }

func (p ClampRescalePolicy) Apply(sample, baseline float64) float64 {
	scale := p.ScaleFactor
	if scale == 0 {
		scale = 1
	}
	return math.Max(sample-baseline, p.ClampMin) / scale
}

func (p ClampRescalePolicy) ForBand(b *raster.Band) Policy {
	if p.ScaleFactor == 0 && b.ScalingFactor != 0 {
		p.ScaleFactor = b.ScalingFactor
	}
	return p
}

// Legacy policy: plain subtraction, which may produce negative values
type DirectPolicy struct{}

func (DirectPolicy) Name() string { return PolicyDirect }

func (DirectPolicy) Apply(sample, baseline float64) float64 { return sample - baseline }

// Returns the policy with the given name, case-insensitively. An empty name selects the floor policy
func ParsePolicy(name string, clampMin float64) (Policy, error) {
	switch strings.ToLower(name) {
	case "", strings.ToLower(PolicyFloor):
		return FloorPolicy{}, nil
	case strings.ToLower(PolicyClampRescale):
		return ClampRescalePolicy{ClampMin: clampMin}, nil
	case strings.ToLower(PolicyDirect):
		return DirectPolicy{}, nil
	}
	return nil, configError("unknown subtraction policy '%s', want %s, %s or %s", name, PolicyFloor, PolicyClampRescale, PolicyDirect)
}

// Describes a policy for log output
func describePolicy(p Policy) string {
	if c, ok := p.(ClampRescalePolicy); ok {
		return fmt.Sprintf("%s(clampMin=%g, scale=%g)", c.Name(), c.ClampMin, c.ScaleFactor)
	}
	return p.Name()
}
