// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package features

import (
	"math"
	"sync/atomic"
)

// UprightTargetG is the expected Z reading with the sensor held upright.
const UprightTargetG = -1.0

// Calibration accumulates the Z gravity offset correction across runs.
// It is not consulted by Engine; callers read Offset explicitly.
type Calibration struct {
	bits atomic.Uint64
}

// Offset returns the accumulated correction in g.
func (c *Calibration) Offset() float64 {
	return math.Float64frombits(c.bits.Load())
}

// Reset clears the accumulated correction.
func (c *Calibration) Reset() { c.bits.Store(0) }

// Apply adds mean(samples)-targetG to the running offset and returns the new
// offset. An empty buffer leaves the offset unchanged.
func (c *Calibration) Apply(samples []float64, targetG float64) float64 {
	if len(samples) == 0 {
		return c.Offset()
	}
	var sum float64
	for _, v := range samples {
		sum += v
	}
	delta := sum/float64(len(samples)) - targetG

	for {
		old := c.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if c.bits.CompareAndSwap(old, next) {
			return math.Float64frombits(next)
		}
	}
}
