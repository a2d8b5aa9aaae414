// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/relabs-tech/vibration_node/internal/features"
	"github.com/relabs-tech/vibration_node/internal/report"
)

// ErrNotConverged is returned when calibration used all its steps without
// the correction falling under tolerance.
var ErrNotConverged = errors.New("calibration did not converge")

// CalibrationParams controls a guided calibration run.
type CalibrationParams struct {
	TargetG     float64       `json:"target_g"`
	ToleranceG  float64       `json:"tolerance_g"`
	MaxSteps    int           `json:"max_steps"`
	StepTimeout time.Duration `json:"-"`
}

// DefaultCalibrationParams targets an upright sensor at rest.
func DefaultCalibrationParams() CalibrationParams {
	return CalibrationParams{
		TargetG:     features.UprightTargetG,
		ToleranceG:  0.001,
		MaxSteps:    10,
		StepTimeout: 5 * time.Second,
	}
}

func (p CalibrationParams) withDefaults() CalibrationParams {
	d := DefaultCalibrationParams()
	if p.ToleranceG <= 0 {
		p.ToleranceG = d.ToleranceG
	}
	if p.MaxSteps <= 0 {
		p.MaxSteps = d.MaxSteps
	}
	if p.StepTimeout <= 0 {
		p.StepTimeout = d.StepTimeout
	}
	return p
}

// RunCalibration repeatedly asks the node for a calibration step until the
// per-step correction is below tolerance. onStep, if set, sees every result.
func RunCalibration(
	ctx context.Context,
	send func(report.Command) error,
	results <-chan report.CalibrationResult,
	params CalibrationParams,
	onStep func(step int, r report.CalibrationResult),
) (report.CalibrationResult, error) {
	params = params.withDefaults()
	var last report.CalibrationResult

	for step := 1; step <= params.MaxSteps; step++ {
		target := params.TargetG
		if err := send(report.Command{Action: report.ActionCalibrate, TargetG: &target}); err != nil {
			return last, fmt.Errorf("calibration step %d: %w", step, err)
		}

		timer := time.NewTimer(params.StepTimeout)
		select {
		case <-ctx.Done():
			timer.Stop()
			return last, ctx.Err()
		case <-timer.C:
			return last, fmt.Errorf("calibration step %d: no result within %s", step, params.StepTimeout)
		case last = <-results:
			timer.Stop()
		}

		if onStep != nil {
			onStep(step, last)
		}
		if math.Abs(last.DeltaG) < params.ToleranceG {
			return last, nil
		}
	}
	return last, ErrNotConverged
}
