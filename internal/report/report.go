// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package report carries analysis results off the node: JSON documents over
// MQTT and a human-readable block over a serial line.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/vibration_node/internal/vibration"
)

// Report is the per-window result document.
type Report struct {
	ID                 uuid.UUID          `json:"id"`
	Address            uint8              `json:"address"`
	Sequence           uint64             `json:"seq"`
	Timestamp          time.Time          `json:"timestamp"`
	SampleRateHz       int                `json:"sample_rate_hz"`
	WindowPoints       int                `json:"window_points"`
	Features           vibration.Features `json:"features"`
	CalibrationOffsetG float64            `json:"calibration_offset_g"`
	GravityBiasG       float64            `json:"gravity_bias_g"`
}

// Waveform is a DC-removed Z-axis window captured on request.
type Waveform struct {
	ID           uuid.UUID `json:"id"`
	Address      uint8     `json:"address"`
	Sequence     uint64    `json:"seq"`
	Timestamp    time.Time `json:"timestamp"`
	SampleRateHz int       `json:"sample_rate_hz"`
	Z            []float64 `json:"z"`
}

// Command actions accepted on the command topic.
const (
	ActionSnapshot  = "snapshot"
	ActionReset     = "reset"
	ActionCalibrate = "calibrate"
)

// Command is a request sent to the node.
type Command struct {
	Action  string   `json:"action"`
	TargetG *float64 `json:"target_g,omitempty"`
}

// CalibrationResult answers a calibrate command.
type CalibrationResult struct {
	Address   uint8     `json:"address"`
	Sequence  uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	TargetG   float64   `json:"target_g"`
	MeasuredG float64   `json:"measured_g"`
	OffsetG   float64   `json:"offset_g"`
	DeltaG    float64   `json:"delta_g"`
	Samples   int       `json:"samples"`
}

// Topics are the MQTT topics of one node.
type Topics struct {
	Features    string
	Waveform    string
	Command     string
	Calibration string
}

// NewTopics builds the topic set <prefix>/<address>/{features,waveform,cmd,calibration}.
func NewTopics(prefix string, address uint8) Topics {
	base := fmt.Sprintf("%s/%d", strings.TrimSuffix(prefix, "/"), address)
	return Topics{
		Features:    base + "/features",
		Waveform:    base + "/waveform",
		Command:     base + "/cmd",
		Calibration: base + "/calibration",
	}
}

// FormatText renders r as the multi-line block printed on the serial console.
func FormatText(r Report) string {
	f := r.Features
	var b strings.Builder
	fmt.Fprintf(&b, "========== Vibration Analysis Result ==========\r\n")
	fmt.Fprintf(&b, "Node %d  Window #%d  %s\r\n", r.Address, r.Sequence, r.Timestamp.Format(time.RFC3339))
	axis := func(name string, a vibration.AxisFeatures) {
		fmt.Fprintf(&b, "[%s-Axis] Mean = %6.3f g   RMS = %6.3f g\r\n", name, a.Mean, a.RMS)
		fmt.Fprintf(&b, "         P-P  = %6.3f g   Kurt= %6.3f\r\n", a.PeakToPeak, a.Kurtosis)
	}
	axis("X", f.X)
	axis("Y", f.Y)
	axis("Z", f.Z.AxisFeatures)
	fmt.Fprintf(&b, "         Mean (gravity compensated) = %6.3f g\r\n", f.Z.GravityCompensatedMean)
	fmt.Fprintf(&b, "[Z-Freq] Main Freq = %5.1f Hz   Peak Amp = %.4f g\r\n", f.Z.PeakFrequency, f.Z.PeakAmplitude)
	fmt.Fprintf(&b, "         2x Amp    = %.4f g\r\n", f.Z.SecondHarmonicAmplitude)
	fmt.Fprintf(&b, "[Z-Enve] Env Vrms  = %.3f g     Env Peak = %.3f g\r\n", f.Z.EnvelopeRMS, f.Z.EnvelopePeak)
	fmt.Fprintf(&b, "[Z-Vel ] Vrms      = %.3f mm/s\r\n", f.Z.VelocityRMS)
	fmt.Fprintf(&b, "[Cal   ] Offset    = %+.4f g   Bias = %+.1f g\r\n", r.CalibrationOffsetG, r.GravityBiasG)
	fmt.Fprintf(&b, "===============================================\r\n\r\n")
	return b.String()
}
