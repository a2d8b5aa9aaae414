// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package vibration

// AxisFeatures are the time-domain statistics computed for every axis.
// Values are in g.
type AxisFeatures struct {
	Mean       float64 `json:"mean"`
	RMS        float64 `json:"rms"` // includes the DC component
	PeakToPeak float64 `json:"pp"`
	Kurtosis   float64 `json:"kurtosis"`
}

// ZAxisFeatures extends the Z axis with spectral, envelope and velocity indicators.
type ZAxisFeatures struct {
	AxisFeatures

	// GravityCompensatedMean is Mean with the fixed 1 g bias of an upright sensor removed.
	GravityCompensatedMean float64 `json:"mean_gravity_removed"`

	PeakFrequency           float64 `json:"peak_freq_hz"`
	PeakAmplitude           float64 `json:"peak_amp"`
	SecondHarmonicAmplitude float64 `json:"amp_2x"`

	EnvelopeRMS  float64 `json:"envelope_rms"`
	EnvelopePeak float64 `json:"envelope_peak"`

	// VelocityRMS is the RMS of the integrated, drift-removed velocity in mm/s.
	VelocityRMS float64 `json:"velocity_rms_mm_s"`
}

// Features is the full result for one analysis window.
type Features struct {
	X AxisFeatures  `json:"x"`
	Y AxisFeatures  `json:"y"`
	Z ZAxisFeatures `json:"z"`
}
