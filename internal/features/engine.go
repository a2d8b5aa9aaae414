// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package features converts one raw window into vibration health indicators.
//
// Every Z-axis stage re-reads the raw window into the same scratch buffer
// instead of keeping several float copies, so an Engine holds exactly one
// window-sized scratch slice plus the FFT workspace.
package features

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/relabs-tech/vibration_node/internal/vibration"
)

const (
	// GravityBiasG is the fixed Z reading of an upright sensor at rest.
	GravityBiasG = -1.0

	// MillimetresPerSecondSquaredPerG converts g to mm/s².
	MillimetresPerSecondSquaredPerG = 9806.65

	// PeakSearchStartBin skips DC leakage and low-frequency interference.
	PeakSearchStartBin = 6

	flatVariance = 1e-9
)

// Config fixes the window geometry for an Engine.
type Config struct {
	SampleRateHz       float64
	SensitivityLSBPerG float64
}

// Engine runs the per-window pipeline. It is not safe for concurrent use;
// one analysis goroutine owns it.
type Engine struct {
	rate     float64
	gPerLSB  float64
	snapshot *Snapshot

	n     int
	buf   []float64
	fft   *fourier.FFT
	coeff []complex128
}

// NewEngine sizes the engine for windows of n samples. snapshot may be nil.
func NewEngine(n int, cfg Config, snapshot *Snapshot) (*Engine, error) {
	if n <= 0 {
		return nil, fmt.Errorf("features: window length must be positive, got %d", n)
	}
	if cfg.SampleRateHz <= 0 {
		return nil, fmt.Errorf("features: sample rate must be positive, got %g", cfg.SampleRateHz)
	}
	if cfg.SensitivityLSBPerG <= 0 {
		return nil, fmt.Errorf("features: sensitivity must be positive, got %g", cfg.SensitivityLSBPerG)
	}
	e := &Engine{
		rate:     cfg.SampleRateHz,
		gPerLSB:  1 / cfg.SensitivityLSBPerG,
		snapshot: snapshot,
	}
	e.resize(n)
	return e, nil
}

func (e *Engine) resize(n int) {
	e.n = n
	e.buf = make([]float64, n)
	e.fft = fourier.NewFFT(n)
	e.coeff = make([]complex128, n/2+1)
}

// Extract computes the features of w. Every field of the result is written
// on each call; nothing carries over from a previous window.
func (e *Engine) Extract(w vibration.RawView) vibration.Features {
	var out vibration.Features
	if w == nil || w.Len() == 0 {
		return out
	}
	if w.Len() != e.n {
		e.resize(w.Len())
	}

	e.load(w, vibration.AxisX)
	out.X = timeDomain(e.buf)
	e.load(w, vibration.AxisY)
	out.Y = timeDomain(e.buf)

	z := &out.Z
	e.load(w, vibration.AxisZ)
	z.AxisFeatures = timeDomain(e.buf)
	z.GravityCompensatedMean = z.Mean - GravityBiasG

	removeDC(e.buf)
	if e.snapshot != nil {
		e.snapshot.capture(e.buf)
	}
	e.spectrum(z)

	e.load(w, vibration.AxisZ)
	removeDC(e.buf)
	rectify(e.buf)
	z.EnvelopeRMS, z.EnvelopePeak = envelope(e.buf)

	e.load(w, vibration.AxisZ)
	removeDC(e.buf)
	integrateVelocity(e.buf, 1/e.rate)
	z.VelocityRMS = rms(e.buf)

	return out
}

// load de-interleaves one axis into the scratch buffer, converted to g.
func (e *Engine) load(w vibration.RawView, axis vibration.Axis) {
	for i := range e.buf {
		e.buf[i] = float64(w.At(i, axis)) * e.gPerLSB
	}
}

// spectrum finds the dominant bin of the DC-removed Z buffer.
func (e *Engine) spectrum(z *vibration.ZAxisFeatures) {
	e.coeff = e.fft.Coefficients(e.coeff, e.buf)

	half := e.n / 2
	norm := 2 / float64(e.n)
	var peakAmp float64
	peakIdx := 0
	for i := PeakSearchStartBin; i < half; i++ {
		mag := cmplx.Abs(e.coeff[i]) * norm
		if mag > peakAmp {
			peakAmp = mag
			peakIdx = i
		}
	}

	z.PeakFrequency = 0
	z.PeakAmplitude = 0
	z.SecondHarmonicAmplitude = 0
	if peakIdx == 0 {
		return
	}
	z.PeakFrequency = float64(peakIdx) * e.rate / float64(e.n)
	z.PeakAmplitude = peakAmp
	if h := 2 * peakIdx; h < half {
		z.SecondHarmonicAmplitude = cmplx.Abs(e.coeff[h]) * norm
	}
}

// Magnitudes writes the normalised one-sided magnitude spectrum of data into
// dst (len(data)/2 bins): bin 0 scaled by 1/N, the rest by 2/N.
func Magnitudes(dst, data []float64) []float64 {
	n := len(data)
	coeff := fourier.NewFFT(n).Coefficients(nil, data)
	half := n / 2
	if cap(dst) < half {
		dst = make([]float64, half)
	}
	dst = dst[:half]
	for i := range dst {
		scale := 2 / float64(n)
		if i == 0 {
			scale = 1 / float64(n)
		}
		dst[i] = cmplx.Abs(coeff[i]) * scale
	}
	return dst
}

// timeDomain computes mean, RMS (including DC), peak-to-peak and kurtosis.
func timeDomain(data []float64) vibration.AxisFeatures {
	if len(data) == 0 {
		return vibration.AxisFeatures{}
	}
	n := float64(len(data))
	var sum, sumSq float64
	lo, hi := data[0], data[0]
	for _, v := range data {
		sum += v
		sumSq += v * v
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	mean := sum / n

	var m2, m4 float64
	for _, v := range data {
		d := v - mean
		d2 := d * d
		m2 += d2
		m4 += d2 * d2
	}
	var kurt float64
	if m2 > flatVariance {
		kurt = n * m4 / (m2 * m2)
	}

	return vibration.AxisFeatures{
		Mean:       mean,
		RMS:        math.Sqrt(sumSq / n),
		PeakToPeak: hi - lo,
		Kurtosis:   kurt,
	}
}

func removeDC(data []float64) {
	if len(data) == 0 {
		return
	}
	var sum float64
	for _, v := range data {
		sum += v
	}
	mean := sum / float64(len(data))
	for i := range data {
		data[i] -= mean
	}
}

func rectify(data []float64) {
	for i, v := range data {
		data[i] = math.Abs(v)
	}
}

func envelope(data []float64) (rmsVal, peak float64) {
	if len(data) == 0 {
		return 0, 0
	}
	var sumSq float64
	for _, v := range data {
		sumSq += v * v
		peak = math.Max(peak, v)
	}
	return math.Sqrt(sumSq / float64(len(data))), peak
}

// integrateVelocity turns acceleration in g into velocity in mm/s with the
// trapezoidal rule, then removes the integration drift.
func integrateVelocity(data []float64, dt float64) {
	if len(data) == 0 {
		return
	}
	var vel float64
	prev := data[0]
	for i, cur := range data {
		vel += (prev + cur) * 0.5 * dt * MillimetresPerSecondSquaredPerG
		prev = cur
		data[i] = vel
	}
	removeDC(data)
}

func rms(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	var sumSq float64
	for _, v := range data {
		sumSq += v * v
	}
	return math.Sqrt(sumSq / float64(len(data)))
}

// AxisG converts one axis of w to g. It allocates and is meant for
// calibration capture, not the per-window pipeline.
func AxisG(w vibration.RawView, axis vibration.Axis, sensitivityLSBPerG float64) []float64 {
	if w == nil || sensitivityLSBPerG <= 0 {
		return nil
	}
	out := make([]float64, w.Len())
	for i := range out {
		out[i] = float64(w.At(i, axis)) / sensitivityLSBPerG
	}
	return out
}
