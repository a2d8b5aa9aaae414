// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package vibration

// Axis selects one component of a triaxial sample.
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

// AxisCount is the number of interleaved components per sample.
const AxisCount = 3

// BytesPerSample is the wire size of one X/Y/Z triple (three little-endian int16).
const BytesPerSample = 2 * AxisCount

func (a Axis) String() string {
	switch a {
	case AxisX:
		return "x"
	case AxisY:
		return "y"
	case AxisZ:
		return "z"
	default:
		return "?"
	}
}

// Sample is one raw X/Y/Z accelerometer reading in sensor counts.
type Sample [AxisCount]int16

// RawWindow is a fixed-length, sample-major sequence of raw triples.
type RawWindow struct {
	samples []Sample
}

// NewRawWindow allocates a window holding n samples.
func NewRawWindow(n int) *RawWindow {
	return &RawWindow{samples: make([]Sample, n)}
}

// Len returns the number of samples in the window.
func (w *RawWindow) Len() int { return len(w.samples) }

// At returns the reading of one axis at sample index i.
func (w *RawWindow) At(i int, axis Axis) int16 { return w.samples[i][axis] }

// Span returns the writable sub-slice [from, to) used as a transfer destination.
func (w *RawWindow) Span(from, to int) []Sample { return w.samples[from:to] }

// Clear zeroes every sample.
func (w *RawWindow) Clear() { clear(w.samples) }

// RawView is the read-only side of a RawWindow handed to consumers.
type RawView interface {
	Len() int
	At(i int, axis Axis) int16
}

// SliceView adapts a plain sample slice to RawView.
type SliceView []Sample

func (s SliceView) Len() int                  { return len(s) }
func (s SliceView) At(i int, axis Axis) int16 { return s[i][axis] }
