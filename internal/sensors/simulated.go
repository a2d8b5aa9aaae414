// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/relabs-tech/vibration_node/internal/acquisition"
	"github.com/relabs-tech/vibration_node/internal/vibration"
)

// Tone is one sinusoidal component of a simulated axis, in g.
type Tone struct {
	FrequencyHz float64
	AmplitudeG  float64
}

// SimulatedOptions describes the synthetic machine.
type SimulatedOptions struct {
	SampleRateHz       float64
	SensitivityLSBPerG float64
	Watermark          int

	Tones     [vibration.AxisCount][]Tone
	GravityG  float64 // added to Z
	ImpulseG  float64 // bearing-fault style impulse height on Z
	ImpulseHz float64 // impulse repetition rate; 0 disables impulses
}

// DefaultSimulatedOptions is a 25 Hz shaft with a 2x harmonic resting upright.
func DefaultSimulatedOptions() SimulatedOptions {
	return SimulatedOptions{
		SampleRateHz:       25600,
		SensitivityLSBPerG: 512,
		Watermark:          32,
		Tones: [vibration.AxisCount][]Tone{
			{{FrequencyHz: 25, AmplitudeG: 0.05}},
			{{FrequencyHz: 25, AmplitudeG: 0.04}},
			{{FrequencyHz: 150, AmplitudeG: 0.3}, {FrequencyHz: 300, AmplitudeG: 0.1}},
		},
		GravityG:  -1,
		ImpulseG:  0.8,
		ImpulseHz: 87,
	}
}

// Simulated implements acquisition.Driver and acquisition.ReadySource with
// synthetic samples. The sample clock only advances on completed transfers.
type Simulated struct {
	opts  SimulatedOptions
	ready *acquisition.Notifier

	mu     sync.Mutex
	t      int64
	stall  int
	aborts int
	reads  int
}

// NewSimulated returns a simulated sensor.
func NewSimulated(opts SimulatedOptions) *Simulated {
	if opts.SampleRateHz <= 0 {
		opts.SampleRateHz = 25600
	}
	if opts.SensitivityLSBPerG <= 0 {
		opts.SensitivityLSBPerG = 512
	}
	if opts.Watermark <= 0 {
		opts.Watermark = 32
	}
	return &Simulated{opts: opts, ready: acquisition.NewNotifier()}
}

// Run raises readiness every watermark period until ctx is cancelled.
func (s *Simulated) Run(ctx context.Context) error {
	period := time.Duration(float64(time.Second) * float64(s.opts.Watermark) / s.opts.SampleRateHz)
	if period <= 0 {
		period = time.Millisecond
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.ready.Give()
		}
	}
}

// Signal raises readiness once.
func (s *Simulated) Signal() { s.ready.Give() }

// Ready implements acquisition.ReadySource.
func (s *Simulated) Ready() <-chan struct{} { return s.ready.Ready() }

// StallNext makes the next n transfers hang until aborted.
func (s *Simulated) StallNext(n int) {
	s.mu.Lock()
	s.stall = n
	s.mu.Unlock()
}

// Aborts returns how many times Abort was called.
func (s *Simulated) Aborts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborts
}

// StartBurstRead implements acquisition.Driver.
func (s *Simulated) StartBurstRead(dst []vibration.Sample) (acquisition.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.stall > 0 {
		s.stall--
		return make(transfer), nil
	}
	for i := range dst {
		dst[i] = s.sampleAt(s.t)
		s.t++
	}
	return acquisition.CompletedTransfer(nil), nil
}

// Abort implements acquisition.Driver.
func (s *Simulated) Abort() error {
	s.mu.Lock()
	s.aborts++
	s.mu.Unlock()
	return nil
}

func (s *Simulated) sampleAt(t int64) vibration.Sample {
	sec := float64(t) / s.opts.SampleRateHz
	var out vibration.Sample
	for axis := range vibration.AxisCount {
		var g float64
		for _, tone := range s.opts.Tones[axis] {
			g += tone.AmplitudeG * math.Sin(2*math.Pi*tone.FrequencyHz*sec)
		}
		if vibration.Axis(axis) == vibration.AxisZ {
			g += s.opts.GravityG + s.impulse(t)
		}
		out[axis] = toCounts(g, s.opts.SensitivityLSBPerG)
	}
	return out
}

// impulse is a decaying ringdown that restarts every 1/ImpulseHz seconds.
func (s *Simulated) impulse(t int64) float64 {
	if s.opts.ImpulseHz <= 0 || s.opts.ImpulseG == 0 {
		return 0
	}
	period := s.opts.SampleRateHz / s.opts.ImpulseHz
	k := math.Mod(float64(t), period)
	return s.opts.ImpulseG * math.Exp(-k/4)
}

func toCounts(g, lsbPerG float64) int16 {
	v := math.Round(g * lsbPerG)
	return int16(max(math.MinInt16, min(math.MaxInt16, v)))
}
