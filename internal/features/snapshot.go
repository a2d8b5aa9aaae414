// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package features

import (
	"sync"
	"sync/atomic"
)

// Snapshot holds the most recently requested de-trended Z waveform (g).
// The engine writes it, telemetry readers copy it out; neither blocks
// acquisition.
type Snapshot struct {
	requested atomic.Bool
	captures  atomic.Uint64

	mu   sync.RWMutex
	data []float64
}

// NewSnapshot allocates a snapshot buffer of n samples.
func NewSnapshot(n int) *Snapshot {
	return &Snapshot{data: make([]float64, n)}
}

// Request arms a one-shot capture of the next analysed window.
func (s *Snapshot) Request() { s.requested.Store(true) }

// Pending reports whether a capture is armed.
func (s *Snapshot) Pending() bool { return s.requested.Load() }

// Captures counts completed captures.
func (s *Snapshot) Captures() uint64 { return s.captures.Load() }

// Read copies the waveform into dst (grown if needed) and returns it.
func (s *Snapshot) Read(dst []float64) []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cap(dst) < len(s.data) {
		dst = make([]float64, len(s.data))
	}
	dst = dst[:len(s.data)]
	copy(dst, s.data)
	return dst
}

// capture copies src when a request is armed and clears the request.
func (s *Snapshot) capture(src []float64) bool {
	if !s.requested.Swap(false) {
		return false
	}
	s.mu.Lock()
	if len(s.data) != len(src) {
		s.data = make([]float64, len(src))
	}
	copy(s.data, src)
	s.mu.Unlock()
	s.captures.Add(1)
	return true
}
