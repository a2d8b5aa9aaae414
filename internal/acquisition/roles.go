// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package acquisition

import (
	"sync"
	"sync/atomic"

	"github.com/relabs-tech/vibration_node/internal/vibration"
)

// RoleState is a point-in-time copy of the ping/pong bookkeeping.
type RoleState struct {
	WriteIndex int `json:"write_index"`
	ReadIndex  int `json:"read_index"`
	FillOffset int `json:"fill_offset"`
}

// pingPong owns the two raw windows. Only the acquisition goroutine mutates
// it; State copies are taken under mu.
type pingPong struct {
	mu      sync.Mutex
	windows [2]*vibration.RawWindow
	state   RoleState

	// leased is true while the read window is held by a consumer.
	leased atomic.Bool
}

func newPingPong(n int) *pingPong {
	return &pingPong{
		windows: [2]*vibration.RawWindow{vibration.NewRawWindow(n), vibration.NewRawWindow(n)},
		state:   RoleState{WriteIndex: 0, ReadIndex: 1},
	}
}

func (p *pingPong) snapshot() RoleState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *pingPong) writeWindow() *vibration.RawWindow {
	return p.windows[p.state.WriteIndex]
}

// swap hands the write window to the reader role and flips the writer onto
// the other buffer. The caller must have checked that no lease is held.
func (p *pingPong) swap() (readIndex int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.ReadIndex = p.state.WriteIndex
	p.state.WriteIndex ^= 1
	p.state.FillOffset = 0
	return p.state.ReadIndex
}

func (p *pingPong) setFill(n int) {
	p.mu.Lock()
	p.state.FillOffset = n
	p.mu.Unlock()
}

// Lease grants read access to one published window until Release.
type Lease struct {
	// Index is the buffer that held the writer role until publication.
	Index int
	// Sequence counts published windows starting at 1.
	Sequence uint64

	window *vibration.RawWindow
	owner  *pingPong
	once   sync.Once
}

// Window returns the published samples. It returns nil after Release.
func (l *Lease) Window() vibration.RawView {
	if l.window == nil {
		return nil
	}
	return l.window
}

// Release returns the read role. Safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.window = nil
		l.owner.leased.Store(false)
	})
}
