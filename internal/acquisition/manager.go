// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package acquisition turns watermark-sized burst transfers into complete
// analysis windows using two alternating raw buffers.
package acquisition

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Options configures a Manager.
type Options struct {
	WindowLen       int           // samples per window (N)
	Watermark       int           // samples per burst read
	TransferTimeout time.Duration // bound on a single burst read
	Logger          *slog.Logger
}

// Stats are cumulative counters since the manager was created.
type Stats struct {
	Transfers      uint64 `json:"transfers"`
	TransferFaults uint64 `json:"transfer_faults"`
	Published      uint64 `json:"published"`
	Resets         uint64 `json:"resets"`
	Overruns       uint64 `json:"overruns"`
}

// Manager drives the acquisition state machine:
// wait for readiness, transfer one watermark into the write window, publish
// on completion.
type Manager struct {
	opts   Options
	driver Driver
	ready  ReadySource
	log    *slog.Logger

	pp      *pingPong
	leases  chan *Lease
	resetRq atomic.Bool
	seq     uint64

	transfers atomic.Uint64
	faults    atomic.Uint64
	published atomic.Uint64
	resets    atomic.Uint64
	overruns  atomic.Uint64
}

// NewManager validates opts and allocates both windows.
func NewManager(driver Driver, ready ReadySource, opts Options) (*Manager, error) {
	if driver == nil || ready == nil {
		return nil, fmt.Errorf("acquisition: driver and ready source are required")
	}
	if opts.WindowLen <= 0 {
		return nil, fmt.Errorf("acquisition: window length must be positive, got %d", opts.WindowLen)
	}
	if opts.Watermark <= 0 || opts.Watermark > opts.WindowLen {
		return nil, fmt.Errorf("acquisition: watermark must be in 1..%d, got %d", opts.WindowLen, opts.Watermark)
	}
	if opts.TransferTimeout <= 0 {
		return nil, fmt.Errorf("acquisition: transfer timeout must be positive")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.WindowLen%opts.Watermark != 0 {
		logger.Warn("acquisition: watermark does not divide window length, last chunk is short",
			"window", opts.WindowLen, "watermark", opts.Watermark)
	}
	return &Manager{
		opts:   opts,
		driver: driver,
		ready:  ready,
		log:    logger,
		pp:     newPingPong(opts.WindowLen),
		leases: make(chan *Lease, 1),
	}, nil
}

// Windows delivers one lease per published window. It is closed when Run returns.
// A window completed while the previous lease is still held is dropped and
// counted as an overrun, so a slow consumer sees fewer than one lease every
// ceil(WindowLen/Watermark) completed transfers.
func (m *Manager) Windows() <-chan *Lease { return m.leases }

// RequestReset asks the acquisition loop to discard the partially filled
// window at its next cycle. Published windows are never affected.
func (m *Manager) RequestReset() { m.resetRq.Store(true) }

// State returns the current role bookkeeping.
func (m *Manager) State() RoleState { return m.pp.snapshot() }

// Stats returns the cumulative counters.
func (m *Manager) Stats() Stats {
	return Stats{
		Transfers:      m.transfers.Load(),
		TransferFaults: m.faults.Load(),
		Published:      m.published.Load(),
		Resets:         m.resets.Load(),
		Overruns:       m.overruns.Load(),
	}
}

// Run blocks until ctx is cancelled. It must be called at most once.
func (m *Manager) Run(ctx context.Context) error {
	defer close(m.leases)
	m.log.Info("acquisition: started",
		"window", m.opts.WindowLen, "watermark", m.opts.Watermark, "timeout", m.opts.TransferTimeout)

	for {
		m.pollReset()

		select {
		case <-ctx.Done():
			m.log.Info("acquisition: stopped", "published", m.published.Load())
			return ctx.Err()
		case <-m.ready.Ready():
		}

		m.cycle(ctx)
	}
}

// cycle handles one readiness notification.
func (m *Manager) cycle(ctx context.Context) {
	m.pollReset()

	state := m.pp.snapshot()
	from := state.FillOffset
	to := min(from+m.opts.Watermark, m.opts.WindowLen)
	dst := m.pp.writeWindow().Span(from, to)

	m.transfers.Add(1)
	tr, err := m.driver.StartBurstRead(dst)
	if err != nil {
		m.fail(from, fmt.Errorf("start burst read: %w", err))
		return
	}

	timer := time.NewTimer(m.opts.TransferTimeout)
	defer timer.Stop()

	select {
	case err := <-tr.Done():
		if err != nil {
			m.fail(from, err)
			return
		}
	case <-timer.C:
		m.fail(from, ErrTransferTimeout)
		return
	case <-ctx.Done():
		if err := m.driver.Abort(); err != nil {
			m.log.Warn("acquisition: abort on shutdown failed", "err", err)
		}
		return
	}

	m.advance(from + m.opts.Watermark)
}

// fail releases the bus and leaves the fill offset untouched so the same
// chunk is retried on the next readiness notification.
func (m *Manager) fail(offset int, cause error) {
	m.faults.Add(1)
	if err := m.driver.Abort(); err != nil {
		m.log.Warn("acquisition: abort failed", "err", err)
	}
	m.log.Warn("acquisition: transfer failed, retrying on next signal", "offset", offset, "err", cause)
}

func (m *Manager) advance(fill int) {
	if fill < m.opts.WindowLen {
		m.pp.setFill(fill)
		return
	}

	if m.pp.leased.Load() {
		// The reader still holds the other buffer; refill this one instead.
		m.overruns.Add(1)
		m.pp.setFill(0)
		m.log.Warn("acquisition: analysis still busy, window dropped", "write_index", m.pp.snapshot().WriteIndex)
		return
	}

	m.pp.leased.Store(true)
	readIndex := m.pp.swap()
	m.seq++
	lease := &Lease{
		Index:    readIndex,
		Sequence: m.seq,
		window:   m.pp.windows[readIndex],
		owner:    m.pp,
	}
	m.published.Add(1)

	select {
	case m.leases <- lease:
		m.log.Debug("acquisition: window published", "seq", lease.Sequence, "read_index", readIndex)
	default:
		// Unreachable while leases are only released after being received.
		lease.Release()
		m.log.Error("acquisition: window channel full, lease released", "seq", lease.Sequence)
	}
}

func (m *Manager) pollReset() {
	if !m.resetRq.Swap(false) {
		return
	}
	m.pp.writeWindow().Clear()
	m.pp.setFill(0)
	m.resets.Add(1)
	m.log.Info("acquisition: reset applied, partial window discarded")
}
