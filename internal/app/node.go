// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/vibration_node/internal/acquisition"
	"github.com/relabs-tech/vibration_node/internal/config"
	"github.com/relabs-tech/vibration_node/internal/features"
	"github.com/relabs-tech/vibration_node/internal/metrics"
	"github.com/relabs-tech/vibration_node/internal/report"
	"github.com/relabs-tech/vibration_node/internal/vibration"
)

// ReportSink receives one report per analysed window.
type ReportSink interface {
	Publish(r report.Report) error
}

// Telemetry is the node's outbound channel for reports, waveforms and
// calibration results.
type Telemetry interface {
	ReportSink
	PublishWaveform(w report.Waveform) error
	PublishCalibration(c report.CalibrationResult) error
}

// NodeOptions configures a Node.
type NodeOptions struct {
	Profile            config.DeviceProfile
	SensitivityLSBPerG float64
	Telemetry          Telemetry  // optional
	Serial             ReportSink // optional
	Metrics            *metrics.Metrics
	Logger             *slog.Logger
}

// Node owns the analysis side of the pipeline: it consumes windows from the
// acquisition manager, extracts features, and hands results to the sinks.
type Node struct {
	opts     NodeOptions
	manager  *acquisition.Manager
	engine   *features.Engine
	snapshot *features.Snapshot
	cal      features.Calibration
	log      *slog.Logger

	calMu     sync.Mutex
	calTarget *float64

	waveBuf []float64
	latest  atomic.Pointer[report.Report]
}

// NewNode builds the analysis side for the windows produced by manager.
func NewNode(manager *acquisition.Manager, opts NodeOptions) (*Node, error) {
	if manager == nil {
		return nil, errors.New("node: acquisition manager is required")
	}
	if err := opts.Profile.Validate(); err != nil {
		return nil, fmt.Errorf("node: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	snapshot := features.NewSnapshot(opts.Profile.WindowPoints)
	engine, err := features.NewEngine(opts.Profile.WindowPoints, features.Config{
		SampleRateHz:       float64(opts.Profile.SampleRateHz),
		SensitivityLSBPerG: opts.SensitivityLSBPerG,
	}, snapshot)
	if err != nil {
		return nil, fmt.Errorf("node: %w", err)
	}
	return &Node{
		opts:     opts,
		manager:  manager,
		engine:   engine,
		snapshot: snapshot,
		log:      logger,
		waveBuf:  make([]float64, opts.Profile.WindowPoints),
	}, nil
}

// Run drives acquisition and analysis until ctx is cancelled.
func (n *Node) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.manager.Run(gctx) })
	g.Go(func() error {
		n.analyze()
		return nil
	})
	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// Latest returns the most recent report, or nil before the first window.
func (n *Node) Latest() *report.Report { return n.latest.Load() }

// CalibrationOffset returns the accumulated Z calibration offset.
func (n *Node) CalibrationOffset() float64 { return n.cal.Offset() }

// analyze consumes windows until the manager closes its channel.
func (n *Node) analyze() {
	for lease := range n.manager.Windows() {
		n.process(lease)
	}
	n.log.Info("node: analysis stopped")
}

func (n *Node) process(lease *acquisition.Lease) {
	start := time.Now()
	window := lease.Window()
	captures := n.snapshot.Captures()

	feat := n.engine.Extract(window)
	calResult := n.calibrateIfRequested(window, lease.Sequence)
	lease.Release()

	elapsed := time.Since(start)
	n.opts.Metrics.ObserveAnalysis(elapsed, feat)

	r := report.Report{
		ID:                 uuid.New(),
		Address:            n.opts.Profile.Address,
		Sequence:           lease.Sequence,
		Timestamp:          time.Now().UTC(),
		SampleRateHz:       n.opts.Profile.SampleRateHz,
		WindowPoints:       n.opts.Profile.WindowPoints,
		Features:           feat,
		CalibrationOffsetG: n.cal.Offset(),
		GravityBiasG:       features.GravityBiasG,
	}
	n.latest.Store(&r)
	n.log.Debug("node: window analysed", "seq", r.Sequence, "elapsed", elapsed,
		"z_velocity_rms", feat.Z.VelocityRMS, "z_peak_hz", feat.Z.PeakFrequency)

	n.deliver("mqtt", n.opts.Telemetry, r)
	n.deliver("serial", n.opts.Serial, r)

	if n.snapshot.Captures() != captures && n.opts.Telemetry != nil {
		n.waveBuf = n.snapshot.Read(n.waveBuf)
		w := report.Waveform{
			ID:           uuid.New(),
			Address:      r.Address,
			Sequence:     r.Sequence,
			Timestamp:    r.Timestamp,
			SampleRateHz: r.SampleRateHz,
			Z:            n.waveBuf,
		}
		if err := n.opts.Telemetry.PublishWaveform(w); err != nil {
			n.log.Warn("node: waveform publish failed", "err", err)
			n.opts.Metrics.ReportFailed("waveform")
		} else {
			n.opts.Metrics.SnapshotPublished()
		}
	}

	if calResult != nil {
		n.opts.Metrics.SetCalibrationOffset(calResult.OffsetG)
		if n.opts.Telemetry != nil {
			if err := n.opts.Telemetry.PublishCalibration(*calResult); err != nil {
				n.log.Warn("node: calibration publish failed", "err", err)
			}
		}
	}
}

func (n *Node) deliver(name string, sink ReportSink, r report.Report) {
	if sink == nil {
		return
	}
	if err := sink.Publish(r); err != nil {
		n.log.Warn("node: report delivery failed", "sink", name, "err", err)
		n.opts.Metrics.ReportFailed(name)
	}
}

// calibrateIfRequested runs one calibration step on the Z samples of window.
// Samples are corrected by the current offset first, so repeated steps
// drive the residual towards zero.
func (n *Node) calibrateIfRequested(window vibration.RawView, seq uint64) *report.CalibrationResult {
	n.calMu.Lock()
	target := n.calTarget
	n.calTarget = nil
	n.calMu.Unlock()
	if target == nil {
		return nil
	}

	samples := features.AxisG(window, vibration.AxisZ, n.opts.SensitivityLSBPerG)
	before := n.cal.Offset()
	var sum float64
	for i := range samples {
		samples[i] -= before
		sum += samples[i]
	}
	offset := n.cal.Apply(samples, *target)

	var measured float64
	if len(samples) > 0 {
		measured = sum / float64(len(samples))
	}
	n.log.Info("node: calibration step", "target_g", *target, "measured_g", measured,
		"offset_g", offset, "delta_g", offset-before)
	return &report.CalibrationResult{
		Address:   n.opts.Profile.Address,
		Sequence:  seq,
		Timestamp: time.Now().UTC(),
		TargetG:   *target,
		MeasuredG: measured,
		OffsetG:   offset,
		DeltaG:    offset - before,
		Samples:   len(samples),
	}
}

// HandleCommand applies one command. Snapshot and reset take effect at the
// next window or acquisition cycle; calibrate uses the next published window.
// Calibration measures samples already corrected by the current offset, so
// each calibrate sets the offset to raw mean minus target: repeating it with
// the same target is effectively idempotent and only the reported delta
// shrinks towards zero.
func (n *Node) HandleCommand(cmd report.Command) error {
	switch cmd.Action {
	case report.ActionSnapshot:
		n.snapshot.Request()
	case report.ActionReset:
		n.manager.RequestReset()
	case report.ActionCalibrate:
		target := features.UprightTargetG
		if cmd.TargetG != nil {
			target = *cmd.TargetG
		}
		if math.IsNaN(target) || math.IsInf(target, 0) {
			return fmt.Errorf("invalid calibration target %v", target)
		}
		n.calMu.Lock()
		n.calTarget = &target
		n.calMu.Unlock()
	default:
		return fmt.Errorf("unknown action %q", cmd.Action)
	}
	n.log.Info("node: command accepted", "action", cmd.Action)
	return nil
}

// HandleMessage is an MQTT handler for the command topic.
func (n *Node) HandleMessage(_ mqtt.Client, msg mqtt.Message) {
	var cmd report.Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		n.log.Warn("node: command unmarshal error", "err", err)
		return
	}
	if err := n.HandleCommand(cmd); err != nil {
		n.log.Warn("node: command rejected", "err", err)
	}
}
