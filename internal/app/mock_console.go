// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/relabs-tech/vibration_node/internal/acquisition"
	"github.com/relabs-tech/vibration_node/internal/config"
	"github.com/relabs-tech/vibration_node/internal/report"
	"github.com/relabs-tech/vibration_node/internal/sensors"
)

// textSink prints each report as the serial text block.
type textSink struct {
	out io.Writer
}

func (s textSink) Publish(r report.Report) error {
	_, err := io.WriteString(s.out, report.FormatText(r))
	return err
}

// RunMockConsole runs the full pipeline against the simulated sensor and
// prints every report to stdout. No broker or hardware is needed.
func RunMockConsole(ctx context.Context, cfg *config.Config) error {
	profile := config.DefaultProfile()
	opts := sensors.DefaultSimulatedOptions()
	opts.SampleRateHz = float64(profile.SampleRateHz)
	opts.SensitivityLSBPerG = cfg.SensitivityLSBPerG
	opts.Watermark = cfg.FIFOWatermark
	sim := sensors.NewSimulated(opts)

	manager, err := acquisition.NewManager(sim, sim, acquisition.Options{
		WindowLen:       profile.WindowPoints,
		Watermark:       cfg.FIFOWatermark,
		TransferTimeout: time.Duration(cfg.TransferTimeoutMS) * time.Millisecond,
	})
	if err != nil {
		return err
	}
	node, err := NewNode(manager, NodeOptions{
		Profile:            profile,
		SensitivityLSBPerG: cfg.SensitivityLSBPerG,
		Serial:             textSink{out: os.Stdout},
	})
	if err != nil {
		return err
	}

	fmt.Printf("mock console: %d Hz, %d-point windows, simulated sensor\n",
		profile.SampleRateHz, profile.WindowPoints)
	go sim.Run(ctx)
	return node.Run(ctx)
}
