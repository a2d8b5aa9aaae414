// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/relabs-tech/vibration_node/internal/config"
	"github.com/relabs-tech/vibration_node/internal/report"
)

// RunConsoleMQTT prints every report, waveform and calibration result the
// node publishes until ctx is cancelled.
func RunConsoleMQTT(ctx context.Context, cfg *config.Config) error {
	log := slog.Default()

	profile, err := config.NewStore(cfg.DeviceProfilePath).Load()
	if err != nil {
		log.Warn("console: device profile unreadable, assuming defaults", "err", err)
	}
	topics := report.NewTopics(cfg.TopicPrefix, profile.Address)

	client, err := report.Connect(cfg.MQTTBroker, cfg.MQTTClientIDConsole)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	log.Info("console: connected to MQTT broker", "broker", cfg.MQTTBroker)

	printer := consolePrinter{out: os.Stdout}
	if err := subscribeJSON(client, topics.Features, log, printer.report); err != nil {
		return err
	}
	if err := subscribeJSON(client, topics.Waveform, log, printer.waveform); err != nil {
		return err
	}
	if err := subscribeJSON(client, topics.Calibration, log, printer.calibration); err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("console: shutting down")
	return nil
}

type consolePrinter struct {
	out io.Writer
}

func (p consolePrinter) report(r report.Report) {
	fmt.Fprint(p.out, report.FormatText(r))
}

func (p consolePrinter) waveform(w report.Waveform) {
	lo, hi := 0.0, 0.0
	for i, v := range w.Z {
		if i == 0 || v < lo {
			lo = v
		}
		if i == 0 || v > hi {
			hi = v
		}
	}
	fmt.Fprintf(p.out, "[WAVE] node=%d seq=%d points=%d rate=%dHz min=%.4fg max=%.4fg\n",
		w.Address, w.Sequence, len(w.Z), w.SampleRateHz, lo, hi)
}

func (p consolePrinter) calibration(c report.CalibrationResult) {
	fmt.Fprintf(p.out, "[CAL ] node=%d target=%+.4fg measured=%+.4fg offset=%+.5fg delta=%+.5fg\n",
		c.Address, c.TargetG, c.MeasuredG, c.OffsetG, c.DeltaG)
}
