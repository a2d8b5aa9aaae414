// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// ./cmd/calibration/main.go
//
// Guided Z-axis calibration of a running vibration node.
//
// The node must be running and the sensor mounted upright and at rest. Each
// step asks the node to measure one window and move its offset so the mean
// matches the target; steps repeat until the correction is below tolerance.
//
// Run:
//
//	go run ./cmd/calibration -target -1
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/vibration_node/internal/app"
	"github.com/relabs-tech/vibration_node/internal/config"
	"github.com/relabs-tech/vibration_node/internal/features"
	"github.com/relabs-tech/vibration_node/internal/report"
)

func main() {
	def := app.DefaultCalibrationParams()
	configPath := flag.String("config", "vibration_config.txt", "path to the configuration file")
	target := flag.Float64("target", features.UprightTargetG, "expected Z reading at rest, in g")
	tolerance := flag.Float64("tolerance", def.ToleranceG, "stop when a step moves the offset less than this, in g")
	steps := flag.Int("steps", def.MaxSteps, "maximum number of steps")
	timeout := flag.Duration("step-timeout", def.StepTimeout, "time to wait for each step result")
	flag.Parse()

	if err := config.InitGlobal(*configPath); err != nil {
		fatal(fmt.Errorf("failed to load config: %w", err))
	}
	cfg := config.Get()
	app.SetupLogging(cfg.LogLevel)

	profile, err := config.NewStore(cfg.DeviceProfilePath).Load()
	if err != nil {
		slog.Warn("calibration: device profile unreadable, assuming defaults", "err", err)
	}
	topics := report.NewTopics(cfg.TopicPrefix, profile.Address)

	client, err := report.Connect(cfg.MQTTBroker, cfg.MQTTClientIDCalibration)
	if err != nil {
		fatal(err)
	}
	defer client.Disconnect(250)

	results := make(chan report.CalibrationResult, 4)
	token := client.Subscribe(topics.Calibration, 1, func(_ mqtt.Client, msg mqtt.Message) {
		var r report.CalibrationResult
		if err := json.Unmarshal(msg.Payload(), &r); err != nil {
			slog.Warn("calibration: result unmarshal error", "err", err)
			return
		}
		select {
		case results <- r:
		default:
		}
	})
	if token.Wait(); token.Error() != nil {
		fatal(token.Error())
	}

	fmt.Printf("Calibrating node %d on %s\n", profile.Address, cfg.MQTTBroker)
	waitEnter(bufio.NewReader(os.Stdin), "Mount the sensor upright, keep it still, then press ENTER...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	params := app.CalibrationParams{TargetG: *target, ToleranceG: *tolerance, MaxSteps: *steps, StepTimeout: *timeout}
	final, err := app.RunCalibration(ctx,
		func(cmd report.Command) error { return report.SendCommand(client, topics, cmd) },
		results, params,
		func(step int, r report.CalibrationResult) {
			fmt.Printf("  step %2d: measured=%+.5f g  offset=%+.5f g  delta=%+.6f g\n",
				step, r.MeasuredG, r.OffsetG, r.DeltaG)
		})
	if err != nil {
		fatal(err)
	}

	fmt.Printf("\nCalibration complete in %s\n", time.Since(start).Round(time.Millisecond))
	fmt.Printf("  target   %+.4f g\n", final.TargetG)
	fmt.Printf("  offset   %+.5f g\n", final.OffsetG)
	fmt.Println("The offset is held by the node until it restarts.")
}

func waitEnter(in *bufio.Reader, prompt string) {
	fmt.Print(prompt)
	_, _ = in.ReadString('\n')
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
	os.Exit(1)
}
