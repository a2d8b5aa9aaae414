// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/vibration_node/internal/acquisition"
	"github.com/relabs-tech/vibration_node/internal/config"
	"github.com/relabs-tech/vibration_node/internal/metrics"
	"github.com/relabs-tech/vibration_node/internal/report"
	"github.com/relabs-tech/vibration_node/internal/sensors"
)

type sensorDriver interface {
	acquisition.Driver
	acquisition.ReadySource
}

// LoadProfile reads the persisted device profile. A corrupt or missing
// profile is replaced by the defaults on disk.
func LoadProfile(store *config.Store) config.DeviceProfile {
	profile, err := store.Load()
	if err != nil {
		slog.Warn("node: device profile unusable, using defaults", "path", store.Path(), "err", err)
		if saveErr := store.Save(profile); saveErr != nil {
			slog.Warn("node: could not persist default profile", "err", saveErr)
		}
	}
	return profile
}

// nodeSensor is the opened acquisition driver. run, when set, feeds the
// driver's readiness and must be started for acquisition to progress.
type nodeSensor struct {
	driver sensorDriver
	run    func(context.Context) error
	close  func() error
}

// openSensor opens the simulated or KX134 driver without starting any
// background work of its own.
func openSensor(cfg *config.Config, profile config.DeviceProfile, log *slog.Logger) (*nodeSensor, error) {
	if cfg.UseSimulatedSensor {
		opts := sensors.DefaultSimulatedOptions()
		opts.SampleRateHz = float64(profile.SampleRateHz)
		opts.SensitivityLSBPerG = cfg.SensitivityLSBPerG
		opts.Watermark = cfg.FIFOWatermark
		sim := sensors.NewSimulated(opts)
		log.Info("node: using simulated sensor")
		return &nodeSensor{driver: sim, run: sim.Run, close: func() error { return nil }}, nil
	}

	kx, err := sensors.OpenKX134(sensors.KX134Options{
		SPIDevice:    cfg.SensorSPIDevice,
		CSPin:        cfg.SensorCSPin,
		IntPin:       cfg.SensorIntPin,
		SPIHz:        cfg.SensorSPIHz,
		SampleRateHz: profile.SampleRateHz,
		Watermark:    cfg.FIFOWatermark,
	})
	switch {
	case errors.Is(err, sensors.ErrIdentity):
		log.Warn("node: continuing with unidentified sensor", "err", err)
	case err != nil:
		return nil, err
	}
	if regs, err := kx.Registers(); err == nil {
		log.Debug("node: sensor registers", "registers", regs)
	}
	return &nodeSensor{driver: kx, close: kx.Close}, nil
}

// RunNode runs the vibration node until ctx is cancelled.
func RunNode(ctx context.Context, cfg *config.Config) error {
	log := slog.Default()
	profile := LoadProfile(config.NewStore(cfg.DeviceProfilePath))
	log.Info("node: device profile", "address", profile.Address,
		"rate_hz", profile.SampleRateHz, "window", profile.WindowPoints)

	sensor, err := openSensor(cfg, profile, log)
	if err != nil {
		return err
	}
	defer sensor.close()
	driver := sensor.driver

	manager, err := acquisition.NewManager(driver, driver, acquisition.Options{
		WindowLen:       profile.WindowPoints,
		Watermark:       cfg.FIFOWatermark,
		TransferTimeout: time.Duration(cfg.TransferTimeoutMS) * time.Millisecond,
	})
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg, manager.Stats)

	client, err := report.Connect(cfg.MQTTBroker, cfg.MQTTClientIDNode)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	topics := report.NewTopics(cfg.TopicPrefix, profile.Address)
	log.Info("node: connected to MQTT broker", "broker", cfg.MQTTBroker, "features", topics.Features)

	opts := NodeOptions{
		Profile:            profile,
		SensitivityLSBPerG: cfg.SensitivityLSBPerG,
		Telemetry:          report.NewPublisher(client, topics, log),
		Metrics:            m,
		Logger:             log,
	}
	if cfg.SerialReportPort != "" {
		serialOut, err := report.OpenSerial(cfg.SerialReportPort, cfg.SerialReportBaud)
		if err != nil {
			return err
		}
		defer serialOut.Close()
		opts.Serial = serialOut
		log.Info("node: serial report enabled", "port", cfg.SerialReportPort, "baud", cfg.SerialReportBaud)
	}

	node, err := NewNode(manager, opts)
	if err != nil {
		return err
	}

	token := client.Subscribe(topics.Command, 1, node.HandleMessage)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", topics.Command, token.Error())
	}
	log.Info("node: listening for commands", "topic", topics.Command)

	// Background work starts only once every fallible setup step has passed.
	g, gctx := errgroup.WithContext(ctx)
	if sensor.run != nil {
		g.Go(func() error { return sensor.run(gctx) })
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	g.Go(func() error {
		log.Info("node: metrics listening", "addr", cfg.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error { return node.Run(gctx) })

	err = g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}
