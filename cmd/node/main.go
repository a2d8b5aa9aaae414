// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/relabs-tech/vibration_node/internal/app"
	"github.com/relabs-tech/vibration_node/internal/config"
)

func main() {
	configPath := flag.String("config", "vibration_config.txt", "path to the configuration file")
	setAddress := flag.Int("set-address", -1, "store a new node address (0-255) in the device profile and exit")
	setRate := flag.Int("set-rate", 0, "store a new sample rate in Hz in the device profile and exit")
	setPoints := flag.Int("set-points", 0, "store a new window length in the device profile and exit")
	flag.Parse()

	log.Println("starting vibration node")

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.Get()
	app.SetupLogging(cfg.LogLevel)

	store := config.NewStore(cfg.DeviceProfilePath)
	if *setAddress >= 0 || *setRate > 0 || *setPoints > 0 {
		if err := updateProfile(store, *setAddress, *setRate, *setPoints); err != nil {
			log.Fatalf("failed to update device profile: %v", err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunNode(ctx, cfg); err != nil {
		log.Fatalf("fatal: %v", err)
	}
	slog.Info("node: stopped")
}

func updateProfile(store *config.Store, address, rate, points int) error {
	var (
		p   config.DeviceProfile
		err error
	)
	if address >= 0 {
		if address > 255 {
			return fmt.Errorf("address %d out of range 0-255", address)
		}
		if p, err = store.UpdateAddress(uint8(address)); err != nil {
			return err
		}
	}
	if rate > 0 {
		if p, err = store.UpdateSampleRate(rate); err != nil {
			return err
		}
	}
	if points > 0 {
		if p, err = store.UpdateWindowPoints(points); err != nil {
			return err
		}
	}
	slog.Info("device profile saved", "path", store.Path(),
		"address", p.Address, "rate_hz", p.SampleRateHz, "window", p.WindowPoints)
	return nil
}
