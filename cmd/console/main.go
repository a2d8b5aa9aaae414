// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/relabs-tech/vibration_node/internal/app"
	"github.com/relabs-tech/vibration_node/internal/config"
)

func main() {
	configPath := flag.String("config", "vibration_config.txt", "path to the configuration file")
	flag.Parse()

	log.Println("starting vibration console (simulated sensor, no broker)")

	cfg := config.Default()
	if _, err := os.Stat(*configPath); err == nil {
		if cfg, err = config.Load(*configPath); err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}
	app.SetupLogging(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunMockConsole(ctx, cfg); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
