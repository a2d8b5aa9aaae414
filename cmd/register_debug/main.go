// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"
	"fmt"
	"log"
	"sort"

	"github.com/relabs-tech/vibration_node/internal/config"
	"github.com/relabs-tech/vibration_node/internal/sensors"
)

func main() {
	configPath := flag.String("config", "vibration_config.txt", "path to the configuration file")
	flag.Parse()

	log.Println("starting KX134 register dump (standalone, stop the node first)")

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.Get()

	profile, err := config.NewStore(cfg.DeviceProfilePath).Load()
	if err != nil {
		log.Printf("Warning: device profile unreadable, using defaults: %v", err)
	}

	dev, err := sensors.OpenKX134(sensors.KX134Options{
		SPIDevice:    cfg.SensorSPIDevice,
		CSPin:        cfg.SensorCSPin,
		IntPin:       cfg.SensorIntPin,
		SPIHz:        cfg.SensorSPIHz,
		SampleRateHz: profile.SampleRateHz,
		Watermark:    cfg.FIFOWatermark,
	})
	if dev == nil {
		log.Fatalf("fatal: %v", err)
	}
	if err != nil {
		log.Printf("Warning: %v", err)
	}
	defer dev.Close()

	values, err := dev.Registers()
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}

	regs := sensors.RegisterMap()
	sort.Slice(regs, func(i, j int) bool { return regs[i].Address < regs[j].Address })
	for _, reg := range regs {
		v := values[reg.Name]
		fmt.Printf("0x%02X %-10s = 0x%02X (%08b)  %s\n", reg.Address, reg.Name, v, v, reg.Description)
		for _, f := range reg.BitFields {
			fmt.Printf("       [%4s] %-8s %s", f.Bits, f.Name, f.Description)
			if f.Values != "" {
				fmt.Printf(" (%s)", f.Values)
			}
			fmt.Println()
		}
	}
}
