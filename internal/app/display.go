// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/vibration_node/internal/config"
	"github.com/relabs-tech/vibration_node/internal/report"
)

const (
	displayW = 128
	displayH = 64
)

// displayData holds the latest report for the OLED.
type displayData struct {
	mu     sync.RWMutex
	latest *report.Report
}

func (d *displayData) set(r report.Report) {
	d.mu.Lock()
	d.latest = &r
	d.mu.Unlock()
}

func (d *displayData) get() *report.Report {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.latest
}

// RunDisplay shows the node's latest Z-axis summary on an SSD1306 OLED.
func RunDisplay(ctx context.Context, cfg *config.Config) error {
	log := slog.Default()

	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}

	bus, err := i2creg.Open(cfg.DisplayI2CBus)
	if err != nil {
		return fmt.Errorf("failed to open I2C bus: %w", err)
	}
	defer bus.Close()

	dev, err := ssd1306.NewI2C(bus, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	defer dev.Halt()
	log.Info("display: initialized", "bus", cfg.DisplayI2CBus)

	if err := dev.Draw(dev.Bounds(), renderSplash(), image.Point{}); err != nil {
		log.Warn("display: error showing splash", "err", err)
	}

	profile, err := config.NewStore(cfg.DeviceProfilePath).Load()
	if err != nil {
		log.Warn("display: device profile unreadable, assuming defaults", "err", err)
	}
	topics := report.NewTopics(cfg.TopicPrefix, profile.Address)

	client, err := report.Connect(cfg.MQTTBroker, cfg.MQTTClientIDDisplay)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	log.Info("display: connected to MQTT broker", "broker", cfg.MQTTBroker)

	data := &displayData{}
	if err := subscribeJSON(client, topics.Features, log, data.set); err != nil {
		return err
	}

	ticker := time.NewTicker(time.Duration(cfg.DisplayUpdateInterval) * time.Millisecond)
	defer ticker.Stop()
	log.Info("display: starting update loop")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := dev.Draw(dev.Bounds(), renderReport(data.get()), image.Point{}); err != nil {
				log.Warn("display: error updating", "err", err)
			}
		}
	}
}

func newCanvas() (*image1bit.VerticalLSB, *font.Drawer) {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, displayW, displayH))
	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	return img, drawer
}

// renderReport draws four lines: header, velocity, main peak and envelope.
func renderReport(r *report.Report) *image1bit.VerticalLSB {
	img, drawer := newCanvas()

	if r == nil {
		drawer.Dot = fixed.P(0, 26)
		drawer.DrawString("Vibration")
		drawer.Dot = fixed.P(0, 39)
		drawer.DrawString("Waiting...")
		return img
	}

	z := r.Features.Z
	lines := []string{
		fmt.Sprintf("N%d #%d", r.Address, r.Sequence),
		fmt.Sprintf("V:%6.2f mm/s", z.VelocityRMS),
		fmt.Sprintf("F:%5.0fHz %.2fg", z.PeakFrequency, z.PeakAmplitude),
		fmt.Sprintf("E:%.2f K:%.1f", z.EnvelopeRMS, z.Kurtosis),
	}
	for i, line := range lines {
		drawer.Dot = fixed.P(0, 13*(i+1))
		drawer.DrawString(line)
	}
	return img
}

func renderSplash() *image1bit.VerticalLSB {
	img, drawer := newCanvas()
	drawer.Dot = fixed.P(10, 26)
	drawer.DrawString("Vibration")
	drawer.Dot = fixed.P(5, 43)
	drawer.DrawString("Looking for node")
	return img
}
