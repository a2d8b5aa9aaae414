// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/vibration_node/internal/config"
)

func simulatedConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.UseSimulatedSensor = true
	cfg.FIFOWatermark = 32
	cfg.DeviceProfilePath = filepath.Join(t.TempDir(), "profile.yaml")
	return cfg
}

func TestOpenSensorSimulatedIdleUntilRun(t *testing.T) {
	sensor, err := openSensor(simulatedConfig(t), config.DefaultProfile(), quietLogger())
	require.NoError(t, err)
	defer sensor.close()
	require.NotNil(t, sensor.run)

	select {
	case <-sensor.driver.Ready():
		t.Fatal("simulated sensor signalled before run")
	case <-time.After(30 * time.Millisecond):
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sensor.run(ctx)

	select {
	case <-sensor.driver.Ready():
	case <-time.After(time.Second):
		t.Fatal("no readiness after run")
	}
}

func TestRunNodeFailsFastWithoutBroker(t *testing.T) {
	cfg := simulatedConfig(t)
	cfg.MQTTBroker = "tcp://127.0.0.1:1"

	done := make(chan error, 1)
	go func() { done <- RunNode(context.Background(), cfg) }()

	select {
	case err := <-done:
		require.ErrorContains(t, err, "mqtt connect")
	case <-time.After(10 * time.Second):
		t.Fatal("RunNode did not return after broker failure")
	}
}
