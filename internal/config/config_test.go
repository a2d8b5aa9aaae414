// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vibration_config.txt")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaultsAndOverrides(t *testing.T) {
	path := writeConfig(t, `
# broker
MQTT_BROKER=tcp://localhost:1883
TOPIC_PREFIX = plant/
FIFO_WATERMARK=64
TRANSFER_TIMEOUT_MS=25
USE_SIMULATED_SENSOR=true
LOG_LEVEL=debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "tcp://localhost:1883", cfg.MQTTBroker)
	require.Equal(t, "plant", cfg.TopicPrefix)
	require.Equal(t, 64, cfg.FIFOWatermark)
	require.Equal(t, 25, cfg.TransferTimeoutMS)
	require.True(t, cfg.UseSimulatedSensor)
	require.Equal(t, slog.LevelDebug, cfg.LogLevel)

	require.Equal(t, 512.0, cfg.SensitivityLSBPerG)
	require.Equal(t, ":9100", cfg.MetricsAddr)
	require.Equal(t, 8080, cfg.WebServerPort)
}

func TestLoadRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"unknown key":     "MQTT_BROKER=x\nNOPE=1\n",
		"missing equals":  "MQTT_BROKER=x\nFIFO_WATERMARK\n",
		"watermark range": "MQTT_BROKER=x\nFIFO_WATERMARK=300\n",
		"bad bool":        "MQTT_BROKER=x\nUSE_SIMULATED_SENSOR=maybe\n",
		"missing broker":  "FIFO_WATERMARK=16\n",
		"bad sensitivity": "MQTT_BROKER=x\nSENSITIVITY_LSB_PER_G=0\n",
		"missing pins":    "MQTT_BROKER=x\nSENSOR_CS_PIN=\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.txt"))
	require.Error(t, err)
}
