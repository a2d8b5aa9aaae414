// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package mqtttest runs an in-process MQTT broker for tests.
package mqtttest

import (
	"fmt"
	"testing"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/require"
)

// StartBroker serves MQTT on localhost:port until the test ends and returns
// the broker URL for paho.
func StartBroker(t *testing.T, port int) string {
	t.Helper()
	cfg := listeners.Config{
		Type:    "tcp",
		ID:      fmt.Sprintf("test-%d", port),
		Address: fmt.Sprintf("127.0.0.1:%d", port),
	}
	broker := mochi.New(nil)
	require.NoError(t, broker.AddHook(&auth.AllowHook{}, nil))
	require.NoError(t, broker.AddListener(listeners.NewTCP(cfg)))
	require.NoError(t, broker.Serve())
	t.Cleanup(func() { broker.Close() })
	return "tcp://" + cfg.Address
}
