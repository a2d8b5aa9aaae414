// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/vibration_node/internal/mqtttest"
	"github.com/relabs-tech/vibration_node/internal/report"
)

func TestSubscribeJSONFeedsWebState(t *testing.T) {
	broker := mqtttest.StartBroker(t, 18851)
	topics := report.NewTopics("test", 9)

	sub, err := report.Connect(broker, "web-sub")
	require.NoError(t, err)
	defer sub.Disconnect(0)
	pub, err := report.Connect(broker, "node-pub")
	require.NoError(t, err)
	defer pub.Disconnect(0)

	state := newWebState(func(cmd report.Command) error { return report.SendCommand(pub, topics, cmd) }, quietLogger())
	require.NoError(t, subscribeJSON(sub, topics.Features, quietLogger(), state.setReport))

	commands := make(chan report.Command, 1)
	require.NoError(t, subscribeJSON(sub, topics.Command, quietLogger(), func(c report.Command) { commands <- c }))

	publisher := report.NewPublisher(pub, topics, quietLogger())
	require.NoError(t, publisher.Publish(sampleReport(11)))

	require.Eventually(t, func() bool {
		state.mu.RLock()
		defer state.mu.RUnlock()
		return state.latest != nil && state.latest.Sequence == 11
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, state.send(report.Command{Action: report.ActionSnapshot}))
	select {
	case c := <-commands:
		require.Equal(t, report.ActionSnapshot, c.Action)
	case <-time.After(5 * time.Second):
		t.Fatal("command not received")
	}
}
