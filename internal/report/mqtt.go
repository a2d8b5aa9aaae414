// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package report

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const publishTimeout = 2 * time.Second

// Publisher sends reports, waveforms and calibration results over MQTT.
type Publisher struct {
	client mqtt.Client
	topics Topics
	log    *slog.Logger
}

// NewPublisher wraps a connected client.
func NewPublisher(client mqtt.Client, topics Topics, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{client: client, topics: topics, log: logger}
}

// Topics returns the topics this publisher writes to.
func (p *Publisher) Topics() Topics { return p.topics }

// Publish sends r retained on the features topic.
func (p *Publisher) Publish(r Report) error {
	return p.send(p.topics.Features, true, r)
}

// PublishWaveform sends w on the waveform topic.
func (p *Publisher) PublishWaveform(w Waveform) error {
	return p.send(p.topics.Waveform, false, w)
}

// PublishCalibration sends c on the calibration topic.
func (p *Publisher) PublishCalibration(c CalibrationResult) error {
	return p.send(p.topics.Calibration, false, c)
}

func (p *Publisher) send(topic string, retained bool, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", topic, err)
	}
	token := p.client.Publish(topic, 0, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	p.log.Debug("report: published", "topic", topic, "bytes", len(payload))
	return nil
}

// SendCommand publishes cmd to a node's command topic.
func SendCommand(client mqtt.Client, topics Topics, cmd Command) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	token := client.Publish(topics.Command, 1, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", topics.Command)
	}
	return token.Error()
}

// Connect dials broker with clientID and waits for the session.
func Connect(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, token.Error())
	}
	return client, nil
}
