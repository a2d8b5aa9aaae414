// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package report

import (
	"fmt"
	"io"
	"sync"

	"github.com/jacobsa/go-serial/serial"
)

// SerialReporter writes FormatText blocks to a serial line.
type SerialReporter struct {
	mu sync.Mutex
	w  io.WriteCloser
}

// OpenSerial opens port at baud, 8N1.
func OpenSerial(port string, baud uint) (*SerialReporter, error) {
	options := serial.OpenOptions{
		PortName:        port,
		BaudRate:        baud,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
	}
	w, err := serial.Open(options)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", port, err)
	}
	return NewSerialReporter(w), nil
}

// NewSerialReporter writes to w.
func NewSerialReporter(w io.WriteCloser) *SerialReporter {
	return &SerialReporter{w: w}
}

// Publish writes the text rendering of r.
func (s *SerialReporter) Publish(r Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := io.WriteString(s.w, FormatText(r)); err != nil {
		return fmt.Errorf("serial report: %w", err)
	}
	return nil
}

// Close closes the underlying port.
func (s *SerialReporter) Close() error {
	return s.w.Close()
}
