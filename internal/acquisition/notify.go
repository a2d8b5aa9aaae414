// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package acquisition

// Notifier is a single-slot wake-up signal. Repeated Give calls before the
// waiter runs collapse into one pending notification.
type Notifier struct {
	ch chan struct{}
}

// NewNotifier returns an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{ch: make(chan struct{}, 1)}
}

// Give raises the notification without blocking.
func (n *Notifier) Give() {
	select {
	case n.ch <- struct{}{}:
	default:
	}
}

// Ready returns the channel a waiter blocks on.
func (n *Notifier) Ready() <-chan struct{} { return n.ch }
