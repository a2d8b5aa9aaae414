// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package acquisition

import (
	"errors"

	"github.com/relabs-tech/vibration_node/internal/vibration"
)

// ErrTransferTimeout marks a burst read that did not complete in time.
var ErrTransferTimeout = errors.New("transfer timeout")

// Transfer is an in-flight burst read. Done yields exactly one value: nil on
// success or the bus error. A transfer superseded by a later StartBurstRead
// may never yield.
type Transfer interface {
	Done() <-chan error
}

// Driver is the bus/transfer contract the buffer manager depends on.
type Driver interface {
	// StartBurstRead begins an asynchronous read of len(dst) samples into dst.
	StartBurstRead(dst []vibration.Sample) (Transfer, error)
	// Abort forces the bus idle and invalidates any in-flight transfer.
	Abort() error
}

// ReadySource delivers "watermark samples available" notifications.
type ReadySource interface {
	Ready() <-chan struct{}
}

// CompletedTransfer is a Transfer that has already finished with err.
func CompletedTransfer(err error) Transfer {
	ch := make(chan error, 1)
	ch <- err
	return doneTransfer(ch)
}

type doneTransfer chan error

func (d doneTransfer) Done() <-chan error { return d }
