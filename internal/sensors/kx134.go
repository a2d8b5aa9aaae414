// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package sensors provides the accelerometer drivers behind the acquisition
// manager: a KX134 on SPI and a simulated source for mock mode.
package sensors

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/vibration_node/internal/acquisition"
	"github.com/relabs-tech/vibration_node/internal/vibration"
)

var (
	// ErrIdentity is returned when WHO_AM_I does not read 0x46. The device
	// is still configured and usable.
	ErrIdentity = errors.New("unexpected sensor identity")

	// ErrAborted completes a transfer that was cancelled by Abort.
	ErrAborted = errors.New("transfer aborted")

	// ErrBusy is returned by StartBurstRead while an earlier transfer still
	// occupies the bus and another is already queued.
	ErrBusy = errors.New("burst transfer already queued")
)

// ChipSelect drives the active-low chip-select line.
type ChipSelect interface {
	Out(l gpio.Level) error
}

// EdgeSource is the interrupt line the sensor raises on watermark.
type EdgeSource interface {
	In(pull gpio.Pull, edge gpio.Edge) error
	WaitForEdge(timeout time.Duration) bool
}

// KX134Options configures the sensor at open time.
type KX134Options struct {
	SPIDevice    string
	CSPin        string
	IntPin       string
	SPIHz        int64
	SampleRateHz int
	Watermark    int
	Logger       *slog.Logger
}

// KX134 implements acquisition.Driver and acquisition.ReadySource.
type KX134 struct {
	bus  conn.Conn
	cs   ChipSelect
	irq  EdgeSource
	port spi.PortCloser
	log  *slog.Logger

	busMu sync.Mutex // serialises SPI transactions

	// Burst buffers sized for one watermark, owned by the burst goroutine.
	w, r   []byte
	reqs   chan burstReq
	result chan error

	// mu orders destination writes against Abort and newer requests, so a
	// cancelled or superseded transfer never touches its destination.
	mu         sync.Mutex
	seq        uint64
	abortedSeq uint64

	ready *acquisition.Notifier
	stop  chan struct{}
	wg    sync.WaitGroup
}

type burstReq struct {
	dst []vibration.Sample
	seq uint64
}

// OpenKX134 initialises the periph host, opens the SPI port with a manual
// chip-select and configures the sensor. A wrapped ErrIdentity is returned
// together with a usable device when the identity check fails.
func OpenKX134(opts KX134Options) (*KX134, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("kx134: periph host init: %w", err)
	}

	cs := gpioreg.ByName(opts.CSPin)
	if cs == nil {
		return nil, fmt.Errorf("kx134: CS pin %q not found", opts.CSPin)
	}
	irq := gpioreg.ByName(opts.IntPin)
	if irq == nil {
		return nil, fmt.Errorf("kx134: INT pin %q not found", opts.IntPin)
	}

	port, err := spireg.Open(opts.SPIDevice)
	if err != nil {
		return nil, fmt.Errorf("kx134: SPI open (%s): %w", opts.SPIDevice, err)
	}
	c, err := port.Connect(physic.Frequency(opts.SPIHz)*physic.Hertz, spi.Mode0|spi.NoCS, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("kx134: SPI connect (%s): %w", opts.SPIDevice, err)
	}

	k, err := NewKX134(c, cs, irq, opts)
	if k == nil {
		port.Close()
		return nil, err
	}
	k.port = port
	return k, err
}

// NewKX134 configures a sensor reachable over bus. OpenKX134 is the usual
// entry point; this constructor exists for alternative buses and tests.
func NewKX134(bus conn.Conn, cs ChipSelect, irq EdgeSource, opts KX134Options) (*KX134, error) {
	if opts.Watermark <= 0 || opts.Watermark > 255 {
		return nil, fmt.Errorf("kx134: watermark must be in 1..255, got %d", opts.Watermark)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	burstLen := 1 + opts.Watermark*vibration.BytesPerSample
	k := &KX134{
		bus:    bus,
		cs:     cs,
		irq:    irq,
		log:    logger,
		w:      make([]byte, burstLen),
		r:      make([]byte, burstLen),
		reqs:   make(chan burstReq, 1),
		result: make(chan error, 1),
		ready:  acquisition.NewNotifier(),
		stop:   make(chan struct{}),
	}
	k.w[0] = regBufRead | readFlag
	if err := cs.Out(gpio.High); err != nil {
		return nil, fmt.Errorf("kx134: CS idle: %w", err)
	}

	idErr := k.configure(opts)
	if idErr != nil && !errors.Is(idErr, ErrIdentity) {
		return nil, idErr
	}

	if err := irq.In(gpio.PullDown, gpio.RisingEdge); err != nil {
		return nil, fmt.Errorf("kx134: INT edge setup: %w", err)
	}
	k.wg.Add(2)
	go k.watch()
	go k.burst()

	k.log.Info("kx134: configured", "rate_hz", opts.SampleRateHz, "watermark", opts.Watermark)
	return k, idErr
}

func (k *KX134) configure(opts KX134Options) error {
	steps := []struct {
		reg, val byte
	}{
		{regCNTL1, cntl1Standby},
		{regBufCNTL2, bufCNTL2Clear},
		{regBufCNTL2, 0x00},
	}
	for _, s := range steps {
		if err := k.writeReg(s.reg, s.val); err != nil {
			return err
		}
	}

	var idErr error
	id, err := k.readReg(regWhoAmI)
	if err != nil {
		return err
	}
	if id != whoAmIValue {
		idErr = fmt.Errorf("kx134: WHO_AM_I = 0x%02X, want 0x%02X: %w", id, whoAmIValue, ErrIdentity)
		k.log.Warn("kx134: identity mismatch, continuing", "who_am_i", fmt.Sprintf("0x%02X", id))
	}

	code, ok := ODRCode(opts.SampleRateHz)
	if !ok {
		k.log.Warn("kx134: unsupported output rate, using 50 Hz", "rate_hz", opts.SampleRateHz)
	}
	steps = []struct {
		reg, val byte
	}{
		{regODCNTL, code},
		{regINC1, inc1PushPullHigh},
		{regINC4, inc4Routing},
		{regBufCNTL1, byte(opts.Watermark)},
		{regBufCNTL2, bufCNTL2Enable},
		{regCNTL1, cntl1Operating},
	}
	for _, s := range steps {
		if err := k.writeReg(s.reg, s.val); err != nil {
			return err
		}
	}
	return idErr
}

// SetOutputRate reprograms ODCNTL with the sensor in standby. Unsupported
// rates fall back to 50 Hz.
func (k *KX134) SetOutputRate(hz int) error {
	code, ok := ODRCode(hz)
	if !ok {
		k.log.Warn("kx134: unsupported output rate, using 50 Hz", "rate_hz", hz)
	}
	if err := k.writeReg(regCNTL1, cntl1Standby); err != nil {
		return err
	}
	if err := k.writeReg(regODCNTL, code); err != nil {
		return err
	}
	return k.writeReg(regCNTL1, cntl1Operating)
}

// Ready implements acquisition.ReadySource.
func (k *KX134) Ready() <-chan struct{} { return k.ready.Ready() }

// StartBurstRead implements acquisition.Driver. Transfers run one at a time
// on a long-lived goroutine using buffers sized for one watermark, so dst may
// hold at most Watermark samples. A transfer superseded by a newer request
// never completes.
func (k *KX134) StartBurstRead(dst []vibration.Sample) (acquisition.Transfer, error) {
	if len(dst) == 0 {
		return acquisition.CompletedTransfer(nil), nil
	}
	if 1+len(dst)*vibration.BytesPerSample > len(k.w) {
		return nil, fmt.Errorf("kx134: burst of %d samples exceeds watermark %d", len(dst), (len(k.w)-1)/vibration.BytesPerSample)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	select {
	case k.reqs <- burstReq{dst: dst, seq: k.seq + 1}:
	default:
		return nil, ErrBusy
	}
	k.seq++
	// Drop a result left by an earlier transfer nobody waited for.
	select {
	case <-k.result:
	default:
	}
	return transfer(k.result), nil
}

// Abort implements acquisition.Driver: chip-select is released and any
// in-flight transfer completes with ErrAborted without writing its
// destination.
func (k *KX134) Abort() error {
	k.mu.Lock()
	k.abortedSeq = k.seq
	k.mu.Unlock()
	return k.cs.Out(gpio.High)
}

func (k *KX134) burst() {
	defer k.wg.Done()
	for {
		var req burstReq
		select {
		case <-k.stop:
			return
		case req = <-k.reqs:
		}

		n := 1 + len(req.dst)*vibration.BytesPerSample
		err := k.tx(k.w[:n], k.r[:n])

		k.mu.Lock()
		switch {
		case req.seq != k.seq:
			// superseded: nobody is waiting on this result
		case err != nil:
			k.result <- fmt.Errorf("kx134: burst read: %w", err)
		case k.abortedSeq == req.seq:
			k.result <- ErrAborted
		default:
			DecodeSamples(req.dst, k.r[1:n])
			k.result <- nil
		}
		k.mu.Unlock()
	}
}

// Registers reads every register listed in RegisterMap.
func (k *KX134) Registers() (map[string]byte, error) {
	out := make(map[string]byte)
	for _, info := range RegisterMap() {
		if info.Access == "W" {
			continue
		}
		v, err := k.readReg(info.Address)
		if err != nil {
			return nil, err
		}
		out[info.Name] = v
	}
	return out, nil
}

// Close stops the interrupt watcher and releases the SPI port.
func (k *KX134) Close() error {
	close(k.stop)
	k.wg.Wait()
	if k.port != nil {
		return k.port.Close()
	}
	return nil
}

func (k *KX134) watch() {
	defer k.wg.Done()
	for {
		select {
		case <-k.stop:
			return
		default:
		}
		if k.irq.WaitForEdge(100 * time.Millisecond) {
			k.ready.Give()
		}
	}
}

func (k *KX134) tx(w, r []byte) error {
	k.busMu.Lock()
	defer k.busMu.Unlock()
	if err := k.cs.Out(gpio.Low); err != nil {
		return err
	}
	err := k.bus.Tx(w, r)
	if csErr := k.cs.Out(gpio.High); err == nil {
		err = csErr
	}
	return err
}

func (k *KX134) writeReg(reg, val byte) error {
	if err := k.tx([]byte{reg, val}, nil); err != nil {
		return fmt.Errorf("kx134: write 0x%02X: %w", reg, err)
	}
	return nil
}

func (k *KX134) readReg(reg byte) (byte, error) {
	r := make([]byte, 2)
	if err := k.tx([]byte{reg | readFlag, 0}, r); err != nil {
		return 0, fmt.Errorf("kx134: read 0x%02X: %w", reg, err)
	}
	return r[1], nil
}

// DecodeSamples unpacks little-endian X/Y/Z int16 triples from raw into dst.
// It decodes min(len(dst), len(raw)/6) samples and returns that count.
func DecodeSamples(dst []vibration.Sample, raw []byte) int {
	n := min(len(dst), len(raw)/vibration.BytesPerSample)
	for i := range n {
		b := raw[i*vibration.BytesPerSample:]
		dst[i] = vibration.Sample{
			int16(binary.LittleEndian.Uint16(b[0:])),
			int16(binary.LittleEndian.Uint16(b[2:])),
			int16(binary.LittleEndian.Uint16(b[4:])),
		}
	}
	return n
}

type transfer chan error

func (t transfer) Done() <-chan error { return t }
