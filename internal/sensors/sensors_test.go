// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"

	"github.com/relabs-tech/vibration_node/internal/vibration"
)

// fakeBus emulates the KX134 register file and FIFO on an SPI bus.
type fakeBus struct {
	mu      sync.Mutex
	regs    map[byte]byte
	writes  [][2]byte
	fifo    []byte
	release chan struct{} // when set, burst reads block until closed
}

func newFakeBus(id byte) *fakeBus {
	return &fakeBus{regs: map[byte]byte{regWhoAmI: id}}
}

func (b *fakeBus) String() string      { return "fake" }
func (b *fakeBus) Duplex() conn.Duplex { return conn.Full }

func (b *fakeBus) Tx(w, r []byte) error {
	b.mu.Lock()
	release := b.release
	b.mu.Unlock()

	switch {
	case w[0] == regBufRead|readFlag:
		if release != nil {
			<-release
		}
		b.mu.Lock()
		copy(r[1:], b.fifo)
		b.mu.Unlock()
	case w[0]&readFlag != 0:
		b.mu.Lock()
		r[1] = b.regs[w[0]&^readFlag]
		b.mu.Unlock()
	default:
		b.mu.Lock()
		b.regs[w[0]] = w[1]
		b.writes = append(b.writes, [2]byte{w[0], w[1]})
		b.mu.Unlock()
	}
	return nil
}

type fakePin struct {
	mu     sync.Mutex
	levels []gpio.Level
	edges  chan struct{}
}

func newFakePin() *fakePin { return &fakePin{edges: make(chan struct{}, 1)} }

func (p *fakePin) Out(l gpio.Level) error {
	p.mu.Lock()
	p.levels = append(p.levels, l)
	p.mu.Unlock()
	return nil
}

func (p *fakePin) last() gpio.Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.levels[len(p.levels)-1]
}

func (p *fakePin) In(gpio.Pull, gpio.Edge) error { return nil }

func (p *fakePin) WaitForEdge(timeout time.Duration) bool {
	select {
	case <-p.edges:
		return true
	case <-time.After(timeout):
		return false
	}
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestKX134(t *testing.T, bus *fakeBus) (*KX134, *fakePin, *fakePin, error) {
	t.Helper()
	cs, irq := newFakePin(), newFakePin()
	k, err := NewKX134(bus, cs, irq, KX134Options{SampleRateHz: 25600, Watermark: 32, Logger: quietLogger()})
	require.NotNil(t, k)
	t.Cleanup(func() { k.Close() })
	return k, cs, irq, err
}

func TestKX134InitSequence(t *testing.T) {
	bus := newFakeBus(whoAmIValue)
	_, cs, _, err := newTestKX134(t, bus)
	require.NoError(t, err)

	require.Equal(t, [][2]byte{
		{regCNTL1, 0x00},
		{regBufCNTL2, 0x80},
		{regBufCNTL2, 0x00},
		{regODCNTL, 0x0F},
		{regINC1, 0x30},
		{regINC4, 0x10},
		{regBufCNTL1, 32},
		{regBufCNTL2, 0xE0},
		{regCNTL1, 0xD8},
	}, bus.writes)
	require.Equal(t, gpio.High, cs.last())
}

func TestKX134IdentityMismatchStaysUsable(t *testing.T) {
	bus := newFakeBus(0x00)
	k, _, _, err := newTestKX134(t, bus)
	require.ErrorIs(t, err, ErrIdentity)
	require.Equal(t, byte(0xD8), bus.regs[regCNTL1])

	bus.fifo = []byte{1, 0, 2, 0, 3, 0}
	dst := make([]vibration.Sample, 1)
	tr, err := k.StartBurstRead(dst)
	require.NoError(t, err)
	require.NoError(t, <-tr.Done())
	require.Equal(t, vibration.Sample{1, 2, 3}, dst[0])
}

func TestKX134BurstReadDecodesLittleEndian(t *testing.T) {
	bus := newFakeBus(whoAmIValue)
	k, cs, _, err := newTestKX134(t, bus)
	require.NoError(t, err)

	bus.fifo = []byte{
		0x00, 0x02, 0xFF, 0xFF, 0x00, 0xFE, // 512, -1, -512
		0x34, 0x12, 0x00, 0x80, 0xFF, 0x7F, // 0x1234, min, max
	}
	dst := make([]vibration.Sample, 2)
	tr, err := k.StartBurstRead(dst)
	require.NoError(t, err)
	require.NoError(t, <-tr.Done())
	require.Equal(t, []vibration.Sample{{512, -1, -512}, {0x1234, -32768, 32767}}, dst)
	require.Equal(t, gpio.High, cs.last())
}

func TestKX134AbortedTransferNeverWritesDestination(t *testing.T) {
	bus := newFakeBus(whoAmIValue)
	k, cs, _, err := newTestKX134(t, bus)
	require.NoError(t, err)

	bus.fifo = []byte{9, 0, 9, 0, 9, 0}
	bus.release = make(chan struct{})
	dst := make([]vibration.Sample, 1)
	tr, err := k.StartBurstRead(dst)
	require.NoError(t, err)

	require.NoError(t, k.Abort())
	close(bus.release)

	require.True(t, errors.Is(<-tr.Done(), ErrAborted))
	require.Equal(t, gpio.High, cs.last())
	require.Equal(t, vibration.Sample{}, dst[0])
}

func TestKX134SupersededTransferNeverWritesDestination(t *testing.T) {
	bus := newFakeBus(whoAmIValue)
	k, _, _, err := newTestKX134(t, bus)
	require.NoError(t, err)

	bus.fifo = []byte{7, 0, 7, 0, 7, 0}
	release := make(chan struct{})
	bus.mu.Lock()
	bus.release = release
	bus.mu.Unlock()

	stale := make([]vibration.Sample, 1)
	_, err = k.StartBurstRead(stale)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(k.reqs) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, k.Abort())

	fresh := make([]vibration.Sample, 1)
	tr, err := k.StartBurstRead(fresh)
	require.NoError(t, err)

	_, err = k.StartBurstRead(fresh)
	require.ErrorIs(t, err, ErrBusy)

	close(release)
	require.NoError(t, <-tr.Done())
	require.Equal(t, vibration.Sample{}, stale[0])
	require.Equal(t, vibration.Sample{7, 7, 7}, fresh[0])
}

func TestKX134BurstLargerThanWatermarkRejected(t *testing.T) {
	k, _, _, err := newTestKX134(t, newFakeBus(whoAmIValue))
	require.NoError(t, err)
	_, err = k.StartBurstRead(make([]vibration.Sample, 33))
	require.Error(t, err)
}

// silentPin records nothing so the burst path can be measured for allocations.
type silentPin struct{}

func (silentPin) Out(gpio.Level) error          { return nil }
func (silentPin) In(gpio.Pull, gpio.Edge) error { return nil }
func (silentPin) WaitForEdge(timeout time.Duration) bool {
	time.Sleep(timeout)
	return false
}

func TestKX134BurstReadDoesNotAllocate(t *testing.T) {
	bus := newFakeBus(whoAmIValue)
	k, err := NewKX134(bus, silentPin{}, silentPin{}, KX134Options{SampleRateHz: 25600, Watermark: 32, Logger: quietLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { k.Close() })

	bus.fifo = make([]byte, 32*vibration.BytesPerSample)
	dst := make([]vibration.Sample, 32)
	var failed error
	allocs := testing.AllocsPerRun(100, func() {
		tr, err := k.StartBurstRead(dst)
		if err == nil {
			err = <-tr.Done()
		}
		if err != nil {
			failed = err
		}
	})
	require.NoError(t, failed)
	require.Zero(t, allocs)
}

func TestKX134InterruptRaisesReadiness(t *testing.T) {
	k, _, irq, err := newTestKX134(t, newFakeBus(whoAmIValue))
	require.NoError(t, err)

	irq.edges <- struct{}{}
	select {
	case <-k.Ready():
	case <-time.After(time.Second):
		t.Fatal("no readiness after edge")
	}
}

func TestKX134SetOutputRate(t *testing.T) {
	bus := newFakeBus(whoAmIValue)
	k, _, _, err := newTestKX134(t, bus)
	require.NoError(t, err)
	bus.writes = nil

	require.NoError(t, k.SetOutputRate(1600))
	require.Equal(t, [][2]byte{{regCNTL1, 0x00}, {regODCNTL, 0x0B}, {regCNTL1, 0xD8}}, bus.writes)

	bus.writes = nil
	require.NoError(t, k.SetOutputRate(1234))
	require.Equal(t, byte(0x06), bus.writes[1][1])
}

func TestKX134Registers(t *testing.T) {
	k, _, _, err := newTestKX134(t, newFakeBus(whoAmIValue))
	require.NoError(t, err)
	regs, err := k.Registers()
	require.NoError(t, err)
	require.Equal(t, byte(whoAmIValue), regs["WHO_AM_I"])
	require.Equal(t, byte(32), regs["BUF_CNTL1"])
}

func TestODRCode(t *testing.T) {
	code, ok := ODRCode(25600)
	require.True(t, ok)
	require.Equal(t, byte(0x0F), code)
	code, ok = ODRCode(12)
	require.True(t, ok)
	require.Equal(t, byte(0x04), code)
	code, ok = ODRCode(7)
	require.False(t, ok)
	require.Equal(t, byte(0x06), code)
	require.False(t, SupportedRate(1000))
}

func TestDecodeSamplesShortInput(t *testing.T) {
	dst := make([]vibration.Sample, 3)
	require.Equal(t, 1, DecodeSamples(dst, []byte{1, 0, 2, 0, 3, 0, 4}))
	require.Equal(t, vibration.Sample{1, 2, 3}, dst[0])
	require.Equal(t, vibration.Sample{}, dst[1])
}

func TestSimulatedStallAndResume(t *testing.T) {
	s := NewSimulated(SimulatedOptions{Tones: [3][]Tone{{{FrequencyHz: 100, AmplitudeG: 1}}}})
	s.StallNext(1)

	dst := make([]vibration.Sample, 4)
	tr, err := s.StartBurstRead(dst)
	require.NoError(t, err)
	select {
	case <-tr.Done():
		t.Fatal("stalled transfer completed")
	case <-time.After(10 * time.Millisecond):
	}
	require.NoError(t, s.Abort())
	require.Equal(t, 1, s.Aborts())

	tr, err = s.StartBurstRead(dst)
	require.NoError(t, err)
	require.NoError(t, <-tr.Done())
	require.Zero(t, dst[0][vibration.AxisX])
	require.NotZero(t, dst[1][vibration.AxisX])
}

func TestSimulatedGravityAndClamp(t *testing.T) {
	s := NewSimulated(SimulatedOptions{GravityG: -1})
	dst := make([]vibration.Sample, 2)
	_, err := s.StartBurstRead(dst)
	require.NoError(t, err)
	require.Equal(t, int16(-512), dst[0][vibration.AxisZ])

	require.Equal(t, int16(32767), toCounts(100, 512))
	require.Equal(t, int16(-32768), toCounts(-100, 512))
}

func TestSimulatedRunSignalsReadiness(t *testing.T) {
	s := NewSimulated(SimulatedOptions{SampleRateHz: 32000, Watermark: 32})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	select {
	case <-s.Ready():
	case <-time.After(time.Second):
		t.Fatal("no readiness from simulated ticker")
	}
}
