// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "profile.yaml"))
}

func TestCRC16ModbusCheckValue(t *testing.T) {
	require.Equal(t, uint16(0x4B37), crc16Modbus([]byte("123456789")))
}

func TestStoreMissingFileReturnsDefaults(t *testing.T) {
	p, err := newTestStore(t).Load()
	require.ErrorIs(t, err, ErrCorrupt)
	require.Equal(t, DefaultProfile(), p)
}

func TestStoreRoundTrip(t *testing.T) {
	s := newTestStore(t)
	want := DeviceProfile{Address: 0x2A, SampleRateHz: 6400, WindowPoints: 1024}
	require.NoError(t, s.Save(want))

	got, err := s.Load()
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestStoreDetectsTampering(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(DeviceProfile{Address: 1, SampleRateHz: 3200, WindowPoints: 2048}))

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	tampered := strings.Replace(string(data), "window_points: 2048", "window_points: 4096", 1)
	require.NotEqual(t, string(data), tampered)
	require.NoError(t, os.WriteFile(s.Path(), []byte(tampered), 0o644))

	p, err := s.Load()
	require.ErrorIs(t, err, ErrCorrupt)
	require.Equal(t, DefaultProfile(), p)
}

func TestStoreRejectsBadMagic(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte("magic: 1\nversion: 2\naddress: 0\nsample_rate_hz: 25600\nwindow_points: 4096\ncrc: 0\n"), 0o644))
	_, err := s.Load()
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestStoreUpdatesPreserveOtherFields(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(DeviceProfile{Address: 7, SampleRateHz: 800, WindowPoints: 512}))

	p, err := s.UpdateAddress(9)
	require.NoError(t, err)
	require.Equal(t, DeviceProfile{Address: 9, SampleRateHz: 800, WindowPoints: 512}, p)

	p, err = s.UpdateSampleRate(12800)
	require.NoError(t, err)
	require.Equal(t, DeviceProfile{Address: 9, SampleRateHz: 12800, WindowPoints: 512}, p)

	p, err = s.UpdateWindowPoints(8192)
	require.NoError(t, err)
	require.Equal(t, DeviceProfile{Address: 9, SampleRateHz: 12800, WindowPoints: 8192}, p)

	got, err := s.Load()
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func TestStoreUpdateOnCorruptStartsFromDefaults(t *testing.T) {
	s := newTestStore(t)
	p, err := s.UpdateAddress(3)
	require.NoError(t, err)
	require.Equal(t, DeviceProfile{Address: 3, SampleRateHz: DefaultSampleRateHz, WindowPoints: DefaultWindowPoints}, p)
}

func TestProfileValidation(t *testing.T) {
	require.NoError(t, DefaultProfile().Validate())
	require.Error(t, DeviceProfile{SampleRateHz: 1000, WindowPoints: 4096}.Validate())
	require.Error(t, DeviceProfile{SampleRateHz: 25600, WindowPoints: 3000}.Validate())
	require.Error(t, DeviceProfile{SampleRateHz: 25600, WindowPoints: 32}.Validate())
	require.Error(t, DeviceProfile{SampleRateHz: 25600, WindowPoints: 32768}.Validate())

	s := newTestStore(t)
	_, err := s.UpdateWindowPoints(100)
	require.Error(t, err)
}
