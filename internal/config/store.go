// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sigurn/crc16"
	"gopkg.in/yaml.v3"

	"github.com/relabs-tech/vibration_node/internal/sensors"
)

const (
	profileMagic   uint32 = 0xA5A55A5A
	profileVersion uint16 = 2

	DefaultAddress      uint8 = 0x00
	DefaultSampleRateHz       = 25600
	DefaultWindowPoints       = 4096

	minWindowPoints = 64
	maxWindowPoints = 16384
)

// ErrCorrupt means the stored profile was missing, unreadable or failed its
// integrity check. Load returns defaults alongside it.
var ErrCorrupt = errors.New("device profile corrupt")

// DeviceProfile is the persisted per-device configuration.
type DeviceProfile struct {
	Address      uint8 `yaml:"address" json:"address"`
	SampleRateHz int   `yaml:"sample_rate_hz" json:"sample_rate_hz"`
	WindowPoints int   `yaml:"window_points" json:"window_points"`
}

// DefaultProfile is used when nothing valid is stored.
func DefaultProfile() DeviceProfile {
	return DeviceProfile{
		Address:      DefaultAddress,
		SampleRateHz: DefaultSampleRateHz,
		WindowPoints: DefaultWindowPoints,
	}
}

// Validate checks the profile against what the node can run.
func (p DeviceProfile) Validate() error {
	if !sensors.SupportedRate(p.SampleRateHz) {
		return fmt.Errorf("sample rate %d Hz is not a sensor output rate", p.SampleRateHz)
	}
	n := p.WindowPoints
	if n < minWindowPoints || n > maxWindowPoints || n&(n-1) != 0 {
		return fmt.Errorf("window points must be a power of two in %d..%d, got %d", minWindowPoints, maxWindowPoints, n)
	}
	return nil
}

type profileFile struct {
	DeviceProfile `yaml:",inline"`

	Magic   uint32 `yaml:"magic"`
	Version uint16 `yaml:"version"`
	CRC     uint16 `yaml:"crc"`
}

// Store persists a DeviceProfile in a YAML file with a CRC-16/MODBUS over
// the field values.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore returns a store backed by path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Load returns the stored profile. On any failure it returns DefaultProfile
// and an error wrapping ErrCorrupt.
func (s *Store) Load() (DeviceProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() (DeviceProfile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return DefaultProfile(), fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	var f profileFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return DefaultProfile(), fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if f.Magic != profileMagic {
		return DefaultProfile(), fmt.Errorf("%w: bad magic 0x%08X", ErrCorrupt, f.Magic)
	}
	if want := profileCRC(f.Magic, f.Version, f.DeviceProfile); f.CRC != want {
		return DefaultProfile(), fmt.Errorf("%w: crc 0x%04X, want 0x%04X", ErrCorrupt, f.CRC, want)
	}
	if err := f.DeviceProfile.Validate(); err != nil {
		return DefaultProfile(), fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return f.DeviceProfile, nil
}

// Save validates and writes p, replacing the file atomically.
func (s *Store) Save(p DeviceProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(p)
}

func (s *Store) save(p DeviceProfile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	f := profileFile{
		Magic:         profileMagic,
		Version:       profileVersion,
		DeviceProfile: p,
		CRC:           profileCRC(profileMagic, profileVersion, p),
	}
	data, err := yaml.Marshal(&f)
	if err != nil {
		return fmt.Errorf("encode device profile: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".profile-*")
	if err != nil {
		return fmt.Errorf("write device profile: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write device profile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write device profile: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write device profile: %w", err)
	}
	return nil
}

// update loads the current profile (defaults if corrupt), applies fn and saves.
func (s *Store) update(fn func(*DeviceProfile)) (DeviceProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, _ := s.load()
	fn(&p)
	if err := s.save(p); err != nil {
		return DeviceProfile{}, err
	}
	return p, nil
}

// UpdateAddress changes only the device address.
func (s *Store) UpdateAddress(addr uint8) (DeviceProfile, error) {
	return s.update(func(p *DeviceProfile) { p.Address = addr })
}

// UpdateSampleRate changes only the sample rate.
func (s *Store) UpdateSampleRate(hz int) (DeviceProfile, error) {
	return s.update(func(p *DeviceProfile) { p.SampleRateHz = hz })
}

// UpdateWindowPoints changes only the window length.
func (s *Store) UpdateWindowPoints(n int) (DeviceProfile, error) {
	return s.update(func(p *DeviceProfile) { p.WindowPoints = n })
}

func profileCRC(magic uint32, version uint16, p DeviceProfile) uint16 {
	buf := make([]byte, 0, 15)
	buf = binary.LittleEndian.AppendUint32(buf, magic)
	buf = binary.LittleEndian.AppendUint16(buf, version)
	buf = append(buf, p.Address)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(p.SampleRateHz))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(p.WindowPoints))
	return crc16Modbus(buf)
}

var modbusTable = crc16.MakeTable(crc16.CRC16_MODBUS)

func crc16Modbus(data []byte) uint16 {
	return crc16.Checksum(data, modbusTable)
}
