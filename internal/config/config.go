// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker              string
	MQTTClientIDNode        string
	MQTTClientIDConsole     string
	MQTTClientIDWeb         string
	MQTTClientIDDisplay     string
	MQTTClientIDCalibration string
	TopicPrefix             string

	// Sensor hardware
	SensorSPIDevice    string
	SensorCSPin        string
	SensorIntPin       string
	SensorSPIHz        int64
	SensitivityLSBPerG float64
	FIFOWatermark      int // samples per burst read
	TransferTimeoutMS  int
	UseSimulatedSensor bool

	// Persisted device profile (address, sample rate, window length)
	DeviceProfilePath string

	// Serial text report, disabled when the port is empty
	SerialReportPort string
	SerialReportBaud uint

	// Servers
	MetricsAddr   string
	WebServerPort int

	// Display
	DisplayI2CBus         string
	DisplayUpdateInterval int // milliseconds

	LogLevel slog.Level
}

var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Default returns the configuration used for keys absent from the file.
func Default() *Config {
	return &Config{
		MQTTClientIDNode:        "vibration-node",
		MQTTClientIDConsole:     "vibration-console",
		MQTTClientIDWeb:         "vibration-web",
		MQTTClientIDDisplay:     "vibration-display",
		MQTTClientIDCalibration: "vibration-calibration",
		TopicPrefix:             "vibration",
		SensorSPIDevice:         "/dev/spidev0.0",
		SensorCSPin:             "GPIO8",
		SensorIntPin:            "GPIO25",
		SensorSPIHz:             8_000_000,
		SensitivityLSBPerG:      512,
		FIFOWatermark:           32,
		TransferTimeoutMS:       10,
		DeviceProfilePath:       "device_profile.yaml",
		SerialReportBaud:        115200,
		MetricsAddr:             ":9100",
		WebServerPort:           8080,
		DisplayUpdateInterval:   500,
		LogLevel:                slog.LevelInfo,
	}
}

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Default()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		if err := cfg.setValue(strings.TrimSpace(key), strings.TrimSpace(value)); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_NODE":
		c.MQTTClientIDNode = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value
	case "MQTT_CLIENT_ID_DISPLAY":
		c.MQTTClientIDDisplay = value
	case "MQTT_CLIENT_ID_CALIBRATION":
		c.MQTTClientIDCalibration = value
	case "TOPIC_PREFIX":
		c.TopicPrefix = strings.TrimSuffix(value, "/")

	// Sensor hardware
	case "SENSOR_SPI_DEVICE":
		c.SensorSPIDevice = value
	case "SENSOR_CS_PIN":
		c.SensorCSPin = value
	case "SENSOR_INT_PIN":
		c.SensorIntPin = value
	case "SENSOR_SPI_HZ":
		hz, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid SENSOR_SPI_HZ: %w", err)
		}
		if hz < 100_000 || hz > 10_000_000 {
			return fmt.Errorf("SENSOR_SPI_HZ must be 100000-10000000, got %d", hz)
		}
		c.SensorSPIHz = hz
	case "SENSITIVITY_LSB_PER_G":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid SENSITIVITY_LSB_PER_G: %w", err)
		}
		if v <= 0 {
			return fmt.Errorf("SENSITIVITY_LSB_PER_G must be positive, got %g", v)
		}
		c.SensitivityLSBPerG = v
	case "FIFO_WATERMARK":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid FIFO_WATERMARK: %w", err)
		}
		if v < 1 || v > 255 {
			return fmt.Errorf("FIFO_WATERMARK must be 1-255, got %d", v)
		}
		c.FIFOWatermark = v
	case "TRANSFER_TIMEOUT_MS":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid TRANSFER_TIMEOUT_MS: %w", err)
		}
		if v < 1 {
			return fmt.Errorf("TRANSFER_TIMEOUT_MS must be positive, got %d", v)
		}
		c.TransferTimeoutMS = v
	case "USE_SIMULATED_SENSOR":
		v, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid USE_SIMULATED_SENSOR: %w", err)
		}
		c.UseSimulatedSensor = v

	case "DEVICE_PROFILE_PATH":
		c.DeviceProfilePath = value

	// Serial report
	case "SERIAL_REPORT_PORT":
		c.SerialReportPort = value
	case "SERIAL_REPORT_BAUD":
		baud, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid SERIAL_REPORT_BAUD: %w", err)
		}
		c.SerialReportBaud = uint(baud)

	// Servers
	case "METRICS_ADDR":
		c.MetricsAddr = value
	case "WEB_SERVER_PORT":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid WEB_SERVER_PORT: %w", err)
		}
		if port < 1 || port > 65535 {
			return fmt.Errorf("WEB_SERVER_PORT must be 1-65535, got %d", port)
		}
		c.WebServerPort = port

	// Display
	case "DISPLAY_I2C_BUS":
		c.DisplayI2CBus = value
	case "DISPLAY_UPDATE_INTERVAL":
		interval, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid DISPLAY_UPDATE_INTERVAL: %w", err)
		}
		c.DisplayUpdateInterval = interval

	case "LOG_LEVEL":
		if err := c.LogLevel.UnmarshalText([]byte(value)); err != nil {
			return fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return nil
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if !c.UseSimulatedSensor && (c.SensorSPIDevice == "" || c.SensorCSPin == "" || c.SensorIntPin == "") {
		return fmt.Errorf("SENSOR_SPI_DEVICE, SENSOR_CS_PIN and SENSOR_INT_PIN are required unless USE_SIMULATED_SENSOR=true")
	}
	if c.DisplayUpdateInterval <= 0 {
		return fmt.Errorf("DISPLAY_UPDATE_INTERVAL must be positive")
	}
	return nil
}

// InitGlobal initializes the global configuration from file.
// Only the first call has any effect.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance, or nil before InitGlobal.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
