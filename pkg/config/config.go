package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Serial      SerialConfig      `yaml:"serial"`
	Sweep       SweepConfig       `yaml:"sweep"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Reference   ReferenceConfig   `yaml:"reference"`
	Mock        MockConfig        `yaml:"mock"`
}

// SerialConfig contains serial port configuration.
type SerialConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
}

// SweepConfig contains sweep capture parameters.
type SweepConfig struct {
	DUTs          int           `yaml:"duts"`           // Number of devices under test per sweep
	Passes        int           `yaml:"passes"`         // Sweep passes to average per calibration run
	MarkerTimeout time.Duration `yaml:"marker_timeout"` // Max wait for a section marker (full sweep runtime)
	RowTimeout    time.Duration `yaml:"row_timeout"`    // Max wait for one data row
}

// CalibrationConfig contains calibration store parameters.
type CalibrationConfig struct {
	StorePath string `yaml:"store_path"`
}

// ReferenceConfig contains reference spectrum input parameters.
type ReferenceConfig struct {
	Path string `yaml:"path"`
}

// MockConfig contains mock device configuration. The mock synthesizes a
// sweep over a fixed DUT impedance pushed through the analog front-end
// model, so the full pipeline can run without hardware.
type MockConfig struct {
	Impedance    float64       `yaml:"impedance"`     // Simulated DUT impedance magnitude (ohm)
	PhaseDeg     float64       `yaml:"phase_deg"`     // Simulated DUT phase (degrees)
	NoiseLevel   float64       `yaml:"noise_level"`   // Relative magnitude noise (fraction)
	Frequencies  []int         `yaml:"frequencies"`   // Sweep frequency plan (Hz)
	PGAIndex     int           `yaml:"pga_index"`     // PGA setting reported by the mock
	TIAHigh      bool          `yaml:"tia_high"`      // TIA setting reported by the mock
	LineDelay    time.Duration `yaml:"line_delay"`    // Delay between emitted lines
	InvalidEvery int           `yaml:"invalid_every"` // Mark every Nth point invalid (0 = never)
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:     "/dev/ttyUSB0",
			BaudRate: 115200,
		},
		Sweep: SweepConfig{
			DUTs:          1,
			Passes:        2,
			MarkerTimeout: 120 * time.Second,
			RowTimeout:    5 * time.Second,
		},
		Calibration: CalibrationConfig{
			StorePath: "calibration.csv",
		},
		Reference: ReferenceConfig{
			Path: "",
		},
		Mock: MockConfig{
			Impedance:    500.0,
			PhaseDeg:     -30.0,
			NoiseLevel:   0.0,
			Frequencies:  []int{100, 200, 500, 1000, 2000, 5000, 10000, 20000, 50000, 100000},
			PGAIndex:     2,
			TIAHigh:      false,
			LineDelay:    time.Millisecond,
			InvalidEvery: 0,
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist, return defaults
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}

	if c.Sweep.DUTs == 0 {
		c.Sweep.DUTs = def.Sweep.DUTs
	}
	if c.Sweep.Passes == 0 {
		c.Sweep.Passes = def.Sweep.Passes
	}
	if c.Sweep.MarkerTimeout == 0 {
		c.Sweep.MarkerTimeout = def.Sweep.MarkerTimeout
	}
	if c.Sweep.RowTimeout == 0 {
		c.Sweep.RowTimeout = def.Sweep.RowTimeout
	}

	if c.Calibration.StorePath == "" {
		c.Calibration.StorePath = def.Calibration.StorePath
	}

	if c.Mock.Impedance == 0 {
		c.Mock.Impedance = def.Mock.Impedance
	}
	if len(c.Mock.Frequencies) == 0 {
		c.Mock.Frequencies = def.Mock.Frequencies
	}
	if c.Mock.LineDelay == 0 {
		c.Mock.LineDelay = def.Mock.LineDelay
	}
}
