package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.NotNil(t, cfg)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Serial.Port)
	assert.Equal(t, 115200, cfg.Serial.BaudRate)
	assert.Equal(t, 1, cfg.Sweep.DUTs)
	assert.Equal(t, 2, cfg.Sweep.Passes)
	assert.Equal(t, 120*time.Second, cfg.Sweep.MarkerTimeout)
	assert.Equal(t, 5*time.Second, cfg.Sweep.RowTimeout)
	assert.Equal(t, "calibration.csv", cfg.Calibration.StorePath)
	assert.Equal(t, float64(500), cfg.Mock.Impedance)
	assert.Equal(t, float64(-30), cfg.Mock.PhaseDeg)
	assert.Len(t, cfg.Mock.Frequencies, 10)
	assert.Equal(t, 2, cfg.Mock.PGAIndex)
	assert.False(t, cfg.Mock.TIAHigh)
}

func TestLoad_FileNotExists(t *testing.T) {
	cfg, err := Load("nonexistent.yaml")
	require.NoError(t, err)
	assert.NotNil(t, cfg)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Serial.Port)
}

func TestLoad_ValidYAML(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "test_config_*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	yamlContent := `
serial:
  port: "/dev/ttyACM0"
  baud_rate: 921600

sweep:
  duts: 4
  passes: 3
  marker_timeout: 60s
  row_timeout: 2s

calibration:
  store_path: "boards/b17.csv"

reference:
  path: "ref/500ohm.csv"

mock:
  impedance: 1000
  phase_deg: -45
  frequencies: [100, 1000, 10000]
  pga_index: 4
  tia_high: true
`

	_, err = tmpfile.WriteString(yamlContent)
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())

	cfg, err := Load(tmpfile.Name())
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.Port)
	assert.Equal(t, 921600, cfg.Serial.BaudRate)
	assert.Equal(t, 4, cfg.Sweep.DUTs)
	assert.Equal(t, 3, cfg.Sweep.Passes)
	assert.Equal(t, 60*time.Second, cfg.Sweep.MarkerTimeout)
	assert.Equal(t, 2*time.Second, cfg.Sweep.RowTimeout)
	assert.Equal(t, "boards/b17.csv", cfg.Calibration.StorePath)
	assert.Equal(t, "ref/500ohm.csv", cfg.Reference.Path)
	assert.Equal(t, float64(1000), cfg.Mock.Impedance)
	assert.Equal(t, float64(-45), cfg.Mock.PhaseDeg)
	assert.Equal(t, []int{100, 1000, 10000}, cfg.Mock.Frequencies)
	assert.Equal(t, 4, cfg.Mock.PGAIndex)
	assert.True(t, cfg.Mock.TIAHigh)
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "test_config_*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	_, err = tmpfile.WriteString("invalid: yaml: content: [")
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())

	cfg, err := Load(tmpfile.Name())
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoad_PartialYAML(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "test_config_*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	yamlContent := `
serial:
  port: "/dev/ttyACM0"
`

	_, err = tmpfile.WriteString(yamlContent)
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())

	cfg, err := Load(tmpfile.Name())
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	// Should use defaults for missing fields
	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.Port)
	assert.Equal(t, 115200, cfg.Serial.BaudRate)              // default
	assert.Equal(t, 120*time.Second, cfg.Sweep.MarkerTimeout) // default
	assert.Equal(t, "calibration.csv", cfg.Calibration.StorePath)
	assert.NotEmpty(t, cfg.Mock.Frequencies)
}

func TestSave(t *testing.T) {
	cfg := Default()
	cfg.Serial.Port = "/dev/ttyS3"
	cfg.Sweep.Passes = 5

	tmpfile, err := os.CreateTemp("", "test_save_*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	err = cfg.Save(tmpfile.Name())
	require.NoError(t, err)

	// Load it back and verify
	loaded, err := Load(tmpfile.Name())
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyS3", loaded.Serial.Port)
	assert.Equal(t, 5, loaded.Sweep.Passes)
}
