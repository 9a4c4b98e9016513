package device

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/biopal/eiscal/pkg/afe"
	"github.com/biopal/eiscal/pkg/config"
)

// Mock simulates a measurement board for testing and development. Each
// StartSweep emits a full line-protocol sweep: a voltage section and a
// current section per DUT, synthesized by pushing a fixed DUT impedance
// through the analog front-end model.
type Mock struct {
	cfg *config.MockConfig

	lines     chan string
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	connected bool
	sweepSeq  int
}

// Ensure Mock implements Device.
var _ Device = (*Mock)(nil)

// NewMock creates a new mocked device instance.
func NewMock(cfg *config.MockConfig) *Mock {
	if cfg == nil {
		def := config.Default()
		cfg = &def.Mock
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Mock{
		cfg:       cfg,
		lines:     make(chan string, DefaultBufferSize),
		ctx:       ctx,
		cancel:    cancel,
		connected: false,
	}
}

// Connect simulates connecting to the device.
func (m *Mock) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return fmt.Errorf("already connected")
	}

	m.connected = true
	return nil
}

// Close stops the mocked device.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return nil
	}

	m.cancel()
	m.connected = false
	close(m.lines)

	return nil
}

// Lines returns the channel carrying simulated console lines.
func (m *Mock) Lines() <-chan string {
	return m.lines
}

// IsConnected returns whether the device is currently connected.
func (m *Mock) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// StartSweep emits one simulated sweep for each requested DUT.
func (m *Mock) StartSweep(numDUTs int) error {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return fmt.Errorf("not connected")
	}
	m.sweepSeq++
	seq := m.sweepSeq
	m.mu.Unlock()

	if numDUTs <= 0 {
		numDUTs = 1
	}

	go m.generateSweep(numDUTs, seq)

	return nil
}

// generateSweep writes the full sweep line sequence to the lines channel.
func (m *Mock) generateSweep(numDUTs, seq int) {
	mode := afe.GainMode{PGAIndex: m.cfg.PGAIndex, TIA: afe.TIALow}
	if m.cfg.TIAHigh {
		mode.TIA = afe.TIAHigh
	}

	for dut := 1; dut <= numDUTs; dut++ {
		// Interleaved debug chatter the reader must tolerate.
		m.emit(fmt.Sprintf("Sweep %d: measuring DUT %d (%s)", seq, dut, mode))

		n := len(m.cfg.Frequencies)

		m.emit(fmt.Sprintf("DUT_%d_VOLTAGE,%d", dut, n))
		for i, freq := range m.cfg.Frequencies {
			mag, phase := m.voltagePoint(freq, i)
			m.emit(m.row(freq, mag, phase, mode, i))
		}

		m.emit(fmt.Sprintf("DUT_%d_CURRENT,%d", dut, n))
		for i, freq := range m.cfg.Frequencies {
			mag, phase := m.currentPoint(freq, mode, i)
			m.emit(m.row(freq, mag, phase, mode, i))
		}
	}
}

// voltagePoint returns the measured voltage magnitude (V) and phase (deg)
// at the given frequency.
func (m *Mock) voltagePoint(freq, idx int) (float64, float64) {
	f := float64(freq)
	mag := excitationVolts * afe.VoltageGain(f) * (1 + m.noise(idx))
	phase := afe.VoltagePhase(f)
	return mag, phase
}

// currentPoint returns the measured current-channel magnitude (V) and phase
// (deg) at the given frequency. The DUT current lags its voltage by the DUT
// phase angle, then picks up the current stage's own lag.
func (m *Mock) currentPoint(freq int, mode afe.GainMode, idx int) (float64, float64) {
	f := float64(freq)
	iActual := excitationVolts / m.cfg.Impedance
	mag := iActual * afe.CurrentGain(f, mode) * (1 + m.noise(idx+1))
	phase := afe.NormalizePhase(-m.cfg.PhaseDeg + afe.CurrentPhase(f, mode))
	return mag, phase
}

// excitationVolts is the simulated stimulus amplitude across the DUT.
const excitationVolts = 0.5

// row formats one wire data row with the protocol's integer scaling.
func (m *Mock) row(freq int, mag, phase float64, mode afe.GainMode, idx int) string {
	valid := 1
	if m.cfg.InvalidEvery > 0 && (idx+1)%m.cfg.InvalidEvery == 0 {
		valid = 0
	}

	tia := 0
	if mode.TIA == afe.TIAHigh {
		tia = 1
	}

	return fmt.Sprintf("%d,%d,%d,%d,%d,%d",
		freq,
		int(math.Round(mag*1000)),
		int(math.Round(phase*100)),
		mode.PGAIndex,
		tia,
		valid)
}

// noise returns a deterministic pseudo-noise factor for point idx.
func (m *Mock) noise(idx int) float64 {
	if m.cfg.NoiseLevel == 0 {
		return 0
	}
	return m.cfg.NoiseLevel * 0.5 * (math.Sin(float64(idx)*1.7) + math.Cos(float64(idx)*0.9)) * 0.5
}

// emit writes a line to the channel, respecting the configured pacing and
// shutdown.
func (m *Mock) emit(line string) {
	if m.cfg.LineDelay > 0 {
		select {
		case <-time.After(m.cfg.LineDelay):
		case <-m.ctx.Done():
			return
		}
	}

	select {
	case m.lines <- line:
	case <-m.ctx.Done():
	}
}
