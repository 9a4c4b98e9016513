// Package afe models the analog front end of the impedance measurement
// board: a voltage sense stage and a current sense stage (TIA followed by a
// PGA), each behaving as a first-order low-pass system. The model predicts
// stage gain and phase lag at any frequency, which lets raw device readings
// be inverted back to physical impedance without an empirical calibration
// table.
package afe

import (
	"fmt"
	"math"
)

const (
	// VGBW is the voltage stage gain-bandwidth product (MHz).
	VGBW = 10.0
	// VGain is the INA331 instrumentation amplifier gain.
	VGain = 15.0
	// IGBW is the current stage gain-bandwidth product (MHz).
	IGBW = 40.0
	// TLVGain is the TLV9061 op-amp gain shared by both stages.
	TLVGain = 20.0
)

// TIAMode selects the transimpedance amplifier gain setting.
type TIAMode int

const (
	TIALow  TIAMode = 0
	TIAHigh TIAMode = 1
)

// Gain returns the transimpedance gain for the mode.
func (m TIAMode) Gain() float64 {
	if m == TIAHigh {
		return 7500.0
	}
	return 37.6
}

func (m TIAMode) String() string {
	if m == TIAHigh {
		return "high"
	}
	return "low"
}

// pgaGains maps PGA index 0-7 to the configured amplifier gain.
var pgaGains = [8]float64{1, 2, 5, 10, 20, 50, 100, 200}

// pgaCutoffMHz maps PGA index 0-7 to the stage corner frequency in MHz.
var pgaCutoffMHz = [8]float64{10.0, 3.8, 1.8, 1.8, 1.3, 0.9, 0.38, 0.23}

// PGAGain returns the gain for a PGA index, or 1 if the index is out of range.
func PGAGain(index int) float64 {
	if index < 0 || index >= len(pgaGains) {
		return 1
	}
	return pgaGains[index]
}

// GainMode identifies one combination of front-end gain settings. The device
// selects it per frequency point during auto-ranging, so every sweep record
// carries its own mode.
type GainMode struct {
	PGAIndex int
	TIA      TIAMode
}

// Valid reports whether the mode is one the hardware can actually select.
func (g GainMode) Valid() bool {
	return g.PGAIndex >= 0 && g.PGAIndex < len(pgaGains) &&
		(g.TIA == TIALow || g.TIA == TIAHigh)
}

func (g GainMode) String() string {
	return fmt.Sprintf("pga=%d tia=%s", g.PGAIndex, g.TIA)
}

// VoltageGain returns the voltage stage gain at the given frequency.
func VoltageGain(freqHz float64) float64 {
	fc := VGBW / VGain * 1e6
	return TLVGain * VGain / math.Sqrt(1+(freqHz/fc)*(freqHz/fc))
}

// VoltagePhase returns the voltage stage phase lag in degrees (negative).
func VoltagePhase(freqHz float64) float64 {
	fc := VGBW / VGain * 1e6
	return -math.Atan(freqHz/fc) * 180.0 / math.Pi
}

// CurrentGain returns the combined TIA+PGA stage gain at the given frequency.
func CurrentGain(freqHz float64, mode GainMode) float64 {
	tiaGain := mode.TIA.Gain()
	fcTIA := IGBW / tiaGain * 1e6
	fcPGA := pgaCutoff(mode.PGAIndex)

	return TLVGain * tiaGain / math.Sqrt(1+(freqHz/fcTIA)*(freqHz/fcTIA)) *
		PGAGain(mode.PGAIndex) / math.Sqrt(1+(freqHz/fcPGA)*(freqHz/fcPGA))
}

// CurrentPhase returns the current stage phase lag in degrees: the sum of
// the TIA and PGA arctangent lags, both negative-going.
func CurrentPhase(freqHz float64, mode GainMode) float64 {
	fcTIA := IGBW / mode.TIA.Gain() * 1e6
	fcPGA := pgaCutoff(mode.PGAIndex)

	return -math.Atan(freqHz/fcTIA)*180.0/math.Pi -
		math.Atan(freqHz/fcPGA)*180.0/math.Pi
}

// Response returns the voltage gain, current gain, and voltage-minus-current
// phase offset (degrees, normalized) at the given frequency and gain mode.
func Response(freqHz float64, mode GainMode) (vGain, iGain, phaseOffsetDeg float64) {
	vGain = VoltageGain(freqHz)
	iGain = CurrentGain(freqHz, mode)
	phaseOffsetDeg = NormalizePhase(VoltagePhase(freqHz) - CurrentPhase(freqHz, mode))
	return vGain, iGain, phaseOffsetDeg
}

// NormalizePhase wraps an angle into (-180, 180] degrees. Applied everywhere
// phases are combined or differenced, so results stay comparable no matter
// how far out of range the input is.
func NormalizePhase(deg float64) float64 {
	for deg > 180.0 {
		deg -= 360.0
	}
	for deg < -180.0 {
		deg += 360.0
	}
	return deg
}

func pgaCutoff(index int) float64 {
	if index < 0 || index >= len(pgaCutoffMHz) {
		return pgaCutoffMHz[0] * 1e6
	}
	return pgaCutoffMHz[index] * 1e6
}
