package calib

import (
	"errors"
	"fmt"

	"github.com/biopal/eiscal/pkg/afe"
)

// ErrNoCalibration is returned when the store holds no factor for a
// reading's key. The caller decides whether to skip the point; there is no
// interpolation between calibrated frequencies.
var ErrNoCalibration = errors.New("no calibration available")

// Reading is one raw device measurement as supplied by an upstream source:
// stage output magnitudes (V) and phases (deg), untouched by any gain
// correction.
type Reading struct {
	DUT    int
	Freq   int // Hz
	VMag   float64
	VPhase float64
	IMag   float64
	IPhase float64
	Gain   afe.GainMode
	Valid  bool
}

// Result is one final impedance value handed to a downstream sink.
type Result struct {
	DUT    int
	Freq   int     // Hz
	ZMag   float64 // ohm
	ZPhase float64 // deg
}

// Calibrator turns a raw reading into calibrated impedance. The empirical
// table and the analytic model are interchangeable implementations.
type Calibrator interface {
	Resolve(r Reading) (Result, error)
}

// StoreCalibrator resolves readings against a loaded calibration table by
// exact key lookup.
type StoreCalibrator struct {
	store Store
}

// Ensure StoreCalibrator implements Calibrator.
var _ Calibrator = (*StoreCalibrator)(nil)

// NewStoreCalibrator creates a calibrator over a loaded store.
func NewStoreCalibrator(store Store) *StoreCalibrator {
	return &StoreCalibrator{store: store}
}

// Resolve applies the stored factor for the reading's exact key.
func (c *StoreCalibrator) Resolve(r Reading) (Result, error) {
	if r.IMag <= 0 {
		return Result{}, fmt.Errorf("reading at %d Hz: non-positive current magnitude", r.Freq)
	}

	factor, ok := c.store[Key{Freq: r.Freq, TIA: r.Gain.TIA, PGAIndex: r.Gain.PGAIndex}]
	if !ok {
		return Result{}, fmt.Errorf("%d Hz (%s): %w", r.Freq, r.Gain, ErrNoCalibration)
	}

	phaseDiff := afe.NormalizePhase(r.VPhase - r.IPhase)

	return Result{
		DUT:    r.DUT,
		Freq:   r.Freq,
		ZMag:   factor.ZMagGain * (r.VMag / r.IMag),
		ZPhase: afe.NormalizePhase(phaseDiff + factor.PhaseOffsetDeg),
	}, nil
}

// ModelCalibrator resolves readings with the analytic front-end model:
// magnitudes are divided by the stage gains and the model's phase offset is
// subtracted from the raw phase difference. It is applicable at any
// frequency.
type ModelCalibrator struct{}

// Ensure ModelCalibrator implements Calibrator.
var _ Calibrator = (*ModelCalibrator)(nil)

// NewModelCalibrator creates a calibrator backed by the analytic model.
func NewModelCalibrator() *ModelCalibrator {
	return &ModelCalibrator{}
}

// Resolve inverts the front-end response at the reading's frequency.
func (c *ModelCalibrator) Resolve(r Reading) (Result, error) {
	if r.IMag <= 0 {
		return Result{}, fmt.Errorf("reading at %d Hz: non-positive current magnitude", r.Freq)
	}

	vGain, iGain, phaseOffset := afe.Response(float64(r.Freq), r.Gain)

	vActual := r.VMag / vGain
	iActual := r.IMag / iGain
	phaseDiff := afe.NormalizePhase(r.VPhase - r.IPhase)

	return Result{
		DUT:    r.DUT,
		Freq:   r.Freq,
		ZMag:   vActual / iActual,
		ZPhase: afe.NormalizePhase(phaseDiff - phaseOffset),
	}, nil
}
