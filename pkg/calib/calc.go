// Package calib derives per-frequency, per-gain-setting calibration factors
// from reference spectra, persists them in a key-addressed table, and
// applies them (or the analytic front-end model) to raw device readings.
package calib

import (
	"log"

	"github.com/biopal/eiscal/pkg/afe"
	"github.com/biopal/eiscal/pkg/reference"
	"github.com/biopal/eiscal/pkg/sweep"
)

// Key uniquely identifies one calibration factor. Two passes at the same
// nominal frequency with different gain settings are distinct entries.
type Key struct {
	Freq     int // Hz, integer-truncated
	TIA      afe.TIAMode
	PGAIndex int
}

// Less orders keys ascending by (frequency, TIA mode, PGA index).
func (k Key) Less(other Key) bool {
	if k.Freq != other.Freq {
		return k.Freq < other.Freq
	}
	if k.TIA != other.TIA {
		return k.TIA < other.TIA
	}
	return k.PGAIndex < other.PGAIndex
}

// Factor is the correction stored per key: z_reference = z_raw * ZMagGain
// and phase_reference = phase_raw + PhaseOffsetDeg. A factor is always
// replaced wholesale, never partially updated.
type Factor struct {
	ZMagGain       float64
	PhaseOffsetDeg float64
}

// Point is one computed calibration point with its diagnostics. Only Key
// and Factor are persisted.
type Point struct {
	Key    Key
	Factor Factor

	ZObserved  float64 // ohm, raw device impedance
	ZReference float64 // ohm, ground truth
	ErrorPct   float64 // (observed - reference) / reference * 100
}

// Summary counts the outcomes of one calibration calculation for the run
// report.
type Summary struct {
	Produced       int
	NoReference    int
	InvalidCurrent int
}

// Calculate derives calibration factors by comparing observed sweep points
// against the reference lookup table (built with reference.Lookup).
// Observed points without ground truth at their truncated frequency, or
// with a non-positive current magnitude, are skipped with a warning.
func Calculate(ref map[int]reference.Point, observed []sweep.Observation) ([]Point, Summary) {
	points := make([]Point, 0, len(observed))
	var sum Summary

	for _, obs := range observed {
		refPoint, ok := ref[obs.Freq]
		if !ok {
			sum.NoReference++
			log.Printf("WARNING: no reference point for %d Hz - skipping", obs.Freq)
			continue
		}

		if obs.IMag <= 0 {
			sum.InvalidCurrent++
			log.Printf("WARNING: invalid current at %d Hz - skipping", obs.Freq)
			continue
		}

		zObserved := obs.VMag / obs.IMag

		points = append(points, Point{
			Key: Key{
				Freq:     obs.Freq,
				TIA:      obs.Gain.TIA,
				PGAIndex: obs.Gain.PGAIndex,
			},
			Factor: Factor{
				ZMagGain:       refPoint.ZMag / zObserved,
				PhaseOffsetDeg: afe.NormalizePhase(refPoint.PhaseDeg - obs.PhaseDeg),
			},
			ZObserved:  zObserved,
			ZReference: refPoint.ZMag,
			ErrorPct:   (zObserved - refPoint.ZMag) / refPoint.ZMag * 100.0,
		})
		sum.Produced++
	}

	return points, sum
}
