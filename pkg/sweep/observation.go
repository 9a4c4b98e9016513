package sweep

import (
	"log"
	"math"

	"github.com/biopal/eiscal/pkg/afe"
)

// Observation is one matched voltage/current pair at a single frequency.
// PhaseDeg is the normalized voltage-minus-current phase difference.
type Observation struct {
	Freq     int // Hz
	VMag     float64
	VPhase   float64
	IMag     float64
	IPhase   float64
	PhaseDeg float64
	Gain     afe.GainMode
	Valid    bool
}

// Combine joins voltage and current records pairwise by index, preserving
// the voltage-side order. A frequency mismatch at an index drops that pair
// with a warning; impedance at mixed frequencies is meaningless. Returns the
// observations and the number of dropped pairs.
func Combine(voltage, current []Record) ([]Observation, int) {
	if len(voltage) != len(current) {
		log.Printf("WARNING: sweep record counts differ (%d voltage vs %d current)",
			len(voltage), len(current))
	}

	n := min(len(voltage), len(current))
	obs := make([]Observation, 0, n)
	mismatched := 0

	for i := 0; i < n; i++ {
		v, c := voltage[i], current[i]
		if v.Freq != c.Freq {
			mismatched++
			log.Printf("WARNING: frequency mismatch at row %d (%d Hz voltage vs %d Hz current) - skipping",
				i, v.Freq, c.Freq)
			continue
		}

		obs = append(obs, Observation{
			Freq:     v.Freq,
			VMag:     v.Mag,
			VPhase:   v.PhaseDeg,
			IMag:     c.Mag,
			IPhase:   c.PhaseDeg,
			PhaseDeg: afe.NormalizePhase(v.PhaseDeg - c.PhaseDeg),
			Gain:     v.Gain,
			Valid:    v.Valid && c.Valid && c.Mag > 0,
		})
	}

	return obs, mismatched
}

// Average merges two or more passes of the same sweep element-wise:
// arithmetic mean of magnitudes, circular mean of the phase difference, and
// logical AND of validity. Indices where the passes disagree on frequency
// are dropped with a warning. The gain mode is taken from the first pass.
func Average(runs ...[]Observation) []Observation {
	if len(runs) == 0 {
		return nil
	}
	if len(runs) == 1 {
		out := make([]Observation, len(runs[0]))
		copy(out, runs[0])
		return out
	}

	n := len(runs[0])
	for _, run := range runs[1:] {
		if len(run) != n {
			log.Printf("WARNING: sweep lengths differ (%d vs %d)", n, len(run))
			n = min(n, len(run))
		}
	}

	out := make([]Observation, 0, n)

	for i := 0; i < n; i++ {
		first := runs[0][i]
		mismatch := false
		for _, run := range runs[1:] {
			if run[i].Freq != first.Freq {
				log.Printf("WARNING: frequency mismatch (%d vs %d) - skipping",
					first.Freq, run[i].Freq)
				mismatch = true
				break
			}
		}
		if mismatch {
			continue
		}

		var vSum, iSum, sinSum, cosSum float64
		valid := true
		for _, run := range runs {
			p := run[i]
			vSum += p.VMag
			iSum += p.IMag
			rad := p.PhaseDeg * math.Pi / 180.0
			sinSum += math.Sin(rad)
			cosSum += math.Cos(rad)
			valid = valid && p.Valid
		}

		k := float64(len(runs))
		out = append(out, Observation{
			Freq:     first.Freq,
			VMag:     vSum / k,
			IMag:     iSum / k,
			PhaseDeg: math.Atan2(sinSum/k, cosSum/k) * 180.0 / math.Pi,
			Gain:     first.Gain,
			Valid:    valid,
		})
	}

	return out
}
