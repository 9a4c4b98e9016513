// Command impedance converts a captured sweep log into calibrated impedance
// values, using either the persistent calibration table or the analytic
// front-end model, and writes the results as CSV.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/biopal/eiscal/pkg/calib"
	"github.com/biopal/eiscal/pkg/config"
	"github.com/biopal/eiscal/pkg/device"
	"github.com/biopal/eiscal/pkg/sweep"
)

func main() {
	var (
		configFlag = flag.String("config", "config.yaml", "Configuration file path")
		inFlag     = flag.String("in", "", "Captured sweep log to convert (required)")
		calFlag    = flag.String("cal", "", "Calibration table path (empty = analytic model)")
		outFlag    = flag.String("o", "impedance.csv", "Output CSV path")
		dutsFlag   = flag.Int("duts", 0, "Number of DUTs in the capture (overrides config)")
	)
	flag.Parse()

	if *inFlag == "" {
		log.Fatalf("No input capture given (use -in)")
	}

	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *dutsFlag > 0 {
		cfg.Sweep.DUTs = *dutsFlag
	}

	var calibrator calib.Calibrator
	if *calFlag != "" {
		store, err := calib.Load(*calFlag)
		if err != nil {
			log.Fatalf("Failed to load calibration table: %v", err)
		}
		if len(store) == 0 {
			log.Fatalf("Calibration table %s is empty", *calFlag)
		}
		log.Printf("Using calibration table %s (%d entries)", *calFlag, len(store))
		calibrator = calib.NewStoreCalibrator(store)
	} else {
		log.Printf("Using analytic front-end model")
		calibrator = calib.NewModelCalibrator()
	}

	in, err := os.Open(*inFlag)
	if err != nil {
		log.Fatalf("Failed to open capture: %v", err)
	}
	defer in.Close()

	reader := sweep.NewReader(device.LinesFromReader(in), 0, 0)

	var results []calib.Result
	invalid := 0
	uncalibrated := 0

	for dut := 1; dut <= cfg.Sweep.DUTs; dut++ {
		voltage, current, err := reader.ReadDUT(dut)
		if err != nil {
			log.Fatalf("Failed to read DUT %d sweep: %v", dut, err)
		}

		obs, _ := sweep.Combine(voltage, current)
		for _, o := range obs {
			if !o.Valid {
				invalid++
				continue
			}

			result, err := calibrator.Resolve(calib.Reading{
				DUT:    dut,
				Freq:   o.Freq,
				VMag:   o.VMag,
				VPhase: o.VPhase,
				IMag:   o.IMag,
				IPhase: o.IPhase,
				Gain:   o.Gain,
				Valid:  o.Valid,
			})
			if err != nil {
				if errors.Is(err, calib.ErrNoCalibration) {
					uncalibrated++
					log.Printf("WARNING: %v - skipping", err)
					continue
				}
				log.Printf("WARNING: failed to resolve %d Hz: %v - skipping", o.Freq, err)
				continue
			}

			log.Printf("DUT %d, %6d Hz: |Z|=%10.2f ohm, phase=%7.2f deg",
				result.DUT, result.Freq, result.ZMag, result.ZPhase)
			results = append(results, result)
		}
	}

	if err := writeResults(*outFlag, results); err != nil {
		log.Fatalf("Failed to write results: %v", err)
	}

	fmt.Printf("Wrote %d impedance points to %s (%d invalid, %d without calibration)\n",
		len(results), *outFlag, invalid, uncalibrated)
}

// writeResults writes the downstream results CSV.
func writeResults(path string, results []calib.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	if _, err := fmt.Fprintln(f, "DUT,Frequency_Hz,Magnitude_Ohms,Phase_Deg"); err != nil {
		return err
	}
	for _, r := range results {
		if _, err := fmt.Fprintf(f, "%d,%d,%.6f,%.2f\n", r.DUT, r.Freq, r.ZMag, r.ZPhase); err != nil {
			return err
		}
	}

	return nil
}
