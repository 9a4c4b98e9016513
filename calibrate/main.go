// Command calibrate runs measurement sweeps against the board, compares
// them with a reference spectrum, and merges the resulting calibration
// factors into the persistent calibration table.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/biopal/eiscal/pkg/calib"
	"github.com/biopal/eiscal/pkg/config"
	"github.com/biopal/eiscal/pkg/device"
	"github.com/biopal/eiscal/pkg/reference"
	"github.com/biopal/eiscal/pkg/sweep"
)

func main() {
	var (
		portFlag   = flag.String("p", "", "Serial port override (e.g., COM3 or /dev/ttyUSB0)")
		configFlag = flag.String("config", "config.yaml", "Configuration file path")
		refFlag    = flag.String("ref", "", "Reference spectrum CSV (overrides config)")
		outFlag    = flag.String("out", "", "Calibration table path (overrides config)")
		passesFlag = flag.Int("passes", 0, "Sweep passes to average (overrides config)")
		mockFlag   = flag.Bool("mock", false, "Use mocked device instead of serial port")
	)
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}
	if *refFlag != "" {
		cfg.Reference.Path = *refFlag
	}
	if *outFlag != "" {
		cfg.Calibration.StorePath = *outFlag
	}
	if *passesFlag > 0 {
		cfg.Sweep.Passes = *passesFlag
	}

	if cfg.Reference.Path == "" {
		log.Fatalf("No reference spectrum given (use -ref or set reference.path in config)")
	}

	refPoints, err := reference.ParseCSV(cfg.Reference.Path)
	if err != nil {
		log.Fatalf("Failed to parse reference spectrum: %v", err)
	}
	log.Printf("Loaded %d reference points (%.1f - %.1f Hz)",
		len(refPoints), refPoints[0].Freq, refPoints[len(refPoints)-1].Freq)

	var dev device.Device
	if *mockFlag {
		dev = device.NewMock(&cfg.Mock)
	} else {
		dev = device.New(cfg.Serial.Port, cfg.Serial.BaudRate, 0)
	}

	if err := dev.Connect(); err != nil {
		log.Fatalf("Failed to connect to device: %v", err)
	}
	defer dev.Close()

	reader := sweep.NewReader(dev.Lines(), cfg.Sweep.MarkerTimeout, cfg.Sweep.RowTimeout)

	// passes[dut] collects one observation set per sweep pass.
	passes := make(map[int][][]sweep.Observation)
	mismatched := 0

	for pass := 1; pass <= cfg.Sweep.Passes; pass++ {
		log.Printf("Starting sweep pass %d/%d", pass, cfg.Sweep.Passes)
		if err := dev.StartSweep(cfg.Sweep.DUTs); err != nil {
			log.Fatalf("Failed to start sweep: %v", err)
		}

		for dut := 1; dut <= cfg.Sweep.DUTs; dut++ {
			voltage, current, err := reader.ReadDUT(dut)
			if err != nil {
				log.Fatalf("Sweep pass %d, DUT %d failed: %v", pass, dut, err)
			}

			obs, skipped := sweep.Combine(voltage, current)
			mismatched += skipped
			passes[dut] = append(passes[dut], obs)
			log.Printf("Pass %d, DUT %d: %d points", pass, dut, len(obs))
		}
	}

	existing, err := calib.Load(cfg.Calibration.StorePath)
	if err != nil {
		log.Fatalf("Failed to load calibration table: %v", err)
	}
	if len(existing) > 0 {
		log.Printf("Loaded %d existing calibration points", len(existing))
	}

	lookup := reference.Lookup(refPoints)

	var allPoints []calib.Point
	var total calib.Summary
	for dut := 1; dut <= cfg.Sweep.DUTs; dut++ {
		averaged := sweep.Average(passes[dut]...)

		points, sum := calib.Calculate(lookup, averaged)
		for _, p := range points {
			log.Printf("%6d Hz: Z_obs=%8.1f ohm, Z_ref=%8.1f ohm, gain=%.6f, offset=%6.2f deg (err %+.1f%%)",
				p.Key.Freq, p.ZObserved, p.ZReference,
				p.Factor.ZMagGain, p.Factor.PhaseOffsetDeg, p.ErrorPct)
		}

		allPoints = append(allPoints, points...)
		total.Produced += sum.Produced
		total.NoReference += sum.NoReference
		total.InvalidCurrent += sum.InvalidCurrent
	}

	if err := calib.MergeSave(cfg.Calibration.StorePath, existing, allPoints); err != nil {
		log.Fatalf("Failed to save calibration table: %v", err)
	}

	fmt.Printf("Calibration complete: %d points written to %s (%d total entries)\n",
		total.Produced, cfg.Calibration.StorePath, len(existing))
	fmt.Printf("Skipped: %d without reference, %d with invalid current, %d malformed rows, %d frequency mismatches\n",
		total.NoReference, total.InvalidCurrent, reader.Malformed(), mismatched)
}
