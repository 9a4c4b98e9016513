// Package sweep parses the board's line-oriented sweep protocol and turns
// matched voltage/current records into impedance observations.
//
// A sweep section starts with a marker line "DUT_<n>_VOLTAGE,<count>" or
// "DUT_<n>_CURRENT,<count>" followed by <count> CSV rows:
//
//	freq_hz,magnitude*1000,phase*100,pga_index,tia_mode,valid
//
// Anything else on the stream (boot banners, debug prints) is ignored.
package sweep

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/biopal/eiscal/pkg/afe"
)

// ErrTimeout is returned when the device produces no matching line within
// the configured bound. The caller decides whether to retry the sweep.
var ErrTimeout = errors.New("timeout waiting for device data")

// ErrStreamClosed is returned when the line source closes mid-section.
var ErrStreamClosed = errors.New("device stream closed")

const (
	// DefaultMarkerTimeout bounds the wait for a section marker. A full
	// sweep can take the board up to two minutes.
	DefaultMarkerTimeout = 120 * time.Second
	// DefaultRowTimeout bounds the wait for a single data row.
	DefaultRowTimeout = 5 * time.Second
)

// Record is one decoded per-frequency measurement row from either wire
// section. Magnitude and phase carry the wire's integer scaling already
// removed (magnitude field / 1000, phase field / 100).
type Record struct {
	Freq     int     // Hz
	Mag      float64 // stage output magnitude (V)
	PhaseDeg float64
	Gain     afe.GainMode
	Valid    bool
}

// Reader consumes a line stream for one capture session. It is not safe for
// concurrent use; create one Reader per stream.
type Reader struct {
	lines         <-chan string
	markerTimeout time.Duration
	rowTimeout    time.Duration

	malformed int
}

// NewReader creates a Reader over a line channel with the given timeouts.
// Zero timeouts select the defaults.
func NewReader(lines <-chan string, markerTimeout, rowTimeout time.Duration) *Reader {
	if markerTimeout == 0 {
		markerTimeout = DefaultMarkerTimeout
	}
	if rowTimeout == 0 {
		rowTimeout = DefaultRowTimeout
	}

	return &Reader{
		lines:         lines,
		markerTimeout: markerTimeout,
		rowTimeout:    rowTimeout,
	}
}

// Malformed returns the number of data rows skipped so far because they
// failed to parse.
func (r *Reader) Malformed() int {
	return r.malformed
}

// ReadSection discards lines until one containing marker arrives, then
// returns the row count announced after the marker. Returns ErrTimeout if
// no marker arrives within the marker timeout.
func (r *Reader) ReadSection(marker string) (int, error) {
	deadline := time.NewTimer(r.markerTimeout)
	defer deadline.Stop()

	for {
		select {
		case line, ok := <-r.lines:
			if !ok {
				return 0, fmt.Errorf("waiting for %q: %w", marker, ErrStreamClosed)
			}
			if !strings.Contains(line, marker) {
				continue
			}
			return sectionCount(line), nil
		case <-deadline.C:
			return 0, fmt.Errorf("waiting for %q: %w", marker, ErrTimeout)
		}
	}
}

// ReadRecords reads exactly n physical lines and best-effort parses each.
// Malformed lines are skipped (and counted) without consuming an extra
// line, so fewer than n records may be returned. A row timeout or a closed
// stream returns the records collected so far along with the error.
func (r *Reader) ReadRecords(n int) ([]Record, error) {
	records := make([]Record, 0, n)

	for i := 0; i < n; i++ {
		select {
		case line, ok := <-r.lines:
			if !ok {
				return records, fmt.Errorf("data row %d/%d: %w", i+1, n, ErrStreamClosed)
			}
			rec, err := parseRecord(line)
			if err != nil {
				r.malformed++
				log.Printf("Skipping malformed data row %q: %v", line, err)
				continue
			}
			records = append(records, rec)
		case <-time.After(r.rowTimeout):
			return records, fmt.Errorf("data row %d/%d: %w", i+1, n, ErrTimeout)
		}
	}

	return records, nil
}

// ReadDUT reads one DUT's full sweep: the voltage section followed by the
// current section.
func (r *Reader) ReadDUT(dut int) (voltage, current []Record, err error) {
	count, err := r.ReadSection(fmt.Sprintf("DUT_%d_VOLTAGE", dut))
	if err != nil {
		return nil, nil, err
	}
	voltage, err = r.ReadRecords(count)
	if err != nil {
		return voltage, nil, err
	}

	count, err = r.ReadSection(fmt.Sprintf("DUT_%d_CURRENT", dut))
	if err != nil {
		return voltage, nil, err
	}
	current, err = r.ReadRecords(count)
	if err != nil {
		return voltage, current, err
	}

	return voltage, current, nil
}

// sectionCount extracts the row count from a marker line "DUT_n_KIND,count".
// A missing or unparsable count reads as zero.
func sectionCount(line string) int {
	parts := strings.Split(line, ",")
	if len(parts) < 2 {
		return 0
	}
	count, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || count < 0 {
		return 0
	}
	return count
}

// parseRecord decodes one wire data row. At least six comma-separated
// fields are required; extras are ignored.
func parseRecord(line string) (Record, error) {
	parts := strings.Split(line, ",")
	if len(parts) < 6 {
		return Record{}, fmt.Errorf("expected 6 comma-separated values, got %d", len(parts))
	}

	freq, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return Record{}, fmt.Errorf("invalid frequency: %w", err)
	}

	magScaled, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Record{}, fmt.Errorf("invalid magnitude: %w", err)
	}

	phaseScaled, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
	if err != nil {
		return Record{}, fmt.Errorf("invalid phase: %w", err)
	}

	pga, err := strconv.Atoi(strings.TrimSpace(parts[3]))
	if err != nil {
		return Record{}, fmt.Errorf("invalid pga index: %w", err)
	}

	tia, err := strconv.Atoi(strings.TrimSpace(parts[4]))
	if err != nil {
		return Record{}, fmt.Errorf("invalid tia mode: %w", err)
	}
	if tia != 0 && tia != 1 {
		return Record{}, fmt.Errorf("tia mode out of range: %d", tia)
	}

	valid, err := strconv.Atoi(strings.TrimSpace(parts[5]))
	if err != nil {
		return Record{}, fmt.Errorf("invalid valid flag: %w", err)
	}

	return Record{
		Freq:     freq,
		Mag:      magScaled / 1000.0,
		PhaseDeg: phaseScaled / 100.0,
		Gain:     afe.GainMode{PGAIndex: pga, TIA: afe.TIAMode(tia)},
		Valid:    valid == 1,
	}, nil
}
