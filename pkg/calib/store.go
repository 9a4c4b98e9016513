package calib

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/biopal/eiscal/pkg/afe"
)

// storeHeader documents the column semantics at the top of every persisted
// table. The reserved column is vestigial (previously current_gain) and is
// always written as 1.0; it is kept so older firmware can still load the
// file.
const storeHeader = `# EIS Calibration Data
# Format: frequency_hz, tia_mode, pga_gain_index, z_mag_gain, unused, phase_offset_deg
# tia_mode: 0=low TIA, 1=high TIA
# pga_gain_index: 0-7 (maps to gains: 1, 2, 5, 10, 20, 50, 100, 200)
# z_mag_gain: Impedance magnitude calibration gain
# unused: Reserved (previously current_gain)

`

// Store is the in-memory calibration table, keyed by
// (frequency, TIA mode, PGA index). One writer per session; persistence is
// a full sorted rewrite.
type Store map[Key]Factor

// Load reads a calibration table from disk. A missing file yields an empty
// store. Comment lines (#-prefixed) and blank lines are ignored; rows that
// are not exactly six numeric fields are skipped silently, so a partially
// corrupt file still loads its intact rows.
func Load(path string) (Store, error) {
	store := make(Store)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return store, nil
		}
		return nil, fmt.Errorf("failed to open calibration file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, ",")
		if len(parts) != 6 {
			continue
		}

		freq, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
		tia, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
		pga, err3 := strconv.Atoi(strings.TrimSpace(parts[2]))
		zMagGain, err4 := strconv.ParseFloat(strings.TrimSpace(parts[3]), 64)
		_, err5 := strconv.ParseFloat(strings.TrimSpace(parts[4]), 64)
		phaseOffset, err6 := strconv.ParseFloat(strings.TrimSpace(parts[5]), 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil || err6 != nil {
			continue
		}

		store[Key{Freq: freq, TIA: afe.TIAMode(tia), PGAIndex: pga}] = Factor{
			ZMagGain:       zMagGain,
			PhaseOffsetDeg: phaseOffset,
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read calibration file: %w", err)
	}

	return store, nil
}

// MergeSave folds new calibration points into the store (replacing any
// existing factor at the same key, last write wins) and rewrites the file
// from scratch: header comment block, then every entry sorted ascending by
// (frequency, TIA mode, PGA index). The persisted file never contains
// duplicate keys.
func MergeSave(path string, store Store, points []Point) error {
	if store == nil {
		store = make(Store)
	}

	for _, p := range points {
		store[p.Key] = p.Factor
	}

	keys := make([]Key, 0, len(store))
	for k := range store {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	var sb strings.Builder
	sb.WriteString(storeHeader)
	for _, k := range keys {
		f := store[k]
		fmt.Fprintf(&sb, "%d,%d,%d,%.6f,%.6f,%.2f\n",
			k.Freq, int(k.TIA), k.PGAIndex, f.ZMagGain, 1.0, f.PhaseOffsetDeg)
	}

	if err := os.WriteFile(path, []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("failed to write calibration file: %w", err)
	}

	return nil
}
