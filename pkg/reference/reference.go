// Package reference loads ground-truth impedance spectra exported by the
// reference bench instrument and prepares them for calibration lookups.
//
// The instrument's CSV export is usually UTF-16-LE with a BOM; older
// firmware wrote UTF-8 or Latin-1. The loader detects the encoding and
// decodes accordingly.
package reference

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/biopal/eiscal/pkg/afe"
)

// Point is one ground-truth spectrum point: impedance magnitude in ohms and
// phase in degrees at an exact frequency.
type Point struct {
	Freq     float64 // Hz
	ZMag     float64 // ohm
	PhaseDeg float64
}

// ParseCSV loads a reference spectrum export. The file is decoded per its
// detected encoding, the header row (containing both "freq" and "hz") is
// located, and data rows are parsed as freq, neg_phase, idc, z_magnitude.
// The exported phase column is negated. Rows that fail to parse are
// skipped. An empty result is an error: a calibration run without ground
// truth is meaningless.
func ParseCSV(path string) ([]Point, error) {
	text, err := readTextFile(path)
	if err != nil {
		return nil, err
	}

	lines := strings.Split(text, "\n")

	dataStart := 0
	for i, line := range lines {
		lower := strings.ToLower(line)
		if strings.Contains(lower, "freq") && strings.Contains(lower, "hz") {
			dataStart = i + 1
			break
		}
	}
	if dataStart == 0 {
		return nil, fmt.Errorf("no data header found in %s", path)
	}

	var points []Point
	for _, line := range lines[dataStart:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		parts := strings.Split(line, ",")
		if len(parts) < 4 {
			continue
		}

		freq, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		negPhase, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		zMag, err3 := strconv.ParseFloat(strings.TrimSpace(parts[3]), 64)
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}

		points = append(points, Point{
			Freq:     freq,
			ZMag:     zMag,
			PhaseDeg: afe.NormalizePhase(-negPhase),
		})
	}

	if len(points) == 0 {
		return nil, fmt.Errorf("no valid data rows in %s", path)
	}

	return points, nil
}

// Lookup builds a truncated-hertz lookup table from a spectrum. Duplicate
// frequencies are not expected, but if present the last one wins.
func Lookup(points []Point) map[int]Point {
	table := make(map[int]Point, len(points))
	for _, p := range points {
		table[int(p.Freq)] = p
	}
	return table
}

// Average merges multiple spectra of the same sweep into one, grouping
// points by integer-truncated frequency to tolerate cross-run jitter. The
// representative frequency of each group is the arithmetic mean of the
// contributing exact frequencies; magnitude is averaged arithmetically and
// phase with the circular mean. The result is sorted by frequency.
func Average(spectra ...[]Point) []Point {
	type group struct {
		freqSum float64
		zSum    float64
		sinSum  float64
		cosSum  float64
		n       int
	}

	groups := make(map[int]*group)
	for _, spectrum := range spectra {
		for _, p := range spectrum {
			key := int(p.Freq)
			g, ok := groups[key]
			if !ok {
				g = &group{}
				groups[key] = g
			}
			g.freqSum += p.Freq
			g.zSum += p.ZMag
			rad := p.PhaseDeg * math.Pi / 180.0
			g.sinSum += math.Sin(rad)
			g.cosSum += math.Cos(rad)
			g.n++
		}
	}

	out := make([]Point, 0, len(groups))
	for _, g := range groups {
		k := float64(g.n)
		out = append(out, Point{
			Freq:     g.freqSum / k,
			ZMag:     g.zSum / k,
			PhaseDeg: math.Atan2(g.sinSum/k, g.cosSum/k) * 180.0 / math.Pi,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Freq < out[j].Freq })

	return out
}

// readTextFile reads a file and decodes it to UTF-8. A UTF-16 BOM selects
// the matching decoder; BOM-less files with interleaved NUL bytes are
// treated as UTF-16-LE (ASCII-range text exported that way has a NUL in
// every even position); otherwise valid UTF-8 is taken as-is and anything
// else falls back to Latin-1.
func readTextFile(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read reference file: %w", err)
	}

	switch {
	case bytes.HasPrefix(raw, []byte{0xFF, 0xFE}):
		return decodeWith(raw, unicode.UTF16(unicode.LittleEndian, unicode.UseBOM))
	case bytes.HasPrefix(raw, []byte{0xFE, 0xFF}):
		return decodeWith(raw, unicode.UTF16(unicode.BigEndian, unicode.UseBOM))
	case bytes.Contains(raw, []byte{0x00}):
		return decodeWith(raw, unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM))
	case utf8.Valid(raw):
		return string(raw), nil
	default:
		return decodeWith(raw, charmap.ISO8859_1)
	}
}

func decodeWith(raw []byte, enc encoding.Encoding) (string, error) {
	decoded, err := io.ReadAll(transform.NewReader(bytes.NewReader(raw), enc.NewDecoder()))
	if err != nil {
		return "", fmt.Errorf("failed to decode reference file: %w", err)
	}
	return string(decoded), nil
}
