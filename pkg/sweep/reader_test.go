package sweep

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biopal/eiscal/pkg/afe"
)

func TestParseRecord(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    Record
		wantErr bool
	}{
		{
			name: "valid row",
			line: "1000,1500,-3000,2,0,1",
			want: Record{
				Freq:     1000,
				Mag:      1.5,
				PhaseDeg: -30.0,
				Gain:     afe.GainMode{PGAIndex: 2, TIA: afe.TIALow},
				Valid:    true,
			},
		},
		{
			name: "valid row - high TIA, invalid point",
			line: "50000,250,4500,7,1,0",
			want: Record{
				Freq:     50000,
				Mag:      0.25,
				PhaseDeg: 45.0,
				Gain:     afe.GainMode{PGAIndex: 7, TIA: afe.TIAHigh},
				Valid:    false,
			},
		},
		{
			name: "valid row - extra fields ignored",
			line: "100,1000,0,0,0,1,extra,fields",
			want: Record{
				Freq:     100,
				Mag:      1.0,
				PhaseDeg: 0.0,
				Gain:     afe.GainMode{PGAIndex: 0, TIA: afe.TIALow},
				Valid:    true,
			},
		},
		{
			name: "valid row - whitespace tolerated",
			line: " 200 , 500 , -100 , 1 , 0 , 1 ",
			want: Record{
				Freq:     200,
				Mag:      0.5,
				PhaseDeg: -1.0,
				Gain:     afe.GainMode{PGAIndex: 1, TIA: afe.TIALow},
				Valid:    true,
			},
		},
		{
			name:    "too few fields",
			line:    "1000,1500,-3000,2,0",
			wantErr: true,
		},
		{
			name:    "non-numeric frequency",
			line:    "abc,1500,-3000,2,0,1",
			wantErr: true,
		},
		{
			name:    "non-numeric magnitude",
			line:    "1000,x,-3000,2,0,1",
			wantErr: true,
		},
		{
			name:    "non-numeric phase",
			line:    "1000,1500,?,2,0,1",
			wantErr: true,
		},
		{
			name:    "tia mode out of range",
			line:    "1000,1500,-3000,2,2,1",
			wantErr: true,
		},
		{
			name:    "debug chatter",
			line:    "Sweep complete, powering down",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseRecord(tt.line)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestSectionCount(t *testing.T) {
	tests := []struct {
		name string
		line string
		want int
	}{
		{"normal marker", "DUT_1_VOLTAGE,25", 25},
		{"current marker", "DUT_2_CURRENT,3", 3},
		{"missing count", "DUT_1_VOLTAGE", 0},
		{"unparsable count", "DUT_1_VOLTAGE,abc", 0},
		{"negative count", "DUT_1_VOLTAGE,-5", 0},
		{"count with whitespace", "DUT_1_VOLTAGE, 7", 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sectionCount(tt.line))
		})
	}
}

func feedLines(lines ...string) <-chan string {
	ch := make(chan string, len(lines))
	for _, l := range lines {
		ch <- l
	}
	return ch
}

func TestReader_ReadSection(t *testing.T) {
	ch := feedLines(
		"Boot v1.4.2",
		"Measuring DUT 1...",
		"DUT_1_VOLTAGE,3",
	)
	r := NewReader(ch, time.Second, time.Second)

	count, err := r.ReadSection("DUT_1_VOLTAGE")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestReader_ReadSection_Timeout(t *testing.T) {
	ch := make(chan string)
	r := NewReader(ch, 50*time.Millisecond, time.Second)

	_, err := r.ReadSection("DUT_1_VOLTAGE")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestReader_ReadSection_StreamClosed(t *testing.T) {
	ch := make(chan string)
	close(ch)
	r := NewReader(ch, time.Second, time.Second)

	_, err := r.ReadSection("DUT_1_VOLTAGE")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestReader_ReadRecords(t *testing.T) {
	ch := feedLines(
		"100,1000,0,2,0,1",
		"200,900,-500,2,0,1",
		"500,800,-1000,2,0,1",
	)
	r := NewReader(ch, time.Second, time.Second)

	records, err := r.ReadRecords(3)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, 100, records[0].Freq)
	assert.Equal(t, 200, records[1].Freq)
	assert.Equal(t, 500, records[2].Freq)
	assert.Equal(t, 0, r.Malformed())
}

func TestReader_ReadRecords_SkipsMalformed(t *testing.T) {
	// Three physical lines are consumed; the garbage one yields no record
	// but still counts as one of the expected lines.
	ch := feedLines(
		"100,1000,0,2,0,1",
		"stack trace: something went sideways",
		"500,800,-1000,2,0,1",
	)
	r := NewReader(ch, time.Second, time.Second)

	records, err := r.ReadRecords(3)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 100, records[0].Freq)
	assert.Equal(t, 500, records[1].Freq)
	assert.Equal(t, 1, r.Malformed())
}

func TestReader_ReadRecords_Timeout(t *testing.T) {
	ch := make(chan string, 1)
	ch <- "100,1000,0,2,0,1"
	r := NewReader(ch, time.Second, 50*time.Millisecond)

	records, err := r.ReadRecords(2)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	// The row that did arrive is still returned.
	assert.Len(t, records, 1)
}

func TestReader_ReadDUT(t *testing.T) {
	ch := feedLines(
		"Sweep 1: measuring DUT 1",
		"DUT_1_VOLTAGE,2",
		"100,1000,0,2,0,1",
		"1000,900,-500,2,0,1",
		"debug: switching to current channel",
		"DUT_1_CURRENT,2",
		"100,2000,100,2,0,1",
		"1000,1800,-200,2,0,1",
	)
	r := NewReader(ch, time.Second, time.Second)

	voltage, current, err := r.ReadDUT(1)
	require.NoError(t, err)
	require.Len(t, voltage, 2)
	require.Len(t, current, 2)
	assert.Equal(t, 100, voltage[0].Freq)
	assert.Equal(t, 1000, current[1].Freq)
}

func TestReader_ReadDUT_MissingCurrentSection(t *testing.T) {
	ch := feedLines(
		"DUT_1_VOLTAGE,1",
		"100,1000,0,2,0,1",
	)
	r := NewReader(ch, 50*time.Millisecond, time.Second)

	voltage, _, err := r.ReadDUT(1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	// The voltage section read before the failure is still returned.
	assert.Len(t, voltage, 1)
}
