package ui

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatBytesAndRate(t *testing.T) {
	tests := []struct {
		n     int64
		bytes string
		rate  string
	}{
		{0, "0 B", "0 B/s"},
		{512, "512 B", "512 B/s"},
		{1024, "1.0 KiB", "1.0 KiB/s"},
		{15 * 1024, "15 KiB", "15 KiB/s"},
		{1536 * 1024, "1.5 MiB", "1.5 MiB/s"},
		{5 << 30, "5.0 GiB", "5.0 GiB/s"},
	}
	for _, tt := range tests {
		t.Run(tt.bytes, func(t *testing.T) {
			assert.Equal(t, tt.bytes, FormatBytes(tt.n))
			assert.Equal(t, tt.rate, FormatRate(float64(tt.n)))
		})
	}
	assert.Equal(t, "-2.0 KiB", FormatBytes(-2048))
	assert.Equal(t, "0 B/s", FormatRate(-1))
	assert.Equal(t, "0 B/s", FormatRate(0.4), "sub-byte speeds read as stalled")
}

func TestFormatCount(t *testing.T) {
	assert.Equal(t, "0", FormatCount(0))
	assert.Equal(t, "999", FormatCount(999))
	assert.Equal(t, "14,302", FormatCount(14302))
	assert.Equal(t, "1,000,000", FormatCount(1000000))
	assert.Equal(t, "-1,000", FormatCount(-1000))
}

func TestFormatDurations(t *testing.T) {
	tests := []struct {
		d       time.Duration
		elapsed string
		eta     string
	}{
		{0, "0s", "--"},
		{-time.Second, "0s", "--"},
		{1400 * time.Millisecond, "1s", "1s"},
		{3*time.Minute + 17*time.Second, "3m 17s", "3m 17s"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1h 02m 03s", "1h 02m 03s"},
	}
	for _, tt := range tests {
		t.Run(tt.elapsed, func(t *testing.T) {
			assert.Equal(t, tt.elapsed, FormatDuration(tt.d))
			assert.Equal(t, tt.eta, FormatETA(tt.d))
		})
	}
}
