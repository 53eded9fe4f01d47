package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTTL(t *testing.T) {
	tests := []struct {
		input string
		want  time.Duration
	}{
		{"500ms", 500 * time.Millisecond},
		{"60s", time.Minute},
		{"15m", 15 * time.Minute},
		{"1h", time.Hour},
		{"30d", 30 * 24 * time.Hour},
		{"0s", 0},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseTTL(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseTTLRejectsOtherFormats(t *testing.T) {
	for _, input := range []string{"", "15", "m", "1h30m", "-5m", "1.5h", "10w", " 5m", "99999999999999999999d"} {
		_, err := ParseTTL(input)
		assert.Error(t, err, "input %q", input)
	}
}

func TestMustParseTTLPanics(t *testing.T) {
	assert.Panics(t, func() { MustParseTTL("bogus") })
	assert.Equal(t, 10*time.Minute, MustParseTTL("10m"))
}
