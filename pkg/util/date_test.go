package util

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTime(t *testing.T) {
	want := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)

	cases := map[string]string{
		"rfc3339":      "2024-10-10T10:10:10Z",
		"rfc3339 nano": "2024-10-10T10:10:10.000Z",
		"offset":       "2024-10-10T12:10:10+02:00",
		"bare":         "2024-10-10T10:10:10",
		"unix":         strconv.FormatInt(want.Unix(), 10),
		"unix millis":  strconv.FormatInt(want.UnixMilli(), 10),
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			got, ok := ParseTime(in)
			require.True(t, ok)
			assert.True(t, want.Equal(got), "got %v", got)
		})
	}
}

func TestParseTimeDate(t *testing.T) {
	got, ok := ParseTime("2024-10-10")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 10, 10, 0, 0, 0, 0, time.UTC), got)
}

func TestParseTimeRejects(t *testing.T) {
	for _, in := range []string{"", "yesterday", "-5", "0"} {
		_, ok := ParseTime(in)
		assert.False(t, ok, in)
	}
}

func TestParseTimeDefault(t *testing.T) {
	def := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
	assert.Equal(t, def, ParseTimeDefault("", def))
	assert.Equal(t, def, ParseTimeDefault("garbage", def))
}

func TestParseIntDefault(t *testing.T) {
	assert.Equal(t, 7, ParseIntDefault(" 7 ", 1))
	assert.Equal(t, 1, ParseIntDefault("", 1))
	assert.Equal(t, 1, ParseIntDefault("x", 1))
}
