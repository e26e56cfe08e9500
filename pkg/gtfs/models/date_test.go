package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want Date
	}{
		{"2024-06-03", Date{2024, time.June, 3}},
		{"20240603", Date{2024, time.June, 3}},
		{" 2024-12-31 ", Date{2024, time.December, 31}},
	}

	for _, tt := range tests {
		got, err := ParseDate(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	for _, bad := range []string{"", "2024-13-01", "June 3", "2024/06/03"} {
		_, err := ParseDate(bad)
		assert.Error(t, err, bad)
	}
}

func TestDateWeekdayIsCivil(t *testing.T) {
	d := Date{2024, time.June, 3}
	assert.Equal(t, time.Monday, d.Weekday())

	// The weekday must not depend on any zone west of UTC.
	chicago, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)
	assert.Equal(t, d, DateOf(d.Noon(chicago)))
}

func TestDateArithmetic(t *testing.T) {
	d := Date{2024, time.December, 31}
	assert.Equal(t, Date{2025, time.January, 1}, d.AddDays(1))
	assert.Equal(t, Date{2024, time.March, 1}, Date{2024, time.February, 28}.AddDays(2))
	assert.True(t, d.After(Date{2024, time.June, 30}))
	assert.True(t, Date{2024, time.June, 1}.Before(Date{2024, time.June, 2}))
	assert.Equal(t, 0, d.Compare(Date{2024, time.December, 31}))
}

func TestDateScanAndJSON(t *testing.T) {
	var d Date
	require.NoError(t, d.Scan("20240603"))
	assert.Equal(t, "2024-06-03", d.String())

	require.NoError(t, d.Scan([]byte("2024-06-04")))
	assert.Equal(t, "2024-06-04", d.String())

	require.NoError(t, d.Scan(time.Date(2024, 6, 5, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2024-06-05", d.String())

	assert.Error(t, d.Scan(42))

	b, err := json.Marshal(Date{2024, time.June, 3})
	require.NoError(t, err)
	assert.Equal(t, `"2024-06-03"`, string(b))

	var back Date
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, Date{2024, time.June, 3}, back)
}
