package gtfstime

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/railtracker/pkg/gtfs/models"
)

func chicago(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)
	return loc
}

func TestParseWallClock(t *testing.T) {
	tests := []struct {
		in      string
		want    WallClock
		wantErr bool
	}{
		{in: "08:00:00", want: WallClock{8, 0, 0}},
		{in: "8:05:09", want: WallClock{8, 5, 9}},
		{in: "25:15:00", want: WallClock{25, 15, 0}},
		{in: "47:59:59", want: WallClock{47, 59, 59}},
		{in: "08:60:00", wantErr: true},
		{in: "08:00", wantErr: true},
		{in: "aa:00:00", wantErr: true},
		{in: "-1:00:00", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseWallClock(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTime)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWallClockTotalSecondsAndString(t *testing.T) {
	w := WallClock{25, 15, 30}
	assert.Equal(t, 25*3600+15*60+30, w.TotalSeconds())
	assert.Equal(t, "25:15:30", w.String())

	days, clock := w.Normalize()
	assert.Equal(t, 1, days)
	assert.Equal(t, WallClock{1, 15, 30}, clock)
}

func TestToAbsoluteTimestampSummer(t *testing.T) {
	loc := chicago(t)

	got, err := ToAbsoluteTimestamp(models.Date{Year: 2024, Month: time.June, Day: 3}, "08:00:00", loc)
	require.NoError(t, err)
	assert.Equal(t, "2024-06-03T08:00:00-05:00", got)
}

func TestToAbsoluteTimestampWinter(t *testing.T) {
	loc := chicago(t)

	got, err := ToAbsoluteTimestamp(models.Date{Year: 2024, Month: time.January, Day: 15}, "17:45:00", loc)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-15T17:45:00-06:00", got)
}

func TestToAbsoluteTimestampCrossMidnight(t *testing.T) {
	loc := chicago(t)

	got, err := ToAbsoluteTimestamp(models.Date{Year: 2024, Month: time.June, Day: 3}, "25:15:00", loc)
	require.NoError(t, err)
	assert.Equal(t, "2024-06-04T01:15:00-05:00", got)
}

func TestToAbsoluteTimestampUsesAdjustedDateOffset(t *testing.T) {
	loc := chicago(t)

	// 2024-11-03 is the fall-back date; the service day starts on the 2nd
	// under CDT but 25:30 lands on the 3rd, which carries CST.
	got, err := ToAbsoluteTimestamp(models.Date{Year: 2024, Month: time.November, Day: 2}, "25:30:00", loc)
	require.NoError(t, err)
	assert.Equal(t, "2024-11-03T01:30:00-06:00", got)

	// Same-day wall clock keeps the pre-transition offset.
	got, err = ToAbsoluteTimestamp(models.Date{Year: 2024, Month: time.November, Day: 2}, "23:30:00", loc)
	require.NoError(t, err)
	assert.Equal(t, "2024-11-02T23:30:00-05:00", got)
}

func TestOverflowHoursRoundTrip(t *testing.T) {
	loc := chicago(t)
	base := models.Date{Year: 2024, Month: time.March, Day: 9}

	for hh := 24; hh <= 47; hh++ {
		wc := fmt.Sprintf("%02d:10:00", hh)
		got, err := ToAbsoluteTimestamp(base, wc, loc)
		require.NoError(t, err, wc)

		parsed, err := time.Parse(Layout, got)
		require.NoError(t, err)

		assert.Equal(t, base.AddDays(1), models.DateOf(parsed), wc)
		assert.Equal(t, hh-24, parsed.Hour(), wc)

		_, offset := parsed.Zone()
		_, want := base.AddDays(1).Noon(time.UTC).In(loc).Zone()
		assert.Equal(t, want, offset, wc)
	}
}

func TestToAbsoluteTimestampEmptyAndInvalid(t *testing.T) {
	loc := chicago(t)
	d := models.Date{Year: 2024, Month: time.June, Day: 3}

	got, err := ToAbsoluteTimestamp(d, "", loc)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = ToAbsoluteTimestamp(d, "8 o'clock", loc)
	assert.ErrorIs(t, err, ErrInvalidTime)

	_, err = ToAbsoluteTimestamp(models.Date{}, "08:00:00", loc)
	assert.ErrorIs(t, err, ErrInvalidDate)
}

func TestUTCOffsetFollowsDST(t *testing.T) {
	loc := chicago(t)

	assert.Equal(t, -6*3600, UTCOffset(models.Date{Year: 2024, Month: time.March, Day: 9}, loc))
	assert.Equal(t, -5*3600, UTCOffset(models.Date{Year: 2024, Month: time.March, Day: 10}, loc))
	assert.Equal(t, -5*3600, UTCOffset(models.Date{Year: 2024, Month: time.November, Day: 2}, loc))
	assert.Equal(t, -6*3600, UTCOffset(models.Date{Year: 2024, Month: time.November, Day: 3}, loc))
}

func TestNow(t *testing.T) {
	loc := chicago(t)

	// 03:30 UTC on the 4th is still the evening of the 3rd in Chicago.
	d, w := Now(time.Date(2024, 6, 4, 3, 30, 0, 0, time.UTC), loc)
	assert.Equal(t, models.Date{Year: 2024, Month: time.June, Day: 3}, d)
	assert.Equal(t, WallClock{22, 30, 0}, w)
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-06-03")
	require.NoError(t, err)
	assert.Equal(t, time.Monday, d.Weekday())

	_, err = ParseDate("06/03/2024")
	assert.ErrorIs(t, err, ErrInvalidDate)
}
