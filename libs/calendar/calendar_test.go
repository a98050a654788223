package calendar

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClock(t *testing.T) {
	cases := []struct {
		in      string
		want    Clock
		wantErr bool
	}{
		{in: "00:00", want: 0},
		{in: "09:30", want: 570},
		{in: "24:00", want: EndOfDay},
		{in: "9:30", wantErr: true},
		{in: "24:01", wantErr: true},
		{in: "12:60", wantErr: true},
		{in: "ab:cd", wantErr: true},
		{in: "+9:00", wantErr: true},
		{in: "-0:00", wantErr: true},
		{in: "09:+5", wantErr: true},
		{in: "1 :00", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseClock(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.in, got.String())
		})
	}
}

func TestDayOfWeek(t *testing.T) {
	for _, d := range Week {
		assert.Equal(t, d, DayOf(d.Weekday()))
	}
	d, err := ParseDayOfWeek("Thursday")
	require.NoError(t, err)
	assert.Equal(t, Thursday, d)

	_, err = ParseDayOfWeek("funday")
	require.Error(t, err)
}

func TestDateAtAndWeekday(t *testing.T) {
	d, err := ParseDate("2026-03-09")
	require.NoError(t, err)
	assert.Equal(t, Monday, d.DayOfWeek())
	assert.Equal(t, "2026-03-10", d.AddDays(1).String())

	ny, err := LoadLocation("America/New_York")
	require.NoError(t, err)
	// 2026-03-08 is the US spring-forward date.
	start, end := MustDate("2026-03-08").Bounds(ny)
	assert.Equal(t, 23*time.Hour, end.Sub(start))

	at := d.At(MustClock("09:00"), ny)
	assert.Equal(t, "2026-03-09T13:00:00Z", at.UTC().Format(time.RFC3339))

	midnight := d.At(EndOfDay, time.UTC)
	assert.Equal(t, "2026-03-10T00:00:00Z", midnight.Format(time.RFC3339))

	_, err = ParseDate("2026-02-30")
	require.Error(t, err)
}

func TestLoadLocation(t *testing.T) {
	loc, err := LoadLocation("")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	_, err = LoadLocation("Mars/Olympus_Mons")
	require.ErrorIs(t, err, ErrInvalidTimezone)

	_, err = LoadLocation("Local")
	require.ErrorIs(t, err, ErrInvalidTimezone)
}

func TestWeeklyEntryValidate(t *testing.T) {
	require.NoError(t, WeeklyEntry{Day: Monday, Start: MustClock("09:00"), End: MustClock("17:00")}.Validate())
	require.Error(t, WeeklyEntry{Day: Monday, Start: MustClock("17:00"), End: MustClock("09:00")}.Validate())
	require.Error(t, WeeklyEntry{Day: "xyz", Start: 0, End: 60}.Validate())
}

func TestSameWeeklyIgnoresOrderAndDuplicates(t *testing.T) {
	a := []WeeklyEntry{
		{Day: Tuesday, Start: MustClock("13:00"), End: MustClock("17:00")},
		{Day: Monday, Start: MustClock("09:00"), End: MustClock("12:00")},
		{Day: Tuesday, Start: MustClock("09:00"), End: MustClock("12:00")},
	}
	b := []WeeklyEntry{a[1], a[2], a[0], a[0]}
	assert.True(t, SameWeekly(a, b))

	b[0].End = MustClock("12:30")
	assert.False(t, SameWeekly(a, b))

	norm := NormalizeWeekly(a)
	require.Len(t, norm, 3)
	assert.Equal(t, Monday, norm[0].Day)
	assert.Equal(t, MustClock("09:00"), norm[1].Start)

	assert.Len(t, EntriesFor(a, Tuesday), 2)
	assert.Empty(t, EntriesFor(a, Sunday))
}

func TestDateOverrideValidate(t *testing.T) {
	d := MustDate("2026-05-01")
	start, end := MustClock("13:00"), MustClock("15:00")

	require.NoError(t, DateOverride{Date: d, IsUnavailable: true}.Validate())
	require.NoError(t, DateOverride{Date: d, Start: &start, End: &end}.Validate())
	require.Error(t, DateOverride{Date: d}.Validate())
	require.Error(t, DateOverride{Date: d, Start: &end, End: &start}.Validate())
	require.Error(t, DateOverride{IsUnavailable: true}.Validate())
}

func TestCapacityPolicy(t *testing.T) {
	require.NoError(t, CapacityPolicy{Mode: CapacityFullyBooked}.Validate())
	require.NoError(t, CapacityPolicy{Mode: CapacityMaxPerDay, MaxPerDay: 2}.Validate())
	require.Error(t, CapacityPolicy{Mode: CapacityMaxPerDay}.Validate())
	require.Error(t, CapacityPolicy{Mode: "weekly"}.Validate())

	limit, ok := CapacityPolicy{Mode: CapacityMaxPerDay, MaxPerDay: 2}.DailyLimit()
	assert.True(t, ok)
	assert.Equal(t, 2, limit)

	_, ok = CapacityPolicy{Mode: CapacityFullyBooked, MaxPerDay: 2}.DailyLimit()
	assert.False(t, ok)
}

func TestBookingOverlapIsHalfOpen(t *testing.T) {
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	b := Booking{Start: base, End: base.Add(time.Hour), Status: StatusPending}

	assert.True(t, b.Active())
	assert.True(t, b.Overlaps(base.Add(30*time.Minute), base.Add(90*time.Minute)))
	assert.False(t, b.Overlaps(base.Add(time.Hour), base.Add(2*time.Hour)))
	assert.False(t, b.Overlaps(base.Add(-time.Hour), base))

	b.Status = StatusCancelled
	assert.False(t, b.Active())
}

func TestOverrideJSON(t *testing.T) {
	start, end := MustClock("13:00"), MustClock("15:00")
	o := DateOverride{ID: "ov-1", Date: MustDate("2026-05-01"), Start: &start, End: &end}
	raw, err := json.Marshal(o)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"ov-1","date":"2026-05-01","is_unavailable":false,"start_time":"13:00","end_time":"15:00"}`, string(raw))

	var back DateOverride
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, o.Date, back.Date)
	assert.Equal(t, start, *back.Start)
}
