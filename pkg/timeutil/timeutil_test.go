package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var almaty = time.FixedZone("Asia/Almaty", 5*60*60)

func TestIsSameDay_AcrossTimezones(t *testing.T) {
	// 23:30 UTC is already the next day in Almaty (+5).
	t1 := time.Date(2025, 3, 10, 23, 30, 0, 0, time.UTC)
	t2 := time.Date(2025, 3, 11, 2, 0, 0, 0, time.UTC)

	assert.False(t, IsSameDay(t1, t2, time.UTC))
	assert.True(t, IsSameDay(t1, t2, almaty))
}

func TestIsConsecutiveDay(t *testing.T) {
	day1 := time.Date(2025, 3, 10, 21, 0, 0, 0, time.UTC)
	day2 := time.Date(2025, 3, 11, 6, 0, 0, 0, time.UTC)
	day3 := time.Date(2025, 3, 12, 6, 0, 0, 0, time.UTC)

	assert.True(t, IsConsecutiveDay(day1, day2, time.UTC))
	assert.False(t, IsConsecutiveDay(day1, day3, time.UTC))
	assert.False(t, IsConsecutiveDay(day2, day1, time.UTC))
}

func TestDaysBetween(t *testing.T) {
	a := time.Date(2025, 3, 10, 23, 59, 0, 0, time.UTC)
	b := time.Date(2025, 3, 12, 0, 1, 0, 0, time.UTC)

	assert.Equal(t, 2, DaysBetween(a, b, time.UTC))
	assert.Equal(t, 2, DaysBetween(b, a, time.UTC))
	assert.Equal(t, 0, DaysBetween(a, a, time.UTC))
}

func TestParseClockTime(t *testing.T) {
	tests := []struct {
		input   string
		want    ClockTime
		wantErr bool
	}{
		{"08:30", ClockTime{8, 30}, false},
		{"23:59", ClockTime{23, 59}, false},
		{"0:05", ClockTime{0, 5}, false},
		{" 9:00 ", ClockTime{9, 0}, false},
		{"24:00", ClockTime{}, true},
		{"12:60", ClockTime{}, true},
		{"noon", ClockTime{}, true},
		{"12", ClockTime{}, true},
		{"", ClockTime{}, true},
	}

	for _, tt := range tests {
		got, err := ParseClockTime(tt.input)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.input)
			continue
		}
		assert.NoError(t, err, "input %q", tt.input)
		assert.Equal(t, tt.want, got)
	}
}

func TestClockTimeOn(t *testing.T) {
	ct := ClockTime{Hour: 8, Minute: 30}
	ref := time.Date(2025, 3, 10, 17, 45, 12, 0, almaty)

	at := ct.On(ref, almaty)
	assert.Equal(t, time.Date(2025, 3, 10, 8, 30, 0, 0, almaty), at)
}

func TestDateString(t *testing.T) {
	// 22:00 UTC on the 10th is 03:00 on the 11th in Almaty.
	ts := time.Date(2025, 3, 10, 22, 0, 0, 0, time.UTC)
	assert.Equal(t, "2025-03-10", DateString(ts, time.UTC))
	assert.Equal(t, "2025-03-11", DateString(ts, almaty))
}
