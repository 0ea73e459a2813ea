package civilday

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestDateString(t *testing.T) {
	cal, err := New("America/Mexico_City")
	require.NoError(t, err)

	tests := []struct {
		name     string
		instant  time.Time
		expected string
	}{
		{
			name:     "late evening UTC-6 is still the previous day",
			instant:  time.Date(2026, 10, 16, 5, 30, 0, 0, time.UTC),
			expected: "2026-10-15",
		},
		{
			name:     "after local midnight rolls over",
			instant:  time.Date(2026, 10, 16, 6, 0, 0, 0, time.UTC),
			expected: "2026-10-16",
		},
		{
			name:     "instant expressed in a foreign zone",
			instant:  time.Date(2026, 10, 16, 7, 0, 0, 0, time.FixedZone("CEST", 2*3600)),
			expected: "2026-10-15",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, cal.DateString(tt.instant))
		})
	}
}

func TestDateStringIgnoresHostTimezone(t *testing.T) {
	cal, err := New("America/Mexico_City")
	require.NoError(t, err)

	original := time.Local
	t.Cleanup(func() { time.Local = original })

	instant := time.Date(2026, 3, 1, 4, 15, 0, 0, time.UTC)
	var seen []string
	for _, zone := range []string{"UTC", "Asia/Tokyo", "America/Los_Angeles", "Pacific/Kiritimati"} {
		loc, err := time.LoadLocation(zone)
		require.NoError(t, err)
		time.Local = loc
		seen = append(seen, cal.DateString(instant.In(time.Local)))
	}

	for _, got := range seen {
		assert.Equal(t, "2026-02-28", got)
	}
}

func TestTodayAndIsToday(t *testing.T) {
	now := time.Date(2026, 10, 16, 18, 0, 0, 0, time.UTC)
	cal, err := New("America/Mexico_City", WithClock(fixedClock(now)))
	require.NoError(t, err)

	assert.Equal(t, "2026-10-16", cal.Today())
	assert.True(t, cal.IsToday(now.Add(-time.Hour)))
	assert.False(t, cal.IsToday(now.Add(-24*time.Hour)))
	assert.True(t, cal.IsTodayDate("2026-10-16"))
	assert.False(t, cal.IsTodayDate("2026-10-15"))
}

func TestNewDefaultsAndErrors(t *testing.T) {
	cal, err := New("")
	require.NoError(t, err)
	assert.Equal(t, DefaultTimezone, cal.Location().String())

	_, err = New("Mars/Olympus_Mons")
	assert.Error(t, err)
}

func TestStartOfDay(t *testing.T) {
	cal, err := New("America/Mexico_City")
	require.NoError(t, err)

	start, err := cal.StartOfDay("2026-10-16")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 16, 6, 0, 0, 0, time.UTC), start.UTC())

	_, err = cal.StartOfDay("16/10/2026")
	assert.Error(t, err)
}
