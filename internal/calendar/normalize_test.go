package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalendarName(t *testing.T) {
	assert.Equal(t, "Work", CalendarName("calendar.work"))
	assert.Equal(t, "Work shifts", CalendarName("calendar.work_Shifts"))
	assert.Equal(t, "Family feed", CalendarName("family_feed"))
}

func TestParseMoment(t *testing.T) {
	cph := time.FixedZone("CET", 3600)

	t.Run("date", func(t *testing.T) {
		m, err := ParseMoment("2024-01-05", cph)
		require.NoError(t, err)
		assert.True(t, m.Date)
		assert.True(t, m.Equal(time.Date(2024, 1, 5, 0, 0, 0, 0, cph)))
	})

	t.Run("timestamp with offset converts to location", func(t *testing.T) {
		m, err := ParseMoment("2024-01-05T08:00:00+00:00", cph)
		require.NoError(t, err)
		assert.False(t, m.Date)
		assert.Equal(t, 9, m.Hour())
		assert.Equal(t, cph, m.Location())
	})

	t.Run("naive timestamp is local", func(t *testing.T) {
		m, err := ParseMoment("2024-01-05T08:00:00", cph)
		require.NoError(t, err)
		assert.Equal(t, 8, m.Hour())
	})

	t.Run("space separated", func(t *testing.T) {
		m, err := ParseMoment("2024-01-05 08:00:00+01:00", cph)
		require.NoError(t, err)
		assert.Equal(t, 8, m.Hour())
	})

	t.Run("fractional seconds", func(t *testing.T) {
		_, err := ParseMoment("2024-01-05T08:00:00.123456+01:00", cph)
		require.NoError(t, err)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := ParseMoment("tomorrow-ish", cph)
		assert.Error(t, err)

		_, err = ParseMoment("2024-13-45", cph)
		assert.Error(t, err)
	})
}

func TestNormalize(t *testing.T) {
	ev, err := Normalize("calendar.home_stuff", RawEvent{
		Start:   "2024-01-05",
		End:     "2024-01-06",
		Summary: "Birthday",
	}, time.UTC)
	require.NoError(t, err)

	assert.Equal(t, "Home stuff", ev.Calendar)
	assert.Equal(t, "calendar.home_stuff", ev.CalendarID)
	assert.Equal(t, "Birthday", ev.Summary)
	assert.Equal(t, "", ev.Description)
	assert.Equal(t, "", ev.Location)
	assert.True(t, ev.Start.Date)
	assert.True(t, ev.AllDay())

	_, err = Normalize("calendar.home", RawEvent{Start: "2024-01-05", End: "soon"}, time.UTC)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "calendar.home")
	assert.Contains(t, err.Error(), "end")
}
