package calendar

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustMoment(t *testing.T, value string) Moment {
	t.Helper()
	m, err := ParseMoment(value, time.UTC)
	require.NoError(t, err)
	return m
}

func TestEvent_AllDay(t *testing.T) {
	tests := []struct {
		name  string
		start string
		end   string
		want  bool
	}{
		{"midnight to next midnight", "2024-01-01T00:00:00Z", "2024-01-02T00:00:00Z", true},
		{"date only single day", "2024-01-01", "2024-01-02", true},
		{"midnight to lunch", "2024-01-01T00:00:00Z", "2024-01-01T13:00:00Z", false},
		{"multi day dates", "2024-01-01", "2024-01-03", false},
		{"not at midnight", "2024-01-01T09:00:00Z", "2024-01-02T09:00:00Z", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := Event{Start: mustMoment(t, tt.start), End: mustMoment(t, tt.end)}
			assert.Equal(t, tt.want, ev.AllDay())
		})
	}
}

func TestEvent_AllDayAcrossDST(t *testing.T) {
	cph, err := time.LoadLocation("Europe/Copenhagen")
	if err != nil {
		t.Skip("tzdata not available")
	}

	start := Moment{Time: time.Date(2024, 3, 31, 0, 0, 0, 0, cph), Date: true}
	end := Moment{Time: time.Date(2024, 4, 1, 0, 0, 0, 0, cph), Date: true}

	// 23 hour day, still one calendar day
	assert.True(t, Event{Start: start, End: end}.AllDay())
}

func TestEvent_Equal(t *testing.T) {
	base := Event{
		Calendar:    "Work",
		Start:       mustMoment(t, "2024-01-01T09:00:00Z"),
		End:         mustMoment(t, "2024-01-01T10:00:00Z"),
		Summary:     "Standup",
		Description: "Daily",
		Location:    "Room 1",
	}

	same := base
	same.CalendarID = "calendar.work"
	assert.True(t, base.Equal(same), "calendar id is not part of equality")

	otherLocation := base
	otherLocation.Location = "Room 2"
	assert.False(t, base.Equal(otherLocation))

	otherDay := base
	otherDay.Start = mustMoment(t, "2024-01-02T09:00:00Z")
	otherDay.End = mustMoment(t, "2024-01-02T10:00:00Z")
	assert.False(t, base.Equal(otherDay))
}

func TestEvent_Overlaps(t *testing.T) {
	ev := Event{
		Start: mustMoment(t, "2024-01-10T09:00:00Z"),
		End:   mustMoment(t, "2024-01-10T10:00:00Z"),
	}
	at := func(s string) time.Time { return mustMoment(t, s).Time }

	assert.True(t, ev.Overlaps(at("2024-01-10T00:00:00Z"), at("2024-01-11T00:00:00Z")), "range contains event")
	assert.True(t, ev.Overlaps(at("2024-01-10T09:30:00Z"), at("2024-01-10T09:45:00Z")), "event contains range")
	assert.True(t, ev.Overlaps(at("2024-01-10T08:00:00Z"), at("2024-01-10T09:30:00Z")), "range covers start")
	assert.True(t, ev.Overlaps(at("2024-01-10T09:30:00Z"), at("2024-01-10T11:00:00Z")), "range covers end")
	assert.False(t, ev.Overlaps(at("2024-01-10T10:00:00Z"), at("2024-01-10T11:00:00Z")), "range starts at end")
	assert.False(t, ev.Overlaps(at("2024-01-10T08:00:00Z"), at("2024-01-10T09:00:00Z")), "range ends at start")
}

func TestMoment_JSON(t *testing.T) {
	data, err := json.Marshal(struct {
		A Moment `json:"a"`
		B Moment `json:"b"`
	}{
		A: mustMoment(t, "2024-01-01"),
		B: mustMoment(t, "2024-01-01T09:30:00Z"),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"2024-01-01","b":"2024-01-01T09:30:00Z"}`, string(data))
}

func TestMoment_JSONRoundTrip(t *testing.T) {
	ev := Event{
		Calendar: "Home",
		Start:    mustMoment(t, "2024-01-02"),
		End:      mustMoment(t, "2024-01-03"),
		Summary:  "Bins",
	}

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded Event
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, decoded.Start.Date)
	assert.Equal(t, "2024-01-02", decoded.Start.ISO())
	assert.Equal(t, "2024-01-03", decoded.End.ISO())
	assert.True(t, decoded.AllDay())

	var m Moment
	require.NoError(t, json.Unmarshal([]byte(`"2024-01-01T09:30:00+01:00"`), &m))
	assert.False(t, m.Date)
	assert.Equal(t, "2024-01-01T09:30:00+01:00", m.ISO())

	require.NoError(t, json.Unmarshal([]byte(`null`), &m))
	assert.True(t, m.IsZero())

	assert.Error(t, json.Unmarshal([]byte(`"tomorrow"`), &m))
	assert.Error(t, json.Unmarshal([]byte(`42`), &m))
}
