package calendar

import (
	"fmt"
	"strings"
	"time"

	"calendarmerge/internal/locale"
)

// haPrefix is stripped from Home Assistant calendar entity ids.
const haPrefix = "calendar."

// timestampLayouts are tried in order for values longer than a date.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// CalendarName turns a calendar id into a display name: "calendar.work_Shifts"
// becomes "Work shifts".
func CalendarName(calendarID string) string {
	name := strings.TrimPrefix(calendarID, haPrefix)
	name = strings.ReplaceAll(name, "_", " ")
	return locale.Capitalize(name)
}

// ParseMoment parses a 10 character date or a longer ISO-8601 timestamp.
// Dates become midnight in loc; timestamps without an offset are read in loc
// and all timestamps are converted to loc.
func ParseMoment(value string, loc *time.Location) (Moment, error) {
	value = strings.TrimSpace(value)

	if len(value) == len(dateLayout) {
		t, err := time.ParseInLocation(dateLayout, value, loc)
		if err != nil {
			return Moment{}, fmt.Errorf("invalid date %q: %w", value, err)
		}
		return Moment{Time: t, Date: true}, nil
	}

	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return Moment{Time: t.In(loc)}, nil
		}
	}

	return Moment{}, fmt.Errorf("invalid timestamp %q", value)
}

// Normalize converts a raw event from calendarID into an Event in loc.
func Normalize(calendarID string, raw RawEvent, loc *time.Location) (Event, error) {
	start, err := ParseMoment(raw.Start, loc)
	if err != nil {
		return Event{}, fmt.Errorf("calendar %s: start: %w", calendarID, err)
	}

	end, err := ParseMoment(raw.End, loc)
	if err != nil {
		return Event{}, fmt.Errorf("calendar %s: end: %w", calendarID, err)
	}

	return Event{
		Calendar:    CalendarName(calendarID),
		CalendarID:  calendarID,
		Start:       start,
		End:         end,
		Summary:     raw.Summary,
		Description: raw.Description,
		Location:    raw.Location,
	}, nil
}
