// Package calendar merges events from several calendars into one ordered,
// de-duplicated list and formats them for display.
package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// dateLayout is the wire format of date-only values.
const dateLayout = "2006-01-02"

// RawEvent is an event as returned by a calendar source. Start and End are
// ISO-8601 strings, either a date ("2024-01-02") or a date-time.
type RawEvent struct {
	Start       string `mapstructure:"start" json:"start"`
	End         string `mapstructure:"end" json:"end"`
	Summary     string `mapstructure:"summary" json:"summary,omitempty"`
	Description string `mapstructure:"description" json:"description,omitempty"`
	Location    string `mapstructure:"location" json:"location,omitempty"`
}

// Fetcher returns raw events for the given calendars between start and end,
// keyed by calendar id.
type Fetcher interface {
	FetchEvents(ctx context.Context, calendarIDs []string, start, end time.Time) (map[string][]RawEvent, error)
}

// Moment is a point in time that remembers whether it came from a date-only value.
type Moment struct {
	time.Time
	Date bool
}

// ISO returns the date as YYYY-MM-DD for date-only moments and RFC 3339 otherwise.
func (m Moment) ISO() string {
	if m.Date {
		return m.Format(dateLayout)
	}
	return m.Format(time.RFC3339)
}

// MarshalJSON encodes the moment in its ISO form.
func (m Moment) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.ISO())
}

// UnmarshalJSON decodes the ISO form written by MarshalJSON. Dates become
// midnight UTC with Date set; timestamps keep their offset.
func (m *Moment) UnmarshalJSON(data []byte) error {
	var value string
	if err := json.Unmarshal(data, &value); err != nil {
		return fmt.Errorf("moment must be a string: %w", err)
	}
	if value == "" {
		*m = Moment{}
		return nil
	}

	if len(value) != len(dateLayout) {
		if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
			*m = Moment{Time: t}
			return nil
		}
	}

	parsed, err := ParseMoment(value, time.UTC)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ClockTime is the wall-clock time of day, ignoring the date.
func (m Moment) ClockTime() time.Duration {
	hh, mm, ss := m.Clock()
	return time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute + time.Duration(ss)*time.Second + time.Duration(m.Nanosecond())
}

// Event is a normalized calendar event.
type Event struct {
	Calendar    string `json:"calendar"`
	CalendarID  string `json:"calendar_id"`
	Start       Moment `json:"start"`
	End         Moment `json:"end"`
	Summary     string `json:"summary"`
	Description string `json:"description"`
	Location    string `json:"location"`
}

// AllDay reports whether the event starts at midnight and ends exactly one
// calendar day later.
func (e Event) AllDay() bool {
	start := e.Start.Time
	if start.Hour() != 0 || start.Minute() != 0 {
		return false
	}
	return e.End.Equal(start.AddDate(0, 0, 1))
}

// Equal compares calendar, start, end, summary, description, location and
// the all-day flag.
func (e Event) Equal(other Event) bool {
	return e.Calendar == other.Calendar &&
		e.Start.Equal(other.Start.Time) &&
		e.End.Equal(other.End.Time) &&
		e.Summary == other.Summary &&
		e.Description == other.Description &&
		e.Location == other.Location &&
		e.AllDay() == other.AllDay()
}

// recurringMatch reports whether two events look like occurrences of the same
// recurring series: same calendar and text, same time of day.
func recurringMatch(a, b Event) bool {
	return a.Calendar == b.Calendar &&
		a.Summary == b.Summary &&
		a.Description == b.Description &&
		a.Start.ClockTime() == b.Start.ClockTime() &&
		a.End.ClockTime() == b.End.ClockTime()
}

// Overlaps reports whether the event intersects the range [start, end).
func (e Event) Overlaps(start, end time.Time) bool {
	s, f := e.Start.Time, e.End.Time
	return (!start.After(s) && s.Before(end)) ||
		(start.Before(f) && !f.After(end)) ||
		(!s.After(start) && start.Before(f)) ||
		(s.Before(end) && !end.After(f))
}

// Display is an event together with its rendered display strings.
type Display struct {
	Event

	AllDay             bool   `json:"all_day"`
	FormattedStart     string `json:"formatted_start"`
	FormattedEnd       string `json:"formatted_end"`
	FormattedEventTime string `json:"formatted_event_time"`
	FormattedEvent     string `json:"formatted_event"`
	Name               string `json:"name,omitempty"`
}

// Attributes flattens the display into the attribute map exposed for each event.
func (d Display) Attributes() map[string]interface{} {
	return map[string]interface{}{
		"calendar":             d.Calendar,
		"start":                d.Start.ISO(),
		"end":                  d.End.ISO(),
		"all_day":              d.AllDay,
		"summary":              d.Summary,
		"description":          d.Description,
		"location":             d.Location,
		"formatted_start":      d.FormattedStart,
		"formatted_end":        d.FormattedEnd,
		"formatted_event_time": d.FormattedEventTime,
		"formatted_event":      d.FormattedEvent,
	}
}
