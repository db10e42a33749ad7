package calendar

import (
	"fmt"

	"calendarmerge/internal/clock"
	"calendarmerge/internal/locale"
)

// Formatter renders events into display strings. It never modifies the events.
type Formatter struct {
	opts   Options
	locale *locale.Locale
	clock  clock.Clock
}

// NewFormatter creates a formatter for the given options and locale.
func NewFormatter(opts Options, loc *locale.Locale, clk clock.Clock) *Formatter {
	return &Formatter{opts: opts, locale: loc, clock: clk}
}

// Format builds the display record for ev.
func (f *Formatter) Format(ev Event) Display {
	allDay := ev.AllDay()

	d := Display{
		Event:          ev,
		AllDay:         allDay,
		FormattedStart: f.locale.DateTime(ev.Start.Time, allDay),
		FormattedEnd:   f.locale.DateTime(ev.End.Time, allDay),
	}

	diff := ev.Start.Sub(f.clock.Now())

	var text string
	switch {
	case allDay && diff < 0:
		text = f.locale.Now()
	case f.opts.ShowAsTimeTo:
		text = f.locale.Relative(diff)
	default:
		text = d.FormattedStart
		if f.opts.ShowEndDate && !allDay {
			text += " - " + d.FormattedEnd
		}
	}

	d.FormattedEventTime = text
	d.FormattedEvent = text
	if f.opts.ShowSummary {
		d.FormattedEvent = ev.Summary + " : " + text
	}

	return d
}

// FormatEvent formats events[index]. It returns false when index is out of range.
func (f *Formatter) FormatEvent(events []Event, index int) (Display, bool) {
	if index < 0 || index >= len(events) {
		return Display{}, false
	}

	d := f.Format(events[index])
	d.Name = f.EntityName(events, index)
	return d, true
}

// FormatAll formats every event in order.
func (f *Formatter) FormatAll(events []Event) []Display {
	out := make([]Display, 0, len(events))
	for i := range events {
		d, _ := f.FormatEvent(events, i)
		out = append(out, d)
	}
	return out
}

// EntityName is the name of the per-event sensor at index. With
// UseSummaryAsName it is the event summary when an event exists there.
func (f *Formatter) EntityName(events []Event, index int) string {
	if f.opts.UseSummaryAsName && index >= 0 && index < len(events) {
		return events[index].Summary
	}
	return fmt.Sprintf("%s_event_%d", f.opts.Title, index)
}
