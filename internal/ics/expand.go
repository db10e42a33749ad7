package ics

import (
	"fmt"
	"slices"
	"time"

	"github.com/teambition/rrule-go"
)

const maxOccurrencesPerEvent = 1000

// Occurrence is one concrete instance of an event.
type Occurrence struct {
	FeedID      string
	UID         string
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	AllDay      bool
}

// Expand turns parsed events into the occurrences overlapping [start, end).
// Recurring events are expanded with their RRULE and EXDATEs, and instances
// replaced by a RECURRENCE-ID override use the override instead.
func Expand(events []ParsedEvent, start, end time.Time) ([]Occurrence, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("window end %s is before start %s", end, start)
	}

	overrides := make(map[string][]ParsedEvent)
	var bases []ParsedEvent
	for _, ev := range events {
		if ev.RecurrenceID != nil {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
			continue
		}
		bases = append(bases, ev)
	}

	var out []Occurrence
	for _, ev := range bases {
		if ev.RRule == "" {
			if overlaps(ev.Start, ev.End, start, end) {
				out = append(out, occurrence(ev, ev.Start, ev.End))
			}
			continue
		}

		occ, err := expandRecurring(ev, overrides[ev.UID], start, end)
		if err != nil {
			return nil, err
		}
		out = append(out, occ...)
	}

	// Overrides moved into the window from outside it, or whose base
	// series is not in the feed.
	for _, list := range overrides {
		for _, ov := range list {
			if overlaps(ov.Start, ov.End, start, end) && !overrideUsed(out, ov) {
				out = append(out, occurrence(ov, ov.Start, ov.End))
			}
		}
	}

	slices.SortStableFunc(out, func(a, b Occurrence) int {
		return a.Start.Compare(b.Start)
	})

	return out, nil
}

func expandRecurring(ev ParsedEvent, overrides []ParsedEvent, start, end time.Time) ([]Occurrence, error) {
	rule, err := rrule.StrToRRule(ev.RRule)
	if err != nil {
		return nil, fmt.Errorf("event %s: invalid RRULE %q: %w", ev.UID, ev.RRule, err)
	}
	rule.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(rule)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	duration := ev.End.Sub(ev.Start)
	days := calendarDays(ev.Start, ev.End)

	// Instances that started before the window may still be running in it.
	from := start.Add(-duration).In(ev.Start.Location())
	to := end.In(ev.Start.Location())

	var out []Occurrence
	for _, instance := range set.Between(from, to, true) {
		if len(out) >= maxOccurrencesPerEvent {
			break
		}

		instanceEnd := instance.Add(duration)
		if ev.AllDay {
			instance = time.Date(instance.Year(), instance.Month(), instance.Day(), 0, 0, 0, 0, instance.Location())
			instanceEnd = instance.AddDate(0, 0, days)
		}

		if ov, ok := findOverride(overrides, instance); ok {
			if overlaps(ov.Start, ov.End, start, end) {
				out = append(out, occurrence(ov, ov.Start, ov.End))
			}
			continue
		}

		if overlaps(instance, instanceEnd, start, end) {
			out = append(out, occurrence(ev, instance, instanceEnd))
		}
	}

	return out, nil
}

// calendarDays is the length of an all-day event in days, at least one.
func calendarDays(start, end time.Time) int {
	days := 0
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		days++
	}
	if days < 1 {
		return 1
	}
	return days
}

func findOverride(overrides []ParsedEvent, instance time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.RecurrenceID.Equal(instance) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

func overrideUsed(out []Occurrence, ov ParsedEvent) bool {
	for _, o := range out {
		if o.UID == ov.UID && o.Start.Equal(ov.Start) {
			return true
		}
	}
	return false
}

func occurrence(ev ParsedEvent, start, end time.Time) Occurrence {
	return Occurrence{
		FeedID:      ev.FeedID,
		UID:         ev.UID,
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		Start:       start,
		End:         end,
		AllDay:      ev.AllDay,
	}
}

// overlaps reports whether [aStart, aEnd) intersects [bStart, bEnd). Zero
// length events count when they fall inside the window.
func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	if aEnd.Equal(aStart) {
		return !aStart.Before(bStart) && aStart.Before(bEnd)
	}
	return aStart.Before(bEnd) && aEnd.After(bStart)
}
