package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"go.uber.org/zap"
)

const (
	icsDateLayout     = "20060102"
	icsDateTimeLayout = "20060102T150405"
)

var propertyRecurrenceID = ical.ComponentProperty("RECURRENCE-ID")

// ParsedEvent is one VEVENT before recurrence expansion.
type ParsedEvent struct {
	FeedID string
	UID    string

	Summary     string
	Description string
	Location    string

	Start  time.Time
	End    time.Time
	AllDay bool

	RRule        string
	ExDates      []time.Time
	RecurrenceID *time.Time
}

// Parse reads all VEVENTs of an ICS body. Floating times and dates are placed
// in loc. Events that cannot be read are logged and skipped.
func Parse(feed Feed, body []byte, loc *time.Location, logger *zap.Logger) ([]ParsedEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed %s: %w", feed.ID, err)
	}

	events := make([]ParsedEvent, 0, len(cal.Events()))
	for _, ve := range cal.Events() {
		ev, err := parseVEvent(feed, ve, loc)
		if err != nil {
			logger.Warn("Skipping unreadable event",
				zap.String("feed", feed.ID),
				zap.Error(err))
			continue
		}
		events = append(events, ev)
	}

	return events, nil
}

func parseVEvent(feed Feed, ve *ical.VEvent, loc *time.Location) (ParsedEvent, error) {
	out := ParsedEvent{FeedID: feed.ID}

	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		out.UID = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = unescapeText(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = unescapeText(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = unescapeText(p.Value)
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, errors.New("missing DTSTART")
	}
	start, allDay, err := parseValue(dtStart.Value, dtStart.ICalParameters, loc)
	if err != nil {
		return out, fmt.Errorf("DTSTART: %w", err)
	}
	out.Start = start
	out.AllDay = allDay

	if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil {
		end, _, err := parseValue(dtEnd.Value, dtEnd.ICalParameters, loc)
		if err != nil {
			return out, fmt.Errorf("DTEND: %w", err)
		}
		out.End = end
	} else if allDay {
		out.End = start.AddDate(0, 0, 1)
	} else {
		out.End = start
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RRule = p.Value
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			t, _, err := parseValue(part, p.ICalParameters, loc)
			if err != nil {
				return out, fmt.Errorf("EXDATE: %w", err)
			}
			out.ExDates = append(out.ExDates, t)
		}
	}

	if p := ve.GetProperty(propertyRecurrenceID); p != nil {
		t, _, err := parseValue(p.Value, p.ICalParameters, loc)
		if err != nil {
			return out, fmt.Errorf("RECURRENCE-ID: %w", err)
		}
		out.RecurrenceID = &t
	}

	return out, nil
}

// parseValue reads a DATE or DATE-TIME value. UTC values keep UTC, TZID
// values use that zone and floating values use loc.
func parseValue(value string, params map[string][]string, loc *time.Location) (time.Time, bool, error) {
	value = strings.TrimSpace(value)

	dateOnly := !strings.Contains(value, "T")
	if vs := params[string(ical.ParameterValue)]; len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		dateOnly = true
	}

	if dateOnly {
		if len(value) > len(icsDateLayout) {
			value = value[:len(icsDateLayout)]
		}
		t, err := time.ParseInLocation(icsDateLayout, value, loc)
		return t, true, err
	}

	if strings.HasSuffix(value, "Z") {
		t, err := time.ParseInLocation(icsDateTimeLayout, strings.TrimSuffix(value, "Z"), time.UTC)
		return t, false, err
	}

	zone := loc
	if tz := params[string(ical.ParameterTzid)]; len(tz) > 0 {
		if l, err := time.LoadLocation(strings.Trim(tz[0], `"`)); err == nil {
			zone = l
		}
	}

	t, err := time.ParseInLocation(icsDateTimeLayout, value, zone)
	return t, false, err
}

var textUnescaper = strings.NewReplacer(`\n`, "\n", `\N`, "\n", `\,`, ",", `\;`, ";", `\\`, `\`)

func unescapeText(s string) string {
	return textUnescaper.Replace(s)
}
