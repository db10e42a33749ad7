package ics

import (
	"context"
	"fmt"
	"time"

	"calendarmerge/internal/calendar"

	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

// Source serves configured ICS feeds as raw calendar events.
type Source struct {
	feeds   map[string]Feed
	fetcher *Fetcher
	loc     *time.Location
	logger  *zap.Logger
}

// NewSource creates a source for feeds. Floating and date-only values are
// read in loc.
func NewSource(feeds []Feed, fetcher *Fetcher, loc *time.Location, logger *zap.Logger) *Source {
	if loc == nil {
		loc = time.Local
	}
	byID := make(map[string]Feed, len(feeds))
	for _, f := range feeds {
		byID[f.ID] = f
	}
	return &Source{
		feeds:   byID,
		fetcher: fetcher,
		loc:     loc,
		logger:  logger.Named("ics"),
	}
}

// IDs returns the feed ids.
func (s *Source) IDs() []string {
	ids := make([]string, 0, len(s.feeds))
	for id := range s.feeds {
		ids = append(ids, id)
	}
	return ids
}

// FetchEvents downloads, parses and expands each requested feed.
func (s *Source) FetchEvents(ctx context.Context, calendarIDs []string, start, end time.Time) (map[string][]calendar.RawEvent, error) {
	result := make(map[string][]calendar.RawEvent, len(calendarIDs))

	for _, id := range calendarIDs {
		feed, ok := s.feeds[id]
		if !ok {
			return nil, fmt.Errorf("unknown ICS feed %s", id)
		}

		res, err := s.fetcher.FetchOne(ctx, feed)
		if err != nil {
			return nil, err
		}

		parsed, err := Parse(feed, res.Body, s.loc, s.logger)
		if err != nil {
			return nil, err
		}

		occurrences, err := Expand(parsed, start, end)
		if err != nil {
			return nil, fmt.Errorf("feed %s: %w", id, err)
		}

		events := make([]calendar.RawEvent, 0, len(occurrences))
		for _, o := range occurrences {
			events = append(events, toRaw(o, s.loc))
		}
		result[id] = events

		s.logger.Debug("Expanded feed",
			zap.String("feed", id),
			zap.Int("events", len(parsed)),
			zap.Int("occurrences", len(occurrences)),
			zap.Bool("from_cache", res.FromCache))
	}

	return result, nil
}

// toRaw writes all-day occurrences as dates and the rest as RFC 3339.
func toRaw(o Occurrence, loc *time.Location) calendar.RawEvent {
	raw := calendar.RawEvent{
		Summary:     o.Summary,
		Description: o.Description,
		Location:    o.Location,
	}
	if o.AllDay {
		raw.Start = o.Start.Format(dateLayout)
		raw.End = o.End.Format(dateLayout)
	} else {
		raw.Start = o.Start.In(loc).Format(time.RFC3339)
		raw.End = o.End.In(loc).Format(time.RFC3339)
	}
	return raw
}
