package calendar

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"calendarmerge/internal/clock"

	"go.uber.org/zap"
)

// CacheTTL is how long a merged list is reused before the next fetch.
const CacheTTL = 5 * time.Minute

// Options controls merging and display of events.
type Options struct {
	Title            string
	DaysAhead        int
	MaxEvents        int
	RemoveRecurring  bool
	ShowAsTimeTo     bool
	ShowEndDate      bool
	ShowSummary      bool
	UseSummaryAsName bool
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Title:           "Calendar Merge",
		DaysAhead:       30,
		MaxEvents:       5,
		RemoveRecurring: true,
		ShowSummary:     true,
	}
}

// Merger fetches events from all calendars and keeps the merged list.
type Merger struct {
	fetcher Fetcher
	clock   clock.Clock
	loc     *time.Location
	logger  *zap.Logger

	mu         sync.RWMutex
	opts       Options
	events     []Event
	nextUpdate time.Time
	lastErr    error
}

// NewMerger creates a merger. The first Refresh always fetches.
func NewMerger(fetcher Fetcher, opts Options, loc *time.Location, clk clock.Clock, logger *zap.Logger) *Merger {
	if loc == nil {
		loc = time.Local
	}
	return &Merger{
		fetcher:    fetcher,
		clock:      clk,
		loc:        loc,
		logger:     logger.Named("merge"),
		opts:       opts,
		nextUpdate: clk.Now(),
	}
}

// Refresh rebuilds the event list when force is set or the cached list has
// expired. It reports whether a new list was stored. Fetch and parse failures
// are logged and leave the previous list in place; the next call retries.
func (m *Merger) Refresh(ctx context.Context, calendarIDs []string, force bool) bool {
	now := m.clock.Now().In(m.loc)

	m.mu.RLock()
	opts := m.opts
	fetcher := m.fetcher
	fresh := now.Before(m.nextUpdate)
	m.mu.RUnlock()

	if !force && fresh {
		m.logger.Debug("Using cached events", zap.Time("next_update", m.NextUpdate()))
		return false
	}

	end := now.AddDate(0, 0, opts.DaysAhead)
	raw, err := fetcher.FetchEvents(ctx, calendarIDs, now, end)
	if err != nil {
		m.logger.Error("Failed to fetch calendar events",
			zap.Strings("calendars", calendarIDs),
			zap.Error(err))
		m.setError(err)
		return false
	}

	events, err := m.normalizeAll(calendarIDs, raw)
	if err != nil {
		m.logger.Error("Failed to parse calendar events", zap.Error(err))
		m.setError(err)
		return false
	}

	fetched := len(events)
	if opts.RemoveRecurring {
		events = RemoveRecurring(events)
	}

	slices.SortStableFunc(events, func(a, b Event) int {
		return a.Start.Compare(b.Start.Time)
	})

	if opts.MaxEvents >= 0 && len(events) > opts.MaxEvents {
		events = events[:opts.MaxEvents]
	}

	m.mu.Lock()
	m.events = events
	m.nextUpdate = now.Add(CacheTTL)
	m.lastErr = nil
	m.mu.Unlock()

	m.logger.Info("Merged calendar events",
		zap.Int("fetched", fetched),
		zap.Int("kept", len(events)),
		zap.Bool("remove_recurring", opts.RemoveRecurring))

	return true
}

// normalizeAll walks calendars in configured order, then any extra ids the
// source returned in sorted order, so that arrival order is reproducible.
func (m *Merger) normalizeAll(calendarIDs []string, raw map[string][]RawEvent) ([]Event, error) {
	order := make([]string, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, id := range calendarIDs {
		if _, ok := raw[id]; ok && !seen[id] {
			order = append(order, id)
			seen[id] = true
		}
	}

	var extra []string
	for id := range raw {
		if !seen[id] {
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)
	order = append(order, extra...)

	var events []Event
	for _, id := range order {
		for i, r := range raw[id] {
			ev, err := Normalize(id, r, m.loc)
			if err != nil {
				return nil, fmt.Errorf("event %d: %w", i, err)
			}
			events = append(events, ev)
		}
	}
	return events, nil
}

func (m *Merger) setError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

// Events returns a copy of the current list.
func (m *Merger) Events() []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.events)
}

// Event returns the event at index, or false when out of range.
func (m *Merger) Event(index int) (Event, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if index < 0 || index >= len(m.events) {
		return Event{}, false
	}
	return m.events[index], true
}

// Len returns the number of merged events.
func (m *Merger) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

// NextUpdate returns the time after which Refresh fetches again.
func (m *Merger) NextUpdate() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nextUpdate
}

// LastError returns the error of the last failed refresh, or nil after a success.
func (m *Merger) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// Options returns the current options.
func (m *Merger) Options() Options {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.opts
}

// SetOptions replaces the options. The cached list is kept until the next fetch.
func (m *Merger) SetOptions(opts Options) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opts = opts
}

// SetFetcher replaces the event source, for example after the configured
// feeds changed. The next Refresh uses it.
func (m *Merger) SetFetcher(fetcher Fetcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetcher = fetcher
}

// Location returns the time zone events are normalized into.
func (m *Merger) Location() *time.Location {
	return m.loc
}

// EventsBetween returns the merged events overlapping [start, end).
func (m *Merger) EventsBetween(start, end time.Time) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Event
	for _, ev := range m.events {
		if ev.Overlaps(start, end) {
			out = append(out, ev)
		}
	}
	return out
}
