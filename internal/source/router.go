package source

import (
	"context"
	"fmt"
	"time"

	"calendarmerge/internal/calendar"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"
)

// Router sends each calendar id to the fetcher that owns it and merges the
// results. Ids not claimed by the secondary fetcher go to the primary one.
type Router struct {
	primary   calendar.Fetcher
	secondary calendar.Fetcher
	owned     mapset.Set[string]
	logger    *zap.Logger
}

// NewRouter creates a router. secondaryIDs are the ids served by secondary;
// primary may be nil when every id is served by secondary.
func NewRouter(primary, secondary calendar.Fetcher, secondaryIDs []string, logger *zap.Logger) *Router {
	return &Router{
		primary:   primary,
		secondary: secondary,
		owned:     mapset.NewSet[string](secondaryIDs...),
		logger:    logger.Named("source"),
	}
}

// Split partitions ids into those for the primary and the secondary fetcher,
// keeping their order.
func (r *Router) Split(calendarIDs []string) (primary, secondary []string) {
	for _, id := range calendarIDs {
		if r.owned.Contains(id) {
			secondary = append(secondary, id)
		} else {
			primary = append(primary, id)
		}
	}
	return primary, secondary
}

// Owns reports whether id is served by the secondary fetcher.
func (r *Router) Owns(id string) bool {
	return r.owned.Contains(id)
}

// FetchEvents fetches from both fetchers. Any failure fails the whole batch.
func (r *Router) FetchEvents(ctx context.Context, calendarIDs []string, start, end time.Time) (map[string][]calendar.RawEvent, error) {
	primaryIDs, secondaryIDs := r.Split(calendarIDs)
	result := make(map[string][]calendar.RawEvent, len(calendarIDs))

	if len(primaryIDs) > 0 {
		if r.primary == nil {
			return nil, fmt.Errorf("no source for calendars %v", primaryIDs)
		}
		events, err := r.primary.FetchEvents(ctx, primaryIDs, start, end)
		if err != nil {
			return nil, err
		}
		for id, evs := range events {
			result[id] = evs
		}
	}

	if len(secondaryIDs) > 0 {
		events, err := r.secondary.FetchEvents(ctx, secondaryIDs, start, end)
		if err != nil {
			return nil, err
		}
		for id, evs := range events {
			result[id] = evs
		}
	}

	r.logger.Debug("Routed calendar fetch",
		zap.Strings("primary", primaryIDs),
		zap.Strings("secondary", secondaryIDs))

	return result, nil
}
