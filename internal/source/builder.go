package source

import (
	"time"

	"calendarmerge/internal/calendar"
	"calendarmerge/internal/ics"

	"go.uber.org/zap"
)

// Builder assembles the fetcher for a set of ICS feeds. The HA fetcher and
// the feed download cache are shared by every router it builds, so options
// reloads do not reconnect or lose cached feeds.
type Builder struct {
	HA       calendar.Fetcher
	Feeds    *ics.Fetcher
	Location *time.Location
	Logger   *zap.Logger
}

// Build returns a router sending feed ids to an ICS source and every other
// id to HA.
func (b Builder) Build(feeds []ics.Feed) *Router {
	if len(feeds) == 0 {
		return NewRouter(b.HA, nil, nil, b.Logger)
	}

	src := ics.NewSource(feeds, b.Feeds, b.Location, b.Logger)
	ids := src.IDs()
	b.Logger.Debug("Calendar sources built",
		zap.Strings("ics_feeds", ids),
		zap.Bool("home_assistant", b.HA != nil))
	return NewRouter(b.HA, src, ids, b.Logger)
}
