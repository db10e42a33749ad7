// Package coordinator drives the periodic refresh of the merged calendar and
// keeps the latest rendered snapshot for the API.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"calendarmerge/internal/calendar"
	"calendarmerge/internal/clock"
	"calendarmerge/internal/config"
	"calendarmerge/internal/ha"
	"calendarmerge/internal/locale"
	"calendarmerge/internal/markdown"
	"calendarmerge/internal/notify"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// DefaultInterval is the refresh tick when none is configured.
const DefaultInterval = 5 * time.Minute

// ErrNoStore is returned when settings should be saved but no options file
// is configured.
var ErrNoStore = errors.New("no options file to save to")

// Snapshot is the state published after each refresh.
type Snapshot struct {
	State     int                `json:"state"`
	Events    []calendar.Display `json:"events"`
	Markdown  string             `json:"markdown_text"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Display returns the per-event display at index, or false when there is no
// event there.
func (s Snapshot) Display(index int) (calendar.Display, bool) {
	if index < 0 || index >= len(s.Events) {
		return calendar.Display{}, false
	}
	return s.Events[index], true
}

// Deps are the collaborators of a coordinator. HAClient and Loader are
// optional.
type Deps struct {
	Fetcher calendar.Fetcher

	// Sources builds the fetcher for a set of options. When set it replaces
	// Fetcher at start-up and again whenever reloaded options change the
	// ICS feeds.
	Sources func(opts config.Options) calendar.Fetcher

	HAClient ha.HAClient
	Loader   *config.Loader
	Notifier notify.Notifier
	Clock    clock.Clock
	Location *time.Location

	// Interval between scheduled refreshes; DefaultInterval when zero.
	Interval time.Duration

	// DefaultLanguage is used when the options do not set format_language.
	DefaultLanguage string
}

// Coordinator owns the merge pipeline and publishes snapshots.
type Coordinator struct {
	deps   Deps
	merger *calendar.Merger
	logger *zap.Logger

	// refreshMu serializes refresh cycles and option changes
	refreshMu sync.Mutex

	mu        sync.RWMutex
	opts      config.Options
	formatter *calendar.Formatter
	renderer  *markdown.Renderer
	snapshot  Snapshot

	scheduler *gocron.Scheduler
	toggleSub ha.Subscription
}

// New creates a coordinator for opts.
func New(opts config.Options, deps Deps, logger *zap.Logger) *Coordinator {
	if deps.Clock == nil {
		deps.Clock = clock.NewRealClock()
	}
	if deps.Location == nil {
		deps.Location = time.Local
	}
	if deps.Interval <= 0 {
		deps.Interval = DefaultInterval
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NewLogNotifier(logger)
	}
	if deps.Sources != nil {
		deps.Fetcher = deps.Sources(opts)
	}

	c := &Coordinator{
		deps:   deps,
		logger: logger.Named("coordinator"),
	}
	c.merger = calendar.NewMerger(deps.Fetcher, opts.CalendarOptions(), deps.Location, deps.Clock, logger)
	c.setOptions(opts)
	return c
}

// setOptions rebuilds everything derived from the options.
func (c *Coordinator) setOptions(opts config.Options) {
	lang := opts.FormatLanguage
	if lang == "" {
		lang = c.deps.DefaultLanguage
	}
	loc := locale.New(lang)

	c.mu.Lock()
	c.opts = opts
	c.formatter = calendar.NewFormatter(opts.CalendarOptions(), loc, c.deps.Clock)
	if c.renderer == nil {
		c.renderer = markdown.NewRenderer(opts.HeaderTemplate, opts.ItemTemplate, opts.Helper(), c.deps.Notifier, c.logger)
	} else {
		c.renderer.SetTemplates(opts.HeaderTemplate, opts.ItemTemplate, opts.Helper())
	}
	c.mu.Unlock()

	c.merger.SetOptions(opts.CalendarOptions())

	c.logger.Debug("Options applied",
		zap.String("language", loc.Language()),
		zap.Bool("show_as_time_to", opts.ShowAsTimeTo))
}

// Options returns the current options.
func (c *Coordinator) Options() config.Options {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.opts
}

// Merger exposes the underlying merger for range queries.
func (c *Coordinator) Merger() *calendar.Merger {
	return c.merger
}

// Start checks the configured calendars, runs a first refresh and schedules
// the periodic ones.
func (c *Coordinator) Start(ctx context.Context) error {
	opts := c.Options()
	c.logger.Info("Starting coordinator",
		zap.String("name", opts.Name),
		zap.Strings("calendars", opts.CalendarIDs),
		zap.Duration("interval", c.deps.Interval))

	c.verifyCalendars(ctx, opts)

	c.Refresh(ctx, true)

	scheduler := gocron.NewScheduler(c.deps.Location)
	scheduler.SingletonModeAll()
	if _, err := scheduler.Every(c.deps.Interval).WaitForSchedule().Do(func() {
		c.Refresh(ctx, false)
	}); err != nil {
		return fmt.Errorf("failed to schedule refresh: %w", err)
	}
	scheduler.StartAsync()

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	c.scheduler = scheduler
	if err := c.subscribeToggle(opts); err != nil {
		return err
	}

	c.logger.Info("Coordinator started")
	return nil
}

// Stop halts scheduled refreshes and drops the toggle subscription.
func (c *Coordinator) Stop() {
	// Detach under the lock, stop outside it: the scheduler waits for a
	// running refresh, which may be waiting for refreshMu.
	c.refreshMu.Lock()
	scheduler, sub := c.scheduler, c.toggleSub
	c.scheduler, c.toggleSub = nil, nil
	c.refreshMu.Unlock()

	if scheduler != nil {
		scheduler.Stop()
	}
	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			c.logger.Warn("Failed to unsubscribe toggle entity", zap.Error(err))
		}
	}
	c.logger.Info("Coordinator stopped")
}

// verifyCalendars raises an issue for each configured HA calendar that HA
// does not know. ICS feeds are not checked.
func (c *Coordinator) verifyCalendars(ctx context.Context, opts config.Options) {
	if c.deps.HAClient == nil {
		return
	}

	feeds := mapset.NewThreadUnsafeSet[string]()
	for _, f := range opts.ICSSources {
		feeds.Add(f.ID)
	}

	for _, id := range opts.CalendarIDs {
		if feeds.Contains(id) {
			continue
		}
		if _, err := c.deps.HAClient.GetState(id); err == nil {
			continue
		}

		c.logger.Warn("Configured calendar not found", zap.String("entity_id", id))
		if err := c.deps.Notifier.Notify(ctx, notify.MissingEntity(id, opts.Helper())); err != nil {
			c.logger.Warn("Failed to report missing calendar", zap.Error(err))
		}
	}
}

// Refresh runs a merge cycle and publishes a new snapshot. Without force the
// merger reuses its cached list, but the events are always formatted again
// so relative times and option changes show up.
func (c *Coordinator) Refresh(ctx context.Context, force bool) Snapshot {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	return c.refreshLocked(ctx, force)
}

func (c *Coordinator) refreshLocked(ctx context.Context, force bool) Snapshot {
	c.mu.RLock()
	ids := c.opts.CalendarIDs
	formatter := c.formatter
	renderer := c.renderer
	c.mu.RUnlock()

	c.merger.Refresh(ctx, ids, force)

	displays := formatter.FormatAll(c.merger.Events())
	snap := Snapshot{
		State:     len(displays),
		Events:    displays,
		Markdown:  renderer.Render(ctx, displays),
		UpdatedAt: c.deps.Clock.Now(),
	}

	c.mu.Lock()
	c.snapshot = snap
	c.mu.Unlock()

	c.logger.Debug("Snapshot updated",
		zap.Int("events", snap.State),
		zap.Bool("forced", force))
	return snap
}

// Snapshot returns the latest published snapshot.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// ToggleShowAsTimeTo flips between absolute and relative phrasing. With save
// the new value is written to the options file.
func (c *Coordinator) ToggleShowAsTimeTo(ctx context.Context, save bool) (bool, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	opts := c.Options()
	opts.ShowAsTimeTo = !opts.ShowAsTimeTo

	if save {
		if c.deps.Loader == nil {
			return !opts.ShowAsTimeTo, ErrNoStore
		}
		if err := c.deps.Loader.Save(opts); err != nil {
			return !opts.ShowAsTimeTo, fmt.Errorf("failed to save options: %w", err)
		}
	}

	c.setOptions(opts)
	c.logger.Info("Toggled show as time to",
		zap.Bool("show_as_time_to", opts.ShowAsTimeTo),
		zap.Bool("saved", save))

	c.refreshLocked(ctx, false)
	return opts.ShowAsTimeTo, nil
}

// ApplyOptions replaces the options, for example after the options file was
// edited, and forces a refresh.
func (c *Coordinator) ApplyOptions(ctx context.Context, opts config.Options) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	previous := c.Options()
	c.setOptions(opts)

	if c.deps.Sources != nil && !slices.Equal(previous.ICSSources, opts.ICSSources) {
		c.merger.SetFetcher(c.deps.Sources(opts))
		c.logger.Info("Calendar sources rebuilt", zap.Int("ics_feeds", len(opts.ICSSources)))
	}

	if added := addedCalendars(previous.CalendarIDs, opts.CalendarIDs); len(added) > 0 {
		check := opts
		check.CalendarIDs = added
		c.verifyCalendars(ctx, check)
	}

	if previous.ToggleEntity != opts.ToggleEntity && c.scheduler != nil {
		if c.toggleSub != nil {
			if err := c.toggleSub.Unsubscribe(); err != nil {
				c.logger.Warn("Failed to unsubscribe toggle entity", zap.Error(err))
			}
			c.toggleSub = nil
		}
		if err := c.subscribeToggle(opts); err != nil {
			c.logger.Warn("Failed to subscribe toggle entity", zap.Error(err))
		}
	}

	c.logger.Info("Options reloaded", zap.Strings("calendars", opts.CalendarIDs))
	c.refreshLocked(ctx, true)
}

// addedCalendars returns the ids in next that are not in previous.
func addedCalendars(previous, next []string) []string {
	known := mapset.NewThreadUnsafeSet(previous...)
	var added []string
	for _, id := range next {
		if !known.Contains(id) {
			added = append(added, id)
		}
	}
	return added
}

// subscribeToggle flips the phrasing whenever the toggle entity changes,
// the way an input_button press or input_boolean flip does in HA.
func (c *Coordinator) subscribeToggle(opts config.Options) error {
	if opts.ToggleEntity == "" || c.deps.HAClient == nil {
		return nil
	}

	sub, err := c.deps.HAClient.SubscribeStateChanges(opts.ToggleEntity, func(entityID string, oldState, newState *ha.State) {
		if newState == nil || (oldState != nil && oldState.State == newState.State) {
			return
		}

		// Handlers run on the client's receive loop, which the refresh needs
		// for its own service calls.
		go func() {
			save := c.Options().ToggleSaveSettings
			if _, err := c.ToggleShowAsTimeTo(context.Background(), save); err != nil {
				c.logger.Error("Failed to toggle from entity",
					zap.String("entity_id", entityID),
					zap.Error(err))
			}
		}()
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", opts.ToggleEntity, err)
	}

	c.toggleSub = sub
	c.logger.Info("Listening for toggle entity", zap.String("entity_id", opts.ToggleEntity))
	return nil
}
