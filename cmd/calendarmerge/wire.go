package main

import (
	"fmt"
	"time"

	"calendarmerge/internal/calendar"
	"calendarmerge/internal/config"
	"calendarmerge/internal/coordinator"
	"calendarmerge/internal/ha"
	"calendarmerge/internal/ics"
	"calendarmerge/internal/notify"
	"calendarmerge/internal/source"

	"go.uber.org/zap"
)

// connectHA connects to Home Assistant when it is configured. It returns a
// nil client for ICS-only setups.
func (a *app) connectHA() (ha.HAClient, *ha.Config, error) {
	if !a.settings.HasHA() {
		a.logger.Info("Home Assistant not configured, using ICS feeds only")
		return nil, nil, nil
	}

	a.logger.Info("Connecting to Home Assistant",
		zap.String("url", a.settings.HAURL),
		zap.Bool("read_only", a.settings.ReadOnly))

	client := ha.NewClient(a.settings.HAURL, a.settings.HAToken, a.logger)
	if err := client.Connect(); err != nil {
		return nil, nil, fmt.Errorf("failed to connect to Home Assistant: %w", err)
	}

	haConfig, err := client.GetConfig()
	if err != nil {
		a.logger.Warn("Failed to read Home Assistant config", zap.Error(err))
		haConfig = &ha.Config{}
	}
	return client, haConfig, nil
}

// location picks the event time zone: the flag, then Home Assistant, then local.
func (a *app) location(haConfig *ha.Config) (*time.Location, error) {
	name := a.settings.Timezone
	if name == "" && haConfig != nil {
		name = haConfig.TimeZone
	}
	if name == "" {
		return time.Local, nil
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("unknown time zone %q: %w", name, err)
	}
	return loc, nil
}

// newCoordinator wires sources, notifier and options into a coordinator.
func (a *app) newCoordinator(opts config.Options, loader *config.Loader, client ha.HAClient, haConfig *ha.Config, quiet bool) (*coordinator.Coordinator, error) {
	loc, err := a.location(haConfig)
	if err != nil {
		return nil, err
	}

	builder := source.Builder{
		Feeds:    ics.NewFetcher(a.settings.ICSCacheDir, a.logger),
		Location: loc,
		Logger:   a.logger,
	}
	if client != nil {
		builder.HA = source.NewHAFetcher(client, a.logger)
	}

	var notifier notify.Notifier = notify.NewLogNotifier(a.logger)
	if client != nil && !quiet {
		notifier = notify.NewHANotifier(client, a.logger, a.settings.ReadOnly)
	}

	language := ""
	if haConfig != nil {
		language = haConfig.Language
	}

	deps := coordinator.Deps{
		Sources: func(o config.Options) calendar.Fetcher {
			return builder.Build(o.ICSSources)
		},
		HAClient:        client,
		Loader:          loader,
		Notifier:        notifier,
		Location:        loc,
		Interval:        a.settings.RefreshInterval,
		DefaultLanguage: language,
	}

	a.logger.Info("Calendar sources configured",
		zap.Strings("calendars", opts.CalendarIDs),
		zap.Int("ics_feeds", len(opts.ICSSources)),
		zap.String("timezone", loc.String()))

	return coordinator.New(opts, deps, a.logger), nil
}
