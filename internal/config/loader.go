package config

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"calendarmerge/internal/calendar"
	"calendarmerge/internal/ics"
	"calendarmerge/internal/markdown"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// DefaultOptionsFile is the options file used when none is configured.
const DefaultOptionsFile = "calendar_merge.yaml"

// watchDebounce collapses the burst of events a single save produces.
const watchDebounce = 200 * time.Millisecond

// Validation errors.
var (
	ErrNoCalendars      = errors.New("no calendars configured")
	ErrInvalidDaysAhead = errors.New("days_ahead must be at least 1")
	ErrInvalidMaxEvents = errors.New("max_events must be at least 1")
)

// Options are the user settings of one merged calendar.
type Options struct {
	Name               string
	CalendarIDs        []string
	DaysAhead          int
	MaxEvents          int
	RemoveRecurring    bool
	ShowAsTimeTo       bool
	ShowEndDate        bool
	ShowSummary        bool
	UseSummaryAsName   bool
	FormatLanguage     string
	HeaderTemplate     string
	ItemTemplate       string
	ICSSources         []ics.Feed
	ToggleEntity       string
	ToggleSaveSettings bool
}

// DefaultOptions returns the options with every default applied and no calendars.
func DefaultOptions() Options {
	cal := calendar.DefaultOptions()
	return Options{
		Name:            cal.Title,
		DaysAhead:       cal.DaysAhead,
		MaxEvents:       cal.MaxEvents,
		RemoveRecurring: cal.RemoveRecurring,
		ShowSummary:     cal.ShowSummary,
		HeaderTemplate:  markdown.DefaultHeaderTemplate,
		ItemTemplate:    markdown.DefaultItemTemplate,
	}
}

// CalendarOptions returns the subset used by the merger and formatter.
func (o Options) CalendarOptions() calendar.Options {
	return calendar.Options{
		Title:            o.Name,
		DaysAhead:        o.DaysAhead,
		MaxEvents:        o.MaxEvents,
		RemoveRecurring:  o.RemoveRecurring,
		ShowAsTimeTo:     o.ShowAsTimeTo,
		ShowEndDate:      o.ShowEndDate,
		ShowSummary:      o.ShowSummary,
		UseSummaryAsName: o.UseSummaryAsName,
	}
}

// Helper is the entity id of the main sensor, e.g. "sensor.calendar_merge".
func (o Options) Helper() string {
	return "sensor." + Slug(o.Name)
}

// Validate checks the options and collapses duplicate calendar ids, keeping
// the first occurrence.
func (o *Options) Validate() error {
	seen := mapset.NewThreadUnsafeSet[string]()
	ids := make([]string, 0, len(o.CalendarIDs))
	for _, id := range o.CalendarIDs {
		if id == "" || !seen.Add(id) {
			continue
		}
		ids = append(ids, id)
	}
	o.CalendarIDs = ids

	for _, feed := range o.ICSSources {
		if feed.ID == "" || feed.URL == "" {
			return fmt.Errorf("ics source needs id and url: %+v", feed)
		}
		if !seen.Contains(feed.ID) {
			seen.Add(feed.ID)
			o.CalendarIDs = append(o.CalendarIDs, feed.ID)
		}
	}

	switch {
	case len(o.CalendarIDs) == 0:
		return ErrNoCalendars
	case o.DaysAhead < 1:
		return ErrInvalidDaysAhead
	case o.MaxEvents < 1:
		return ErrInvalidMaxEvents
	}
	return nil
}

// fileOptions is the YAML form. Pointers tell absent keys from zero values.
type fileOptions struct {
	Name               *string    `yaml:"name,omitempty"`
	CalenderEntityIDs  []string   `yaml:"calender_entity_ids,omitempty"`
	CalendarEntityIDs  []string   `yaml:"calendar_entity_ids,omitempty"`
	DaysAhead          *int       `yaml:"days_ahead,omitempty"`
	MaxEvents          *int       `yaml:"max_events,omitempty"`
	RemoveRecurring    *bool      `yaml:"remove_recurring_events,omitempty"`
	ShowAsTimeTo       *bool      `yaml:"show_event_as_time_to,omitempty"`
	ShowShowEndDate    *bool      `yaml:"show_show_end_date,omitempty"`
	ShowEndDate        *bool      `yaml:"show_end_date,omitempty"`
	ShowSummary        *bool      `yaml:"show_summary,omitempty"`
	UseSummaryAsName   *bool      `yaml:"use_summary_as_entity_name,omitempty"`
	FormatLanguage     string     `yaml:"format_language,omitempty"`
	HeaderTemplate     *string    `yaml:"md_header_template,omitempty"`
	ItemTemplate       *string    `yaml:"md_item_template,omitempty"`
	ICSSources         []ics.Feed `yaml:"ics_sources,omitempty"`
	ToggleEntity       string     `yaml:"toggle_entity,omitempty"`
	ToggleSaveSettings bool       `yaml:"toggle_save_settings,omitempty"`
}

func (f fileOptions) options() Options {
	o := DefaultOptions()

	setString(&o.Name, f.Name)
	o.CalendarIDs = append(append([]string(nil), f.CalenderEntityIDs...), f.CalendarEntityIDs...)
	setInt(&o.DaysAhead, f.DaysAhead)
	setInt(&o.MaxEvents, f.MaxEvents)
	setBool(&o.RemoveRecurring, f.RemoveRecurring)
	setBool(&o.ShowAsTimeTo, f.ShowAsTimeTo)
	setBool(&o.ShowEndDate, f.ShowEndDate)
	setBool(&o.ShowEndDate, f.ShowShowEndDate)
	setBool(&o.ShowSummary, f.ShowSummary)
	setBool(&o.UseSummaryAsName, f.UseSummaryAsName)
	o.FormatLanguage = f.FormatLanguage
	setString(&o.HeaderTemplate, f.HeaderTemplate)
	setString(&o.ItemTemplate, f.ItemTemplate)
	o.ICSSources = f.ICSSources
	o.ToggleEntity = f.ToggleEntity
	o.ToggleSaveSettings = f.ToggleSaveSettings

	return o
}

// fileFromOptions writes every option back under its YAML key. ICS feed ids are
// kept in ics_sources only.
func fileFromOptions(o Options) fileOptions {
	feeds := mapset.NewThreadUnsafeSet[string]()
	for _, feed := range o.ICSSources {
		feeds.Add(feed.ID)
	}
	var ids []string
	for _, id := range o.CalendarIDs {
		if !feeds.Contains(id) {
			ids = append(ids, id)
		}
	}

	return fileOptions{
		Name:               &o.Name,
		CalenderEntityIDs:  ids,
		DaysAhead:          &o.DaysAhead,
		MaxEvents:          &o.MaxEvents,
		RemoveRecurring:    &o.RemoveRecurring,
		ShowAsTimeTo:       &o.ShowAsTimeTo,
		ShowShowEndDate:    &o.ShowEndDate,
		ShowSummary:        &o.ShowSummary,
		UseSummaryAsName:   &o.UseSummaryAsName,
		FormatLanguage:     o.FormatLanguage,
		HeaderTemplate:     &o.HeaderTemplate,
		ItemTemplate:       &o.ItemTemplate,
		ICSSources:         o.ICSSources,
		ToggleEntity:       o.ToggleEntity,
		ToggleSaveSettings: o.ToggleSaveSettings,
	}
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

// Parse decodes and validates options from YAML.
func Parse(data []byte) (Options, error) {
	var f fileOptions
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Options{}, fmt.Errorf("failed to parse options: %w", err)
	}

	o := f.options()
	if err := o.Validate(); err != nil {
		return Options{}, fmt.Errorf("invalid options: %w", err)
	}
	return o, nil
}

// Loader reads, writes and watches the options file.
type Loader struct {
	path   string
	logger *zap.Logger

	mu sync.Mutex
	// ownWrite is the hash of the last content written by Save; the watcher
	// ignores the file while it still has that content.
	ownWrite [sha256.Size]byte
}

// NewLoader creates a loader for the options file at path.
func NewLoader(path string, logger *zap.Logger) *Loader {
	if path == "" {
		path = DefaultOptionsFile
	}
	return &Loader{
		path:   path,
		logger: logger.Named("config"),
	}
}

// Path returns the options file path.
func (l *Loader) Path() string {
	return l.path
}

// Load reads and validates the options file.
func (l *Loader) Load() (Options, error) {
	l.logger.Debug("Loading options", zap.String("path", l.path))

	data, err := os.ReadFile(l.path)
	if err != nil {
		return Options{}, fmt.Errorf("failed to read options: %w", err)
	}

	o, err := Parse(data)
	if err != nil {
		return Options{}, err
	}

	l.logger.Info("Options loaded",
		zap.String("name", o.Name),
		zap.Strings("calendars", o.CalendarIDs),
		zap.Int("days_ahead", o.DaysAhead),
		zap.Int("max_events", o.MaxEvents))
	return o, nil
}

// Save writes the options atomically. The write is not reported to Watch.
func (l *Loader) Save(o Options) error {
	data, err := yaml.Marshal(fileFromOptions(o))
	if err != nil {
		return fmt.Errorf("failed to marshal options: %w", err)
	}

	dir := filepath.Dir(l.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(l.path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write options: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write options: %w", err)
	}

	l.mu.Lock()
	l.ownWrite = sha256.Sum256(data)
	l.mu.Unlock()

	if err := os.Rename(tmp.Name(), l.path); err != nil {
		return fmt.Errorf("failed to replace options: %w", err)
	}

	l.logger.Info("Options saved", zap.String("path", l.path))
	return nil
}

// Watch calls onChange with the new options whenever the file changes on
// disk, until ctx is cancelled. Invalid files are logged and ignored.
func (l *Loader) Watch(ctx context.Context, onChange func(Options)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	// Save replaces the file, so watch the directory rather than the inode.
	if err := watcher.Add(filepath.Dir(l.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", l.path, err)
	}

	target := filepath.Clean(l.path)

	go func() {
		defer watcher.Close()

		var debounce <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
					debounce = time.After(watchDebounce)
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.logger.Warn("Options watcher error", zap.Error(err))

			case <-debounce:
				debounce = nil
				l.reload(onChange)
			}
		}
	}()

	l.logger.Info("Watching options file", zap.String("path", l.path))
	return nil
}

func (l *Loader) reload(onChange func(Options)) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		l.logger.Warn("Failed to read changed options", zap.Error(err))
		return
	}

	l.mu.Lock()
	own := sha256.Sum256(data) == l.ownWrite
	l.mu.Unlock()
	if own {
		l.logger.Debug("Ignoring own options write")
		return
	}

	o, err := Parse(data)
	if err != nil {
		l.logger.Error("Ignoring invalid options, keeping previous", zap.Error(err))
		return
	}

	l.logger.Info("Options changed on disk", zap.String("path", l.path))
	onChange(o)
}
