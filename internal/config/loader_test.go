package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"calendarmerge/internal/ics"
	"calendarmerge/internal/markdown"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeOptions(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, DefaultOptionsFile)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoader_LoadDefaults(t *testing.T) {
	path := writeOptions(t, t.TempDir(), `calender_entity_ids:
  - calendar.work
  - calendar.home
`)

	o, err := NewLoader(path, zap.NewNop()).Load()
	require.NoError(t, err)

	assert.Equal(t, "Calendar Merge", o.Name)
	assert.Equal(t, []string{"calendar.work", "calendar.home"}, o.CalendarIDs)
	assert.Equal(t, 30, o.DaysAhead)
	assert.Equal(t, 5, o.MaxEvents)
	assert.True(t, o.RemoveRecurring)
	assert.False(t, o.ShowAsTimeTo)
	assert.False(t, o.ShowEndDate)
	assert.True(t, o.ShowSummary)
	assert.False(t, o.UseSummaryAsName)
	assert.Equal(t, markdown.DefaultHeaderTemplate, o.HeaderTemplate)
	assert.Equal(t, markdown.DefaultItemTemplate, o.ItemTemplate)
	assert.Equal(t, "sensor.calendar_merge", o.Helper())
}

func TestLoader_LoadAllKeys(t *testing.T) {
	path := writeOptions(t, t.TempDir(), `name: Family
calendar_entity_ids: [calendar.work, calendar.work, calendar.home]
days_ahead: 7
max_events: 3
remove_recurring_events: false
show_event_as_time_to: true
show_end_date: true
show_summary: false
use_summary_as_entity_name: true
format_language: da
md_header_template: ""
md_item_template: "{{ summary }}"
ics_sources:
  - id: holidays
    url: https://example.com/holidays.ics
toggle_entity: input_button.calendar_toggle
toggle_save_settings: true
`)

	o, err := NewLoader(path, zap.NewNop()).Load()
	require.NoError(t, err)

	assert.Equal(t, "Family", o.Name)
	assert.Equal(t, []string{"calendar.work", "calendar.home", "holidays"}, o.CalendarIDs, "duplicates collapse and feeds join")
	assert.Equal(t, 7, o.DaysAhead)
	assert.Equal(t, 3, o.MaxEvents)
	assert.False(t, o.RemoveRecurring)
	assert.True(t, o.ShowAsTimeTo)
	assert.True(t, o.ShowEndDate)
	assert.False(t, o.ShowSummary)
	assert.True(t, o.UseSummaryAsName)
	assert.Equal(t, "da", o.FormatLanguage)
	assert.Equal(t, "", o.HeaderTemplate, "an empty header disables it")
	assert.Equal(t, "{{ summary }}", o.ItemTemplate)
	assert.Equal(t, []ics.Feed{{ID: "holidays", URL: "https://example.com/holidays.ics"}}, o.ICSSources)
	assert.Equal(t, "input_button.calendar_toggle", o.ToggleEntity)
	assert.True(t, o.ToggleSaveSettings)

	cal := o.CalendarOptions()
	assert.Equal(t, "Family", cal.Title)
	assert.True(t, cal.ShowAsTimeTo)
	assert.Equal(t, 3, cal.MaxEvents)
}

func TestLoader_Validation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{"no calendars", "days_ahead: 3\n", ErrNoCalendars},
		{"zero days", "calender_entity_ids: [calendar.a]\ndays_ahead: 0\n", ErrInvalidDaysAhead},
		{"zero events", "calender_entity_ids: [calendar.a]\nmax_events: 0\n", ErrInvalidMaxEvents},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeOptions(t, t.TempDir(), tt.content)
			_, err := NewLoader(path, zap.NewNop()).Load()
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := Parse([]byte("calender_entity_ids: [calendar.a]\nics_sources:\n  - id: x\n"))
	assert.Error(t, err, "feed without url")

	_, err = Parse([]byte("calender_entity_ids: [unclosed"))
	assert.Error(t, err)
}

func TestLoader_MissingFile(t *testing.T) {
	_, err := NewLoader(filepath.Join(t.TempDir(), "nope.yaml"), zap.NewNop()).Load()
	assert.Error(t, err)
}

func TestLoader_SaveRoundTrip(t *testing.T) {
	path := writeOptions(t, t.TempDir(), `name: Family
calendar_entity_ids: [calendar.work]
show_end_date: true
ics_sources:
  - id: holidays
    url: https://example.com/holidays.ics
`)
	loader := NewLoader(path, zap.NewNop())

	o, err := loader.Load()
	require.NoError(t, err)

	o.ShowAsTimeTo = true
	require.NoError(t, loader.Save(o))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "calender_entity_ids:")
	assert.Contains(t, string(data), "show_show_end_date: true")
	assert.Contains(t, string(data), "show_event_as_time_to: true")

	reloaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, o, reloaded)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files are left behind")
}

func TestLoader_Watch(t *testing.T) {
	path := writeOptions(t, t.TempDir(), "calender_entity_ids: [calendar.work]\n")
	loader := NewLoader(path, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan Options, 4)
	require.NoError(t, loader.Watch(ctx, func(o Options) { changes <- o }))

	// own writes are not reported
	o, err := loader.Load()
	require.NoError(t, err)
	o.ShowAsTimeTo = true
	require.NoError(t, loader.Save(o))

	select {
	case <-changes:
		t.Fatal("own write was reported")
	case <-time.After(500 * time.Millisecond):
	}

	// external edits are
	require.NoError(t, os.WriteFile(path, []byte("calender_entity_ids: [calendar.home]\nmax_events: 2\n"), 0644))

	select {
	case changed := <-changes:
		assert.Equal(t, []string{"calendar.home"}, changed.CalendarIDs)
		assert.Equal(t, 2, changed.MaxEvents)
	case <-time.After(3 * time.Second):
		t.Fatal("external change was not reported")
	}

	// invalid edits are ignored
	require.NoError(t, os.WriteFile(path, []byte("max_events: 2\n"), 0644))
	select {
	case <-changes:
		t.Fatal("invalid options were reported")
	case <-time.After(500 * time.Millisecond):
	}
}

func TestSettings(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("port", 8099, "")
	flags.String("timezone", "", "")
	require.NoError(t, BindFlags(v, flags))
	require.NoError(t, flags.Parse([]string{"--port", "9000", "--timezone", "Europe/Copenhagen"}))

	t.Setenv("HA_URL", "ws://ha.local:8123/api/websocket")
	t.Setenv("HA_TOKEN", "secret")
	t.Setenv("READ_ONLY", "true")

	s, err := LoadSettings(v)
	require.NoError(t, err)

	assert.Equal(t, "ws://ha.local:8123/api/websocket", s.HAURL)
	assert.Equal(t, "secret", s.HAToken)
	assert.True(t, s.ReadOnly)
	assert.True(t, s.HasHA())
	assert.Equal(t, 9000, s.APIPort)
	assert.Equal(t, "Europe/Copenhagen", s.Timezone)
	assert.Equal(t, 5*time.Minute, s.RefreshInterval)
	assert.Equal(t, DefaultOptionsFile, s.OptionsPath)

	v.Set(KeyRefreshInterval, "10s")
	_, err = LoadSettings(v)
	assert.Error(t, err)
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "calendar_merge", Slug("Calendar Merge"))
	assert.Equal(t, "family_2024", Slug("  Family -- 2024! "))
	assert.Equal(t, "", Slug(""))
}
