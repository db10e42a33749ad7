package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"calendarmerge/internal/api"
	"calendarmerge/internal/calendar"
	"calendarmerge/internal/clock"
	"calendarmerge/internal/config"
	"calendarmerge/internal/coordinator"
	"calendarmerge/internal/ics"
	"calendarmerge/internal/notify"
	"calendarmerge/internal/source"
	"calendarmerge/pkg/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "test_token_12345"

var testNow = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

const holidayFeed = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//calendarmerge//integration//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:holiday-1@example.com\r\n" +
	"DTSTAMP:20231201T000000Z\r\n" +
	"DTSTART;VALUE=DATE:20240103\r\n" +
	"DTEND;VALUE=DATE:20240104\r\n" +
	"SUMMARY:Holiday\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

type harness struct {
	env    *testutil.TestEnv
	loader *config.Loader
	coord  *coordinator.Coordinator
	clock  *clock.MockClock
}

// setupTest starts a mock HA with the work and home calendars, writes the
// options and wires a coordinator the way the run command does.
func setupTest(t *testing.T, options string) *harness {
	t.Helper()

	env, err := testutil.NewTestEnv(testToken)
	require.NoError(t, err)
	t.Cleanup(env.Cleanup)

	env.Server.SetCalendar("calendar.work",
		testutil.CalendarEvent{Start: "2024-01-04T09:00:00+00:00", End: "2024-01-04T09:15:00+00:00", Summary: "Standup"},
		testutil.CalendarEvent{Start: "2024-01-02T09:00:00+00:00", End: "2024-01-02T09:15:00+00:00", Summary: "Standup"},
		testutil.CalendarEvent{Start: "2024-01-03T13:00:00+00:00", End: "2024-01-03T14:00:00+00:00", Summary: "Review", Location: "Room 1"},
		testutil.CalendarEvent{Start: "2024-02-01T09:00:00+00:00", End: "2024-02-01T10:00:00+00:00", Summary: "Outside window"},
	)
	env.Server.SetCalendar("calendar.home",
		testutil.CalendarEvent{Start: "2024-01-02", End: "2024-01-03", Summary: "Bins"},
		testutil.CalendarEvent{Start: "2024-01-05T18:00:00+00:00", End: "2024-01-05T19:00:00+00:00", Summary: "Dinner"},
	)

	path := filepath.Join(t.TempDir(), config.DefaultOptionsFile)
	require.NoError(t, os.WriteFile(path, []byte(options), 0644))
	loader := config.NewLoader(path, env.Logger)
	opts, err := loader.Load()
	require.NoError(t, err)

	builder := source.Builder{
		HA:       source.NewHAFetcher(env.Client, env.Logger),
		Feeds:    ics.NewFetcher("", env.Logger),
		Location: time.UTC,
		Logger:   env.Logger,
	}

	mockClock := clock.NewMockClock(testNow)
	coord := coordinator.New(opts, coordinator.Deps{
		Sources: func(o config.Options) calendar.Fetcher {
			return builder.Build(o.ICSSources)
		},
		HAClient:        env.Client,
		Loader:          loader,
		Notifier:        notify.NewHANotifier(env.Client, env.Logger, false),
		Clock:           mockClock,
		Location:        time.UTC,
		Interval:        time.Hour,
		DefaultLanguage: "en",
	}, env.Logger)

	require.NoError(t, coord.Start(context.Background()))
	t.Cleanup(coord.Stop)

	return &harness{env: env, loader: loader, coord: coord, clock: mockClock}
}

func summaries(snap coordinator.Snapshot) []string {
	out := make([]string, 0, len(snap.Events))
	for _, d := range snap.Events {
		out = append(out, d.Summary)
	}
	return out
}

// TestWorkAndHomeCalendars merges two HA calendars over a week, keeps three
// events and collapses the recurring standup.
func TestWorkAndHomeCalendars(t *testing.T) {
	h := setupTest(t, `name: Family
calender_entity_ids: [calendar.work, calendar.home]
days_ahead: 7
max_events: 3
`)

	snap := h.coord.Snapshot()
	assert.Equal(t, 3, snap.State)
	assert.Equal(t, []string{"Bins", "Review", "Standup"}, summaries(snap))
	assert.Equal(t, 4, snap.Events[2].Start.Day(), "first standup in arrival order survives")
	assert.Equal(t, "Work", snap.Events[1].Calendar)
	assert.Equal(t, "Review : Jan 3, 2024, 1:00 PM", snap.Events[1].FormattedEvent)

	calls := testutil.FilterServiceCalls(h.env.GetServiceCalls(), "calendar", "get_events")
	require.Len(t, calls, 1, "one call for every HA calendar")
	assert.ElementsMatch(t, []string{"calendar.work", "calendar.home"}, calls[0].Target)
	assert.Equal(t, "2024-01-01T08:00:00Z", calls[0].ServiceData["start_date_time"])
	assert.Equal(t, "2024-01-08T08:00:00Z", calls[0].ServiceData["end_date_time"])

	assert.Empty(t, testutil.Notifications(h.env.GetServiceCalls()))
}

// TestFetchErrorKeepsPreviousList drops the connection and checks that the
// last good list is still published.
func TestFetchErrorKeepsPreviousList(t *testing.T) {
	h := setupTest(t, `calender_entity_ids: [calendar.work, calendar.home]
days_ahead: 7
max_events: 3
`)
	before := summaries(h.coord.Snapshot())
	require.Len(t, before, 3)

	require.NoError(t, h.env.Client.Disconnect())
	h.clock.Advance(10 * time.Minute)

	after := h.coord.Refresh(context.Background(), false)
	assert.Equal(t, before, summaries(after))
	assert.Error(t, h.coord.Merger().LastError())
}

// TestMissingCalendarNotifies raises a persistent notification for a calendar
// HA does not know, while the feed id is not looked up.
func TestMissingCalendarNotifies(t *testing.T) {
	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = w.Write([]byte(holidayFeed))
	}))
	defer feed.Close()

	h := setupTest(t, `name: Family
calender_entity_ids: [calendar.work, calendar.gone]
ics_sources:
  - id: holidays
    url: `+feed.URL+`/holidays.ics
days_ahead: 7
`)

	notifications := testutil.Notifications(h.env.GetServiceCalls())
	require.Len(t, notifications, 1)
	message, ok := notifications["calendar_merge_missing_entity_sensor_family_calendar_gone"]
	require.True(t, ok, "notifications: %v", notifications)
	assert.Contains(t, message, "calendar.gone")

	// calendar.gone makes the whole HA batch fail, so the feed alone is not shown
	assert.Equal(t, 0, h.coord.Snapshot().State)
}

// TestICSFeedMergedWithHA merges an ICS feed with an HA calendar and serves
// the result over the HTTP API.
func TestICSFeedMergedWithHA(t *testing.T) {
	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(holidayFeed))
	}))
	defer feed.Close()

	h := setupTest(t, `name: Family
calender_entity_ids: [calendar.home]
ics_sources:
  - id: holidays
    url: `+feed.URL+`/holidays.ics
days_ahead: 7
max_events: 5
`)

	snap := h.coord.Snapshot()
	assert.Equal(t, []string{"Bins", "Holiday", "Dinner"}, summaries(snap))
	assert.True(t, snap.Events[1].AllDay)
	assert.Equal(t, "holidays", snap.Events[1].CalendarID)

	calls := testutil.FilterServiceCalls(h.env.GetServiceCalls(), "calendar", "get_events")
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"calendar.home"}, calls[0].Target, "feeds are not sent to HA")

	server := api.NewServer(h.coord, h.env.Logger, 0)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/state", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var state api.StateResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&state))
	assert.Equal(t, 3, state.State)
	assert.Equal(t, "2024-01-03", state.Attributes.Events[1]["start"])
	assert.True(t, strings.Contains(state.Attributes.MarkdownText, "__Holiday__"))
}

// TestToggleEntityPersists flips the phrasing from an input_boolean and
// checks the options file afterwards.
func TestToggleEntityPersists(t *testing.T) {
	h := setupTest(t, `calender_entity_ids: [calendar.work, calendar.home]
days_ahead: 7
max_events: 3
toggle_entity: input_boolean.calendar_relative
toggle_save_settings: true
`)
	h.env.Server.SetState("input_boolean.calendar_relative", "on", nil)

	require.Eventually(t, func() bool {
		return h.coord.Options().ShowAsTimeTo
	}, 2*time.Second, 20*time.Millisecond)

	d, ok := h.coord.Snapshot().Display(1)
	require.True(t, ok)
	assert.Equal(t, "Review : in 2 days", d.FormattedEvent)

	saved, err := h.loader.Load()
	require.NoError(t, err)
	assert.True(t, saved.ShowAsTimeTo)
}

// TestTemplateErrorNotifiesOnce reports a broken item template a single time
// however often the list is refreshed.
func TestTemplateErrorNotifiesOnce(t *testing.T) {
	h := setupTest(t, `calender_entity_ids: [calendar.home]
days_ahead: 7
md_item_template: "{{ summary|no_such_filter }}"
`)
	h.coord.Refresh(context.Background(), true)
	h.coord.Refresh(context.Background(), false)

	notifications := testutil.Notifications(h.env.GetServiceCalls())
	require.Len(t, notifications, 1)
	assert.Contains(t, notifications, "calendar_merge_template_error_sensor_calendar_merge")
	assert.Equal(t, 1, h.env.Server.CountServiceCalls("persistent_notification", "create"))
}

// TestOptionsReloadAddsFeed edits the options file while running and checks
// that a newly added ICS feed is fetched from the feed rather than from HA.
func TestOptionsReloadAddsFeed(t *testing.T) {
	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(holidayFeed))
	}))
	defer feed.Close()

	h := setupTest(t, `name: Family
calender_entity_ids: [calendar.home]
days_ahead: 7
max_events: 5
`)
	require.Equal(t, []string{"Bins", "Dinner"}, summaries(h.coord.Snapshot()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.loader.Watch(ctx, func(o config.Options) {
		h.coord.ApplyOptions(context.Background(), o)
	}))

	require.NoError(t, os.WriteFile(h.loader.Path(), []byte(`name: Family
calender_entity_ids: [calendar.home]
ics_sources:
  - id: holidays
    url: `+feed.URL+`/holidays.ics
days_ahead: 7
max_events: 5
`), 0644))

	require.Eventually(t, func() bool {
		return len(h.coord.Snapshot().Events) == 3
	}, 3*time.Second, 20*time.Millisecond)

	assert.Equal(t, []string{"Bins", "Holiday", "Dinner"}, summaries(h.coord.Snapshot()))
	assert.NoError(t, h.coord.Merger().LastError())
	assert.Empty(t, testutil.Notifications(h.env.GetServiceCalls()), "feeds are not looked up in HA")

	for _, call := range testutil.FilterServiceCalls(h.env.GetServiceCalls(), "calendar", "get_events") {
		assert.NotContains(t, call.Target, "holidays")
	}
}
