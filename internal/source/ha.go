// Package source implements calendar.Fetcher on top of Home Assistant and
// direct ICS feeds.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"calendarmerge/internal/calendar"
	"calendarmerge/internal/ha"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"
)

// HAFetcher reads events through the calendar.get_events service.
type HAFetcher struct {
	client ha.HAClient
	logger *zap.Logger
}

// NewHAFetcher creates a fetcher using the given HA client.
func NewHAFetcher(client ha.HAClient, logger *zap.Logger) *HAFetcher {
	return &HAFetcher{
		client: client,
		logger: logger.Named("source.ha"),
	}
}

type calendarResponse struct {
	Events []calendar.RawEvent `mapstructure:"events"`
}

// FetchEvents issues one service call for all calendars.
func (f *HAFetcher) FetchEvents(ctx context.Context, calendarIDs []string, start, end time.Time) (map[string][]calendar.RawEvent, error) {
	if len(calendarIDs) == 0 {
		return map[string][]calendar.RawEvent{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data := map[string]interface{}{
		"start_date_time": start.Format(time.RFC3339),
		"end_date_time":   end.Format(time.RFC3339),
	}

	resp, err := f.client.CallServiceWithResponse("calendar", "get_events", data, &ha.ServiceTarget{EntityID: calendarIDs})
	if err != nil {
		return nil, fmt.Errorf("failed to get calendar events: %w", err)
	}

	result, err := decodeEvents(resp)
	if err != nil {
		return nil, err
	}

	f.logger.Debug("Fetched calendar events",
		zap.Strings("calendars", calendarIDs),
		zap.Int("calendars_returned", len(result)))

	return result, nil
}

// decodeEvents turns {"calendar.x": {"events": [...]}} into raw events.
func decodeEvents(resp json.RawMessage) (map[string][]calendar.RawEvent, error) {
	var generic map[string]interface{}
	if err := json.Unmarshal(resp, &generic); err != nil {
		return nil, fmt.Errorf("failed to unmarshal calendar events: %w", err)
	}

	var decoded map[string]calendarResponse
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &decoded,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(generic); err != nil {
		return nil, fmt.Errorf("failed to decode calendar events: %w", err)
	}

	result := make(map[string][]calendar.RawEvent, len(decoded))
	for id, cal := range decoded {
		result[id] = cal.Events
	}
	return result, nil
}
