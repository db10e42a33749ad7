package notify

import (
	"context"
	"errors"
	"testing"

	"calendarmerge/internal/ha"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestHANotifier_Notify(t *testing.T) {
	client := ha.NewMockClient()
	logger, _ := zap.NewDevelopment()
	n := NewHANotifier(client, logger, false)

	issue := TemplateError("{{ broken", "sensor.calendar_merge", errors.New("unexpected EOF"))
	require.NoError(t, n.Notify(context.Background(), issue))

	calls := client.GetServiceCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "persistent_notification", calls[0].Domain)
	assert.Equal(t, "create", calls[0].Service)
	assert.Equal(t, "calendar_merge_template_error_sensor_calendar_merge", calls[0].Data["notification_id"])

	msg, ok := calls[0].Data["message"].(string)
	require.True(t, ok)
	assert.Contains(t, msg, "{{ broken")
	assert.Contains(t, msg, "unexpected EOF")
}

func TestHANotifier_ReadOnly(t *testing.T) {
	client := ha.NewMockClient()
	n := NewHANotifier(client, zap.NewNop(), true)

	require.NoError(t, n.Notify(context.Background(), MissingEntity("calendar.gone", "sensor.calendar_merge")))
	assert.Empty(t, client.GetServiceCalls())
}

func TestHANotifier_CallError(t *testing.T) {
	client := ha.NewMockClient()
	client.SetCallError("persistent_notification", "create", errors.New("boom"))
	n := NewHANotifier(client, zap.NewNop(), false)

	err := n.Notify(context.Background(), MissingEntity("calendar.gone", "sensor.calendar_merge"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	n := NewLogNotifier(zap.New(core))

	require.NoError(t, n.Notify(context.Background(), MissingEntity("calendar.gone", "sensor.x")))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "missing_entity", entries[0].ContextMap()["issue"])
	assert.Equal(t, "calendar.gone", entries[0].ContextMap()["entity"])
}

func TestIssue_Text(t *testing.T) {
	issue := Issue{Message: "Broken", Placeholders: map[string]string{"b": "2", "a": "1"}}
	assert.Equal(t, "Broken\n\n**a**: 1\n\n**b**: 2", issue.Text())
	assert.Equal(t, "Plain", Issue{Message: "Plain"}.Text())
}
