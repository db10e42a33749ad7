// Package notify raises user-facing issues such as broken templates or
// missing calendars.
package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"calendarmerge/internal/ha"

	"go.uber.org/zap"
)

// Issue identifiers.
const (
	IssueTemplateError = "template_error"
	IssueMissingEntity = "missing_entity"
)

// Severity of an issue.
type Severity string

const SeverityWarning Severity = "warning"

// Issue is a problem the user should look at.
type Issue struct {
	ID           string
	Title        string
	Message      string
	Severity     Severity
	Placeholders map[string]string
}

// Text is the message followed by the placeholders in key order.
func (i Issue) Text() string {
	if len(i.Placeholders) == 0 {
		return i.Message
	}

	keys := make([]string, 0, len(i.Placeholders))
	for k := range i.Placeholders {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(i.Message)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n\n**%s**: %s", k, i.Placeholders[k])
	}
	return b.String()
}

// Notifier delivers issues.
type Notifier interface {
	Notify(ctx context.Context, issue Issue) error
}

// TemplateError builds the issue raised when a markdown template fails.
func TemplateError(template, helper string, err error) Issue {
	return Issue{
		ID:       IssueTemplateError,
		Title:    "Calendar merge template error",
		Message:  "A markdown template could not be rendered. Check the template in the options.",
		Severity: SeverityWarning,
		Placeholders: map[string]string{
			"template":               template,
			"calendar_events_helper": helper,
			"error_txt":              err.Error(),
		},
	}
}

// MissingEntity builds the issue raised when a configured calendar does not exist.
func MissingEntity(entityID, helper string) Issue {
	return Issue{
		ID:       IssueMissingEntity,
		Title:    "Calendar merge: calendar not found",
		Message:  fmt.Sprintf("The calendar %s is configured but does not exist.", entityID),
		Severity: SeverityWarning,
		Placeholders: map[string]string{
			"entity":                 entityID,
			"calendar_events_helper": helper,
		},
	}
}

// HANotifier creates Home Assistant persistent notifications.
type HANotifier struct {
	client   ha.HAClient
	logger   *zap.Logger
	readOnly bool
}

// NewHANotifier creates a notifier backed by the HA client. In read-only mode
// issues are only logged.
func NewHANotifier(client ha.HAClient, logger *zap.Logger, readOnly bool) *HANotifier {
	return &HANotifier{
		client:   client,
		logger:   logger.Named("notify"),
		readOnly: readOnly,
	}
}

// Notify sends persistent_notification.create. The notification id is derived
// from the issue id and the helper so repeated issues replace each other.
func (n *HANotifier) Notify(ctx context.Context, issue Issue) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if n.readOnly {
		n.logger.Warn("Skipping notification in read-only mode",
			zap.String("issue", issue.ID),
			zap.String("title", issue.Title))
		return nil
	}

	data := map[string]interface{}{
		"notification_id": notificationID(issue),
		"title":           issue.Title,
		"message":         issue.Text(),
	}

	if err := n.client.CallService("persistent_notification", "create", data); err != nil {
		return fmt.Errorf("failed to create notification %s: %w", issue.ID, err)
	}

	n.logger.Info("Created notification", zap.String("issue", issue.ID))
	return nil
}

func notificationID(issue Issue) string {
	id := "calendar_merge_" + issue.ID
	if helper := issue.Placeholders["calendar_events_helper"]; helper != "" {
		id += "_" + strings.NewReplacer(".", "_", " ", "_").Replace(helper)
	}
	if entity := issue.Placeholders["entity"]; entity != "" {
		id += "_" + strings.ReplaceAll(entity, ".", "_")
	}
	return id
}

// LogNotifier writes issues to the log.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a notifier that only logs.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("notify")}
}

// Notify logs the issue at warning level.
func (n *LogNotifier) Notify(_ context.Context, issue Issue) error {
	fields := []zap.Field{
		zap.String("issue", issue.ID),
		zap.String("severity", string(issue.Severity)),
		zap.String("title", issue.Title),
	}
	for k, v := range issue.Placeholders {
		fields = append(fields, zap.String(k, v))
	}
	n.logger.Warn(issue.Message, fields...)
	return nil
}
