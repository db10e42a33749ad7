// Package markdown renders the merged event list into a markdown block using
// user supplied Jinja-style templates.
package markdown

import (
	"context"
	"strings"
	"sync"

	"calendarmerge/internal/calendar"
	"calendarmerge/internal/notify"

	"github.com/flosch/pongo2/v6"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// Default templates used when the options do not set any.
const (
	DefaultHeaderTemplate = "### <font color= dodgerblue> <ha-icon icon='mdi:calendar-blank-outline'></ha-icon></font>  Calendar events <br>"
	DefaultItemTemplate   = "- <font color= dodgerblue> <ha-icon icon='mdi:calendar-clock-outline'></ha-icon></font> __{{ summary }}__ <br>_{{ formatted_event_time }}_<br>"
)

const reportedErrorsSize = 64

var escaper = strings.NewReplacer(".", `\.`, "-", `\-`, "+", `\+`)

// Escape backslash-escapes the characters markdown would otherwise treat as
// list markers or ordered-list punctuation.
func Escape(s string) string {
	return escaper.Replace(s)
}

// templates parse in their own set so other pongo2 users keep their settings.
var templates = pongo2.NewSet("markdown", pongo2.DefaultLoader)

// Renderer renders the header and item templates. A renderer lives as long as
// its sensor; SetTemplates swaps templates without forgetting which errors
// were already reported.
type Renderer struct {
	notifier notify.Notifier
	logger   *zap.Logger

	mu     sync.RWMutex
	header string
	item   string
	helper string

	// reported holds (template, error) pairs already notified
	reported *lru.Cache[string, struct{}]
}

// NewRenderer creates a renderer. helper names the sensor the templates belong
// to and is included in template error notifications.
func NewRenderer(header, item, helper string, notifier notify.Notifier, logger *zap.Logger) *Renderer {
	reported, _ := lru.New[string, struct{}](reportedErrorsSize)

	return &Renderer{
		header:   header,
		item:     item,
		helper:   helper,
		notifier: notifier,
		logger:   logger.Named("markdown"),
		reported: reported,
	}
}

// SetTemplates replaces the templates and helper name.
func (r *Renderer) SetTemplates(header, item, helper string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.header = header
	r.item = item
	r.helper = helper
}

// Render builds the markdown for the given events. On a template error the
// markdown rendered so far is returned and the error is reported once per
// distinct template and error text.
func (r *Renderer) Render(ctx context.Context, displays []calendar.Display) string {
	r.mu.RLock()
	header, item, helper := r.header, r.item, r.helper
	r.mu.RUnlock()

	var md strings.Builder

	if header != "" {
		out, err := execute(header, pongo2.Context{})
		if err != nil {
			r.report(ctx, header, helper, err)
			return md.String()
		}
		md.WriteString(out)
	}

	if len(displays) > 0 {
		tpl, err := parse(item)
		if err != nil {
			r.report(ctx, item, helper, err)
			return md.String()
		}

		for _, d := range displays {
			out, err := tpl.Execute(itemContext(d))
			if err != nil {
				r.report(ctx, item, helper, err)
				return md.String()
			}
			md.WriteString(out)
		}
	}

	return strings.ReplaceAll(md.String(), "<br>", "\r")
}

// parse compiles a user template with autoescaping off; values are escaped
// for markdown by itemContext instead.
func parse(template string) (*pongo2.Template, error) {
	return templates.FromString("{% autoescape off %}" + template + "{% endautoescape %}")
}

func execute(template string, vars pongo2.Context) (string, error) {
	tpl, err := parse(template)
	if err != nil {
		return "", err
	}
	return tpl.Execute(vars)
}

func itemContext(d calendar.Display) pongo2.Context {
	return pongo2.Context{
		"calendar":             Escape(d.Calendar),
		"start":                Escape(d.Start.ISO()),
		"end":                  Escape(d.End.ISO()),
		"all_day":              d.AllDay,
		"summary":              Escape(d.Summary),
		"description":          Escape(d.Description),
		"location":             Escape(d.Location),
		"formatted_start":      Escape(d.FormattedStart),
		"formatted_end":        Escape(d.FormattedEnd),
		"formatted_event":      Escape(d.FormattedEvent),
		"formatted_event_time": Escape(d.FormattedEventTime),
	}
}

func (r *Renderer) report(ctx context.Context, template, helper string, err error) {
	key := template + "\x00" + err.Error()
	if found, _ := r.reported.ContainsOrAdd(key, struct{}{}); found {
		r.logger.Debug("Template error already reported", zap.Error(err))
		return
	}

	r.logger.Warn("Failed to render markdown template",
		zap.String("template", template),
		zap.Error(err))

	if r.notifier == nil {
		return
	}
	if nerr := r.notifier.Notify(ctx, notify.TemplateError(template, helper, err)); nerr != nil {
		r.logger.Warn("Failed to report template error", zap.Error(nerr))
	}
}
