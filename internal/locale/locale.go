// Package locale formats dates, times and relative durations for the display
// languages the merged calendar supports.
package locale

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/goodsign/monday"
	"golang.org/x/text/language"
)

// relativeThreshold is the fraction of a unit a duration must reach before it
// is expressed in that unit ("20 hours" but "1 day" for 22 hours).
const relativeThreshold = 0.85

type unit struct {
	seconds float64
	index   int
}

// Largest first; index selects the name in profile.units.
var unitLadder = []unit{
	{seconds: 365 * 24 * 3600, index: 0},
	{seconds: 30 * 24 * 3600, index: 1},
	{seconds: 7 * 24 * 3600, index: 2},
	{seconds: 24 * 3600, index: 3},
	{seconds: 3600, index: 4},
	{seconds: 60, index: 5},
	{seconds: 1, index: 6},
}

// profile holds the per-language patterns.
type profile struct {
	monday     monday.Locale
	dateLayout string
	timeLayout string
	dateTime   string // joins date and time, date first
	now        string
	future     string
	past       string
	units      [7][2]string // singular, plural
}

var profiles = map[string]profile{
	"en": {
		monday: monday.LocaleEnUS, dateLayout: "Jan 2, 2006", timeLayout: "3:04 PM", dateTime: "%s, %s",
		now: "now", future: "in %s", past: "%s ago",
		units: [7][2]string{{"year", "years"}, {"month", "months"}, {"week", "weeks"}, {"day", "days"}, {"hour", "hours"}, {"minute", "minutes"}, {"second", "seconds"}},
	},
	"da": {
		monday: monday.LocaleDaDK, dateLayout: "2. Jan 2006", timeLayout: "15.04", dateTime: "%s %s",
		now: "nu", future: "om %s", past: "for %s siden",
		units: [7][2]string{{"år", "år"}, {"måned", "måneder"}, {"uge", "uger"}, {"dag", "dage"}, {"time", "timer"}, {"minut", "minutter"}, {"sekund", "sekunder"}},
	},
	"de": {
		monday: monday.LocaleDeDE, dateLayout: "02.01.2006", timeLayout: "15:04", dateTime: "%s, %s",
		now: "jetzt", future: "in %s", past: "vor %s",
		units: [7][2]string{{"Jahr", "Jahren"}, {"Monat", "Monaten"}, {"Woche", "Wochen"}, {"Tag", "Tagen"}, {"Stunde", "Stunden"}, {"Minute", "Minuten"}, {"Sekunde", "Sekunden"}},
	},
	"fr": {
		monday: monday.LocaleFrFR, dateLayout: "2 Jan 2006", timeLayout: "15:04", dateTime: "%s %s",
		now: "maintenant", future: "dans %s", past: "il y a %s",
		units: [7][2]string{{"an", "ans"}, {"mois", "mois"}, {"semaine", "semaines"}, {"jour", "jours"}, {"heure", "heures"}, {"minute", "minutes"}, {"seconde", "secondes"}},
	},
	"nl": {
		monday: monday.LocaleNlNL, dateLayout: "2 Jan 2006", timeLayout: "15:04", dateTime: "%s %s",
		now: "nu", future: "over %s", past: "%s geleden",
		units: [7][2]string{{"jaar", "jaar"}, {"maand", "maanden"}, {"week", "weken"}, {"dag", "dagen"}, {"uur", "uur"}, {"minuut", "minuten"}, {"seconde", "seconden"}},
	},
	"sv": {
		monday: monday.LocaleSvSE, dateLayout: "2 Jan 2006", timeLayout: "15:04", dateTime: "%s %s",
		now: "nu", future: "om %s", past: "för %s sedan",
		units: [7][2]string{{"år", "år"}, {"månad", "månader"}, {"vecka", "veckor"}, {"dag", "dagar"}, {"timme", "timmar"}, {"minut", "minuter"}, {"sekund", "sekunder"}},
	},
	"nb": {
		monday: monday.LocaleNbNO, dateLayout: "2. Jan 2006", timeLayout: "15:04", dateTime: "%s, %s",
		now: "nå", future: "om %s", past: "for %s siden",
		units: [7][2]string{{"år", "år"}, {"måned", "måneder"}, {"uke", "uker"}, {"dag", "dager"}, {"time", "timer"}, {"minutt", "minutter"}, {"sekund", "sekunder"}},
	},
	"es": {
		monday: monday.LocaleEsES, dateLayout: "2 Jan 2006", timeLayout: "15:04", dateTime: "%s, %s",
		now: "ahora", future: "dentro de %s", past: "hace %s",
		units: [7][2]string{{"año", "años"}, {"mes", "meses"}, {"semana", "semanas"}, {"día", "días"}, {"hora", "horas"}, {"minuto", "minutos"}, {"segundo", "segundos"}},
	},
	"it": {
		monday: monday.LocaleItIT, dateLayout: "2 Jan 2006", timeLayout: "15:04", dateTime: "%s, %s",
		now: "ora", future: "tra %s", past: "%s fa",
		units: [7][2]string{{"anno", "anni"}, {"mese", "mesi"}, {"settimana", "settimane"}, {"giorno", "giorni"}, {"ora", "ore"}, {"minuto", "minuti"}, {"secondo", "secondi"}},
	},
}

// Order matters: the first entry is the matcher's fallback.
var supported = []language.Tag{
	language.English,
	language.Danish,
	language.German,
	language.French,
	language.Dutch,
	language.Swedish,
	language.MustParse("nb"),
	language.Spanish,
	language.Italian,
}

var matcher = language.NewMatcher(supported)

// Locale formats values for one display language.
type Locale struct {
	tag     language.Tag
	base    string
	profile profile
}

// New resolves a language tag such as "da", "de-DE" or "en_GB" to the closest
// supported locale. Empty or unknown tags fall back to English.
func New(tag string) *Locale {
	tag = strings.ReplaceAll(strings.TrimSpace(tag), "_", "-")

	resolved := language.English
	if tag != "" {
		if parsed, err := language.Parse(tag); err == nil {
			_, index, confidence := matcher.Match(parsed)
			if confidence != language.No {
				resolved = supported[index]
			}
		}
	}

	base, _ := resolved.Base()
	key := base.String()
	p, ok := profiles[key]
	if !ok {
		key = "en"
		p = profiles[key]
	}

	return &Locale{tag: resolved, base: key, profile: p}
}

// Language returns the resolved base language, e.g. "da".
func (l *Locale) Language() string {
	return l.base
}

// MediumDate formats t as a medium-length date ("Jan 5, 2024", "5. jan. 2024").
func (l *Locale) MediumDate(t time.Time) string {
	return monday.Format(t, l.profile.dateLayout, l.profile.monday)
}

// ShortTime formats the wall-clock time of t.
func (l *Locale) ShortTime(t time.Time) string {
	return monday.Format(t, l.profile.timeLayout, l.profile.monday)
}

// DateTime formats t as a date, followed by the time unless dateOnly is set.
func (l *Locale) DateTime(t time.Time, dateOnly bool) string {
	date := l.MediumDate(t)
	if dateOnly {
		return date
	}
	return fmt.Sprintf(l.profile.dateTime, date, l.ShortTime(t))
}

// Now returns the word for "now" with its first letter capitalized.
func (l *Locale) Now() string {
	return Capitalize(l.profile.now)
}

// Relative renders d as a phrase with direction, "in 3 days" for positive
// durations and "3 days ago" for negative ones. The largest unit the duration
// reaches at least 85% of is used.
func (l *Locale) Relative(d time.Duration) string {
	secs := math.Abs(d.Seconds())

	for i, u := range unitLadder {
		value := secs / u.seconds
		if value < relativeThreshold && i < len(unitLadder)-1 {
			continue
		}

		n := int(math.Max(1, math.RoundToEven(value)))
		names := l.profile.units[u.index]
		name := names[1]
		if n == 1 {
			name = names[0]
		}

		amount := fmt.Sprintf("%d %s", n, name)
		if d < 0 {
			return fmt.Sprintf(l.profile.past, amount)
		}
		return fmt.Sprintf(l.profile.future, amount)
	}

	return ""
}

// Capitalize upper-cases the first rune and lower-cases the rest.
func Capitalize(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}
