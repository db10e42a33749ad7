package locale

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNew_Resolution(t *testing.T) {
	tests := []struct {
		tag  string
		want string
	}{
		{"", "en"},
		{"en", "en"},
		{"en-GB", "en"},
		{"da", "da"},
		{"da_DK", "da"},
		{"de-AT", "de"},
		{"nb", "nb"},
		{"nb-NO", "nb"},
		{"xx-invalid-tag-!!", "en"},
		{"ja", "en"},
	}

	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			assert.Equal(t, tt.want, New(tt.tag).Language())
		})
	}
}

func TestLocale_DateTime(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	ts := time.Date(2024, 1, 5, 15, 4, 0, 0, loc)

	en := New("en")
	assert.Equal(t, "Jan 5, 2024", en.DateTime(ts, true))
	assert.Equal(t, "Jan 5, 2024, 3:04 PM", en.DateTime(ts, false))

	de := New("de")
	assert.Equal(t, "05.01.2024", de.MediumDate(ts))
	assert.Equal(t, "05.01.2024, 15:04", de.DateTime(ts, false))
}

func TestLocale_Now(t *testing.T) {
	assert.Equal(t, "Now", New("en").Now())
	assert.Equal(t, "Nu", New("da").Now())
	assert.Equal(t, "Jetzt", New("de").Now())
}

func TestLocale_Relative(t *testing.T) {
	en := New("en")

	tests := []struct {
		name string
		d    time.Duration
		want string
	}{
		{"three days ahead", 3*24*time.Hour + 2*time.Hour, "in 3 days"},
		{"twenty hours stays in hours", 20 * time.Hour, "in 20 hours"},
		{"twenty two hours rounds to a day", 22 * time.Hour, "in 1 day"},
		{"ninety minutes", 90 * time.Minute, "in 2 hours"},
		{"past", -2 * time.Hour, "2 hours ago"},
		{"zero rounds up to one second", 0, "in 1 second"},
		{"weeks", 15 * 24 * time.Hour, "in 2 weeks"},
		{"single minute", 55 * time.Second, "in 1 minute"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, en.Relative(tt.d))
		})
	}

	assert.Equal(t, "om 3 dage", New("da").Relative(3*24*time.Hour))
	assert.Equal(t, "vor 1 Stunde", New("de").Relative(-time.Hour))
}

func TestCapitalize(t *testing.T) {
	assert.Equal(t, "Work shifts", Capitalize("work Shifts"))
	assert.Equal(t, "Ærø", Capitalize("æRØ"))
	assert.Equal(t, "", Capitalize(""))
}
