package config

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Settings are the process level settings, read from flags, environment and
// an optional settings file.
type Settings struct {
	HAURL           string
	HAToken         string
	OptionsPath     string
	APIPort         int
	RefreshInterval time.Duration
	Timezone        string
	ReadOnly        bool
	Debug           bool
	ICSCacheDir     string
}

// Setting keys.
const (
	KeyHAURL           = "ha.url"
	KeyHAToken         = "ha.token"
	KeyOptions         = "options"
	KeyAPIPort         = "api.port"
	KeyRefreshInterval = "refresh.interval"
	KeyTimezone        = "timezone"
	KeyReadOnly        = "read_only"
	KeyDebug           = "debug"
	KeyICSCacheDir     = "ics.cache_dir"
)

// SetDefaults registers defaults and environment bindings on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyOptions, DefaultOptionsFile)
	v.SetDefault(KeyAPIPort, 8099)
	v.SetDefault(KeyRefreshInterval, 5*time.Minute)
	v.SetDefault(KeyReadOnly, false)
	v.SetDefault(KeyDebug, false)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The plain names used by the Home Assistant client setup.
	_ = v.BindEnv(KeyHAURL, "HA_URL")
	_ = v.BindEnv(KeyHAToken, "HA_TOKEN")
	_ = v.BindEnv(KeyReadOnly, "READ_ONLY")
}

// BindFlags binds the persistent command line flags to their keys.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	bindings := map[string]string{
		KeyHAURL:           "ha-url",
		KeyHAToken:         "ha-token",
		KeyOptions:         "options",
		KeyAPIPort:         "port",
		KeyRefreshInterval: "interval",
		KeyTimezone:        "timezone",
		KeyReadOnly:        "read-only",
		KeyDebug:           "debug",
		KeyICSCacheDir:     "ics-cache-dir",
	}
	for key, name := range bindings {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}
	return nil
}

// LoadSettings reads the settings from v.
func LoadSettings(v *viper.Viper) (Settings, error) {
	s := Settings{
		HAURL:           v.GetString(KeyHAURL),
		HAToken:         v.GetString(KeyHAToken),
		OptionsPath:     v.GetString(KeyOptions),
		APIPort:         v.GetInt(KeyAPIPort),
		RefreshInterval: v.GetDuration(KeyRefreshInterval),
		Timezone:        v.GetString(KeyTimezone),
		ReadOnly:        v.GetBool(KeyReadOnly),
		Debug:           v.GetBool(KeyDebug),
		ICSCacheDir:     v.GetString(KeyICSCacheDir),
	}

	if s.RefreshInterval < time.Minute {
		return s, fmt.Errorf("refresh interval %s is shorter than one minute", s.RefreshInterval)
	}
	if s.APIPort < 0 || s.APIPort > 65535 {
		return s, fmt.Errorf("invalid api port %d", s.APIPort)
	}
	return s, nil
}

// HasHA reports whether a Home Assistant connection is configured.
func (s Settings) HasHA() bool {
	return s.HAURL != "" && s.HAToken != ""
}

// Slug turns a name into an entity id part: "Calendar Merge" becomes
// "calendar_merge".
func Slug(name string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
