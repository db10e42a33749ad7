package main

import (
	"fmt"
	"os"
	"time"

	"calendarmerge/internal/config"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// app carries what every command needs once flags are parsed.
type app struct {
	v        *viper.Viper
	settings config.Settings
	logger   *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	var settingsFile string

	root := &cobra.Command{
		Use:          "calendarmerge",
		Short:        "Merge upcoming events from several calendars into one list",
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
				fmt.Fprintf(os.Stderr, "Failed to load .env: %v\n", err)
			}

			if settingsFile != "" {
				a.v.SetConfigFile(settingsFile)
				if err := a.v.ReadInConfig(); err != nil {
					return fmt.Errorf("failed to read settings %s: %w", settingsFile, err)
				}
			}

			settings, err := config.LoadSettings(a.v)
			if err != nil {
				return err
			}
			a.settings = settings

			logger, err := newLogger(settings.Debug)
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
			a.logger = logger
			return nil
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&settingsFile, "config", "", "settings file (yaml, toml or json)")
	flags.String("ha-url", "", "Home Assistant websocket url, e.g. ws://homeassistant.local:8123/api/websocket")
	flags.String("ha-token", "", "Home Assistant long-lived access token")
	flags.String("options", config.DefaultOptionsFile, "calendar options file")
	flags.Int("port", 8099, "HTTP API port")
	flags.Duration("interval", 5*time.Minute, "refresh interval")
	flags.String("timezone", "", "time zone for events (default: Home Assistant's, then local)")
	flags.Bool("read-only", false, "never call services that change Home Assistant")
	flags.BoolP("debug", "d", false, "debug logging")
	flags.String("ics-cache-dir", "", "directory for cached ICS feeds")

	config.SetDefaults(a.v)
	cobra.CheckErr(config.BindFlags(a.v, flags))

	root.AddCommand(newRunCmd(a), newOnceCmd(a), newToggleCmd(a))
	return root
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
