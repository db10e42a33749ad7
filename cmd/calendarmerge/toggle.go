package main

import (
	"fmt"

	"calendarmerge/internal/config"

	"github.com/spf13/cobra"
)

func newToggleCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle",
		Short: "Switch show_event_as_time_to in the options file",
		Long: "Switch between absolute dates and relative times in the options file. " +
			"A running service picks the change up on its own.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			loader := config.NewLoader(a.settings.OptionsPath, a.logger)
			opts, err := loader.Load()
			if err != nil {
				return err
			}

			opts.ShowAsTimeTo = !opts.ShowAsTimeTo
			if err := loader.Save(opts); err != nil {
				return err
			}

			mode := "dates"
			if opts.ShowAsTimeTo {
				mode = "relative times"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s now shows %s\n", loader.Path(), mode)
			return nil
		},
	}
}
