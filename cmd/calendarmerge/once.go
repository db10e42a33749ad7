package main

import (
	"fmt"
	"io"
	"strings"

	"calendarmerge/internal/calendar"
	"calendarmerge/internal/config"
	"calendarmerge/internal/coordinator"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	summaryStyle  = lipgloss.NewStyle().Bold(true)
	whenStyle     = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("250"))
	calendarStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	emptyStyle    = lipgloss.NewStyle().Faint(true)
	boxStyle      = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("39")).
			Padding(0, 2)
)

func newOnceCmd(a *app) *cobra.Command {
	var showMarkdown, noColor bool

	cmd := &cobra.Command{
		Use:   "once",
		Short: "Fetch all calendars once and print the merged list",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if noColor {
				lipgloss.SetColorProfile(termenv.Ascii)
			}

			loader := config.NewLoader(a.settings.OptionsPath, a.logger)
			opts, err := loader.Load()
			if err != nil {
				return err
			}

			client, haConfig, err := a.connectHA()
			if err != nil {
				return err
			}
			if client != nil {
				defer client.Disconnect()
			}

			coord, err := a.newCoordinator(opts, loader, client, haConfig, true)
			if err != nil {
				return err
			}

			snap := coord.Refresh(cmd.Context(), true)
			if err := coord.Merger().LastError(); err != nil {
				return fmt.Errorf("refresh failed: %w", err)
			}

			printPreview(cmd.OutOrStdout(), opts.Name, snap)
			if showMarkdown {
				fmt.Fprintln(cmd.OutOrStdout(), snap.Markdown)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showMarkdown, "markdown", false, "also print the rendered markdown")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "print the preview without colors")
	return cmd
}

// printPreview writes a styled terminal view of the snapshot.
func printPreview(w io.Writer, name string, snap coordinator.Snapshot) {
	lines := []string{titleStyle.Render(fmt.Sprintf("%s (%d)", name, snap.State)), ""}

	if len(snap.Events) == 0 {
		lines = append(lines, emptyStyle.Render("No upcoming events"))
	}
	for _, d := range snap.Events {
		lines = append(lines, previewLine(d))
	}

	fmt.Fprintln(w, boxStyle.Render(strings.Join(lines, "\n")))
}

func previewLine(d calendar.Display) string {
	return lipgloss.JoinHorizontal(lipgloss.Top,
		summaryStyle.Render(d.Summary),
		"  ",
		whenStyle.Render(d.FormattedEventTime),
		"  ",
		calendarStyle.Render(d.Calendar),
	)
}
