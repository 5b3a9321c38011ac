// Package cli wires the command line interface of the calendar service.
package cli

import (
	"github.com/spf13/cobra"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "matsecal",
		Short: "Calendar scheduling service for the MATSE timetable",
		Long: `matsecal serves calendars over HTTP: a JSON API for event
scheduling with conflict detection, plus ICS exports of the upstream
MATSE timetable feed.`,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewServeCommand(opts))

	return cmd
}
