package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pgdesk",
		Short: "pgdesk runs an embedded PostgreSQL engine and a terminal for the desktop UI",
		// main prints the error once, in colour.
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "Path to config.yaml (default $PGDESK_CONFIG or "+defaultConfigPath+")")

	root.AddCommand(newServeCmd(), newReplCmd(), newVersionCmd())
	return root
}

func printError(w io.Writer, err error) {
	red := color.New(color.FgRed, color.Bold)
	red.Fprint(w, "Error: ")
	fmt.Fprintln(w, err)
}

// configFlag returns the persistent --config value.
func configFlag(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config") //nolint:errcheck // flag is always registered on root
	return path
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of pgdesk",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pgdesk version %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
