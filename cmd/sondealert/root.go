package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// configFlag overrides CONFIG_FILE when set.
const configFlag = "config"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sondealert",
		Short:         "Radiosonde telemetry alerting",
		Long:          "sondealert evaluates radiosonde telemetry against alert criteria and notifies once per sonde when a criterion starts matching.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String(configFlag, "", "path to the rules file (overrides CONFIG_FILE)")

	root.AddCommand(newRunCmd())
	root.AddCommand(newCheckConfigCmd())
	root.AddCommand(newSimulateCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// Execute runs the root command.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// rulesPath returns the --config flag if given, else fallback.
func rulesPath(cmd *cobra.Command, fallback string) string {
	if p, _ := cmd.Flags().GetString(configFlag); p != "" {
		return p
	}
	return fallback
}
