package main

import (
	"github.com/spf13/cobra"

	"github.com/riftlabs/rift/pkg/inspect"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [run-dir]",
	Short: "Browse a run's bundles interactively",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func runInspect(cmd *cobra.Command, args []string) error {
	insp, err := inspect.New(args[0])
	if err != nil {
		return err
	}
	return insp.Run()
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}
