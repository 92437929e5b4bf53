package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/riftlabs/rift/pkg/report"
)

var reportCmd = &cobra.Command{
	Use:   "report [run-dir]",
	Short: "Render a run's report in the terminal",
	Args:  cobra.ExactArgs(1),
	RunE:  runReport,
}

func runReport(cmd *cobra.Command, args []string) error {
	path := filepath.Join(args[0], "report.md")
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read report: %w", err)
	}
	fmt.Print(report.Render(string(data)))
	return nil
}

func init() {
	rootCmd.AddCommand(reportCmd)
}
