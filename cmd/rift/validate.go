package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/riftlabs/rift/pkg/config"
	"github.com/riftlabs/rift/pkg/spec"
)

var validateCmd = &cobra.Command{
	Use:   "validate [openapi.yaml|rift.yaml]",
	Short: "Validate an OpenAPI document or a run configuration",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	path := args[0]

	if isOpenAPIFile(path) {
		doc, err := spec.LoadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Validation failed:\n  [structural] %v\n", err)
			return fmt.Errorf("validation failed")
		}
		fmt.Printf("✓ %s is valid (%d operations)\n", filepath.Base(path), len(doc.Operations))
		return nil
	}

	cfg, errs := config.ValidateFile(path)
	printValidationWarnings(errs)
	if hasValidationErrors(errs) {
		fmt.Fprintf(os.Stderr, "Validation failed: %d error(s)\n\n", countValidationErrors(errs))
		printValidationErrors(errs)
		return fmt.Errorf("validation failed with %d error(s)", countValidationErrors(errs))
	}
	fmt.Printf("✓ %s is valid (%s vs %s)\n", filepath.Base(path), cfg.Targets.A.BaseURL, cfg.Targets.B.BaseURL)
	return nil
}

// isOpenAPIFile sniffs for an openapi version key in the document head.
func isOpenAPIFile(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	if len(data) > 2048 {
		data = data[:2048]
	}
	return bytes.Contains(data, []byte("openapi:")) || bytes.Contains(data, []byte(`"openapi"`))
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
