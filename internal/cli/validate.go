package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/me/lightci/internal/parser"
)

func newValidateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Parse and validate a pipeline definition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parser.New(logger).ParseFile(configPath)
			if err != nil {
				return fmt.Errorf("validation failed: %w", err)
			}
			fmt.Printf("Pipeline %q is valid (%d steps)\n", p.Name, len(p.Steps))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", DefaultConfigPath, "Pipeline definition to validate")
	return cmd
}
