package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/me/lightci/internal/parser"
)

func newInitCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a template pipeline definition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("configuration file already exists at %s", path)
			}
			if err := os.WriteFile(path, parser.Template(), 0o644); err != nil {
				return fmt.Errorf("write config file: %w", err)
			}
			fmt.Printf("Created new configuration at %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&path, "path", "p", DefaultConfigPath, "Where to write the template")
	return cmd
}
