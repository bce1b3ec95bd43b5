package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newLogsCmd() *cobra.Command {
	var follow bool

	cmd := &cobra.Command{
		Use:   "logs <build_id>",
		Short: "Print the log lines recorded for a build",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id := args[0]

			app, cleanup, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			b, err := app.engine.GetBuild(ctx, id)
			if err != nil {
				return err
			}
			if b == nil {
				return fmt.Errorf("build %q not found", id)
			}

			printed := 0
			for {
				logs, err := app.engine.GetBuildLogs(ctx, id)
				if err != nil {
					return err
				}
				for _, entry := range logs[printed:] {
					prefix := ""
					if entry.StepID != "" {
						prefix = "[" + entry.StepID + "] "
					}
					fmt.Printf("%s %s%s\n", entry.Timestamp.Format(time.TimeOnly), prefix, entry.Content)
				}
				printed = len(logs)

				if !follow {
					return nil
				}
				b, err = app.engine.GetBuild(ctx, id)
				if err != nil {
					return err
				}
				if b == nil || b.Status.IsTerminal() {
					return nil
				}
				time.Sleep(time.Second)
			}
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Stream logs until the build finishes")
	return cmd
}
