package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/me/lightci/pkg/model"
)

func newRunCmd() *cobra.Command {
	var (
		configPath string
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run [pipeline_name]",
		Short: "Trigger a pipeline and wait for it to finish",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			app, cleanup, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			p, err := app.parser.ParseFile(configPath)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				p.Name = args[0]
			}

			if err := app.engine.CreatePipeline(ctx, p); err != nil {
				return err
			}

			sub := app.engine.Subscribe()
			defer sub.Close()

			build, err := app.engine.TriggerBuild(ctx, &model.TriggerBuildRequest{PipelineID: p.ID})
			if err != nil {
				return err
			}
			fmt.Printf("Build %s started (pipeline %q)\n", build.ID, p.Name)

			// There is no pipeline-level timeout in the engine; a deadline
			// here simply cancels the build.
			if timeout > 0 {
				timer := time.AfterFunc(timeout, func() {
					app.engine.CancelBuild(context.Background(), build.ID)
				})
				defer timer.Stop()
			}

			for update := range sub.Updates() {
				if update.BuildID != build.ID {
					continue
				}
				if update.StepID == "" {
					break
				}
				fmt.Printf("  %s %s\n", statusLabel(update.Status), update.StepName)
			}
			app.engine.Wait()

			final, err := app.engine.GetBuild(ctx, build.ID)
			if err != nil {
				return err
			}
			fmt.Printf("Build %s: %s\n", build.ID, final.Status)
			if final.Status != model.BuildSuccess {
				return fmt.Errorf("build finished with status %s", final.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", DefaultConfigPath, "Pipeline definition to run")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Cancel the build after this duration (0 disables)")
	return cmd
}

// statusLabel renders a step status with the conventional colour.
func statusLabel(s model.StepStatus) string {
	switch s {
	case model.StepRunning:
		return color.BlueString("▶ running ")
	case model.StepSuccess:
		return color.GreenString("✓ success ")
	case model.StepFailed:
		return color.RedString("✗ failed  ")
	case model.StepCancelled:
		return color.RedString("⊘ cancelled")
	case model.StepTimedOut:
		return color.RedString("⏱ timedout")
	case model.StepSkipped:
		return color.YellowString("- skipped ")
	default:
		return color.YellowString("⏳ " + s.String())
	}
}
