package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/me/lightci/pkg/model"
)

func newStatusCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Tabulate known pipeline executions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, cleanup, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			builds, _, err := app.engine.ListBuilds(ctx, model.ListOptions{Limit: limit})
			if err != nil {
				return err
			}
			if len(builds) == 0 {
				fmt.Println("No pipeline executions found")
				return nil
			}

			names := pipelineNames(ctx, app, builds)

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"ID", "PIPELINE", "STATUS", "STARTED", "DURATION"})
			table.SetBorder(false)
			table.SetAutoWrapText(false)

			for _, b := range builds {
				table.Append([]string{
					b.ID,
					names[b.PipelineID],
					buildStatusLabel(b.Status),
					startedLabel(b),
					durationLabel(b),
				})
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum executions to show")
	return cmd
}

// pipelineNames resolves pipeline ids to names, falling back to the id.
func pipelineNames(ctx context.Context, app *app, builds []*model.Build) map[string]string {
	names := make(map[string]string)
	for _, b := range builds {
		if _, ok := names[b.PipelineID]; ok {
			continue
		}
		names[b.PipelineID] = b.PipelineID
		if p, err := app.engine.GetPipeline(ctx, b.PipelineID); err == nil && p != nil {
			names[b.PipelineID] = p.Name
		}
	}
	return names
}

func buildStatusLabel(s model.BuildStatus) string {
	switch s {
	case model.BuildRunning:
		return color.BlueString("running")
	case model.BuildSuccess:
		return color.GreenString("success")
	case model.BuildFailed:
		return color.RedString("failed")
	case model.BuildCancelled:
		return color.RedString("cancelled")
	case model.BuildTimedOut:
		return color.RedString("timedout")
	default:
		return color.YellowString(s.String())
	}
}

func startedLabel(b *model.Build) string {
	if b.StartedAt == nil {
		return "-"
	}
	return humanize.Time(*b.StartedAt)
}

func durationLabel(b *model.Build) string {
	if b.StartedAt == nil {
		return "-"
	}
	end := time.Now().UTC()
	if b.CompletedAt != nil {
		end = *b.CompletedAt
	}
	return end.Sub(*b.StartedAt).Round(time.Second).String()
}
