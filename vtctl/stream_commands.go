package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/krelinga/hls-transcoder/internal"
	"github.com/spf13/cobra"
)

func newEnqueueCommand(ctx *commandContext) *cobra.Command {
	var (
		key        string
		videoID    string
		webhookURI string
	)
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Enqueue an HLS packaging job for an uploaded source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jobArgs := internal.StreamJobArgs{Key: key, VideoID: videoID}
			if webhookURI != "" {
				jobArgs.WebhookURI = &webhookURI
			}
			if err := jobArgs.Validate(); err != nil {
				return err
			}
			return ctx.withStreams(cmd.Context(), func(streams streamBackend) error {
				rec, err := streams.Enqueue(cmd.Context(), jobArgs)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Enqueued %s as job %d\n", rec.VideoID, rec.JobID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "Remote path of the uploaded source object")
	cmd.Flags().StringVar(&videoID, "video-id", "", "Video identifier; names the output folder")
	cmd.Flags().StringVar(&webhookURI, "webhook-uri", "", "URI that receives progress events")
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("video-id")
	return cmd
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status VIDEO_ID",
		Short: "Show the status of a video's packaging job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStreams(cmd.Context(), func(streams streamBackend) error {
				rec, err := streams.Lookup(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), renderStatus(rec))
				return nil
			})
		},
	}
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recently enqueued jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive, got %d", limit)
			}
			return ctx.withStreams(cmd.Context(), func(streams streamBackend) error {
				records, err := streams.List(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if len(records) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No stream jobs")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Video", "Job", "State", "Progress", "Attempt", "Updated"},
					buildListRows(records),
					2, 4, 5,
				))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of jobs to show")
	return cmd
}

func buildListRows(records []*internal.StreamRecord) [][]string {
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		rows = append(rows, []string{
			rec.VideoID,
			strconv.FormatInt(rec.JobID, 10),
			string(rec.State),
			fmt.Sprintf("%d%%", rec.Progress),
			strconv.Itoa(rec.Attempt),
			rec.UpdatedAt.Format(time.RFC3339),
		})
	}
	return rows
}

func buildStatusRows(rec *internal.StreamRecord) [][]string {
	rows := [][]string{
		{"Video", rec.VideoID},
		{"Source", rec.Key},
		{"Job", strconv.FormatInt(rec.JobID, 10)},
		{"State", string(rec.State)},
		{"Progress", fmt.Sprintf("%d%%", rec.Progress)},
		{"Attempt", strconv.Itoa(rec.Attempt)},
		{"Created", rec.CreatedAt.Format(time.RFC3339)},
		{"Updated", rec.UpdatedAt.Format(time.RFC3339)},
	}
	if ev := rec.Event; ev != nil {
		status := ev.Status
		if ev.Resolution != "" {
			status += " (" + ev.Resolution + ")"
		}
		rows = append(rows, []string{"Last event", fmt.Sprintf("%s %d%% %s", ev.Type, ev.Percent, status)})
	}
	if rec.Error != nil {
		rows = append(rows, []string{"Error", *rec.Error})
	}
	return rows
}

func renderStatus(rec *internal.StreamRecord) string {
	return renderTable([]string{"Field", "Value"}, buildStatusRows(rec))
}
