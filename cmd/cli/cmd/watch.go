package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"genplane/pkg/api"

	"github.com/spf13/cobra"
)

// errJobFailed is returned when a followed job ends in failure.
var errJobFailed = errors.New("job failed")

var watchCmd = &cobra.Command{
	Use:   "watch [job_id]",
	Short: "Follow a job's events until it finishes",
	Long:  `Open the job's event stream and print status and progress updates until the job completes or fails. Exits non-zero when the job fails.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return followJob(cmd, newClient(), args[0])
	},
}

// followJob prints the job's stream until a terminal message arrives.
// Ctrl+C stops following without affecting the job.
func followJob(cmd *cobra.Command, client *Client, jobID string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := stylesFor(cmd)
	var result error
	err := client.StreamJob(ctx, jobID, func(msg api.StreamMessage) error {
		switch msg.Type {
		case api.StreamStatus:
			line := fmt.Sprintf("%s %s", s.icon(msg.State), msg.State)
			if msg.Progress != nil {
				line += "  " + formatProgress(*msg.Progress)
			}
			cmd.Println(line)
		case api.StreamProgress:
			if msg.Progress != nil {
				cmd.Println(formatProgress(*msg.Progress))
			}
		case api.StreamCompleted:
			out := ""
			if msg.ReturnValue != nil {
				out = msg.ReturnValue.OutputPath
			}
			cmd.Printf("%s %scompleted%s %s\n", s.icon("completed"), s.green, s.reset, out)
		case api.StreamFailed:
			cmd.Printf("%s %sfailed%s %s\n", s.icon("failed"), s.red, s.reset, msg.FailedReason)
			result = fmt.Errorf("%w: %s", errJobFailed, msg.FailedReason)
		case api.StreamError:
			result = fmt.Errorf("stream error: %s", msg.Error)
		}
		if msg.Terminal() {
			return api.ErrStopStream
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	return result
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
