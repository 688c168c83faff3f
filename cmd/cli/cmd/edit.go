package cmd

import (
	"strings"

	"genplane/pkg/api"

	"github.com/spf13/cobra"
)

var editCmd = &cobra.Command{
	Use:   "edit [generation_id] [prompt]",
	Short: "Queue an edit of a completed generation",
	Long:  `Queue a follow-up edit. The edit continues the generation's conversation, so the model sees the earlier prompts and images.`,
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		wait, _ := cmd.Flags().GetBool("wait")

		client := newClient()
		resp, err := client.EditGeneration(args[0], api.EditGenerationRequest{
			EditPrompt: strings.Join(args[1:], " "),
		})
		if err != nil {
			return err
		}

		cmd.Printf("Edit queued\n")
		cmd.Printf("  Generation ID: %s\n", resp.GenerationID)
		cmd.Printf("  Parent ID:     %s\n", resp.ParentID)
		cmd.Printf("  Job ID:        %s\n", resp.JobID)

		if !wait {
			return nil
		}
		return followJob(cmd, client, resp.JobID)
	},
}

func init() {
	rootCmd.AddCommand(editCmd)

	editCmd.Flags().BoolP("wait", "w", false, "follow the job until it finishes")
}
