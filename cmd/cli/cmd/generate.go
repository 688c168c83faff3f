package cmd

import (
	"strings"

	"genplane/pkg/api"

	"github.com/spf13/cobra"
)

var generateCmd = &cobra.Command{
	Use:   "generate [prompt]",
	Short: "Queue a new image generation",
	Long: `Queue an image generation from a text prompt. Reference images are paths
inside the controller's artifact store.`,
	Example: `  genctl generate "a red sneaker" --resolution 1024x768
  genctl generate "same sneaker, side view" --image uploads/sneaker.png --wait`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resolution, _ := cmd.Flags().GetString("resolution")
		images, _ := cmd.Flags().GetStringArray("image")
		wait, _ := cmd.Flags().GetBool("wait")

		client := newClient()
		resp, err := client.CreateGeneration(api.CreateGenerationRequest{
			Prompt:             strings.Join(args, " "),
			Resolution:         resolution,
			OriginalImagePaths: images,
		})
		if err != nil {
			return err
		}

		cmd.Printf("Generation queued\n")
		cmd.Printf("  Generation ID: %s\n", resp.GenerationID)
		cmd.Printf("  Job ID:        %s\n", resp.JobID)

		if !wait {
			return nil
		}
		return followJob(cmd, client, resp.JobID)
	},
}

func init() {
	rootCmd.AddCommand(generateCmd)

	generateCmd.Flags().StringP("resolution", "r", "", "output size as WIDTHxHEIGHT (default 1024x1024)")
	generateCmd.Flags().StringArrayP("image", "i", nil, "reference image path (repeatable)")
	generateCmd.Flags().BoolP("wait", "w", false, "follow the job until it finishes")
}
