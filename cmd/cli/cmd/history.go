package cmd

import (
	"strconv"
	"time"

	"genplane/pkg/api"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history [generation_id]",
	Short: "Show the edit chain of a generation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := newClient().GetHistory(args[0])
		if err != nil {
			return err
		}

		cmd.Println(renderHistory(resp.History))
		cmd.Printf("Current: %s (%d edits)\n", resp.Current.ID, resp.TotalEdits)
		return nil
	},
}

// maxPromptWidth truncates prompts in the table view.
const maxPromptWidth = 48

func renderHistory(chain []api.GenerationResponse) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"#", "GENERATION ID", "STATUS", "PROMPT", "CREATED"})

	for i, gen := range chain {
		prompt := gen.Prompt
		if gen.EditPrompt != nil {
			prompt = *gen.EditPrompt
		}
		if r := []rune(prompt); len(r) > maxPromptWidth {
			prompt = string(r[:maxPromptWidth-3]) + "..."
		}
		tw.AppendRow(table.Row{
			strconv.Itoa(i),
			gen.ID,
			gen.Status,
			prompt,
			gen.CreatedAt.Format(time.RFC3339),
		})
	}

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	return tw.Render()
}

func init() {
	rootCmd.AddCommand(historyCmd)
}
