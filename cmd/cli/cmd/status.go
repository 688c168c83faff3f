package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"genplane/pkg/api"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var statusCmd = &cobra.Command{
	Use:   "status [job_id]",
	Short: "Get status of a job",
	Long:  `Retrieve the current state of a generation job (waiting, active, completed, failed), its latest progress report and the generation it produces.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := newClient().GetJob(args[0])
		if err != nil {
			return err
		}

		printJob(cmd, *job)
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show [generation_id]",
	Short: "Show a generation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		gen, err := newClient().GetGeneration(args[0])
		if err != nil {
			return err
		}

		printGeneration(cmd, *gen)
		return nil
	},
}

func printJob(cmd *cobra.Command, job api.JobResponse) {
	s := stylesFor(cmd)

	cmd.Printf("%s %sJob Details%s\n", s.icon(job.State), s.bold, s.reset)
	cmd.Println("──────────────────────────────")

	cmd.Printf("%sID:%s          %s\n", s.dim, s.reset, job.JobID)
	cmd.Printf("%sType:%s        %s\n", s.dim, s.reset, job.Data.Type)
	cmd.Printf("%sGeneration:%s  %s\n", s.dim, s.reset, job.Data.GenerationID)
	cmd.Printf("%sState:%s       %s\n", s.dim, s.reset, s.colorizeStatus(job.State))
	cmd.Printf("%sProgress:%s    %s\n", s.dim, s.reset, formatProgress(job.Progress))

	if job.ReturnValue != nil {
		cmd.Printf("%sOutput:%s      %s%s%s\n", s.dim, s.reset, s.green, job.ReturnValue.OutputPath, s.reset)
	}
	if job.FailedReason != nil {
		cmd.Printf("%sError:%s       %s%s%s\n", s.dim, s.reset, s.red, *job.FailedReason, s.reset)
	}

	created := job.Data.CreatedAt
	cmd.Printf("%sCreated:%s     %s\n", s.dim, s.reset, s.formatTimeWithRelative(&created))
}

func printGeneration(cmd *cobra.Command, gen api.GenerationResponse) {
	s := stylesFor(cmd)

	cmd.Printf("%s %sGeneration Details%s\n", s.icon(gen.Status), s.bold, s.reset)
	cmd.Println("──────────────────────────────")

	cmd.Printf("%sID:%s          %s\n", s.dim, s.reset, gen.ID)
	cmd.Printf("%sStatus:%s      %s\n", s.dim, s.reset, s.colorizeStatus(gen.Status))
	cmd.Printf("%sPrompt:%s      %s\n", s.dim, s.reset, gen.Prompt)
	if gen.EditPrompt != nil {
		cmd.Printf("%sEdit:%s        %s\n", s.dim, s.reset, *gen.EditPrompt)
	}
	if gen.ParentGenerationID != nil {
		cmd.Printf("%sParent:%s      %s\n", s.dim, s.reset, *gen.ParentGenerationID)
	}
	cmd.Printf("%sResolution:%s  %s\n", s.dim, s.reset, gen.Resolution)
	if gen.GeneratedImagePath != "" {
		cmd.Printf("%sImage:%s       %s\n", s.dim, s.reset, gen.GeneratedImagePath)
	}
	if len(gen.OriginalImagePaths) > 0 {
		cmd.Printf("%sReferences:%s  %s\n", s.dim, s.reset, strings.Join(gen.OriginalImagePaths, ", "))
	}
	editable := "no"
	if gen.Editable {
		editable = "yes"
	}
	cmd.Printf("%sEditable:%s    %s\n", s.dim, s.reset, editable)

	cmd.Printf("%sCreated:%s     %s\n", s.dim, s.reset, s.formatTimeWithRelative(&gen.CreatedAt))
	if !gen.UpdatedAt.IsZero() && gen.UpdatedAt.After(gen.CreatedAt) {
		cmd.Printf("%sUpdated:%s     %s %s(%s)%s\n", s.dim, s.reset,
			s.formatTimeWithRelative(&gen.UpdatedAt),
			s.cyan, formatDuration(gen.UpdatedAt.Sub(gen.CreatedAt)), s.reset)
	}
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

// styles holds the escape codes for one output; all empty when color is off.
type styles struct {
	reset, bold, dim, red, green, yellow, cyan string
}

func stylesFor(cmd *cobra.Command) styles {
	if viper.GetBool("no_color") || !shouldColorize(cmd.OutOrStderr()) {
		return styles{}
	}
	return styles{
		reset:  colorReset,
		bold:   colorBold,
		dim:    colorDim,
		red:    colorRed,
		green:  colorGreen,
		yellow: colorYellow,
		cyan:   colorCyan,
	}
}

func shouldColorize(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// color returns the color for a job state or generation status.
func (s styles) color(status string) string {
	switch status {
	case "completed":
		return s.green
	case "failed":
		return s.red
	case "active", "processing":
		return s.yellow
	case "waiting", "pending":
		return s.cyan
	default:
		return ""
	}
}

func (s styles) icon(status string) string {
	var glyph string
	switch status {
	case "completed":
		glyph = "✓"
	case "failed":
		glyph = "✗"
	case "active", "processing":
		glyph = "⏳"
	case "waiting", "pending":
		glyph = "◯"
	default:
		return "•"
	}
	return s.color(status) + glyph + s.reset
}

func (s styles) colorizeStatus(status string) string {
	switch status {
	case "completed", "failed", "active", "processing", "waiting", "pending":
		return s.icon(status) + " " + s.color(status) + status + s.reset
	}
	return status
}

func formatProgress(p api.Progress) string {
	out := fmt.Sprintf("%s %3d%%", progressBar(p.Percentage), p.Percentage)
	if p.Stage != "" {
		out += " " + p.Stage
	}
	if p.Message != "" {
		out += ": " + p.Message
	}
	return out
}

func progressBar(pct int) string {
	const width = 20
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	filled := pct * width / 100
	return "[" + strings.Repeat("#", filled) + strings.Repeat("-", width-filled) + "]"
}

func (s styles) formatTimeWithRelative(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	relative := relativeTime(*t)
	return fmt.Sprintf("%s %s(%s ago)%s", t.Format("Mon, 02 Jan 2006 15:04:05 MST"), s.dim, relative, s.reset)
}

func relativeTime(t time.Time) string {
	duration := time.Since(t)

	if duration < time.Minute {
		return fmt.Sprintf("%ds", int(duration.Seconds()))
	} else if duration < time.Hour {
		return fmt.Sprintf("%dm", int(duration.Minutes()))
	} else if duration < 24*time.Hour {
		return fmt.Sprintf("%dh", int(duration.Hours()))
	} else {
		days := int(duration.Hours() / 24)
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	} else if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(showCmd)
}
