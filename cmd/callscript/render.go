package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"callscript/internal/lead"
	"callscript/internal/render"
)

var (
	renderTemplate string
	renderQuery    string
	renderAt       string
	renderTimezone string
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Fill a script template from a lead query string",
	Long: `Render a script template the way an agent would see it.

The template is read from --template, or from stdin when --template is "-".
Lead fields come from --query in dialer launch form.

Examples:
  callscript render --template "Hi [First Name]" --query "first_name=Sam"
  callscript render --template - --query "$LAUNCH" --at 2026-03-02T09:00:00Z`,
	RunE: func(cmd *cobra.Command, args []string) error {
		tpl := renderTemplate
		if tpl == "-" {
			raw, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read template: %w", err)
			}
			tpl = string(raw)
		}

		tz := renderTimezone
		if tz == "" {
			tz = os.Getenv("CALLSCRIPT_TIMEZONE")
		}
		if tz == "" {
			tz = "America/New_York"
		}
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("invalid timezone %q: %w", tz, err)
		}

		opts := []render.Option{render.WithLocation(loc)}
		if renderAt != "" {
			at, err := time.Parse(time.RFC3339, renderAt)
			if err != nil {
				return fmt.Errorf("invalid --at: %w", err)
			}
			opts = append(opts, render.WithClock(func() time.Time { return at }))
		}

		out := render.New(opts...).Render(tpl, lead.Parse(renderQuery))
		_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
		return err
	},
}

func init() {
	renderCmd.Flags().StringVar(&renderTemplate, "template", "", `script template, or "-" for stdin`)
	renderCmd.Flags().StringVar(&renderQuery, "query", "", "lead launch query string")
	renderCmd.Flags().StringVar(&renderAt, "at", "", "render as of this RFC 3339 time")
	renderCmd.Flags().StringVar(&renderTimezone, "timezone", "", "reference timezone (defaults to CALLSCRIPT_TIMEZONE)")
	_ = renderCmd.MarkFlagRequired("template")
}
