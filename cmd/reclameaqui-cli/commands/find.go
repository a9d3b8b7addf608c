package commands

import (
	"fmt"

	"reclameaqui-pipeline/internal/finder"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var findQuiet bool

func init() {
	rootCmd.AddCommand(findCompanyCmd)
	findCompanyCmd.Flags().BoolVar(&findQuiet, "quiet", false, "Only print the chosen company and the run outcome.")
}

func renderResolution(res finder.Resolution) {
	t := newTable()
	t.SetTitle("candidates for %q", res.Query)
	t.AppendHeader(table.Row{"Company", "Shortname", "Complaints", "Score", "Found By"})
	for _, c := range res.Candidates {
		t.AppendRow(table.Row{c.Name, c.Shortname, c.Count, fmt.Sprintf("%.2f", c.Score), c.Variant})
	}
	if len(res.Failed) > 0 {
		t.AppendFooter(table.Row{"failed queries", fmt.Sprint(res.Failed), "", "", ""})
	}
	t.Render()
}

var findCompanyCmd = &cobra.Command{
	Use:   "find-company <name>",
	Short: "Resolves a free-form company name and collects the best match.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		err := verifyStore(cmd)
		if err != nil {
			return err
		}

		res, report, err := current.finder.FindAndCollect(cmd.Context(), args[0], current.pipeline)
		if !findQuiet {
			renderResolution(res)
		}
		if err != nil {
			return err
		}

		if findQuiet {
			fmt.Printf("%s (%s) score %.2f\n", res.Best.Name, res.Best.Shortname, res.Best.Score)
			if !report.OK() {
				return errTasksFailed
			}
			return nil
		}
		return renderReport(report)
	},
}
