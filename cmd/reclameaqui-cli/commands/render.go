package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"reclameaqui-pipeline/internal/models"

	"github.com/jedib0t/go-pretty/v6/table"
)

var errTasksFailed = errors.New("one or more tasks did not succeed")

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	return t
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.2f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.2f KB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%d B", n)
}

// renderReport prints every task of a run and returns errTasksFailed when
// any of them did not succeed.
func renderReport(report models.RunReport) error {
	t := newTable()
	t.SetTitle("run %s", report.RunID)
	t.AppendHeader(table.Row{"Task", "Status", "Records", "Duration", "Paths / Error"})
	for _, res := range report.Results {
		detail := strings.Join(res.Paths, "\n")
		if res.Err != nil {
			detail = res.ErrorText()
		}
		t.AppendRow(table.Row{
			res.TaskName,
			res.Status,
			res.Records,
			res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond),
			detail,
		})
	}

	counts := report.Counts()
	t.AppendFooter(table.Row{
		"total",
		fmt.Sprintf(
			"ok %d / upstream %d / store %d / skipped %d",
			counts[models.TaskOK],
			counts[models.TaskUpstreamError],
			counts[models.TaskStoreError],
			counts[models.TaskSkipped],
		),
		"",
		report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond),
		"",
	})
	t.Render()

	if !report.OK() {
		return errTasksFailed
	}
	return nil
}

func renderProfile(profile models.CompanyProfile) {
	t := newTable()
	t.SetTitle("%s", profile.DisplayName)
	t.AppendRow(table.Row{"ID", profile.ID})
	t.AppendRow(table.Row{"Shortname", profile.Shortname})
	t.AppendRow(table.Row{"Reputation", fmt.Sprintf("%.1f", profile.ReputationScore)})
	for _, segment := range profile.Segments {
		t.AppendRow(table.Row{"Segment", segment.Key()})
	}
	t.Render()
}
