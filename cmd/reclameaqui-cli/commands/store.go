package commands

import (
	"fmt"
	"slices"
	"time"

	"reclameaqui-pipeline/internal/models"
	"reclameaqui-pipeline/internal/objectstore"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(promoteCmd)

	listCmd.Flags().StringVar(&listLayer, "layer", string(models.LayerLanding), "The layer to list: landing, raw or trusted.")
	listCmd.Flags().StringVar(&listCategory, "category", "", "Only list objects under this category.")
	listCmd.Flags().StringVar(&listFrom, "from", "", "First partition date to include (YYYY-MM-DD).")
	listCmd.Flags().StringVar(&listTo, "to", "", "Last partition date to include (YYYY-MM-DD).")
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Creates the layer buckets if they are missing.",
	RunE: func(cmd *cobra.Command, args []string) error {
		err := current.gateway.EnsureLayers(cmd.Context())
		if err != nil {
			return err
		}

		t := newTable()
		t.AppendHeader(table.Row{"Layer", "Bucket"})
		for _, layer := range models.Layers {
			bucket, err := current.gateway.Bucket(layer)
			if err != nil {
				return err
			}
			t.AppendRow(table.Row{layer, bucket})
		}
		t.Render()
		return nil
	},
}

var (
	listLayer    string
	listCategory string
	listFrom     string
	listTo       string
)

func parseDay(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	day, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", value)
	}
	return day, nil
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists the objects stored in a layer.",
	RunE: func(cmd *cobra.Command, args []string) error {
		layer, err := models.ParseLayer(listLayer)
		if err != nil {
			return err
		}
		from, err := parseDay(listFrom)
		if err != nil {
			return err
		}
		to, err := parseDay(listTo)
		if err != nil {
			return err
		}

		t := newTable()
		t.AppendHeader(table.Row{"Path", "Size", "Last Modified"})
		count := 0
		var total int64
		for ref, err := range current.gateway.List(cmd.Context(), layer, objectstore.ListOptions{
			CategoryPrefix: listCategory,
			From:           from,
			To:             to,
		}) {
			if err != nil {
				return err
			}
			t.AppendRow(table.Row{ref.Path, formatBytes(ref.Size), ref.LastModified.Format(time.DateTime)})
			count++
			total += ref.Size
		}
		t.AppendFooter(table.Row{fmt.Sprintf("%d objects", count), formatBytes(total), ""})
		t.Render()
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Prints object counts and sizes for every layer.",
	RunE: func(cmd *cobra.Command, args []string) error {
		t := newTable()
		t.AppendHeader(table.Row{"Layer", "Bucket", "Objects", "Size", "Categories"})

		partial := false
		for _, layer := range models.Layers {
			stats := current.gateway.Stat(cmd.Context(), layer)

			var categories []string
			for category, n := range stats.Categories {
				categories = append(categories, fmt.Sprintf("%s (%d)", category, n))
			}
			slices.Sort(categories)

			objects := fmt.Sprint(stats.ObjectCount)
			if stats.Partial {
				objects += " (partial)"
				partial = true
			}
			t.AppendRow(table.Row{layer, stats.Bucket, objects, formatBytes(stats.TotalBytes), len(categories)})
			for _, c := range categories {
				t.AppendRow(table.Row{"", "", "", "", c})
			}
		}
		t.Render()

		if partial {
			return fmt.Errorf("%w: some layers could not be fully enumerated", objectstore.ErrStoreUnavailable)
		}
		return nil
	},
}

var promoteCmd = &cobra.Command{
	Use:   "promote <landing path>",
	Short: "Copies a landing object into the raw layer with processing metadata.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, err := current.gateway.Promote(cmd.Context(), args[0], nil)
		if err != nil {
			return err
		}
		fmt.Printf("raw/%s (%s)\n", ref.Path, formatBytes(ref.Size))
		return nil
	},
}
