package commands

import (
	"errors"
	"fmt"

	"reclameaqui-pipeline/internal/models"
	"reclameaqui-pipeline/internal/pipeline"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(collectBasicCmd)
	rootCmd.AddCommand(collectCategoryCmd)
	rootCmd.AddCommand(collectCompanyCmd)

	basic := collectBasicCmd.Flags()
	basic.IntVar(&basicMaxCategories, "max-categories", 0, "How many categories to collect rankings for (defaults to the config).")
	basic.IntVar(&basicMaxCompanies, "max-companies", 0, "How many companies to collect per category (defaults to the config).")
	basic.IntVar(&basicWorkers, "workers", 0, "How many categories to collect concurrently (defaults to the config).")
	basic.BoolVar(&basicPersistReport, "persist-report", false, "Store the run summary in the pipeline_stats category.")

	category := collectCategoryCmd.Flags()
	category.StringVar(&categoryMain, "main", "", "Main segment shortname.")
	category.StringVar(&categorySecondary, "secondary", "", "Secondary segment shortname.")
	category.IntVar(&categorySize, "size", 10, "How many ranked companies to keep.")
	collectCategoryCmd.MarkFlagRequired("main")
	collectCategoryCmd.MarkFlagRequired("secondary")

	company := collectCompanyCmd.Flags()
	company.StringVar(&companyShortname, "shortname", "", "The company shortname, as found in its page url.")
	company.BoolVar(&companyAll, "all", false, "Also collect unrated complaints.")
	collectCompanyCmd.MarkFlagRequired("shortname")
}

// verifyStore halts a collection before it starts when the store is not
// reachable.
func verifyStore(cmd *cobra.Command) error {
	err := current.gateway.EnsureLayers(cmd.Context())
	if err != nil {
		return fmt.Errorf("store verification failed, nothing was collected: %w", err)
	}
	return nil
}

var (
	basicMaxCategories int
	basicMaxCompanies  int
	basicWorkers       int
	basicPersistReport bool
)

var collectBasicCmd = &cobra.Command{
	Use:   "collect-basic",
	Short: "Collects categories, offers and the top companies of the first categories.",
	RunE: func(cmd *cobra.Command, args []string) error {
		err := verifyStore(cmd)
		if err != nil {
			return err
		}

		cfg := current.cfg.Pipeline
		opts := pipeline.DefaultBasicOptions()
		opts.MaxCategories = orConfig(basicMaxCategories, cfg.MaxCategories)
		opts.MaxCompanies = orConfig(basicMaxCompanies, cfg.MaxCompanies)
		opts.Workers = orConfig(basicWorkers, cfg.Workers)
		opts.RankingPageSize = cfg.RankingPageSize
		opts.PersistReport = basicPersistReport

		report := current.pipeline.RunBasic(cmd.Context(), opts)
		return renderReport(report)
	},
}

// orConfig returns the flag value when it was set, the config value otherwise.
func orConfig(flag, config int) int {
	if flag > 0 {
		return flag
	}
	return config
}

var (
	categoryMain      string
	categorySecondary string
	categorySize      int
)

var collectCategoryCmd = &cobra.Command{
	Use:   "collect-category",
	Short: "Collects the ranking of one category and stores its top companies.",
	RunE: func(cmd *cobra.Command, args []string) error {
		err := verifyStore(cmd)
		if err != nil {
			return err
		}

		entries, report := current.pipeline.CollectCategoryTop(cmd.Context(), models.Category{
			MainSegment:      categoryMain,
			SecondarySegment: categorySecondary,
		}, categorySize)

		if len(entries) > 0 {
			t := newTable()
			t.SetTitle("%s/%s", categoryMain, categorySecondary)
			t.AppendHeader(table.Row{"#", "Company", "Score", "Solved %", "Answered %", "Complaints"})
			for i, e := range entries {
				t.AppendRow(table.Row{
					i + 1,
					e.CompanyName,
					fmt.Sprintf("%.1f", e.FinalScore),
					fmt.Sprintf("%.1f", e.SolvedPercentual),
					fmt.Sprintf("%.1f", e.AnsweredPercentual),
					e.ComplainsCount,
				})
			}
			t.Render()
		}
		return renderReport(report)
	},
}

var (
	companyShortname string
	companyAll       bool
)

func complaintScopes(all bool) []models.ComplaintScope {
	if all {
		return []models.ComplaintScope{models.ScopeRated, models.ScopeAll}
	}
	return []models.ComplaintScope{models.ScopeRated}
}

var collectCompanyCmd = &cobra.Command{
	Use:   "collect-company",
	Short: "Collects a company profile and its complaints.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if companyShortname == "" {
			return errors.New("--shortname must not be empty")
		}
		err := verifyStore(cmd)
		if err != nil {
			return err
		}

		profile, report := current.pipeline.CollectCompanyFull(cmd.Context(), companyShortname, complaintScopes(companyAll))
		if profile.ID != "" {
			renderProfile(profile)
		}
		return renderReport(report)
	},
}
