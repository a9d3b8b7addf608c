package pipeline

import (
	"context"
	"fmt"

	"reclameaqui-pipeline/internal/models"
	"reclameaqui-pipeline/internal/objectstore"
	"reclameaqui-pipeline/internal/scrapers/reclameaqui"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

type BasicOptions struct {
	MaxCategories   int
	MaxCompanies    int
	Workers         int
	RankingPageSize int
	ComplaintScope  models.ComplaintScope
	IncludeOffers   bool
	PersistReport   bool
}

func DefaultBasicOptions() BasicOptions {
	return BasicOptions{
		MaxCategories:   2,
		MaxCompanies:    3,
		Workers:         2,
		RankingPageSize: 20,
		ComplaintScope:  models.ScopeRated,
		IncludeOffers:   true,
	}
}

// withDefaults fills numeric fields left at zero.
func (o BasicOptions) withDefaults() BasicOptions {
	defaults := DefaultBasicOptions()
	if o.MaxCategories <= 0 {
		o.MaxCategories = defaults.MaxCategories
	}
	if o.MaxCompanies <= 0 {
		o.MaxCompanies = defaults.MaxCompanies
	}
	if o.Workers <= 0 {
		o.Workers = defaults.Workers
	}
	if o.RankingPageSize <= 0 {
		o.RankingPageSize = defaults.RankingPageSize
	}
	if o.ComplaintScope == "" {
		o.ComplaintScope = defaults.ComplaintScope
	}
	return o
}

func (p *Pipeline) newReport() models.RunReport {
	return models.RunReport{
		RunID:     uuid.NewString(),
		StartedAt: p.clock.Now(),
	}
}

func (p *Pipeline) finish(ctx context.Context, report *models.RunReport) {
	report.FinishedAt = p.clock.Now()
	for status, n := range report.Counts() {
		p.tel.ReportCount(fmt.Sprintf("%s.%s", report_pipeline_run, status), int64(n))
	}
	if !report.OK() {
		p.tel.ReportWarning(report_pipeline_run, report.RunID, report.Counts())
	}
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("run_id", report.RunID),
		attribute.Bool("ok", report.OK()),
	)
}

type statsProvider interface {
	Stats() reclameaqui.SessionStats
}

// persistReport writes the run summary into landing, the outcome is recorded
// as one more task of the run.
func (p *Pipeline) persistReport(ctx context.Context, report models.RunReport) models.CollectionTaskResult {
	return p.track(ctx, "report", func(ctx context.Context) (stepOutput, error) {
		summary := report.Summary()
		if stats, ok := p.client.(statsProvider); ok {
			requests := stats.Stats()
			summary["requests"] = map[string]int64{
				"total":      requests.TotalRequests,
				"successful": requests.SuccessfulRequests,
				"failed":     requests.FailedRequests,
			}
		}
		ref, err := p.store.Put(ctx, objectstore.PutRequest{
			Layer:       models.LayerLanding,
			Category:    CategoryStats,
			Payload:     summary,
			Filename:    filename("pipeline_stats", fileKey(report.RunID), report.FinishedAt),
			RecordCount: len(report.Results),
		})
		if err != nil {
			p.tel.ReportBroken(report_pipeline_persist, err, report.RunID)
			return stepOutput{}, err
		}
		return stepOutput{records: 1, paths: []string{string(models.LayerLanding) + "/" + ref.Path}}, nil
	})
}

// companyChain collects a company and then its complaints, the complaints
// are skipped when the company could not be collected.
func (p *Pipeline) companyChain(ctx context.Context, shortname, fallbackID string, scopes []models.ComplaintScope) (models.CompanyProfile, []models.CollectionTaskResult) {
	profile, res := p.CollectCompany(ctx, shortname)
	results := []models.CollectionTaskResult{res}
	if !res.OK() {
		for _, scope := range scopes {
			results = append(results, p.skipped(
				ctx,
				complaintsTask(shortname, scope),
				fmt.Errorf("%w: %s", ErrDependencyFailed, res.TaskName),
			))
		}
		return profile, results
	}
	if profile.ID == "" {
		profile.ID = fallbackID
	}
	for _, scope := range scopes {
		_, res := p.CollectComplaints(ctx, profile, scope)
		results = append(results, res)
	}
	return profile, results
}

func (p *Pipeline) categoryChain(ctx context.Context, category models.Category, opts BasicOptions) []models.CollectionTaskResult {
	entries, res := p.CollectRankingForCategory(ctx, category, 1, opts.RankingPageSize)
	results := []models.CollectionTaskResult{res}
	if !res.OK() {
		return results
	}
	if len(entries) > opts.MaxCompanies {
		entries = entries[:opts.MaxCompanies]
	}
	for _, entry := range entries {
		_, chain := p.companyChain(ctx, entry.CompanyShortname, entry.CompanyID, []models.ComplaintScope{opts.ComplaintScope})
		results = append(results, chain...)
	}
	return results
}

// RunBasic runs categories, then for the first categories the ranking ->
// company -> complaints chain, then offers. Categories are processed by a
// bounded pool of workers but the report always lists results in category
// order. A failed task only skips what depends on it, offers depend on
// nothing.
func (p *Pipeline) RunBasic(ctx context.Context, opts BasicOptions) models.RunReport {
	opts = opts.withDefaults()

	ctx, span := tracer.Start(ctx, "pipeline.RunBasic")
	defer span.End()

	report := p.newReport()
	p.tel.ReportDebug("run started", report.RunID, opts)

	categories, res := p.CollectCategories(ctx)
	report.Results = append(report.Results, res)

	if res.OK() {
		if len(categories) > opts.MaxCategories {
			categories = categories[:opts.MaxCategories]
		}
		chains := make([][]models.CollectionTaskResult, len(categories))

		var group errgroup.Group
		group.SetLimit(opts.Workers)
		for i, category := range categories {
			group.Go(func() error {
				chains[i] = p.categoryChain(ctx, category, opts)
				return nil
			})
		}
		group.Wait()

		for _, chain := range chains {
			report.Results = append(report.Results, chain...)
		}
	}

	if opts.IncludeOffers {
		_, res = p.CollectOffers(ctx)
		report.Results = append(report.Results, res)
	}

	p.finish(ctx, &report)
	if opts.PersistReport {
		report.Results = append(report.Results, p.persistReport(ctx, report))
	}
	return report
}

// TopCompany is one line of the derived top companies document.
type TopCompany struct {
	Position           int     `json:"position"`
	Name               string  `json:"name"`
	Shortname          string  `json:"shortname"`
	FinalScore         float64 `json:"final_score"`
	SolvedPercentual   float64 `json:"solved_percentual"`
	AnsweredPercentual float64 `json:"answered_percentual"`
	ComplainsCount     int     `json:"complains_count"`
	Verified           bool    `json:"verified"`
}

type TopDocument struct {
	Category  models.Category `json:"category"`
	Companies []TopCompany    `json:"companies"`
	Total     int             `json:"total"`
	RankingAt string          `json:"ranking_collected_at"`
}

// CollectCategoryTop collects the ranking of one category and derives a
// document with its first size companies.
func (p *Pipeline) CollectCategoryTop(ctx context.Context, category models.Category, size int) ([]models.RankingEntry, models.RunReport) {
	if size <= 0 {
		size = 10
	}
	ctx, span := tracer.Start(ctx, "pipeline.CollectCategoryTop", trace.WithAttributes(
		attribute.String("category", category.Key()),
	))
	defer span.End()

	report := p.newReport()
	entries, res := p.CollectRankingForCategory(ctx, category, 1, size)
	report.Results = append(report.Results, res)

	task := "top:" + category.Key()
	if !res.OK() {
		report.Results = append(report.Results, p.skipped(ctx, task, fmt.Errorf("%w: %s", ErrDependencyFailed, res.TaskName)))
		p.finish(ctx, &report)
		return nil, report
	}
	if len(entries) > size {
		entries = entries[:size]
	}

	report.Results = append(report.Results, p.track(ctx, task, func(ctx context.Context) (stepOutput, error) {
		doc := TopDocument{
			Category:  category,
			Companies: make([]TopCompany, 0, len(entries)),
			Total:     len(entries),
			RankingAt: res.FinishedAt.UTC().Format("2006-01-02T15:04:05Z"),
		}
		for i, e := range entries {
			doc.Companies = append(doc.Companies, TopCompany{
				Position:           i + 1,
				Name:               e.CompanyName,
				Shortname:          e.CompanyShortname,
				FinalScore:         e.FinalScore,
				SolvedPercentual:   e.SolvedPercentual,
				AnsweredPercentual: e.AnsweredPercentual,
				ComplainsCount:     e.ComplainsCount,
				Verified:           e.Verified,
			})
		}
		key := fileKey(fmt.Sprintf("top%d", size), category.MainSegment, category.SecondarySegment)
		ref, err := p.store.Put(ctx, objectstore.PutRequest{
			Layer:          models.LayerLanding,
			Category:       CategoryTop,
			Payload:        doc,
			Filename:       filename("top_empresas", key, p.clock.Now()),
			SourceEndpoint: reclameaqui.EndpointRanking,
			RecordCount:    len(doc.Companies),
		})
		if err != nil {
			return stepOutput{}, err
		}
		return stepOutput{
			records: len(doc.Companies),
			paths:   []string{string(models.LayerLanding) + "/" + ref.Path},
		}, nil
	}))

	p.finish(ctx, &report)
	return entries, report
}

// CollectCompanyFull collects a company profile and its complaints for each
// of scopes.
func (p *Pipeline) CollectCompanyFull(ctx context.Context, shortname string, scopes []models.ComplaintScope) (models.CompanyProfile, models.RunReport) {
	if len(scopes) == 0 {
		scopes = []models.ComplaintScope{models.ScopeRated}
	}
	ctx, span := tracer.Start(ctx, "pipeline.CollectCompanyFull", trace.WithAttributes(
		attribute.String("shortname", shortname),
	))
	defer span.End()

	report := p.newReport()
	profile, results := p.companyChain(ctx, shortname, "", scopes)
	report.Results = results
	p.finish(ctx, &report)
	return profile, report
}
