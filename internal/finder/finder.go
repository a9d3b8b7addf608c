package finder

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"reclameaqui-pipeline/internal/components/assert"
	"reclameaqui-pipeline/internal/components/telemetry"
	"reclameaqui-pipeline/internal/models"
	"reclameaqui-pipeline/internal/scrapers/reclameaqui"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("finder")

const (
	report_finder_query   = "finder.query"
	report_finder_resolve = "finder.resolve"
)

// ErrAmbiguousOrNotFound is returned when no candidate scores above the
// acceptance threshold.
var ErrAmbiguousOrNotFound = errors.New("no confident company match")

type State string

const (
	StateGenerateVariants State = "generate_variants"
	StateQueryEach        State = "query_each"
	StateScoreAndDedupe   State = "score_and_dedupe"
	StateSelectBest       State = "select_best"
	StateSuccess          State = "success"
	StateNoMatch          State = "no_match"
)

type Searcher interface {
	Search(ctx context.Context, name string) (reclameaqui.ParsedResponse, []reclameaqui.SearchCandidate, error)
}

// Collector is what a successful resolution is handed to.
type Collector interface {
	CollectCompanyFull(ctx context.Context, shortname string, scopes []models.ComplaintScope) (models.CompanyProfile, models.RunReport)
}

type Options struct {
	Threshold   float64 `json:"threshold"`
	MaxVariants int     `json:"max_variants"`
}

func DefaultOptions() Options {
	return Options{Threshold: 0.6, MaxVariants: MaxVariants}
}

type ScoredCandidate struct {
	reclameaqui.SearchCandidate
	Score float64 `json:"score"`
	// Variant is the query that first returned the candidate.
	Variant string `json:"variant"`
}

type Resolution struct {
	Query      string            `json:"query"`
	Variants   []string          `json:"variants"`
	Failed     []string          `json:"failed,omitempty"`
	Candidates []ScoredCandidate `json:"candidates"`
	Best       *ScoredCandidate  `json:"best,omitempty"`
	State      State             `json:"state"`
}

type Finder struct {
	search Searcher
	opts   Options
	tel    telemetry.API
}

func NewFinder(search Searcher, tel telemetry.API, opts Options) *Finder {
	assert.NotNil(search)
	assert.NotNil(tel)

	defaults := DefaultOptions()
	if opts.Threshold <= 0 {
		opts.Threshold = defaults.Threshold
	}
	if opts.MaxVariants <= 0 || opts.MaxVariants > MaxVariants {
		opts.MaxVariants = defaults.MaxVariants
	}

	return &Finder{
		search: search,
		opts:   opts,
		tel:    telemetry.NewScopedAPI("finder", tel),
	}
}

type found struct {
	variant    string
	candidates []reclameaqui.SearchCandidate
}

// queryEach searches every variant once, upstream lowercases queries so
// variants that only differ in case share a call. Failed queries are
// skipped.
func (f *Finder) queryEach(ctx context.Context, variants []string) ([]found, []string, error) {
	var results []found
	var failed []string
	queried := map[string]struct{}{}
	for _, variant := range variants {
		key := strings.ToLower(variant)
		if _, dup := queried[key]; dup {
			continue
		}
		queried[key] = struct{}{}

		_, candidates, err := f.search.Search(ctx, variant)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, nil, ctxErr
			}
			f.tel.ReportWarning(report_finder_query, variant, err)
			failed = append(failed, variant)
			continue
		}
		results = append(results, found{variant: variant, candidates: candidates})
	}
	return results, failed, nil
}

// scoreAndDedupe keeps the first occurrence of each company and orders by
// score, then popularity, then first seen.
func scoreAndDedupe(query string, results []found) []ScoredCandidate {
	var out []ScoredCandidate
	seen := map[string]struct{}{}
	for _, r := range results {
		for _, c := range r.candidates {
			if _, dup := seen[c.ID]; dup {
				continue
			}
			seen[c.ID] = struct{}{}
			out = append(out, ScoredCandidate{
				SearchCandidate: c,
				Score:           Similarity(query, c.Name),
				Variant:         r.variant,
			})
		}
	}
	slices.SortStableFunc(out, func(a, b ScoredCandidate) int {
		if a.Score != b.Score {
			return cmp.Compare(b.Score, a.Score)
		}
		return cmp.Compare(b.Count, a.Count)
	})
	return out
}

// Find resolves name into the best matching company without side effects.
func (f *Finder) Find(ctx context.Context, name string) (Resolution, error) {
	ctx, span := tracer.Start(ctx, "Finder.Find", trace.WithAttributes(
		attribute.String("query", name),
	))
	defer span.End()

	res := Resolution{Query: name, State: StateGenerateVariants}
	res.Variants = GenerateVariants(name)
	if len(res.Variants) > f.opts.MaxVariants {
		res.Variants = res.Variants[:f.opts.MaxVariants]
	}
	if len(res.Variants) == 0 {
		res.State = StateNoMatch
		return res, fmt.Errorf("%w: empty query", ErrAmbiguousOrNotFound)
	}

	res.State = StateQueryEach
	results, failed, err := f.queryEach(ctx, res.Variants)
	if err != nil {
		span.SetStatus(codes.Error, "cancelled")
		return res, err
	}
	res.Failed = failed

	res.State = StateScoreAndDedupe
	res.Candidates = scoreAndDedupe(name, results)

	res.State = StateSelectBest
	if len(res.Candidates) == 0 || res.Candidates[0].Score < f.opts.Threshold {
		res.State = StateNoMatch
		f.tel.ReportDebug("no match", name, len(res.Candidates), len(res.Failed))
		if len(res.Candidates) == 0 {
			return res, fmt.Errorf("%w: %q returned no candidates", ErrAmbiguousOrNotFound, name)
		}
		return res, fmt.Errorf(
			"%w: best candidate for %q is %q with score %.2f",
			ErrAmbiguousOrNotFound, name, res.Candidates[0].Name, res.Candidates[0].Score,
		)
	}

	best := res.Candidates[0]
	res.Best = &best
	res.State = StateSuccess
	span.SetAttributes(
		attribute.String("shortname", best.Shortname),
		attribute.Float64("score", best.Score),
	)
	return res, nil
}

// FindAndCollect resolves name and hands the chosen shortname to collector
// with both complaint scopes. Nothing is collected when resolution fails.
func (f *Finder) FindAndCollect(ctx context.Context, name string, collector Collector) (Resolution, models.RunReport, error) {
	assert.NotNil(collector)

	res, err := f.Find(ctx, name)
	if err != nil {
		return res, models.RunReport{}, err
	}

	_, report := collector.CollectCompanyFull(ctx, res.Best.Shortname, []models.ComplaintScope{
		models.ScopeRated,
		models.ScopeAll,
	})
	if !report.OK() {
		f.tel.ReportWarning(report_finder_resolve, name, res.Best.Shortname, report.Counts())
	}
	return res, report, nil
}
