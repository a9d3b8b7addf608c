package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"reclameaqui-pipeline/internal/components/assert"
	"reclameaqui-pipeline/internal/components/chrono"
	"reclameaqui-pipeline/internal/components/telemetry"
	"reclameaqui-pipeline/internal/models"
	"reclameaqui-pipeline/internal/objectstore"
	"reclameaqui-pipeline/internal/scrapers/reclameaqui"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("pipeline")
	meter  = otel.Meter("pipeline")
)

const (
	report_pipeline_step    = "pipeline.step"
	report_pipeline_run     = "pipeline.run"
	report_pipeline_persist = "pipeline.persist-report"
	report_pipeline_meter   = "pipeline.meter"
)

// storage categories, shared with whatever reads the landing layer
const (
	CategoryCategories = "categorias"
	CategoryOffers     = "ofertas"
	CategoryRankings   = "rankings"
	CategoryCompanies  = "empresas"
	CategoryComplaints = "reclamacoes"
	CategoryTop        = "top_empresas"
	CategoryStats      = "pipeline_stats"
)

// ErrDependencyFailed is the error of a task skipped because a task it
// depends on did not succeed.
var ErrDependencyFailed = errors.New("dependency failed")

// Client is the subset of the collection client the pipeline drives.
type Client interface {
	Categories(ctx context.Context) (reclameaqui.ParsedResponse, []models.Category, error)
	Offers(ctx context.Context) (reclameaqui.ParsedResponse, []models.Offer, error)
	Ranking(ctx context.Context, category models.Category, page, size int) (reclameaqui.ParsedResponse, []models.RankingEntry, error)
	Company(ctx context.Context, shortname string) (reclameaqui.ParsedResponse, models.CompanyProfile, error)
	Complaints(ctx context.Context, q reclameaqui.ComplaintsQuery) (reclameaqui.ParsedResponse, []models.Complaint, error)
}

// Store is the subset of the gateway the pipeline writes through.
type Store interface {
	Put(ctx context.Context, req objectstore.PutRequest) (models.StoredObjectRef, error)
	PutRaw(ctx context.Context, landing models.StoredObjectRef, payload []byte, extra map[string]any) (models.StoredObjectRef, error)
}

type Pipeline struct {
	client Client
	store  Store
	clock  chrono.API
	tel    telemetry.API
	tasks  metric.Int64Counter
}

func NewPipeline(client Client, store Store, clock chrono.API, tel telemetry.API) *Pipeline {
	assert.NotNil(client)
	assert.NotNil(store)
	assert.NotNil(clock)
	assert.NotNil(tel)

	tel = telemetry.NewScopedAPI("pipeline", tel)

	tasks, err := meter.Int64Counter(
		"pipeline.tasks",
		metric.WithDescription("collection tasks by final status"),
	)
	if err != nil {
		tel.ReportWarning(report_pipeline_meter, err)
		tasks, _ = noop.NewMeterProvider().Meter("pipeline").Int64Counter("pipeline.tasks")
	}

	return &Pipeline{
		client: client,
		store:  store,
		clock:  clock,
		tel:    tel,
		tasks:  tasks,
	}
}

// classify maps a step error onto a task status.
func classify(ctx context.Context, err error) models.TaskStatus {
	switch {
	case err == nil:
		return models.TaskOK
	case ctx.Err() != nil,
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, ErrDependencyFailed):
		return models.TaskSkipped
	case errors.Is(err, objectstore.ErrStoreUnavailable),
		errors.Is(err, objectstore.ErrInvalidPayload),
		errors.Is(err, objectstore.ErrInvalidKey):
		return models.TaskStoreError
	}
	return models.TaskUpstreamError
}

func (p *Pipeline) skipped(ctx context.Context, name string, cause error) models.CollectionTaskResult {
	now := p.clock.Now()
	res := models.CollectionTaskResult{
		TaskName:   name,
		Status:     models.TaskSkipped,
		StartedAt:  now,
		FinishedAt: now,
		Err:        cause,
	}
	p.count(ctx, res)
	return res
}

func (p *Pipeline) count(ctx context.Context, res models.CollectionTaskResult) {
	p.tasks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", string(res.Status)),
	))
}

type stepOutput struct {
	records int
	paths   []string
}

// track runs one step and turns its outcome into a task result. A step is
// never started once ctx is done.
func (p *Pipeline) track(ctx context.Context, name string, step func(ctx context.Context) (stepOutput, error)) models.CollectionTaskResult {
	if err := ctx.Err(); err != nil {
		return p.skipped(ctx, name, err)
	}

	ctx, span := tracer.Start(ctx, "pipeline.step", trace.WithAttributes(
		attribute.String("task", name),
	))
	defer span.End()

	started := p.clock.Now()
	out, err := step(ctx)
	res := models.CollectionTaskResult{
		TaskName:   name,
		Status:     classify(ctx, err),
		StartedAt:  started,
		FinishedAt: p.clock.Now(),
		Err:        err,
		Records:    out.records,
		Paths:      out.paths,
	}
	p.count(ctx, res)

	span.SetAttributes(
		attribute.String("status", string(res.Status)),
		attribute.Int("records", res.Records),
	)
	switch res.Status {
	case models.TaskOK:
	case models.TaskSkipped:
		p.tel.ReportDebug("task skipped", name, err)
	default:
		span.SetStatus(codes.Error, string(res.Status))
		span.RecordError(err)
		p.tel.ReportWarning(report_pipeline_step, name, res.Status, err)
	}
	return res
}

// fileKey turns key parts into something safe to use inside a filename.
func fileKey(parts ...string) string {
	var out []string
	for _, part := range parts {
		part = strings.Map(func(r rune) rune {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
				return r
			}
			return '-'
		}, part)
		if part != "" {
			out = append(out, part)
		}
	}
	return strings.Join(out, "_")
}

const stampLayout = "20060102T150405Z"

// filename is `<kind>_<key>_<stamp>.json`, the stamp keeps same-day
// collections from replacing each other.
func filename(kind, key string, at time.Time) string {
	stamp := at.UTC().Format(stampLayout)
	if key == "" {
		return fmt.Sprintf("%s_%s.json", kind, stamp)
	}
	return fmt.Sprintf("%s_%s_%s.json", kind, key, stamp)
}

// persist writes a response verbatim into landing and its annotated copy
// into raw, returning both layer-qualified paths.
func (p *Pipeline) persist(ctx context.Context, category, kind, key string, res reclameaqui.ParsedResponse, records int) ([]string, error) {
	fetchedAt := res.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = p.clock.Now()
	}

	landing, err := p.store.Put(ctx, objectstore.PutRequest{
		Layer:          models.LayerLanding,
		Category:       category,
		Payload:        []byte(res.Body),
		Filename:       filename(kind, key, fetchedAt),
		SourceEndpoint: res.Endpoint,
		RecordCount:    records,
	})
	if err != nil {
		return nil, err
	}
	paths := []string{string(models.LayerLanding) + "/" + landing.Path}

	raw, err := p.store.PutRaw(ctx, landing, res.Body, map[string]any{
		objectstore.MetaSourceEndpoint: res.Endpoint,
		"record_count":                 records,
		"status_code":                  res.StatusCode,
		"fetched_at":                   fetchedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return paths, err
	}
	return append(paths, string(models.LayerRaw)+"/"+raw.Path), nil
}
