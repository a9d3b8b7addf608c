package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"reclameaqui-pipeline/internal/components/chrono"
	"reclameaqui-pipeline/internal/components/telemetry"
	"reclameaqui-pipeline/internal/models"
	"reclameaqui-pipeline/internal/objectstore"
	"reclameaqui-pipeline/internal/scrapers/reclameaqui"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 5, 17, 9, 0, 0, 0, time.UTC)

const categoriesBody = `{
	"mainSegments": [
		{
			"shortname": "bancos",
			"title": "Bancos",
			"childrenSegments": [
				{"shortname": "bancos-digitais", "title": "Bancos Digitais"},
				{"shortname": "cartoes", "title": "Cartoes"}
			]
		},
		{
			"shortname": "varejo",
			"title": "Varejo",
			"childrenSegments": [{"shortname": "moda", "title": "Moda"}]
		}
	]
}`

var rankings = map[string]string{
	"bancos/bancos-digitais": `{"companies": [
		{"id": "1", "companyShortname": "alpha", "companyName": "Alpha", "position": 2},
		{"id": "2", "companyShortname": "beta", "companyName": "Beta", "position": 1, "finalScore": 9.2},
		{"id": "3", "companyShortname": "gamma", "companyName": "Gamma", "position": 3},
		{"id": "4", "companyShortname": "delta", "companyName": "Delta", "position": 4}
	]}`,
	"bancos/cartoes": `{"companies": [{"id": "5", "companyShortname": "card", "companyName": "Card", "position": 1}]}`,
	"varejo/moda":    `{"companies": [{"id": "6", "companyShortname": "moda", "companyName": "Moda", "position": 1}]}`,
}

var companyIDs = map[string]string{
	"alpha": "1", "beta": "2", "gamma": "3", "delta": "4", "card": "5", "moda": "6",
}

// upstream fakes every endpoint, the fail map holds status codes to answer
// with instead, keyed by path suffix.
type upstream struct {
	mutex     sync.Mutex
	fail      map[string]int
	evaluated []string
}

func (u *upstream) status(path string) int {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	for suffix, status := range u.fail {
		if strings.HasSuffix(path, suffix) {
			return status
		}
	}
	return http.StatusOK
}

func (u *upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if status := u.status(path); status != http.StatusOK {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(`{"error": "injected"}`))
		return
	}

	var body string
	switch {
	case strings.HasSuffix(path, "/segments/main"):
		body = categoriesBody
	case strings.HasSuffix(path, "/discounts/summary"):
		body = `[{"companyShortname": "alpha", "description": "10% off"}]`
	case strings.Contains(path, "/ranking/best-verified/"):
		key := path[strings.Index(path, "/best-verified/")+len("/best-verified/"):]
		body = rankings[key]
	case strings.Contains(path, "/company/shortname/"):
		shortname := path[strings.LastIndex(path, "/")+1:]
		body = fmt.Sprintf(`{"id": %q, "shortname": %q, "companyName": %q}`, companyIDs[shortname], shortname, strings.ToUpper(shortname))
	case strings.Contains(path, "/companyComplains/"):
		u.mutex.Lock()
		u.evaluated = append(u.evaluated, r.URL.Query().Get("evaluated"))
		u.mutex.Unlock()
		body = fmt.Sprintf(
			`{"complainResult": {"complains": {"count": 1, "data": [{"id": "c-%s", "title": "late", "status": "PENDING"}]}}}`,
			r.URL.Query().Get("company"),
		)
	}
	if body == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(body))
}

type fixture struct {
	upstream *upstream
	backend  *objectstore.MemoryBackend
	gateway  *objectstore.Gateway
	session  *reclameaqui.Session
	clock    *chrono.Fake
	tel      *telemetry.Recorder
	pipeline *Pipeline
}

func setup(t testing.TB) fixture {
	t.Helper()

	up := &upstream{fail: map[string]int{}}
	server := httptest.NewServer(up)
	t.Cleanup(server.Close)

	clock := chrono.NewFake(testNow)
	tel := telemetry.NewRecorder()

	pacing := map[string]time.Duration{}
	for name := range reclameaqui.DefaultPacing() {
		pacing[name] = 0
	}
	session, err := reclameaqui.NewSession(reclameaqui.Options{
		Hosts:            reclameaqui.SingleHost(server.URL),
		Pacing:           pacing,
		DisableChallenge: true,
	}, clock, tel)
	require.NoError(t, err)

	backend := objectstore.NewMemoryBackend()
	gateway, err := objectstore.NewGateway(backend, clock, tel, objectstore.Options{})
	require.NoError(t, err)
	require.NoError(t, gateway.EnsureLayers(context.Background()))

	return fixture{
		upstream: up,
		backend:  backend,
		gateway:  gateway,
		session:  session,
		clock:    clock,
		tel:      tel,
		pipeline: NewPipeline(session, gateway, clock, tel),
	}
}

type taskLine struct {
	Name   string
	Status models.TaskStatus
}

func lines(report models.RunReport) []taskLine {
	out := make([]taskLine, 0, len(report.Results))
	for _, res := range report.Results {
		out = append(out, taskLine{Name: res.TaskName, Status: res.Status})
	}
	return out
}

func listPaths(t testing.TB, g *objectstore.Gateway, layer models.Layer, prefix string) []string {
	t.Helper()
	var paths []string
	for ref, err := range g.List(context.Background(), layer, objectstore.ListOptions{CategoryPrefix: prefix}) {
		require.NoError(t, err)
		paths = append(paths, ref.Path)
	}
	return paths
}

func TestRunBasic(t *testing.T) {
	f := setup(t)

	report := f.pipeline.RunBasic(context.Background(), DefaultBasicOptions())
	require.NotEmpty(t, report.RunID)
	require.True(t, report.OK())

	expected := []taskLine{
		{"categories", models.TaskOK},
		{"ranking:bancos/bancos-digitais", models.TaskOK},
		{"company:beta", models.TaskOK},
		{"complaints:beta:rated", models.TaskOK},
		{"company:alpha", models.TaskOK},
		{"complaints:alpha:rated", models.TaskOK},
		{"company:gamma", models.TaskOK},
		{"complaints:gamma:rated", models.TaskOK},
		{"ranking:bancos/cartoes", models.TaskOK},
		{"company:card", models.TaskOK},
		{"complaints:card:rated", models.TaskOK},
		{"offers", models.TaskOK},
	}
	if diff := cmp.Diff(expected, lines(report)); diff != "" {
		t.Fatal(diff)
	}

	require.Equal(t, 3, report.Results[0].Records)
	require.Equal(t, []string{
		"landing/categorias/2024/05/17/categorias_20240517T090000Z.json",
		"raw/categorias/2024/05/17/categorias_20240517T090000Z.json",
	}, report.Results[0].Paths)

	require.Equal(t, []string{
		"rankings/2024/05/17/ranking_bancos_bancos-digitais_1_20240517T090000Z.json",
		"rankings/2024/05/17/ranking_bancos_cartoes_1_20240517T090000Z.json",
	}, listPaths(t, f.gateway, models.LayerLanding, CategoryRankings+"/"))
	require.Len(t, listPaths(t, f.gateway, models.LayerLanding, ""), 12)
	require.Len(t, listPaths(t, f.gateway, models.LayerRaw, ""), 12)
	require.Equal(t, []string{"bool:true", "bool:true", "bool:true", "bool:true"}, f.upstream.evaluated)
}

func TestLandingIsVerbatimAndRawIsAnnotated(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, res := f.pipeline.CollectCategories(ctx)
	require.True(t, res.OK())

	landing, err := f.gateway.Get(ctx, models.LayerLanding, "categorias/2024/05/17/categorias_20240517T090000Z.json")
	require.NoError(t, err)
	require.Equal(t, categoriesBody, string(landing.Payload))
	require.Equal(t, reclameaqui.EndpointCategories, landing.Metadata[objectstore.MetaSourceEndpoint])
	require.Equal(t, "3", landing.Metadata[objectstore.MetaRecordCount])

	raw, err := f.gateway.Get(ctx, models.LayerRaw, "categorias/2024/05/17/categorias_20240517T090000Z.json")
	require.NoError(t, err)
	var envelope objectstore.RawEnvelope
	require.NoError(t, json.Unmarshal(raw.Payload, &envelope))
	require.JSONEq(t, categoriesBody, string(envelope.Data))
	require.Equal(t, "landing/categorias/2024/05/17/categorias_20240517T090000Z.json", envelope.Metadata["source_path"])
	require.Equal(t, "raw", envelope.Metadata["pipeline_stage"])
	require.Equal(t, float64(200), envelope.Metadata["status_code"])
}

func TestRunBasicIsolatesFailures(t *testing.T) {
	f := setup(t)
	f.upstream.fail["/company/shortname/alpha"] = http.StatusNotFound
	f.upstream.fail["/best-verified/bancos/cartoes"] = http.StatusNotFound

	report := f.pipeline.RunBasic(context.Background(), DefaultBasicOptions())
	require.False(t, report.OK())

	expected := []taskLine{
		{"categories", models.TaskOK},
		{"ranking:bancos/bancos-digitais", models.TaskOK},
		{"company:beta", models.TaskOK},
		{"complaints:beta:rated", models.TaskOK},
		{"company:alpha", models.TaskUpstreamError},
		{"complaints:alpha:rated", models.TaskSkipped},
		{"company:gamma", models.TaskOK},
		{"complaints:gamma:rated", models.TaskOK},
		{"ranking:bancos/cartoes", models.TaskUpstreamError},
		{"offers", models.TaskOK},
	}
	if diff := cmp.Diff(expected, lines(report)); diff != "" {
		t.Fatal(diff)
	}

	require.ErrorIs(t, report.Results[4].Err, reclameaqui.ErrUpstreamRejected)
	require.ErrorIs(t, report.Results[5].Err, ErrDependencyFailed)
	require.Equal(t, map[models.TaskStatus]int{
		models.TaskOK:            7,
		models.TaskUpstreamError: 2,
		models.TaskSkipped:       1,
	}, report.Counts())
	require.NotEmpty(t, f.tel.Find(telemetry.KindWarning, report_pipeline_step))
}

func TestRunBasicCategoriesFailure(t *testing.T) {
	f := setup(t)
	f.upstream.fail["/segments/main"] = http.StatusForbidden

	report := f.pipeline.RunBasic(context.Background(), DefaultBasicOptions())
	expected := []taskLine{
		{"categories", models.TaskUpstreamError},
		{"offers", models.TaskOK},
	}
	if diff := cmp.Diff(expected, lines(report)); diff != "" {
		t.Fatal(diff)
	}
	require.Equal(t, []string{
		"ofertas/2024/05/17/ofertas_20240517T090000Z.json",
	}, listPaths(t, f.gateway, models.LayerLanding, ""))
}

func TestStoreFailureIsReported(t *testing.T) {
	f := setup(t)
	f.backend.SetDown(true)

	_, res := f.pipeline.CollectCategories(context.Background())
	require.Equal(t, models.TaskStoreError, res.Status)
	require.ErrorIs(t, res.Err, objectstore.ErrStoreUnavailable)
	// the gateway retried within its own budget
	require.Equal(t, 3, f.backend.Puts())
}

// cancellingClient cancels the run right after a company was fetched.
type cancellingClient struct {
	*reclameaqui.Session
	after  string
	cancel context.CancelFunc
}

func (c cancellingClient) Company(ctx context.Context, shortname string) (reclameaqui.ParsedResponse, models.CompanyProfile, error) {
	res, profile, err := c.Session.Company(ctx, shortname)
	if shortname == c.after {
		c.cancel()
	}
	return res, profile, err
}

func TestRunBasicCancelled(t *testing.T) {
	f := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := NewPipeline(cancellingClient{Session: f.session, after: "alpha", cancel: cancel}, f.gateway, f.clock, f.tel)
	opts := DefaultBasicOptions()
	opts.Workers = 1
	report := p.RunBasic(ctx, opts)

	expected := []taskLine{
		{"categories", models.TaskOK},
		{"ranking:bancos/bancos-digitais", models.TaskOK},
		{"company:beta", models.TaskOK},
		{"complaints:beta:rated", models.TaskOK},
		{"company:alpha", models.TaskSkipped},
		{"complaints:alpha:rated", models.TaskSkipped},
		{"company:gamma", models.TaskSkipped},
		{"complaints:gamma:rated", models.TaskSkipped},
		{"ranking:bancos/cartoes", models.TaskSkipped},
		{"offers", models.TaskSkipped},
	}
	if diff := cmp.Diff(expected, lines(report)); diff != "" {
		t.Fatal(diff)
	}
	require.ErrorIs(t, report.Results[6].Err, context.Canceled)
	require.ErrorIs(t, report.Results[9].Err, context.Canceled)
}

func TestRunBasicPersistsReport(t *testing.T) {
	f := setup(t)
	opts := DefaultBasicOptions()
	opts.MaxCategories = 1
	opts.MaxCompanies = 1
	opts.IncludeOffers = false
	opts.PersistReport = true

	report := f.pipeline.RunBasic(context.Background(), opts)
	require.True(t, report.OK())

	last := report.Results[len(report.Results)-1]
	require.Equal(t, "report", last.TaskName)
	require.Len(t, last.Paths, 1)

	obj, err := f.gateway.Get(context.Background(), models.LayerLanding, strings.TrimPrefix(last.Paths[0], "landing/"))
	require.NoError(t, err)
	require.Equal(t, CategoryStats, obj.Category)

	var summary struct {
		RunID    string           `json:"run_id"`
		OK       bool             `json:"ok"`
		Tasks    []map[string]any `json:"tasks"`
		Requests map[string]int64 `json:"requests"`
	}
	require.NoError(t, json.Unmarshal(obj.Payload, &summary))
	require.Equal(t, report.RunID, summary.RunID)
	require.True(t, summary.OK)
	require.Len(t, summary.Tasks, 4)
	require.Equal(t, int64(4), summary.Requests["total"])
}

func TestCollectCategoryTop(t *testing.T) {
	f := setup(t)
	category := models.Category{MainSegment: "bancos", SecondarySegment: "bancos-digitais"}

	entries, report := f.pipeline.CollectCategoryTop(context.Background(), category, 2)
	require.True(t, report.OK())
	require.Len(t, entries, 2)
	require.Equal(t, "beta", entries[0].CompanyShortname)

	paths := listPaths(t, f.gateway, models.LayerLanding, CategoryTop+"/")
	require.Equal(t, []string{
		"top_empresas/2024/05/17/top_empresas_top2_bancos_bancos-digitais_20240517T090000Z.json",
	}, paths)

	obj, err := f.gateway.Get(context.Background(), models.LayerLanding, paths[0])
	require.NoError(t, err)
	var doc TopDocument
	require.NoError(t, json.Unmarshal(obj.Payload, &doc))
	require.Equal(t, 2, doc.Total)
	require.Equal(t, TopCompany{Position: 1, Name: "Beta", Shortname: "beta", FinalScore: 9.2}, doc.Companies[0])
}

func TestCollectCategoryTopRankingFailure(t *testing.T) {
	f := setup(t)
	f.upstream.fail["/best-verified/varejo/moda"] = http.StatusNotFound

	entries, report := f.pipeline.CollectCategoryTop(context.Background(), models.Category{MainSegment: "varejo", SecondarySegment: "moda"}, 10)
	require.Nil(t, entries)
	expected := []taskLine{
		{"ranking:varejo/moda", models.TaskUpstreamError},
		{"top:varejo/moda", models.TaskSkipped},
	}
	if diff := cmp.Diff(expected, lines(report)); diff != "" {
		t.Fatal(diff)
	}
}

func TestCollectCompanyFull(t *testing.T) {
	f := setup(t)

	profile, report := f.pipeline.CollectCompanyFull(context.Background(), "gamma", []models.ComplaintScope{models.ScopeRated, models.ScopeAll})
	require.True(t, report.OK())
	require.Equal(t, "3", profile.ID)

	expected := []taskLine{
		{"company:gamma", models.TaskOK},
		{"complaints:gamma:rated", models.TaskOK},
		{"complaints:gamma:all", models.TaskOK},
	}
	if diff := cmp.Diff(expected, lines(report)); diff != "" {
		t.Fatal(diff)
	}
	require.Equal(t, []string{"bool:true", ""}, f.upstream.evaluated)
	require.Equal(t, []string{
		"reclamacoes/2024/05/17/reclamacoes_gamma_all_20240517T090000Z.json",
		"reclamacoes/2024/05/17/reclamacoes_gamma_rated_20240517T090000Z.json",
	}, listPaths(t, f.gateway, models.LayerLanding, CategoryComplaints+"/"))
}

func TestClassify(t *testing.T) {
	ctx := context.Background()
	cancelled, cancel := context.WithCancel(ctx)
	cancel()

	testCases := []struct {
		ctx      context.Context
		err      error
		expected models.TaskStatus
	}{
		{ctx, nil, models.TaskOK},
		{ctx, fmt.Errorf("x: %w", reclameaqui.ErrUpstreamRejected), models.TaskUpstreamError},
		{ctx, reclameaqui.ErrMalformedResponse, models.TaskUpstreamError},
		{ctx, fmt.Errorf("x: %w", objectstore.ErrStoreUnavailable), models.TaskStoreError},
		{ctx, objectstore.ErrInvalidPayload, models.TaskStoreError},
		{ctx, fmt.Errorf("%w: company", ErrDependencyFailed), models.TaskSkipped},
		{cancelled, errors.New("anything"), models.TaskSkipped},
		{ctx, context.DeadlineExceeded, models.TaskSkipped},
	}
	for _, test := range testCases {
		require.Equal(t, test.expected, classify(test.ctx, test.err), "%v", test.err)
	}
}

func TestFilename(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.Equal(t, "ofertas_20240102T030405Z.json", filename("ofertas", "", at))
	require.Equal(t, "empresa_acme-sa_20240102T030405Z.json", filename("empresa", fileKey("acme sa"), at))
	require.Equal(t, "a-b_c_1", fileKey("a/b", "", "c", "1"))
}
