package reclameaqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"reclameaqui-pipeline/internal/components/assert"
	"reclameaqui-pipeline/internal/components/chrono"
	"reclameaqui-pipeline/internal/components/retry"
	"reclameaqui-pipeline/internal/components/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("scrapers/reclameaqui")

const (
	report_session_call      = "session.call"
	report_session_challenge = "session.challenge"
)

var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

// DefaultRetry allows 3 retries after the first attempt, backing off from 2s
// with ±20% jitter.
func DefaultRetry() retry.Policy {
	return retry.Policy{
		Attempts:            4,
		InitialInterval:     2 * time.Second,
		Multiplier:          2,
		RandomizationFactor: 0.2,
	}
}

const defaultRateLimitWait = 10 * time.Second

type Options struct {
	Hosts  Hosts
	Pacing map[string]time.Duration
	// one of them is picked for the lifetime of the session
	UserAgents []string
	Timeout    time.Duration
	Retry      retry.Policy
	// RateLimitWait is used for 429 responses without a usable Retry-After.
	RateLimitWait    time.Duration
	DisableChallenge bool
}

type ParsedResponse struct {
	Endpoint   string
	StatusCode int
	Body       json.RawMessage
	FetchedAt  time.Time
}

// SessionStats counts every HTTP request sent in TotalRequests, retries
// included, while the other two count calls. Cancelled calls are in neither,
// and a typed call whose body fails to decode is a failure.
type SessionStats struct {
	TotalRequests      int64
	SuccessfulRequests int64
	FailedRequests     int64
}

// Session is a long lived client for the upstream endpoints, it carries the
// cookies, headers and pacing state shared by every call of a run.
type Session struct {
	http      *resty.Client
	hosts     Hosts
	endpoints Endpoints
	opts      Options
	pacer     *pacer
	clock     chrono.API
	tel       telemetry.API

	challengeMutex sync.Mutex
	challenged     bool

	total   atomic.Int64
	success atomic.Int64
	failed  atomic.Int64
}

func NewSession(opts Options, clock chrono.API, tel telemetry.API) (*Session, error) {
	assert.NotNil(clock)
	assert.NotNil(tel)

	tel = telemetry.NewScopedAPI("reclameaqui", tel)

	if opts.Hosts == (Hosts{}) {
		opts.Hosts = DefaultHosts()
	}
	assert.NotEmptyStr(opts.Hosts.Site)
	assert.NotEmptyStr(opts.Hosts.Search)
	assert.NotEmptyStr(opts.Hosts.SiteAPI)
	assert.NotEmptyStr(opts.Hosts.API)
	assert.NotEmptyStr(opts.Hosts.Discounts)
	if len(opts.UserAgents) == 0 {
		opts.UserAgents = DefaultUserAgents
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Retry.Attempts <= 0 {
		opts.Retry = DefaultRetry()
	}
	if opts.RateLimitWait <= 0 {
		opts.RateLimitWait = defaultRateLimitWait
	}

	httpClient := resty.New()
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	httpClient.SetCookieJar(jar)
	httpClient.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(httpClient.GetClient().Transport)

	httpClient.SetHeaders(map[string]string{
		"User-Agent":      opts.UserAgents[rand.IntN(len(opts.UserAgents))],
		"Accept":          "application/json, text/plain, */*",
		"Accept-Language": "pt-BR,pt;q=0.9,en-US;q=0.8,en;q=0.7",
		"Origin":          opts.Hosts.Site,
		"Referer":         opts.Hosts.Site + "/",
	})
	httpClient.SetTimeout(opts.Timeout)

	telemetry.InstrumentResty(httpClient, tel)

	return &Session{
		http:      httpClient,
		hosts:     opts.Hosts,
		endpoints: NewEndpoints(opts.Hosts, opts.Pacing),
		opts:      opts,
		pacer:     newPacer(clock),
		clock:     clock,
		tel:       tel,
	}, nil
}

func (s *Session) Endpoints() Endpoints {
	return s.endpoints
}

func (s *Session) Stats() SessionStats {
	return SessionStats{
		TotalRequests:      s.total.Load(),
		SuccessfulRequests: s.success.Load(),
		FailedRequests:     s.failed.Load(),
	}
}

// parseRetryAfter accepts both the seconds and the HTTP date forms.
func parseRetryAfter(header http.Header, now time.Time) time.Duration {
	v := strings.TrimSpace(header.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func checkShape(spec EndpointSpec, body []byte) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return malformed(spec.Name, "empty body")
	}
	if !json.Valid(trimmed) {
		return malformed(spec.Name, "body is not json")
	}
	want := byte('{')
	if spec.Shape == ShapeList {
		want = '['
	}
	if trimmed[0] != want {
		return malformed(spec.Name, "expected a json %s", spec.Shape)
	}
	return nil
}

func (s *Session) send(ctx context.Context, spec EndpointSpec, target string) (*resty.Response, error) {
	err := s.pacer.wait(ctx, spec)
	if err != nil {
		return nil, err
	}
	s.total.Add(1)
	return s.http.R().SetContext(ctx).Execute(spec.Method, target)
}

// Call performs one logical request against spec. Transient failures are
// retried within the session's budget, a detected challenge is answered at
// most once per call.
func (s *Session) Call(ctx context.Context, spec EndpointSpec, params Params) (ParsedResponse, error) {
	res, err := s.call(ctx, spec, params)
	s.record(err)
	return res, err
}

// record counts the outcome of a call, a call that ended because its context
// did so is neither a success nor an upstream failure.
func (s *Session) record(err error) {
	switch {
	case err == nil:
		s.success.Add(1)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
	default:
		s.failed.Add(1)
	}
}

// fetch is Call followed by decode, the call only counts as successful once
// its body decoded.
func fetch[T any](ctx context.Context, s *Session, spec EndpointSpec, params Params, decode func([]byte) (T, error)) (ParsedResponse, T, error) {
	var zero T
	res, err := s.call(ctx, spec, params)
	if err != nil {
		s.record(err)
		return ParsedResponse{}, zero, err
	}
	decoded, err := decode(res.Body)
	s.record(err)
	if err != nil {
		s.tel.ReportWarning(report_session_call, spec.Name, err)
		return res, zero, err
	}
	return res, decoded, nil
}

func (s *Session) call(ctx context.Context, spec EndpointSpec, params Params) (ParsedResponse, error) {
	ctx, span := tracer.Start(ctx, "Session.Call", trace.WithAttributes(
		attribute.String("endpoint", spec.Name),
	))
	defer span.End()

	target, err := BuildURL(spec, params)
	if err != nil {
		return ParsedResponse{}, err
	}

	s.ensureChallenged(ctx)

	var parsed ParsedResponse
	rechallenged := false
	err = retry.Do(ctx, s.clock, s.opts.Retry, func(attempt int) error {
		res, err := s.send(ctx, spec, target)
		if err == nil && isChallenge(res) && !rechallenged {
			rechallenged = true
			s.tel.ReportWarning(report_session_challenge, spec.Name, res.StatusCode())
			challengeErr := s.challenge(ctx)
			if challengeErr != nil {
				return retry.Permanent(fmt.Errorf("%s: re-challenge: %w", spec.Name, challengeErr))
			}
			res, err = s.send(ctx, spec, target)
		}
		if err != nil {
			if ctx.Err() != nil {
				return retry.Permanent(ctx.Err())
			}
			s.tel.ReportDebug("call attempt failed", spec.Name, attempt, err)
			return fmt.Errorf("%w: %s: %w", ErrTransientUpstreamFailure, spec.Name, err)
		}

		status := res.StatusCode()
		switch {
		case isChallenge(res):
			return retry.Permanent(&StatusError{
				Endpoint:   spec.Name,
				StatusCode: status,
				Reason:     "anti-bot challenge",
				Err:        ErrUpstreamRejected,
			})
		case status == http.StatusTooManyRequests:
			wait := parseRetryAfter(res.Header(), s.clock.Now())
			if wait <= 0 {
				wait = s.opts.RateLimitWait
			}
			return &retry.Delayed{
				Err: &StatusError{
					Endpoint:   spec.Name,
					StatusCode: status,
					Err:        ErrTransientUpstreamFailure,
				},
				After: wait,
			}
		case status >= 500:
			return &StatusError{
				Endpoint:   spec.Name,
				StatusCode: status,
				Err:        ErrTransientUpstreamFailure,
			}
		case status < 200 || status >= 300:
			return retry.Permanent(&StatusError{
				Endpoint:   spec.Name,
				StatusCode: status,
				Err:        ErrUpstreamRejected,
			})
		}

		body := res.Body()
		err = checkShape(spec, body)
		if err != nil {
			s.tel.ReportDebug("malformed response", telemetry.FormatResponse(res))
			return retry.Permanent(err)
		}

		parsed = ParsedResponse{
			Endpoint:   spec.Name,
			StatusCode: status,
			Body:       json.RawMessage(body),
			FetchedAt:  s.clock.Now(),
		}
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, "call failed")
		span.RecordError(err)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return ParsedResponse{}, err
		}
		s.tel.ReportBroken(report_session_call, err, spec.Name)
		return ParsedResponse{}, err
	}

	return parsed, nil
}
