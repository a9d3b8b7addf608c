package reclameaqui

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
)

var challengeTitles = []string{
	"just a moment",
	"attention required",
	"um momento",
}

// isChallenge detects anti-bot interstitials served instead of the API response.
func isChallenge(res *resty.Response) bool {
	if strings.EqualFold(res.Header().Get("cf-mitigated"), "challenge") {
		return true
	}

	status := res.StatusCode()
	if status != http.StatusForbidden && status != http.StatusServiceUnavailable {
		return false
	}
	if !strings.Contains(strings.ToLower(res.Header().Get("Content-Type")), "html") {
		return false
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body()))
	if err != nil {
		return false
	}
	title := strings.ToLower(strings.TrimSpace(doc.Find("title").First().Text()))
	for _, t := range challengeTitles {
		if strings.Contains(title, t) {
			return true
		}
	}
	return doc.Find("#challenge-form, #cf-challenge-running, #challenge-platform").Length() > 0
}

// challenge visits the site origin so the cookie jar picks up whatever
// clearance cookies it hands out.
func (s *Session) challenge(ctx context.Context) error {
	res, err := s.http.R().
		SetContext(ctx).
		SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8").
		Get(s.hosts.Site + "/")
	if err != nil {
		return fmt.Errorf("challenge: %w", err)
	}
	if isChallenge(res) {
		return &StatusError{
			Endpoint:   "challenge",
			StatusCode: res.StatusCode(),
			Reason:     "challenge page still served",
			Err:        ErrUpstreamRejected,
		}
	}
	if res.StatusCode() >= 400 {
		return &StatusError{
			Endpoint:   "challenge",
			StatusCode: res.StatusCode(),
			Err:        ErrUpstreamRejected,
		}
	}
	return nil
}

// ensureChallenged runs the challenge once per session before its first call.
// A failed first visit is only reported, calls may still succeed without it.
func (s *Session) ensureChallenged(ctx context.Context) {
	s.challengeMutex.Lock()
	defer s.challengeMutex.Unlock()
	if s.challenged || s.opts.DisableChallenge {
		return
	}
	s.challenged = true

	err := s.challenge(ctx)
	if err != nil {
		s.tel.ReportWarning(report_session_challenge, err)
	}
}
