package reclameaqui

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"reclameaqui-pipeline/internal/models"
)

func (s *Session) Categories(ctx context.Context) (ParsedResponse, []models.Category, error) {
	return fetch(ctx, s, s.endpoints.Categories, Params{}, DecodeCategories)
}

func (s *Session) Offers(ctx context.Context) (ParsedResponse, []models.Offer, error) {
	return fetch(ctx, s, s.endpoints.Offers, Params{}, DecodeOffers)
}

func (s *Session) Ranking(ctx context.Context, category models.Category, page, size int) (ParsedResponse, []models.RankingEntry, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("size", strconv.Itoa(size))

	return fetch(ctx, s, s.endpoints.Ranking, Params{
		Path: map[string]string{
			"main":      category.MainSegment,
			"secondary": category.SecondarySegment,
		},
		Query: query,
	}, func(body []byte) ([]models.RankingEntry, error) {
		entries, _, err := DecodeRanking(body, category)
		return entries, err
	})
}

func (s *Session) Company(ctx context.Context, shortname string) (ParsedResponse, models.CompanyProfile, error) {
	return fetch(ctx, s, s.endpoints.Company, Params{
		Path: map[string]string{"shortname": shortname},
	}, DecodeCompany)
}

type ComplaintsQuery struct {
	CompanyID        string
	CompanyShortname string
	Scope            models.ComplaintScope
	Size             int
	Offset           int
}

func (s *Session) Complaints(ctx context.Context, q ComplaintsQuery) (ParsedResponse, []models.Complaint, error) {
	if q.CompanyID == "" {
		return ParsedResponse{}, nil, fmt.Errorf("%s: company id is required", EndpointComplaints)
	}
	if q.Size <= 0 {
		q.Size = 20
	}
	query := url.Values{}
	query.Set("company", q.CompanyID)
	if q.Scope == models.ScopeRated {
		query.Set("evaluated", "bool:true")
	}

	return fetch(ctx, s, s.endpoints.Complaints, Params{
		Path: map[string]string{
			"size":   strconv.Itoa(q.Size),
			"offset": strconv.Itoa(q.Offset),
		},
		Query: query,
	}, func(body []byte) ([]models.Complaint, error) {
		complaints, _, err := DecodeComplaints(body, q.CompanyShortname)
		return complaints, err
	})
}

func (s *Session) Search(ctx context.Context, name string) (ParsedResponse, []SearchCandidate, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return ParsedResponse{}, nil, fmt.Errorf("%s: empty query", EndpointSearch)
	}
	return fetch(ctx, s, s.endpoints.Search, Params{
		Path: map[string]string{"query": strings.ToLower(name)},
	}, DecodeSearch)
}
