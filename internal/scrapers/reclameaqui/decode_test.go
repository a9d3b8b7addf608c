package reclameaqui

import (
	"testing"
	"time"

	"reclameaqui-pipeline/internal/models"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestDecodeCategories(t *testing.T) {
	body := []byte(`{
		"mainSegments": [
			{
				"shortname": "bancos",
				"title": "Bancos",
				"childrenSegments": [
					{"shortname": "bancos-digitais", "title": "Bancos Digitais"},
					{"shortname": "", "title": "ignored"},
					{"shortname": "bancos-digitais", "title": "duplicate"}
				]
			},
			{
				"shortname": "varejo",
				"title": "Varejo",
				"childrenSegments": [{"shortname": "moda", "title": "Moda"}]
			},
			{"shortname": "empty", "title": "Empty"}
		]
	}`)

	categories, err := DecodeCategories(body)
	require.NoError(t, err)

	expected := []models.Category{
		{MainSegment: "bancos", SecondarySegment: "bancos-digitais", DisplayName: "Bancos Digitais", MainDisplayName: "Bancos"},
		{MainSegment: "varejo", SecondarySegment: "moda", DisplayName: "Moda", MainDisplayName: "Varejo"},
	}
	if diff := cmp.Diff(expected, categories); diff != "" {
		t.Fatal(diff)
	}

	_, err = DecodeCategories([]byte(`{"segments": []}`))
	require.ErrorIs(t, err, ErrMalformedResponse)
}

func TestDecodeRanking(t *testing.T) {
	category := models.Category{MainSegment: "bancos", SecondarySegment: "bancos-digitais"}
	body := []byte(`{
		"companies": [
			{"id": 7, "companyShortname": "beta", "companyName": "Beta", "finalScore": "8,5", "position": 2, "solvedPercentual": 120},
			{"id": "3", "shortname": "alpha", "companyName": "Alpha", "finalScore": 9.1, "position": 1, "complainsCount": 42, "isVerified": true},
			{"id": "9", "companyShortname": "gamma", "companyName": "Gamma", "answeredPercentual": -3}
		],
		"pagination": {"page": 1, "size": 20, "total": 3, "totalPages": 1}
	}`)

	entries, pagination, err := DecodeRanking(body, category)
	require.NoError(t, err)
	require.Equal(t, Pagination{Page: 1, Size: 20, Total: 3, TotalPages: 1}, pagination)

	expected := []models.RankingEntry{
		{CompanyID: "3", CompanyShortname: "alpha", CompanyName: "Alpha", FinalScore: 9.1, ComplainsCount: 42, Verified: true, Position: 1, Category: category},
		{CompanyID: "7", CompanyShortname: "beta", CompanyName: "Beta", FinalScore: 8.5, SolvedPercentual: 100, Position: 2, Category: category},
		{CompanyID: "9", CompanyShortname: "gamma", CompanyName: "Gamma", Position: 3, Category: category},
	}
	if diff := cmp.Diff(expected, entries); diff != "" {
		t.Fatal(diff)
	}

	_, _, err = DecodeRanking([]byte(`{"pagination": {}}`), category)
	require.ErrorIs(t, err, ErrMalformedResponse)

	_, _, err = DecodeRanking([]byte(`{"companies": [{"id": 1}]}`), category)
	require.ErrorIs(t, err, ErrMalformedResponse)
}

func TestDecodeCompany(t *testing.T) {
	profile, err := DecodeCompany([]byte(`{
		"id": 123,
		"shortname": "acme",
		"fantasyName": "Acme",
		"finalScore": 7.4,
		"segments": [{"shortname": "moda", "title": "Moda"}],
		"extra": {"nested": true}
	}`))
	require.NoError(t, err)
	require.Equal(t, "123", profile.ID)
	require.Equal(t, "acme", profile.Shortname)
	require.Equal(t, "Acme", profile.DisplayName)
	require.Equal(t, 7.4, profile.ReputationScore)
	require.Equal(t, []models.Category{{SecondarySegment: "moda", DisplayName: "Moda"}}, profile.Segments)
	require.Equal(t, map[string]any{"nested": true}, profile.Metadata["extra"])

	_, err = DecodeCompany([]byte(`{"id": 1}`))
	require.ErrorIs(t, err, ErrMalformedResponse)
}

func TestDecodeComplaints(t *testing.T) {
	body := []byte(`{
		"complainResult": {
			"complains": {
				"count": 240,
				"data": [
					{"id": "a1", "title": "Late", "description": "never arrived", "status": "PENDING", "created": "2024-05-01T10:00:00"},
					{"id": "a2", "title": "Broken", "status": "weird", "solved": true, "created": "2024-05-02T08:30:00.000Z"},
					{"id": 3, "title": "Nothing"}
				]
			}
		}
	}`)

	complaints, total, err := DecodeComplaints(body, "acme")
	require.NoError(t, err)
	require.Equal(t, 240, total)

	expected := []models.Complaint{
		{ID: "a1", CompanyShortname: "acme", Status: models.ComplaintUnanswered, CreatedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), Title: "Late", Body: "never arrived"},
		{ID: "a2", CompanyShortname: "acme", Status: models.ComplaintResolved, CreatedAt: time.Date(2024, 5, 2, 8, 30, 0, 0, time.UTC), Title: "Broken"},
		{ID: "3", CompanyShortname: "acme", Status: models.ComplaintUnanswered, Title: "Nothing"},
	}
	if diff := cmp.Diff(expected, complaints); diff != "" {
		t.Fatal(diff)
	}

	_, _, err = DecodeComplaints([]byte(`{"complainResult": {}}`), "acme")
	require.ErrorIs(t, err, ErrMalformedResponse)
}

func TestDecodeOffers(t *testing.T) {
	offers, err := DecodeOffers([]byte(`[
		{"companyShortname": "acme", "description": "10% off", "validUntil": "2024-06-01"},
		{"short_name": "beta", "title": "free shipping"}
	]`))
	require.NoError(t, err)
	require.Equal(t, []models.Offer{
		{CompanyShortname: "acme", Description: "10% off", ValidUntil: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)},
		{CompanyShortname: "beta", Description: "free shipping"},
	}, offers)

	_, err = DecodeOffers([]byte(`{"offers": []}`))
	require.ErrorIs(t, err, ErrMalformedResponse)
}

func TestDecodeSearch(t *testing.T) {
	candidates, err := DecodeSearch([]byte(`{
		"suggestion": {"id": "1", "companyName": "Acme SA", "shortname": "acme", "hasVerificada": true, "count": 50},
		"companies": [
			{"id": 2, "companyName": "Acme Store", "shortname": "acme-store", "companySite": "acme.store", "count": "12"},
			{"id": "", "companyName": "No id", "shortname": "no-id"},
			{"id": "4", "companyName": "No shortname"}
		]
	}`))
	require.NoError(t, err)

	expected := []SearchCandidate{
		{ID: "1", Name: "Acme SA", Shortname: "acme", Verified: true, Count: 50},
		{ID: "2", Name: "Acme Store", Shortname: "acme-store", Site: "acme.store", Count: 12},
	}
	if diff := cmp.Diff(expected, candidates); diff != "" {
		t.Fatal(diff)
	}

	candidates, err = DecodeSearch([]byte(`{"companies": []}`))
	require.NoError(t, err)
	require.Empty(t, candidates)

	_, err = DecodeSearch([]byte(`{"results": []}`))
	require.ErrorIs(t, err, ErrMalformedResponse)
}
