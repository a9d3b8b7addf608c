package reclameaqui

import (
	"bytes"
	"encoding/json"
	"slices"
	"strconv"
	"strings"
	"time"

	"reclameaqui-pipeline/internal/models"
)

// flexString accepts both json strings and numbers, upstream ids come in either form.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		err := json.Unmarshal(data, &s)
		if err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	err := json.Unmarshal(data, &n)
	if err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// flexFloat accepts numbers, numeric strings and null.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	var s flexString
	err := s.UnmarshalJSON(data)
	if err != nil {
		return err
	}
	if s == "" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(string(s), ",", "."), 64)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, raw)
		if err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

type segmentJson struct {
	Shortname        string        `json:"shortname"`
	Title            string        `json:"title"`
	ChildrenSegments []segmentJson `json:"childrenSegments"`
}

type categoriesJson struct {
	MainSegments *[]segmentJson `json:"mainSegments"`
}

// DecodeCategories flattens main segments into (main, secondary) categories
// keeping upstream order.
func DecodeCategories(body []byte) ([]models.Category, error) {
	var parsed categoriesJson
	err := json.Unmarshal(body, &parsed)
	if err != nil {
		return nil, malformed(EndpointCategories, "%s", err.Error())
	}
	if parsed.MainSegments == nil {
		return nil, malformed(EndpointCategories, "missing mainSegments")
	}

	var out []models.Category
	seen := map[string]struct{}{}
	for _, main := range *parsed.MainSegments {
		if main.Shortname == "" {
			continue
		}
		for _, child := range main.ChildrenSegments {
			if child.Shortname == "" {
				continue
			}
			category := models.Category{
				MainSegment:      main.Shortname,
				SecondarySegment: child.Shortname,
				DisplayName:      child.Title,
				MainDisplayName:  main.Title,
			}
			if _, dup := seen[category.Key()]; dup {
				continue
			}
			seen[category.Key()] = struct{}{}
			out = append(out, category)
		}
	}
	return out, nil
}

type rankingCompanyJson struct {
	ID                 flexString `json:"id"`
	CompanyShortname   string     `json:"companyShortname"`
	Shortname          string     `json:"shortname"`
	CompanyName        string     `json:"companyName"`
	FinalScore         flexFloat  `json:"finalScore"`
	SolvedPercentual   flexFloat  `json:"solvedPercentual"`
	AnsweredPercentual flexFloat  `json:"answeredPercentual"`
	ComplainsCount     flexFloat  `json:"complainsCount"`
	IsVerified         bool       `json:"isVerified"`
	Position           flexFloat  `json:"position"`
}

type Pagination struct {
	Page       int `json:"page"`
	Size       int `json:"size"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

type rankingJson struct {
	Companies  *[]rankingCompanyJson `json:"companies"`
	Pagination Pagination            `json:"pagination"`
}

// DecodeRanking returns the entries ordered by position. Entries without a
// position take their 1-based index in the page.
func DecodeRanking(body []byte, category models.Category) ([]models.RankingEntry, Pagination, error) {
	var parsed rankingJson
	err := json.Unmarshal(body, &parsed)
	if err != nil {
		return nil, Pagination{}, malformed(EndpointRanking, "%s", err.Error())
	}
	if parsed.Companies == nil {
		return nil, Pagination{}, malformed(EndpointRanking, "missing companies")
	}

	out := make([]models.RankingEntry, 0, len(*parsed.Companies))
	for i, c := range *parsed.Companies {
		shortname := c.CompanyShortname
		if shortname == "" {
			shortname = c.Shortname
		}
		if shortname == "" {
			return nil, Pagination{}, malformed(EndpointRanking, "company %d has no shortname", i)
		}
		position := int(c.Position)
		if position <= 0 {
			position = i + 1
		}
		out = append(out, models.RankingEntry{
			CompanyID:          string(c.ID),
			CompanyShortname:   shortname,
			CompanyName:        c.CompanyName,
			FinalScore:         models.ClampPercent(float64(c.FinalScore)),
			SolvedPercentual:   models.ClampPercent(float64(c.SolvedPercentual)),
			AnsweredPercentual: models.ClampPercent(float64(c.AnsweredPercentual)),
			ComplainsCount:     int(c.ComplainsCount),
			Verified:           c.IsVerified,
			Position:           position,
			Category:           category,
		})
	}
	slices.SortStableFunc(out, func(a, b models.RankingEntry) int {
		return a.Position - b.Position
	})
	return out, parsed.Pagination, nil
}

type companyJson struct {
	ID          flexString    `json:"id"`
	Shortname   string        `json:"shortname"`
	CompanyName string        `json:"companyName"`
	FantasyName string        `json:"fantasyName"`
	FinalScore  *flexFloat    `json:"finalScore"`
	Segments    []segmentJson `json:"segments"`
}

// DecodeCompany keeps the full upstream object as metadata.
func DecodeCompany(body []byte) (models.CompanyProfile, error) {
	var parsed companyJson
	err := json.Unmarshal(body, &parsed)
	if err != nil {
		return models.CompanyProfile{}, malformed(EndpointCompany, "%s", err.Error())
	}
	if parsed.Shortname == "" {
		return models.CompanyProfile{}, malformed(EndpointCompany, "missing shortname")
	}
	var metadata map[string]any
	err = json.Unmarshal(body, &metadata)
	if err != nil {
		return models.CompanyProfile{}, malformed(EndpointCompany, "%s", err.Error())
	}

	name := parsed.CompanyName
	if name == "" {
		name = parsed.FantasyName
	}
	profile := models.CompanyProfile{
		ID:          string(parsed.ID),
		Shortname:   parsed.Shortname,
		DisplayName: name,
		Metadata:    metadata,
	}
	if parsed.FinalScore != nil {
		profile.ReputationScore = models.ClampPercent(float64(*parsed.FinalScore))
	}
	for _, s := range parsed.Segments {
		profile.Segments = append(profile.Segments, models.Category{
			SecondarySegment: s.Shortname,
			DisplayName:      s.Title,
		})
	}
	return profile, nil
}

type complaintJson struct {
	ID          flexString `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	Solved      *bool      `json:"solved"`
	Created     string     `json:"created"`
}

type complaintsJson struct {
	ComplainResult *struct {
		Complains *struct {
			Data  *[]complaintJson `json:"data"`
			Count int              `json:"count"`
		} `json:"complains"`
	} `json:"complainResult"`
}

func complaintStatus(c complaintJson) models.ComplaintStatus {
	status, ok := models.ParseComplaintStatus(c.Status)
	if ok {
		return status
	}
	if c.Solved != nil {
		if *c.Solved {
			return models.ComplaintResolved
		}
		return models.ComplaintUnresolved
	}
	return models.ComplaintUnanswered
}

// DecodeComplaints returns the complaints of one page and the total count
// reported upstream.
func DecodeComplaints(body []byte, companyShortname string) ([]models.Complaint, int, error) {
	var parsed complaintsJson
	err := json.Unmarshal(body, &parsed)
	if err != nil {
		return nil, 0, malformed(EndpointComplaints, "%s", err.Error())
	}
	if parsed.ComplainResult == nil ||
		parsed.ComplainResult.Complains == nil ||
		parsed.ComplainResult.Complains.Data == nil {
		return nil, 0, malformed(EndpointComplaints, "missing complainResult.complains.data")
	}

	data := *parsed.ComplainResult.Complains.Data
	out := make([]models.Complaint, 0, len(data))
	for _, c := range data {
		out = append(out, models.Complaint{
			ID:               string(c.ID),
			CompanyShortname: companyShortname,
			Status:           complaintStatus(c),
			CreatedAt:        parseTime(c.Created),
			Title:            c.Title,
			Body:             c.Description,
		})
	}
	return out, parsed.ComplainResult.Complains.Count, nil
}

type offerJson struct {
	CompanyShortname string `json:"companyShortname"`
	Shortname        string `json:"shortname"`
	ShortName        string `json:"short_name"`
	Description      string `json:"description"`
	Title            string `json:"title"`
	Name             string `json:"name"`
	ValidUntil       string `json:"validUntil"`
	EndDate          string `json:"endDate"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func DecodeOffers(body []byte) ([]models.Offer, error) {
	var parsed []offerJson
	err := json.Unmarshal(body, &parsed)
	if err != nil {
		return nil, malformed(EndpointOffers, "%s", err.Error())
	}
	out := make([]models.Offer, 0, len(parsed))
	for _, o := range parsed {
		out = append(out, models.Offer{
			CompanyShortname: firstNonEmpty(o.CompanyShortname, o.Shortname, o.ShortName),
			Description:      firstNonEmpty(o.Description, o.Title, o.Name),
			ValidUntil:       parseTime(firstNonEmpty(o.ValidUntil, o.EndDate)),
		})
	}
	return out, nil
}

// SearchCandidate is a company returned by the search endpoint.
type SearchCandidate struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Shortname string `json:"shortname"`
	Site      string `json:"site,omitempty"`
	Verified  bool   `json:"verified"`
	Status    string `json:"status,omitempty"`
	// Count is the upstream complaint count, used as a popularity signal.
	Count int `json:"count"`
}

type searchCompanyJson struct {
	ID            flexString `json:"id"`
	CompanyName   string     `json:"companyName"`
	Shortname     string     `json:"shortname"`
	CompanySite   string     `json:"companySite"`
	URL           string     `json:"url"`
	HasVerificada bool       `json:"hasVerificada"`
	Status        string     `json:"status"`
	Count         flexFloat  `json:"count"`
}

func (c searchCompanyJson) candidate() SearchCandidate {
	return SearchCandidate{
		ID:        string(c.ID),
		Name:      c.CompanyName,
		Shortname: c.Shortname,
		Site:      firstNonEmpty(c.CompanySite, c.URL),
		Verified:  c.HasVerificada,
		Status:    c.Status,
		Count:     int(c.Count),
	}
}

type searchJson struct {
	Suggestion *searchCompanyJson   `json:"suggestion"`
	Companies  *[]searchCompanyJson `json:"companies"`
}

// DecodeSearch merges both response forms, the single suggestion first.
// Candidates without an id or shortname are dropped.
func DecodeSearch(body []byte) ([]SearchCandidate, error) {
	var probe map[string]json.RawMessage
	err := json.Unmarshal(body, &probe)
	if err != nil {
		return nil, malformed(EndpointSearch, "%s", err.Error())
	}
	_, hasSuggestion := probe["suggestion"]
	_, hasCompanies := probe["companies"]
	if !hasSuggestion && !hasCompanies {
		return nil, malformed(EndpointSearch, "missing suggestion and companies")
	}

	var parsed searchJson
	err = json.Unmarshal(body, &parsed)
	if err != nil {
		return nil, malformed(EndpointSearch, "%s", err.Error())
	}

	var out []SearchCandidate
	add := func(c searchCompanyJson) {
		if c.ID == "" || c.Shortname == "" {
			return
		}
		out = append(out, c.candidate())
	}
	if parsed.Suggestion != nil {
		add(*parsed.Suggestion)
	}
	if parsed.Companies != nil {
		for _, c := range *parsed.Companies {
			add(c)
		}
	}
	return out, nil
}
