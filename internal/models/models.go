package models

import (
	"fmt"
	"strings"
	"time"
)

// Category is a (main, secondary) segment pair as listed by the upstream
// segments endpoint.
type Category struct {
	MainSegment      string `json:"main_segment"`
	SecondarySegment string `json:"secondary_segment"`
	DisplayName      string `json:"display_name"`
	MainDisplayName  string `json:"main_display_name,omitempty"`
}

func (c Category) Key() string {
	return c.MainSegment + "/" + c.SecondarySegment
}

type RankingEntry struct {
	CompanyID          string   `json:"company_id"`
	CompanyShortname   string   `json:"company_shortname"`
	CompanyName        string   `json:"company_name"`
	FinalScore         float64  `json:"final_score"`
	SolvedPercentual   float64  `json:"solved_percentual"`
	AnsweredPercentual float64  `json:"answered_percentual"`
	ComplainsCount     int      `json:"complains_count"`
	Verified           bool     `json:"verified"`
	Position           int      `json:"position"`
	Category           Category `json:"category"`
}

// ClampPercent bounds scores and percentuals to [0, 100].
func ClampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

type CompanyProfile struct {
	ID              string         `json:"id"`
	Shortname       string         `json:"shortname"`
	DisplayName     string         `json:"display_name"`
	Segments        []Category     `json:"segments,omitempty"`
	ReputationScore float64        `json:"reputation_score"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

type ComplaintStatus string

const (
	ComplaintAnswered   ComplaintStatus = "answered"
	ComplaintUnanswered ComplaintStatus = "unanswered"
	ComplaintResolved   ComplaintStatus = "resolved"
	ComplaintUnresolved ComplaintStatus = "unresolved"
)

// ParseComplaintStatus maps the upstream status labels, which come in
// portuguese and uppercase, into a ComplaintStatus.
func ParseComplaintStatus(raw string) (ComplaintStatus, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "ANSWERED", "RESPONDIDA", "REPLICA", "RÉPLICA":
		return ComplaintAnswered, true
	case "PENDING", "NOT_ANSWERED", "UNANSWERED", "NÃO RESPONDIDA", "NAO RESPONDIDA":
		return ComplaintUnanswered, true
	case "SOLVED", "RESOLVED", "RESOLVIDO", "RESOLVIDA":
		return ComplaintResolved, true
	case "NOT_SOLVED", "UNRESOLVED", "NÃO RESOLVIDO", "NAO RESOLVIDO", "NÃO RESOLVIDA":
		return ComplaintUnresolved, true
	}
	return "", false
}

type Complaint struct {
	ID               string          `json:"id"`
	CompanyShortname string          `json:"company_shortname"`
	Status           ComplaintStatus `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
	Title            string          `json:"title"`
	Body             string          `json:"body"`
}

// ComplaintScope selects which complaints of a company are collected.
type ComplaintScope string

const (
	ScopeRated ComplaintScope = "rated"
	ScopeAll   ComplaintScope = "all"
)

type Offer struct {
	CompanyShortname string    `json:"company_shortname"`
	Description      string    `json:"description"`
	ValidUntil       time.Time `json:"valid_until,omitempty"`
}

type Layer string

const (
	LayerLanding Layer = "landing"
	LayerRaw     Layer = "raw"
	LayerTrusted Layer = "trusted"
)

var Layers = []Layer{LayerLanding, LayerRaw, LayerTrusted}

func ParseLayer(s string) (Layer, error) {
	switch Layer(strings.ToLower(strings.TrimSpace(s))) {
	case LayerLanding:
		return LayerLanding, nil
	case LayerRaw:
		return LayerRaw, nil
	case LayerTrusted:
		return LayerTrusted, nil
	}
	return "", fmt.Errorf("unknown layer %q", s)
}
