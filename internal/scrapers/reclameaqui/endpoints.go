package reclameaqui

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

type Shape int

const (
	ShapeObject Shape = iota
	ShapeList
)

func (s Shape) String() string {
	if s == ShapeList {
		return "list"
	}
	return "object"
}

// EndpointSpec describes one upstream endpoint. URLTemplate holds `{name}`
// placeholders that are filled from Params.Path.
type EndpointSpec struct {
	Name        string
	URLTemplate string
	Method      string
	Shape       Shape
	PacingFloor time.Duration
}

const (
	EndpointCategories = "categories"
	EndpointOffers     = "offers"
	EndpointRanking    = "ranking"
	EndpointCompany    = "company"
	EndpointComplaints = "complaints"
	EndpointSearch     = "search"
)

// Hosts are the base urls of the upstream services.
type Hosts struct {
	Site      string `json:"site"`
	Search    string `json:"search"`
	SiteAPI   string `json:"site_api"`
	API       string `json:"api"`
	Discounts string `json:"discounts"`
}

func DefaultHosts() Hosts {
	return Hosts{
		Site:      "https://www.reclameaqui.com.br",
		Search:    "https://iosearch.reclameaqui.com.br",
		SiteAPI:   "https://iosite.reclameaqui.com.br",
		API:       "https://api.reclameaqui.com.br",
		Discounts: "https://ramais-api.reclameaqui.com.br",
	}
}

// SingleHost points every service at base, used against local test servers.
func SingleHost(base string) Hosts {
	base = strings.TrimSuffix(base, "/")
	return Hosts{Site: base, Search: base, SiteAPI: base, API: base, Discounts: base}
}

func DefaultPacing() map[string]time.Duration {
	return map[string]time.Duration{
		EndpointCategories: 2 * time.Second,
		EndpointOffers:     2 * time.Second,
		EndpointRanking:    1500 * time.Millisecond,
		EndpointCompany:    time.Second,
		EndpointComplaints: 2 * time.Second,
		EndpointSearch:     time.Second,
	}
}

type Endpoints struct {
	Categories EndpointSpec
	Offers     EndpointSpec
	Ranking    EndpointSpec
	Company    EndpointSpec
	Complaints EndpointSpec
	Search     EndpointSpec
}

// NewEndpoints builds the endpoint set, pacing overrides the default floors
// for the endpoints it names.
func NewEndpoints(hosts Hosts, pacing map[string]time.Duration) Endpoints {
	floors := DefaultPacing()
	for name, floor := range pacing {
		floors[name] = floor
	}
	spec := func(name, template string, shape Shape) EndpointSpec {
		return EndpointSpec{
			Name:        name,
			URLTemplate: template,
			Method:      http.MethodGet,
			Shape:       shape,
			PacingFloor: floors[name],
		}
	}

	return Endpoints{
		Categories: spec(
			EndpointCategories,
			hosts.Search+"/raichu-io-site-search-v1/segments/main",
			ShapeObject,
		),
		Offers: spec(
			EndpointOffers,
			hosts.Discounts+"/v1/discounts/summary",
			ShapeList,
		),
		Ranking: spec(
			EndpointRanking,
			hosts.API+"/segments/api/ranking/best-verified/{main}/{secondary}",
			ShapeObject,
		),
		Company: spec(
			EndpointCompany,
			hosts.SiteAPI+"/raichu-io-site-v1/company/shortname/{shortname}",
			ShapeObject,
		),
		Complaints: spec(
			EndpointComplaints,
			hosts.Search+"/raichu-io-site-search-v1/query/companyComplains/{size}/{offset}",
			ShapeObject,
		),
		Search: spec(
			EndpointSearch,
			hosts.Search+"/raichu-io-site-search-v1/companies/search/{query}",
			ShapeObject,
		),
	}
}

func (e Endpoints) All() []EndpointSpec {
	return []EndpointSpec{e.Categories, e.Offers, e.Ranking, e.Company, e.Complaints, e.Search}
}

type Params struct {
	Path  map[string]string
	Query url.Values
}

var placeholderRegex = regexp.MustCompile(`\{([a-z_]+)\}`)

// BuildURL fills the template of spec, path values are escaped.
func BuildURL(spec EndpointSpec, params Params) (string, error) {
	var missing []string
	filled := placeholderRegex.ReplaceAllStringFunc(spec.URLTemplate, func(match string) string {
		name := match[1 : len(match)-1]
		value, ok := params.Path[name]
		if !ok || value == "" {
			missing = append(missing, name)
			return match
		}
		return url.PathEscape(value)
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("%s: missing path params %v", spec.Name, missing)
	}
	if len(params.Query) > 0 {
		filled += "?" + params.Query.Encode()
	}
	return filled, nil
}
