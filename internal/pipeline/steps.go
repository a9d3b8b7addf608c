package pipeline

import (
	"context"
	"fmt"
	"strconv"

	"reclameaqui-pipeline/internal/models"
	"reclameaqui-pipeline/internal/scrapers/reclameaqui"
)

func (p *Pipeline) CollectCategories(ctx context.Context) ([]models.Category, models.CollectionTaskResult) {
	var categories []models.Category
	res := p.track(ctx, "categories", func(ctx context.Context) (stepOutput, error) {
		response, decoded, err := p.client.Categories(ctx)
		if err != nil {
			return stepOutput{}, err
		}
		paths, err := p.persist(ctx, CategoryCategories, "categorias", "", response, len(decoded))
		if err != nil {
			return stepOutput{paths: paths}, err
		}
		categories = decoded
		return stepOutput{records: len(decoded), paths: paths}, nil
	})
	return categories, res
}

func (p *Pipeline) CollectOffers(ctx context.Context) ([]models.Offer, models.CollectionTaskResult) {
	var offers []models.Offer
	res := p.track(ctx, "offers", func(ctx context.Context) (stepOutput, error) {
		response, decoded, err := p.client.Offers(ctx)
		if err != nil {
			return stepOutput{}, err
		}
		paths, err := p.persist(ctx, CategoryOffers, "ofertas", "", response, len(decoded))
		if err != nil {
			return stepOutput{paths: paths}, err
		}
		offers = decoded
		return stepOutput{records: len(decoded), paths: paths}, nil
	})
	return offers, res
}

func rankingTask(category models.Category) string {
	return "ranking:" + category.Key()
}

// CollectRankingForCategory returns the entries of one ranking page ordered
// by position.
func (p *Pipeline) CollectRankingForCategory(ctx context.Context, category models.Category, page, size int) ([]models.RankingEntry, models.CollectionTaskResult) {
	var entries []models.RankingEntry
	res := p.track(ctx, rankingTask(category), func(ctx context.Context) (stepOutput, error) {
		response, decoded, err := p.client.Ranking(ctx, category, page, size)
		if err != nil {
			return stepOutput{}, err
		}
		key := fileKey(category.MainSegment, category.SecondarySegment, strconv.Itoa(page))
		paths, err := p.persist(ctx, CategoryRankings, "ranking", key, response, len(decoded))
		if err != nil {
			return stepOutput{paths: paths}, err
		}
		entries = decoded
		return stepOutput{records: len(decoded), paths: paths}, nil
	})
	return entries, res
}

func companyTask(shortname string) string {
	return "company:" + shortname
}

func (p *Pipeline) CollectCompany(ctx context.Context, shortname string) (models.CompanyProfile, models.CollectionTaskResult) {
	var profile models.CompanyProfile
	res := p.track(ctx, companyTask(shortname), func(ctx context.Context) (stepOutput, error) {
		response, decoded, err := p.client.Company(ctx, shortname)
		if err != nil {
			return stepOutput{}, err
		}
		paths, err := p.persist(ctx, CategoryCompanies, "empresa", fileKey(decoded.Shortname), response, 1)
		if err != nil {
			return stepOutput{paths: paths}, err
		}
		profile = decoded
		return stepOutput{records: 1, paths: paths}, nil
	})
	return profile, res
}

func complaintsTask(shortname string, scope models.ComplaintScope) string {
	return fmt.Sprintf("complaints:%s:%s", shortname, scope)
}

// CollectComplaints collects the first page of complaints of company.
func (p *Pipeline) CollectComplaints(ctx context.Context, company models.CompanyProfile, scope models.ComplaintScope) ([]models.Complaint, models.CollectionTaskResult) {
	var complaints []models.Complaint
	res := p.track(ctx, complaintsTask(company.Shortname, scope), func(ctx context.Context) (stepOutput, error) {
		if company.ID == "" {
			return stepOutput{}, fmt.Errorf("%w: company %s has no id", reclameaqui.ErrMalformedResponse, company.Shortname)
		}
		response, decoded, err := p.client.Complaints(ctx, reclameaqui.ComplaintsQuery{
			CompanyID:        company.ID,
			CompanyShortname: company.Shortname,
			Scope:            scope,
		})
		if err != nil {
			return stepOutput{}, err
		}
		key := fileKey(company.Shortname, string(scope))
		paths, err := p.persist(ctx, CategoryComplaints, "reclamacoes", key, response, len(decoded))
		if err != nil {
			return stepOutput{paths: paths}, err
		}
		complaints = decoded
		return stepOutput{records: len(decoded), paths: paths}, nil
	})
	return complaints, res
}
