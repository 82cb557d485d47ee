package research

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/phrazzld/enrich/internal/job"
)

// KindCompanySearch is the job kind for related-company research.
const KindCompanySearch = "company_search"

// CompanySearchPayload is the input of a company_search job. Exactly one of
// Region and Country must be set. When Capabilities is empty they are
// researched from SeedCompany, or DefaultCapabilities is used.
type CompanySearchPayload struct {
	Region       string   `json:"region,omitempty"       validate:"required_without=Country,excluded_with=Country"`
	Country      string   `json:"country,omitempty"      validate:"omitempty,len=2,alpha,uppercase"`
	Capabilities []string `json:"capabilities,omitempty" validate:"max=10,dive,required,max=200"`
	SeedCompany  string   `json:"seed_company,omitempty" validate:"max=200"`
	DeepSearch   bool     `json:"deep_search,omitempty"`
}

// CompanySearchHandler runs company_search jobs.
type CompanySearchHandler struct {
	finder *Finder
	logger *slog.Logger
}

var _ job.Handler = (*CompanySearchHandler)(nil)

// NewCompanySearchHandler creates a CompanySearchHandler.
func NewCompanySearchHandler(finder *Finder, logger *slog.Logger) *CompanySearchHandler {
	return &CompanySearchHandler{
		finder: finder,
		logger: logger.With("component", "company_search_handler"),
	}
}

// Kind implements job.Handler.
func (h *CompanySearchHandler) Kind() string { return KindCompanySearch }

// ValidatePayload implements job.Handler.
func (h *CompanySearchHandler) ValidatePayload(payload json.RawMessage) error {
	_, err := decodeCompanySearch(payload)
	return err
}

func decodeCompanySearch(payload json.RawMessage) (*CompanySearchPayload, error) {
	var p CompanySearchPayload
	if err := job.DecodePayload(payload, &p); err != nil {
		return nil, err
	}
	if p.Region != "" {
		if _, err := ParseRegion(p.Region); err != nil {
			return nil, fmt.Errorf("%w: %v", job.ErrInvalidPayload, err)
		}
	}
	return &p, nil
}

// Handle implements job.Handler.
func (h *CompanySearchHandler) Handle(ctx context.Context, j *job.Job) (json.RawMessage, error) {
	p, err := decodeCompanySearch(j.Payload)
	if err != nil {
		return nil, err
	}
	logger := h.logger.With("job_id", j.ID)

	q := Query{
		Capabilities: trimAll(p.Capabilities),
		SeedCompany:  strings.TrimSpace(p.SeedCompany),
		Deep:         p.DeepSearch,
	}

	var seedDescription string
	if len(q.Capabilities) == 0 {
		if q.SeedCompany == "" {
			q.Capabilities = append([]string(nil), DefaultCapabilities...)
		} else {
			profile, err := h.finder.Capabilities(ctx, q.SeedCompany)
			if err != nil {
				return nil, err
			}
			q.Capabilities = trimAll(profile.Capabilities)
			seedDescription = profile.Description
		}
	}

	var countries []string
	var region Region
	if p.Region != "" {
		region, _ = ParseRegion(p.Region)
		countries = region.Countries()
	} else {
		countries = []string{p.Country}
	}

	logger.InfoContext(ctx, "starting company search",
		"region", string(region),
		"countries", countries,
		"capabilities", q.Capabilities,
		"deep_search", q.Deep)

	res, err := h.finder.SearchRegion(ctx, countries, q)
	if err != nil {
		return nil, err
	}
	res.Region = string(region)
	res.SeedDescription = seedDescription

	logger.InfoContext(ctx, "company search finished",
		"companies", res.TotalFound,
		"successful_countries", res.SuccessfulCountries)
	return json.Marshal(res)
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
