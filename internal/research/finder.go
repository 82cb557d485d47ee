package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/phrazzld/enrich/internal/generation"
	"github.com/phrazzld/enrich/internal/schema"
	"golang.org/x/sync/errgroup"
)

const (
	taskCapabilities = "company_capabilities"
	taskSearch       = "company_search"
	taskRefine       = "query_refinement"

	// maxExcludedNames caps how many found names are repeated in a query.
	maxExcludedNames = 20

	capabilitiesInstruction = "You are a market research analyst. Research the company online and report " +
		"what it offers. Only list capabilities you are reasonably confident the company has."
	searchInstruction = "You are a market research analyst assistant. Research the query online and list " +
		"real companies that match it."
	refineInstruction = "You are a prompt engineer assistant. You are given search queries and the companies " +
		"they found. Reason about which results are relevant and which are not, list the relevant company " +
		"names, and suggest one additional sentence to append to the queries so that results are more relevant."
)

// DefaultCapabilities are searched when a job names neither capabilities
// nor a seed company.
var DefaultCapabilities = []string{
	"narrative intelligence",
	"disinformation detection",
	"Information Operations (IO) Defense",
	"inauthentic online behaviour detection",
}

// Config tunes a Finder.
type Config struct {
	// CountryConcurrency caps how many countries are searched at once.
	CountryConcurrency int
	// QueryPause separates the sequential queries of one country.
	QueryPause time.Duration
	Policy     generation.RetryPolicy
}

// DefaultConfig returns the settings used by the job handler.
func DefaultConfig() Config {
	return Config{
		CountryConcurrency: 4,
		QueryPause:         time.Second,
		Policy:             generation.DefaultRetryPolicy(),
	}
}

// Finder searches for companies related to a set of capabilities.
type Finder struct {
	client generation.Client
	cfg    Config
	logger *slog.Logger

	capabilities *schema.Schema
	search       *schema.Schema
	refinement   *schema.Schema
}

// NewFinder creates a Finder.
func NewFinder(client generation.Client, cfg Config, logger *slog.Logger) *Finder {
	if cfg.CountryConcurrency <= 0 {
		cfg.CountryConcurrency = DefaultConfig().CountryConcurrency
	}
	return &Finder{
		client:       client,
		cfg:          cfg,
		logger:       logger.With("component", "company_finder"),
		capabilities: schema.CompanyCapabilities(),
		search:       schema.CompanySearchResult(),
		refinement:   schema.QueryRefinement(),
	}
}

// Query describes what to search for.
type Query struct {
	Capabilities []string
	SeedCompany  string
	Deep         bool
}

// CountryResult is the outcome of searching one country.
type CountryResult struct {
	Country            string    `json:"country"`
	Companies          []Company `json:"companies"`
	TotalFound         int       `json:"total_found"`
	QueriesUsed        []string  `json:"search_queries_used,omitempty"`
	SuccessfulSearches int       `json:"successful_searches"`
	TotalSearches      int       `json:"total_searches"`
	Summary            string    `json:"summary"`
	Error              string    `json:"error,omitempty"`
}

// RegionResult merges the results of every searched country.
type RegionResult struct {
	Region                  string                    `json:"region,omitempty"`
	Capabilities            []string                  `json:"capabilities"`
	SeedCompany             string                    `json:"seed_company,omitempty"`
	SeedDescription         string                    `json:"seed_description,omitempty"`
	Companies               []Company                 `json:"companies"`
	TotalFound              int                       `json:"total_found"`
	CountriesSearched       []string                  `json:"countries_searched"`
	SuccessfulCountries     int                       `json:"successful_countries"`
	CountryResults          map[string]*CountryResult `json:"country_results"`
	TotalSearches           int                       `json:"total_searches"`
	TotalSuccessfulSearches int                       `json:"total_successful_searches"`
	Summary                 string                    `json:"summary"`
}

// Capabilities researches what seed does.
func (f *Finder) Capabilities(ctx context.Context, seed string) (*CapabilityProfile, error) {
	prompt := fmt.Sprintf(`Analyze the company %q and determine which capabilities it possesses.

Assume the company operates in military, social media analytics and/or technology domains.
Research the company online and determine:
1. What specific services or products does the company offer?
2. Which capabilities does the company possess based on its business focus, services or expertise?

List at most %d capabilities as short noun phrases.`, seed, schema.MaxCapabilities)

	var profile CapabilityProfile
	err := f.research(ctx, taskCapabilities, capabilitiesInstruction, prompt, nil, f.capabilities, &profile)
	if err != nil {
		return nil, fmt.Errorf("determine capabilities of %q: %w", seed, err)
	}
	f.logger.InfoContext(ctx, "identified seed company capabilities",
		"seed_company", seed,
		"capabilities", profile.Capabilities)
	return &profile, nil
}

// SearchRegion searches every country in countries concurrently. A country
// that fails is recorded in its CountryResult and does not abort the others.
// It returns an error only when every country failed.
func (f *Finder) SearchRegion(ctx context.Context, countries []string, q Query) (*RegionResult, error) {
	results := make([]*CountryResult, len(countries))
	errs := make([]error, len(countries))

	var g errgroup.Group
	g.SetLimit(f.cfg.CountryConcurrency)
	for i, country := range countries {
		g.Go(func() error {
			var res *CountryResult
			var err error
			if q.Deep {
				res, err = f.DeepSearchCountry(ctx, country, q)
			} else {
				res, err = f.SearchCountry(ctx, country, q, nil)
			}
			if err != nil {
				f.logger.WarnContext(ctx, "country search failed", "country", country, "error", err)
				res = &CountryResult{Country: country, Companies: []Company{}, Error: err.Error()}
				errs[i] = err
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	out := &RegionResult{
		Capabilities:      q.Capabilities,
		SeedCompany:       q.SeedCompany,
		CountriesSearched: countries,
		CountryResults:    make(map[string]*CountryResult, len(countries)),
	}
	var all []Company
	var failures []error
	for i, res := range results {
		out.CountryResults[res.Country] = res
		if errs[i] != nil {
			failures = append(failures, errs[i])
			continue
		}
		out.SuccessfulCountries++
		out.TotalSearches += res.TotalSearches
		out.TotalSuccessfulSearches += res.SuccessfulSearches
		all = append(all, res.Companies...)
	}
	out.Companies = dedupe(all)
	out.TotalFound = len(out.Companies)
	out.Summary = fmt.Sprintf("Found %d unique companies across %d/%d countries. Total searches: %d/%d",
		out.TotalFound, out.SuccessfulCountries, len(countries), out.TotalSuccessfulSearches, out.TotalSearches)

	if len(countries) > 0 && len(failures) == len(countries) {
		return out, fmt.Errorf("company search failed in every country: %w", errors.Join(failures...))
	}
	return out, nil
}

// SearchCountry runs one query per capability, in order. Each query excludes
// the names found by the previous ones. A failed query is skipped; the
// country fails only when no query succeeded.
func (f *Finder) SearchCountry(ctx context.Context, country string, q Query, ref *Refinement) (*CountryResult, error) {
	logger := f.logger.With("country", country)
	loc := LocationFor(country)

	res := &CountryResult{Country: country, TotalSearches: len(q.Capabilities)}
	var (
		all     []Company
		found   []string
		lastErr error
	)
	for i, capability := range q.Capabilities {
		if i > 0 && f.cfg.QueryPause > 0 {
			if err := sleep(ctx, f.cfg.QueryPause); err != nil {
				return nil, err
			}
		}

		query := buildQuery(country, capability, q.SeedCompany, found, ref)
		res.QueriesUsed = append(res.QueriesUsed, query)

		var sr searchResult
		err := f.research(ctx, taskSearch, searchInstruction, query, loc, f.search, &sr)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			logger.WarnContext(ctx, "company search query failed", "query_index", i, "error", err)
			lastErr = err
			continue
		}

		all = append(all, sr.Companies...)
		for _, c := range sr.Companies {
			if c.Name != "" {
				found = append(found, c.Name)
			}
		}
		res.SuccessfulSearches++
		logger.DebugContext(ctx, "company search query finished",
			"query_index", i,
			"found", len(sr.Companies),
			"total", len(all))
	}

	if res.TotalSearches > 0 && res.SuccessfulSearches == 0 {
		return nil, fmt.Errorf("all %d searches in %s failed: %w", res.TotalSearches, country, lastErr)
	}

	res.Companies = dedupe(all)
	res.TotalFound = len(res.Companies)
	res.Summary = fmt.Sprintf("Found %d unique companies in %s from %d/%d successful searches",
		res.TotalFound, country, res.SuccessfulSearches, res.TotalSearches)
	logger.InfoContext(ctx, "country search finished",
		"companies", res.TotalFound,
		"successful_searches", res.SuccessfulSearches)
	return res, nil
}

// DeepSearchCountry searches, asks the model to refine the query from the
// first results, searches again, and merges the relevant first-pass
// companies with the second pass.
func (f *Finder) DeepSearchCountry(ctx context.Context, country string, q Query) (*CountryResult, error) {
	first, err := f.SearchCountry(ctx, country, q, nil)
	if err != nil {
		return nil, err
	}

	ref, err := f.Refine(ctx, first)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		// An unrefined second pass still widens the search.
		f.logger.WarnContext(ctx, "query refinement failed", "country", country, "error", err)
		ref = &Refinement{}
	}

	second, err := f.SearchCountry(ctx, country, q, ref)
	if err != nil {
		return nil, err
	}

	relevant := make(map[string]struct{}, len(ref.RelevantCompanies))
	for _, name := range ref.RelevantCompanies {
		relevant[nameKey(name)] = struct{}{}
	}
	var merged []Company
	for _, c := range first.Companies {
		if _, ok := relevant[nameKey(c.Name)]; ok {
			merged = append(merged, c)
		}
	}
	merged = append(merged, second.Companies...)

	secondFound := second.TotalFound
	second.Companies = dedupe(merged)
	second.TotalFound = len(second.Companies)
	second.QueriesUsed = append(first.QueriesUsed, second.QueriesUsed...)
	second.TotalSearches += first.TotalSearches
	second.SuccessfulSearches += first.SuccessfulSearches
	second.Summary = fmt.Sprintf(
		"Deep search found %d unique companies in %s after refinement (first pass %d, second pass %d before merge)",
		second.TotalFound, country, first.TotalFound, secondFound)
	return second, nil
}

// Refine asks the model which first-pass companies are relevant and how to
// sharpen the queries.
func (f *Finder) Refine(ctx context.Context, first *CountryResult) (*Refinement, error) {
	input, err := json.Marshal(struct {
		Queries   []string  `json:"search_queries_used"`
		Companies []Company `json:"companies"`
	}{first.QueriesUsed, first.Companies})
	if err != nil {
		return nil, fmt.Errorf("encode first pass: %w", err)
	}

	var ref Refinement
	var repair error
	attempts, err := f.cfg.Policy.Do(ctx, func(ctx context.Context, attempt int) error {
		prompt := string(input)
		if repair != nil {
			prompt += "\n\nYour previous response was rejected: " + repair.Error()
		}
		raw, err := f.client.StructuredCall(ctx, generation.StructuredRequest{
			Task:        taskRefine,
			Instruction: refineInstruction,
			Prompt:      prompt,
			Schema:      f.refinement,
		})
		if err != nil {
			return err
		}
		rec, err := schema.Validate(f.refinement, raw)
		if err != nil {
			repair = err
			return err
		}
		return decodeRecord(rec, &ref)
	})
	if err != nil {
		return nil, fmt.Errorf("refinement failed after %d attempt(s): %w", attempts, err)
	}
	return &ref, nil
}

// research runs a deep research call under the retry policy and decodes the
// validated answer into out.
func (f *Finder) research(
	ctx context.Context,
	task, instruction, prompt string,
	loc *generation.Location,
	s *schema.Schema,
	out any,
) error {
	var repair error
	attempts, err := f.cfg.Policy.Do(ctx, func(ctx context.Context, attempt int) error {
		p := prompt
		if repair != nil {
			p += "\n\nYour previous response was rejected: " + repair.Error()
		}
		raw, err := f.client.DeepResearchCall(ctx, generation.ResearchRequest{
			Task:        task,
			Instruction: instruction,
			Prompt:      p,
			Schema:      s,
			Location:    loc,
		})
		if err != nil {
			return err
		}
		rec, err := schema.Validate(s, raw)
		if err != nil {
			repair = err
			return err
		}
		return decodeRecord(rec, out)
	})
	if err != nil {
		return fmt.Errorf("%s failed after %d attempt(s): %w", task, attempts, err)
	}
	return nil
}

// buildQuery phrases one capability search for a country.
func buildQuery(country, capability, seed string, found []string, ref *Refinement) string {
	base := fmt.Sprintf("Companies in %s that are related to %s", country, capability)

	var query string
	switch {
	case len(found) > 0:
		names := found
		if len(names) > maxExcludedNames {
			names = names[:maxExcludedNames]
		}
		list := strings.Join(names, ", ")
		if seed != "" {
			query = fmt.Sprintf("%s. Find companies similar to %s but NOT including these already found: %s. "+
				"Do not repeat any of these companies.", base, seed, list)
		} else {
			query = fmt.Sprintf("%s. NOT including these already found: %s. Do not repeat any of these companies.",
				base, list)
		}
	case ref != nil && len(ref.RelevantCompanies) > 0:
		query = fmt.Sprintf("%s. Find companies similar to these: %s. Do not repeat any of these companies.",
			base, strings.Join(ref.RelevantCompanies, ", "))
	case seed != "":
		query = fmt.Sprintf("%s. Find companies similar to %s.", base, seed)
	default:
		query = base
	}

	if ref != nil && ref.AdditionalQuery != "" {
		query += " " + ref.AdditionalQuery
	}
	return query
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
