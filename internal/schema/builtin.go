package schema

// Names of the built-in schemas.
const (
	OpinionClassificationName = "opinion_classification"
	CompanyProfileName        = "company_profile"
	TranslationName           = "translation"
	NarrativePostulationName  = "narrative_postulation"
	CompanySearchResultName   = "company_search_result"
	CompanyCapabilitiesName   = "company_capabilities"
	QueryRefinementName       = "query_refinement"
)

// MaxCapabilities caps how many capabilities are extracted from a seed company.
const MaxCapabilities = 5

// OpinionClassification labels a piece of user feedback with one of the
// supplied categories. An empty category list leaves the label unconstrained.
func OpinionClassification(categories []string) *Schema {
	return &Schema{
		Name:        OpinionClassificationName,
		Description: "Classification of a user opinion into a category",
		Fields: []Field{
			{Name: "category", Type: TypeString, Required: true, Enum: categories,
				Description: "The single best matching category"},
			{Name: "confidence", Type: TypeNumber, Required: true, Min: Float(0), Max: Float(1),
				Description: "Confidence in the chosen category between 0 and 1"},
			{Name: "rationale", Type: TypeString, Required: true,
				Description: "One or two sentences explaining the choice"},
		},
	}
}

// CompanyProfile describes a company identified by name.
func CompanyProfile() *Schema {
	return &Schema{
		Name:        CompanyProfileName,
		Description: "Profile of a company identified by its name",
		Fields: []Field{
			{Name: "name", Type: TypeString, Required: true},
			{Name: "industry", Type: TypeString, Required: true},
			{Name: "country", Type: TypeString, Required: true, Description: "Headquarters country"},
			{Name: "description", Type: TypeString, Required: true},
			{Name: "confidence", Type: TypeNumber, Required: true, Min: Float(0), Max: Float(1)},
		},
	}
}

// Translation holds one translated text cell.
func Translation() *Schema {
	return &Schema{
		Name:        TranslationName,
		Description: "Translated text",
		Fields: []Field{
			{Name: "translatedText", Type: TypeString, Required: true,
				Description: "The input text translated into the target language"},
		},
	}
}

// NarrativePostulation is the result of a long-form research job.
func NarrativePostulation() *Schema {
	return &Schema{
		Name:        NarrativePostulationName,
		Description: "A researched narrative postulation with supporting sources",
		Fields: []Field{
			{Name: "title", Type: TypeString, Required: true},
			{Name: "postulation", Type: TypeString, Required: true,
				Description: "The central claim about where the narrative is heading"},
			{Name: "rationale", Type: TypeString, Required: true},
			{Name: "sources", Type: TypeArray, Required: true, Items: &Field{
				Type: TypeObject,
				Fields: []Field{
					{Name: "title", Type: TypeString, Required: true},
					{Name: "url", Type: TypeString, Required: true},
				},
			}},
			{Name: "confidence", Type: TypeNumber, Required: true, Min: Float(0), Max: Float(1)},
		},
	}
}

func companyField() Field {
	return Field{
		Type: TypeObject,
		Fields: []Field{
			{Name: "name", Type: TypeString, Required: true},
			{Name: "url", Type: TypeString},
			{Name: "description", Type: TypeString},
			{Name: "country", Type: TypeString},
			{Name: "industry", Type: TypeString},
			{Name: "size", Type: TypeString},
			{Name: "founded", Type: TypeString},
		},
	}
}

// CompanySearchResult is the answer to a single company search query.
func CompanySearchResult() *Schema {
	item := companyField()
	return &Schema{
		Name:        CompanySearchResultName,
		Description: "Companies found for a search query",
		Fields: []Field{
			{Name: "search_strategy", Type: TypeString, Required: true,
				Description: "How the search was approached"},
			{Name: "companies", Type: TypeArray, Required: true, Items: &item},
		},
	}
}

// CompanyCapabilities lists what a seed company does.
func CompanyCapabilities() *Schema {
	return &Schema{
		Name:        CompanyCapabilitiesName,
		Description: "Capabilities extracted from a company's products and services",
		Fields: []Field{
			{Name: "description", Type: TypeString, Required: true},
			{Name: "products_and_services_info", Type: TypeString, Required: true},
			{Name: "extraction_reasoning", Type: TypeString, Required: true},
			{Name: "identified_capabilities", Type: TypeArray, Required: true,
				MinItems: Int(1), MaxItems: Int(MaxCapabilities),
				Items: &Field{Type: TypeString}},
		},
	}
}

// QueryRefinement narrows a first-phase search.
func QueryRefinement() *Schema {
	return &Schema{
		Name:        QueryRefinementName,
		Description: "Relevant companies from a first search and an additional query to refine it",
		Fields: []Field{
			{Name: "relevant_companies", Type: TypeArray, Required: true, Items: &Field{Type: TypeString}},
			{Name: "additional_query", Type: TypeString, Required: true},
		},
	}
}
