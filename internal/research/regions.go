package research

import (
	"fmt"
	"strings"

	"github.com/phrazzld/enrich/internal/generation"
)

// Region groups the countries searched together.
type Region string

// Supported regions.
const (
	RegionEU    Region = "EU"
	RegionASEAN Region = "ASEAN"
	RegionMENA  Region = "MENA"
	RegionAsia  Region = "ASIA"
)

var regionCountries = map[Region][]string{
	RegionEU:    {"GB", "DE", "FR", "IT", "FI", "NL", "BE", "DK", "SE", "NO", "EE"},
	RegionASEAN: {"MY", "ID", "PH", "TH", "VN", "SG"},
	RegionMENA:  {"AE", "SA", "KW", "BH", "QA"},
	RegionAsia:  {"JP", "KR", "CN"},
}

// majorCity is the search locality hint per country.
var majorCity = map[string]string{
	"GB": "London",
	"DE": "Berlin",
	"FR": "Paris",
	"IT": "Rome",
	"FI": "Helsinki",
	"NL": "Amsterdam",
	"BE": "Brussels",
	"DK": "Copenhagen",
	"SE": "Stockholm",
	"NO": "Oslo",
	"EE": "Tallinn",
	"MY": "Kuala Lumpur",
	"ID": "Jakarta",
	"PH": "Manila",
	"TH": "Bangkok",
	"VN": "Hanoi",
	"SG": "Singapore",
	"AE": "Dubai",
	"SA": "Riyadh",
	"KW": "Kuwait City",
	"BH": "Manama",
	"QA": "Doha",
	"JP": "Tokyo",
	"KR": "Seoul",
	"CN": "Beijing",
}

// ParseRegion accepts a region name case-insensitively. "ASIA(CN/JP/KR)" is
// an alias of ASIA.
func ParseRegion(s string) (Region, error) {
	r := Region(strings.ToUpper(strings.TrimSpace(s)))
	if r == "ASIA(CN/JP/KR)" {
		r = RegionAsia
	}
	if _, ok := regionCountries[r]; !ok {
		return "", fmt.Errorf("unknown region %q", s)
	}
	return r, nil
}

// Countries returns the ISO country codes searched for r.
func (r Region) Countries() []string {
	return append([]string(nil), regionCountries[r]...)
}

// LocationFor returns the search locality for an ISO country code. Unknown
// countries get no city hint.
func LocationFor(country string) *generation.Location {
	return &generation.Location{Country: country, City: majorCity[country]}
}
