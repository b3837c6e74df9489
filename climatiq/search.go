package climatiq

import (
	"sort"
	"strconv"
	"strings"
)

// SearchParams filters the emission factor catalogue. Zero values are left
// out of the query.
type SearchParams struct {
	Query                   string
	DataVersion             string
	ActivityID              string
	ID                      string
	Category                string
	Sector                  string
	Source                  string
	SourceDataset           string
	Year                    int
	Region                  string
	UnitType                string
	SourceLCAActivity       string
	CalculationMethod       string
	AllowedDataQualityFlags []string
	AccessType              string
	Page                    int
	ResultsPerPage          int
}

// Encode renders the query string. Keys are sorted and spaces become '+'.
func (p SearchParams) Encode() string {
	version := p.DataVersion
	if version == "" {
		version = DefaultDataVersion
	}
	perPage := p.ResultsPerPage
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	fields := map[string]string{
		"query":                      p.Query,
		"data_version":               version,
		"activity_id":                p.ActivityID,
		"id":                         p.ID,
		"category":                   p.Category,
		"sector":                     p.Sector,
		"source":                     p.Source,
		"source_dataset":             p.SourceDataset,
		"region":                     p.Region,
		"unit_type":                  p.UnitType,
		"source_lca_activity":        p.SourceLCAActivity,
		"calculation_method":         p.CalculationMethod,
		"access_type":                p.AccessType,
		"allowed_data_quality_flags": strings.Join(p.AllowedDataQualityFlags, ","),
		"results_per_page":           strconv.Itoa(perPage),
	}
	if p.Year > 0 {
		fields["year"] = strconv.Itoa(p.Year)
	}
	if p.Page > 0 {
		fields["page"] = strconv.Itoa(p.Page)
	}

	keys := make([]string, 0, len(fields))
	for k, v := range fields {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + encodeValue(fields[k])
	}
	return strings.Join(parts, "&")
}

type EmissionFactor struct {
	ID                string   `json:"id"`
	ActivityID        string   `json:"activity_id,omitempty"`
	Name              string   `json:"name"`
	Category          string   `json:"category"`
	Sector            string   `json:"sector,omitempty"`
	Source            string   `json:"source"`
	SourceDataset     string   `json:"source_dataset,omitempty"`
	Region            string   `json:"region"`
	Year              int      `json:"year"`
	UnitType          string   `json:"unit_type,omitempty"`
	SourceLCAActivity string   `json:"source_lca_activity,omitempty"`
	AccessType        string   `json:"access_type,omitempty"`
	DataQualityFlags  []string `json:"data_quality_flags,omitempty"`
}

type SearchResponse struct {
	Results      []EmissionFactor `json:"results"`
	CurrentPage  int              `json:"current_page"`
	LastPage     int              `json:"last_page"`
	TotalResults int              `json:"total_results"`
}
