package workflows

type ResearchInput struct {
	Question       string   `json:"question"`
	FormTypes      []string `json:"form_types,omitempty"`
	DateFrom       string   `json:"date_from,omitempty"`
	DateTo         string   `json:"date_to,omitempty"`
	MaxResults     int      `json:"max_results"`
	IncludeCompare bool     `json:"include_compare"`
}

type ResearchProgress struct {
	Stage      string            `json:"stage"`
	Total      int               `json:"total"`
	Ingested   int               `json:"ingested"`
	Failed     int               `json:"failed"`
	PerFiling  map[string]string `json:"per_filing"`
	ReportPath string            `json:"report_path,omitempty"`
	Error      string            `json:"error,omitempty"`
}
