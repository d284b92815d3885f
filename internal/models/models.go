package models

import "time"

const (
	DocumentProcessing = "processing"
	DocumentCompleted  = "completed"
	DocumentFailed     = "failed"
)

const (
	FilingDiscovered  = "discovered"
	FilingDownloading = "downloading"
	FilingIndexing    = "indexing"
	FilingIndexed     = "indexed"
	FilingFailed      = "failed"
)

const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

const (
	SourceSECFiling = "sec_filing"
	SourceDocument  = "document"
)

type Document struct {
	ID           string         `json:"id"`
	Filename     string         `json:"filename"`
	FileSize     int64          `json:"file_size"`
	FileType     string         `json:"file_type"`
	Status       string         `json:"status"`
	ChunksCount  int            `json:"chunks_count"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

type Company struct {
	ID        string    `json:"id"`
	CIK       string    `json:"cik"`
	Name      string    `json:"company_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Filing struct {
	ID              string     `json:"id"`
	CompanyID       string     `json:"company_id"`
	CIK             string     `json:"cik"`
	AccessionNumber string     `json:"accession_number"`
	FormType        string     `json:"form_type"`
	FiledDate       *time.Time `json:"filed_date,omitempty"`
	FilingURL       string     `json:"filing_url"`
	Status          string     `json:"status"`
	DocumentID      string     `json:"document_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type IngestionJob struct {
	ID              string     `json:"id"`
	CIK             string     `json:"cik"`
	AccessionNumber string     `json:"accession_number"`
	FormType        string     `json:"form_type"`
	FiledDate       *time.Time `json:"filed_date,omitempty"`
	CompanyName     string     `json:"company_name,omitempty"`
	FilingURL       string     `json:"filing_url,omitempty"`
	Status          string     `json:"status"`
	Attempts        int        `json:"attempts"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// QueryRecord is one audited question, successful or not.
type QueryRecord struct {
	ID           string    `json:"id"`
	Question     string    `json:"question"`
	Answer       string    `json:"answer,omitempty"`
	SourcesCount int       `json:"sources_count"`
	LatencyMS    float64   `json:"latency_ms"`
	Model        string    `json:"model,omitempty"`
	Provider     string    `json:"provider,omitempty"`
	TokensUsed   *int      `json:"tokens_used,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
