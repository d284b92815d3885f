package activities

import (
	"time"

	"edgarrag/internal/agent"
	"edgarrag/internal/edgar"
	"edgarrag/internal/filings"
	"edgarrag/internal/rag"
)

type SearchFilingsInput struct {
	Question   string   `json:"question"`
	FormTypes  []string `json:"form_types,omitempty"`
	DateFrom   string   `json:"date_from,omitempty"`
	DateTo     string   `json:"date_to,omitempty"`
	MaxResults int      `json:"max_results"`
}

type SearchFilingsOutput struct {
	Hits []edgar.SearchHit `json:"hits"`
}

type IngestFilingInput struct {
	Hit edgar.SearchHit `json:"hit"`
}

type IngestFilingOutput struct {
	Filing agent.IngestedFiling `json:"filing"`
}

type AnswerQuestionInput struct {
	Question  string   `json:"question"`
	FormTypes []string `json:"form_types,omitempty"`
	DateFrom  string   `json:"date_from,omitempty"`
	DateTo    string   `json:"date_to,omitempty"`
}

type AnswerQuestionOutput struct {
	Answer     string                   `json:"answer"`
	Sources    []rag.Source             `json:"sources"`
	References []filings.CrossReference `json:"references"`
	Model      string                   `json:"model"`
	Provider   string                   `json:"provider"`
	Usage      map[string]int           `json:"usage,omitempty"`
}

type CompareFilingsInput struct {
	AccessionA string `json:"accession_a"`
	AccessionB string `json:"accession_b"`
	FocusTopic string `json:"focus_topic,omitempty"`
}

type CompareFilingsOutput struct {
	Comparison agent.Comparison `json:"comparison"`
}

// ResearchReport is the document persisted at the end of a research
// workflow.
type ResearchReport struct {
	WorkflowID  string               `json:"workflow_id"`
	Question    string               `json:"question"`
	GeneratedAt time.Time            `json:"generated_at"`
	Result      agent.ResearchResult `json:"result"`
}

type WriteResearchReportInput struct {
	Report ResearchReport `json:"report"`
}

type WriteResearchReportOutput struct {
	Path string `json:"path"`
}
