package activities

import "go.temporal.io/sdk/worker"

func Register(w worker.Worker, a *Activities) {
	w.RegisterActivity(a.SearchFilingsActivity)
	w.RegisterActivity(a.IngestFilingActivity)
	w.RegisterActivity(a.AnswerQuestionActivity)
	w.RegisterActivity(a.CompareFilingsActivity)
	w.RegisterActivity(a.WriteResearchReportActivity)
}
