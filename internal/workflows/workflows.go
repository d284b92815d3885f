package workflows

import (
	"time"

	"edgarrag/internal/activities"
	"edgarrag/internal/agent"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const QueryGetResearchProgress = "GetResearchProgress"

const (
	StageSearching = "searching"
	StageIngesting = "ingesting"
	StageAnswering = "answering"
	StageComparing = "comparing"
	StageReporting = "reporting"
	StageCompleted = "completed"
	StageFailed    = "failed"
)

// ResearchWorkflow runs the research steps as activities and returns the
// path of the written report. A filing that still fails after its retries
// is recorded and skipped.
func ResearchWorkflow(ctx workflow.Context, input ResearchInput) (string, error) {
	progress := ResearchProgress{Stage: StageSearching, PerFiling: map[string]string{}}
	if err := workflow.SetQueryHandler(ctx, QueryGetResearchProgress, func() (ResearchProgress, error) {
		return progress, nil
	}); err != nil {
		return "", err
	}
	fail := func(err error) (string, error) {
		progress.Stage = StageFailed
		progress.Error = err.Error()
		return "", err
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    20 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	ingestCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy:         ao.RetryPolicy,
	})

	var search activities.SearchFilingsOutput
	if err := workflow.ExecuteActivity(ctx, "SearchFilingsActivity", activities.SearchFilingsInput{
		Question:   input.Question,
		FormTypes:  input.FormTypes,
		DateFrom:   input.DateFrom,
		DateTo:     input.DateTo,
		MaxResults: input.MaxResults,
	}).Get(ctx, &search); err != nil {
		return fail(err)
	}

	progress.Stage = StageIngesting
	progress.Total = len(search.Hits)
	result := agent.ResearchResult{IngestedFilings: []agent.IngestedFiling{}}
	for _, hit := range search.Hits {
		progress.PerFiling[hit.AccessionNumber] = "ingesting"
		var out activities.IngestFilingOutput
		err := workflow.ExecuteActivity(ingestCtx, "IngestFilingActivity", activities.IngestFilingInput{Hit: hit}).Get(ingestCtx, &out)
		if err != nil {
			progress.Failed++
			progress.PerFiling[hit.AccessionNumber] = "failed"
			result.Failures = append(result.Failures, agent.Failure{AccessionNumber: hit.AccessionNumber, Error: err.Error()})
			workflow.GetLogger(ctx).Warn("filing ingestion failed", "accession", hit.AccessionNumber, "error", err)
			continue
		}
		progress.Ingested++
		progress.PerFiling[hit.AccessionNumber] = "indexed"
		result.IngestedFilings = append(result.IngestedFilings, out.Filing)
	}

	progress.Stage = StageAnswering
	var answer activities.AnswerQuestionOutput
	if err := workflow.ExecuteActivity(ctx, "AnswerQuestionActivity", activities.AnswerQuestionInput{
		Question:  input.Question,
		FormTypes: input.FormTypes,
		DateFrom:  input.DateFrom,
		DateTo:    input.DateTo,
	}).Get(ctx, &answer); err != nil {
		return fail(err)
	}
	result.Answer = answer.Answer
	result.Sources = answer.Sources
	result.References = answer.References
	result.Model, result.Provider, result.Usage = answer.Model, answer.Provider, answer.Usage

	if input.IncludeCompare && len(result.IngestedFilings) >= 2 {
		progress.Stage = StageComparing
		var cmp activities.CompareFilingsOutput
		if err := workflow.ExecuteActivity(ctx, "CompareFilingsActivity", activities.CompareFilingsInput{
			AccessionA: result.IngestedFilings[0].AccessionNumber,
			AccessionB: result.IngestedFilings[1].AccessionNumber,
			FocusTopic: input.Question,
		}).Get(ctx, &cmp); err != nil {
			return fail(err)
		}
		result.Comparison = &cmp.Comparison
	}

	progress.Stage = StageReporting
	var written activities.WriteResearchReportOutput
	if err := workflow.ExecuteActivity(ctx, "WriteResearchReportActivity", activities.WriteResearchReportInput{
		Report: activities.ResearchReport{
			WorkflowID:  workflow.GetInfo(ctx).WorkflowExecution.ID,
			Question:    input.Question,
			GeneratedAt: workflow.Now(ctx),
			Result:      result,
		},
	}).Get(ctx, &written); err != nil {
		return fail(err)
	}
	progress.ReportPath = written.Path
	progress.Stage = StageCompleted
	return written.Path, nil
}
