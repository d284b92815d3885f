package activities

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"edgarrag/internal/agent"
	"edgarrag/internal/config"
	"edgarrag/internal/util"

	"github.com/rs/zerolog/log"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
)

type Activities struct {
	cfg      config.Config
	research *agent.Research
	ingester agent.Ingester
	comparer agent.Comparer
}

func New(cfg config.Config, research *agent.Research, ingester agent.Ingester, comparer agent.Comparer) *Activities {
	return &Activities{cfg: cfg, research: research, ingester: ingester, comparer: comparer}
}

func (a *Activities) SearchFilingsActivity(ctx context.Context, in SearchFilingsInput) (SearchFilingsOutput, error) {
	hits, err := a.research.Discover(ctx, agent.ResearchRequest{
		Question:   in.Question,
		FormTypes:  in.FormTypes,
		DateFrom:   in.DateFrom,
		DateTo:     in.DateTo,
		MaxResults: in.MaxResults,
	})
	if err != nil {
		return SearchFilingsOutput{}, fmt.Errorf("search filings: %w", err)
	}
	return SearchFilingsOutput{Hits: hits}, nil
}

func (a *Activities) IngestFilingActivity(ctx context.Context, in IngestFilingInput) (IngestFilingOutput, error) {
	log.Info().Str("accession", in.Hit.AccessionNumber).Int32("attempt", activity.GetInfo(ctx).Attempt).Msg("ingest filing activity")
	f, err := a.ingester.IngestFiling(ctx, agent.HitRequest(in.Hit))
	if err != nil {
		return IngestFilingOutput{}, nonRetryable(err)
	}
	return IngestFilingOutput{Filing: agent.Ingested(f)}, nil
}

func (a *Activities) AnswerQuestionActivity(ctx context.Context, in AnswerQuestionInput) (AnswerQuestionOutput, error) {
	req := agent.ResearchRequest{Question: in.Question, FormTypes: in.FormTypes, DateFrom: in.DateFrom, DateTo: in.DateTo}
	filter, err := agent.ResearchFilter(req)
	if err != nil {
		return AnswerQuestionOutput{}, nonRetryable(err)
	}
	ans, err := a.research.Answer(ctx, req, filter)
	if err != nil {
		return AnswerQuestionOutput{}, fmt.Errorf("answer question: %w", err)
	}
	return AnswerQuestionOutput{
		Answer:     ans.Answer,
		Sources:    ans.Sources,
		References: agent.References(ans.Sources),
		Model:      ans.Model,
		Provider:   ans.Provider,
		Usage:      ans.Usage,
	}, nil
}

func (a *Activities) CompareFilingsActivity(ctx context.Context, in CompareFilingsInput) (CompareFilingsOutput, error) {
	cmp, err := a.comparer.Compare(ctx, agent.CompareRequest{
		AccessionA: in.AccessionA,
		AccessionB: in.AccessionB,
		FocusTopic: in.FocusTopic,
	})
	if err != nil {
		return CompareFilingsOutput{}, fmt.Errorf("compare filings: %w", err)
	}
	return CompareFilingsOutput{Comparison: cmp}, nil
}

func (a *Activities) WriteResearchReportActivity(ctx context.Context, in WriteResearchReportInput) (WriteResearchReportOutput, error) {
	_ = ctx
	path := ReportPath(a.cfg.ReportsDir, in.Report.WorkflowID)
	if err := util.WriteJSONAtomic(path, in.Report); err != nil {
		return WriteResearchReportOutput{}, fmt.Errorf("write research report: %w", err)
	}
	return WriteResearchReportOutput{Path: path}, nil
}

// nonRetryable stops Temporal from retrying input errors.
func nonRetryable(err error) error {
	if errors.Is(err, util.ErrValidation) {
		return temporal.NewNonRetryableApplicationError(err.Error(), "validation", err)
	}
	return err
}

// ReportPath is where the report of a research workflow is written. The id
// is reduced to its base name so it cannot escape dir.
func ReportPath(dir, workflowID string) string {
	return util.SafeJoin(dir, strings.TrimSpace(workflowID)+".json")
}

// ReadReport loads a report written by WriteResearchReportActivity. A
// missing file is reported as util.ErrNotFound.
func ReadReport(dir, workflowID string) (ResearchReport, error) {
	b, err := os.ReadFile(ReportPath(dir, workflowID))
	if os.IsNotExist(err) {
		return ResearchReport{}, fmt.Errorf("%w: report %s", util.ErrNotFound, filepath.Base(workflowID))
	}
	if err != nil {
		return ResearchReport{}, fmt.Errorf("read report: %w", err)
	}
	var out ResearchReport
	if err := json.Unmarshal(b, &out); err != nil {
		return ResearchReport{}, fmt.Errorf("decode report: %w", err)
	}
	return out, nil
}
