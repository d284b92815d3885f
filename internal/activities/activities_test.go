package activities

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"edgarrag/internal/agent"
	"edgarrag/internal/config"
	"edgarrag/internal/edgar"
	"edgarrag/internal/ingest"
	"edgarrag/internal/models"
	"edgarrag/internal/util"
)

type stubIngester struct {
	err error
}

func (s stubIngester) IngestFiling(_ context.Context, req ingest.Request) (models.Filing, error) {
	if s.err != nil {
		return models.Filing{}, s.err
	}
	filed := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	return models.Filing{AccessionNumber: req.AccessionNumber, FormType: req.FormType, FiledDate: &filed, DocumentID: "doc-1"}, nil
}

func TestReportRoundTrip(t *testing.T) {
	dir := t.TempDir()
	a := New(config.Config{ReportsDir: dir}, nil, nil, nil)
	out, err := a.WriteResearchReportActivity(context.Background(), WriteResearchReportInput{Report: ResearchReport{
		WorkflowID: "research-1",
		Question:   "supply chain",
		Result:     agent.ResearchResult{Answer: "done"},
	}})
	require.NoError(t, err)
	require.Equal(t, ReportPath(dir, "research-1"), out.Path)

	got, err := ReadReport(dir, "research-1")
	require.NoError(t, err)
	require.Equal(t, "done", got.Result.Answer)

	_, err = ReadReport(dir, "research-2")
	require.ErrorIs(t, err, util.ErrNotFound)
	require.Equal(t, filepath.Join(dir, "x.json"), ReportPath(dir, "../x"))
}

func TestIngestFilingActivity(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	hit := edgar.SearchHit{CIK: "0000320193", AccessionNumber: "0000320193-24-000001", FormType: "10-K", FiledDate: "2024-02-01"}

	env := ts.NewTestActivityEnvironment()
	a := New(config.Config{}, nil, stubIngester{}, nil)
	env.RegisterActivity(a.IngestFilingActivity)
	val, err := env.ExecuteActivity(a.IngestFilingActivity, IngestFilingInput{Hit: hit})
	require.NoError(t, err)
	var out IngestFilingOutput
	require.NoError(t, val.Get(&out))
	require.Equal(t, "doc-1", out.Filing.DocumentID)
	require.Equal(t, "2024-02-01", out.Filing.FiledDate)

	env = ts.NewTestActivityEnvironment()
	bad := New(config.Config{}, nil, stubIngester{err: fmt.Errorf("%w: invalid accession", util.ErrValidation)}, nil)
	env.RegisterActivity(bad.IngestFilingActivity)
	_, err = env.ExecuteActivity(bad.IngestFilingActivity, IngestFilingInput{Hit: hit})
	require.Error(t, err)
	var appErr *temporal.ApplicationError
	require.True(t, errors.As(err, &appErr))
	require.True(t, appErr.NonRetryable())
}
