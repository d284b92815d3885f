package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"edgarrag/internal/ingest"
	"edgarrag/internal/models"
)

type fakeJobs struct {
	mu        sync.Mutex
	pending   []models.IngestionJob
	completed []string
	failed    map[string]string
	claimErr  error
	claims    int
}

func (f *fakeJobs) ClaimNextPending(ctx context.Context) (*models.IngestionJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claims++
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	if len(f.pending) == 0 {
		return nil, nil
	}
	j := f.pending[0]
	f.pending = f.pending[1:]
	j.Status = models.JobRunning
	j.Attempts++
	return &j, nil
}

func (f *fakeJobs) MarkCompleted(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, id)
	return nil
}

func (f *fakeJobs) MarkFailed(ctx context.Context, id, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failed == nil {
		f.failed = map[string]string{}
	}
	f.failed[id] = msg
	return nil
}

type fakeIngester struct {
	mu   sync.Mutex
	reqs []ingest.Request
	fail map[string]error
}

func (f *fakeIngester) IngestFiling(ctx context.Context, req ingest.Request) (models.Filing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if err := f.fail[req.AccessionNumber]; err != nil {
		return models.Filing{}, err
	}
	return models.Filing{AccessionNumber: req.AccessionNumber, Status: models.FilingIndexed}, nil
}

func TestProcessNextEmptyQueue(t *testing.T) {
	p := NewProcessor(&fakeJobs{}, &fakeIngester{})
	ok, err := p.ProcessNext(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestProcessNextCompletesAndFails(t *testing.T) {
	filed := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	jobs := &fakeJobs{pending: []models.IngestionJob{
		{ID: "j1", CIK: "320193", AccessionNumber: "0000320193-24-000001", FormType: "10-K", FiledDate: &filed},
		{ID: "j2", CIK: "320193", AccessionNumber: "0000320193-24-000002", FormType: "10-Q"},
	}}
	ing := &fakeIngester{fail: map[string]error{"0000320193-24-000002": errors.New("download failed")}}
	p := NewProcessor(jobs, ing)

	ok, err := p.ProcessNext(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []string{"j1"}, jobs.completed)
	require.Equal(t, "2024-02-01", ing.reqs[0].FiledDate)

	ok, err = p.ProcessNext(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "download failed", jobs.failed["j2"])
	require.Empty(t, ing.reqs[1].FiledDate)
}

func TestProcessNextClaimError(t *testing.T) {
	p := NewProcessor(&fakeJobs{claimErr: errors.New("db down")}, &fakeIngester{})
	ok, err := p.ProcessNext(context.Background())
	require.Error(t, err)
	require.False(t, ok)
}

func TestWorkerDrainsThenStopsOnCancel(t *testing.T) {
	jobs := &fakeJobs{pending: []models.IngestionJob{
		{ID: "a", CIK: "1", AccessionNumber: "0000000001-24-000001"},
		{ID: "b", CIK: "1", AccessionNumber: "0000000001-24-000002"},
	}}
	w := &Worker{Processor: NewProcessor(jobs, &fakeIngester{}), PollInterval: 10 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		jobs.mu.Lock()
		defer jobs.mu.Unlock()
		return len(jobs.completed) == 2 && jobs.claims >= 3
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}
