package storage

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"edgarrag/internal/models"
)

// claimTable serves the claim statement against an in-memory pending list,
// handing each row to exactly one caller the way SKIP LOCKED does.
type claimTable struct {
	mu      sync.Mutex
	pending []string
	sqls    []string
	args    [][]any
}

func (c *claimTable) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sqls = append(c.sqls, sql)
	c.args = append(c.args, args)
	if len(c.pending) == 0 {
		return claimRow{err: pgx.ErrNoRows}
	}
	id := c.pending[0]
	c.pending = c.pending[1:]
	return claimRow{id: id, status: args[0].(string)}
}

type claimRow struct {
	id     string
	status string
	err    error
}

func (r claimRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	now := time.Now()
	*dest[0].(*string) = r.id
	*dest[7].(*string) = r.status
	*dest[8].(*int) = 1
	*dest[12].(**time.Time) = &now
	return nil
}

type brokenRows struct{}

func (brokenRows) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return claimRow{err: errors.New("connection reset")}
}

func TestClaimNextPendingClaimsOnce(t *testing.T) {
	table := &claimTable{pending: []string{"job-1"}}
	repo := &JobRepo{claims: table}
	ctx := context.Background()

	first, err := repo.ClaimNextPending(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	require.Equal(t, "job-1", first.ID)
	require.Equal(t, models.JobRunning, first.Status)
	require.Equal(t, 1, first.Attempts)
	require.NotNil(t, first.StartedAt)

	second, err := repo.ClaimNextPending(ctx)
	require.NoError(t, err)
	require.Nil(t, second)

	require.Contains(t, table.sqls[0], "FOR UPDATE SKIP LOCKED")
	require.Contains(t, table.sqls[0], "ORDER BY created_at ASC")
	require.True(t, strings.HasPrefix(strings.TrimSpace(table.sqls[0]), "UPDATE sec_ingestion_jobs"))
	require.Equal(t, []any{models.JobRunning, models.JobPending}, table.args[0])
}

func TestClaimNextPendingConcurrentClaimers(t *testing.T) {
	table := &claimTable{pending: []string{"a", "b", "c"}}
	repo := &JobRepo{claims: table}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		claimed []string
		errs    []error
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j, err := repo.ClaimNextPending(context.Background())
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if j != nil {
				claimed = append(claimed, j.ID)
			}
		}()
	}
	wg.Wait()
	require.Empty(t, errs)
	require.ElementsMatch(t, []string{"a", "b", "c"}, claimed)
}

func TestClaimNextPendingWrapsErrors(t *testing.T) {
	repo := &JobRepo{claims: brokenRows{}}
	_, err := repo.ClaimNextPending(context.Background())
	require.ErrorContains(t, err, "claim next job")
}
