package inmemory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/statement-pipeline/internal/jobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SaveGetCopies(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	job := &jobs.ReenhanceJob{JobID: "j1", AnalysisID: "an", Status: jobs.JobStatusPending}
	require.NoError(t, s.SaveJob(ctx, job))
	job.Status = jobs.JobStatusFailed

	got, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusPending, got.Status)

	_, err = s.GetJob(ctx, "missing")
	assert.True(t, errors.Is(err, ErrJobNotFound))

	assert.Error(t, s.SaveJob(ctx, &jobs.ReenhanceJob{}))
}

func TestStore_ListJobs(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	base := time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC)

	for i, tc := range []struct {
		id, analysis string
		status       jobs.JobStatus
	}{
		{"a", "an-1", jobs.JobStatusCompleted},
		{"b", "an-1", jobs.JobStatusFailed},
		{"c", "an-2", jobs.JobStatusCompleted},
	} {
		require.NoError(t, s.SaveJob(ctx, &jobs.ReenhanceJob{
			JobID: tc.id, AnalysisID: tc.analysis, Status: tc.status,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := s.ListJobs(ctx, jobs.JobFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].JobID)

	byAnalysis, err := s.ListJobs(ctx, jobs.JobFilter{AnalysisID: "an-1"})
	require.NoError(t, err)
	assert.Len(t, byAnalysis, 2)

	byStatus, err := s.ListJobs(ctx, jobs.JobFilter{Status: jobs.JobStatusCompleted, Limit: 1})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, "c", byStatus[0].JobID)

	paged, err := s.ListJobs(ctx, jobs.JobFilter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, paged)
}

func TestStore_UpdateJobStatus(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.SaveJob(ctx, &jobs.ReenhanceJob{JobID: "j"}))

	require.NoError(t, s.UpdateJobStatus(ctx, "j", jobs.JobStatusFailed, "boom"))
	got, err := s.GetJob(ctx, "j")
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusFailed, got.Status)
	assert.Equal(t, "boom", got.Error)

	assert.True(t, errors.Is(s.UpdateJobStatus(ctx, "nope", jobs.JobStatusFailed, ""), ErrJobNotFound))
}
