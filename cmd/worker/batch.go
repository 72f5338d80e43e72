package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/statement-pipeline/internal/jobs"
)

// runBatch publishes one re-enhance job per analysis and polls the store
// until every job is completed or failed. Results follow the order of
// analysisIDs. On cancellation it returns the latest known state of each job.
func runBatch(ctx context.Context, pub jobs.Publisher, store jobs.JobStore, analysisIDs []string, maxRetries int, poll time.Duration) ([]*jobs.ReenhanceJob, error) {
	ids := make([]string, 0, len(analysisIDs))
	for _, analysisID := range analysisIDs {
		job := &jobs.ReenhanceJob{AnalysisID: analysisID, MaxRetries: maxRetries}
		if err := pub.PublishReenhance(ctx, job); err != nil {
			return nil, fmt.Errorf("runBatch: publish %s: %w", analysisID, err)
		}
		ids = append(ids, job.JobID)
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		results, done, err := snapshot(ctx, store, ids)
		if err != nil {
			return nil, fmt.Errorf("runBatch: %w", err)
		}
		if done {
			return results, nil
		}

		select {
		case <-ctx.Done():
			return results, ctx.Err()
		case <-ticker.C:
		}
	}
}

func snapshot(ctx context.Context, store jobs.JobStore, ids []string) ([]*jobs.ReenhanceJob, bool, error) {
	results := make([]*jobs.ReenhanceJob, 0, len(ids))
	done := true
	for _, id := range ids {
		job, err := store.GetJob(ctx, id)
		if err != nil {
			return nil, false, fmt.Errorf("get job %s: %w", id, err)
		}
		if job.Status != jobs.JobStatusCompleted && job.Status != jobs.JobStatusFailed {
			done = false
		}
		results = append(results, job)
	}
	return results, done, nil
}
