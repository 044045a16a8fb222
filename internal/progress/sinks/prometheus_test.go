package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/inkhorn/webharvest/internal/progress"
)

func TestPrometheusSinkCountsOutcomes(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(registry)
	require.NoError(t, err)

	now := time.Now().UTC()
	batch := []progress.Event{
		{JobID: "job-1", TS: now, Stage: progress.StageJobStart},
		{JobID: "job-1", TS: now, Stage: progress.StageDepthAdvance, Depth: 2},
		{JobID: "job-1", TS: now, Stage: progress.StageFetchDone,
			Domain: "example.com", Outcome: "success", Words: 120, Dur: 80 * time.Millisecond},
		{JobID: "job-1", TS: now, Stage: progress.StageFetchDone,
			Domain: "example.com", Outcome: "failed", Dur: 30 * time.Millisecond},
		{JobID: "job-1", TS: now, Stage: progress.StageJobDone,
			Status: "completed", Dur: 3 * time.Second},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.depthAdvances))
	require.Equal(t, 120.0, testutil.ToFloat64(sink.wordsTotal))
	require.Equal(t, 1.0, testutil.ToFloat64(
		sink.fetchOutcomes.WithLabelValues("example.com", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(
		sink.fetchOutcomes.WithLabelValues("example.com", "failed")))
	require.Equal(t, 1.0, testutil.ToFloat64(
		sink.jobsCompleted.WithLabelValues("completed")))

	require.NoError(t, sink.Close(context.Background()))
}

func TestPrometheusSinkRejectsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	_, err := NewPrometheusSink(registry)
	require.NoError(t, err)
	_, err = NewPrometheusSink(registry)
	require.Error(t, err)
}
