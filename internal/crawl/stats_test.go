package crawl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestComputeStatistics(t *testing.T) {
	t.Parallel()

	snaps := []ContentSnapshot{
		{Outcome: OutcomeSuccess, Language: "eng", WordCount: 100, FetchDuration: 40 * time.Millisecond},
		{Outcome: OutcomeSuccess, Language: "spa", WordCount: 200, FetchDuration: 80 * time.Millisecond},
		{Outcome: OutcomeSuccessFallback, Language: "", WordCount: 30},
		{Outcome: OutcomeFailed, FetchDuration: 120 * time.Millisecond},
		{Outcome: OutcomeSkipped},
	}

	job := Job{ID: "job-1", Counters: Counters{Total: 5, Scraped: 3, Failed: 1, Skipped: 1}}
	stats := ComputeStatistics(job, snaps)

	// scraped / total_urls, so the skip counts against the rate.
	require.InDelta(t, 0.6, stats.SuccessRate, 1e-9)

	// Average over the three snapshots that actually timed a fetch.
	require.Equal(t, 80*time.Millisecond, stats.AverageFetchTime)

	require.Equal(t, 330, stats.TotalWords)
	require.InDelta(t, 110.0, stats.AverageWordsPerPage, 1e-9)

	require.Equal(t, map[string]int{"eng": 1, "spa": 1, "und": 1}, stats.ContentByLanguage)
}

func TestComputeStatisticsNoSnaps(t *testing.T) {
	t.Parallel()

	stats := ComputeStatistics(Job{ID: "job-1"}, nil)
	require.Zero(t, stats.SuccessRate)
	require.Zero(t, stats.AverageFetchTime)
	require.Zero(t, stats.TotalWords)
	require.Zero(t, stats.AverageWordsPerPage)
	require.Empty(t, stats.ContentByLanguage)
}

func TestComputeStatisticsAllSkipped(t *testing.T) {
	t.Parallel()

	snaps := []ContentSnapshot{
		{Outcome: OutcomeSkipped},
		{Outcome: OutcomeSkipped},
	}
	job := Job{ID: "job-1", Counters: Counters{Total: 2, Skipped: 2}}
	stats := ComputeStatistics(job, snaps)
	require.Zero(t, stats.SuccessRate)
	require.Empty(t, stats.ContentByLanguage)
}

func TestComputeStatisticsRateCountsPolicyRejections(t *testing.T) {
	t.Parallel()

	// Policy and dedup rejections bump Skipped without writing snapshots,
	// so the rate must come from the counters, not the snapshot rows.
	snaps := []ContentSnapshot{
		{Outcome: OutcomeSuccess, Language: "eng", WordCount: 50},
		{Outcome: OutcomeFailed},
	}
	job := Job{ID: "job-1", Counters: Counters{Total: 4, Scraped: 1, Failed: 1, Skipped: 2}}
	stats := ComputeStatistics(job, snaps)
	require.InDelta(t, 0.25, stats.SuccessRate, 1e-9)
}

func TestComputeStatisticsOnlyFailures(t *testing.T) {
	t.Parallel()

	snaps := []ContentSnapshot{
		{Outcome: OutcomeFailed, FetchDuration: 10 * time.Millisecond},
	}
	job := Job{ID: "job-1", Counters: Counters{Total: 1, Failed: 1}}
	stats := ComputeStatistics(job, snaps)
	require.Zero(t, stats.SuccessRate)
	require.Equal(t, 10*time.Millisecond, stats.AverageFetchTime)
	require.Zero(t, stats.AverageWordsPerPage)
}
