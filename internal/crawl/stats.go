package crawl

import "time"

// ComputeStatistics derives the aggregate view of a job from its snapshots.
// Usable snapshots (success and fallback) contribute content metrics; the
// success rate is scraped over total URLs, so skips and policy rejections
// count against it.
func ComputeStatistics(job Job, snaps []ContentSnapshot) Statistics {
	stats := Statistics{
		ContentByLanguage: make(map[string]int),
	}

	var (
		usable     int
		totalFetch time.Duration
		fetched    int
	)
	for _, snap := range snaps {
		if snap.Outcome == OutcomeSkipped {
			continue
		}
		if snap.FetchDuration > 0 {
			totalFetch += snap.FetchDuration
			fetched++
		}
		if !snap.Outcome.Usable() {
			continue
		}
		usable++
		stats.TotalWords += snap.WordCount
		lang := snap.Language
		if lang == "" {
			lang = "und"
		}
		stats.ContentByLanguage[lang]++
	}

	if job.Counters.Total > 0 {
		stats.SuccessRate = float64(job.Counters.Scraped) / float64(job.Counters.Total)
	}
	if fetched > 0 {
		stats.AverageFetchTime = totalFetch / time.Duration(fetched)
	}
	if usable > 0 {
		stats.AverageWordsPerPage = float64(stats.TotalWords) / float64(usable)
	}
	return stats
}
