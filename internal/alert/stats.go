package alert

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"
)

// SummarizeRTT computes count, mean, sample standard deviation and the 95th
// percentile of samples (milliseconds).
func SummarizeRTT(samples []float64) RTTSummary {
	if len(samples) == 0 {
		return RTTSummary{}
	}

	sorted := slices.Clone(samples)
	slices.Sort(sorted)

	mean, std := stat.MeanStdDev(sorted, nil)
	if len(sorted) < 2 || math.IsNaN(std) {
		std = 0
	}
	p95 := stat.Quantile(0.95, stat.Empirical, sorted, nil)

	return RTTSummary{
		Count:    len(sorted),
		MeanMs:   round(mean, 3),
		StddevMs: round(std, 3),
		P95Ms:    round(p95, 3),
	}
}
