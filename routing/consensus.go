package routing

import (
	"math"
	"sort"
)

// Aggregator reconciles multiple independent backend results into a single
// result with an agreement measure. Aggregation is order-independent: the
// same multiset of results produces the same output regardless of arrival
// order, which keeps concurrent fan-out deterministic.
type Aggregator struct {
	// outlierK is the number of standard deviations from the median beyond
	// which a result is dropped before averaging.
	outlierK float64

	// halfSpan is half the valid score range, used to normalize the
	// agreement score.
	halfSpan float64
}

// NewAggregator returns an Aggregator. outlierK defaults to 1.5; scoreMin
// and scoreMax bound the valid score range.
func NewAggregator(outlierK, scoreMin, scoreMax float64) *Aggregator {
	if outlierK <= 0 {
		outlierK = 1.5
	}
	halfSpan := (scoreMax - scoreMin) / 2
	if halfSpan <= 0 {
		halfSpan = 1.0
	}
	return &Aggregator{outlierK: outlierK, halfSpan: halfSpan}
}

// Aggregate reconciles results into a partial AnalysisResult (routing
// metadata is the caller's to fill in). With fewer than two results no
// consensus is computed: a single result passes through unchanged with a nil
// AgreementScore, which is not a failure.
func (a *Aggregator) Aggregate(results []RawResult) AnalysisResult {
	if len(results) == 0 {
		return AnalysisResult{}
	}

	// Canonical order makes every downstream step independent of arrival
	// order, including weighted sums over floats.
	sorted := make([]RawResult, len(results))
	copy(sorted, results)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score < sorted[j].Score
		}
		if sorted[i].BackendID != sorted[j].BackendID {
			return sorted[i].BackendID < sorted[j].BackendID
		}
		return sorted[i].Label < sorted[j].Label
	})

	if len(sorted) == 1 {
		r := sorted[0]
		return AnalysisResult{
			Label:          r.Label,
			Score:          r.Score,
			Confidence:     effectiveConfidence(r),
			SourceBackends: []string{r.BackendID},
		}
	}

	med := median(sorted)
	sd := stddev(sorted, mean(sorted))

	// Drop outliers more than k standard deviations from the median. The
	// filter can never empty the set: if nothing survives it is skipped.
	survivors := sorted
	if sd > 0 {
		kept := make([]RawResult, 0, len(sorted))
		for _, r := range sorted {
			if math.Abs(r.Score-med) <= a.outlierK*sd {
				kept = append(kept, r)
			}
		}
		if len(kept) > 0 {
			survivors = kept
		}
	}

	// Confidence-weighted mean of the surviving scores.
	var weightedSum, weightSum, confSum float64
	for _, r := range survivors {
		w := effectiveConfidence(r)
		weightedSum += w * r.Score
		weightSum += w
		confSum += w
	}
	if weightSum == 0 {
		weightSum = float64(len(survivors))
		for _, r := range survivors {
			weightedSum += r.Score
		}
	}
	finalScore := weightedSum / weightSum

	agreement := clamp01(1 - stddev(survivors, mean(survivors))/a.halfSpan)

	backends := make([]string, 0, len(survivors))
	for _, r := range survivors {
		backends = append(backends, r.BackendID)
	}
	sort.Strings(backends)

	return AnalysisResult{
		Label:          a.majorityLabel(survivors),
		Score:          finalScore,
		Confidence:     confSum / float64(len(survivors)),
		AgreementScore: &agreement,
		SourceBackends: backends,
	}
}

// majorityLabel returns the most common label among results. A tie goes to
// the label carried by the highest-confidence result; a remaining tie goes
// to the lexicographically smaller label.
func (a *Aggregator) majorityLabel(results []RawResult) string {
	counts := make(map[string]int)
	topConf := make(map[string]float64)
	for _, r := range results {
		counts[r.Label]++
		if c := effectiveConfidence(r); c > topConf[r.Label] {
			topConf[r.Label] = c
		}
	}

	labels := make([]string, 0, len(counts))
	for l := range counts {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	best := ""
	for _, l := range labels {
		if best == "" {
			best = l
			continue
		}
		switch {
		case counts[l] > counts[best]:
			best = l
		case counts[l] == counts[best] && topConf[l] > topConf[best]:
			best = l
		}
	}
	return best
}

func mean(results []RawResult) float64 {
	var sum float64
	for _, r := range results {
		sum += r.Score
	}
	return sum / float64(len(results))
}

func median(sorted []RawResult) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2].Score
	}
	return (sorted[n/2-1].Score + sorted[n/2].Score) / 2
}

func stddev(results []RawResult, mu float64) float64 {
	if len(results) < 2 {
		return 0
	}
	var sum float64
	for _, r := range results {
		d := r.Score - mu
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(results)))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
