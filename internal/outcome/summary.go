package outcome

import (
	"cmp"
	"slices"
	"time"
)

// LatencyStats describes the latency of successful calls.
type LatencyStats struct {
	Count  int           `json:"count"`
	Mean   time.Duration `json:"mean_ns"`
	Median time.Duration `json:"median_ns"`
	Min    time.Duration `json:"min_ns"`
	Max    time.Duration `json:"max_ns"`
	P95    time.Duration `json:"p95_ns"`
}

// EndpointSummary aggregates one endpoint.
type EndpointSummary struct {
	Endpoint    string       `json:"endpoint"`
	Total       int          `json:"total"`
	Succeeded   int          `json:"succeeded"`
	SuccessRate float64      `json:"success_rate"`
	Latency     LatencyStats `json:"latency"`
}

// FailureGroup counts failures sharing an endpoint and status.
type FailureGroup struct {
	Endpoint string `json:"endpoint"`
	Status   int    `json:"status"`
	Count    int    `json:"count"`
}

// VerificationSummary aggregates ownership checks.
type VerificationSummary struct {
	Total          int64   `json:"total"`
	Correct        int64   `json:"correct"`
	Incorrect      int64   `json:"incorrect"`
	Undeterminable int64   `json:"undeterminable"`
	Accuracy       float64 `json:"accuracy"`
}

// CompetitionSummary describes contention for resources.
type CompetitionSummary struct {
	HoldAttempts       int64   `json:"hold_attempts"`
	HoldSuccesses      int64   `json:"hold_successes"`
	HoldSuccessRate    float64 `json:"hold_success_rate"`
	ConfirmAttempts    int64   `json:"confirm_attempts"`
	ConfirmSuccesses   int64   `json:"confirm_successes"`
	ConfirmSuccessRate float64 `json:"confirm_success_rate"`
	OwnershipVerified  int64   `json:"ownership_verified"`
}

// Summary is the aggregate view of a run.
type Summary struct {
	// NoData is set when there were no outcomes to aggregate.
	NoData bool `json:"no_data"`

	Total       int     `json:"total"`
	Succeeded   int     `json:"succeeded"`
	Failed      int     `json:"failed"`
	SuccessRate float64 `json:"success_rate"`

	Latency      LatencyStats        `json:"latency"`
	Endpoints    []EndpointSummary   `json:"endpoints"`
	Failures     []FailureGroup      `json:"failures"`
	Verification VerificationSummary `json:"verification"`
	Competition  CompetitionSummary  `json:"competition"`
}

// Summarize folds outcomes and tally counts into a Summary. It never
// divides by zero: every rate over an empty population is 0.
func Summarize(outcomes []Outcome, counts Counts) Summary {
	s := Summary{
		NoData:    len(outcomes) == 0,
		Total:     len(outcomes),
		Endpoints: []EndpointSummary{},
		Failures:  []FailureGroup{},
	}

	type endpointAcc struct {
		total     int
		succeeded int
		latencies []time.Duration
	}
	byEndpoint := make(map[string]*endpointAcc)
	failures := make(map[FailureGroup]int)
	var latencies []time.Duration

	for _, o := range outcomes {
		acc, ok := byEndpoint[o.Endpoint]
		if !ok {
			acc = &endpointAcc{}
			byEndpoint[o.Endpoint] = acc
		}
		acc.total++

		if o.Success {
			s.Succeeded++
			acc.succeeded++
			acc.latencies = append(acc.latencies, o.Latency)
			latencies = append(latencies, o.Latency)
			continue
		}
		failures[FailureGroup{Endpoint: o.Endpoint, Status: o.StatusCode}]++
	}

	s.Failed = s.Total - s.Succeeded
	s.SuccessRate = rate(int64(s.Succeeded), int64(s.Total))
	s.Latency = latencyStats(latencies)

	for endpoint, acc := range byEndpoint {
		s.Endpoints = append(s.Endpoints, EndpointSummary{
			Endpoint:    endpoint,
			Total:       acc.total,
			Succeeded:   acc.succeeded,
			SuccessRate: rate(int64(acc.succeeded), int64(acc.total)),
			Latency:     latencyStats(acc.latencies),
		})
	}
	slices.SortFunc(s.Endpoints, func(a, b EndpointSummary) int {
		return cmp.Compare(a.Endpoint, b.Endpoint)
	})

	for group, n := range failures {
		group.Count = n
		s.Failures = append(s.Failures, group)
	}
	slices.SortFunc(s.Failures, func(a, b FailureGroup) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Endpoint, b.Endpoint); c != 0 {
			return c
		}
		return cmp.Compare(a.Status, b.Status)
	})

	verified := counts.VerifyCorrect + counts.VerifyIncorrect + counts.VerifyUndeterminable
	s.Verification = VerificationSummary{
		Total:          verified,
		Correct:        counts.VerifyCorrect,
		Incorrect:      counts.VerifyIncorrect,
		Undeterminable: counts.VerifyUndeterminable,
		Accuracy:       rate(counts.VerifyCorrect, verified),
	}
	s.Competition = CompetitionSummary{
		HoldAttempts:       counts.HoldAttempts,
		HoldSuccesses:      counts.HoldSuccesses,
		HoldSuccessRate:    rate(counts.HoldSuccesses, counts.HoldAttempts),
		ConfirmAttempts:    counts.ConfirmAttempts,
		ConfirmSuccesses:   counts.ConfirmSuccesses,
		ConfirmSuccessRate: rate(counts.ConfirmSuccesses, counts.ConfirmAttempts),
		OwnershipVerified:  counts.OwnershipVerified,
	}
	return s
}

// latencyStats computes the distribution of ds. p95 is the element at
// index floor(n*0.95) of the sorted sample.
func latencyStats(ds []time.Duration) LatencyStats {
	n := len(ds)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := slices.Clone(ds)
	slices.Sort(sorted)

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	median := sorted[n/2]
	if n%2 == 0 {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}

	return LatencyStats{
		Count:  n,
		Mean:   sum / time.Duration(n),
		Median: median,
		Min:    sorted[0],
		Max:    sorted[n-1],
		P95:    sorted[int(float64(n)*0.95)],
	}
}

func rate(part, whole int64) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole)
}
