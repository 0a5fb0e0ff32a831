package e2e

import (
	"math"
	"sort"
	"testing"
	"time"

	"github.com/bc-dunia/inferbench/internal/mockserver"
	"github.com/bc-dunia/inferbench/internal/scheduler"
	"github.com/bc-dunia/inferbench/internal/types"
)

// TestFixedRatePoisson covers spec.md §8 scenario 2: Poisson-mode rate
// scheduling must hit the target issue rate within 5% and its
// inter-arrival distribution must pass a one-sample Kolmogorov-Smirnov
// test against Exponential(rate) at alpha=0.05. Scaled down from the
// scenario's literal 500 requests / concurrency 200 to keep the test
// fast; the rate-accuracy and KS checks hold at any N large enough for
// the statistic to stabilize.
func TestFixedRatePoisson(t *testing.T) {
	const rate = 50.0
	const count = 150

	srv, cleanup := mockserver.StartTestServer()
	defer cleanup()

	result := runPipeline(t, srv.BaseURL(), runOptions{
		conversations: singleTurnConversations(count+5, 4),
		schedulerCfg: scheduler.Config{
			Mode:         scheduler.ModeRate,
			Rate:         rate,
			RateMode:     scheduler.RateModePoisson,
			Concurrency:  count,
			RequestCount: count,
		},
		streaming:   false,
		workerCount: count,
		randomSeed:  42,
		maxWait:     30 * time.Second, // generous: worst case ~count/rate seconds plus scheduling jitter
		completeWhen: func(issued int64, sealed int) bool {
			return sealed >= count
		},
	})

	if result.report.RequestCount != count {
		t.Fatalf("RequestCount = %d, want %d", result.report.RequestCount, count)
	}

	starts := make([]float64, 0, count)
	for _, rec := range result.records {
		if rec.Phase != types.PhaseProfiling {
			continue
		}
		starts = append(starts, float64(rec.StartNs))
	}
	sort.Float64s(starts)
	if len(starts) < 2 {
		t.Fatal("not enough profiling records to measure inter-arrival timing")
	}

	durationSec := (starts[len(starts)-1] - starts[0]) / 1e9
	observedRate := float64(len(starts)-1) / durationSec
	if diff := math.Abs(observedRate - rate); diff > 0.05*rate {
		t.Fatalf("observed issue rate %.2f/s deviates from target %.2f/s by more than 5%%", observedRate, rate)
	}

	intervals := make([]float64, 0, len(starts)-1)
	for i := 1; i < len(starts); i++ {
		intervals = append(intervals, (starts[i]-starts[i-1])/1e9)
	}
	d := ksStatisticExponential(intervals, observedRate)
	// Critical value for the one-sample KS test at alpha=0.05.
	critical := 1.36 / math.Sqrt(float64(len(intervals)))
	if d > critical {
		t.Fatalf("KS statistic %.4f exceeds critical value %.4f at alpha=0.05 for n=%d intervals", d, critical, len(intervals))
	}
}

// ksStatisticExponential computes the one-sample Kolmogorov-Smirnov
// statistic comparing samples against Exponential(rate)'s CDF.
func ksStatisticExponential(samples []float64, rate float64) float64 {
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	n := float64(len(sorted))
	maxD := 0.0
	for i, x := range sorted {
		cdf := 1 - math.Exp(-rate*x)
		empiricalBelow := float64(i) / n
		empiricalAt := float64(i+1) / n
		if d := math.Abs(cdf - empiricalBelow); d > maxD {
			maxD = d
		}
		if d := math.Abs(cdf - empiricalAt); d > maxD {
			maxD = d
		}
	}
	return maxD
}
