package e2e

import (
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/bc-dunia/inferbench/internal/dataset"
	"github.com/bc-dunia/inferbench/internal/mockserver"
	"github.com/bc-dunia/inferbench/internal/scheduler"
)

// TestFixedScheduleTraceReplay covers spec.md §8 scenario 3: a 3-line
// mooncake_trace dataset at timestamps 0/1000/2000ms replayed with
// --fixed-schedule-auto-offset must issue its three credits at
// t≈0/1000/2000ms (+/-20ms) and never issue anything beyond the trace.
func TestFixedScheduleTraceReplay(t *testing.T) {
	trace := strings.Join([]string{
		`{"timestamp":0,"input_length":10,"text_input":"first"}`,
		`{"timestamp":1000,"input_length":10,"text_input":"second"}`,
		`{"timestamp":2000,"input_length":10,"text_input":"third"}`,
	}, "\n")

	conversations, err := dataset.LoadJSONL(strings.NewReader(trace), dataset.FormatMooncakeTrace)
	if err != nil {
		t.Fatalf("loading mooncake trace: %v", err)
	}
	if len(conversations) != 3 {
		t.Fatalf("loaded %d conversations, want 3", len(conversations))
	}

	srv, cleanup := mockserver.StartTestServer()
	defer cleanup()

	result := runPipeline(t, srv.BaseURL(), runOptions{
		conversations: conversations,
		schedulerCfg: scheduler.Config{
			Mode:                    scheduler.ModeFixedSchedule,
			FixedScheduleAutoOffset: true,
		},
		streaming:   false,
		workerCount: 3,
		randomSeed:  7,
		maxWait:     10 * time.Second,
		completeWhen: func(issued int64, sealed int) bool {
			return sealed >= 3
		},
	})

	if len(result.records) != 3 {
		t.Fatalf("got %d records, want exactly 3 (trace has no entries beyond the last timestamp)", len(result.records))
	}

	starts := make([]int64, len(result.records))
	for i, rec := range result.records {
		starts[i] = rec.StartNs
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

	base := starts[0]
	wantOffsetsMs := []int64{0, 1000, 2000}
	const toleranceMs = 20
	for i, want := range wantOffsetsMs {
		gotMs := (starts[i] - base) / int64(time.Millisecond)
		if diff := gotMs - want; diff < -toleranceMs || diff > toleranceMs {
			t.Fatalf("record %d fired at offset %dms, want %dms +/- %dms", i, gotMs, want, toleranceMs)
		}
	}
}
