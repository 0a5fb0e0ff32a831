package artifacts

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/bc-dunia/inferbench/internal/aggregator"
	"github.com/bc-dunia/inferbench/internal/types"
)

// InputsFile is the shape of inputs.json (spec.md §6): one entry per
// conversation, carrying every formatted request body sent for it.
type InputsFile struct {
	Data []InputsSession `json:"data"`
}

type InputsSession struct {
	SessionID string            `json:"session_id"`
	Payloads  []json.RawMessage `json:"payloads"`
}

// WriteInputs serializes inputs.json.
func (s *Store) WriteInputs(sessions []InputsSession) error {
	data, err := json.MarshalIndent(InputsFile{Data: sessions}, "", "  ")
	if err != nil {
		return fmt.Errorf("artifacts: marshal inputs.json: %w", err)
	}
	_, err = s.Write("inputs.json", data)
	return err
}

// RecordLine is one line of profile_export.jsonl (spec.md §6:
// "one MetricRecordInfo per line with fields metadata, metrics, error").
type RecordLine struct {
	Metadata RecordMetadata               `json:"metadata"`
	Metrics  map[string]types.MetricValue `json:"metrics"`
	Error    *types.ErrorDetails           `json:"error,omitempty"`
}

type RecordMetadata struct {
	XRequestID     string     `json:"x_request_id"`
	ConversationID string     `json:"conversation_id"`
	TurnIndex      int        `json:"turn_index"`
	Phase          types.Phase `json:"phase"`
	StartNs        int64      `json:"start_ns"`
	EndNs          int64      `json:"end_ns"`
	WasCancelled   bool       `json:"was_cancelled"`
}

// RecordWriter appends RecordLines to profile_export.jsonl as records
// are sealed, rather than buffering the whole run in memory.
type RecordWriter struct {
	f *os.File
}

// OpenRecordWriter opens profile_export.jsonl for append.
func (s *Store) OpenRecordWriter() (*RecordWriter, error) {
	f, err := s.AppendWriter("profile_export.jsonl")
	if err != nil {
		return nil, err
	}
	return &RecordWriter{f: f}, nil
}

// Write appends one sealed record's line.
func (w *RecordWriter) Write(rec *types.RawRequestRecord, dict types.MetricRecordDict) error {
	line := RecordLine{
		Metadata: RecordMetadata{
			XRequestID:     rec.XRequestID,
			ConversationID: rec.ConversationID,
			TurnIndex:      rec.TurnIndex,
			Phase:          rec.Phase,
			StartNs:        rec.StartNs,
			EndNs:          rec.EndNs,
			WasCancelled:   rec.WasCancelled,
		},
		Metrics: dict.Metrics,
		Error:   dict.Error,
	}
	data, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("artifacts: marshal record line: %w", err)
	}
	if _, err := w.f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("artifacts: append record line: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (w *RecordWriter) Close() error {
	return w.f.Close()
}

// RunSummary is the run-configuration portion of
// profile_export_aiperf.json, alongside the aggregator's Report.
type RunSummary struct {
	Model        string `json:"model"`
	EndpointType string `json:"endpoint_type"`
	Concurrency  int    `json:"concurrency,omitempty"`
	RequestRate  float64 `json:"request_rate,omitempty"`
}

type aiperfDocument struct {
	Config RunSummary `json:"config"`

	RequestCount      int                          `json:"request_count"`
	ErrorRequestCount int                          `json:"error_request_count"`
	ErrorsByKind      map[types.ErrorKind]int       `json:"errors_by_kind,omitempty"`

	BenchmarkDurationSeconds float64 `json:"benchmark_duration_seconds"`
	RequestThroughput        float64 `json:"request_throughput"`
	OutputTokenThroughput    float64 `json:"output_token_throughput"`
	Goodput                  float64 `json:"goodput,omitempty"`

	ProfilingStartNs int64 `json:"profiling_start_ns"`
	LastRecordNs     int64 `json:"last_record_ns"`

	Metrics map[string]aggregator.Stat `json:"metrics"`
}

// WriteAIPerfJSON serializes profile_export_aiperf.json: the final
// aggregated statistics plus the run configuration.
func (s *Store) WriteAIPerfJSON(report aggregator.Report, cfg RunSummary) error {
	doc := aiperfDocument{
		Config:                   cfg,
		RequestCount:             report.RequestCount,
		ErrorRequestCount:        report.ErrorRequestCount,
		ErrorsByKind:             report.ErrorsByKind,
		BenchmarkDurationSeconds: report.BenchmarkDurationSeconds,
		RequestThroughput:        report.RequestThroughput,
		OutputTokenThroughput:    report.OutputTokenThroughput,
		Goodput:                  report.Goodput,
		ProfilingStartNs:         report.ProfilingStartNs,
		LastRecordNs:             report.LastRecordNs,
		Metrics:                  report.RecordStats,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("artifacts: marshal profile_export_aiperf.json: %w", err)
	}
	_, err = s.Write("profile_export_aiperf.json", data)
	return err
}

// statRows are the named (stat, accessor) pairs written per metric, in
// a fixed column order.
var statRows = []struct {
	name string
	get  func(aggregator.Stat) float64
}{
	{"count", func(s aggregator.Stat) float64 { return float64(s.Count) }},
	{"min", func(s aggregator.Stat) float64 { return s.Min }},
	{"max", func(s aggregator.Stat) float64 { return s.Max }},
	{"mean", func(s aggregator.Stat) float64 { return s.Mean }},
	{"std", func(s aggregator.Stat) float64 { return s.Std }},
	{"p1", func(s aggregator.Stat) float64 { return s.P1 }},
	{"p5", func(s aggregator.Stat) float64 { return s.P5 }},
	{"p10", func(s aggregator.Stat) float64 { return s.P10 }},
	{"p25", func(s aggregator.Stat) float64 { return s.P25 }},
	{"p50", func(s aggregator.Stat) float64 { return s.P50 }},
	{"p75", func(s aggregator.Stat) float64 { return s.P75 }},
	{"p90", func(s aggregator.Stat) float64 { return s.P90 }},
	{"p95", func(s aggregator.Stat) float64 { return s.P95 }},
	{"p99", func(s aggregator.Stat) float64 { return s.P99 }},
}

// WriteAIPerfCSV serializes profile_export_aiperf.csv: one row per
// (metric, stat).
func (s *Store) WriteAIPerfCSV(report aggregator.Report) error {
	path := s.joinDir("profile_export_aiperf.csv")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("artifacts: create profile_export_aiperf.csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"Metric", "Unit", "Stat", "Value"}); err != nil {
		return err
	}

	metrics := sortedKeys(report.RecordStats)
	for _, metric := range metrics {
		stat := report.RecordStats[metric]
		unit := report.Unit[metric]
		for _, row := range statRows {
			if err := w.Write([]string{metric, unit, row.name, strconv.FormatFloat(row.get(stat), 'f', -1, 64)}); err != nil {
				return err
			}
		}
	}
	w.Flush()
	return w.Error()
}

// WriteTimeslices serializes profile_export_aiperf_timeslices.{csv,json}
// when the run was sliced.
func (s *Store) WriteTimeslices(report aggregator.Report) error {
	if len(report.Slices) == 0 {
		return nil
	}

	jsonData, err := json.MarshalIndent(report.Slices, "", "  ")
	if err != nil {
		return fmt.Errorf("artifacts: marshal timeslices json: %w", err)
	}
	if _, err := s.Write("profile_export_aiperf_timeslices.json", jsonData); err != nil {
		return err
	}

	path := s.joinDir("profile_export_aiperf_timeslices.csv")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("artifacts: create timeslices csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"Timeslice", "Metric", "Unit", "Stat", "Value"}); err != nil {
		return err
	}
	for _, slice := range report.Slices {
		metrics := sortedKeys(slice.Stats)
		for _, metric := range metrics {
			stat := slice.Stats[metric]
			unit := slice.Unit[metric]
			for _, row := range statRows {
				if err := w.Write([]string{
					strconv.Itoa(slice.Index), metric, unit, row.name,
					strconv.FormatFloat(row.get(stat), 'f', -1, 64),
				}); err != nil {
					return err
				}
			}
		}
	}
	w.Flush()
	return w.Error()
}

func (s *Store) joinDir(filename string) string {
	return s.Dir() + string(os.PathSeparator) + filename
}

func sortedKeys(m map[string]aggregator.Stat) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
