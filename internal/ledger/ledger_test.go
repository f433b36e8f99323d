package ledger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"resumetailor/internal/types"
)

func newTestLedger(t *testing.T, inputRate, outputRate float64) *Ledger {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "token_usage.csv"), inputRate, outputRate)
}

func TestCostFormula(t *testing.T) {
	tests := []struct {
		name              string
		inputRate         float64
		outputRate        float64
		prompt, completion int64
		want              float64
	}{
		{"exactly one million prompt tokens", 15.0, 60.0, 1_000_000, 0, 15.0},
		{"exactly one million completion tokens", 15.0, 60.0, 0, 1_000_000, 60.0},
		{"zero tokens", 15.0, 60.0, 0, 0, 0},
		{"mixed", 3.0, 15.0, 500_000, 200_000, 1.5 + 3.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestLedger(t, tt.inputRate, tt.outputRate)
			if got := l.Cost(tt.prompt, tt.completion); got != tt.want {
				t.Errorf("Cost(%d, %d) = %v, want %v", tt.prompt, tt.completion, got, tt.want)
			}
		})
	}
}

func TestRecordWritesHeaderOnce(t *testing.T) {
	l := newTestLedger(t, 3.0, 15.0)

	for i := 0; i < 3; i++ {
		_, err := l.Record(types.UsageEvent{
			Operation:        types.OperationAnalysis,
			JobLabel:         "Backend Engineer",
			PromptTokens:     1000,
			CompletionTokens: 200,
		})
		if err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	data, err := os.ReadFile(l.Path())
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	content := string(data)
	if got := strings.Count(content, "timestamp,operation"); got != 1 {
		t.Errorf("header written %d times, want 1", got)
	}
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	if len(lines) != 4 {
		t.Errorf("ledger has %d lines, want 4 (header + 3 rows)", len(lines))
	}
}

func TestRecordFillsDerivedFields(t *testing.T) {
	l := newTestLedger(t, 3.0, 15.0)

	event, err := l.Record(types.UsageEvent{
		Operation:        types.OperationCustomization,
		JobLabel:         "SRE",
		PromptTokens:     2000,
		CompletionTokens: 500,
	})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	if event.TotalTokens != 2500 {
		t.Errorf("TotalTokens = %d, want 2500", event.TotalTokens)
	}
	if event.Timestamp.IsZero() {
		t.Error("Timestamp not stamped")
	}
	want := l.Cost(2000, 500)
	if event.CostUSD != want {
		t.Errorf("CostUSD = %v, want %v", event.CostUSD, want)
	}
}

func TestEventsRoundTrip(t *testing.T) {
	l := newTestLedger(t, 3.0, 15.0)

	recorded, err := l.Record(types.UsageEvent{
		Operation:        types.OperationAnalysis,
		JobLabel:         "Staff Engineer, Platform",
		PromptTokens:     1234,
		CompletionTokens: 567,
	})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	events, err := l.Events()
	if err != nil {
		t.Fatalf("Events() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Events() returned %d events, want 1", len(events))
	}

	got := events[0]
	if got.Operation != types.OperationAnalysis ||
		got.JobLabel != recorded.JobLabel ||
		got.PromptTokens != 1234 ||
		got.CompletionTokens != 567 ||
		got.TotalTokens != 1801 {
		t.Errorf("round-tripped event = %+v, want %+v", got, recorded)
	}
}

func TestEventsMissingFile(t *testing.T) {
	l := newTestLedger(t, 3.0, 15.0)
	events, err := l.Events()
	if err != nil {
		t.Fatalf("Events() error = %v", err)
	}
	if len(events) != 0 {
		t.Errorf("Events() returned %d events for absent file, want 0", len(events))
	}
}

func TestSummarizeSplitsByOperation(t *testing.T) {
	l := newTestLedger(t, 3.0, 15.0)

	calls := []types.UsageEvent{
		{Operation: types.OperationAnalysis, JobLabel: "A", PromptTokens: 1000, CompletionTokens: 100},
		{Operation: types.OperationCustomization, JobLabel: "A", PromptTokens: 2000, CompletionTokens: 400},
		{Operation: types.OperationAnalysis, JobLabel: "B", PromptTokens: 500, CompletionTokens: 50},
	}
	var wantCost float64
	for _, c := range calls {
		event, err := l.Record(c)
		if err != nil {
			t.Fatalf("Record() error = %v", err)
		}
		wantCost += event.CostUSD
	}

	summary, err := l.Summarize()
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}

	if summary.AnalysisPromptTokens != 1500 || summary.AnalysisCompletionTokens != 150 {
		t.Errorf("analysis totals = %d/%d, want 1500/150",
			summary.AnalysisPromptTokens, summary.AnalysisCompletionTokens)
	}
	if summary.CustomizePromptTokens != 2000 || summary.CustomizeCompletionTokens != 400 {
		t.Errorf("customize totals = %d/%d, want 2000/400",
			summary.CustomizePromptTokens, summary.CustomizeCompletionTokens)
	}
	if diff := summary.EstimatedCostUSD - wantCost; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("EstimatedCostUSD = %v, want %v", summary.EstimatedCostUSD, wantCost)
	}
}

func TestLabelWithCommaSurvivesCSV(t *testing.T) {
	l := newTestLedger(t, 3.0, 15.0)

	if _, err := l.Record(types.UsageEvent{
		Operation:        types.OperationAnalysis,
		JobLabel:         "Engineer, Payments \"Core\"",
		PromptTokens:     10,
		CompletionTokens: 5,
	}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	events, err := l.Events()
	if err != nil {
		t.Fatalf("Events() error = %v", err)
	}
	if events[0].JobLabel != "Engineer, Payments \"Core\"" {
		t.Errorf("JobLabel = %q, quoting not preserved", events[0].JobLabel)
	}
}
