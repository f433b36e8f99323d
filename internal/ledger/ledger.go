// Package ledger keeps an append-only CSV account of completion-service
// token usage. Rows are never rewritten; cost is computed at record time
// from the configured per-million-token rates.
package ledger

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	rterrors "resumetailor/internal/errors"
	"resumetailor/internal/types"
)

var csvHeader = []string{
	"timestamp",
	"operation",
	"job_label",
	"prompt_tokens",
	"completion_tokens",
	"total_tokens",
	"cost_usd",
}

// Ledger appends usage events to a CSV file and computes cost estimates.
// Rates are USD per million tokens.
type Ledger struct {
	mu         sync.Mutex
	path       string
	inputRate  float64
	outputRate float64
}

// New creates a Ledger backed by the given CSV path.
func New(path string, inputRate, outputRate float64) *Ledger {
	return &Ledger{
		path:       path,
		inputRate:  inputRate,
		outputRate: outputRate,
	}
}

// Path returns the backing file path.
func (l *Ledger) Path() string {
	return l.path
}

// Cost estimates the USD cost of a single call.
func (l *Ledger) Cost(promptTokens, completionTokens int64) float64 {
	return float64(promptTokens)/1_000_000*l.inputRate +
		float64(completionTokens)/1_000_000*l.outputRate
}

// Record appends one usage event. The header row is written exactly once,
// when the file is first created. The event's CostUSD and TotalTokens are
// filled in if zero.
func (l *Ledger) Record(event types.UsageEvent) (types.UsageEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.TotalTokens == 0 {
		event.TotalTokens = event.PromptTokens + event.CompletionTokens
	}
	if event.CostUSD == 0 {
		event.CostUSD = l.Cost(event.PromptTokens, event.CompletionTokens)
	}

	if dir := filepath.Dir(l.path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return event, rterrors.NewStoreError(rterrors.ErrCodeStoreFailure,
				"Failed to create ledger directory", err)
		}
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return event, rterrors.NewStoreError(rterrors.ErrCodeStoreFailure,
			"Failed to open usage ledger", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return event, rterrors.NewStoreError(rterrors.ErrCodeStoreFailure,
			"Failed to stat usage ledger", err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(csvHeader); err != nil {
			return event, rterrors.NewStoreError(rterrors.ErrCodeStoreFailure,
				"Failed to write ledger header", err)
		}
	}

	row := []string{
		event.Timestamp.Format(time.RFC3339),
		string(event.Operation),
		event.JobLabel,
		strconv.FormatInt(event.PromptTokens, 10),
		strconv.FormatInt(event.CompletionTokens, 10),
		strconv.FormatInt(event.TotalTokens, 10),
		strconv.FormatFloat(event.CostUSD, 'f', 6, 64),
	}
	if err := w.Write(row); err != nil {
		return event, rterrors.NewStoreError(rterrors.ErrCodeStoreFailure,
			"Failed to append ledger row", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return event, rterrors.NewStoreError(rterrors.ErrCodeStoreFailure,
			"Failed to flush usage ledger", err)
	}
	if err := f.Sync(); err != nil {
		return event, rterrors.NewStoreError(rterrors.ErrCodeStoreFailure,
			"Failed to sync usage ledger", err)
	}

	return event, nil
}

// Events reads back every recorded event in append order.
func (l *Ledger) Events() ([]types.UsageEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, rterrors.NewStoreError(rterrors.ErrCodeStoreFailure,
			"Failed to open usage ledger", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(csvHeader)

	var events []types.UsageEvent
	first := true
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, rterrors.NewStoreError(rterrors.ErrCodeStoreFailure,
				"Usage ledger is corrupt", err)
		}
		if first {
			first = false
			if row[0] == csvHeader[0] {
				continue
			}
		}

		event, err := parseRow(row)
		if err != nil {
			return nil, rterrors.NewStoreError(rterrors.ErrCodeStoreFailure,
				"Usage ledger row is corrupt", err)
		}
		events = append(events, event)
	}

	return events, nil
}

// Summarize folds all recorded events into per-operation totals.
func (l *Ledger) Summarize() (types.UsageSummary, error) {
	events, err := l.Events()
	if err != nil {
		return types.UsageSummary{}, err
	}

	var summary types.UsageSummary
	for _, e := range events {
		switch e.Operation {
		case types.OperationAnalysis:
			summary.AnalysisPromptTokens += e.PromptTokens
			summary.AnalysisCompletionTokens += e.CompletionTokens
		case types.OperationCustomization:
			summary.CustomizePromptTokens += e.PromptTokens
			summary.CustomizeCompletionTokens += e.CompletionTokens
		}
		summary.EstimatedCostUSD += e.CostUSD
	}

	return summary, nil
}

func parseRow(row []string) (types.UsageEvent, error) {
	ts, err := time.Parse(time.RFC3339, row[0])
	if err != nil {
		return types.UsageEvent{}, fmt.Errorf("bad timestamp %q: %w", row[0], err)
	}
	prompt, err := strconv.ParseInt(row[3], 10, 64)
	if err != nil {
		return types.UsageEvent{}, fmt.Errorf("bad prompt token count %q: %w", row[3], err)
	}
	completion, err := strconv.ParseInt(row[4], 10, 64)
	if err != nil {
		return types.UsageEvent{}, fmt.Errorf("bad completion token count %q: %w", row[4], err)
	}
	total, err := strconv.ParseInt(row[5], 10, 64)
	if err != nil {
		return types.UsageEvent{}, fmt.Errorf("bad total token count %q: %w", row[5], err)
	}
	cost, err := strconv.ParseFloat(row[6], 64)
	if err != nil {
		return types.UsageEvent{}, fmt.Errorf("bad cost %q: %w", row[6], err)
	}

	return types.UsageEvent{
		Timestamp:        ts,
		Operation:        types.UsageOperation(row[1]),
		JobLabel:         row[2],
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      total,
		CostUSD:          cost,
	}, nil
}
