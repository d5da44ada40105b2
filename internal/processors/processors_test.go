package processors_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"tally/internal/batch"
	"tally/internal/processors"
)

func records(n int) []any {
	items := make([]any, n)
	for i := range items {
		items[i] = processors.Record{
			ID: string(rune('a' + i)),
			Fields: map[string]any{
				"respondent": i,
				"answer":     "yes",
			},
		}
	}
	return items
}

func TestValidatorAcceptsCompleteRecords(t *testing.T) {
	v := processors.NewValidator("respondent", "answer")
	out, err := v.Process(context.Background(), records(3), batch.ProcessorContext{})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("len(out) = %d, want 3", len(out))
	}
}

func TestValidatorRejectsMissingField(t *testing.T) {
	v := processors.NewValidator("answer")
	items := []any{
		processors.Record{ID: "ok", Fields: map[string]any{"answer": "yes"}},
		processors.Record{ID: "bad", Fields: map[string]any{"answer": ""}},
	}
	_, err := v.Process(context.Background(), items, batch.ProcessorContext{})
	if err == nil {
		t.Fatal("Process accepted a record with an empty required field")
	}
	if !strings.Contains(err.Error(), "bad") {
		t.Errorf("error = %q, want mention of record id", err)
	}
}

func TestValidatorSupportsRecordsOnly(t *testing.T) {
	v := processors.NewValidator()
	if !v.Supports(processors.Record{}) {
		t.Error("Supports(Record) = false")
	}
	if v.Supports("not a record") {
		t.Error("Supports(string) = true")
	}
}

func TestTransformerRenamesWithoutMutatingSource(t *testing.T) {
	source := processors.Record{ID: "r1", Fields: map[string]any{"q1": "yes"}}
	tr := processors.NewTransformer(
		map[string]string{"q1": "consent"},
		map[string]any{"wave": 3},
	)

	out, err := tr.Process(context.Background(), []any{source}, batch.ProcessorContext{})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	got := out[0].(processors.Record)
	if got.Fields["consent"] != "yes" {
		t.Errorf("consent = %v, want %q", got.Fields["consent"], "yes")
	}
	if got.Fields["wave"] != 3 {
		t.Errorf("wave = %v, want 3", got.Fields["wave"])
	}
	if _, present := got.Fields["q1"]; present {
		t.Error("renamed field q1 still present")
	}
	if source.Fields["q1"] != "yes" {
		t.Error("source record mutated")
	}
}

func TestExporterWritesOneLinePerRecord(t *testing.T) {
	var buf bytes.Buffer
	e := processors.NewExporter(&buf)

	out, err := e.Process(context.Background(), records(3), batch.ProcessorContext{})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("len(out) = %d, want 3", len(out))
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("wrote %d lines, want 3", len(lines))
	}
	for _, line := range lines {
		var rec processors.Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("line %q is not valid JSON: %v", line, err)
		}
		if rec.ID == "" {
			t.Errorf("line %q decoded with empty id", line)
		}
	}
}

func TestExporterCapabilities(t *testing.T) {
	e := processors.NewExporter(&bytes.Buffer{}, processors.WithMaxBatch(50))
	var _ batch.BatchSizeLimiter = e
	var _ batch.TimeoutHinter = e
	if e.MaxBatchSize() != 50 {
		t.Errorf("MaxBatchSize = %d, want 50", e.MaxBatchSize())
	}
}
