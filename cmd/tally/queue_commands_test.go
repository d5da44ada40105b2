package main

import (
	"encoding/json"
	"testing"

	"tally/internal/api"
)

func TestQueueStatusCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env, "queue", "status")
	if err != nil {
		t.Fatalf("queue status: %v", err)
	}
	requireContains(t, out, "Running: yes")
	requireContains(t, out, "priority 0")
	requireContains(t, out, "in flight")
}

func TestQueueMetricsCommand(t *testing.T) {
	env := setupCLITestEnv(t)
	records := writeRecordsFile(t, validRecordLines(4)...)
	submitSyncJob(t, env, records)

	out, _, err := runCLI(t, env, "queue", "metrics")
	if err != nil {
		t.Fatalf("queue metrics: %v", err)
	}
	requireContains(t, out, "Throughput")
	requireContains(t, out, "Error rate")

	out, _, err = runCLI(t, env, "queue", "metrics", "--json")
	if err != nil {
		t.Fatalf("queue metrics --json: %v", err)
	}
	var metrics api.QueueMetrics
	if err := json.Unmarshal([]byte(out), &metrics); err != nil {
		t.Fatalf("decode metrics JSON: %v", err)
	}
}
