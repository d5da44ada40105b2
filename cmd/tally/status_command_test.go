package main

import (
	"encoding/json"
	"testing"

	"tally/internal/api"
)

func TestStatusCommandRendersSections(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "== Daemon ==")
	requireContains(t, out, "== Queue ==")
	requireContains(t, out, "== Processors ==")
	requireContains(t, out, "validator")
	requireContains(t, out, "ndjson")
}

func TestStatusCommandJSON(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env, "status", "--json")
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}

	var status api.DaemonStatus
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("decode status JSON: %v", err)
	}
	if !status.Running {
		t.Error("Running = false")
	}
	if len(status.Processors) == 0 {
		t.Error("expected registered processors")
	}
}

func TestStatusCommandWithoutDaemon(t *testing.T) {
	env := setupCLITestEnv(t)
	env.addr = "127.0.0.1:1"

	_, _, err := runCLI(t, env, "status")
	if err == nil {
		t.Fatal("expected connection error")
	}
	requireContains(t, err.Error(), "is tallyd running")
}
