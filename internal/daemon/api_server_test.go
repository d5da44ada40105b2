package daemon_test

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"tally/internal/api"
	"tally/internal/daemon"
	"tally/internal/logging"
	"tally/internal/testsupport"
)

func startDaemon(t *testing.T, opts ...testsupport.ConfigOption) (*daemon.Daemon, *api.Client) {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenJournal(t, cfg)

	d, err := daemon.New(cfg, store, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(d.Stop)

	return d, api.NewClient(d.APIAddr(), cfg.Paths.APIToken)
}

func syncSubmitRequest(name string) api.SubmitJobRequest {
	parallel := false
	records := make([]api.RecordPayload, 10)
	for i := range records {
		records[i] = api.RecordPayload{
			ID:     name + "-" + string(rune('a'+i)),
			Fields: map[string]any{"respondent": i, "answer": "yes"},
		}
	}
	return api.SubmitJobRequest{
		Name:      name,
		Type:      "validation",
		Processor: "validator",
		Records:   records,
		Config:    &api.JobConfigPayload{BatchSize: 4, ParallelProcessing: &parallel},
	}
}

func TestStatusEndpoint(t *testing.T) {
	_, client := startDaemon(t)

	status, err := client.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Running {
		t.Error("Running = false")
	}
	if !status.Queue.Running {
		t.Error("Queue.Running = false")
	}
	want := []string{"ndjson", "transformer", "validator"}
	if len(status.Processors) != len(want) {
		t.Fatalf("Processors = %v, want %v", status.Processors, want)
	}
	for i, name := range want {
		if status.Processors[i] != name {
			t.Errorf("Processors[%d] = %q, want %q", i, status.Processors[i], name)
		}
	}
}

func TestSubmitAndFetchJob(t *testing.T) {
	_, client := startDaemon(t)
	ctx := context.Background()

	jobID, err := client.Submit(ctx, syncSubmitRequest("wave-1"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if jobID == "" {
		t.Fatal("empty job id")
	}

	job, err := client.Job(ctx, jobID)
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	if job.Status != "completed" {
		t.Fatalf("Status = %q, want completed", job.Status)
	}
	if job.Result == nil || !job.Result.Success {
		t.Fatalf("Result = %+v, want success", job.Result)
	}
	if job.Progress.Processed != 10 {
		t.Errorf("Processed = %d, want 10", job.Progress.Processed)
	}

	jobs, err := client.Jobs(ctx, false)
	if err != nil {
		t.Fatalf("Jobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("len(jobs) = %d, want 1", len(jobs))
	}

	removed, err := client.ClearJobs(ctx)
	if err != nil {
		t.Fatalf("ClearJobs: %v", err)
	}
	if removed != 1 {
		t.Errorf("ClearJobs removed %d, want 1", removed)
	}
}

func TestJobHistoryFromJournal(t *testing.T) {
	_, client := startDaemon(t)
	ctx := context.Background()

	jobID, err := client.Submit(ctx, syncSubmitRequest("wave-2"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// The recorder mirrors lifecycle events asynchronously.
	deadline := time.Now().Add(2 * time.Second)
	for {
		history, err := client.Jobs(ctx, true)
		if err != nil {
			t.Fatalf("Jobs(history): %v", err)
		}
		if len(history) == 1 && history[0].Status == "completed" {
			if history[0].ID != jobID {
				t.Fatalf("history id = %q, want %q", history[0].ID, jobID)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("journal history never converged: %+v", history)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSubmitValidation(t *testing.T) {
	_, client := startDaemon(t)
	ctx := context.Background()

	req := syncSubmitRequest("bad")
	req.Processor = "missing"
	if _, err := client.Submit(ctx, req); err == nil || !strings.Contains(err.Error(), "processor") {
		t.Errorf("Submit with unknown processor = %v, want processor error", err)
	}

	req = syncSubmitRequest("empty")
	req.Records = nil
	if _, err := client.Submit(ctx, req); err == nil {
		t.Error("Submit with no records succeeded")
	}
}

func TestJobOperationErrorsMapToStatusCodes(t *testing.T) {
	_, client := startDaemon(t)
	ctx := context.Background()

	if err := client.PauseJob(ctx, "unknown"); err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("PauseJob(unknown) = %v, want 404", err)
	}

	jobID, err := client.Submit(ctx, syncSubmitRequest("done"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := client.CancelJob(ctx, jobID); err == nil || !strings.Contains(err.Error(), "409") {
		t.Errorf("CancelJob(completed) = %v, want 409", err)
	}
}

func TestBearerAuthRequired(t *testing.T) {
	d, authed := startDaemon(t, testsupport.WithAPIToken("sekrit"))
	ctx := context.Background()

	if _, err := authed.Status(ctx); err != nil {
		t.Fatalf("authorized Status: %v", err)
	}

	resp, err := http.Get("http://" + d.APIAddr() + "/api/status")
	if err != nil {
		t.Fatalf("unauthenticated request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}

	wrong := api.NewClient(d.APIAddr(), "not-it")
	if _, err := wrong.Status(ctx); err == nil {
		t.Fatal("wrong token accepted")
	}
}

func TestQueueMetricsEndpoint(t *testing.T) {
	_, client := startDaemon(t)
	ctx := context.Background()

	if _, err := client.Submit(ctx, syncSubmitRequest("metrics")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	metrics, err := client.QueueMetrics(ctx)
	if err != nil {
		t.Fatalf("QueueMetrics: %v", err)
	}
	if metrics.ErrorRate != 0 {
		t.Errorf("ErrorRate = %v, want 0", metrics.ErrorRate)
	}
}
