package daemon_test

import (
	"context"
	"testing"

	"tally/internal/daemon"
	"tally/internal/logging"
	"tally/internal/testsupport"
)

func TestStartStopLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenJournal(t, cfg)

	d, err := daemon.New(cfg, store, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	status := d.Status()
	if !status.Running {
		t.Error("Running = false after Start")
	}
	if !status.Queue.Running {
		t.Error("queue not running after Start")
	}
	if len(status.Processors) == 0 {
		t.Error("no processors registered")
	}
	if d.APIAddr() == "" {
		t.Error("API listener not bound")
	}

	d.Stop()
	if d.Status().Running {
		t.Error("Running = true after Stop")
	}
}

func TestSecondInstanceRejected(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenJournal(t, cfg)

	first, err := daemon.New(cfg, store, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer first.Stop()

	second, err := daemon.New(cfg, store, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := second.Start(context.Background()); err == nil {
		second.Stop()
		t.Fatal("second daemon instance acquired the lock")
	}
}
