package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"

	"tally/internal/batch"
	"tally/internal/config"
	"tally/internal/events"
	"tally/internal/journal"
	"tally/internal/logging"
	"tally/internal/processors"
	"tally/internal/queue"
)

// Daemon coordinates the background processing services and enforces
// single-instance execution.
type Daemon struct {
	cfg          *config.Config
	logger       *slog.Logger
	store        *journal.Store
	bus          *events.Bus
	orchestrator *batch.Orchestrator
	recorder     *journal.Recorder
	jobDefaults  batch.Config
	api          *apiServer

	exportFile *os.File

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	Queue        queue.Status
	JobsByStatus map[string]int
	Processors   []string
	JournalPath  string
	LockFilePath string
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *journal.Store, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || logger == nil {
		return nil, errors.New("daemon requires config, journal store, and logger")
	}

	bus := events.NewBus(logger, cfg.Batch.EventBuffer)
	defaults := batch.DefaultConfig(cfg)
	orchestrator := batch.NewOrchestrator(queue.ConfigFromApp(cfg), defaults, logger, bus)

	d := &Daemon{
		cfg:          cfg,
		logger:       logging.NewComponentLogger(logger, "daemon"),
		store:        store,
		bus:          bus,
		orchestrator: orchestrator,
		recorder:     journal.NewRecorder(store, bus, logger),
		jobDefaults:  defaults,
		lockPath:     filepath.Join(cfg.Paths.DataDir, "tallyd.lock"),
	}
	d.lock = flock.New(d.lockPath)
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Orchestrator exposes the job orchestrator, mainly for tests.
func (d *Daemon) Orchestrator() *batch.Orchestrator {
	return d.orchestrator
}

// Start acquires the daemon lock, registers the built-in processors, and
// brings up the worker pool and API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another tally daemon instance is already running")
	}

	if err := d.registerProcessors(); err != nil {
		_ = d.lock.Unlock()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.orchestrator.Queue().Start(runCtx); err != nil && !errors.Is(err, queue.ErrAlreadyRunning) {
		_ = d.lock.Unlock()
		cancel()
		d.cancel = nil
		return fmt.Errorf("start queue: %w", err)
	}

	if d.api != nil {
		if err := d.api.start(runCtx); err != nil {
			d.orchestrator.Stop(false)
			_ = d.lock.Unlock()
			cancel()
			d.cancel = nil
			return err
		}
	}

	d.running.Store(true)
	d.logger.Info("tally daemon started", logging.String("lock", d.lockPath))
	return nil
}

func (d *Daemon) registerProcessors() error {
	d.orchestrator.RegisterProcessor(processors.NewValidator("respondent", "answer"))
	d.orchestrator.RegisterProcessor(processors.NewTransformer(nil, nil))

	exportPath := filepath.Join(d.cfg.Paths.ExportDir, "responses.ndjson")
	f, err := os.OpenFile(exportPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open export file: %w", err)
	}
	d.exportFile = f
	d.orchestrator.RegisterProcessor(processors.NewExporter(f))
	return nil
}

// Stop shuts down processing and releases the daemon lock. In-flight
// batches finish before the workers exit.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.api != nil {
		d.api.stop()
	}
	d.orchestrator.Stop(true)
	d.recorder.Close()
	d.bus.Close()
	if d.exportFile != nil {
		_ = d.exportFile.Close()
		d.exportFile = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("tally daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	return d.store.Close()
}

// APIAddr reports the bound API listener address, empty before Start.
func (d *Daemon) APIAddr() string {
	if d.api == nil {
		return ""
	}
	return d.api.addr()
}

// Status summarizes daemon runtime state.
func (d *Daemon) Status() Status {
	byStatus := make(map[string]int)
	for _, snap := range d.orchestrator.Jobs() {
		byStatus[string(snap.Status)]++
	}
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Queue:        d.orchestrator.Queue().Status(),
		JobsByStatus: byStatus,
		Processors:   d.orchestrator.Processors(),
		JournalPath:  d.store.Path(),
		LockFilePath: d.lockPath,
	}
}
