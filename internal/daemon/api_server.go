package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"tally/internal/api"
	"tally/internal/batch"
	"tally/internal/config"
	"tally/internal/logging"
	"tally/internal/processors"
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api"),
		daemon: d,
	}

	token := cfg.Paths.APIToken
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", authMiddleware(token, srv.handleStatus))
	mux.HandleFunc("/api/queue/metrics", authMiddleware(token, srv.handleQueueMetrics))
	mux.HandleFunc("/api/jobs", authMiddleware(token, srv.handleJobs))
	mux.HandleFunc("/api/jobs/", authMiddleware(token, srv.handleJob))

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status := s.daemon.Status()
	payload := api.DaemonStatus{
		Running:      status.Running,
		PID:          status.PID,
		Queue:        api.FromQueueStatus(status.Queue),
		JobsByStatus: status.JobsByStatus,
		Processors:   status.Processors,
		JournalPath:  status.JournalPath,
		LockFilePath: status.LockFilePath,
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *apiServer) handleQueueMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics := s.daemon.Orchestrator().Queue().Metrics()
	s.writeJSON(w, http.StatusOK, api.FromQueueMetrics(metrics))
}

func (s *apiServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listJobs(w, r)
	case http.MethodPost:
		s.submitJob(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) listJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	history := query.Get("history") == "1" || strings.EqualFold(query.Get("history"), "true")

	var statuses []string
	for _, value := range query["status"] {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, err := batch.ParseStatus(trimmed); err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		statuses = append(statuses, trimmed)
	}

	if history {
		records, err := s.daemon.store.List(r.Context(), statuses...)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		jobs := make([]api.JobSummary, 0, len(records))
		for _, rec := range records {
			jobs = append(jobs, api.FromJournalRecord(rec))
		}
		s.writeJSON(w, http.StatusOK, api.JobListResponse{Jobs: jobs})
		return
	}

	var snaps []batch.Snapshot
	if len(statuses) == 0 {
		snaps = s.daemon.Orchestrator().Jobs()
	} else {
		for _, status := range statuses {
			snaps = append(snaps, s.daemon.Orchestrator().JobsByStatus(batch.Status(status))...)
		}
	}
	jobs := make([]api.JobSummary, 0, len(snaps))
	for _, snap := range snaps {
		jobs = append(jobs, api.FromJobSnapshot(snap))
	}
	s.writeJSON(w, http.StatusOK, api.JobListResponse{Jobs: jobs})
}

func (s *apiServer) submitJob(w http.ResponseWriter, r *http.Request) {
	var req api.SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("decode request: %v", err))
		return
	}
	if strings.TrimSpace(req.Processor) == "" {
		s.writeError(w, http.StatusBadRequest, "processor is required")
		return
	}
	if len(req.Records) == 0 {
		s.writeError(w, http.StatusBadRequest, "records are required")
		return
	}

	items := make([]any, len(req.Records))
	for i, rec := range req.Records {
		items[i] = processors.Record{ID: rec.ID, Fields: rec.Fields}
	}

	cfg := req.Config.JobConfig(s.daemon.jobDefaults)
	opts := []batch.SubmitOption{}
	if req.Priority != nil {
		opts = append(opts, batch.WithPriority(*req.Priority))
	}
	if len(req.Metadata) > 0 {
		opts = append(opts, batch.WithMetadata(req.Metadata))
	}

	jobID, err := s.daemon.Orchestrator().SubmitJob(r.Context(), req.Name, req.Type, items, req.Processor, cfg, opts...)
	if err != nil {
		if errors.Is(err, batch.ErrProcessorNotFound) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, api.SubmitJobResponse{JobID: jobID})
}

func (s *apiServer) handleJob(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	if rest == "" {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}

	if rest == "clear" {
		if r.Method != http.MethodPost {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		removed := s.daemon.Orchestrator().ClearCompletedJobs()
		s.writeJSON(w, http.StatusOK, api.ClearResponse{Removed: removed})
		return
	}

	id, action, hasAction := strings.Cut(rest, "/")
	if !hasAction {
		if r.Method != http.MethodGet {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		snap, err := s.daemon.Orchestrator().Job(id)
		if err != nil {
			s.writeJobError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, api.JobResponse{Job: api.FromJobSnapshot(snap)})
		return
	}

	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var err error
	switch action {
	case "pause":
		err = s.daemon.Orchestrator().PauseJob(id)
	case "resume":
		err = s.daemon.Orchestrator().ResumeJob(id)
	case "cancel":
		err = s.daemon.Orchestrator().CancelJob(id)
	default:
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("unknown job action %q", action))
		return
	}
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) writeJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, batch.ErrJobNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, batch.ErrJobTerminal):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.writeError(w, http.StatusConflict, err.Error())
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("write api response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}
