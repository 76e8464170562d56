// Package api exposes job control over HTTP: submit a sheet, watch a job's
// progress, answer its pending question, cancel it, and fetch its report.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sheetforge/sheetforge/pkg/orchestrator"
	"github.com/sheetforge/sheetforge/pkg/stores"
	"github.com/sheetforge/sheetforge/pkg/telemetry"
)

// Server is the job control API.
type Server struct {
	orch    *orchestrator.Orchestrator
	store   stores.Store
	metrics *telemetry.Metrics
	log     *telemetry.Logger
}

// NewServer builds the API over an orchestrator and its store. The metrics
// handle may be nil; /metrics then returns 404.
func NewServer(orch *orchestrator.Orchestrator, store stores.Store, metrics *telemetry.Metrics, log *telemetry.Logger) *Server {
	if log == nil {
		log = telemetry.NopLogger()
	}
	return &Server{orch: orch, store: store, metrics: metrics, log: log}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /jobs", s.handleSubmit)
	mux.HandleFunc("GET /jobs", s.handleList)
	mux.HandleFunc("GET /jobs/{id}", s.handleGet)
	mux.HandleFunc("GET /jobs/{id}/events", s.handleEvents)
	mux.HandleFunc("GET /jobs/{id}/question", s.handleQuestion)
	mux.HandleFunc("POST /jobs/{id}/answer", s.handleAnswer)
	mux.HandleFunc("POST /jobs/{id}/cancel", s.handleCancel)
	mux.HandleFunc("GET /jobs/{id}/report", s.handleReport)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return mux
}

// ListenAndServe runs the API until the context is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errs := make(chan error, 1)
	go func() { errs <- srv.ListenAndServe() }()
	s.log.Infof("job control API listening on %s", addr)

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// jobView is the wire shape of a job record.
type jobView struct {
	ID              string          `json:"id"`
	SourcePath      string          `json:"source_path"`
	SchemaName      string          `json:"schema_name"`
	Stage           string          `json:"stage"`
	RetryCounts     json.RawMessage `json:"retry_counts,omitempty"`
	PendingQuestion string          `json:"pending_question,omitempty"`
	Error           string          `json:"error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func viewOf(rec *stores.JobRecord) jobView {
	v := jobView{
		ID:              rec.ID,
		SourcePath:      rec.SourcePath,
		SchemaName:      rec.SchemaName,
		Stage:           rec.Stage,
		PendingQuestion: rec.PendingQuestion,
		Error:           rec.Error,
		CreatedAt:       rec.CreatedAt,
		UpdatedAt:       rec.UpdatedAt,
	}
	if rec.RetryCounts != "" && rec.RetryCounts != "{}" {
		v.RetryCounts = json.RawMessage(rec.RetryCounts)
	}
	return v
}

type submitRequest struct {
	SourcePath string `json:"source_path"`
	SchemaName string `json:"schema_name"`
}

// handleSubmit accepts a job and drives it in the background. The response
// is the accepted record; poll GET /jobs/{id} for progress.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.error(w, http.StatusBadRequest, fmt.Errorf("decoding request: %w", err))
		return
	}
	if req.SourcePath == "" {
		s.error(w, http.StatusBadRequest, errors.New("source_path is required"))
		return
	}
	rec, err := s.orch.Submit(r.Context(), req.SourcePath, req.SchemaName)
	if err != nil {
		s.error(w, http.StatusInternalServerError, err)
		return
	}
	go func() {
		if _, err := s.orch.Run(context.Background(), rec.ID); err != nil {
			s.log.WithJobID(rec.ID).WithError(err).Error("background run failed")
		}
	}()
	s.json(w, http.StatusAccepted, viewOf(rec))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.store.ListJobs(r.Context(), r.URL.Query().Get("stage"), 0)
	if err != nil {
		s.error(w, http.StatusInternalServerError, err)
		return
	}
	views := make([]jobView, 0, len(jobs))
	for _, rec := range jobs {
		views = append(views, viewOf(rec))
	}
	s.json(w, http.StatusOK, views)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.job(w, r)
	if !ok {
		return
	}
	s.json(w, http.StatusOK, viewOf(rec))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.job(w, r); !ok {
		return
	}
	events, err := s.store.ListEvents(r.Context(), r.PathValue("id"))
	if err != nil {
		s.error(w, http.StatusInternalServerError, err)
		return
	}
	type eventView struct {
		Stage     string    `json:"stage"`
		Code      string    `json:"code"`
		Message   string    `json:"message"`
		CreatedAt time.Time `json:"created_at"`
	}
	views := make([]eventView, 0, len(events))
	for _, ev := range events {
		views = append(views, eventView{Stage: ev.Stage, Code: ev.Code, Message: ev.Message, CreatedAt: ev.CreatedAt})
	}
	s.json(w, http.StatusOK, views)
}

func (s *Server) handleQuestion(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.job(w, r)
	if !ok {
		return
	}
	if rec.PendingQuestion == "" {
		s.error(w, http.StatusNotFound, fmt.Errorf("job %s has no pending question", rec.ID))
		return
	}
	resp := struct {
		Question string   `json:"question"`
		Options  []string `json:"options,omitempty"`
	}{Question: rec.PendingQuestion}
	if rec.PendingOptions != "" {
		_ = json.Unmarshal([]byte(rec.PendingOptions), &resp.Options)
	}
	s.json(w, http.StatusOK, resp)
}

type answerRequest struct {
	Answer string `json:"answer"`
}

// handleAnswer resumes a suspended job. Resume drives the job to its next
// stop synchronously, so the response carries the post-resume state.
func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.error(w, http.StatusBadRequest, fmt.Errorf("decoding request: %w", err))
		return
	}
	if req.Answer == "" {
		s.error(w, http.StatusBadRequest, errors.New("answer is required"))
		return
	}
	rec, err := s.orch.Resume(r.Context(), r.PathValue("id"), req.Answer)
	if err != nil {
		if errors.Is(err, stores.ErrJobNotFound) {
			s.error(w, http.StatusNotFound, err)
			return
		}
		s.error(w, http.StatusConflict, err)
		return
	}
	s.json(w, http.StatusOK, viewOf(rec))
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.error(w, http.StatusBadRequest, fmt.Errorf("decoding request: %w", err))
			return
		}
	}
	rec, err := s.orch.Cancel(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		if errors.Is(err, stores.ErrJobNotFound) {
			s.error(w, http.StatusNotFound, err)
			return
		}
		s.error(w, http.StatusConflict, err)
		return
	}
	s.json(w, http.StatusOK, viewOf(rec))
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.job(w, r)
	if !ok {
		return
	}
	if rec.ReportJSON == "" {
		s.error(w, http.StatusNotFound, fmt.Errorf("job %s has no report yet", rec.ID))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(rec.ReportJSON))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.json(w, http.StatusOK, map[string]string{"status": "ok"})
}

// job loads the record for the {id} path segment, writing the error response
// itself when the job does not exist.
func (s *Server) job(w http.ResponseWriter, r *http.Request) (*stores.JobRecord, bool) {
	rec, err := s.store.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, stores.ErrJobNotFound) {
			s.error(w, http.StatusNotFound, err)
		} else {
			s.error(w, http.StatusInternalServerError, err)
		}
		return nil, false
	}
	return rec, true
}

func (s *Server) json(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.WithError(err).Warn("encoding response")
	}
}

func (s *Server) error(w http.ResponseWriter, status int, err error) {
	s.json(w, status, map[string]string{"error": err.Error()})
}
