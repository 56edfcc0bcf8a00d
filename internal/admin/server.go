package admin

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"workyard-sim/internal/ingest"
	"workyard-sim/internal/logging"
	"workyard-sim/internal/pipeline"
	"workyard-sim/internal/sim"
)

type Server struct {
	Sim *sim.Simulator
	// PipelineFiles are re-read on POST /pipelines/reload.
	PipelineFiles []string
	// Changes, when set, receives single-pipeline edits for the catalog's
	// watcher; otherwise edits are applied inline.
	Changes chan<- pipeline.Change
	metrics       http.Handler
	tpl           *template.Template
	mux           *http.ServeMux
}

//go:embed templates/index.html
var content embed.FS

func NewServer(s *sim.Simulator, metrics *sim.Metrics) *Server {
	tpl := template.Must(template.New("index.html").ParseFS(content, "templates/index.html"))
	srv := &Server{Sim: s, tpl: tpl, mux: http.NewServeMux()}
	if metrics != nil {
		srv.metrics = metrics.Handler()
	}
	srv.routes()
	return srv
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /status", s.handleStatus)
	s.mux.HandleFunc("GET /yards", s.handleYards)
	s.mux.HandleFunc("POST /maintenance", s.handleMaintenance)
	s.mux.HandleFunc("POST /jobs", s.handleJobs)
	s.mux.HandleFunc("GET /pipelines", s.handlePipelines)
	s.mux.HandleFunc("POST /pipelines/reload", s.handleReload)
	s.mux.HandleFunc("PUT /pipelines/{name}", s.handlePipelinePut)
	s.mux.HandleFunc("DELETE /pipelines/{name}", s.handlePipelineDelete)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Start serves on addr until ctx is done.
func (s *Server) Start(ctx context.Context, addr string) error {
	hs := &http.Server{Addr: addr, Handler: s, ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- hs.ListenAndServe() }()
	logging.FromContext(ctx).Info("admin server listening", "addr", addr)
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return hs.Shutdown(shutdownCtx)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

type statusResponse struct {
	RunID         string `json:"run_id"`
	DroppedEvents uint64 `json:"dropped_events"`
	sim.Status
}

func (s *Server) status() statusResponse {
	return statusResponse{RunID: s.Sim.RunID(), DroppedEvents: s.Sim.Bus().Dropped(), Status: s.Sim.Status()}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := struct {
		statusResponse
		Yards []sim.Workyard
	}{s.status(), s.Sim.Yards()}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tpl.Execute(w, data); err != nil {
		logging.FromContext(r.Context()).Error("render index", "err", err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleYards(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Sim.Yards())
}

func (s *Server) handleMaintenance(w http.ResponseWriter, r *http.Request) {
	var worker uint64
	if v := r.URL.Query().Get("worker"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		worker = id
	}
	id, err := s.Sim.EnqueueMaintenance(r.Context(), worker)
	if errors.Is(err, sim.ErrUnknownWorker) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]uint64{"job_id": id, "worker": worker})
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	var a ingest.Arrival
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&a); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id, err := s.Sim.Enqueue(r.Context(), a)
	switch {
	case errors.Is(err, ingest.ErrUnknownPipeline), errors.Is(err, sim.ErrUnknownWorker):
		writeError(w, http.StatusNotFound, err)
		return
	case err != nil:
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]uint64{"job_id": id})
}

func (s *Server) handlePipelines(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Sim.Catalog().Defs())
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.Sim.ReloadPipelines(s.PipelineFiles); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	logging.FromContext(r.Context()).Info("pipelines reloaded", "files", s.PipelineFiles, "count", len(s.Sim.Catalog().Names()))
	writeJSON(w, http.StatusOK, s.Sim.Catalog().Defs())
}

func (s *Server) handlePipelinePut(w http.ResponseWriter, r *http.Request) {
	var d pipeline.Def
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&d); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.change(w, r, pipeline.Change{Name: r.PathValue("name"), Def: &d})
}

func (s *Server) handlePipelineDelete(w http.ResponseWriter, r *http.Request) {
	s.change(w, r, pipeline.Change{Name: r.PathValue("name")})
}

func (s *Server) change(w http.ResponseWriter, r *http.Request, ch pipeline.Change) {
	if ch.Def != nil {
		d := *ch.Def
		if d.Name == "" {
			d.Name = ch.Name
		}
		if d.Name != ch.Name {
			writeError(w, http.StatusUnprocessableEntity, fmt.Errorf("path names %q but body names %q", ch.Name, d.Name))
			return
		}
		// reject bad definitions up front; the watcher would only log them
		if _, err := pipeline.Materialize(d); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
	}
	if s.Changes == nil {
		if err := s.Sim.Catalog().Apply(ch); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"pipeline": ch.Name})
		return
	}
	select {
	case s.Changes <- ch:
		writeJSON(w, http.StatusAccepted, map[string]string{"pipeline": ch.Name})
	case <-r.Context().Done():
		writeError(w, http.StatusServiceUnavailable, r.Context().Err())
	}
}
