package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mtzanidakis/meshwork/internal/jobs"
	"github.com/mtzanidakis/meshwork/internal/mesh"
)

// maxBody caps request bodies; imports carry whole workspaces.
const maxBody = 16 << 20

func (s *Server) registerAPI(mux *http.ServeMux) {
	// Commands
	mux.HandleFunc("GET /api/commands", s.listCommands)

	// Jobs
	mux.HandleFunc("GET /api/jobs", s.listJobs)
	mux.HandleFunc("POST /api/jobs", s.createJob)
	mux.HandleFunc("DELETE /api/jobs", s.clearJobs)
	mux.HandleFunc("POST /api/jobs/reorder", s.reorderJobs)
	mux.HandleFunc("POST /api/jobs/pause", s.pauseJobs)
	mux.HandleFunc("GET /api/jobs/{id}", s.getJob)
	mux.HandleFunc("DELETE /api/jobs/{id}", s.deleteJob)
	mux.HandleFunc("POST /api/jobs/{id}/stop", s.stopJob)

	// Artifacts
	mux.HandleFunc("GET /api/artifacts", s.listArtifacts)
	mux.HandleFunc("POST /api/artifacts", s.importArtifact)
	mux.HandleFunc("DELETE /api/artifacts/{id}", s.deleteArtifact)

	// Job catalog
	mux.HandleFunc("GET /api/catalog", s.listDefinitions)
	mux.HandleFunc("POST /api/catalog", s.saveDefinition)
	mux.HandleFunc("GET /api/catalog/{name}", s.getDefinition)
	mux.HandleFunc("DELETE /api/catalog/{name}", s.deleteDefinition)
	mux.HandleFunc("POST /api/catalog/{name}/run", s.runDefinition)

	// Workspace state (read-only; changes go through jobs)
	mux.HandleFunc("GET /api/workspace", s.getWorkspace)
	mux.HandleFunc("GET /api/ecosystem", s.getEcosystem)
	mux.HandleFunc("GET /api/export", s.exportData)
	mux.HandleFunc("POST /api/import", s.importData)

	// System
	mux.HandleFunc("GET /api/status", s.getStatus)
}

func (s *Server) listCommands(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.registry.List())
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	all := s.queue.List()
	status := jobs.Status(r.URL.Query().Get("status"))
	if status == "" {
		jsonResponse(w, all)
		return
	}
	out := make([]jobs.Job, 0, len(all))
	for _, j := range all {
		if j.Status == status {
			out = append(out, j)
		}
	}
	jsonResponse(w, out)
}

// enqueue stamps spec with the configured web identity, checks that every
// command it names exists and adds it to the queue.
func (s *Server) enqueue(w http.ResponseWriter, spec jobs.Spec) {
	spec.Actor = s.cfg.User
	spec.Role = s.cfg.Role
	spec.Source = Source

	if spec.Type != "" && len(spec.Steps) == 0 {
		if _, ok := s.registry.Get(spec.Type); !ok {
			jsonError(w, "unknown command: "+spec.Type, http.StatusBadRequest)
			return
		}
	}
	for _, st := range spec.Steps {
		if _, ok := s.registry.Get(st.CommandID); !ok {
			jsonError(w, "unknown command: "+st.CommandID, http.StatusBadRequest)
			return
		}
	}

	job, err := s.queue.Add(spec)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(job)
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Type    string         `json:"type"`
		Request map[string]any `json:"request"`
		Steps   []jobs.Step    `json:"steps"`
		Mode    jobs.Mode      `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	s.enqueue(w, jobs.Spec{
		Type:    body.Type,
		Request: body.Request,
		Steps:   body.Steps,
		Mode:    body.Mode,
	})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.queue.Get(r.PathValue("id"))
	if !ok {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, job)
}

func (s *Server) deleteJob(w http.ResponseWriter, r *http.Request) {
	if err := s.queue.Remove(r.PathValue("id")); err != nil {
		jsonError(w, err.Error(), jobErrorStatus(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) stopJob(w http.ResponseWriter, r *http.Request) {
	if err := s.processor.StopJob(r.PathValue("id")); err != nil {
		jsonError(w, err.Error(), jobErrorStatus(err))
		return
	}
	jsonResponse(w, map[string]string{"status": "stopping"})
}

func (s *Server) clearJobs(w http.ResponseWriter, r *http.Request) {
	s.queue.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) reorderJobs(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.queue.Reorder(body.IDs); err != nil {
		jsonError(w, err.Error(), jobErrorStatus(err))
		return
	}
	jsonResponse(w, s.queue.List())
}

// pauseJobs sets the pause flag when the body names it and toggles it
// otherwise.
func (s *Server) pauseJobs(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Paused *bool `json:"paused"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	switch {
	case body.Paused == nil:
		s.queue.TogglePause()
	case *body.Paused:
		s.queue.Pause()
	default:
		s.queue.Resume()
	}
	jsonResponse(w, map[string]bool{"paused": s.queue.Paused()})
}

func (s *Server) listArtifacts(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.queue.Artifacts())
}

func (s *Server) importArtifact(w http.ResponseWriter, r *http.Request) {
	var a jobs.Artifact
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	a, err := s.queue.ImportArtifact(a)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(a)
}

func (s *Server) deleteArtifact(w http.ResponseWriter, r *http.Request) {
	if err := s.queue.RemoveArtifact(r.PathValue("id")); err != nil {
		jsonError(w, err.Error(), jobErrorStatus(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listDefinitions(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		jsonError(w, "job catalog is not available", http.StatusServiceUnavailable)
		return
	}
	defs, err := s.catalog.List()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, defs)
}

func (s *Server) getDefinition(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		jsonError(w, "job catalog is not available", http.StatusServiceUnavailable)
		return
	}
	d, err := s.catalog.Get(r.PathValue("name"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if d == nil {
		jsonError(w, "job definition not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, d)
}

func (s *Server) saveDefinition(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	s.enqueue(w, jobs.Spec{Type: "save_job_definition", Request: body})
}

func (s *Server) deleteDefinition(w http.ResponseWriter, r *http.Request) {
	s.enqueue(w, jobs.Spec{
		Type:    "delete_job_definition",
		Request: map[string]any{"name": r.PathValue("name")},
	})
}

func (s *Server) runDefinition(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		jsonError(w, "job catalog is not available", http.StatusServiceUnavailable)
		return
	}
	job, err := s.catalog.Enqueue(s.queue, r.PathValue("name"), Source, s.cfg.Role)
	if err != nil && job.ID == "" {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		slog.Warn("record definition run failed", "name", r.PathValue("name"), "error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(job)
}

func (s *Server) getWorkspace(w http.ResponseWriter, r *http.Request) {
	ws := s.workspace.Snapshot()
	for i := range ws.Agents {
		ws.Agents[i].PrivateKey = ""
	}
	jsonResponse(w, ws)
}

func (s *Server) getEcosystem(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.ecosystem.Snapshot())
}

func (s *Server) exportData(w http.ResponseWriter, r *http.Request) {
	typ := r.URL.Query().Get("type")
	if typ == "" {
		typ = mesh.ExportFullBackup
	}
	env, err := mesh.NewEnvelope(typ, s.workspace.Snapshot(), s.ecosystem.Snapshot(), time.Now().UTC())
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	name := fmt.Sprintf("meshwork-%s-%s.json", typ, env.ExportedAt.Format("20060102-150405"))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	jsonResponse(w, env)
}

// importData validates an export file and enqueues import_data for it.
func (s *Server) importData(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if _, err := mesh.ParseEnvelope(raw); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	var envelope map[string]any
	if err := json.Unmarshal(raw, &envelope); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	s.enqueue(w, jobs.Spec{
		Type:    "import_data",
		Request: map[string]any{"envelope": envelope},
	})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	queued := 0
	for _, j := range s.queue.List() {
		if j.Status == jobs.StatusQueued {
			queued++
		}
	}
	completed, failed := s.processor.Stats()
	ws := s.workspace.Snapshot()
	eco := s.ecosystem.Snapshot()

	jsonResponse(w, map[string]any{
		"status":         "ok",
		"version":        s.version,
		"uptime":         formatUptime(time.Since(s.startedAt)),
		"running_job":    s.processor.RunningID(),
		"queued_jobs":    queued,
		"paused":         s.queue.Paused(),
		"completed_jobs": completed,
		"failed_jobs":    failed,
		"agents":         len(ws.Agents),
		"channels":       len(ws.Channels),
		"groups":         len(ws.Groups),
		"networks":       len(eco.Networks),
		"bridges":        len(eco.Bridges),
		"ws_clients":     s.hub.Len(),
	})
}

func jobErrorStatus(err error) int {
	switch {
	case errors.Is(err, jobs.ErrJobNotFound), errors.Is(err, jobs.ErrArtifactNotFound):
		return http.StatusNotFound
	case errors.Is(err, jobs.ErrJobRunning), errors.Is(err, jobs.ErrJobFinished):
		return http.StatusConflict
	}
	return http.StatusBadRequest
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
