package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/autosage/autosage/internal/apierr"
	"github.com/autosage/autosage/internal/structured"
)

type createJobRequest struct {
	ToolName string           `json:"tool_name"`
	Input    structured.Value `json:"input"`
	Mode     string           `json:"mode"`
	WaitMs   int64            `json:"wait_ms"`
}

type createJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Job    any    `json:"job,omitempty"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, s.cfg.MaxBodyBytes+1))
	if err != nil {
		s.writeErrorBody(w, http.StatusBadRequest, apierr.InvalidRequest, "unknown", "could not read request body", err.Error())
		return
	}
	var req createJobRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeErrorBody(w, http.StatusBadRequest, apierr.InvalidRequest, "unknown", "malformed request body", err.Error())
		return
	}

	requestID := s.cfg.Generator.Response()
	rec, done, err := s.cfg.Dispatcher.Dispatch(r.Context(), req.ToolName, req.Input, requestID)
	if err != nil {
		s.writeErrorBody(w, http.StatusInternalServerError, apierr.Runtime, req.ToolName, "could not create job", err.Error())
		return
	}

	if req.Mode == "sync" {
		wait := time.Duration(req.WaitMs) * time.Millisecond
		if wait <= 0 {
			wait = 30 * time.Second
		}
		select {
		case final := <-done:
			if final != nil {
				s.writeJSON(w, http.StatusOK, createJobResponse{JobID: final.ID, Status: string(final.Status), Job: final})
				return
			}
		case <-time.After(wait):
		}
	}

	s.writeJSON(w, http.StatusOK, createJobResponse{JobID: rec.ID, Status: string(rec.Status), Job: rec})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := s.cfg.Jobs.Get(id)
	if err != nil || rec == nil {
		s.writeErrorBody(w, http.StatusNotFound, apierr.UnknownTool, id, "job not found", "")
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListJobArtifacts(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	artifacts, err := s.cfg.Jobs.ListArtifacts(id)
	if err != nil {
		s.writeErrorBody(w, http.StatusNotFound, apierr.UnknownTool, id, "job not found", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"artifacts": artifacts})
}

func (s *Server) handleReadJobArtifact(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	name := r.PathValue("name")
	path, artifact, err := s.cfg.Jobs.ReadArtifact(id, name)
	if err != nil {
		s.writeErrorBody(w, http.StatusNotFound, apierr.UnknownTool, id, "artifact not found", err.Error())
		return
	}
	f, err := os.Open(path)
	if err != nil {
		s.writeErrorBody(w, http.StatusNotFound, apierr.UnknownTool, id, "artifact not found", err.Error())
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", artifact.MimeType)
	modTime := time.Time{}
	if info, err := f.Stat(); err == nil {
		modTime = info.ModTime()
	}
	http.ServeContent(w, r, artifact.Name, modTime, f)
}
