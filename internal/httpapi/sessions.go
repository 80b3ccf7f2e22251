package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/autosage/autosage/internal/apierr"
	"github.com/autosage/autosage/internal/session"
)

const maxUploadBytes = 256 * 1024 * 1024

type createSessionResponse struct {
	SessionID string            `json:"session_id"`
	State     *session.Manifest `json:"state"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.writeErrorBody(w, http.StatusBadRequest, apierr.InvalidRequest, "unknown", "expected multipart/form-data with a file field", err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeErrorBody(w, http.StatusBadRequest, apierr.InvalidRequest, "unknown", "missing file field", err.Error())
		return
	}
	defer file.Close()

	data := make([]byte, 0, header.Size)
	buf := make([]byte, 32*1024)
	for {
		n, readErr := file.Read(buf)
		if n > 0 {
			data = append(data, buf[:n]...)
		}
		if readErr != nil {
			break
		}
	}

	manifest, err := s.cfg.Sessions.CreateFromUpload(r.Context(), header.Filename, data)
	if err != nil {
		s.writeErrorBody(w, http.StatusBadRequest, apierr.InvalidInput, "unknown", "could not create session", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, createSessionResponse{SessionID: manifest.SessionID, State: manifest})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	manifest, err := s.cfg.Sessions.Get(r.Context(), id)
	if err != nil {
		s.writeErrorBody(w, http.StatusNotFound, apierr.UnknownTool, id, "session not found", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, manifest)
}

type chatRequest struct {
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorBody(w, http.StatusBadRequest, apierr.InvalidRequest, "unknown", "malformed chat request", err.Error())
		return
	}
	if _, err := s.cfg.Sessions.Get(r.Context(), id); err != nil {
		s.writeErrorBody(w, http.StatusNotFound, apierr.UnknownTool, id, "session not found", err.Error())
		return
	}
	if s.cfg.Orchestrator == nil || s.cfg.PlanSource == nil {
		s.writeErrorBody(w, http.StatusInternalServerError, apierr.MissingDependency, "unknown", "no plan source configured", "")
		return
	}

	stream := req.Stream || r.URL.Query().Get("stream") == "true"
	events := s.cfg.Orchestrator.Run(r.Context(), id, req.Prompt, s.cfg.PlanSource)

	if !stream {
		var last any
		for ev := range events {
			last = ev
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"final_event": last})
		return
	}

	s.streamSSE(w, r, events)
}

func (s *Server) handleSessionAsset(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	path := strings.TrimPrefix(r.PathValue("path"), "/")

	asset, err := s.cfg.Sessions.AssetReader(r.Context(), id, path)
	if err != nil {
		// ErrForbidden and ErrNotFound both surface as 404: never confirm a
		// path's existence to a prober.
		s.writeErrorBody(w, http.StatusNotFound, apierr.UnknownTool, id, "asset not found", "")
		return
	}

	w.Header().Set("Content-Type", asset.MimeType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(asset.Bytes); err != nil {
		s.logger.Debug("write asset response failed", "error", err)
	}
}
