package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/autosage/autosage/internal/apierr"
	"github.com/autosage/autosage/internal/engine"
	"github.com/autosage/autosage/internal/structured"
	"github.com/autosage/autosage/internal/toolapi"
	"github.com/autosage/autosage/internal/toolreg"
)

type toolSummary struct {
	Name        string            `json:"name"`
	Version     string            `json:"version"`
	Description string            `json:"description"`
	InputSchema any               `json:"input_schema"`
	Stability   toolreg.Stability `json:"stability"`
	Tags        []string          `json:"tags"`
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	filter := toolreg.Filter{Stability: toolreg.Stability(r.URL.Query().Get("stability"))}
	if tags := r.URL.Query().Get("tags"); tags != "" {
		filter.Tags = strings.Split(tags, ",")
	}

	descs := s.cfg.Registry.List(filter)
	out := make([]toolSummary, 0, len(descs))
	for _, d := range descs {
		out = append(out, toolSummary{
			Name: d.Name, Version: d.Version, Description: d.Description,
			InputSchema: d.InputSchema.ToAny(), Stability: d.Stability, Tags: d.Tags,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tools": out})
}

type executeRequest struct {
	Tool    string           `json:"tool"`
	Input   structured.Value `json:"input"`
	Context *struct {
		Limits *toolapi.ExecutionLimits `json:"limits"`
	} `json:"context"`
}

func (s *Server) handleExecuteTool(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, s.cfg.MaxBodyBytes+1))
	if err != nil {
		s.writeErrorBody(w, http.StatusBadRequest, apierr.InvalidRequest, "unknown", "could not read request body", err.Error())
		return
	}
	if int64(len(body)) > s.cfg.MaxBodyBytes {
		s.writeErrorBody(w, http.StatusRequestEntityTooLarge, apierr.PayloadTooLarge, "unknown", "request body exceeds the configured size cap", "")
		return
	}

	var req executeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeErrorBody(w, http.StatusBadRequest, apierr.InvalidRequest, "unknown", "malformed request body", err.Error())
		return
	}

	requestID := r.Header.Get("X-Request-Id")
	if requestID == "" {
		requestID = s.cfg.Generator.Response()
	}

	engineReq := engine.Request{
		ToolName:  req.Tool,
		Input:     req.Input,
		RequestID: requestID,
		RawBody:   body,
	}
	if req.Context != nil && req.Context.Limits != nil {
		engineReq.Limits = *req.Context.Limits
	}

	outcome := s.cfg.Engine.Execute(r.Context(), engineReq)

	w.Header().Set("X-Request-Id", requestID)
	if outcome.RetryAfter > 0 {
		w.Header().Set("Retry-After", "1")
	}
	s.writeJSON(w, outcome.HTTPStatus, outcome.Result)
}
