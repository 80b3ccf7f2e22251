package httpapi

import (
	"fmt"
	"net/http"
)

type healthzResponse struct {
	Status  string `json:"status"`
	Name    string `json:"name"`
	Version string `json:"version"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthzResponse{Status: "ok", Name: "autosage", Version: Version})
}

type versionResponse struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// handleVersion mirrors the same {name, version} pair /healthz already
// carries, for callers that want build identity without a liveness probe's
// semantics attached.
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, versionResponse{Name: "autosage", Version: Version})
}

type modelSummary struct {
	Name  string `json:"name"`
	Ready bool   `json:"ready"`
}

type modelsResponse struct {
	Models []modelSummary `json:"models"`
}

// handleModels is a convenience endpoint listing the plan-source backends
// compiled into this binary; it reports the configured backend only, since
// the registry has no notion of "model" beyond the single active
// planner.Source wired at startup.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	name := "none"
	if s.cfg.PlanSource != nil {
		name = fmt.Sprintf("%T", s.cfg.PlanSource)
	}
	s.writeJSON(w, http.StatusOK, modelsResponse{Models: []modelSummary{{Name: name, Ready: s.cfg.PlanSource != nil}}})
}
