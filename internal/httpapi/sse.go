package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/autosage/autosage/internal/orchestrator"
)

type sseStatePayload struct {
	State any `json:"state"`
}

type sseToolCompletePayload struct {
	ToolName   string `json:"tool_name"`
	DurationMs int64  `json:"duration_ms"`
}

type sseDonePayload struct {
	Status string `json:"status"`
}

type sseErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type sseTextDeltaPayload struct {
	Delta string `json:"delta"`
}

type sseToolStartPayload struct {
	ToolName string `json:"tool_name"`
}

// streamSSE writes each orchestrator event as a `event: <name>\ndata:
// <json>\n\n` frame, flushing after every frame so a slow-polling client
// sees events as they occur rather than buffered at stream end. It is
// grounded on the same cancellable-task-plus-channel shape the orchestrator
// itself sits on top of: this is the sole consumer pulling from that
// channel and translating it into the wire format.
func (s *Server) streamSSE(w http.ResponseWriter, r *http.Request, events <-chan orchestrator.StreamEvent) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeErrorBody(w, http.StatusInternalServerError, "runtime", "unknown", "streaming unsupported by this transport", "")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case ev, more := <-events:
			if !more {
				return
			}
			name, payload := sseFrame(ev)
			data, err := json.Marshal(payload)
			if err != nil {
				s.logger.Warn("marshal sse payload failed", "error", err)
				continue
			}
			if _, err := w.Write([]byte("event: " + name + "\ndata: " + string(data) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func sseFrame(ev orchestrator.StreamEvent) (string, any) {
	switch ev.Type {
	case orchestrator.EventTextDelta:
		return string(ev.Type), sseTextDeltaPayload{Delta: ev.Delta}
	case orchestrator.EventToolCallStart:
		return string(ev.Type), sseToolStartPayload{ToolName: ev.ToolName}
	case orchestrator.EventStateUpdate:
		return string(ev.Type), sseStatePayload{State: ev.State}
	case orchestrator.EventToolCallComplete:
		return string(ev.Type), sseToolCompletePayload{ToolName: ev.ToolName, DurationMs: ev.DurationMs}
	case orchestrator.EventAgentDone:
		return string(ev.Type), sseDonePayload{Status: ev.Status}
	case orchestrator.EventError:
		return string(ev.Type), sseErrorPayload{Code: ev.Code, Message: ev.Message}
	default:
		return string(ev.Type), struct{}{}
	}
}
