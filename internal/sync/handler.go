package sync

import (
	"encoding/json"
	"io"
	"net/http"
)

// HTTPHandler exposes a Service as the server side of the HTTP transport:
// decode a canonical-JSON sync-request body, answer via ProcessSyncRequest,
// encode the sync-response.
type HTTPHandler struct {
	svc   *Service
	graph string
}

// NewHTTPHandler returns an http.Handler serving sync requests for graph.
func NewHTTPHandler(svc *Service, graph string) *HTTPHandler {
	return &HTTPHandler{svc: svc, graph: graph}
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	resp, err := h.svc.ProcessSyncRequest(r.Context(), h.graph, req)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	data, err := MarshalCanonical(resp)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
