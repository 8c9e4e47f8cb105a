package handler

import (
	"encoding/json"
	"io"
	"net/http"
)

// The HTTP methods below serve the same routes as the Lambda adapter for
// the local dev server; routing is left to the mux that mounts them.

func (h *Handler) MessageHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:  "INVALID_INPUT",
			Detail: "failed to read request body",
		})
		return
	}
	status, payload := h.processMessage(r.Context(), body)
	writeJSON(w, status, payload)
}

func (h *Handler) AgentControlHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:  "INVALID_INPUT",
			Detail: "failed to read request body",
		})
		return
	}
	status, payload := h.processAgentControl(r.Context(), body)
	writeJSON(w, status, payload)
}

func (h *Handler) HealthHTTP(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Version: version})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"INTERNAL_ERROR","detail":"failed to encode response"}`, http.StatusInternalServerError)
	}
}
