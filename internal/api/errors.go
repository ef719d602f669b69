package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/technosupport/ts-monitor/internal/data"
	"github.com/technosupport/ts-monitor/internal/stream"
	"github.com/technosupport/ts-monitor/internal/workflow"
)

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[API] Encode response: %v", err)
	}
}

// writeError maps domain errors onto HTTP statuses. Conflicts (409)
// and validation failures (422) carry enough detail for the UI to
// refetch the event and reconcile.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, data.ErrRecordNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found"})
	case errors.Is(err, workflow.ErrStaleState):
		writeJSON(w, http.StatusConflict, errorBody{Error: "stale_state", Detail: err.Error()})
	case errors.Is(err, stream.ErrDegraded):
		writeJSON(w, http.StatusConflict, errorBody{Error: "stream_degraded", Detail: err.Error()})
	case errors.Is(err, workflow.ErrInvalidStep):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: "invalid_step", Detail: err.Error()})
	case errors.Is(err, workflow.ErrInvalidAnswer),
		errors.Is(err, workflow.ErrReasonRequired),
		errors.Is(err, workflow.ErrInvalidTemplate),
		errors.Is(err, stream.ErrNoSource):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: "unprocessable", Detail: err.Error()})
	case errors.Is(err, workflow.ErrWebhookFailed):
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "webhook_failed", Detail: err.Error()})
	default:
		log.Printf("[API] Internal error: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal"})
	}
}
