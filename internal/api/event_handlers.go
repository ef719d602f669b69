package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/technosupport/ts-monitor/internal/data"
	"github.com/technosupport/ts-monitor/internal/workflow"
)

type EventReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*data.Event, error)
}

// EventHandler exposes the incident workflow: escalation transitions,
// action-plan mutations, and call logs.
type EventHandler struct {
	Engine *workflow.Engine
	Events EventReader
}

func NewEventHandler(engine *workflow.Engine, events EventReader) *EventHandler {
	return &EventHandler{Engine: engine, Events: events}
}

func eventID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	return id, err == nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Detail: "invalid JSON body"})
		return false
	}
	return true
}

func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := eventID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Detail: "invalid event id"})
		return
	}
	e, err := h.Events.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *EventHandler) Transition(w http.ResponseWriter, r *http.Request) {
	id, ok := eventID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Detail: "invalid event id"})
		return
	}

	var body struct {
		Action string `json:"action"`
		Reason string `json:"reason"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	e, err := h.Engine.TransitionEvent(r.Context(), id, workflow.Action(body.Action), body.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *EventHandler) PlanAnswer(w http.ResponseWriter, r *http.Request) {
	id, ok := eventID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Detail: "invalid event id"})
		return
	}

	var body struct {
		StepID string `json:"step_id"`
		Answer string `json:"answer"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	e, err := h.Engine.ApplyAnswer(r.Context(), id, body.StepID, body.Answer)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *EventHandler) PlanToggle(w http.ResponseWriter, r *http.Request) {
	id, ok := eventID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Detail: "invalid event id"})
		return
	}

	var body struct {
		StepID string `json:"step_id"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	e, err := h.Engine.ToggleStep(r.Context(), id, body.StepID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *EventHandler) PlanWebhook(w http.ResponseWriter, r *http.Request) {
	id, ok := eventID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Detail: "invalid event id"})
		return
	}

	var body struct {
		StepID string `json:"step_id"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	e, err := h.Engine.TriggerWebhook(r.Context(), id, body.StepID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *EventHandler) AppendCallLog(w http.ResponseWriter, r *http.Request) {
	id, ok := eventID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Detail: "invalid event id"})
		return
	}

	var entry data.CallLog
	if !decodeBody(w, r, &entry) {
		return
	}
	if entry.Contact == "" {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: "unprocessable", Detail: "contact is required"})
		return
	}

	e, err := h.Engine.AppendCallLog(r.Context(), id, entry)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}
