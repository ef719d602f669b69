package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/technosupport/ts-monitor/internal/data"
	"github.com/technosupport/ts-monitor/internal/hlsd"
	"github.com/technosupport/ts-monitor/internal/stream"
)

type CameraReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*data.Camera, error)
}

// StreamHandler exposes acquire/release/status for live sessions.
// Acquire hands back a lease id; the client releases the same lease.
// Unreleased leases are covered by the supervisor's idle grace once
// their websocket/page goes away and the client re-acquires.
type StreamHandler struct {
	Sup      *stream.Supervisor
	Cameras  CameraReader
	SignKid  string
	SignKey  []byte
	TokenTTL time.Duration

	mu     sync.Mutex
	leases map[uuid.UUID]*stream.Handle
}

func NewStreamHandler(sup *stream.Supervisor, cameras CameraReader, kid string, key []byte, ttl time.Duration) *StreamHandler {
	return &StreamHandler{
		Sup:      sup,
		Cameras:  cameras,
		SignKid:  kid,
		SignKey:  key,
		TokenTTL: ttl,
		leases:   make(map[uuid.UUID]*stream.Handle),
	}
}

func cameraID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "camera_id"))
	return id, err == nil
}

func (h *StreamHandler) Acquire(w http.ResponseWriter, r *http.Request) {
	id, ok := cameraID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Detail: "invalid camera id"})
		return
	}

	camera, err := h.Cameras.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	handle, err := h.Sup.Acquire(r.Context(), camera)
	if err != nil {
		writeError(w, err)
		return
	}

	leaseID := uuid.New()
	h.mu.Lock()
	h.leases[leaseID] = handle
	h.mu.Unlock()

	token := hlsd.SignPlaybackURL(id.String(), h.SignKid, h.SignKey, h.TokenTTL)
	writeJSON(w, http.StatusOK, map[string]any{
		"lease_id":     leaseID,
		"playback_url": fmt.Sprintf("/hls/%s/manifest.m3u8?%s", id, token.Encode()),
		"status":       h.Sup.Status(id),
	})
}

func (h *StreamHandler) Release(w http.ResponseWriter, r *http.Request) {
	id, ok := cameraID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Detail: "invalid camera id"})
		return
	}

	var body struct {
		LeaseID uuid.UUID `json:"lease_id"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	h.mu.Lock()
	handle, ok := h.leases[body.LeaseID]
	if ok {
		delete(h.leases, body.LeaseID)
	}
	h.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found", Detail: "unknown lease"})
		return
	}

	handle.Release()
	writeJSON(w, http.StatusOK, map[string]any{"status": h.Sup.Status(id)})
}

func (h *StreamHandler) Status(w http.ResponseWriter, r *http.Request) {
	id, ok := cameraID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Detail: "invalid camera id"})
		return
	}
	writeJSON(w, http.StatusOK, h.Sup.Status(id))
}
