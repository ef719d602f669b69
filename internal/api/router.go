package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/technosupport/ts-monitor/internal/hlsd"
	"github.com/technosupport/ts-monitor/internal/hub"
	"github.com/technosupport/ts-monitor/internal/tokens"
)

// Deps is everything the operator-facing HTTP surface needs.
type Deps struct {
	Events  *EventHandler
	Streams *StreamHandler
	Audit   *AuditHandler
	HLS     *hlsd.Handler
	WS      *hub.WSHandler
	Tokens  *tokens.Manager
}

// NewRouter assembles the HTTP surface:
//
//	/ws                     operator broadcast channel (token in query)
//	/api/v1/...             operator API (bearer token)
//	/hls/{camera_id}/{file} live playback (HMAC playback token)
//	/metrics                prometheus
func NewRouter(d Deps) chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/ws", d.WS.ServeWS)
	r.Handle("/metrics", promhttp.Handler())
	d.HLS.Register(r)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(requireToken(d.Tokens))

		r.Route("/streams/{camera_id}", func(r chi.Router) {
			r.Post("/acquire", d.Streams.Acquire)
			r.Post("/release", d.Streams.Release)
			r.Get("/status", d.Streams.Status)
		})

		r.Route("/events/{id}", func(r chi.Router) {
			r.Get("/", d.Events.Get)
			r.Post("/transition", d.Events.Transition)
			r.Post("/plan/answer", d.Events.PlanAnswer)
			r.Post("/plan/toggle", d.Events.PlanToggle)
			r.Post("/plan/webhook", d.Events.PlanWebhook)
			r.Post("/call-logs", d.Events.AppendCallLog)
		})

		r.Route("/audit", func(r chi.Router) {
			r.Get("/", d.Audit.List)
			r.Get("/export", d.Audit.Export)
		})
	})

	return r
}

// requireToken gates the operator API on a valid bearer token and
// stashes the claims for account-scoped handlers. User and permission
// management live outside this service; we only verify the signature
// and expiry.
func requireToken(tm *tokens.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if raw == "" {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
				return
			}
			claims, err := tm.ValidateToken(raw)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
				return
			}
			next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
		})
	}
}
