package api

import (
	"context"
	"log"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/technosupport/ts-monitor/internal/audit"
	"github.com/technosupport/ts-monitor/internal/tokens"
)

type ctxKey int

const claimsKey ctxKey = iota

func withClaims(ctx context.Context, c *tokens.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

func claimsFrom(ctx context.Context) (*tokens.Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*tokens.Claims)
	return c, ok
}

// AuditHandler is the read-only surface over the audit trail: cursor
// pagination for the UI and a JSONL export for compliance requests.
// Scope is always the token's account.
type AuditHandler struct {
	Service *audit.Service
}

func NewAuditHandler(s *audit.Service) *AuditHandler {
	return &AuditHandler{Service: s}
}

func (h *AuditHandler) accountID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	claims, ok := claimsFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
		return uuid.Nil, false
	}
	id, err := uuid.Parse(claims.AccountID)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountID(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	f := audit.AuditFilter{
		AccountID: accountID,
		Result:    q.Get("result"),
		Cursor:    q.Get("cursor"),
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Detail: "invalid limit"})
			return
		}
		f.Limit = n
	}

	events, next, err := h.Service.QueryEvents(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []audit.AuditEvent{}
	}

	writeJSON(w, http.StatusOK, struct {
		Events     []audit.AuditEvent `json:"events"`
		NextCursor string             `json:"next_cursor,omitempty"`
	}{events, next})
}

func (h *AuditHandler) Export(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountID(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Content-Disposition", `attachment; filename="audit-trail.jsonl"`)
	if err := h.Service.ExportEvents(r.Context(), audit.AuditFilter{AccountID: accountID}, w); err != nil {
		// Headers are gone; all we can do is log and cut the stream.
		log.Printf("[API] Audit export for account %s: %v", accountID, err)
	}
}
