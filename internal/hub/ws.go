package hub

import (
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/technosupport/ts-monitor/internal/tokens"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Browser clients connect from the operator UI origin; the channel
	// itself is authenticated by the token below.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSHandler upgrades operator connections and pumps hub messages out.
type WSHandler struct {
	Hub    *Hub
	Tokens *tokens.Manager
}

func NewWSHandler(h *Hub, tm *tokens.Manager) *WSHandler {
	return &WSHandler{Hub: h, Tokens: tm}
}

// ServeWS handles GET /ws?token=. The token's account claim scopes the
// subscription; messages for other accounts are never delivered.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	claims, err := h.Tokens.ValidateToken(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	accountID, err := uuid.Parse(claims.AccountID)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Hub] Upgrade failed: %v", err)
		return
	}

	sub := h.Hub.Subscribe(accountID)

	go h.writePump(conn, sub)
	go h.readPump(conn, sub)
}

func (h *WSHandler) writePump(conn *websocket.Conn, sub *Subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-sub.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub dropped us (slow consumer or shutdown).
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "queue overflow"))
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				h.Hub.Unsubscribe(sub)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.Hub.Unsubscribe(sub)
				return
			}
		}
	}
}

// readPump discards client frames; it exists to process pongs and
// detect closed connections promptly.
func (h *WSHandler) readPump(conn *websocket.Conn, sub *Subscriber) {
	defer h.Hub.Unsubscribe(sub)

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
