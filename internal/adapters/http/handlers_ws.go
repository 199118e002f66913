package http

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/viralforge/mesh/services/core-platform/M09-identity-consistency-service/internal/hub"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) Write(message []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.conn.WriteMessage(websocket.TextMessage, message)
}

func (w *wsWriter) Close() error {
	return w.conn.Close()
}

type wsClientMessage struct {
	Type string `json:"type"`
}

// syncWebsocket handles GET /identity/v1/sync/ws. The socket only pushes
// hints; clients still poll sync status as the authoritative source, so the
// read loop accepts nothing but pings.
func (h *Handler) syncWebsocket(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "NOT_AUTHENTICATED", "missing bearer token")
		return
	}
	if h.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "PUSH_DISABLED", "push channel is not enabled")
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	conn := &hub.Connection{
		IdentityID: claims.IdentityID.String(),
		DeviceID:   claims.DeviceID.String(),
		Writer:     &wsWriter{conn: ws},
	}
	h.hub.Register(conn)
	defer func() {
		h.hub.Unregister(conn)
		_ = ws.Close()
	}()

	ws.SetReadLimit(4096)
	const pongWait = 60 * time.Second
	const writeWait = 10 * time.Second
	pingPeriod := (pongWait * 9) / 10

	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	var closeOnce sync.Once
	defer closeOnce.Do(func() { close(done) })

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				deadline := time.Now().Add(writeWait)
				if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					_ = ws.Close()
					return
				}
			}
		}
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg wsClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			out, _ := json.Marshal(map[string]string{"type": "pong"})
			_ = conn.Writer.Write(out)
		}
	}
}
