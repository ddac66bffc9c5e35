package api

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/vdavid/updateagent/internal/auth"
	ws "github.com/vdavid/updateagent/internal/websocket"
)

// WebSocketHandler handles the /api/ws change feed.
type WebSocketHandler struct {
	validator auth.TokenValidator
	hub       *ws.Hub
}

// NewWebSocketHandler creates a new WebSocketHandler instance.
func NewWebSocketHandler(validator auth.TokenValidator, hub *ws.Hub) *WebSocketHandler {
	return &WebSocketHandler{
		validator: validator,
		hub:       hub,
	}
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The server is expected to sit behind a same-origin reverse proxy.
		return true
	},
}

// Handle upgrades the HTTP connection to a WebSocket and registers it with the Hub
// under the caller's tenant. The access token comes from the Authorization header,
// or from ?token= for browsers, which cannot set headers on WebSocket requests.
func (h *WebSocketHandler) Handle(w http.ResponseWriter, r *http.Request) {
	token, ok := auth.BearerToken(r)
	if !ok {
		token = r.URL.Query().Get("token")
	}

	if token == "" {
		log.Printf("WebSocketHandler: No token provided (neither Authorization header nor query parameter)")
		writeDetail(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	claims, err := h.validator.Validate(token)
	if err != nil {
		log.Printf("WebSocketHandler: Token validation failed: %v", err)
		writeDetail(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocketHandler: failed to upgrade connection for tenant %s: %v", claims.TenantID, err)
		return
	}

	client := h.hub.Register(claims.TenantID, conn)
	if client == nil {
		log.Printf("WebSocketHandler: Connection rejected for tenant %s (max connections exceeded)", claims.TenantID)
		return
	}

	// Read loop to keep the connection open and detect disconnects.
	go h.readLoop(claims.TenantID, client)
}

// readLoop reads messages until the connection closes, then unregisters the client.
func (h *WebSocketHandler) readLoop(tenantID string, client *ws.Client) {
	conn := client.Conn()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.hub.Unregister(tenantID, client)
}
