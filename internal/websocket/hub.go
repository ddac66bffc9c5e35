package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vdavid/updateagent/internal/models"
)

const writeWait = 10 * time.Second

// Client wraps a WebSocket connection. Writes are serialized.
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

func (c *Client) write(msg []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

// Hub manages active WebSocket connections per tenant.
// Every staff member's tab of a tenant is one client.
type Hub struct {
	mu           sync.RWMutex
	clients      map[string]map[*Client]struct{} // tenantID -> set of clients
	maxPerTenant int
}

// NewHub creates a new Hub with a per-tenant connection limit.
func NewHub(maxPerTenant int) *Hub {
	if maxPerTenant <= 0 {
		maxPerTenant = 10
	}
	return &Hub{
		clients:      make(map[string]map[*Client]struct{}),
		maxPerTenant: maxPerTenant,
	}
}

// Register adds a WebSocket connection for the given tenant.
// If the per-tenant limit is exceeded, the new connection is closed and nil is returned.
func (h *Hub) Register(tenantID string, conn *websocket.Conn) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	tenantClients, ok := h.clients[tenantID]
	if !ok {
		tenantClients = make(map[*Client]struct{})
		h.clients[tenantID] = tenantClients
	}

	if len(tenantClients) >= h.maxPerTenant {
		log.Printf("websocket: tenant %s exceeded max connections (%d), closing new connection", tenantID, h.maxPerTenant)
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many connections for this tenant"),
			time.Now().Add(writeWait),
		)
		_ = conn.Close()
		return nil
	}

	client := &Client{conn: conn}
	tenantClients[client] = struct{}{}
	return client
}

// Unregister removes a client for the given tenant and closes the connection.
func (h *Hub) Unregister(tenantID string, client *Client) {
	if client == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if tenantClients, ok := h.clients[tenantID]; ok {
		delete(tenantClients, client)
		if len(tenantClients) == 0 {
			delete(h.clients, tenantID)
		}
	}

	_ = client.conn.Close()
}

// Send writes msg to every active client of the tenant.
func (h *Hub) Send(tenantID string, msg []byte) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients[tenantID]))
	for client := range h.clients[tenantID] {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	for _, client := range targets {
		if err := client.write(msg); err != nil {
			log.Printf("websocket: failed to write message for tenant %s: %v", tenantID, err)
			// Best-effort cleanup: unregister this client.
			go h.Unregister(tenantID, client)
		}
	}
}

// NotifyPendingUpdatesChanged tells the tenant's clients to reload their drafts.
func (h *Hub) NotifyPendingUpdatesChanged(tenantID, id string) {
	msg, err := json.Marshal(models.ChangeEvent{Type: models.ChangeEventPendingUpdates, ID: id})
	if err != nil {
		log.Printf("websocket: failed to encode change event: %v", err)
		return
	}
	h.Send(tenantID, msg)
}

// ActiveConnections returns the number of active WebSocket connections for a tenant.
func (h *Hub) ActiveConnections(tenantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients[tenantID])
}
