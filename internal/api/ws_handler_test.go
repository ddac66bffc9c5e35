package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/vdavid/updateagent/internal/models"
	ws "github.com/vdavid/updateagent/internal/websocket"
)

func TestWebSocketHandler(t *testing.T) {
	issuer := newTestIssuer()
	hub := ws.NewHub(2)
	handler := NewWebSocketHandler(issuer, hub)

	server := httptest.NewServer(http.HandlerFunc(handler.Handle))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	token, err := issuer.Issue("user-1", "tenant-1")
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}

	t.Run("receives change events for the tenant", func(t *testing.T) {
		header := http.Header{}
		header.Set("Authorization", "Bearer "+token)

		conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
		if err != nil {
			t.Fatalf("Failed to connect: %v", err)
		}
		defer conn.Close()
		assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

		assert.Eventually(t, func() bool {
			return hub.ActiveConnections("tenant-1") == 1
		}, 2*time.Second, 10*time.Millisecond)

		hub.NotifyPendingUpdatesChanged("tenant-2", "ignored")
		hub.NotifyPendingUpdatesChanged("tenant-1", "draft-1")

		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		assert.NoError(t, err)

		var event models.ChangeEvent
		assert.NoError(t, json.Unmarshal(data, &event))
		assert.Equal(t, models.ChangeEvent{Type: models.ChangeEventPendingUpdates, ID: "draft-1"}, event)
	})

	t.Run("accepts token query parameter", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+token, nil)
		if err != nil {
			t.Fatalf("Failed to connect: %v", err)
		}
		_ = conn.Close()
	})

	t.Run("unregisters on disconnect", func(t *testing.T) {
		assert.Eventually(t, func() bool {
			return hub.ActiveConnections("tenant-1") == 0
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("rejects connection without token", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
		assert.Error(t, err)
		if assert.NotNil(t, resp) {
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		}
	})

	t.Run("rejects invalid token", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL+"?token=forged", nil)
		assert.Error(t, err)
		if assert.NotNil(t, resp) {
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		}
	})
}
