package drafts

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/vdavid/updateagent/internal/models"
)

const changeFeedPath = "/api/ws"

// WatchURL returns the websocket URL of the change feed.
func (s *Store) WatchURL() string {
	switch {
	case strings.HasPrefix(s.baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(s.baseURL, "https://") + changeFeedPath
	case strings.HasPrefix(s.baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(s.baseURL, "http://") + changeFeedPath
	default:
		return s.baseURL + changeFeedPath
	}
}

// Watch follows the server's change feed and reloads the collection after
// every draft change, such as one made from another client. It blocks until
// ctx is done or the connection fails. ready, if non-nil, is closed once the
// feed is connected.
func (s *Store) Watch(ctx context.Context, ready chan<- struct{}) error {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, s.WatchURL(), s.auth.AuthorizationHeader())
	if err != nil {
		if resp != nil {
			return fmt.Errorf("failed to connect to change feed: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("failed to connect to change feed: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	if ready != nil {
		close(ready)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("change feed closed: %w", err)
		}

		var event models.ChangeEvent
		if err := json.Unmarshal(data, &event); err != nil {
			log.Printf("DraftStore: Ignoring malformed change event: %v", err)
			continue
		}
		if event.Type != models.ChangeEventPendingUpdates {
			continue
		}

		s.Load(ctx)
	}
}
