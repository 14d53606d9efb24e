package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bondings/bondings/internal/api"
	"github.com/bondings/bondings/internal/ledger"
)

// EventStream reads ledger events from the daemon's websocket feed.
type EventStream struct {
	conn *websocket.Conn
}

// Events opens the event feed, filtered to bondings when any are given.
// It returns once the daemon has registered the stream, so no event
// committed after the call returns is missed.
func (c *APIClient) Events(ctx context.Context, bondings ...string) (*EventStream, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API endpoint: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/events"
	q := url.Values{}
	for _, name := range bondings {
		q.Add("bonding", name)
	}
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to event stream: %w", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	s := &EventStream{conn: conn}
	if err := s.handshake(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// handshake round-trips a ping. The daemon only reads from registered
// clients, so the pong proves registration.
func (s *EventStream) handshake() error {
	if err := s.conn.WriteJSON(api.WebSocketMessage{Type: "ping"}); err != nil {
		return fmt.Errorf("event stream handshake: %w", err)
	}
	s.conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	defer s.conn.SetReadDeadline(time.Time{})

	for {
		var msg api.WebSocketMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("event stream handshake: %w", err)
		}
		if msg.Type == "pong" {
			return nil
		}
	}
}

// Next blocks until the next ledger event arrives. Control replies are
// skipped.
func (s *EventStream) Next() (*ledger.Event, error) {
	for {
		var msg struct {
			Type    string          `json:"type"`
			Channel string          `json:"channel"`
			Data    json.RawMessage `json:"data"`
		}
		if err := s.conn.ReadJSON(&msg); err != nil {
			return nil, err
		}
		switch msg.Type {
		case "pong", "subscribed", "unsubscribed":
			continue
		}

		var ev ledger.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return nil, fmt.Errorf("malformed event: %w", err)
		}
		return &ev, nil
	}
}

// Close closes the websocket connection.
func (s *EventStream) Close() error {
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return s.conn.Close()
}
