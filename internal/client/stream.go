package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/modlnet/modl/internal/api"
)

// Stream subscribes to the node's live event feed and calls fn for each
// ledger event until ctx is done, the connection drops or fn fails. An
// empty names list subscribes to every event.
func (c *Client) Stream(ctx context.Context, names []string, fn func(Event) error) error {
	return c.StreamFrom(ctx, -1, names, fn)
}

// StreamFrom is Stream preceded by a replay of the logged events from
// index from on. Nothing is replayed when from is negative.
func (c *Client) StreamFrom(ctx context.Context, from int, names []string, fn func(Event) error) error {
	u, err := url.Parse(c.baseURL + "/v1/events/ws")
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	q := u.Query()
	if len(names) > 0 {
		q.Set("events", strings.Join(names, ","))
	}
	if from >= 0 {
		q.Set("from", strconv.Itoa(from))
	}
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect to event stream: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var msg struct {
			Type    string          `json:"type"`
			Channel string          `json:"channel"`
			Data    json.RawMessage `json:"data"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("event stream closed: %w", err)
		}
		if msg.Type != api.StreamEventType {
			continue
		}
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return fmt.Errorf("failed to decode event: %w", err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}
