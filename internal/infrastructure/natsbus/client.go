package natsbus

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/blackms/swarm-core/internal/shared"
	"github.com/nats-io/nats.go"
)

// Client wraps a NATS connection.
type Client struct {
	conn *nats.Conn
}

// NewClient connects to an embedded server.
func NewClient(server *Server) (*Client, error) {
	return NewClientFromURL(server.ClientURL())
}

// NewClientFromURL connects to the server at url.
func NewClientFromURL(url string) (*Client, error) {
	conn, err := nats.Connect(url, nats.Name("swarm-core"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

func (c *Client) PublishJSON(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return c.conn.Publish(subject, data)
}

func (c *Client) Subscribe(subject string, handler func(msg *nats.Msg)) (*nats.Subscription, error) {
	return c.conn.Subscribe(subject, handler)
}

// SubscribeEvents delivers every decoded swarm event to handler.
// Undecodable messages are logged and skipped.
func (c *Client) SubscribeEvents(handler func(shared.Event)) (*nats.Subscription, error) {
	return c.conn.Subscribe(SubjectEventsAll, func(msg *nats.Msg) {
		var ev shared.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			slog.Warn("dropping undecodable event", "subject", msg.Subject, "error", err)
			return
		}
		handler(ev)
	})
}

func (c *Client) Flush() error {
	return c.conn.Flush()
}

func (c *Client) Close() {
	c.conn.Close()
}
