package testutil

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cory-johannsen/dungeon-relay/internal/relay"
)

// DefaultWait bounds how long the client waits for an expected frame.
const DefaultWait = 3 * time.Second

// WSClient is a WebSocket relay client for integration tests.
type WSClient struct {
	conn *websocket.Conn
	t    *testing.T
}

// NewWSClient dials url and returns a test client closed at test cleanup.
//
// Precondition: url must be a ws:// URL served by the relay.
// Postcondition: Returns a connected WSClient or fails the test.
func NewWSClient(t *testing.T, url string) *WSClient {
	t.Helper()
	start := time.Now()

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("connecting to %s: %v [%s]", url, err, time.Since(start))
	}
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })

	t.Logf("websocket client connected to %s [%s]", url, time.Since(start))
	return &WSClient{conn: conn, t: t}
}

// Conn returns the underlying connection.
func (c *WSClient) Conn() *websocket.Conn {
	return c.conn
}

// Send writes one relay envelope.
func (c *WSClient) Send(msgType string, data any) {
	c.t.Helper()
	frame, err := relay.Encode(msgType, data)
	if err != nil {
		c.t.Fatalf("encoding %s: %v", msgType, err)
	}
	c.SendRaw(frame)
}

// SendRaw writes frame as a text message.
func (c *WSClient) SendRaw(frame []byte) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(DefaultWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		c.t.Fatalf("sending %q: %v", frame, err)
	}
}

// Expect reads frames, skipping others, until one of msgType arrives.
//
// Postcondition: Returns the matching envelope, or fails after DefaultWait.
func (c *WSClient) Expect(msgType string) relay.Envelope {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(DefaultWait))
	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			c.t.Fatalf("waiting for %s: %v", msgType, err)
		}
		var env relay.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			c.t.Fatalf("decoding frame %q: %v", frame, err)
		}
		if env.Type == msgType {
			return env
		}
	}
}

// ReadError reads until the connection fails and returns that error.
func (c *WSClient) ReadError() error {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(DefaultWait))
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return err
		}
	}
}

// CloseNormal sends a normal-closure close frame.
func (c *WSClient) CloseNormal() {
	c.t.Helper()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	if err := c.conn.WriteMessage(websocket.CloseMessage, msg); err != nil {
		c.t.Fatalf("closing: %v", err)
	}
}
