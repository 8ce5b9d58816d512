// Package channel provides the duplex message channel to the realtime speech
// service: one WebSocket carrying framed JSON events in each direction.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"voicebridge/internal/auth"
	"voicebridge/internal/wire"
)

// ErrChannelClosed is returned by Send once the connection is gone.
var ErrChannelClosed = errors.New("channel closed")

// TokenScope is the credential scope requested for service connections.
const TokenScope = "https://ai.azure.com/.default"

// Options configure the connection target. Exactly one of AgentID (with
// ProjectName) or ModelID selects the upstream conversational backend.
type Options struct {
	Endpoint    string
	APIVersion  string
	ProjectName string
	AgentID     string
	ModelID     string
	Credentials auth.TokenProvider
}

// Channel wraps one WebSocket connection. Inbound events are delivered on
// Events in receipt order, exactly once each; an unexpected closure closes
// Disconnected exactly once.
type Channel struct {
	opts Options

	conn   *websocket.Conn
	events chan wire.Event

	writeMu sync.Mutex

	mu        sync.Mutex
	connected bool

	disconnected   chan struct{}
	disconnectOnce sync.Once
	quit           chan struct{}
	closeOnce      sync.Once
}

// New constructs an unconnected Channel.
func New(opts Options) *Channel {
	return &Channel{
		opts:         opts,
		events:       make(chan wire.Event, 256),
		disconnected: make(chan struct{}),
		quit:         make(chan struct{}),
	}
}

// EndpointURL builds the service connection URL for the given options, carrying
// the access token as a query parameter in addition to the Authorization header.
func EndpointURL(opts Options, token string) (string, error) {
	endpoint := strings.TrimSuffix(opts.Endpoint, "/")
	endpoint = strings.Replace(endpoint, "https://", "wss://", 1)
	endpoint = strings.Replace(endpoint, "http://", "ws://", 1)
	if endpoint == "" {
		return "", fmt.Errorf("channel: endpoint not configured")
	}

	params := url.Values{}
	params.Set("api-version", opts.APIVersion)
	if opts.AgentID != "" {
		params.Set("agent-project-name", opts.ProjectName)
		params.Set("agent-id", opts.AgentID)
	} else if opts.ModelID != "" {
		params.Set("model", opts.ModelID)
	}
	params.Set("agent-access-token", token)
	return fmt.Sprintf("%s/voice-live/realtime?%s", endpoint, params.Encode()), nil
}

// Open acquires a token, dials the service and starts the read loop.
func (c *Channel) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	token, _, err := c.opts.Credentials.Token(ctx, TokenScope)
	if err != nil {
		return fmt.Errorf("channel: acquire token: %w", err)
	}

	wsURL, err := EndpointURL(c.opts, token)
	if err != nil {
		return err
	}

	headers := map[string][]string{
		"Authorization":          {"Bearer " + token},
		"x-ms-client-request-id": {uuid.NewString()},
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			log.Printf("channel: connect failed with status %d", resp.StatusCode)
		}
		return fmt.Errorf("channel: dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	go c.readLoop(conn)
	return nil
}

// Events delivers inbound events in the order received.
func (c *Channel) Events() <-chan wire.Event { return c.events }

// Disconnected is closed exactly once when the connection drops unexpectedly.
// A deliberate Close does not trigger it.
func (c *Channel) Disconnected() <-chan struct{} { return c.disconnected }

// Send encodes and writes one event. It fails with ErrChannelClosed once the
// connection is gone.
func (c *Channel) Send(ev wire.Event) error {
	c.mu.Lock()
	conn, connected := c.conn, c.connected
	c.mu.Unlock()
	if !connected || conn == nil {
		return ErrChannelClosed
	}

	data, err := wire.Encode(ev)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: %v", ErrChannelClosed, err)
	}
	return nil
}

// Close tears the connection down. It is idempotent and does not raise a
// disconnect notification.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		close(c.quit)
		c.mu.Lock()
		conn := c.conn
		c.connected = false
		c.conn = nil
		c.mu.Unlock()
		if conn != nil {
			deadline := time.Now().Add(time.Second)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			_ = conn.Close()
		}
	})
	return nil
}

// readLoop drains the connection until it fails, decoding frames and delivering
// them in order. Malformed frames are logged and skipped, never fatal.
func (c *Channel) readLoop(conn *websocket.Conn) {
	defer close(c.events)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			wasConnected := c.connected
			c.connected = false
			c.mu.Unlock()
			if wasConnected {
				log.Printf("channel: read: %v", err)
				c.disconnectOnce.Do(func() { close(c.disconnected) })
			}
			return
		}
		ev, err := wire.Decode(data)
		if err != nil {
			log.Printf("channel: skipping malformed event: %v", err)
			continue
		}
		// Delivery must not outlive Close: with no consumer left, an
		// unguarded send would pin this goroutine and the connection forever.
		select {
		case c.events <- ev:
		case <-c.quit:
			return
		}
	}
}
