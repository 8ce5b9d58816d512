// Package relay serves a local WebSocket endpoint that proxies frames to the
// realtime speech service, attaching service credentials on the way so browser
// clients never see a key or token.
package relay

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"voicebridge/internal/channel"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin: func(r *http.Request) bool {
		// Local proxy for browser demos; restrict in production.
		return true
	},
}

// Options configure the upstream the relay connects each client session to.
type Options struct {
	Upstream channel.Options
}

// Server is the relay HTTP server. One upstream connection is dialed per
// client WebSocket; frames are piped verbatim in both directions.
type Server struct {
	echo *echo.Echo
	opts Options
}

// New builds the routed server. Call Start to listen.
func New(opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	s := &Server{echo: e, opts: opts}
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/voice-live", s.handleSession)
	return s
}

// Handler exposes the routed handler for embedding in another server.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on address and blocks until Shutdown or a listener error.
func (s *Server) Start(address string) error {
	return s.echo.Start(address)
}

// Shutdown stops the listener gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleSession(c echo.Context) error {
	client, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade already wrote the failure response.
		return nil
	}
	defer func() { _ = client.Close() }()

	ctx := c.Request().Context()
	upstream, err := s.dialUpstream(ctx)
	if err != nil {
		log.Printf("relay: upstream connect failed: %v", err)
		_ = client.WriteJSON(map[string]string{
			"type":  "connection.error",
			"error": "upstream unavailable",
		})
		deadline := time.Now().Add(time.Second)
		_ = client.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "upstream unavailable"), deadline)
		return nil
	}
	defer func() { _ = upstream.Close() }()

	_ = client.WriteJSON(map[string]string{"type": "connection.established"})
	log.Printf("relay: session open from %s", c.RealIP())
	errc := make(chan error, 2)
	go pipe(upstream, client, errc)
	go pipe(client, upstream, errc)
	err = <-errc
	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		log.Printf("relay: session from %s ended: %v", c.RealIP(), err)
	}
	return nil
}

func (s *Server) dialUpstream(ctx context.Context) (*websocket.Conn, error) {
	token, _, err := s.opts.Upstream.Credentials.Token(ctx, channel.TokenScope)
	if err != nil {
		return nil, err
	}
	wsURL, err := channel.EndpointURL(s.opts.Upstream, token)
	if err != nil {
		return nil, err
	}
	headers := map[string][]string{
		"Authorization":          {"Bearer " + token},
		"x-ms-client-request-id": {uuid.NewString()},
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			log.Printf("relay: upstream handshake status %d", resp.StatusCode)
		}
		return nil, err
	}
	return conn, nil
}

// pipe copies frames from src to dst until either side fails, preserving the
// message type of each frame.
func pipe(dst, src *websocket.Conn, errc chan<- error) {
	for {
		mt, data, err := src.ReadMessage()
		if err != nil {
			errc <- err
			return
		}
		if err := dst.WriteMessage(mt, data); err != nil {
			errc <- err
			return
		}
	}
}
