// Package gateway terminates client connections: it authenticates the
// websocket handshake, enforces a per-connection frame budget, validates
// and dispatches protocol frames to sessions, and serializes session
// output back to the wire. It also serves the REST surface used for
// session administration and history replay.
package gateway

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tbulle/remote-ai-ide/internal/event"
	"github.com/tbulle/remote-ai-ide/internal/logging"
	"github.com/tbulle/remote-ai-ide/internal/project"
	"github.com/tbulle/remote-ai-ide/internal/protocol"
	"github.com/tbulle/remote-ai-ide/internal/session"
)

const (
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second

	// closeUnauthorized is the websocket close code for a rejected
	// handshake credential.
	closeUnauthorized = 4001

	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Token auth happens after the upgrade.
	},
}

// TokenValidator decides whether a connection credential is accepted.
// Validation itself is an external concern; the gateway only owns the
// rejection behavior.
type TokenValidator func(token string) bool

// Config holds gateway tunables.
type Config struct {
	ValidateToken TokenValidator
	RateLimit     int
	RateWindow    time.Duration
}

// Gateway routes protocol frames between connected clients and sessions.
type Gateway struct {
	registry *session.Registry
	projects *project.Discovery
	cfg      Config

	clientsMu sync.RWMutex
	clients   map[*client]bool

	busUnsub func()
}

type client struct {
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	gw      *Gateway
	limiter *slidingWindow
}

// New creates a gateway. If bus is non-nil the gateway subscribes to it
// and pushes session state changes to every connected client.
func New(registry *session.Registry, projects *project.Discovery, bus *event.Bus, cfg Config) *Gateway {
	if cfg.ValidateToken == nil {
		cfg.ValidateToken = func(string) bool { return true }
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 30
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}

	g := &Gateway{
		registry: registry,
		projects: projects,
		cfg:      cfg,
		clients:  make(map[*client]bool),
	}

	if bus != nil {
		g.busUnsub = bus.Subscribe(func(ev event.SessionEvent) {
			if ev.Type == event.SessionDeleted {
				return
			}
			g.broadcast(protocol.NewSessionState(ev.SessionID, ev.Status, ev.MessageCount))
		})
	}

	return g
}

// Close detaches the gateway from the event bus.
func (g *Gateway) Close() {
	if g.busUnsub != nil {
		g.busUnsub()
	}
}

// handleWebSocket upgrades the connection, checks the handshake token, and
// starts the read/write pumps.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	token := r.URL.Query().Get("token")
	if !g.cfg.ValidateToken(token) {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(closeUnauthorized, "Unauthorized"),
			time.Now().Add(writeDeadline),
		)
		conn.Close()
		return
	}

	c := &client{
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		done:    make(chan struct{}),
		gw:      g,
		limiter: newSlidingWindow(g.cfg.RateLimit, g.cfg.RateWindow),
	}

	g.clientsMu.Lock()
	g.clients[c] = true
	g.clientsMu.Unlock()

	go c.writePump()
	go c.readPump()
}

// readPump reads frames from the connection until it drops.
func (c *client) readPump() {
	defer func() {
		c.gw.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Debug().Err(err).Msg("websocket read error")
			}
			return
		}
		c.gw.handleFrame(c, raw)
	}
}

// writePump writes queued events and keepalive pings to the connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func (g *Gateway) removeClient(c *client) {
	g.clientsMu.Lock()
	if _, ok := g.clients[c]; ok {
		delete(g.clients, c)
		close(c.done)
	}
	g.clientsMu.Unlock()
}

// broadcast sends an event to every connected client.
func (g *Gateway) broadcast(v any) {
	g.clientsMu.RLock()
	clients := make([]*client, 0, len(g.clients))
	for c := range g.clients {
		clients = append(clients, c)
	}
	g.clientsMu.RUnlock()

	for _, c := range clients {
		c.enqueue(v)
	}
}
