// Package client implements the consuming side of the protocol: a
// reconnecting websocket client, a REST client for session administration
// and history replay, and the transcript reconciler that merges replayed
// history without duplication.
package client

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/tbulle/remote-ai-ide/internal/logging"
)

const maxReconnectInterval = 30 * time.Second

// WSClient maintains a persistent websocket connection to the gateway,
// transparently reconnecting with exponential backoff.
type WSClient struct {
	url string

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	// Messages delivers raw server events in arrival order.
	Messages chan []byte
	// Reconnected receives one signal per successful reconnect after a
	// prior connection. The first connect does not signal; there is
	// nothing to have missed.
	Reconnected chan struct{}
	// Done closes when the client gives up or is closed.
	Done chan struct{}
}

// NewWSClient connects to the gateway at baseURL using the given token.
func NewWSClient(baseURL, token string) (*WSClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}
	wsURL := fmt.Sprintf("%s://%s/ws?token=%s", scheme, u.Host, url.QueryEscape(token))

	ws := &WSClient{
		url:         wsURL,
		Messages:    make(chan []byte, 100),
		Reconnected: make(chan struct{}, 1),
		Done:        make(chan struct{}),
	}
	if err := ws.connect(); err != nil {
		return nil, err
	}
	go ws.readLoop()
	return ws, nil
}

func (ws *WSClient) connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(ws.url, nil)
	if err != nil {
		return fmt.Errorf("ws connect: %w", err)
	}
	ws.mu.Lock()
	ws.conn = conn
	ws.mu.Unlock()
	return nil
}

func (ws *WSClient) readLoop() {
	defer close(ws.Done)
	for {
		ws.mu.Lock()
		conn := ws.conn
		ws.mu.Unlock()
		if conn == nil {
			return
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ws.isClosed() {
				return
			}
			logging.Debug().Err(err).Msg("ws read error, reconnecting")
			if ws.reconnect() {
				select {
				case ws.Reconnected <- struct{}{}:
				default:
				}
				continue
			}
			return
		}
		ws.Messages <- msg
	}
}

// reconnect retries the dial with capped exponential backoff until it
// succeeds or the client is closed.
func (ws *WSClient) reconnect() bool {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxInterval = maxReconnectInterval
	policy.MaxElapsedTime = 0 // retry until closed

	err := backoff.Retry(func() error {
		if ws.isClosed() {
			return backoff.Permanent(fmt.Errorf("client closed"))
		}
		return ws.connect()
	}, policy)
	return err == nil
}

func (ws *WSClient) isClosed() bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.closed
}

// Send marshals and writes one frame.
func (ws *WSClient) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.conn == nil {
		return fmt.Errorf("not connected")
	}
	return ws.conn.WriteMessage(websocket.TextMessage, data)
}

// Close shuts the connection down cleanly.
func (ws *WSClient) Close() {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.closed = true
	if ws.conn != nil {
		ws.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		ws.conn.Close()
		ws.conn = nil
	}
}
