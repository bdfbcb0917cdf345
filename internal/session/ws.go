package session

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsMessage is the JSON message format for the browser-control WebSocket.
type wsMessage struct {
	Type     string          `json:"type"` // "open_session", "close_session"
	WorkerID string          `json:"worker_id"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// wsResponse is a JSON response from the browser-control endpoint.
type wsResponse struct {
	Type      string `json:"type"` // "session_opened", "error"
	SessionID string `json:"session_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// WSProvider opens browser sessions by speaking JSON over a WebSocket to a
// remote browser-control endpoint. One connection is held per worker for the
// lifetime of its session.
type WSProvider struct {
	endpoint string
	dialer   *websocket.Dialer

	mu    sync.Mutex
	conns map[string]*websocket.Conn
}

// NewWSProvider creates a provider dialing the given ws:// endpoint.
func NewWSProvider(endpoint string) *WSProvider {
	return &WSProvider{
		endpoint: endpoint,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		conns:    make(map[string]*websocket.Conn),
	}
}

// Open dials the endpoint and requests a session for the worker.
func (p *WSProvider) Open(workerID string) (*Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.conns[workerID]; ok {
		return nil, fmt.Errorf("session already open for worker %s", workerID)
	}

	conn, _, err := p.dialer.Dial(p.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial browser control: %w", err)
	}

	if err := conn.WriteJSON(wsMessage{Type: "open_session", WorkerID: workerID}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send open_session: %w", err)
	}

	var resp wsResponse
	if err := conn.ReadJSON(&resp); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read open_session response: %w", err)
	}
	if resp.Type != "session_opened" {
		conn.Close()
		return nil, fmt.Errorf("open session for %s: %s", workerID, resp.Error)
	}

	p.conns[workerID] = conn
	return &Handle{WorkerID: workerID, ID: resp.SessionID, OpenedAt: time.Now()}, nil
}

// Close asks the endpoint to tear the session down and drops the connection.
// Closing an unopened session is not an error.
func (p *WSProvider) Close(workerID string) error {
	p.mu.Lock()
	conn, ok := p.conns[workerID]
	if ok {
		delete(p.conns, workerID)
	}
	p.mu.Unlock()
	if !ok {
		return nil
	}

	// Best effort: the endpoint reaps sessions on disconnect anyway.
	_ = conn.WriteJSON(wsMessage{Type: "close_session", WorkerID: workerID})
	if err := conn.Close(); err != nil {
		return fmt.Errorf("close session conn: %w", err)
	}
	return nil
}
