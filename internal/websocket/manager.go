// Package websocket implements the control channel between the dev server
// and running apps. Apps connected to the message endpoint receive
// broadcast commands such as reload; apps connected to the hot endpoint
// forward their console output as client_log frames.
//
// The manager follows the hub pattern: one goroutine owns registration and
// broadcast fan-out, and every client has its own buffered write pump so a
// slow or dead client never blocks the others.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/woody-morgan/react-native-esbuild/internal/logging"
)

const (
	sendBufferSize = 16
	writeTimeout   = 10 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 1 << 20
)

// Options configures a Manager.
type Options struct {
	Logger   logging.Logger
	Reporter Reporter
	// OriginPatterns are passed to the upgrade. Empty accepts requests
	// without an Origin header and same-host origins only.
	OriginPatterns []string
}

// Manager handles WebSocket connections and command broadcasting
type Manager struct {
	clients      map[string]*Client
	clientsMutex sync.RWMutex

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	logger         logging.Logger
	reporter       Reporter
	originPatterns []string

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
	hubDone      chan struct{}

	// stopping guards wg: no client goroutine is added once Shutdown began
	stoppingMu sync.Mutex
	stopping   bool
	wg         sync.WaitGroup
}

// NewManager creates a manager and starts its hub goroutine.
func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		clients:        make(map[string]*Client),
		broadcast:      make(chan []byte, 64),
		register:       make(chan *Client, 32),
		unregister:     make(chan *Client, 32),
		logger:         logger.WithComponent("websocket"),
		reporter:       opts.Reporter,
		originPatterns: opts.OriginPatterns,
		ctx:            ctx,
		cancel:         cancel,
		hubDone:        make(chan struct{}),
	}

	go m.runHub()
	return m
}

// HandleMessage serves the message endpoint.
func (m *Manager) HandleMessage(w http.ResponseWriter, r *http.Request) {
	m.serve(w, r, RoleMessage)
}

// HandleHot serves the hot endpoint.
func (m *Manager) HandleHot(w http.ResponseWriter, r *http.Request) {
	m.serve(w, r, RoleHot)
}

func (m *Manager) serve(w http.ResponseWriter, r *http.Request, role Role) {
	if m.IsShutdown() {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  m.originPatterns,
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		// Accept has already written the response
		m.logger.Warn(r.Context(), err, "WebSocket upgrade failed", "remote", r.RemoteAddr)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	now := time.Now()
	client := &Client{
		id:           uuid.NewString(),
		role:         role,
		conn:         conn,
		send:         make(chan []byte, sendBufferSize),
		remoteAddr:   r.RemoteAddr,
		connectedAt:  now,
		lastActivity: now,
	}

	if !m.track() {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer m.wg.Done()

	select {
	case m.register <- client:
	case <-m.ctx.Done():
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}

	m.handleClient(client)
}

// track counts a client goroutine for Shutdown to wait on. It fails once
// Shutdown has begun.
func (m *Manager) track() bool {
	m.stoppingMu.Lock()
	defer m.stoppingMu.Unlock()
	if m.stopping {
		return false
	}
	m.wg.Add(1)
	return true
}

// runHub manages client registration and broadcast fan-out
func (m *Manager) runHub() {
	defer close(m.hubDone)
	for {
		select {
		case client := <-m.register:
			m.registerClient(client)

		case client := <-m.unregister:
			m.unregisterClient(client)

		case message := <-m.broadcast:
			m.broadcastToClients(message)

		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Manager) registerClient(client *Client) {
	m.clientsMutex.Lock()
	m.clients[client.id] = client
	total := len(m.clients)
	m.clientsMutex.Unlock()

	m.logger.Debug(m.ctx, "Client connected",
		"client", client.id, "role", string(client.role), "remote", client.remoteAddr, "clients", total)
}

func (m *Manager) unregisterClient(client *Client) {
	m.clientsMutex.Lock()
	_, exists := m.clients[client.id]
	if exists {
		delete(m.clients, client.id)
		close(client.send)
	}
	total := len(m.clients)
	m.clientsMutex.Unlock()

	if exists {
		m.logger.Debug(m.ctx, "Client disconnected", "client", client.id, "clients", total)
	}
}

// broadcastToClients queues message on every message-role client. A
// client whose buffer is full is dropped.
func (m *Manager) broadcastToClients(message []byte) {
	m.clientsMutex.RLock()
	clients := make([]*Client, 0, len(m.clients))
	for _, client := range m.clients {
		if client.role == RoleMessage {
			clients = append(clients, client)
		}
	}
	m.clientsMutex.RUnlock()

	for _, client := range clients {
		select {
		case client.send <- message:
		default:
			m.logger.Warn(m.ctx, nil, "Dropping slow client", "client", client.id)
			m.unregisterClient(client)
			go func(c *Client) {
				_ = c.conn.Close(websocket.StatusPolicyViolation, "client too slow")
			}(client)
		}
	}
}

// handleClient runs the read pump on the calling goroutine and the write
// pump on its own. It returns when the connection is gone.
func (m *Manager) handleClient(client *Client) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.writeToClient(client)
	}()

	m.readFromClient(client)

	select {
	case m.unregister <- client:
	case <-m.ctx.Done():
	}
	_ = client.conn.Close(websocket.StatusNormalClosure, "")
	<-done
}

func (m *Manager) readFromClient(client *Client) {
	for {
		_, message, err := client.conn.Read(m.ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && m.ctx.Err() == nil {
				m.logger.Debug(m.ctx, "WebSocket read ended", "client", client.id, "error", err.Error())
			}
			return
		}

		m.clientsMutex.Lock()
		client.lastActivity = time.Now()
		m.clientsMutex.Unlock()

		m.processClientMessage(client, message)
	}
}

func (m *Manager) writeToClient(client *Client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-client.send:
			if !ok {
				return
			}

			ctx, cancel := context.WithTimeout(m.ctx, writeTimeout)
			err := client.conn.Write(ctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				m.logger.Debug(m.ctx, "WebSocket write failed", "client", client.id, "error", err.Error())
				_ = client.conn.Close(websocket.StatusInternalError, "write failed")
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(m.ctx, writeTimeout)
			err := client.conn.Ping(ctx)
			cancel()
			if err != nil {
				_ = client.conn.Close(websocket.StatusGoingAway, "ping failed")
				return
			}

		case <-m.ctx.Done():
			return
		}
	}
}

// processClientMessage handles inbound frames. Only client logs carry
// meaning; everything else is ignored.
func (m *Manager) processClientMessage(client *Client, message []byte) {
	var event ClientLogEvent
	if err := json.Unmarshal(message, &event); err != nil {
		m.logger.Debug(m.ctx, "Ignoring malformed frame", "client", client.id, "bytes", len(message))
		return
	}

	switch event.Type {
	case "client_log", "log":
		event.Type = "client_log"
		m.logClientEvent(event)
		if m.reporter != nil {
			m.reporter(event)
		}
	default:
		m.logger.Debug(m.ctx, "Ignoring frame", "client", client.id, "type", event.Type)
	}
}

func (m *Manager) logClientEvent(event ClientLogEvent) {
	level, _ := logging.ParseLevel(NormalizeClientLevel(event.Level))
	msg := FormatClientData(event.Data)
	fields := []interface{}{"source", "app", "mode", event.Mode}

	switch level {
	case logging.LevelDebug:
		m.logger.Debug(m.ctx, msg, fields...)
	case logging.LevelWarn:
		m.logger.Warn(m.ctx, nil, msg, fields...)
	case logging.LevelError:
		m.logger.Error(m.ctx, nil, msg, fields...)
	default:
		m.logger.Info(m.ctx, msg, fields...)
	}
}

// NormalizeClientLevel maps console methods without a log level of their
// own onto "log".
func NormalizeClientLevel(level string) string {
	switch level {
	case "group", "groupCollapsed", "groupEnd", "trace":
		return "log"
	default:
		return level
	}
}

// FormatClientData renders console arguments the way the console would:
// strings verbatim, everything else as JSON, separated by spaces.
func FormatClientData(data []json.RawMessage) string {
	parts := make([]string, 0, len(data))
	for _, raw := range data {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			parts = append(parts, s)
			continue
		}
		parts = append(parts, string(raw))
	}
	return strings.Join(parts, " ")
}

// Broadcast sends command to every app on the message endpoint. It never
// blocks; the command is dropped when the hub is saturated or shut down.
func (m *Manager) Broadcast(command Command) {
	data, err := json.Marshal(CommandMessage{Version: ProtocolVersion, Method: command})
	if err != nil {
		m.logger.Error(m.ctx, err, "Failed to marshal command", "command", string(command))
		return
	}

	select {
	case <-m.ctx.Done():
		return
	default:
	}

	select {
	case m.broadcast <- data:
		m.logger.Debug(m.ctx, "Command queued", "command", string(command))
	default:
		m.logger.Warn(m.ctx, nil, "Broadcast queue full, dropping command", "command", string(command))
	}
}

// ConnectedClients returns the number of connected clients with role.
func (m *Manager) ConnectedClients(role Role) int {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	n := 0
	for _, client := range m.clients {
		if client.role == role {
			n++
		}
	}
	return n
}

// Clients describes every connected client, oldest first.
func (m *Manager) Clients() []ClientInfo {
	m.clientsMutex.RLock()
	infos := make([]ClientInfo, 0, len(m.clients))
	for _, client := range m.clients {
		infos = append(infos, ClientInfo{
			ID:          client.id,
			Role:        client.role,
			RemoteAddr:  client.remoteAddr,
			ConnectedAt: client.connectedAt,
		})
	}
	m.clientsMutex.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].ConnectedAt.Before(infos[j].ConnectedAt) })
	return infos
}

// Shutdown closes every connection and stops the hub. It waits for client
// goroutines until ctx is done.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.shutdownOnce.Do(func() {
		m.stoppingMu.Lock()
		m.stopping = true
		m.stoppingMu.Unlock()

		m.cancel()
		<-m.hubDone

		m.clientsMutex.Lock()
		for id, client := range m.clients {
			delete(m.clients, id)
			close(client.send)
			_ = client.conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
		m.clientsMutex.Unlock()
	})

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Debug(ctx, "WebSocket manager shut down")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsShutdown reports whether Shutdown has been called.
func (m *Manager) IsShutdown() bool {
	return m.ctx.Err() != nil
}
