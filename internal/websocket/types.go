package websocket

import (
	"encoding/json"
	"time"

	"github.com/coder/websocket"
)

// ProtocolVersion is the message protocol version understood by the
// react-native dev support client.
const ProtocolVersion = 2

// Command is a control command sent to connected apps.
type Command string

const (
	CommandReload  Command = "reload"
	CommandDevMenu Command = "devMenu"
)

// ParseCommand returns the command with the given method name.
func ParseCommand(method string) (Command, bool) {
	switch Command(method) {
	case CommandReload, CommandDevMenu:
		return Command(method), true
	default:
		return "", false
	}
}

// CommandMessage is the frame broadcast to apps on the message endpoint.
type CommandMessage struct {
	Version int     `json:"version"`
	Method  Command `json:"method"`
}

// Role is the endpoint a client connected through.
type Role string

const (
	// RoleMessage clients receive broadcast commands.
	RoleMessage Role = "message"
	// RoleHot clients send client logs from the running app.
	RoleHot Role = "hot"
)

// ClientLogEvent is a console call forwarded from the running app.
type ClientLogEvent struct {
	Type  string            `json:"type"`
	Level string            `json:"level"`
	Data  []json.RawMessage `json:"data"`
	Mode  string            `json:"mode"`
}

// Reporter receives client log events after they are logged.
type Reporter func(event ClientLogEvent)

// Client represents a WebSocket client connection
type Client struct {
	id           string
	role         Role
	conn         *websocket.Conn
	send         chan []byte
	remoteAddr   string
	connectedAt  time.Time
	lastActivity time.Time
}

// ClientInfo describes a connected client for status output.
type ClientInfo struct {
	ID          string    `json:"id"`
	Role        Role      `json:"role"`
	RemoteAddr  string    `json:"remoteAddr"`
	ConnectedAt time.Time `json:"connectedAt"`
}
