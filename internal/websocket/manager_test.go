package websocket

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/woody-morgan/react-native-esbuild/internal/logging"
)

func newTestServer(t *testing.T, opts Options) (*Manager, string) {
	t.Helper()

	manager := NewManager(opts)
	mux := http.NewServeMux()
	mux.HandleFunc("/message", manager.HandleMessage)
	mux.HandleFunc("/hot", manager.HandleHot)
	server := httptest.NewServer(mux)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = manager.Shutdown(ctx)
		server.Close()
	})

	return manager, "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func readCommand(t *testing.T, conn *websocket.Conn) CommandMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var msg CommandMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func waitForClients(t *testing.T, m *Manager, role Role, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return m.ConnectedClients(role) == n },
		2*time.Second, 5*time.Millisecond)
}

func TestBroadcastFrame(t *testing.T) {
	manager, url := newTestServer(t, Options{})
	conn := dial(t, url+"/message")
	waitForClients(t, manager, RoleMessage, 1)

	manager.Broadcast(CommandReload)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":2,"method":"reload"}`, string(data))

	manager.Broadcast(CommandDevMenu)
	assert.Equal(t, CommandMessage{Version: 2, Method: CommandDevMenu}, readCommand(t, conn))
}

func TestBroadcastReachesEveryClient(t *testing.T) {
	manager, url := newTestServer(t, Options{})
	clients := []*websocket.Conn{dial(t, url+"/message"), dial(t, url+"/message"), dial(t, url+"/message")}
	waitForClients(t, manager, RoleMessage, len(clients))

	manager.Broadcast(CommandReload)

	for _, conn := range clients {
		assert.Equal(t, CommandReload, readCommand(t, conn).Method)
	}
	assert.Len(t, manager.Clients(), 3)
}

func TestBroadcastSkipsDisconnectedClient(t *testing.T) {
	manager, url := newTestServer(t, Options{})
	gone := dial(t, url+"/message")
	alive := dial(t, url+"/message")
	waitForClients(t, manager, RoleMessage, 2)

	require.NoError(t, gone.Close(websocket.StatusNormalClosure, ""))
	waitForClients(t, manager, RoleMessage, 1)

	manager.Broadcast(CommandReload)
	assert.Equal(t, CommandReload, readCommand(t, alive).Method)
}

func TestBroadcastNeverBlocks(t *testing.T) {
	manager, url := newTestServer(t, Options{})
	// A client that never reads
	_ = dial(t, url+"/message")
	waitForClients(t, manager, RoleMessage, 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			manager.Broadcast(CommandReload)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked")
	}
}

func TestHotClientsDoNotReceiveCommands(t *testing.T) {
	manager, url := newTestServer(t, Options{})
	hot := dial(t, url+"/hot")
	message := dial(t, url+"/message")
	waitForClients(t, manager, RoleHot, 1)
	waitForClients(t, manager, RoleMessage, 1)

	manager.Broadcast(CommandReload)
	assert.Equal(t, CommandReload, readCommand(t, message).Method)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, _, err := hot.Read(ctx)
	assert.Error(t, err)
}

func TestClientLogReporter(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LevelDebug, Output: &buf})
	events := make(chan ClientLogEvent, 1)

	manager, url := newTestServer(t, Options{
		Logger:   logger,
		Reporter: func(event ClientLogEvent) { events <- event },
	})
	conn := dial(t, url+"/hot")
	waitForClients(t, manager, RoleHot, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	frame := `{"type":"log","level":"groupCollapsed","data":["hello",{"a":1}],"mode":"BRIDGE"}`
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(frame)))

	select {
	case event := <-events:
		assert.Equal(t, "client_log", event.Type)
		assert.Equal(t, "groupCollapsed", event.Level)
		assert.Equal(t, "BRIDGE", event.Mode)
		assert.Equal(t, `hello {"a":1}`, FormatClientData(event.Data))
	case <-time.After(2 * time.Second):
		t.Fatal("reporter was not called")
	}

	out := buf.String()
	assert.Contains(t, out, "level=INFO")
	assert.Contains(t, out, `hello {\"a\":1}`)
	assert.Contains(t, out, "mode=BRIDGE")
}

func TestMalformedFramesAreIgnored(t *testing.T) {
	events := make(chan ClientLogEvent, 2)
	manager, url := newTestServer(t, Options{Reporter: func(event ClientLogEvent) { events <- event }})
	conn := dial(t, url+"/hot")
	waitForClients(t, manager, RoleHot, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("not json")))
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"update-start"}`)))
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"client_log","level":"warn","data":["x"]}`)))

	select {
	case event := <-events:
		assert.Equal(t, "warn", event.Level)
	case <-time.After(2 * time.Second):
		t.Fatal("reporter was not called")
	}
	assert.Equal(t, 1, manager.ConnectedClients(RoleHot), "bad frames do not drop the client")
}

func TestNormalizeClientLevel(t *testing.T) {
	testCases := map[string]string{
		"group":          "log",
		"groupCollapsed": "log",
		"groupEnd":       "log",
		"trace":          "log",
		"info":           "info",
		"warn":           "warn",
		"error":          "error",
		"debug":          "debug",
		"log":            "log",
	}

	for level, expected := range testCases {
		t.Run(level, func(t *testing.T) {
			assert.Equal(t, expected, NormalizeClientLevel(level))
		})
	}
}

func TestParseCommand(t *testing.T) {
	cmd, ok := ParseCommand("reload")
	assert.True(t, ok)
	assert.Equal(t, CommandReload, cmd)

	cmd, ok = ParseCommand("devMenu")
	assert.True(t, ok)
	assert.Equal(t, CommandDevMenu, cmd)

	_, ok = ParseCommand("explode")
	assert.False(t, ok)
}

func TestShutdown(t *testing.T) {
	manager, url := newTestServer(t, Options{})
	conn := dial(t, url+"/message")
	waitForClients(t, manager, RoleMessage, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, manager.Shutdown(ctx))
	require.NoError(t, manager.Shutdown(ctx))
	assert.True(t, manager.IsShutdown())
	assert.Equal(t, 0, manager.ConnectedClients(RoleMessage))

	_, _, err := conn.Read(ctx)
	assert.Error(t, err)

	// Broadcasting after shutdown is a no-op
	manager.Broadcast(CommandReload)

	rec := httptest.NewRecorder()
	manager.HandleMessage(rec, httptest.NewRequest(http.MethodGet, "/message", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestShutdownWaitsForAcceptedClients(t *testing.T) {
	manager := NewManager(Options{})
	require.True(t, manager.track(), "an accepted client is tracked before it registers")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, manager.Shutdown(ctx), context.DeadlineExceeded)
	assert.False(t, manager.track(), "no client is tracked once shutdown began")

	manager.wg.Done()
	require.NoError(t, manager.Shutdown(context.Background()))
}
