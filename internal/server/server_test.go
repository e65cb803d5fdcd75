package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/woody-morgan/react-native-esbuild/internal/build"
	"github.com/woody-morgan/react-native-esbuild/internal/config"
	"github.com/woody-morgan/react-native-esbuild/internal/errors"
	"github.com/woody-morgan/react-native-esbuild/internal/plugins"
	ws "github.com/woody-morgan/react-native-esbuild/internal/websocket"
)

// fakeBundler records build requests and answers with a fixed outcome.
type fakeBundler struct {
	mu        sync.Mutex
	targets   []build.Target
	result    *build.BundleResult
	err       error
	panicMsg  string
	resets    int
	callbacks []build.BuildCallback
}

func (f *fakeBundler) Build(_ context.Context, target build.Target, _ build.RequestOptions) (*build.BundleResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	f.targets = append(f.targets, target)
	return f.result, f.err
}

func (f *fakeBundler) ResetTransformCache(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	return nil
}

func (f *fakeBundler) OnBuild(callback build.BuildCallback) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks = append(f.callbacks, callback)
}

func (f *fakeBundler) emit(event build.BuildEvent) {
	f.mu.Lock()
	callbacks := append([]build.BuildCallback(nil), f.callbacks...)
	f.mu.Unlock()
	for _, callback := range callbacks {
		callback(event)
	}
}

func (f *fakeBundler) requests() []build.Target {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]build.Target(nil), f.targets...)
}

var bundledAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newFakeBundler() *fakeBundler {
	return &fakeBundler{result: &build.BundleResult{
		Source:     []byte("(() => { console.log('app') })();"),
		SourceMap:  []byte(`{"version":3,"sources":["index.js"]}`),
		BundledAt:  bundledAt,
		RevisionID: "1-00000000deadbeef",
	}}
}

func newTestServer(t *testing.T, bundler *fakeBundler) (*Server, *httptest.Server) {
	t.Helper()

	cfg := config.Default()
	s, err := New(Options{Config: cfg, Bundler: bundler})
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
		ts.Close()
	})
	return s, ts
}

func get(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeError(t *testing.T, resp *http.Response) errorResponse {
	t.Helper()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var body errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestParseBundleQuery(t *testing.T) {
	testCases := []struct {
		name     string
		query    string
		expected BundleRequestOptions
		wantErr  string
	}{
		{
			name:     "ios defaults",
			query:    "platform=ios",
			expected: BundleRequestOptions{Platform: plugins.PlatformIOS, Dev: true},
		},
		{
			name:     "explicit values",
			query:    "platform=android&dev=false&minify=true&runModule=true",
			expected: BundleRequestOptions{Platform: plugins.PlatformAndroid, Minify: true, RunModule: true},
		},
		{
			name:     "web",
			query:    "platform=web&dev=true&minify=false",
			expected: BundleRequestOptions{Platform: plugins.PlatformWeb, Dev: true},
		},
		{name: "unknown platform", query: "platform=tablet", wantErr: "platform"},
		{name: "missing platform", query: "dev=true", wantErr: "platform"},
		{name: "empty platform", query: "platform=", wantErr: "platform"},
		{name: "non literal dev", query: "platform=web&dev=yes", wantErr: "dev"},
		{name: "numeric minify", query: "platform=ios&minify=1", wantErr: "minify"},
		{name: "capitalized bool", query: "platform=ios&runModule=True", wantErr: "runModule"},
		{name: "empty dev", query: "platform=ios&dev=", wantErr: "dev"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			query, err := url.ParseQuery(tc.query)
			require.NoError(t, err)

			opts, err := ParseBundleQuery(query)
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.True(t, errors.IsValidationError(err))
				assert.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, opts)
		})
	}
}

func TestBundleRequest(t *testing.T) {
	bundler := newFakeBundler()
	_, ts := newTestServer(t, bundler)

	resp := get(t, ts, "/index.bundle?platform=ios")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/javascript", resp.Header.Get("Content-Type"))
	assert.Equal(t, "1-00000000deadbeef", resp.Header.Get(HeaderRevision))

	lastModified, err := http.ParseTime(resp.Header.Get("Last-Modified"))
	require.NoError(t, err)
	assert.True(t, lastModified.Equal(bundledAt))

	requests := bundler.requests()
	require.Len(t, requests, 1)
	assert.Equal(t, build.Target{
		EntryFile: config.DefaultEntryFile,
		Platform:  plugins.PlatformIOS,
		Mode:      plugins.ModeWatch,
		Dev:       true,
	}, requests[0])
}

func TestNestedBundlePath(t *testing.T) {
	bundler := newFakeBundler()
	_, ts := newTestServer(t, bundler)

	resp := get(t, ts, "/src/index.bundle?platform=android&dev=false&minify=true")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	requests := bundler.requests()
	require.Len(t, requests, 1)
	assert.False(t, requests[0].Dev)
	assert.True(t, requests[0].Minify)
}

func TestSourceMapRequest(t *testing.T) {
	bundler := newFakeBundler()
	_, ts := newTestServer(t, bundler)

	resp := get(t, ts, "/index.map?platform=android")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "1-00000000deadbeef", resp.Header.Get(HeaderRevision))

	var sourceMap map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sourceMap))
	assert.Equal(t, float64(3), sourceMap["version"])
}

func TestInvalidQueryNeverBuilds(t *testing.T) {
	testCases := []string{
		"/index.bundle?platform=tablet",
		"/index.bundle?platform=web&dev=yes",
		"/index.bundle",
		"/index.map?platform=ios&minify=maybe",
	}

	for _, path := range testCases {
		t.Run(path, func(t *testing.T) {
			bundler := newFakeBundler()
			_, ts := newTestServer(t, bundler)

			resp := get(t, ts, path)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			body := decodeError(t, resp)
			assert.Equal(t, string(errors.ErrorTypeValidation), body.Type)
			assert.Equal(t, errors.ErrCodeValidationFailed, body.Code)
			assert.NotEmpty(t, body.Fields)
			assert.Empty(t, bundler.requests())
		})
	}
}

func TestBuildErrorMapping(t *testing.T) {
	t.Run("empty output", func(t *testing.T) {
		bundler := newFakeBundler()
		bundler.result = nil
		bundler.err = errors.NewEmptyOutputError("index.js:ios:watch:dev=true:minify=false")
		_, ts := newTestServer(t, bundler)

		resp := get(t, ts, "/index.bundle?platform=ios")
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		body := decodeError(t, resp)
		assert.Equal(t, string(errors.ErrorTypeEmptyOutput), body.Type)
		assert.NotEmpty(t, body.Target)
	})

	t.Run("build failure carries diagnostics", func(t *testing.T) {
		bundler := newFakeBundler()
		bundler.result = nil
		bundler.err = errors.WrapBuild(
			errors.NewBuildFailure("build failed with 1 error", nil, errors.Diagnostic{
				File: "src/App.tsx", Line: 3, Column: 7, Message: "Unexpected \"}\"", Severity: errors.SeverityError,
			}),
			"build failed", "index.js:ios")
		_, ts := newTestServer(t, bundler)

		resp := get(t, ts, "/index.bundle?platform=ios")
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		body := decodeError(t, resp)
		assert.Equal(t, string(errors.ErrorTypeBuild), body.Type)
		require.Len(t, body.Diagnostics, 1)
		assert.Equal(t, "src/App.tsx", body.Diagnostics[0].File)
		assert.Equal(t, 3, body.Diagnostics[0].Line)
	})

	t.Run("plugin failure", func(t *testing.T) {
		bundler := newFakeBundler()
		bundler.result = nil
		bundler.err = errors.NewPluginError("svg-transform", "/app/icon.svg", errors.New("bad markup"))
		_, ts := newTestServer(t, bundler)

		resp := get(t, ts, "/index.bundle?platform=ios")
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assert.Equal(t, string(errors.ErrorTypePlugin), decodeError(t, resp).Type)
	})

	t.Run("panic", func(t *testing.T) {
		bundler := newFakeBundler()
		bundler.panicMsg = "boom"
		_, ts := newTestServer(t, bundler)

		resp := get(t, ts, "/index.bundle?platform=ios")
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

		// The server keeps serving after a panic
		assert.Equal(t, http.StatusOK, get(t, ts, "/status").StatusCode)
	})
}

func TestStatusAndUnknownRoutes(t *testing.T) {
	_, ts := newTestServer(t, newFakeBundler())

	resp := get(t, ts, "/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := make([]byte, 64)
	n, _ := resp.Body.Read(body)
	assert.Equal(t, "packager-status:running", string(body[:n]))

	assert.Equal(t, http.StatusNotFound, get(t, ts, "/index.js").StatusCode)
	assert.Equal(t, http.StatusNotFound, get(t, ts, "/assets/unknown.png").StatusCode)
}

func TestResetCache(t *testing.T) {
	bundler := newFakeBundler()
	_, ts := newTestServer(t, bundler)

	resp, err := http.Post(ts.URL+"/reset-cache", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	bundler.mu.Lock()
	defer bundler.mu.Unlock()
	assert.Equal(t, 1, bundler.resets)
}

func dialMessage(t *testing.T, s *Server, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/message", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })
	require.Eventually(t, func() bool { return s.Sockets().ConnectedClients(ws.RoleMessage) == 1 },
		2*time.Second, 5*time.Millisecond)
	return conn
}

func readMethod(t *testing.T, conn *websocket.Conn) ws.Command {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg ws.CommandMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, ws.ProtocolVersion, msg.Version)
	return msg.Method
}

func TestCommandEndpoints(t *testing.T) {
	s, ts := newTestServer(t, newFakeBundler())
	conn := dialMessage(t, s, ts)

	resp, err := http.Post(ts.URL+"/reload", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, ws.CommandReload, readMethod(t, conn))

	resp, err = http.Post(ts.URL+"/devmenu", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, ws.CommandDevMenu, readMethod(t, conn))
}

func TestWatchRebuildReloadsApps(t *testing.T) {
	bundler := newFakeBundler()
	s, ts := newTestServer(t, bundler)
	conn := dialMessage(t, s, ts)

	// Request-triggered builds do not reload
	bundler.emit(build.BuildEvent{Trigger: build.TriggerRequest, Result: bundler.result})
	// Failed watch builds do not reload
	bundler.emit(build.BuildEvent{Trigger: build.TriggerWatch, Err: errors.New("failed")})
	bundler.emit(build.BuildEvent{Trigger: build.TriggerWatch, Result: bundler.result})

	assert.Equal(t, ws.CommandReload, readMethod(t, conn))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, _, err := conn.Read(ctx)
	assert.Error(t, err, "exactly one reload is sent")
}

func TestRegisteredAssetsAreServed(t *testing.T) {
	bundler := newFakeBundler()
	_, ts := newTestServer(t, bundler)

	dir := t.TempDir()
	file := filepath.Join(dir, "icon@2x.png")
	require.NoError(t, os.WriteFile(file, []byte("\x89PNG fake"), 0o644))

	result := *bundler.result
	result.Assets = []plugins.Asset{{
		Name:               "icon",
		Type:               "png",
		HTTPServerLocation: "/assets/src/images",
		Scales:             []float64{2},
		Files:              map[string]string{"icon@2x.png": file},
	}}
	bundler.emit(build.BuildEvent{Trigger: build.TriggerRequest, Result: &result})

	resp := get(t, ts, "/assets/src/images/icon@2x.png?platform=ios&hash=abc")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := make([]byte, 64)
	n, _ := resp.Body.Read(body)
	assert.Equal(t, "\x89PNG fake", string(body[:n]))

	assert.Equal(t, http.StatusNotFound, get(t, ts, "/assets/src/images/icon@3x.png").StatusCode)

	resp = get(t, ts, "/assets/src/images/../images/icon@2x.png")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, errors.ErrCodePathTraversal, decodeError(t, resp).Code)
}

func TestServeAndShutdown(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0

	s, err := New(Options{Config: cfg, Bundler: newFakeBundler()})
	require.NoError(t, err)

	ln, err := s.Listen()
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr.String() + "/status")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	assert.NoError(t, s.Shutdown(context.Background()))
	assert.True(t, s.Sockets().IsShutdown())
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}
