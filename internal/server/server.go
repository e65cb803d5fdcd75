// Package server is the development server: it routes bundle, source map
// and asset requests to the build registry and exposes the control
// channel endpoints.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/woody-morgan/react-native-esbuild/internal/build"
	"github.com/woody-morgan/react-native-esbuild/internal/config"
	"github.com/woody-morgan/react-native-esbuild/internal/errors"
	"github.com/woody-morgan/react-native-esbuild/internal/logging"
	"github.com/woody-morgan/react-native-esbuild/internal/plugins"
	"github.com/woody-morgan/react-native-esbuild/internal/websocket"
)

const shutdownTimeout = 5 * time.Second

// Bundler is the part of the build registry the server depends on.
type Bundler interface {
	Build(ctx context.Context, target build.Target, opts build.RequestOptions) (*build.BundleResult, error)
	ResetTransformCache(ctx context.Context) error
	OnBuild(callback build.BuildCallback)
}

// Options configures a Server.
type Options struct {
	Config  *config.Config
	Bundler Bundler
	Sockets *websocket.Manager
	Logger  logging.Logger
}

// Server serves bundles to apps in watch mode.
type Server struct {
	config  *config.Config
	bundler Bundler
	sockets *websocket.Manager
	logger  logging.Logger
	router  chi.Router

	assetsMu sync.RWMutex
	assets   map[string]string

	serverMu     sync.Mutex
	httpServer   *http.Server
	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a server. Successful watch-triggered builds broadcast a
// reload command to connected apps.
func New(opts Options) (*Server, error) {
	if opts.Config == nil || opts.Bundler == nil {
		return nil, errors.NewInternalError(errors.ErrCodeInternalError, "server requires a config and a bundler", nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	sockets := opts.Sockets
	if sockets == nil {
		sockets = websocket.NewManager(websocket.Options{Logger: logger})
	}

	s := &Server{
		config:  opts.Config,
		bundler: opts.Bundler,
		sockets: sockets,
		logger:  logger.WithComponent("server"),
		assets:  make(map[string]string),
	}
	s.router = s.routes()
	s.bundler.OnBuild(s.onBuild)

	return s, nil
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Sockets returns the control channel manager.
func (s *Server) Sockets() *websocket.Manager {
	return s.sockets
}

// Broadcast sends command to every connected app.
func (s *Server) Broadcast(command websocket.Command) {
	s.sockets.Broadcast(command)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/status", s.handleStatus)
	r.Get("/assets/*", s.handleAsset)

	r.Post("/reset-cache", s.handleResetCache)
	r.Post("/reload", s.handleCommand(websocket.CommandReload))
	r.Post("/devmenu", s.handleCommand(websocket.CommandDevMenu))

	r.Get("/message", s.sockets.HandleMessage)
	r.Get("/hot", s.sockets.HandleHot)

	// <name>.bundle and <name>.map at any depth
	r.Get("/*", s.handleBuildOutput)

	return r
}

// Listen opens the listening socket described by the configuration.
func (s *Server) Listen() (net.Listener, error) {
	addr := net.JoinHostPort(s.config.Server.Host, fmt.Sprint(s.config.Server.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeInternalError, "failed to listen on "+addr, err)
	}
	return ln, nil
}

// Start listens and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.serverMu.Lock()
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpServer := s.httpServer
	s.serverMu.Unlock()

	s.logger.Info(ctx, "Dev server listening", "addr", ln.Addr().String())

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Shutdown stops the HTTP server and closes every control channel
// connection. It is safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		if err := s.sockets.Shutdown(ctx); err != nil {
			s.shutdownErr = err
		}

		s.serverMu.Lock()
		httpServer := s.httpServer
		s.serverMu.Unlock()

		if httpServer != nil {
			if err := httpServer.Shutdown(ctx); err != nil && s.shutdownErr == nil {
				s.shutdownErr = err
			}
		}
		s.logger.Info(ctx, "Dev server stopped")
	})
	return s.shutdownErr
}

// onBuild indexes the assets of every successful build and reloads apps
// after watch-triggered rebuilds.
func (s *Server) onBuild(event build.BuildEvent) {
	if event.Err != nil || event.Result == nil {
		return
	}
	s.indexAssets(event.Result.Assets)

	if event.Trigger == build.TriggerWatch {
		s.logger.Info(context.Background(), "Reloading apps", "target", event.Target.Key(),
			"revision", event.Result.RevisionID)
		s.sockets.Broadcast(websocket.CommandReload)
	}
}

func (s *Server) indexAssets(assets []plugins.Asset) {
	s.assetsMu.Lock()
	defer s.assetsMu.Unlock()
	for _, asset := range assets {
		for name, path := range asset.Files {
			s.assets[asset.HTTPServerLocation+"/"+name] = path
		}
	}
}

func (s *Server) lookupAsset(urlPath string) (string, bool) {
	s.assetsMu.RLock()
	defer s.assetsMu.RUnlock()
	path, ok := s.assets[urlPath]
	return path, ok
}

// requestLogger logs every request through the component logger.
func requestLogger(logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug(r.Context(), "Request served",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
