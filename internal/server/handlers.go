package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/woody-morgan/react-native-esbuild/internal/build"
	"github.com/woody-morgan/react-native-esbuild/internal/errors"
	"github.com/woody-morgan/react-native-esbuild/internal/plugins"
	"github.com/woody-morgan/react-native-esbuild/internal/websocket"
)

// Response headers carrying bundle metadata.
const (
	HeaderRevision = "X-Bundle-Revision"
)

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("packager-status:running"))
}

// buildForRequest validates the query and waits for the watch-mode build
// serving it. Invalid queries never reach the registry.
func (s *Server) buildForRequest(r *http.Request) (*build.BundleResult, error) {
	opts, err := ParseBundleQuery(r.URL.Query())
	if err != nil {
		return nil, err
	}

	target := build.Target{
		EntryFile: s.config.EntryFile,
		Platform:  opts.Platform,
		Mode:      plugins.ModeWatch,
		Dev:       opts.Dev,
		Minify:    opts.Minify,
	}
	return s.bundler.Build(r.Context(), target, build.RequestOptions{})
}

func (s *Server) handleBuildOutput(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasSuffix(r.URL.Path, ".bundle"):
		s.handleBundle(w, r)
	case strings.HasSuffix(r.URL.Path, ".map"):
		s.handleSourceMap(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleBundle(w http.ResponseWriter, r *http.Request) {
	result, err := s.buildForRequest(r)
	if err != nil {
		s.logger.Warn(r.Context(), err, "Bundle request failed", "query", r.URL.RawQuery)
		respondError(w, err)
		return
	}
	writeBuildOutput(w, result, result.Source, "application/javascript")
}

func (s *Server) handleSourceMap(w http.ResponseWriter, r *http.Request) {
	result, err := s.buildForRequest(r)
	if err != nil {
		s.logger.Warn(r.Context(), err, "Source map request failed", "query", r.URL.RawQuery)
		respondError(w, err)
		return
	}
	writeBuildOutput(w, result, result.SourceMap, "application/json")
}

func writeBuildOutput(w http.ResponseWriter, result *build.BundleResult, body []byte, contentType string) {
	h := w.Header()
	h.Set("Content-Type", contentType)
	h.Set(HeaderRevision, result.RevisionID)
	h.Set("Last-Modified", result.BundledAt.UTC().Format(http.TimeFormat))
	h.Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// handleAsset serves files registered by the asset plugin. Only paths a
// build has registered are served.
func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	for _, segment := range strings.Split(r.URL.Path, "/") {
		if segment == ".." {
			respondError(w, errors.ErrPathTraversal(r.URL.Path))
			return
		}
	}

	path, ok := s.lookupAsset(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}
	if strings.HasSuffix(path, ".svg") {
		w.Header().Set("Content-Type", "image/svg+xml")
	}
	http.ServeFile(w, r, path)
}

func (s *Server) handleResetCache(w http.ResponseWriter, r *http.Request) {
	if err := s.bundler.ResetTransformCache(r.Context()); err != nil {
		s.logger.Error(r.Context(), err, "Failed to reset transform cache")
		respondError(w, err)
		return
	}
	respondJSON(w, map[string]any{"reset": true, "at": time.Now().UTC()}, http.StatusOK)
}

func (s *Server) handleCommand(command websocket.Command) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.logger.Info(r.Context(), "Sending command", "command", string(command))
		s.sockets.Broadcast(command)
		respondJSON(w, map[string]any{"command": command}, http.StatusOK)
	}
}
