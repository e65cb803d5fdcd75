// Package internal contains the implementation packages of rne.
//
// # Package Organization
//
//   - build: build task registry, shared build handles and metrics
//   - cache: two-tier transform cache with generation-swapping reset
//   - config: configuration loading and validation with viper
//   - engine: the bundling engine boundary and its esbuild adapter
//   - errors: typed bundler errors, diagnostics and error handling
//   - logging: structured logger threaded through every component
//   - plugins: plugin pipeline, per-target plugin context and built-ins
//   - server: dev server routes for bundles, source maps and assets
//   - version: build information of the binary and the engine
//   - watcher: debounced file system watching
//   - websocket: control channel to running apps
//
// # Inter-Package Communication
//
//   - The server and the bundle command request builds from the registry
//   - The registry loads files through the plugin pipeline and the cache
//   - The watcher triggers registry rebuilds of every watch mode target
//   - Successful watch rebuilds reload apps through the control channel
package internal
