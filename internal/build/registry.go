// Package build owns the build lifecycle: one task per target, request
// coalescing onto a shared Handle, revision tracking and build callbacks.
//
// Policies:
//   - A request that arrives while a build is pending, forced or not, is
//     coalesced onto that build. No target ever runs two builds at once.
//   - A failed build keeps the last successful result; non-forced requests
//     keep receiving it until a later build succeeds.
//   - In watch mode the file watcher triggers rebuilds. Requests against a
//     resolved watch task return the result of the most recent build.
//   - A watch trigger that arrives while a build is pending marks the task
//     dirty. The pending build may have read files before the change, so
//     one follow-up build starts as soon as it resolves.
package build

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/woody-morgan/react-native-esbuild/internal/cache"
	"github.com/woody-morgan/react-native-esbuild/internal/config"
	"github.com/woody-morgan/react-native-esbuild/internal/engine"
	"github.com/woody-morgan/react-native-esbuild/internal/errors"
	"github.com/woody-morgan/react-native-esbuild/internal/logging"
	"github.com/woody-morgan/react-native-esbuild/internal/plugins"
)

// RequestOptions modify a build request.
type RequestOptions struct {
	// Force starts a new build even when a result is available.
	Force bool
}

// Options configures a Registry.
type Options struct {
	Engine   engine.Engine
	Pipeline *plugins.Pipeline
	Cache    *cache.Cache
	Config   *config.Config
	Logger   logging.Logger
}

// Registry owns every build task.
type Registry struct {
	engine       engine.Engine
	pipeline     *plugins.Pipeline
	cache        *cache.Cache
	config       *config.Config
	logger       logging.Logger
	errorHandler *errors.ErrorHandler
	metrics      *BuildMetrics

	mu     sync.Mutex
	tasks  map[string]*task
	nextID int
	closed bool

	callbacksMu sync.RWMutex
	callbacks   []BuildCallback
}

// task is the per-target build state. mu is the per-target critical
// section around check-and-create and attach-to-pending.
type task struct {
	id     int
	target Target

	mu         sync.Mutex
	ctx        engine.Context
	instance   *plugins.Instance
	loader     *fileTransformer
	status     Status
	pending    *Handle
	dirty      bool
	buildCount int
	revision   uint64
	last       *BundleResult
	lastErr    error
}

// NewRegistry creates a registry.
func NewRegistry(opts Options) (*Registry, error) {
	if opts.Engine == nil || opts.Pipeline == nil || opts.Cache == nil || opts.Config == nil {
		return nil, errors.NewInternalError(errors.ErrCodeInternalError,
			"registry requires an engine, a plugin pipeline, a cache and a config", nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logger = logger.WithComponent("registry")

	return &Registry{
		engine:       opts.Engine,
		pipeline:     opts.Pipeline,
		cache:        opts.Cache,
		config:       opts.Config,
		logger:       logger,
		errorHandler: errors.NewErrorHandler(logger),
		metrics:      NewBuildMetrics(),
		tasks:        make(map[string]*task),
	}, nil
}

// OnBuild registers a callback for completed builds. Callbacks run on the
// build goroutine after every waiter has been released.
func (r *Registry) OnBuild(callback BuildCallback) {
	r.callbacksMu.Lock()
	r.callbacks = append(r.callbacks, callback)
	r.callbacksMu.Unlock()
}

// Metrics returns a snapshot of build metrics.
func (r *Registry) Metrics() BuildMetrics {
	return r.metrics.GetSnapshot()
}

// Build requests a build and waits for its result.
func (r *Registry) Build(ctx context.Context, target Target, opts RequestOptions) (*BundleResult, error) {
	handle, err := r.RequestBuild(ctx, target, opts)
	if err != nil {
		return nil, err
	}
	return handle.Wait(ctx)
}

// RequestBuild returns a handle to the build serving target. It starts a
// build only when no build is pending and no usable result exists, or when
// opts.Force is set and nothing is pending.
func (r *Registry) RequestBuild(ctx context.Context, target Target, opts RequestOptions) (*Handle, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}

	t, err := r.task(target)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Close may have run between task lookup and locking t
	if r.isClosed() {
		return nil, errClosed()
	}

	if err := r.ensureContext(ctx, t); err != nil {
		return nil, err
	}

	if t.status == StatusPending {
		r.logger.Debug(ctx, "Coalescing onto pending build", "target", target.Key(), "force", opts.Force)
		return t.pending, nil
	}

	if t.last != nil && !opts.Force {
		return resolvedHandle(t.last, nil), nil
	}

	trigger := TriggerRequest
	if opts.Force {
		trigger = TriggerForce
	}
	return r.startBuild(t, trigger), nil
}

// Rebuild forces a new build of target.
func (r *Registry) Rebuild(ctx context.Context, target Target) (*Handle, error) {
	return r.RequestBuild(ctx, target, RequestOptions{Force: true})
}

// RebuildWatching triggers a build of every watch-mode task. Tasks with a
// pending build return that build's handle and are rebuilt once it
// resolves.
func (r *Registry) RebuildWatching(ctx context.Context) []*Handle {
	var handles []*Handle
	for _, t := range r.snapshotTasks() {
		if t.target.Mode != plugins.ModeWatch {
			continue
		}

		t.mu.Lock()
		switch {
		case t.ctx == nil || r.isClosed():
			// never built; the next request creates it
		case t.status == StatusPending:
			t.dirty = true
			handles = append(handles, t.pending)
		default:
			handles = append(handles, r.startBuild(t, TriggerWatch))
		}
		t.mu.Unlock()
	}

	r.logger.Debug(ctx, "Watch rebuild triggered", "builds", len(handles))
	return handles
}

// ResetTransformCache drops every transform cache entry. Builds in flight
// keep the cache snapshot they started with.
func (r *Registry) ResetTransformCache(ctx context.Context) error {
	return r.cache.Reset(ctx)
}

// Stats returns the state of target's task.
func (r *Registry) Stats(target Target) (TaskStats, bool) {
	r.mu.Lock()
	t, ok := r.tasks[target.Key()]
	r.mu.Unlock()
	if !ok {
		return TaskStats{}, false
	}
	return t.stats(), true
}

// AllStats returns the state of every task ordered by target key.
func (r *Registry) AllStats() []TaskStats {
	tasks := r.snapshotTasks()
	stats := make([]TaskStats, 0, len(tasks))
	for _, t := range tasks {
		stats = append(stats, t.stats())
	}
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].Target.Key() < stats[j].Target.Key()
	})
	return stats
}

// Close waits for pending builds and disposes every engine context. The
// registry rejects requests afterwards.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	tasks := make([]*task, 0, len(r.tasks))
	for _, t := range r.tasks {
		tasks = append(tasks, t)
	}
	r.mu.Unlock()

	for _, t := range tasks {
		r.closeTask(t)
	}
	return nil
}

// closeTask waits until t has no pending build and disposes its context.
// No build can start once the registry is closed, so the loop ends after
// at most the build in flight and its follow-up.
func (r *Registry) closeTask(t *task) {
	for {
		t.mu.Lock()
		pending := t.pending
		if pending == nil {
			if t.ctx != nil {
				t.ctx.Dispose()
				t.ctx = nil
			}
			t.mu.Unlock()
			return
		}
		t.mu.Unlock()
		<-pending.Done()
	}
}

func (r *Registry) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func errClosed() error {
	return errors.NewInternalError(errors.ErrCodeInternalError, "registry is closed", nil)
}

// task returns the task for target, creating an empty one when needed.
func (r *Registry) task(target Target) (*task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, errClosed()
	}

	key := target.Key()
	if t, ok := r.tasks[key]; ok {
		return t, nil
	}

	r.nextID++
	t := &task{id: r.nextID, target: target, status: StatusResolved}
	r.tasks[key] = t
	return t, nil
}

func (r *Registry) snapshotTasks() []*task {
	r.mu.Lock()
	defer r.mu.Unlock()
	tasks := make([]*task, 0, len(r.tasks))
	for _, t := range r.tasks {
		tasks = append(tasks, t)
	}
	return tasks
}

// ensureContext creates the engine context and binds the plugin pipeline
// on first use. Called with t.mu held. A failure leaves the task empty so
// the next request retries.
func (r *Registry) ensureContext(ctx context.Context, t *task) error {
	if t.ctx != nil {
		return nil
	}

	pctx := plugins.NewContext(t.id, r.config, t.target.Mode, t.target.Platform, t.target.Dev, t.target.Minify)
	instance, err := r.pipeline.Instantiate(pctx)
	if err != nil {
		return errors.WrapBuild(err, "failed to bind plugins", t.target.Key())
	}

	loader := &fileTransformer{
		instance: instance,
		logger:   r.logger.With("target", t.target.Key()),
	}

	ectx, err := r.engine.NewContext(engine.Options{
		Root:       r.config.Root,
		EntryFile:  t.target.EntryFile,
		Platform:   t.target.Platform,
		Dev:        t.target.Dev,
		Minify:     t.target.Minify,
		MainFields: r.config.MainFields,
		Target:     r.config.Transformer.Target,
	}, loader)
	if err != nil {
		return errors.WrapBuild(err, "failed to create build context", t.target.Key())
	}

	t.ctx = ectx
	t.instance = instance
	t.loader = loader
	r.logger.Info(ctx, "Build context created", "target", t.target.Key(), "context_id", t.id)
	return nil
}

// startBuild flips t to pending and runs the build in the background.
// Called with t.mu held and t.ctx set.
func (r *Registry) startBuild(t *task, trigger Trigger) *Handle {
	h := newHandle()
	t.pending = h
	t.status = StatusPending
	t.dirty = false

	// The snapshot is taken before the build so a concurrent cache reset
	// cannot mix generations within one build
	snapshot := r.cache.Snapshot()
	go r.runBuild(t, t.ctx, h, trigger, snapshot)
	return h
}

// runBuild runs one build on ectx. Close disposes t.ctx only once no build
// is pending, so ectx stays valid until h resolves.
func (r *Registry) runBuild(t *task, ectx engine.Context, h *Handle, trigger Trigger, snapshot *cache.Snapshot) {
	ctx := context.Background()
	key := t.target.Key()
	perf := logging.StartOperation(r.logger.With("target", key, "trigger", string(trigger)), "build")

	t.loader.begin(snapshot)
	var out *engine.Output
	err := t.instance.Start(ctx)
	if err == nil {
		out, err = ectx.Rebuild(ctx)
	}
	if err == nil && out.Empty() {
		err = errors.NewEmptyOutputError(key)
	}
	if err == nil {
		err = t.instance.Finalize(ctx)
	}

	t.mu.Lock()
	t.buildCount++
	var result *BundleResult
	if err == nil {
		t.revision++
		result = &BundleResult{
			Source:     out.Source,
			SourceMap:  out.SourceMap,
			Metafile:   out.Metafile,
			BundledAt:  time.Now(),
			RevisionID: revisionID(t.revision, out.Source),
			Assets:     t.instance.Context.Assets(),
			Warnings:   out.Warnings,
		}
		t.last = result
		t.lastErr = nil
	} else {
		err = withTarget(err, key)
		t.lastErr = err
	}
	t.status = StatusResolved
	t.pending = nil
	buildCount := t.buildCount
	if t.dirty && !r.isClosed() {
		r.logger.Debug(ctx, "Sources changed during build, rebuilding", "target", key)
		r.startBuild(t, TriggerWatch)
	}
	t.dirty = false
	t.mu.Unlock()

	event := BuildEvent{
		Target:     t.target,
		Trigger:    trigger,
		Result:     result,
		Err:        err,
		BuildCount: buildCount,
		Duration:   perf.Elapsed(),
	}
	r.metrics.RecordBuild(event)

	h.resolve(result, err)

	switch {
	case err == nil:
		perf.End(ctx, "revision", result.RevisionID, "build_count", buildCount, "bytes", len(result.Source))
	case errors.IsEmptyOutput(err):
		r.errorHandler.Handle(ctx, err)
	default:
		perf.EndWithError(ctx, err, "build_count", buildCount, "diagnostics", len(errors.DiagnosticsOf(err)))
	}

	r.callbacksMu.RLock()
	callbacks := make([]BuildCallback, len(r.callbacks))
	copy(callbacks, r.callbacks)
	r.callbacksMu.RUnlock()
	for _, callback := range callbacks {
		callback(event)
	}
}

func (t *task) stats() TaskStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := TaskStats{
		Target:     t.target,
		Status:     t.status,
		BuildCount: t.buildCount,
	}
	if t.last != nil {
		stats.RevisionID = t.last.RevisionID
		stats.BundledAt = t.last.BundledAt
	}
	if t.lastErr != nil {
		stats.LastError = t.lastErr.Error()
	}
	return stats
}

// revisionID combines the per-target revision counter with a content
// fingerprint. The counter keeps ids strictly increasing per target.
func revisionID(revision uint64, source []byte) string {
	return fmt.Sprintf("%d-%016x", revision, xxhash.Sum64(source))
}

func withTarget(err error, target string) error {
	var be *errors.BundlerError
	if errors.As(err, &be) {
		if be.Target == "" {
			be.Target = target
		}
		return be
	}
	return errors.WrapBuild(err, "build failed", target)
}
