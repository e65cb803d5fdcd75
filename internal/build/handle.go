package build

import (
	"context"
	"sync"
)

// Handle is the shared future of one build. Every request coalesced onto a
// build holds the same Handle and observes the same outcome.
type Handle struct {
	done   chan struct{}
	once   sync.Once
	result *BundleResult
	err    error
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

// resolvedHandle returns a handle that is already complete.
func resolvedHandle(result *BundleResult, err error) *Handle {
	h := newHandle()
	h.resolve(result, err)
	return h
}

// resolve completes the handle. Later calls are ignored.
func (h *Handle) resolve(result *BundleResult, err error) {
	h.once.Do(func() {
		h.result = result
		h.err = err
		close(h.done)
	})
}

// Done is closed once the build completes.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the build completes or ctx is done. Abandoning the wait
// does not cancel the build.
func (h *Handle) Wait(ctx context.Context) (*BundleResult, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
