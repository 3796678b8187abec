package pipeline

import (
	"context"
	"sync"
)

// CancelRegistry tracks the cancel func for each currently running job so
// an external request (the HTTP API's DELETE /v1/jobs/{id}) can reach a
// pipeline that is already mid-flight, without threading a channel through
// the job repository.
type CancelRegistry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewCancelRegistry builds an empty registry.
func NewCancelRegistry() *CancelRegistry {
	return &CancelRegistry{cancels: make(map[string]context.CancelFunc)}
}

// Scope derives a cancellable context from parent and registers it under
// jobID. The returned release func unregisters the entry and cancels the
// derived context; callers must defer it so a job that finishes normally
// does not leak an entry.
func (r *CancelRegistry) Scope(parent context.Context, jobID string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	r.mu.Lock()
	r.cancels[jobID] = cancel
	r.mu.Unlock()

	return ctx, func() {
		r.mu.Lock()
		delete(r.cancels, jobID)
		r.mu.Unlock()
		cancel()
	}
}

// Cancel triggers cooperative cancellation for jobID if it is currently
// registered, and reports whether a running job was found.
func (r *CancelRegistry) Cancel(jobID string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[jobID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}
