// Package abort implements C4, the process-wide abort registry. Its
// mutex-guarded map follows the same shape as pkg/registry.Registry's
// global provider map: a single mutex over a plain map, no locks held
// across I/O.
package abort

import (
	"context"
	"fmt"
	"sync"

	"github.com/chatforge/backend/internal/apierr"
	"github.com/chatforge/backend/internal/model"
)

type key struct {
	userID    string
	requestID string
}

// Registry maps (user_id, request_id) to a cancellation handle scoped to
// one in-flight request.
type Registry struct {
	mu      sync.Mutex
	entries map[key]*entry
}

type entry struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[key]*entry)}
}

// Register derives a cancellable context from parent and stores its
// cancel func under (userID, requestID). It fails with apierr.KindConflict
// if a request with the same id is already active for that user —
// spec.md §4.5's duplicate-registration rule.
func (r *Registry) Register(parent context.Context, userID, requestID string) (context.Context, *model.AbortHandle, error) {
	k := key{userID: userID, requestID: requestID}

	r.mu.Lock()
	if _, exists := r.entries[k]; exists {
		r.mu.Unlock()
		return nil, nil, apierr.Newf(apierr.KindConflict, "duplicate active request_id %q for user", requestID)
	}
	ctx, cancel := context.WithCancel(parent)
	e := &entry{cancel: cancel, done: make(chan struct{})}
	r.entries[k] = e
	r.mu.Unlock()

	handle := &model.AbortHandle{
		RequestID: requestID,
		Cancel:    cancel,
		Done:      e.done,
	}
	return ctx, handle, nil
}

// Signal cancels the handle registered for (userID, requestID) if
// present. It is idempotent and safe to call concurrently with Register
// and Unregister; a signal against an unknown or already-completed
// request simply returns false.
func (r *Registry) Signal(userID, requestID string) bool {
	r.mu.Lock()
	e, ok := r.entries[key{userID: userID, requestID: requestID}]
	r.mu.Unlock()
	if !ok {
		return false
	}
	e.cancel()
	return true
}

// Unregister removes the entry for (userID, requestID) and closes its
// done channel. Must run on every exit path of the request that
// registered it (success, error, or abort) so the registry never
// retains a reference past the request's lifetime.
func (r *Registry) Unregister(userID, requestID string) {
	k := key{userID: userID, requestID: requestID}
	r.mu.Lock()
	e, ok := r.entries[k]
	if ok {
		delete(r.entries, k)
	}
	r.mu.Unlock()
	if ok {
		close(e.done)
	}
}

// Active reports whether a registration currently exists, for tests and
// for /v1/chat/completions/stop's "was a stream active" response.
func (r *Registry) Active(userID, requestID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[key{userID: userID, requestID: requestID}]
	return ok
}

// String renders the key for logging.
func (k key) String() string {
	return fmt.Sprintf("%s/%s", k.userID, k.requestID)
}
