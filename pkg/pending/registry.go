// Package pending tracks in-flight calls by correlation id and enforces their
// timeouts. A Registry is not safe for concurrent use: it belongs to a single
// execution context (the channel's event loop), and timer firings are routed
// back onto that context through the exec function given to New.
package pending

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/lightforgemedia/go-mcremote/pkg/status"
)

// ErrDuplicateID is returned when registering an id that is still live.
var ErrDuplicateID = errors.New("pending: id already registered")

// Resolver receives the single resolution of a pending request.
type Resolver func(status.Status[json.RawMessage])

// Request is one outstanding call.
type Request struct {
	ID       uint64
	Name     string
	IssuedAt time.Time
	timer    Timer
	resolve  Resolver
}

// Registry correlates responses with their originating calls.
type Registry struct {
	clock   Clock
	exec    func(func())
	nextID  uint64
	entries map[uint64]*Request
}

// New creates a Registry. exec runs timer callbacks on the owner's execution
// context; nil runs them directly on the timer goroutine.
func New(clock Clock, exec func(func())) *Registry {
	if clock == nil {
		clock = SystemClock{}
	}
	if exec == nil {
		exec = func(f func()) { f() }
	}
	return &Registry{
		clock:   clock,
		exec:    exec,
		entries: make(map[uint64]*Request),
	}
}

// NextID allocates the next correlation id. Ids start at 1 and are never reused
// for the lifetime of the registry.
func (r *Registry) NextID() uint64 {
	r.nextID++
	return r.nextID
}

// Register stores a pending request and starts its timeout. When the timeout
// fires first the request resolves with Err("timeout") and is removed.
func (r *Registry) Register(id uint64, name string, timeout time.Duration, resolve Resolver) error {
	if resolve == nil {
		return fmt.Errorf("pending: nil resolver for id %d", id)
	}
	if _, exists := r.entries[id]; exists {
		return fmt.Errorf("%w: %d", ErrDuplicateID, id)
	}
	req := &Request{
		ID:       id,
		Name:     name,
		IssuedAt: r.clock.Now(),
		resolve:  resolve,
	}
	r.entries[id] = req
	req.timer = r.clock.AfterFunc(timeout, func() {
		r.exec(func() { r.expire(req) })
	})
	return nil
}

// expire resolves req with a timeout unless it was already resolved. The
// pointer comparison guards against a stale timer that lost the race with Resolve.
func (r *Registry) expire(req *Request) {
	if cur, ok := r.entries[req.ID]; !ok || cur != req {
		return
	}
	delete(r.entries, req.ID)
	req.resolve(status.Err[json.RawMessage](status.MsgTimeout))
}

// Resolve completes the request with the given id. It reports false, changing
// nothing, when no such request is pending (late or duplicate response).
func (r *Registry) Resolve(id uint64, st status.Status[json.RawMessage]) bool {
	req, ok := r.entries[id]
	if !ok {
		return false
	}
	delete(r.entries, id)
	req.timer.Stop()
	req.resolve(st)
	return true
}

// Cancel removes a request without resolving it. Used when the registering
// call could not be transmitted and reports its failure directly.
func (r *Registry) Cancel(id uint64) bool {
	req, ok := r.entries[id]
	if !ok {
		return false
	}
	delete(r.entries, id)
	req.timer.Stop()
	return true
}

// FlushAll resolves every pending request with st and empties the registry.
// Requests are resolved in id order. It returns the number of requests flushed.
func (r *Registry) FlushAll(st status.Status[json.RawMessage]) int {
	if len(r.entries) == 0 {
		return 0
	}
	drained := make([]*Request, 0, len(r.entries))
	for _, req := range r.entries {
		drained = append(drained, req)
	}
	// Empty the map before running any resolver so a resolver observing the
	// registry sees it already drained.
	r.entries = make(map[uint64]*Request)
	sort.Slice(drained, func(i, j int) bool { return drained[i].ID < drained[j].ID })
	for _, req := range drained {
		req.timer.Stop()
		req.resolve(st)
	}
	return len(drained)
}

// Len returns the number of pending requests.
func (r *Registry) Len() int { return len(r.entries) }

// Has reports whether id is pending.
func (r *Registry) Has(id uint64) bool {
	_, ok := r.entries[id]
	return ok
}

// Lookup returns the call name and issue time of a pending request.
func (r *Registry) Lookup(id uint64) (name string, issuedAt time.Time, ok bool) {
	req, ok := r.entries[id]
	if !ok {
		return "", time.Time{}, false
	}
	return req.Name, req.IssuedAt, true
}

// Oldest returns the issue time of the oldest pending request.
func (r *Registry) Oldest() (time.Time, bool) {
	var oldest time.Time
	found := false
	for _, req := range r.entries {
		if !found || req.IssuedAt.Before(oldest) {
			oldest = req.IssuedAt
			found = true
		}
	}
	return oldest, found
}
