// Package retrieve provides the two ways a sandbox can read virtual files:
// directly from a tree it was handed, or by relaying requests to the host.
package retrieve

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/GriffinCanCode/vsite/internal/protocol"
	"github.com/GriffinCanCode/vsite/internal/shared/types"
)

// ErrDisposed is returned to waiters of a relay that was closed.
var ErrDisposed = errors.New("retrieve: sandbox disposed")

// Retriever reads one file by normalized path.
type Retriever interface {
	Retrieve(ctx context.Context, path string) (types.FileRecord, error)
}

// Func adapts a function to Retriever.
type Func func(ctx context.Context, path string) (types.FileRecord, error)

// Retrieve calls f.
func (f Func) Retrieve(ctx context.Context, path string) (types.FileRecord, error) {
	return f(ctx, path)
}

// Tree answers lookups from a tree snapshot.
type Tree struct {
	files types.FileTree
}

// NewTree wraps a tree whose keys are already normalized.
func NewTree(files types.FileTree) *Tree {
	return &Tree{files: files}
}

// Retrieve looks the path up.
func (t *Tree) Retrieve(_ context.Context, path string) (types.FileRecord, error) {
	rec, ok := t.files[path]
	if !ok {
		return types.FileRecord{}, fmt.Errorf("%w: %s", types.ErrResourceNotFound, path)
	}
	rec.Path = path
	return rec, nil
}

// Poster is the outbound half of a protocol port.
type Poster interface {
	Send(action protocol.Action, arg any) error
}

type outcome struct {
	rec types.FileRecord
	err error
}

// Relay asks the host for files over the protocol. Any number of requests may
// be outstanding; replies are matched to waiters by path, so they may arrive
// in any order. Concurrent requests for one path share a single message.
type Relay struct {
	port Poster

	mu      sync.Mutex
	waiters map[string][]chan outcome
	closed  bool
	done    chan struct{}
}

// NewRelay creates a relay that posts requests on port.
func NewRelay(port Poster) *Relay {
	return &Relay{
		port:    port,
		waiters: make(map[string][]chan outcome),
		done:    make(chan struct{}),
	}
}

// Retrieve requests path from the host and waits for the reply.
// There is no timeout; ctx or Close end the wait.
func (r *Relay) Retrieve(ctx context.Context, path string) (types.FileRecord, error) {
	ch := make(chan outcome, 1)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return types.FileRecord{}, ErrDisposed
	}
	first := len(r.waiters[path]) == 0
	r.waiters[path] = append(r.waiters[path], ch)
	r.mu.Unlock()

	if first {
		if err := r.port.Send(protocol.ActionRetrieveFile, protocol.RetrieveFile{Path: path}); err != nil {
			r.forget(path, ch)
			return types.FileRecord{}, fmt.Errorf("request %s: %w", path, err)
		}
	}

	select {
	case o := <-ch:
		return o.rec, o.err
	case <-ctx.Done():
		r.forget(path, ch)
		return types.FileRecord{}, ctx.Err()
	case <-r.done:
		return types.FileRecord{}, ErrDisposed
	}
}

// Deliver resolves every waiter for the reply's path. It reports false when
// nobody was waiting, which callers treat as a stale message.
func (r *Relay) Deliver(reply protocol.SendFile) bool {
	r.mu.Lock()
	waiters := r.waiters[reply.Path]
	delete(r.waiters, reply.Path)
	r.mu.Unlock()

	if len(waiters) == 0 {
		return false
	}

	o := outcome{}
	if rec, ok := reply.Record(); ok {
		o.rec = rec
	} else {
		o.err = fmt.Errorf("%w: %s", types.ErrResourceNotFound, reply.Path)
	}
	for _, ch := range waiters {
		ch <- o
	}
	return true
}

// Pending returns the number of paths awaiting a reply.
func (r *Relay) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters)
}

// Close fails every outstanding and future request.
func (r *Relay) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.waiters = make(map[string][]chan outcome)
	close(r.done)
}

func (r *Relay) forget(path string, ch chan outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.waiters[path]
	for i, c := range list {
		if c == ch {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(r.waiters, path)
	} else {
		r.waiters[path] = list
	}
}
