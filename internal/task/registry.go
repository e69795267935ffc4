// Package task supervises keyed background work.
//
// A Registry holds at most one live unit per key. Units can be aborted by key,
// and finished units are delivered on a single channel in completion order.
// Units that were aborted never produce a completion.
package task

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"chain-reactor/internal/timed"
)

// ErrRejected is matched by errors returned when a key already has a live unit.
var ErrRejected = errors.New("task already running for key")

// ErrClosed is returned when spawning into a closed registry.
var ErrClosed = errors.New("registry closed")

// DefaultBuffer is the completion channel capacity used when none is configured.
const DefaultBuffer = 256

// Op is a unit of work. It must return promptly once ctx is cancelled.
type Op[T any] func(ctx context.Context) (T, error)

// RejectedError reports the key that already holds a live unit.
type RejectedError[K comparable] struct {
	Key K
}

func (e *RejectedError[K]) Error() string {
	return fmt.Sprintf("%v: %v", ErrRejected, e.Key)
}

func (e *RejectedError[K]) Is(target error) bool {
	return target == ErrRejected
}

// JoinError reports a unit that terminated abnormally (panicked).
type JoinError[K comparable] struct {
	Key   K
	Panic any
	Stack []byte
}

func (e *JoinError[K]) Error() string {
	return fmt.Sprintf("task %v panicked: %v", e.Key, e.Panic)
}

// Completion is a finished unit.
// Err is either the error returned by the unit or a *JoinError.
type Completion[K comparable, T any] struct {
	Key     K
	Value   T
	Err     error
	Elapsed time.Duration
}

// Failed reports whether the unit terminated abnormally.
func (c Completion[K, T]) Failed() bool {
	var je *JoinError[K]
	return errors.As(c.Err, &je)
}

type entry struct {
	id     uint64
	cancel context.CancelFunc
}

// Registry supervises keyed units of work.
type Registry[K comparable, T any] struct {
	mu      sync.Mutex
	entries map[K]*entry
	nextID  uint64
	closed  bool

	out  chan Completion[K, T]
	done chan struct{}
	wg   sync.WaitGroup
}

// Options configures a Registry.
type Options struct {
	// Buffer is the completion channel capacity. Default: DefaultBuffer.
	Buffer int
}

// NewRegistry creates an empty registry.
func NewRegistry[K comparable, T any](opts Options) *Registry[K, T] {
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Registry[K, T]{
		entries: make(map[K]*entry),
		out:     make(chan Completion[K, T], buffer),
		done:    make(chan struct{}),
	}
}

// Entry is a reservation returned by TryInsert. Dropping it without calling
// Spawn leaves the registry unchanged.
type Entry[K comparable, T any] struct {
	r   *Registry[K, T]
	key K
}

// Key returns the reserved key.
func (e *Entry[K, T]) Key() K {
	return e.key
}

// TryInsert returns an Entry for key, or a *RejectedError if key already has a live unit.
func (r *Registry[K, T]) TryInsert(key K) (*Entry[K, T], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	if _, ok := r.entries[key]; ok {
		return nil, &RejectedError[K]{Key: key}
	}
	return &Entry[K, T]{r: r, key: key}, nil
}

// Spawn starts op as an independent unit under the entry's key.
// It fails if another unit claimed the key since TryInsert.
func (e *Entry[K, T]) Spawn(op Op[T]) error {
	return e.r.spawn(e.key, op)
}

// Spawn is TryInsert followed by Entry.Spawn.
func (r *Registry[K, T]) Spawn(key K, op Op[T]) error {
	e, err := r.TryInsert(key)
	if err != nil {
		return err
	}
	return e.Spawn(op)
}

func (r *Registry[K, T]) spawn(key K, op Op[T]) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if _, ok := r.entries[key]; ok {
		r.mu.Unlock()
		return &RejectedError[K]{Key: key}
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.nextID++
	ent := &entry{id: r.nextID, cancel: cancel}
	r.entries[key] = ent
	r.wg.Add(1)
	r.mu.Unlock()

	go r.run(ctx, key, ent, op)
	return nil
}

func (r *Registry[K, T]) run(ctx context.Context, key K, ent *entry, op Op[T]) {
	defer r.wg.Done()

	c := Completion[K, T]{Key: key}
	func() {
		defer func() {
			if p := recover(); p != nil {
				c.Err = &JoinError[K]{Key: key, Panic: p, Stack: debug.Stack()}
			}
		}()
		res, elapsed := timed.Wrap(func(ctx context.Context) Completion[K, T] {
			v, err := op(ctx)
			return Completion[K, T]{Value: v, Err: err}
		})(ctx)
		c.Value, c.Err, c.Elapsed = res.Value, res.Err, elapsed
	}()

	if !r.release(key, ent) {
		// Aborted: the owner asked for this unit to go away.
		return
	}
	ent.cancel()

	select {
	case r.out <- c:
	case <-r.done:
	}
}

// release removes the unit's bookkeeping if it is still the live entry for key.
func (r *Registry[K, T]) release(key K, ent *entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.entries[key]
	if !ok || cur.id != ent.id {
		return false
	}
	delete(r.entries, key)
	return true
}

// Abort cancels the unit registered under key and forgets it.
// It returns the key and true if a live unit was found.
func (r *Registry[K, T]) Abort(key K) (K, bool) {
	r.mu.Lock()
	ent, ok := r.entries[key]
	if ok {
		delete(r.entries, key)
	}
	r.mu.Unlock()

	if !ok {
		var zero K
		return zero, false
	}
	ent.cancel()
	return key, true
}

// AbortAll cancels every live unit and returns how many were aborted.
func (r *Registry[K, T]) AbortAll() int {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[K]*entry)
	r.mu.Unlock()

	for _, ent := range entries {
		ent.cancel()
	}
	return len(entries)
}

// Completions returns the stream of finished units in completion order.
// The channel is never closed; stop reading after Close.
func (r *Registry[K, T]) Completions() <-chan Completion[K, T] {
	return r.out
}

// Contains reports whether key has a live unit.
func (r *Registry[K, T]) Contains(key K) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[key]
	return ok
}

// Len returns the number of live units.
func (r *Registry[K, T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Keys returns a snapshot of the live keys.
func (r *Registry[K, T]) Keys() []K {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]K, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	return keys
}

// Close aborts all live units, stops delivery and waits for unit goroutines
// to return. Units that ignore cancellation delay Close until they finish.
func (r *Registry[K, T]) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	r.AbortAll()
	close(r.done)
	r.wg.Wait()
}
