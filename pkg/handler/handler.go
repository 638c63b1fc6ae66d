// Package handler routes decoded chain events to persistence handlers.
package handler

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/core/types"
	"gorm.io/gorm"

	"github.com/hiveswap/hive-points/pkg/decoder"
)

// BlockInfo carries the block context of the log being handled.
type BlockInfo struct {
	Number uint64
	Hash   string
	Time   uint64
}

// Context is passed to each handler invocation. DB is the open
// transaction the whole iteration commits under.
type Context struct {
	DB    *gorm.DB
	Block BlockInfo
	Log   types.Log
	Event *decoder.Event
}

// Func processes one decoded event inside the iteration transaction.
type Func func(ctx *Context) error

// Registry maps event kinds to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[decoder.Kind]Func
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[decoder.Kind]Func),
	}
}

// Register binds a handler to an event kind, overwriting any previous
// binding.
func (r *Registry) Register(kind decoder.Kind, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = fn
}

// Get returns the handler for an event kind.
func (r *Registry) Get(kind decoder.Kind) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[kind]
	return fn, ok
}

// HasHandler reports whether a handler is bound to the event kind.
func (r *Registry) HasHandler(kind decoder.Kind) bool {
	_, ok := r.Get(kind)
	return ok
}

// ListHandlers returns the bound event kinds.
func (r *Registry) ListHandlers() []decoder.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]decoder.Kind, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	return kinds
}

// Handle dispatches the event in ctx to its handler. An event kind
// without a handler is skipped silently.
func (r *Registry) Handle(ctx *Context) error {
	if ctx.Event == nil {
		return fmt.Errorf("handler: event is nil")
	}

	fn, ok := r.Get(ctx.Event.Kind)
	if !ok {
		return nil
	}

	if err := fn(ctx); err != nil {
		return fmt.Errorf("handler %s: %w", ctx.Event.Kind, err)
	}
	return nil
}
