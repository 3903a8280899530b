package events

import (
	"context"
	"fmt"
	"sync"

	"eventmesh-be/internal/pkg/logger"
)

// Handler processes one event. A non-nil error marks the handler failed;
// it never affects sibling handlers or the dispatcher.
type Handler func(ctx context.Context, event Event) error

type namedHandler struct {
	name    string
	handler Handler
}

// Registry is the in-process mapping from event type to its handlers.
// One event is dispatched to all registered handlers concurrently with
// per-handler fault isolation.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string][]namedHandler
	logger   logger.ILogger
}

func NewRegistry(log logger.ILogger) *Registry {
	return &Registry{
		handlers: make(map[string][]namedHandler),
		logger:   log,
	}
}

// Register appends handler to the ordered list for eventType. The name tag
// identifies the handler in logs.
func (r *Registry) Register(eventType, name string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[eventType] = append(r.handlers[eventType], namedHandler{name: name, handler: handler})
}

// HandlerCount returns the number of handlers registered for eventType.
func (r *Registry) HandlerCount(eventType string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[eventType])
}

// Dispatch invokes every handler registered for the event's type
// concurrently and returns once all have settled. Handler errors and panics
// are logged individually and never propagate.
func (r *Registry) Dispatch(ctx context.Context, event Event) {
	r.mu.RLock()
	handlers := make([]namedHandler, len(r.handlers[event.EventType()]))
	copy(handlers, r.handlers[event.EventType()])
	r.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, h := range handlers {
		wg.Add(1)
		go func(h namedHandler) {
			defer wg.Done()
			if err := r.invoke(ctx, h, event); err != nil {
				r.logger.Error("EventRegistry", "Handler failed", map[string]interface{}{
					"handler":    h.name,
					"event_id":   event.EventID(),
					"event_type": event.EventType(),
					"error":      err.Error(),
				})
			}
		}(h)
	}
	wg.Wait()
}

func (r *Registry) invoke(ctx context.Context, h namedHandler, event Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler %s panicked: %v", h.name, rec)
		}
	}()
	return h.handler(ctx, event)
}
