// Package hooks lets external code observe, enrich or veto log store
// operations without the store depending on concrete implementations.
//
// Events whose type starts with "Pre" run synchronously and a listener error
// cancels the operation. All other events are notifications: listener errors
// are logged and listeners may ask to run asynchronously.
package hooks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// HookManager registers listeners and dispatches events to them.
type HookManager interface {
	Register(eventType EventType, listener HookListener)
	// Trigger runs the listeners registered for event in priority order.
	Trigger(ctx context.Context, event HookEvent) error
	// Stop waits for asynchronous listeners to return.
	Stop()
}

// HookListener is implemented by components that react to events.
type HookListener interface {
	// OnEvent handles one event. An error from a Pre hook cancels the
	// operation; errors from other hooks are only logged.
	OnEvent(ctx context.Context, event HookEvent) error

	// Priority orders listeners; lower runs first.
	Priority() int

	// IsAsync asks for a background goroutine. Ignored for Pre hooks.
	IsAsync() bool
}

// ListenerFunc adapts a function to HookListener.
type ListenerFunc struct {
	Fn    func(ctx context.Context, event HookEvent) error
	Prio  int
	Async bool
}

func (f ListenerFunc) OnEvent(ctx context.Context, event HookEvent) error { return f.Fn(ctx, event) }
func (f ListenerFunc) Priority() int                                      { return f.Prio }
func (f ListenerFunc) IsAsync() bool                                      { return f.Async }

type registeredListener struct {
	listener HookListener
	priority int
}

// DefaultHookManager keeps one priority-sorted slice of listeners per event type.
type DefaultHookManager struct {
	mu        sync.RWMutex
	listeners map[EventType][]*registeredListener
	wg        sync.WaitGroup
	logger    *slog.Logger
}

func NewHookManager(logger *slog.Logger) HookManager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &DefaultHookManager{
		listeners: make(map[EventType][]*registeredListener),
		logger:    logger.With("component", "HookManager"),
	}
}

// Register inserts listener keeping the slice sorted by priority. Listeners
// with equal priority run in registration order.
func (m *DefaultHookManager) Register(eventType EventType, listener HookListener) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item := &registeredListener{listener: listener, priority: listener.Priority()}
	l := m.listeners[eventType]
	idx := sort.Search(len(l), func(i int) bool { return l[i].priority > item.priority })
	l = append(l, nil)
	copy(l[idx+1:], l[idx:])
	l[idx] = item
	m.listeners[eventType] = l
}

// HasListeners reports whether anything is registered for eventType, so
// callers can skip building payloads on hot paths.
func (m *DefaultHookManager) HasListeners(eventType EventType) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.listeners[eventType]) > 0
}

func (m *DefaultHookManager) Trigger(ctx context.Context, event HookEvent) error {
	m.mu.RLock()
	listeners := m.listeners[event.Type()]
	m.mu.RUnlock()

	if len(listeners) == 0 {
		return nil
	}

	isPre := strings.HasPrefix(string(event.Type()), "Pre")
	for _, item := range listeners {
		if !isPre && item.listener.IsAsync() {
			m.wg.Add(1)
			go func(item *registeredListener) {
				defer m.wg.Done()
				if err := item.listener.OnEvent(ctx, event); err != nil {
					m.logger.Error("Async hook listener failed", "event", event.Type(), "priority", item.priority, "error", err)
				}
			}(item)
			continue
		}

		if err := item.listener.OnEvent(ctx, event); err != nil {
			if isPre {
				return fmt.Errorf("pre-hook for event %s (priority %d) failed: %w", event.Type(), item.priority, err)
			}
			m.logger.Error("Hook listener failed", "event", event.Type(), "priority", item.priority, "error", err)
		}
	}
	return nil
}

func (m *DefaultHookManager) Stop() {
	m.wg.Wait()
}
