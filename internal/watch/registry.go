// Package watch keeps continuous-query listeners and refreshes them after
// committed mutations.
package watch

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	applog "dailyledger/internal/log"
)

// Span is a half-open millisecond range [Start, End).
type Span struct {
	Start int64
	End   int64
}

// Everything covers all timestamps.
var Everything = Span{Start: math.MinInt64, End: math.MaxInt64}

// At returns the span holding the single instant ms. The largest instant
// has no exclusive end, so it maps to the last unit below it.
func At(ms int64) Span {
	if ms == math.MaxInt64 {
		return Span{Start: ms - 1, End: ms}
	}
	return Span{Start: ms, End: ms + 1}
}

func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

func (s Span) Contains(ms int64) bool {
	return ms >= s.Start && ms < s.End
}

// Registry holds listeners keyed by the span they observe. Refresh
// callbacks run on the notifying goroutine, outside the registry lock.
type Registry struct {
	name   string
	logger *slog.Logger

	mu        sync.Mutex
	nextID    uint64
	listeners map[uint64]*listener
}

type listener struct {
	id      uint64
	span    Span
	refresh func(context.Context)

	// mu serializes deliveries to one listener.
	mu     sync.Mutex
	closed atomic.Bool
}

func NewRegistry(name string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		name:      name,
		logger:    logger,
		listeners: make(map[uint64]*listener),
	}
}

// Subscription is a handle to a registered listener.
type Subscription struct {
	id     uint64
	once   sync.Once
	remove func()

	mu     sync.Mutex
	detach func() bool
}

func (s *Subscription) ID() uint64 { return s.id }

// Close removes the listener. It is safe to call more than once, including
// from inside the listener's own callback.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		detach := s.detach
		s.mu.Unlock()
		if detach != nil {
			detach()
		}
		s.remove()
	})
}

// Add registers refresh for span, delivers the initial result and returns
// the subscription. Cancelling ctx closes the subscription.
func (r *Registry) Add(ctx context.Context, span Span, refresh func(context.Context)) *Subscription {
	r.mu.Lock()
	r.nextID++
	l := &listener{id: r.nextID, span: span, refresh: refresh}
	r.listeners[l.id] = l
	r.mu.Unlock()

	r.logger.DebugContext(ctx, "Listener added",
		applog.FieldComponent, applog.ComponentWatch,
		"registry", r.name,
		applog.FieldListenerID, l.id)

	sub := &Subscription{id: l.id, remove: func() { r.remove(l) }}
	detach := context.AfterFunc(ctx, sub.Close)
	sub.mu.Lock()
	sub.detach = detach
	sub.mu.Unlock()

	r.deliver(context.WithoutCancel(ctx), l)
	return sub
}

func (r *Registry) remove(l *listener) {
	r.mu.Lock()
	delete(r.listeners, l.id)
	r.mu.Unlock()
	l.closed.Store(true)

	r.logger.Debug("Listener removed",
		applog.FieldComponent, applog.ComponentWatch,
		"registry", r.name,
		applog.FieldListenerID, l.id)
}

// Notify refreshes every listener whose span overlaps one of changed. It
// returns, with the number of listeners refreshed, after all of them have
// been called.
func (r *Registry) Notify(ctx context.Context, changed ...Span) int {
	if len(changed) == 0 {
		return 0
	}

	r.mu.Lock()
	var hit []*listener
	for _, l := range r.listeners {
		for _, s := range changed {
			if l.span.Overlaps(s) {
				hit = append(hit, l)
				break
			}
		}
	}
	r.mu.Unlock()

	for _, l := range hit {
		r.deliver(ctx, l)
	}
	return len(hit)
}

// CloseAll removes every listener.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := r.listeners
	r.listeners = make(map[uint64]*listener)
	r.mu.Unlock()

	for _, l := range all {
		l.closed.Store(true)
	}
}

func (r *Registry) deliver(ctx context.Context, l *listener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed.Load() {
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.ErrorContext(ctx, "Listener panicked",
				applog.FieldComponent, applog.ComponentWatch,
				applog.FieldOperation, applog.OpNotify,
				"registry", r.name,
				applog.FieldListenerID, l.id,
				"panic", rec)
		}
	}()
	l.refresh(ctx)
}

// Len returns the number of active listeners.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.listeners)
}
