// Package events implements the bounded, per-source event queue:
// push/drain with a fixed capacity, a refcount-disciplined handler list,
// and one-shot awaiters parked on the next push. Grounded on a bounded
// input channel drained by a single consumer loop, generalized from one
// hardcoded input queue to N independently bounded sources with a
// handler registry.
package events

import (
	"sync"

	"fiberhost/runtime"
	"fiberhost/trace"
	"fiberhost/types"
)

// DefaultMax is the default per-source capacity.
const DefaultMax = 5

// Adapter translates a pushed value into the argument vector a handler
// fiber is dispatched with.
type Adapter func(types.Value) []types.Value

// Source is one event queue: created by the board/peripheral at
// startup, lives for the program run, drained asynchronously.
type Source struct {
	rt      *runtime.Runtime
	max     int
	adapter Adapter

	mu       sync.Mutex
	events   []types.Value
	handlers []*runtime.Action
	awaiters []func(types.Value)
	draining bool
}

// NewSource creates a source bound to rt with the default capacity. Use
// WithMax/WithAdapter to override before the source starts receiving
// pushes.
func NewSource(rt *runtime.Runtime) *Source {
	return &Source{rt: rt, max: DefaultMax}
}

// WithMax overrides the default capacity.
func (s *Source) WithMax(max int) *Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.max = max
	return s
}

// WithAdapter installs the argument-adapter applied to each value before
// it is handed to a handler fiber.
func (s *Source) WithAdapter(a Adapter) *Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adapter = a
	return s
}

// Push implements the source's push contract:
//  1. Wake awaiters — notifyOne wakes only the head awaiter; otherwise
//     the entire list is snapshotted and cleared before waking, so
//     awaiters re-registered by woken code land in the next batch.
//  2. Enqueue unconditionally while under capacity.
//  3. If this is the only event and the source is not already draining,
//     start draining.
//
// The drain kickoff in step 3 is deferred to the next tick
// (rt.ScheduleNextTick) rather than run inline: a queue is drained
// asynchronously, so a tight run of Push calls in the same turn — e.g.
// pushing six values in rapid succession against a max of five — must
// see the capacity check before the first event is ever shifted off,
// not race against it.
func (s *Source) Push(value types.Value, notifyOne bool) {
	s.wakeAwaiters(value, notifyOne)

	s.mu.Lock()
	if len(s.events) >= s.max {
		s.mu.Unlock()
		return
	}
	s.events = append(s.events, value)
	start := len(s.events) == 1 && !s.draining
	if start {
		s.draining = true
	}
	s.mu.Unlock()

	if start {
		s.rt.ScheduleNextTick(s.poke)
	}
}

func (s *Source) wakeAwaiters(value types.Value, notifyOne bool) {
	if notifyOne {
		s.mu.Lock()
		if len(s.awaiters) == 0 {
			s.mu.Unlock()
			return
		}
		head := s.awaiters[0]
		s.awaiters = s.awaiters[1:]
		s.mu.Unlock()
		head(value)
		return
	}

	s.mu.Lock()
	snapshot := s.awaiters
	s.awaiters = nil
	s.mu.Unlock()

	for _, aw := range snapshot {
		aw(value)
	}
}

// Await parks a one-shot awaiter that fires on the next push to this
// source, matching a fiber calling into a "wait for any event" native
// extension.
func (s *Source) Await(cb func(types.Value)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.awaiters = append(s.awaiters, cb)
}

// poke is the drain: shift the head event, dispatch every handler as a
// fresh fiber with the (adapted) value, and only once every dispatched
// fiber for this event has completed does it either drain the next event
// or release the drain lock.
func (s *Source) poke() {
	s.mu.Lock()
	if len(s.events) == 0 {
		s.draining = false
		s.mu.Unlock()
		return
	}
	value := s.events[0]
	s.events = s.events[1:]
	handlers := append([]*runtime.Action(nil), s.handlers...)
	adapter := s.adapter
	s.mu.Unlock()

	trace.Event("event", "drain value=%s handlers=%d", value.String(), len(handlers))

	if len(handlers) == 0 {
		s.poke()
		return
	}

	args := []types.Value{value}
	if adapter != nil {
		args = adapter(value)
	}

	var wg sync.WaitGroup
	wg.Add(len(handlers))
	for _, h := range handlers {
		ch := s.rt.RunFiberAsync(h, args...)
		go func(ch <-chan types.Value) {
			defer wg.Done()
			<-ch
		}(ch)
	}

	go func() {
		wg.Wait()
		s.poke()
	}()
}

// AddHandler appends action to the handler list and, if it carries a
// refcounted Ref, retains it.
func (s *Source) AddHandler(action *runtime.Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, action)
	retain(action)
}

// SetHandler decrements every existing handler, replaces the list with
// handlers, and retains each of those — refcount-balanced.
func (s *Source) SetHandler(handlers []*runtime.Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.handlers {
		release(h)
	}
	s.handlers = append([]*runtime.Action(nil), handlers...)
	for _, h := range s.handlers {
		retain(h)
	}
}

// RemoveHandler removes every occurrence of action from the handler
// list, releasing once per removal.
func (s *Source) RemoveHandler(action *runtime.Action) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.handlers[:0]
	for _, h := range s.handlers {
		if h == action {
			release(h)
			continue
		}
		kept = append(kept, h)
	}
	s.handlers = kept
}

// Handlers returns the current handler list (for refcount-balance
// property tests).
func (s *Source) Handlers() []*runtime.Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*runtime.Action(nil), s.handlers...)
}

func retain(a *runtime.Action) {
	if a != nil && a.Ref != nil {
		a.Ref.Retain()
	}
}

func release(a *runtime.Action) {
	if a != nil && a.Ref != nil {
		a.Ref.Release()
	}
}
