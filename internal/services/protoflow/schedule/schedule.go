// Package schedule evaluates time-based and lifecycle triggers for plugin
// instances. A Scheduler belongs to the runtime run loop and is not safe for
// concurrent use.
package schedule

import (
	"fmt"
	"log/slog"
	"slices"
	"time"
)

// Lifecycle is an instance lifecycle transition.
type Lifecycle int

const (
	Opened Lifecycle = iota + 1
	Closed
)

func (l Lifecycle) String() string {
	switch l {
	case Opened:
		return "opened"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// LifecycleEvent describes one transition delivered to lifecycle hooks.
type LifecycleEvent struct {
	Kind       Lifecycle
	InstanceID string
	TypeName   string
	At         time.Time
}

// Event is a registration returned by Register or OnLifecycle.
type Event struct {
	owner   string
	trigger Trigger
	fire    func(now time.Time)

	kind     Lifecycle
	typeName string
	observe  func(LifecycleEvent)

	last    time.Time
	removed bool
}

// Owner returns the instance ID the event is scoped to, if any.
func (e *Event) Owner() string { return e.owner }

// LastFired returns the zero time until the event first fires.
func (e *Event) LastFired() time.Time { return e.last }

// SetLastFired seeds the last firing, for events whose history outlives
// the process.
func (e *Event) SetLastFired(t time.Time) { e.last = t }

// Active reports whether the event is still registered.
func (e *Event) Active() bool { return !e.removed }

// Scheduler holds time events and lifecycle hooks.
type Scheduler struct {
	logger      *slog.Logger
	events      []*Event
	hooks       []*Event
	dispatching int
}

// New returns an empty scheduler.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{logger: logger}
}

// Register adds a time-based event. owner scopes it to an instance so that
// UnregisterOwner can drop it; empty means global.
func (s *Scheduler) Register(owner string, trigger Trigger, fn func(now time.Time)) *Event {
	e := &Event{owner: owner, trigger: trigger, fire: fn}
	s.events = append(s.events, e)
	return e
}

// OnLifecycle adds a hook for kind. An empty typeName matches every type.
func (s *Scheduler) OnLifecycle(owner string, kind Lifecycle, typeName string, fn func(LifecycleEvent)) *Event {
	e := &Event{owner: owner, kind: kind, typeName: typeName, observe: fn}
	s.hooks = append(s.hooks, e)
	return e
}

// Unregister removes e. It is safe to call from inside e's own callback;
// the event never fires again.
func (s *Scheduler) Unregister(e *Event) {
	if e == nil || e.removed {
		return
	}
	e.removed = true
	s.compact()
}

// UnregisterOwner removes every event and hook scoped to owner.
func (s *Scheduler) UnregisterOwner(owner string) int {
	if owner == "" {
		return 0
	}
	removed := 0
	for _, list := range [][]*Event{s.events, s.hooks} {
		for _, e := range list {
			if e.owner == owner && !e.removed {
				e.removed = true
				removed++
			}
		}
	}
	s.compact()
	return removed
}

// Len returns the number of live time events and hooks.
func (s *Scheduler) Len() int {
	n := 0
	for _, list := range [][]*Event{s.events, s.hooks} {
		for _, e := range list {
			if !e.removed {
				n++
			}
		}
	}
	return n
}

// Tick fires every due time event once and stamps it with now. Events
// registered during the tick are first evaluated on the next one.
func (s *Scheduler) Tick(now time.Time) int {
	s.dispatching++
	defer s.endDispatch()

	fired := 0
	for i, n := 0, len(s.events); i < n; i++ {
		e := s.events[i]
		if e.removed || !e.trigger.Due(now, e.last) {
			continue
		}
		e.last = now
		fired++
		s.call(e, func() { e.fire(now) })
	}
	return fired
}

// Emit delivers ev to matching lifecycle hooks.
func (s *Scheduler) Emit(ev LifecycleEvent) int {
	s.dispatching++
	defer s.endDispatch()

	delivered := 0
	for i, n := 0, len(s.hooks); i < n; i++ {
		e := s.hooks[i]
		if e.removed || e.kind != ev.Kind || (e.typeName != "" && e.typeName != ev.TypeName) {
			continue
		}
		e.last = ev.At
		delivered++
		s.call(e, func() { e.observe(ev) })
	}
	return delivered
}

func (s *Scheduler) call(e *Event, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled callback panicked", "owner", e.owner, "panic", fmt.Sprint(r))
		}
	}()
	fn()
}

func (s *Scheduler) endDispatch() {
	s.dispatching--
	s.compact()
}

func (s *Scheduler) compact() {
	if s.dispatching > 0 {
		return
	}
	removed := func(e *Event) bool { return e.removed }
	s.events = slices.DeleteFunc(s.events, removed)
	s.hooks = slices.DeleteFunc(s.hooks, removed)
}
