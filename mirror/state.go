// Package mirror keeps a local, ordered copy of the pins table live.
package mirror

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
	md "wuyrush.io/plakat/models"
	"wuyrush.io/plakat/pins"
	st "wuyrush.io/plakat/stores"
)

// Listener receives the collection after each mutation that changed it. Listeners run on the goroutine
// applying mutations and must not call back into the State.
type Listener func(ps []md.Pin)

type eventKind int

const (
	evLoad eventKind = iota
	evChange
	evUpsert
	evRemove
)

type event struct {
	kind    eventKind
	pins    []md.Pin
	change  st.Change
	pin     md.Pin
	id      string
	applied chan struct{}
}

// State is the ordered collection of known pins. Every mutation, whatever its source, is funneled through
// one channel and applied by the goroutine running Run, so the collection itself is never shared.
type State struct {
	Normalizer pins.Normalizer

	events chan event
	done   chan struct{}
	once   sync.Once

	mu        sync.RWMutex
	snapshot  []md.Pin
	listeners []Listener
}

func New(n pins.Normalizer) *State {
	return &State{
		Normalizer: n,
		events:     make(chan event),
		done:       make(chan struct{}),
		snapshot:   []md.Pin{},
	}
}

// Run applies mutations until ctx is done. Once Run returns, mutations are dropped and listeners are no
// longer called.
func (s *State) Run(ctx context.Context) {
	defer s.once.Do(func() { close(s.done) })
	ps := s.Snapshot()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.events:
			var changed bool
			ps, changed = s.apply(ps, ev)
			if changed {
				s.publish(ps)
			}
			close(ev.applied)
		}
	}
}

func (s *State) apply(ps []md.Pin, ev event) ([]md.Pin, bool) {
	switch ev.kind {
	case evLoad:
		out := distinct(ev.pins)
		pins.SortNewestFirst(out)
		return out, true
	case evChange:
		return Reconcile(ps, ev.change, s.Normalizer)
	case evUpsert:
		return upsert(ps, ev.pin)
	case evRemove:
		return without(ps, ev.id)
	default:
		log.WithField("eventKind", ev.kind).Warn("ignoring unknown mirror event")
		return ps, false
	}
}

func (s *State) publish(ps []md.Pin) {
	snap := make([]md.Pin, len(ps))
	copy(snap, ps)
	s.mu.Lock()
	s.snapshot = snap
	ls := make([]Listener, len(s.listeners))
	copy(ls, s.listeners)
	s.mu.Unlock()
	for _, l := range ls {
		out := make([]md.Pin, len(snap))
		copy(out, snap)
		l(out)
	}
}

// send hands ev to Run and waits until it is applied. It reports false if the State was torn down first.
func (s *State) send(ev event) bool {
	ev.applied = make(chan struct{})
	select {
	case s.events <- ev:
	case <-s.done:
		return false
	}
	select {
	case <-ev.applied:
		return true
	case <-s.done:
		return false
	}
}

// Load replaces the whole collection, e.g. with the result of an initial or repeated bulk load
func (s *State) Load(ps []md.Pin) bool {
	return s.send(event{kind: evLoad, pins: ps})
}

// Apply reconciles a change notification of the pins table
func (s *State) Apply(c st.Change) bool {
	return s.send(event{kind: evChange, change: c})
}

// Upsert adds or replaces p, e.g. after the gateway acknowledged its creation
func (s *State) Upsert(p md.Pin) bool {
	return s.send(event{kind: evUpsert, pin: p})
}

// Remove drops the pin with given id if present
func (s *State) Remove(id string) bool {
	return s.send(event{kind: evRemove, id: id})
}

// Snapshot returns a copy of the collection, newest first
func (s *State) Snapshot() []md.Pin {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]md.Pin, len(s.snapshot))
	copy(out, s.snapshot)
	return out
}

// OnChange registers l to be called after every effective mutation
func (s *State) OnChange(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Done is closed once Run has returned
func (s *State) Done() <-chan struct{} {
	return s.done
}
