package topology

import "github.com/gluk-w/mongostopo/internal/proxyhandle"

// State is the topology's own lifecycle state, distinct
// from the per-proxy ismaster bookkeeping in proxyhandle.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// legalTransitions is the state-transition table: Disconnected ->
// Connecting -> Connected -> Destroyed, with a direct path to
// Destroyed from any live state. A Connected topology never returns
// to Connecting. The table permits Connected -> Disconnected, but no
// code path takes it: a topology that loses every proxy stays
// Connected with an empty connected set.
var legalTransitions = map[State]map[State]bool{
	StateDisconnected: {StateConnecting: true, StateDestroyed: true},
	StateConnecting:   {StateConnected: true, StateDisconnected: true, StateDestroyed: true},
	StateConnected:    {StateDisconnected: true, StateDestroyed: true},
	StateDestroyed:    {},
}

// setStateLocked enforces the transition table; callers must hold t.mu.
// An illegal transition is a no-op that reports failure rather than a
// panic, since topology state races against the health monitor, the
// dispatcher, and Destroy concurrently by design.
func (t *Topology) setStateLocked(to State) bool {
	if t.state == to {
		return true
	}
	if !legalTransitions[t.state][to] {
		return false
	}
	t.state = to
	return true
}

// proxySet is an insertion-ordered set of handles keyed by name,
// backing the connecting/connected/disconnected sets of the State
// Store (C2). Ordering matters for the Selector's round-robin index.
type proxySet struct {
	order  []string
	byName map[string]proxyhandle.Handle
}

func newProxySet() *proxySet {
	return &proxySet{byName: make(map[string]proxyhandle.Handle)}
}

func (s *proxySet) add(h proxyhandle.Handle) {
	name := h.Name()
	if _, ok := s.byName[name]; ok {
		s.byName[name] = h
		return
	}
	s.byName[name] = h
	s.order = append(s.order, name)
}

func (s *proxySet) remove(name string) {
	if _, ok := s.byName[name]; !ok {
		return
	}
	delete(s.byName, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *proxySet) contains(name string) bool {
	_, ok := s.byName[name]
	return ok
}

func (s *proxySet) get(name string) (proxyhandle.Handle, bool) {
	h, ok := s.byName[name]
	return h, ok
}

func (s *proxySet) list() []proxyhandle.Handle {
	out := make([]proxyhandle.Handle, 0, len(s.order))
	for _, n := range s.order {
		out = append(out, s.byName[n])
	}
	return out
}

func (s *proxySet) len() int { return len(s.order) }

// move is the set-mutation primitive: it removes any
// entry for h's name from every set in from, then adds h to to.
// Callers must hold t.mu.
func move(h proxyhandle.Handle, to *proxySet, from ...*proxySet) {
	for _, f := range from {
		f.remove(h.Name())
	}
	to.add(h)
}
