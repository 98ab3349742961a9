package topology

import (
	"sync"

	"github.com/gluk-w/mongostopo/internal/proxyhandle"
)

// fakeSpec configures how a fakeRegistry builds the next handle for a
// given seed address. Tests mutate the registry between health-monitor
// ticks to simulate a seed going down or recovering.
type fakeSpec struct {
	connectErr  error
	arbiterOnly bool
	latencyMS   int64
}

// fakeRegistry backs a ConnectOptions.HandleFactory with fresh
// *proxyhandle.FakeHandle instances per call, matching the
// Rehabilitator's "construct a fresh handle" contract, while letting a
// test steer each seed's next outcome.
type fakeRegistry struct {
	mu    sync.Mutex
	specs map[string]fakeSpec
	built map[string][]*proxyhandle.FakeHandle
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		specs: make(map[string]fakeSpec),
		built: make(map[string][]*proxyhandle.FakeHandle),
	}
}

func (r *fakeRegistry) set(addr string, spec fakeSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs[addr] = spec
}

func (r *fakeRegistry) factory(seed proxyhandle.Seed, _ proxyhandle.Options) proxyhandle.Handle {
	addr := seed.Addr()
	r.mu.Lock()
	spec := r.specs[addr]
	h := proxyhandle.NewFakeHandle(addr)
	h.ConnectErr = spec.connectErr
	h.ConnectArbiterOnly = spec.arbiterOnly
	h.ConnectLatencyMS = spec.latencyMS
	r.built[addr] = append(r.built[addr], h)
	r.mu.Unlock()
	return h
}

// latest returns the most recently constructed handle for addr, or nil.
func (r *fakeRegistry) latest(addr string) *proxyhandle.FakeHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	built := r.built[addr]
	if len(built) == 0 {
		return nil
	}
	return built[len(built)-1]
}

func (r *fakeRegistry) buildCount(addr string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.built[addr])
}
