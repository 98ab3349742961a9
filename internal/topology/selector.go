package topology

import (
	"net"
	"strconv"

	"github.com/gluk-w/mongostopo/internal/proxyhandle"
)

// parseSeedName splits a "host:port" handle name back into a Seed, for
// the Rehabilitator reconstructing a fresh handle from a disconnected
// entry's name.
func parseSeedName(name string) (proxyhandle.Seed, bool) {
	host, portStr, err := net.SplitHostPort(name)
	if err != nil {
		return proxyhandle.Seed{}, false
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return proxyhandle.Seed{}, false
	}
	return proxyhandle.Seed{Host: host, Port: port}, true
}

// pickProxy is the Selector (C6): round-robin among connected proxies
// whose last-observed latency is within LocalThresholdMS of the
// lowest latency ever recorded. The round-robin index is taken modulo
// the *eligible* count, not the full connected count, so a slow
// proxy temporarily outside the window never receives traffic without
// skewing the rotation among the fast ones.
func (t *Topology) pickProxy() proxyhandle.Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateDestroyed || t.connected.len() == 0 {
		return nil
	}

	threshold := t.options.localThresholdMS()
	var eligible []proxyhandle.Handle
	for _, h := range t.connected.list() {
		if !h.IsConnected() {
			continue
		}
		if h.LastIsMasterMS() <= t.minLatencyMS+threshold {
			eligible = append(eligible, h)
		}
	}
	if len(eligible) == 0 {
		return nil
	}

	idx := int(t.index % uint(len(eligible)))
	t.index++
	return eligible[idx]
}

// GetServer returns the next eligible proxy per the Selector, or nil
// if none is currently eligible. Like Cursor, it bypasses the common
// dispatch gate: it does not fail on a destroyed
// topology, it simply returns nil. When Options.Debug is set, the
// pickedServer event reports every call including misses.
func (t *Topology) GetServer() proxyhandle.Handle {
	h := t.pickProxy()
	if t.options.Debug {
		var err error
		if h == nil {
			err = ErrNoProxyAvailable
		}
		t.emit(EventPickedServer, PickedServerEvent{Err: err, Handle: h})
	}
	return h
}
