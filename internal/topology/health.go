package topology

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gluk-w/mongostopo/internal/proxyhandle"
	"github.com/google/uuid"
)

// startHealthMonitor arms the first health-check tick, haInterval
// after the initial connect fan-out settles. The monitor reschedules
// itself at the end of every tick, so at most one tick is ever in
// flight.
func (t *Topology) startHealthMonitor() {
	t.mu.Lock()
	if t.state == StateDestroyed {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	t.scheduleTick()
}

func (t *Topology) scheduleTick() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateDestroyed {
		return
	}
	if t.monitorTimer != nil {
		t.monitorTimer.Stop()
	}
	t.monitorTimer = time.AfterFunc(t.options.haInterval(), t.runHealthTick)
}

// runHealthTick is the Health Monitor's per-tick body. It pings every
// currently-connected proxy concurrently, then hands the currently-
// disconnected set to the Rehabilitator. If no proxy is connected at
// all, pinging is skipped and rehabilitation runs directly — this is
// also how a topology that failed to connect to any seed at cold
// start eventually recovers and fires connect/fullsetup/all.
func (t *Topology) runHealthTick() {
	t.mu.Lock()
	destroyed := t.state == StateDestroyed
	t.mu.Unlock()
	if destroyed {
		return
	}

	connected := t.Connections()
	if len(connected) > 0 {
		t.mu.Lock()
		handler := t.disconnectHandler
		t.mu.Unlock()
		if handler != nil {
			handler.Execute()
		}
	}

	if len(connected) == 0 {
		hadConnectedBefore := t.connectEventsEmitted
		t.rehabilitate(t.snapshotDisconnectedForRehab())
		if t.IsConnected() {
			if hadConnectedBefore {
				t.emit(EventReconnect, t)
			} else {
				t.emitConnectEventsOnce()
			}
		}
		t.scheduleTick()
		return
	}

	var wg sync.WaitGroup
	for _, p := range connected {
		wg.Add(1)
		go func(p proxyhandle.Handle) {
			defer wg.Done()
			t.pingOne(p)
		}(p)
	}
	wg.Wait()

	if promoted := t.rehabilitate(t.snapshotDisconnectedForRehab()); promoted > 0 && t.IsConnected() {
		t.emit(EventReconnect, t)
	}
	t.scheduleTick()
}

func (t *Topology) snapshotDisconnectedForRehab() []proxyhandle.Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotDisconnectedLocked()
}

// pingOne issues a single monitoring ismaster command against p and
// updates bookkeeping on the result. The minLatencyMS update
// intentionally reads p's *previous* LastIsMasterMS rather than the
// latency just measured — matching the upstream monitor's own
// sequencing, where the floor is refreshed from the last completed
// round-trip before the current one is recorded.
func (t *Topology) pingOne(p proxyhandle.Handle) {
	correlationID := uuid.NewString()
	t.emit(EventHeartbeatStarted, HeartbeatStartedEvent{ConnectionID: p.Name(), CorrelationID: correlationID})

	ctx, cancel := context.WithTimeout(t.runCtx, t.socketTimeout())
	defer cancel()

	start := time.Now()
	reply, err := p.Command(ctx, "admin.$cmd", map[string]any{"ismaster": true}, proxyhandle.CommandOptions{Monitoring: true})
	latencyMS := time.Since(start).Milliseconds()

	t.mu.Lock()
	t.updateMinLatencyLocked(p.LastIsMasterMS())
	t.mu.Unlock()

	if err != nil {
		t.emit(EventHeartbeatFailed, HeartbeatFailedEvent{DurationMS: latencyMS, Failure: err, ConnectionID: p.Name(), CorrelationID: correlationID})

		t.mu.Lock()
		if !t.connected.contains(p.Name()) {
			t.mu.Unlock()
			return
		}
		move(p, t.disconnected, t.connected)
		t.mu.Unlock()

		t.emit(EventServerDescriptionChanged, ServerDescriptionChangedEvent{Address: p.Name(), PreviousType: "Mongos", NewType: "Unknown"})
		t.emit(EventLeft, LeftEvent{Kind: "mongos", Name: p.Name()})
		p.Destroy()
		t.emit(EventServerClosed, ServerClosedEvent{TopologyID: t.id, Address: p.Name()})
		if t.options.EmitError {
			t.emit(EventError, err)
		}
		return
	}

	p.SetLastIsMaster(reply, latencyMS)
	t.emit(EventHeartbeatSucceeded, HeartbeatSucceededEvent{DurationMS: latencyMS, Reply: reply, ConnectionID: p.Name(), CorrelationID: correlationID})
}

func (t *Topology) socketTimeout() time.Duration {
	if t.options.SocketTimeout > 0 {
		return t.options.SocketTimeout
	}
	return 10 * time.Second
}

// rehabilitate is the Rehabilitator: for every currently-disconnected
// entry it constructs a fresh handle for the same seed, staggers the
// reconnect attempt by position, and promotes it back to connected on
// success. A proxy that fails again simply stays in disconnected,
// unchanged, to be retried on the next tick. While an Auth call is in
// flight, a newly-reconnected handle is destroyed rather than
// promoted: its credentials would not match whatever the other
// connected proxies were just authenticated with.
func (t *Topology) rehabilitate(entries []proxyhandle.Handle) int {
	if len(entries) == 0 {
		return 0
	}

	var promoted atomic.Int64
	var wg sync.WaitGroup
	for i, e := range entries {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			if i > 0 {
				time.Sleep(time.Duration(i) * time.Millisecond)
			}

			t.mu.Lock()
			if t.state == StateDestroyed {
				t.mu.Unlock()
				return
			}
			t.mu.Unlock()

			seed, ok := parseSeedName(name)
			if !ok {
				return
			}
			h := t.newHandle(seed)
			t.emit(EventServerOpening, ServerOpeningEvent{TopologyID: t.id, Address: h.Name()})
			err := h.Connect(t.runCtx)

			t.mu.Lock()
			if t.state == StateDestroyed {
				t.mu.Unlock()
				h.Destroy()
				t.emit(EventServerClosed, ServerClosedEvent{TopologyID: t.id, Address: h.Name()})
				return
			}
			if err != nil {
				t.incRehabFailureLocked(name)
				t.mu.Unlock()
				return
			}
			if t.authenticating {
				t.mu.Unlock()
				h.Destroy()
				t.emit(EventServerClosed, ServerClosedEvent{TopologyID: t.id, Address: h.Name()})
				return
			}
			t.updateMinLatencyLocked(h.LastIsMasterMS())
			move(h, t.connected, t.disconnected)
			delete(t.rehabFailures, name)
			t.mu.Unlock()

			t.attachStableHandler(h)
			promoted.Add(1)
			t.emit(EventServerDescriptionChanged, ServerDescriptionChangedEvent{Address: h.Name(), PreviousType: "Unknown", NewType: "Mongos"})
			t.emit(EventJoined, JoinedEvent{Kind: "mongos", Handle: h})
		}(i, e.Name())
	}
	wg.Wait()
	return int(promoted.Load())
}

func (t *Topology) incRehabFailureLocked(name string) {
	t.rehabFailures[name]++
}
