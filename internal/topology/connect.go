package topology

import (
	"context"
	"sync"
	"time"

	"github.com/gluk-w/mongostopo/internal/proxyhandle"
)

// Connect runs the Initial Connect Orchestrator (C4): it constructs a
// handle for every configured seed, staggers each Connect call by its
// index in the seed list (one millisecond per position, to avoid a
// thundering herd on constrained hosts), and waits for all
// of them to settle before starting the Health Monitor. It returns
// once every seed has either joined or failed; it does not return an
// error merely because some seeds failed to connect: a partially
// successful initial connect is normal operation, not a fatal error.
func (t *Topology) Connect(ctx context.Context, connOpts ConnectOptions) error {
	t.mu.Lock()
	if t.state == StateDestroyed {
		t.mu.Unlock()
		return ErrDestroyed
	}
	if !t.setStateLocked(StateConnecting) {
		t.mu.Unlock()
		return ErrDestroyed
	}
	t.connectOpts = connOpts
	seeds := append([]proxyhandle.Seed(nil), t.seedList...)
	t.mu.Unlock()

	t.emit(EventTopologyOpening, TopologyOpeningEvent{TopologyID: t.id})

	// Destroy cancels t.runCtx; tie the seeds' dials to it as well as
	// to the caller's ctx.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopAfter := context.AfterFunc(t.runCtx, cancel)
	defer stopAfter()

	var wg sync.WaitGroup
	for i, seed := range seeds {
		h := t.newHandle(seed)
		t.mu.Lock()
		t.connecting.add(h)
		t.mu.Unlock()
		t.emit(EventServerOpening, ServerOpeningEvent{TopologyID: t.id, Address: h.Name()})

		wg.Add(1)
		go func(i int, h proxyhandle.Handle) {
			defer wg.Done()
			if i > 0 {
				time.Sleep(time.Duration(i) * time.Millisecond)
			}
			err := h.Connect(ctx)
			t.handleInitialConnectResult(h, err)
		}(i, h)
	}
	wg.Wait()

	t.afterConnectingDrained()
	return nil
}

// handleInitialConnectResult processes one seed's outcome: a failed
// connect attempt moves the handle to disconnected and destroys it;
// a successful one promotes it to connected and attaches the
// stable-state fault listener.
func (t *Topology) handleInitialConnectResult(h proxyhandle.Handle, err error) {
	t.mu.Lock()
	if t.state == StateDestroyed {
		t.mu.Unlock()
		h.Destroy()
		return
	}

	if err != nil {
		move(h, t.disconnected, t.connecting)
		t.mu.Unlock()
		h.Destroy()
		t.emit(EventServerClosed, ServerClosedEvent{TopologyID: t.id, Address: h.Name()})
		t.emit(EventLeft, LeftEvent{Kind: "mongos", Name: h.Name()})
		t.emit(EventFailed, FailedEvent{Handle: h, Err: err})
		if t.options.EmitError {
			t.emit(EventError, err)
		}
		return
	}

	// A seed list can name the same proxy twice; the first arrival
	// wins; the duplicate is dropped from connecting and torn down
	// without being moved into connected.
	if t.connected.contains(h.Name()) {
		t.connecting.remove(h.Name())
		t.mu.Unlock()
		h.Destroy()
		t.emit(EventServerClosed, ServerClosedEvent{TopologyID: t.id, Address: h.Name()})
		t.emit(EventFailed, FailedEvent{Handle: h, Err: errDuplicateProxy})
		return
	}

	t.updateMinLatencyLocked(h.LastIsMasterMS())
	move(h, t.connected, t.connecting)
	t.mu.Unlock()

	t.attachStableHandler(h)
	t.emit(EventServerDescriptionChanged, ServerDescriptionChangedEvent{Address: h.Name(), PreviousType: "Unknown", NewType: "Mongos"})
	t.emit(EventJoined, JoinedEvent{Kind: "mongos", Handle: h})
}

// afterConnectingDrained runs once Connect's staggered fan-out has
// settled every seed. If at least one proxy connected, the topology
// transitions to Connected and the connect/fullsetup/all events fire
// (each at most once across the topology's lifetime). The Health
// Monitor is started unconditionally: even a topology with zero
// connected proxies keeps trying via the Rehabilitator.
func (t *Topology) afterConnectingDrained() {
	t.mu.Lock()
	connected := t.isConnectedLocked()
	if connected {
		t.setStateLocked(StateConnected)
	}
	t.mu.Unlock()

	if connected {
		t.emitConnectEventsOnce()
	}

	t.startHealthMonitor()
}

// emitConnectEventsOnce fires connect/fullsetup/all exactly once over
// the topology's lifetime, the first time the connected set becomes
// non-empty — whether that happens at the end of the initial connect
// fan-out or later, via the Rehabilitator reviving every seed after a
// fully-failed cold start.
func (t *Topology) emitConnectEventsOnce() {
	t.mu.Lock()
	if t.connectEventsEmitted || !t.isConnectedLocked() {
		t.mu.Unlock()
		return
	}
	t.connectEventsEmitted = true
	t.setStateLocked(StateConnected)
	t.mu.Unlock()

	t.emit(EventConnect, t)
	t.emit(EventFullsetup, t)
	t.emit(EventAll, t)
}

// attachStableHandler waits for the first asynchronous fault event a
// connected handle raises and demotes it. It is one-shot: once a
// handle has faulted and been destroyed, there is nothing further to
// listen for.
func (t *Topology) attachStableHandler(h proxyhandle.Handle) {
	go func() {
		ev, ok := <-h.Events()
		if !ok {
			return
		}
		t.demote(h, ev)
	}()
}

// demote moves h out of the connected set in response to an
// asynchronous fault, guarding against a concurrent health-monitor
// ping failure already having done so.
func (t *Topology) demote(h proxyhandle.Handle, _ proxyhandle.HandleEvent) {
	t.mu.Lock()
	if t.state == StateDestroyed || !t.connected.contains(h.Name()) {
		t.mu.Unlock()
		return
	}
	move(h, t.disconnected, t.connected)
	t.mu.Unlock()

	t.emit(EventServerDescriptionChanged, ServerDescriptionChangedEvent{Address: h.Name(), PreviousType: "Mongos", NewType: "Unknown"})
	t.emit(EventLeft, LeftEvent{Kind: "mongos", Name: h.Name()})
	h.Destroy()
	t.emit(EventServerClosed, ServerClosedEvent{TopologyID: t.id, Address: h.Name()})
}
