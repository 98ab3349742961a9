package topology

import (
	"context"

	"github.com/gluk-w/mongostopo/internal/proxyhandle"
	"github.com/google/uuid"
)

// gate implements the common dispatch gate shared by Insert, Update,
// Remove, and Command (Auth applies its own checks): a destroyed topology
// rejects outright; a disconnected one either buffers through the
// configured DisconnectHandler or rejects with ErrNoProxyAvailable;
// otherwise the call is forwarded to whatever the Selector currently
// picks.
func (t *Topology) gate(buffer func(DisconnectHandler), dispatch func(proxyhandle.Handle) error) error {
	t.mu.Lock()
	if t.state == StateDestroyed {
		t.mu.Unlock()
		return ErrDestroyed
	}
	connected := t.isConnectedLocked()
	handler := t.disconnectHandler
	t.mu.Unlock()

	if !connected {
		if handler != nil {
			buffer(handler)
			return nil
		}
		return ErrNoProxyAvailable
	}

	h := t.pickProxy()
	if h == nil {
		return ErrNoProxyAvailable
	}
	return dispatch(h)
}

// Insert forwards docs to an eligible proxy. cb, if non-nil, is called
// with the outcome — synchronously if the call was dispatched
// immediately, or later by the DisconnectHandler if it was buffered
// instead (the topology itself never invokes cb in that case).
func (t *Topology) Insert(ctx context.Context, ns string, docs []map[string]any, opts proxyhandle.OpOptions, cb func(error)) error {
	return t.gate(
		func(handler DisconnectHandler) {
			handler.Add(BufferedOp{Kind: "insert", Ns: ns, Args: docs, Opts: opts, CorrelationID: uuid.NewString(), Callback: cb})
		},
		func(h proxyhandle.Handle) error {
			err := h.Insert(ctx, ns, docs, opts)
			if cb != nil {
				cb(err)
			}
			return err
		},
	)
}

// Update forwards ops to an eligible proxy. See Insert for the
// buffering/callback contract.
func (t *Topology) Update(ctx context.Context, ns string, ops []map[string]any, opts proxyhandle.OpOptions, cb func(error)) error {
	return t.gate(
		func(handler DisconnectHandler) {
			handler.Add(BufferedOp{Kind: "update", Ns: ns, Args: ops, Opts: opts, CorrelationID: uuid.NewString(), Callback: cb})
		},
		func(h proxyhandle.Handle) error {
			err := h.Update(ctx, ns, ops, opts)
			if cb != nil {
				cb(err)
			}
			return err
		},
	)
}

// Remove forwards ops to an eligible proxy. See Insert for the
// buffering/callback contract.
func (t *Topology) Remove(ctx context.Context, ns string, ops []map[string]any, opts proxyhandle.OpOptions, cb func(error)) error {
	return t.gate(
		func(handler DisconnectHandler) {
			handler.Add(BufferedOp{Kind: "remove", Ns: ns, Args: ops, Opts: opts, CorrelationID: uuid.NewString(), Callback: cb})
		},
		func(h proxyhandle.Handle) error {
			err := h.Remove(ctx, ns, ops, opts)
			if cb != nil {
				cb(err)
			}
			return err
		},
	)
}

// Command forwards cmd to an eligible proxy and returns its reply.
// The read preference defaults to primary and is passed through
// unchanged; it never influences which proxy is selected, since every
// mongos is an interchangeable peer.
func (t *Topology) Command(ctx context.Context, ns string, cmd map[string]any, opts proxyhandle.CommandOptions, cb func(error, map[string]any)) (map[string]any, error) {
	if opts.ReadPreference == "" {
		opts.ReadPreference = "primary"
	}
	var reply map[string]any
	err := t.gate(
		func(handler DisconnectHandler) {
			handler.Add(BufferedOp{Kind: "command", Ns: ns, Args: cmd, Opts: opts, CorrelationID: uuid.NewString(), Callback: func(e error) {
				if cb != nil {
					cb(e, nil)
				}
			}})
		},
		func(h proxyhandle.Handle) error {
			var e error
			reply, e = h.Command(ctx, ns, cmd, opts)
			if cb != nil {
				cb(e, reply)
			}
			return e
		},
	)
	return reply, err
}

// Unref transitions the topology to Destroyed, cancels the monitor
// timer, and releases each connecting and connected handle's hold on
// the process without closing its transport. Unlike Destroy it never
// emits topologyClosed and leaves the transports to be reclaimed when
// the process exits. Idempotent; a Destroy after Unref is a no-op.
func (t *Topology) Unref() {
	t.mu.Lock()
	if t.state == StateDestroyed {
		t.mu.Unlock()
		return
	}
	t.state = StateDestroyed
	t.runCancel()
	if t.monitorTimer != nil {
		t.monitorTimer.Stop()
	}
	handles := append(t.connected.list(), t.connecting.list()...)
	t.mu.Unlock()

	for _, h := range handles {
		h.Unref()
	}
}

// Destroy tears the topology down: it stops the Health Monitor,
// destroys every handle in every set, and transitions to
// StateDestroyed. It is idempotent and emits topologyClosed at most
// once. After Destroy returns, every
// dispatcher method fails with ErrDestroyed.
func (t *Topology) Destroy() {
	t.mu.Lock()
	if t.state == StateDestroyed {
		t.mu.Unlock()
		return
	}
	if t.monitorTimer != nil {
		t.monitorTimer.Stop()
	}
	t.state = StateDestroyed
	t.runCancel()

	// Handles in disconnected were destroyed when they were demoted;
	// only connecting and connected still hold live transports.
	var toDestroy []proxyhandle.Handle
	toDestroy = append(toDestroy, t.connecting.list()...)
	toDestroy = append(toDestroy, t.connected.list()...)

	alreadyClosed := t.closedEmitted
	t.closedEmitted = true
	t.mu.Unlock()

	for _, h := range toDestroy {
		h.Destroy()
		t.emit(EventServerClosed, ServerClosedEvent{TopologyID: t.id, Address: h.Name()})
	}

	if !alreadyClosed {
		t.emit(EventTopologyClosed, TopologyClosedEvent{TopologyID: t.id})
	}
}
