package topology

import (
	"context"
	"sync"

	"github.com/gluk-w/mongostopo/internal/proxyhandle"
	"github.com/google/uuid"
)

// Auth fans a
// single auth request out to every connected, non-arbiter proxy
// concurrently, and aggregates the per-proxy failures into one error.
// While an Auth call is in flight, the Rehabilitator destroys rather
// than promotes any handle that reconnects, so the connected set never
// contains a proxy authenticated with different credentials than the
// rest.
//
// If the topology is currently disconnected and a DisconnectHandler is
// configured, the request is buffered like any other dispatcher call.
// If it is disconnected with no handler, or connected but with zero
// eligible (non-arbiter) proxies, Auth succeeds trivially: there is
// nothing to authenticate against yet, and a later Auth call (or the
// embedding driver re-issuing credentials on connect) is expected to
// cover proxies that join afterward.
func (t *Topology) Auth(ctx context.Context, mechanism, db string, params []string, cb func(error)) error {
	t.mu.Lock()
	if t.state == StateDestroyed {
		t.mu.Unlock()
		return ErrDestroyed
	}
	if mechanism != "default" && !t.options.AuthProviders[mechanism] {
		t.mu.Unlock()
		return errAuthProviderMissing(mechanism)
	}
	if t.authenticating {
		t.mu.Unlock()
		return ErrAuthInProgress
	}

	connected := t.isConnectedLocked()
	handler := t.disconnectHandler
	if !connected && handler != nil {
		t.mu.Unlock()
		handler.Add(BufferedOp{Kind: "auth", Ns: db, Args: mechanism, Opts: params, CorrelationID: uuid.NewString(), Callback: cb})
		return nil
	}

	servers := t.snapshotConnectedLocked()
	if len(servers) == 0 {
		t.mu.Unlock()
		if cb != nil {
			cb(nil)
		}
		return nil
	}

	t.authenticating = true
	t.mu.Unlock()

	var mu sync.Mutex
	var errs []ServerAuthError
	var wg sync.WaitGroup
	for _, s := range servers {
		if s.LastIsMaster().ArbiterOnly {
			continue
		}
		wg.Add(1)
		go func(s proxyhandle.Handle) {
			defer wg.Done()
			if err := s.Auth(ctx, mechanism, db, params...); err != nil {
				mu.Lock()
				errs = append(errs, ServerAuthError{Name: s.Name(), Err: err})
				mu.Unlock()
			}
		}(s)
	}
	wg.Wait()

	t.mu.Lock()
	t.authenticating = false
	t.mu.Unlock()

	var result error
	if len(errs) > 0 {
		result = &AuthAggregateError{Errors: errs}
	}
	if cb != nil {
		cb(result)
	}
	return result
}
