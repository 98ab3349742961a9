package topology

import (
	"context"
	"errors"
	"testing"

	"github.com/gluk-w/mongostopo/internal/proxyhandle"
)

func TestAuth_SkipsArbitersAndAggregatesFailures(t *testing.T) {
	topo := New(nil, Options{})
	defer topo.Destroy()

	good := proxyhandle.NewFakeHandle("good:27017")
	good.ConnectLatencyMS = 1
	if err := good.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	bad := proxyhandle.NewFakeHandle("bad:27017")
	bad.ConnectLatencyMS = 1
	if err := bad.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	bad.AuthErr = errors.New("auth failed")

	arbiter := proxyhandle.NewFakeHandle("arbiter:27017")
	arbiter.ConnectArbiterOnly = true
	arbiter.AuthErr = errors.New("should never be called")
	if err := arbiter.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	topo.mu.Lock()
	topo.connected.add(good)
	topo.connected.add(bad)
	topo.connected.add(arbiter)
	topo.mu.Unlock()

	err := topo.Auth(context.Background(), "default", "admin", []string{"user", "pass"}, nil)

	var agg *AuthAggregateError
	if !errors.As(err, &agg) {
		t.Fatalf("Auth error = %v, want *AuthAggregateError", err)
	}
	if len(agg.Errors) != 1 || agg.Errors[0].Name != "bad:27017" {
		t.Errorf("aggregate errors = %+v, want exactly bad:27017", agg.Errors)
	}
	if topo.authenticating {
		t.Error("authenticating flag should clear once the fan-out completes")
	}
}

func TestAuth_RejectsUnknownMechanism(t *testing.T) {
	topo := New(nil, Options{AuthProviders: map[string]bool{"SCRAM-SHA-1": true}})
	defer topo.Destroy()

	err := topo.Auth(context.Background(), "GSSAPI", "admin", nil, nil)
	var missing *AuthProviderMissingError
	if !errors.As(err, &missing) {
		t.Fatalf("Auth with unregistered mechanism = %v, want *AuthProviderMissingError", err)
	}
}

func TestAuth_RejectsConcurrentCalls(t *testing.T) {
	topo := New(nil, Options{})
	defer topo.Destroy()

	topo.mu.Lock()
	topo.authenticating = true
	topo.mu.Unlock()

	if err := topo.Auth(context.Background(), "default", "admin", nil, nil); !errors.Is(err, ErrAuthInProgress) {
		t.Errorf("Auth while authenticating = %v, want ErrAuthInProgress", err)
	}
}

func TestAuth_SucceedsTriviallyWithNoConnectedProxies(t *testing.T) {
	topo := New(nil, Options{})
	defer topo.Destroy()

	var cbErr error
	called := false
	err := topo.Auth(context.Background(), "default", "admin", nil, func(e error) { called = true; cbErr = e })
	if err != nil || !called || cbErr != nil {
		t.Errorf("Auth with zero connected proxies: err=%v called=%v cbErr=%v, want nil/true/nil", err, called, cbErr)
	}
}

func TestAuth_BuffersWhileDisconnected(t *testing.T) {
	buf := NewFIFOBuffer(4)
	topo := New(nil, Options{DisconnectHandler: buf})
	defer topo.Destroy()

	if err := topo.Auth(context.Background(), "default", "admin", []string{"u", "p"}, nil); err != nil {
		t.Fatal(err)
	}
	queued := buf.Drain()
	if len(queued) != 1 || queued[0].Kind != "auth" {
		t.Fatalf("expected one buffered auth op, got %+v", queued)
	}
}
