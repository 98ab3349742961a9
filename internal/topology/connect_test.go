package topology

import (
	"context"
	"errors"
	"testing"

	"github.com/gluk-w/mongostopo/internal/proxyhandle"
)

var errConnRefused = errors.New("connection refused")

func seeds(addrs ...string) []proxyhandle.Seed {
	out := make([]proxyhandle.Seed, len(addrs))
	for i, a := range addrs {
		out[i] = proxyhandle.Seed{Host: a, Port: 27017}
	}
	return out
}

func TestConnect_TwoSeedColdStart(t *testing.T) {
	reg := newFakeRegistry()
	reg.set("a:27017", fakeSpec{latencyMS: 5})
	reg.set("b:27017", fakeSpec{connectErr: errConnRefused})

	topo := New(seeds("a", "b"), Options{})
	defer topo.Destroy()

	var events []string
	topo.OnAny(func(name string, _ any) { events = append(events, name) })

	if err := topo.Connect(context.Background(), ConnectOptions{HandleFactory: reg.factory}); err != nil {
		t.Fatalf("Connect returned %v", err)
	}

	if topo.State() != StateConnected {
		t.Fatalf("state = %v, want Connected", topo.State())
	}
	if got := len(topo.Connections()); got != 1 {
		t.Fatalf("connected count = %d, want 1", got)
	}
	if topo.GetRehabFailures("b:27017") != 0 {
		t.Error("rehab failures should be tracked only after a rehab attempt, not the initial connect")
	}

	wantSeen := map[string]bool{
		EventTopologyOpening: false,
		EventJoined:          false,
		EventFailed:          false,
		EventLeft:            false,
		EventConnect:         false,
		EventFullsetup:       false,
		EventAll:             false,
	}
	for _, e := range events {
		if _, ok := wantSeen[e]; ok {
			wantSeen[e] = true
		}
	}
	for name, seen := range wantSeen {
		if !seen {
			t.Errorf("expected event %q to have fired, events=%v", name, events)
		}
	}
}

func TestConnect_EmitsConnectEventsAtMostOnce(t *testing.T) {
	reg := newFakeRegistry()
	reg.set("a:27017", fakeSpec{latencyMS: 5})

	topo := New(seeds("a"), Options{})
	defer topo.Destroy()

	var connectCount int
	topo.On(EventConnect, func(string, any) { connectCount++ })

	if err := topo.Connect(context.Background(), ConnectOptions{HandleFactory: reg.factory}); err != nil {
		t.Fatal(err)
	}
	topo.runHealthTick()
	topo.runHealthTick()

	if connectCount != 1 {
		t.Errorf("connect event fired %d times, want 1", connectCount)
	}
}

func TestConnect_AllSeedsFailStaysConnecting(t *testing.T) {
	reg := newFakeRegistry()
	reg.set("a:27017", fakeSpec{connectErr: errConnRefused})
	reg.set("b:27017", fakeSpec{connectErr: errConnRefused})

	topo := New(seeds("a", "b"), Options{})
	defer topo.Destroy()
	if err := topo.Connect(context.Background(), ConnectOptions{HandleFactory: reg.factory}); err != nil {
		t.Fatal(err)
	}

	if topo.State() != StateConnecting {
		t.Fatalf("state = %v, want Connecting (no proxy ever joined)", topo.State())
	}
	if len(topo.Connections()) != 0 {
		t.Fatal("expected zero connected proxies")
	}

	// Seed "a" recovers; the next monitor tick's Rehabilitator should
	// pick it up and promote the topology to Connected, firing
	// connect/fullsetup/all for the first time.
	reg.set("a:27017", fakeSpec{latencyMS: 3})

	var gotConnect bool
	topo.On(EventConnect, func(string, any) { gotConnect = true })

	topo.runHealthTick()

	if !gotConnect {
		t.Fatal("expected connect event after rehab brought the first proxy up")
	}
	if topo.State() != StateConnected {
		t.Fatalf("state = %v, want Connected", topo.State())
	}
	if got := topo.GetRehabFailures("b:27017"); got == 0 {
		t.Error("b should have accumulated a rehab failure")
	}
}

func TestDestroy_DuringConnectDestroysLateArrivals(t *testing.T) {
	reg := newFakeRegistry()
	reg.set("a:27017", fakeSpec{latencyMS: 5})

	topo := New(seeds("a"), Options{})
	topo.mu.Lock()
	topo.setStateLocked(StateConnecting)
	topo.mu.Unlock()

	h := reg.factory(proxyhandle.Seed{Host: "a", Port: 27017}, proxyhandle.Options{}).(*proxyhandle.FakeHandle)
	if err := h.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	topo.Destroy()
	topo.handleInitialConnectResult(h, nil)

	if h.DestroyCalls == 0 {
		t.Error("a handle completing connect after Destroy must still be destroyed")
	}
	if topo.IsConnected() {
		t.Error("a destroyed topology must never report connected proxies")
	}
}
