package topology

import (
	"context"
	"errors"
	"testing"

	"github.com/gluk-w/mongostopo/internal/proxyhandle"
)

func connectTopology(t *testing.T, reg *fakeRegistry, opts Options, addrs ...string) *Topology {
	t.Helper()
	topo := New(seeds(addrs...), opts)
	if err := topo.Connect(context.Background(), ConnectOptions{HandleFactory: reg.factory}); err != nil {
		t.Fatal(err)
	}
	return topo
}

func TestHealthTick_FlapDemotesThenRehabilitates(t *testing.T) {
	reg := newFakeRegistry()
	reg.set("a:27017", fakeSpec{latencyMS: 2})
	reg.set("b:27017", fakeSpec{latencyMS: 3})

	topo := connectTopology(t, reg, Options{}, "a", "b")
	defer topo.Destroy()

	var lefts, joins int
	var gotReconnect bool
	topo.On(EventLeft, func(string, any) { lefts++ })
	topo.On(EventJoined, func(string, any) { joins++ })
	topo.On(EventReconnect, func(string, any) { gotReconnect = true })

	// b's next ismaster probe fails; it should be demoted, then the
	// same tick's rehabilitation pass brings a fresh handle back up
	// and announces the recovery.
	reg.latest("b:27017").CommandFunc = func(string, map[string]any, proxyhandle.CommandOptions) (map[string]any, error) {
		return nil, errors.New("socket closed")
	}

	topo.runHealthTick()

	if lefts != 1 {
		t.Errorf("left fired %d times, want 1", lefts)
	}
	if joins != 1 {
		t.Errorf("joined fired %d times, want 1", joins)
	}
	if !gotReconnect {
		t.Error("expected reconnect after the rehab promoted b back")
	}
	if got := len(topo.Connections()); got != 2 {
		t.Fatalf("connected count after flap = %d, want 2", got)
	}
	if reg.buildCount("b:27017") != 2 {
		t.Errorf("rehab must construct a fresh handle for b, built %d", reg.buildCount("b:27017"))
	}
}

func TestHealthTick_HeartbeatEventsCarryConnectionID(t *testing.T) {
	reg := newFakeRegistry()
	reg.set("a:27017", fakeSpec{latencyMS: 2})

	topo := connectTopology(t, reg, Options{}, "a")
	defer topo.Destroy()

	var started, succeeded []string
	topo.On(EventHeartbeatStarted, func(_ string, payload any) {
		started = append(started, payload.(HeartbeatStartedEvent).ConnectionID)
	})
	topo.On(EventHeartbeatSucceeded, func(_ string, payload any) {
		succeeded = append(succeeded, payload.(HeartbeatSucceededEvent).ConnectionID)
	})

	topo.runHealthTick()

	if len(started) != 1 || started[0] != "a:27017" {
		t.Errorf("heartbeatStarted connection ids = %v, want [a:27017]", started)
	}
	if len(succeeded) != 1 || succeeded[0] != "a:27017" {
		t.Errorf("heartbeatSucceeded connection ids = %v, want [a:27017]", succeeded)
	}
}

func TestHealthTick_DrainsDisconnectHandlerWhileConnected(t *testing.T) {
	buf := NewFIFOBuffer(4)
	var drained []BufferedOp
	buf.OnExecute = func(ops []BufferedOp) { drained = append(drained, ops...) }

	reg := newFakeRegistry()
	topo := New(nil, Options{DisconnectHandler: buf})
	defer topo.Destroy()

	if err := topo.Insert(context.Background(), "db.c", []map[string]any{{"x": 1}}, proxyhandle.OpOptions{}, nil); err != nil {
		t.Fatal(err)
	}

	// Nothing connected yet: the tick's rehab path runs but the
	// backlog stays queued.
	topo.runHealthTick()
	if len(drained) != 0 {
		t.Fatal("backlog must not drain before a proxy connects")
	}

	h := reg.factory(proxyhandle.Seed{Host: "a", Port: 27017}, proxyhandle.Options{}).(*proxyhandle.FakeHandle)
	h.ConnectLatencyMS = 1
	if err := h.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	topo.mu.Lock()
	topo.updateMinLatencyLocked(h.LastIsMasterMS())
	topo.connected.add(h)
	topo.mu.Unlock()

	topo.runHealthTick()
	if len(drained) != 1 || drained[0].Kind != "insert" {
		t.Fatalf("expected the tick to hand one buffered insert to the handler, got %+v", drained)
	}
}

func TestRehabilitate_DestroysHandleWhileAuthenticating(t *testing.T) {
	reg := newFakeRegistry()
	reg.set("a:27017", fakeSpec{connectErr: errConnRefused})

	topo := connectTopology(t, reg, Options{}, "a")
	defer topo.Destroy()

	if len(topo.Disconnected()) != 1 {
		t.Fatal("seed a should have been quarantined")
	}

	reg.set("a:27017", fakeSpec{latencyMS: 1})
	topo.mu.Lock()
	topo.authenticating = true
	topo.mu.Unlock()

	topo.rehabilitate(topo.snapshotDisconnectedForRehab())

	if topo.IsConnected() {
		t.Error("a handle reconnecting mid-auth must not be promoted")
	}
	rehabbed := reg.latest("a:27017")
	if rehabbed.DestroyCalls == 0 {
		t.Error("a handle reconnecting mid-auth must be destroyed")
	}
}

func TestPingOne_UpdatesMinLatencyFromPreviousRoundTrip(t *testing.T) {
	reg := newFakeRegistry()
	reg.set("a:27017", fakeSpec{latencyMS: 7})

	topo := connectTopology(t, reg, Options{}, "a")
	defer topo.Destroy()

	if got := topo.MinLatencyMS(); got != 7 {
		t.Fatalf("minLatencyMS after connect = %d, want 7", got)
	}

	// The floor refreshes from the handle's last completed round-trip,
	// not from the in-flight measurement, so a single fast probe does
	// not move it until the probe after that.
	h := reg.latest("a:27017")
	h.SetLastIsMaster(map[string]any{}, 3)
	topo.pingOne(h)

	if got := topo.MinLatencyMS(); got != 3 {
		t.Errorf("minLatencyMS = %d, want 3 (previous round-trip)", got)
	}
}

func TestConnect_DuplicateSeedKeepsOneConnectedEntry(t *testing.T) {
	reg := newFakeRegistry()
	reg.set("a:27017", fakeSpec{latencyMS: 2})

	topo := New(seeds("a", "a"), Options{})
	defer topo.Destroy()

	var failed int
	topo.On(EventFailed, func(string, any) { failed++ })

	if err := topo.Connect(context.Background(), ConnectOptions{HandleFactory: reg.factory}); err != nil {
		t.Fatal(err)
	}

	if got := len(topo.Connections()); got != 1 {
		t.Fatalf("connected count with duplicate seeds = %d, want 1", got)
	}
	if failed != 1 {
		t.Errorf("failed fired %d times, want 1 (the duplicate)", failed)
	}
}
