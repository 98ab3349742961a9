package topology

import (
	"context"
	"testing"

	"github.com/gluk-w/mongostopo/internal/proxyhandle"
)

// connectedTopologyWithLatencies builds a topology with one already-
// connected fake per entry of latencies, bypassing Connect's staggered
// orchestration so the Selector can be tested in isolation.
func connectedTopologyWithLatencies(t *testing.T, opts Options, latencies map[string]int64) *Topology {
	t.Helper()
	topo := New(nil, opts)
	for addr, ms := range latencies {
		h := proxyhandle.NewFakeHandle(addr)
		h.ConnectLatencyMS = ms
		if err := h.Connect(context.Background()); err != nil {
			t.Fatal(err)
		}
		topo.connecting.add(h)
		topo.mu.Lock()
		topo.updateMinLatencyLocked(h.LastIsMasterMS())
		move(h, topo.connected, topo.connecting)
		topo.mu.Unlock()
	}
	return topo
}

func TestSelector_FiltersSlowProxies(t *testing.T) {
	topo := connectedTopologyWithLatencies(t, Options{LocalThresholdMS: 15}, map[string]int64{
		"fast1:27017": 2,
		"fast2:27017": 5,
		"slow:27017":  50,
	})
	defer topo.Destroy()

	seenFast := map[string]bool{}
	for i := 0; i < 20; i++ {
		h := topo.GetServer()
		if h == nil {
			t.Fatal("expected an eligible proxy")
		}
		if h.Name() == "slow:27017" {
			t.Fatalf("slow proxy must never be selected while fast ones are eligible, picked %s", h.Name())
		}
		seenFast[h.Name()] = true
	}
	if len(seenFast) != 2 {
		t.Errorf("expected round-robin across both fast proxies, saw %v", seenFast)
	}
}

func TestSelector_RotatesAmongEligibleOnly(t *testing.T) {
	topo := connectedTopologyWithLatencies(t, Options{LocalThresholdMS: 15}, map[string]int64{
		"a:27017": 1,
		"b:27017": 1,
	})
	defer topo.Destroy()

	first := topo.GetServer().Name()
	second := topo.GetServer().Name()
	third := topo.GetServer().Name()

	if first == second {
		t.Errorf("expected alternation, got %s then %s", first, second)
	}
	if third != first {
		t.Errorf("expected the rotation to cycle back to %s, got %s", first, third)
	}
}

func TestSelector_NoEligibleProxyReturnsNil(t *testing.T) {
	topo := connectedTopologyWithLatencies(t, Options{LocalThresholdMS: 15}, map[string]int64{
		"slow:27017": 9999,
	})
	defer topo.Destroy()
	topo.mu.Lock()
	topo.minLatencyMS = 0
	topo.mu.Unlock()

	if h := topo.GetServer(); h != nil {
		t.Errorf("expected nil when every connected proxy is outside the latency window, got %s", h.Name())
	}
}

func TestParseSeedName(t *testing.T) {
	seed, ok := parseSeedName("mongos-1:27017")
	if !ok {
		t.Fatal("expected a valid seed")
	}
	if seed.Host != "mongos-1" || seed.Port != 27017 {
		t.Errorf("parseSeedName = %+v, want host=mongos-1 port=27017", seed)
	}

	if _, ok := parseSeedName("not-a-host-port"); ok {
		t.Error("expected parseSeedName to reject a malformed name")
	}
}
