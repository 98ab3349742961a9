package topology

import (
	"testing"

	"github.com/gluk-w/mongostopo/internal/proxyhandle"
)

func TestState_String(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateDestroyed, "destroyed"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}

func TestLegalTransitions(t *testing.T) {
	tr := &Topology{state: StateDisconnected}

	if !tr.setStateLocked(StateConnecting) {
		t.Fatal("disconnected -> connecting should be legal")
	}
	if !tr.setStateLocked(StateConnected) {
		t.Fatal("connecting -> connected should be legal")
	}
	if tr.setStateLocked(StateConnecting) {
		t.Fatal("connected -> connecting should be illegal")
	}
	if tr.state != StateConnected {
		t.Fatal("a rejected transition must not mutate the state")
	}
	if !tr.setStateLocked(StateDestroyed) {
		t.Fatal("connected -> destroyed should be legal")
	}
	if tr.setStateLocked(StateConnecting) {
		t.Fatal("destroyed -> connecting should be illegal")
	}
}

func TestProxySet_MoveIsIdempotentAndOrdered(t *testing.T) {
	a := newProxySet()
	b := newProxySet()

	h1 := proxyhandle.NewFakeHandle("a:1")
	h2 := proxyhandle.NewFakeHandle("b:2")
	a.add(h1)
	a.add(h2)

	move(h1, b, a)
	if a.contains("a:1") {
		t.Error("h1 should have been removed from a")
	}
	if !b.contains("a:1") {
		t.Error("h1 should be present in b")
	}
	if a.len() != 1 {
		t.Errorf("a.len() = %d, want 1", a.len())
	}

	// Moving again is a no-op, not a duplicate entry.
	move(h1, b, a)
	if b.len() != 1 {
		t.Errorf("b.len() = %d, want 1 (no duplicate)", b.len())
	}

	list := b.list()
	if len(list) != 1 || list[0].Name() != "a:1" {
		t.Errorf("b.list() = %v, want [a:1]", list)
	}
}
