package topology

import (
	"github.com/gluk-w/mongostopo/internal/eventbus"
	"github.com/gluk-w/mongostopo/internal/proxyhandle"
)

// Event names emitted on a Topology's bus.
const (
	EventTopologyOpening = "topologyOpening"
	EventTopologyClosed  = "topologyClosed"
	EventJoined          = "joined"
	EventLeft            = "left"
	EventFailed          = "failed"
	EventConnect         = "connect"
	EventFullsetup       = "fullsetup"
	EventAll             = "all"
	EventReconnect       = "reconnect"
	EventPickedServer    = "pickedServer"

	EventHeartbeatStarted   = "serverHeartbeatStarted"
	EventHeartbeatSucceeded = "serverHeartbeatSucceeded"
	EventHeartbeatFailed    = "serverHeartbeatFailed"

	EventServerOpening            = "serverOpening"
	EventServerDescriptionChanged = "serverDescriptionChanged"
	EventServerClosed             = "serverClosed"

	EventError = "error"
)

// TopologyOpeningEvent is emitted once, when Connect begins.
type TopologyOpeningEvent struct {
	TopologyID uint64
}

// TopologyClosedEvent is emitted at most once, when Destroy completes.
type TopologyClosedEvent struct {
	TopologyID uint64
}

// JoinedEvent is emitted whenever a handle is promoted into the
// connected set, whether during initial connect or rehabilitation.
type JoinedEvent struct {
	Kind   string
	Handle proxyhandle.Handle
}

// LeftEvent is emitted whenever a handle is demoted out of the
// connected set, and when a seed's initial connect attempt fails.
type LeftEvent struct {
	Kind string
	Name string
}

// FailedEvent is emitted when a seed's initial connect attempt fails,
// or succeeds as a duplicate of an already-connected proxy.
type FailedEvent struct {
	Handle proxyhandle.Handle
	Err    error
}

// PickedServerEvent is emitted by GetServer when Options.Debug is set.
type PickedServerEvent struct {
	Err    error
	Handle proxyhandle.Handle
}

// ServerOpeningEvent is emitted when the topology constructs a handle
// for an address and begins connecting it, during both the initial
// fan-out and rehabilitation.
type ServerOpeningEvent struct {
	TopologyID uint64
	Address    string
}

// ServerDescriptionChangedEvent reports an address changing between
// "Unknown" and "Mongos" as it joins or leaves the connected set.
type ServerDescriptionChangedEvent struct {
	Address      string
	PreviousType string
	NewType      string
}

// ServerClosedEvent is emitted whenever the topology destroys a handle.
type ServerClosedEvent struct {
	TopologyID uint64
	Address    string
}

// HeartbeatStartedEvent precedes a health-monitor ismaster probe.
// CorrelationID is a per-probe identifier for tying the started/
// succeeded/failed triple together in logs; it is unrelated to
// ConnectionID, which is always the proxy's "host:port" name.
type HeartbeatStartedEvent struct {
	ConnectionID  string
	CorrelationID string
}

// HeartbeatSucceededEvent reports a completed, successful probe.
type HeartbeatSucceededEvent struct {
	DurationMS    int64
	Reply         map[string]any
	ConnectionID  string
	CorrelationID string
}

// HeartbeatFailedEvent reports a completed, failed probe.
type HeartbeatFailedEvent struct {
	DurationMS    int64
	Failure       error
	ConnectionID  string
	CorrelationID string
}

// On subscribes h to events named name. See eventbus.Bus.On.
func (t *Topology) On(name string, h func(name string, payload any)) (unsubscribe func()) {
	return t.bus.On(name, func(ev eventbus.Event) { h(ev.Name, ev.Payload) })
}

// OnAny subscribes h to every event this topology emits.
func (t *Topology) OnAny(h func(name string, payload any)) {
	t.bus.OnAny(func(ev eventbus.Event) { h(ev.Name, ev.Payload) })
}

// History returns the topology's bounded event history, oldest first.
func (t *Topology) History() []eventbus.Event { return t.bus.History() }

func (t *Topology) emit(name string, payload any) {
	t.bus.Emit(name, payload)
}
