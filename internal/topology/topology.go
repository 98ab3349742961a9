// Package topology implements the mongos proxy topology manager: a
// single in-process state machine that owns a pool of Proxy Handle
// connections (internal/proxyhandle), keeps them healthy with a
// periodic ismaster monitor, and dispatches application operations to
// a currently-eligible proxy chosen by round-robin within a latency
// window.
package topology

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gluk-w/mongostopo/internal/eventbus"
	"github.com/gluk-w/mongostopo/internal/proxyhandle"
)

var nextID uint64

// Topology is the State Store (C2) and Lifecycle Controller (C3)
// combined: it owns the three proxy sets, the current lifecycle
// state, and the shared configuration every other component
// (Selector, Dispatcher, Health Monitor, Auth Coordinator) reads under
// its lock.
type Topology struct {
	id uint64

	mu             sync.Mutex
	state          State
	seedList       []proxyhandle.Seed
	connecting     *proxySet
	connected      *proxySet
	disconnected   *proxySet
	minLatencyMS   int64
	authenticating bool
	index          uint

	connectEventsEmitted bool
	closedEmitted        bool

	connectOpts   ConnectOptions
	monitorTimer  *time.Timer
	rehabFailures map[string]int

	// runCtx is canceled by Destroy so in-flight Connect/Rehabilitator
	// dials unblock promptly instead of outliving the topology.
	runCtx    context.Context
	runCancel context.CancelFunc

	options           Options
	disconnectHandler DisconnectHandler
	bus               *eventbus.Bus
}

// eventHistorySize bounds the topology's event-fan-out ring buffer.
const eventHistorySize = 64

// New constructs a Topology over seedList. It does not connect; call
// Connect to start the Initial Connect Orchestrator.
func New(seedList []proxyhandle.Seed, opts Options) *Topology {
	runCtx, cancel := context.WithCancel(context.Background())
	t := &Topology{
		id:                atomic.AddUint64(&nextID, 1),
		state:             StateDisconnected,
		seedList:          seedList,
		connecting:        newProxySet(),
		connected:         newProxySet(),
		disconnected:      newProxySet(),
		minLatencyMS:      math.MaxInt64,
		rehabFailures:     make(map[string]int),
		runCtx:            runCtx,
		runCancel:         cancel,
		options:           opts,
		disconnectHandler: opts.DisconnectHandler,
		bus:               eventbus.New(eventHistorySize),
	}
	return t
}

// ID returns the topology's process-local identity, used only in log
// lines and the topologyOpening/topologyClosed event payloads.
func (t *Topology) ID() uint64 { return t.id }

// Type identifies the topology flavor. Always "mongos": every proxy is
// an interchangeable peer, never a replica-set member.
func (t *Topology) Type() string { return "mongos" }

// State returns the current lifecycle state.
func (t *Topology) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// IsConnected reports whether at least one proxy is currently
// connected. It does not require the topology's own State to be
// StateConnected: during the initial connect fan-out the state is
// still StateConnecting while seeds that already joined sit in the
// connected set.
func (t *Topology) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.isConnectedLocked()
}

func (t *Topology) isConnectedLocked() bool {
	return t.connected.len() > 0
}

func (t *Topology) snapshotConnectedLocked() []proxyhandle.Handle {
	return t.connected.list()
}

func (t *Topology) snapshotDisconnectedLocked() []proxyhandle.Handle {
	return t.disconnected.list()
}

// Connections returns the handles currently in the connected set. Real
// per-handle connection pooling (as opposed to one logical connection
// per proxy) lives inside the Handle implementation and is not
// modeled here.
func (t *Topology) Connections() []proxyhandle.Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotConnectedLocked()
}

// Disconnected returns the handles currently quarantined in the
// disconnected set, awaiting rehabilitation. Exposed for status
// reporting; the dispatch path never consults this directly.
func (t *Topology) Disconnected() []proxyhandle.Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotDisconnectedLocked()
}

// MinLatencyMS returns the lowest ismaster round-trip ever observed
// across all proxies, or math.MaxInt64 if none has succeeded yet.
func (t *Topology) MinLatencyMS() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.minLatencyMS
}

func (t *Topology) updateMinLatencyLocked(latencyMS int64) {
	if latencyMS < t.minLatencyMS {
		t.minLatencyMS = latencyMS
	}
}

func (t *Topology) newHandle(seed proxyhandle.Seed) proxyhandle.Handle {
	if t.connectOpts.HandleFactory != nil {
		return t.connectOpts.HandleFactory(seed, t.options.handleOptions())
	}
	return proxyhandle.NewTCPHandle(seed, t.options.handleOptions())
}

// GetRehabFailures reports how many consecutive times the
// Rehabilitator has failed to reconnect the named disconnected proxy.
// It exists purely for diagnostics/status reporting; the Rehabilitator
// itself does not back off based on it.
func (t *Topology) GetRehabFailures(name string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rehabFailures[name]
}
