package proxyhandle

import (
	"context"
	"fmt"
	"sync"
)

// FakeHandle is an in-memory Handle for tests and simulation. It never
// touches the network: Connect, Command, and the write operations
// succeed or fail according to fields set before use, letting tests
// drive connect, demotion, and auth scenarios deterministically.
type FakeHandle struct {
	name string

	mu            sync.Mutex
	connected     bool
	lastIsMaster  IsMasterReply
	lastLatencyMS int64
	destroyed     bool
	events        chan HandleEvent

	// ConnectErr, when non-nil, makes Connect fail with this error.
	ConnectErr error
	// ConnectArbiterOnly seeds the ismaster reply's arbiterOnly field.
	ConnectArbiterOnly bool
	// ConnectLatencyMS seeds LastIsMasterMS after a successful Connect.
	ConnectLatencyMS int64

	// AuthErr, when non-nil, makes Auth fail with this error.
	AuthErr error

	// CommandFunc, when set, backs Command calls; defaults to
	// returning the current ismaster document.
	CommandFunc func(ns string, cmd map[string]any, opts CommandOptions) (map[string]any, error)

	ConnectCalls int
	DestroyCalls int
	UnrefCalls   int
}

// NewFakeHandle constructs a fake identified by name (typically a
// "host:port" string).
func NewFakeHandle(name string) *FakeHandle {
	return &FakeHandle{
		name:   name,
		events: make(chan HandleEvent, 8),
	}
}

func (f *FakeHandle) Name() string { return f.name }

func (f *FakeHandle) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ConnectCalls++
	if f.ConnectErr != nil {
		return f.ConnectErr
	}
	f.connected = true
	f.lastIsMaster = IsMasterReply{ArbiterOnly: f.ConnectArbiterOnly, Raw: map[string]any{"arbiterOnly": f.ConnectArbiterOnly}}
	f.lastLatencyMS = f.ConnectLatencyMS
	return nil
}

func (f *FakeHandle) Command(ctx context.Context, ns string, cmd map[string]any, opts CommandOptions) (map[string]any, error) {
	f.mu.Lock()
	fn := f.CommandFunc
	connected := f.connected
	reply := f.lastIsMaster.Raw
	f.mu.Unlock()

	if !connected {
		return nil, fmt.Errorf("%s: not connected", f.name)
	}
	if fn != nil {
		return fn(ns, cmd, opts)
	}
	return reply, nil
}

func (f *FakeHandle) Insert(ctx context.Context, ns string, docs []map[string]any, opts OpOptions) error {
	_, err := f.Command(ctx, ns, map[string]any{"op": "insert"}, CommandOptions{})
	return err
}

func (f *FakeHandle) Update(ctx context.Context, ns string, ops []map[string]any, opts OpOptions) error {
	_, err := f.Command(ctx, ns, map[string]any{"op": "update"}, CommandOptions{})
	return err
}

func (f *FakeHandle) Remove(ctx context.Context, ns string, ops []map[string]any, opts OpOptions) error {
	_, err := f.Command(ctx, ns, map[string]any{"op": "delete"}, CommandOptions{})
	return err
}

func (f *FakeHandle) Auth(ctx context.Context, mechanism, db string, params ...string) error {
	if f.AuthErr != nil {
		return f.AuthErr
	}
	return nil
}

func (f *FakeHandle) Destroy() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DestroyCalls++
	if f.destroyed {
		return
	}
	f.destroyed = true
	f.connected = false
	close(f.events)
}

func (f *FakeHandle) Unref() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.UnrefCalls++
}

func (f *FakeHandle) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *FakeHandle) LastIsMaster() IsMasterReply {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastIsMaster
}

func (f *FakeHandle) LastIsMasterMS() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastLatencyMS
}

func (f *FakeHandle) SetLastIsMaster(reply map[string]any, latencyMS int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastIsMaster = IsMasterReply{ArbiterOnly: asBool(reply["arbiterOnly"]), Raw: reply}
	f.lastLatencyMS = latencyMS
}

func (f *FakeHandle) Events() <-chan HandleEvent { return f.events }

// Fail pushes an asynchronous fault event, simulating a transport
// fault surfacing between health-monitor ticks.
func (f *FakeHandle) Fail(ev HandleEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.destroyed {
		return
	}
	select {
	case f.events <- ev:
	default:
	}
}
