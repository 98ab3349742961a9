package topology

// BufferedOp describes a dispatcher call submitted while the topology
// had no connected proxy. The topology never inspects or
// replays an op itself; it only hands ops to the configured
// DisconnectHandler. Replay, if any, is the handler's responsibility.
type BufferedOp struct {
	Kind string // "insert", "update", "remove", "command", "auth"
	Ns   string
	Args any
	Opts any
	// CorrelationID identifies this op across log lines for operators
	// correlating a buffered call with its eventual replay.
	CorrelationID string
	// Callback, if non-nil, is how the original caller learns the
	// eventual outcome. The topology never calls it; only the handler
	// (typically from Execute) does, and only if it chooses to.
	Callback func(error)
}

// DisconnectHandler buffers operations submitted while the topology
// has no connected proxy. It is optional: a topology with no DisconnectHandler configured
// fails dispatcher calls with ErrNoProxyAvailable while disconnected
// instead of buffering them.
type DisconnectHandler interface {
	// Add enqueues op. Called from the dispatcher's goroutine; Add
	// must not block on network I/O.
	Add(op BufferedOp)

	// Execute drains whatever is queued. The health monitor calls it
	// once per tick while at least one proxy is connected; a handler
	// that replays ops does so here. Execute must not block on
	// network I/O — replay work belongs on its own goroutine.
	Execute()
}

// FIFOBuffer is the default DisconnectHandler: a bounded in-memory
// queue a caller drains explicitly with Drain after reconnection, or
// that Execute hands to OnExecute when that hook is set.
// It performs no replay itself — replaying requires calling back into
// the topology's dispatcher methods with the op's original arguments,
// which only the application (not this generic buffer) knows how to
// route to the right result type.
type FIFOBuffer struct {
	ops chan BufferedOp

	// OnExecute, if set, receives the drained backlog each time the
	// health monitor calls Execute while connected. Left nil, Execute
	// is a no-op and the backlog stays queued for a manual Drain.
	OnExecute func([]BufferedOp)
}

// NewFIFOBuffer creates a buffer holding up to capacity pending ops
// before Add blocks. A capacity of zero or less falls back to 1024.
func NewFIFOBuffer(capacity int) *FIFOBuffer {
	if capacity <= 0 {
		capacity = 1024
	}
	return &FIFOBuffer{ops: make(chan BufferedOp, capacity)}
}

func (b *FIFOBuffer) Add(op BufferedOp) {
	b.ops <- op
}

func (b *FIFOBuffer) Execute() {
	if b.OnExecute == nil {
		return
	}
	if ops := b.Drain(); len(ops) > 0 {
		b.OnExecute(ops)
	}
}

// Drain removes and returns every op currently queued, without
// blocking. Call it once reconnected to decide what to do with the
// backlog.
func (b *FIFOBuffer) Drain() []BufferedOp {
	var out []BufferedOp
	for {
		select {
		case op := <-b.ops:
			out = append(out, op)
		default:
			return out
		}
	}
}
