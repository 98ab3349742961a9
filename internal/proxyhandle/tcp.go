package proxyhandle

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"time"
)

// tcpKeepaliveInterval is the cadence of the background probe that
// detects a dead transport between application-level commands.
const tcpKeepaliveInterval = 30 * time.Second

// TCPHandle is the default Handle implementation: it dials the proxy
// over TCP (optionally wrapped in TLS per Options), and speaks a
// minimal newline-delimited JSON request/reply protocol as a stand-in
// for the real mongos wire protocol, which is out of this module's
// scope. Swap in a proper wire-protocol client by implementing Handle
// directly; TCPHandle exists so the topology manager has a runnable,
// network-exercising default.
type TCPHandle struct {
	seed Seed
	opts Options

	mu            sync.Mutex
	conn          net.Conn
	reader        *bufio.Reader
	connected     bool
	lastIsMaster  IsMasterReply
	lastLatencyMS int64

	events          chan HandleEvent
	keepaliveCancel context.CancelFunc
	destroyOnce     sync.Once
}

// NewTCPHandle constructs a handle for seed using the shared dial/TLS
// options. It does not dial until Connect is called.
func NewTCPHandle(seed Seed, opts Options) *TCPHandle {
	return &TCPHandle{
		seed:   seed,
		opts:   opts,
		events: make(chan HandleEvent, 8),
	}
}

func (h *TCPHandle) Name() string { return h.seed.Addr() }

func (h *TCPHandle) dialTimeout() time.Duration {
	if h.opts.DialTimeout > 0 {
		return h.opts.DialTimeout
	}
	return 30 * time.Second
}

func (h *TCPHandle) tlsConfig() (*tls.Config, error) {
	cfg := &tls.Config{
		InsecureSkipVerify: !h.opts.RejectUnauthorized,
	}
	if h.opts.CAFile != "" {
		pem, err := os.ReadFile(h.opts.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("parse ca file %s", h.opts.CAFile)
		}
		cfg.RootCAs = pool
	}
	if h.opts.CertFile != "" && h.opts.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(h.opts.CertFile, h.opts.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client cert/key: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	if !h.opts.CheckServerIdentity {
		cfg.InsecureSkipVerify = true
	}
	return cfg, nil
}

// Connect dials the proxy and performs the initial ismaster handshake.
// ctx governs the dial, and its deadline (if any) bounds the handshake
// round-trip; the caller
// (the Initial Connect Orchestrator) is responsible for the per-seed
// stagger delay before calling Connect.
func (h *TCPHandle) Connect(ctx context.Context) error {
	dialer := &net.Dialer{Timeout: h.dialTimeout(), KeepAlive: -1}
	if h.opts.KeepAlive {
		dialer.KeepAlive = h.opts.KeepAliveDelay
	}

	addr := h.seed.Addr()
	var conn net.Conn
	var err error
	if h.opts.SSL {
		tlsCfg, tlsErr := h.tlsConfig()
		if tlsErr != nil {
			return tlsErr
		}
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsCfg}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok && h.opts.NoDelay {
		_ = tc.SetNoDelay(true)
	}

	h.mu.Lock()
	h.conn = conn
	h.reader = bufio.NewReader(conn)
	h.mu.Unlock()

	start := time.Now()
	reply, err := h.roundTrip(ctx, map[string]any{"ismaster": true})
	if err != nil {
		conn.Close()
		return fmt.Errorf("ismaster handshake with %s: %w", addr, err)
	}
	latency := time.Since(start).Milliseconds()

	h.mu.Lock()
	h.connected = true
	h.lastIsMaster = IsMasterReply{ArbiterOnly: asBool(reply["arbiterOnly"]), Raw: reply}
	h.lastLatencyMS = latency
	h.mu.Unlock()

	kaCtx, cancel := context.WithCancel(context.Background())
	h.keepaliveCancel = cancel
	go h.keepaliveLoop(kaCtx)

	return nil
}

// keepaliveLoop periodically issues a lightweight ismaster probe to
// detect a dead transport between application-level commands and
// health-monitor ticks.
func (h *TCPHandle) keepaliveLoop(ctx context.Context) {
	ticker := time.NewTicker(tcpKeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, h.dialTimeout())
			_, err := h.roundTrip(probeCtx, map[string]any{"ismaster": true})
			cancel()
			if err != nil {
				h.mu.Lock()
				wasConnected := h.connected
				h.connected = false
				h.mu.Unlock()
				if wasConnected {
					h.sendEvent(HandleEvent{Type: EventClosed, Err: err})
				}
				return
			}
		}
	}
}

func (h *TCPHandle) sendEvent(ev HandleEvent) {
	select {
	case h.events <- ev:
	default:
	}
}

// roundTrip writes cmd as a JSON line and reads a single JSON reply
// line, honoring ctx's deadline.
func (h *TCPHandle) roundTrip(ctx context.Context, cmd map[string]any) (map[string]any, error) {
	h.mu.Lock()
	conn := h.conn
	reader := h.reader
	h.mu.Unlock()

	if conn == nil {
		return nil, fmt.Errorf("not connected")
	}

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	} else {
		_ = conn.SetDeadline(time.Now().Add(h.dialTimeout()))
	}
	defer conn.SetDeadline(time.Time{})

	line, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode command: %w", err)
	}
	if _, err := conn.Write(append(line, '\n')); err != nil {
		return nil, fmt.Errorf("write command: %w", err)
	}

	respLine, err := reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read reply: %w", err)
	}

	var reply map[string]any
	if err := json.Unmarshal(respLine, &reply); err != nil {
		h.sendEvent(HandleEvent{Type: EventParseError, Err: err})
		return nil, fmt.Errorf("parse reply: %w", err)
	}
	return reply, nil
}

func (h *TCPHandle) Command(ctx context.Context, ns string, cmd map[string]any, opts CommandOptions) (map[string]any, error) {
	return h.roundTrip(ctx, cmd)
}

// SetLastIsMaster implements Handle; see the interface doc comment.
func (h *TCPHandle) SetLastIsMaster(reply map[string]any, latencyMS int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastIsMaster = IsMasterReply{ArbiterOnly: asBool(reply["arbiterOnly"]), Raw: reply}
	h.lastLatencyMS = latencyMS
}

func (h *TCPHandle) Insert(ctx context.Context, ns string, docs []map[string]any, opts OpOptions) error {
	_, err := h.roundTrip(ctx, map[string]any{"op": "insert", "ns": ns, "documents": docs, "ordered": opts.Ordered})
	return err
}

func (h *TCPHandle) Update(ctx context.Context, ns string, ops []map[string]any, opts OpOptions) error {
	_, err := h.roundTrip(ctx, map[string]any{"op": "update", "ns": ns, "updates": ops, "ordered": opts.Ordered})
	return err
}

func (h *TCPHandle) Remove(ctx context.Context, ns string, ops []map[string]any, opts OpOptions) error {
	_, err := h.roundTrip(ctx, map[string]any{"op": "delete", "ns": ns, "deletes": ops, "ordered": opts.Ordered})
	return err
}

func (h *TCPHandle) Auth(ctx context.Context, mechanism, db string, params ...string) error {
	_, err := h.roundTrip(ctx, map[string]any{"op": "auth", "mechanism": mechanism, "db": db, "params": params})
	return err
}

func (h *TCPHandle) Destroy() {
	h.destroyOnce.Do(func() {
		if h.keepaliveCancel != nil {
			h.keepaliveCancel()
		}
		h.mu.Lock()
		h.connected = false
		conn := h.conn
		h.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		close(h.events)
	})
}

// Unref stops the background keepalive goroutine so the handle no
// longer keeps the process busy; the transport itself stays open
// until Destroy.
func (h *TCPHandle) Unref() {
	if h.keepaliveCancel != nil {
		h.keepaliveCancel()
	}
}

func (h *TCPHandle) IsConnected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected
}

func (h *TCPHandle) LastIsMaster() IsMasterReply {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastIsMaster
}

func (h *TCPHandle) LastIsMasterMS() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastLatencyMS
}

func (h *TCPHandle) Events() <-chan HandleEvent { return h.events }

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}
