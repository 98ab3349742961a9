package topology

import (
	"time"

	"github.com/gluk-w/mongostopo/internal/proxyhandle"
)

// Options configures a Topology at construction time. Unlike
// internal/config.Settings, this is a programmatic constructor argument
// a driver embeds the topology manager with — it is never loaded from
// the environment directly.
type Options struct {
	// HaInterval is the health-monitor tick period. Default 10s.
	HaInterval time.Duration
	// LocalThresholdMS bounds the eligibility window: a connected
	// proxy is selectable only if its latency is within this many
	// milliseconds of the lowest latency ever observed. Default 15.
	LocalThresholdMS int64
	// AcceptableLatencyMS is the legacy synonym for LocalThresholdMS.
	// If LocalThresholdMS is zero and this is set, this value is used.
	AcceptableLatencyMS int64

	// Size is the per-proxy connection pool size hint, forwarded to
	// the Proxy Handle collaborator.
	Size int

	KeepAlive             bool
	KeepAliveInitialDelay time.Duration
	NoDelay               bool
	ConnectionTimeout     time.Duration
	SocketTimeout         time.Duration

	SSL                 bool
	CheckServerIdentity bool
	CAFile              string
	CertFile            string
	KeyFile             string
	Passphrase          string
	RejectUnauthorized  bool

	PromoteLongs              bool
	SingleBufferSerialization bool

	// CursorFactory builds a Cursor for Topology.Cursor. Defaults to
	// NewCursor.
	CursorFactory CursorFactory

	// DisconnectHandler, if set, receives operations submitted while
	// the topology is not connected instead of failing them (C9).
	DisconnectHandler DisconnectHandler

	// AuthProviders lists the authentication mechanisms this topology
	// accepts. "default" is always accepted regardless of this map.
	AuthProviders map[string]bool

	Debug     bool
	EmitError bool
}

// handleOptions projects the subset of Options a Proxy Handle needs.
func (o Options) handleOptions() proxyhandle.Options {
	return proxyhandle.Options{
		DialTimeout:               o.ConnectionTimeout,
		SocketTimeout:             o.SocketTimeout,
		KeepAlive:                 o.KeepAlive,
		KeepAliveDelay:            o.KeepAliveInitialDelay,
		NoDelay:                   o.NoDelay,
		Size:                      o.Size,
		SSL:                       o.SSL,
		CheckServerIdentity:       o.CheckServerIdentity,
		CAFile:                    o.CAFile,
		CertFile:                  o.CertFile,
		KeyFile:                   o.KeyFile,
		Passphrase:                o.Passphrase,
		RejectUnauthorized:        o.RejectUnauthorized,
		PromoteLongs:              o.PromoteLongs,
		SingleBufferSerialization: o.SingleBufferSerialization,
	}
}

func (o Options) localThresholdMS() int64 {
	if o.LocalThresholdMS != 0 {
		return o.LocalThresholdMS
	}
	if o.AcceptableLatencyMS != 0 {
		return o.AcceptableLatencyMS
	}
	return 15
}

func (o Options) haInterval() time.Duration {
	if o.HaInterval != 0 {
		return o.HaInterval
	}
	return 10 * time.Second
}

// ConnectOptions carries the per-call options passed to Topology.Connect.
type ConnectOptions struct {
	// HandleFactory overrides how a Proxy Handle is constructed for a
	// given seed. Defaults to proxyhandle.NewTCPHandle. Tests inject a
	// factory that returns *proxyhandle.FakeHandle instances here.
	HandleFactory func(seed proxyhandle.Seed, opts proxyhandle.Options) proxyhandle.Handle
}
