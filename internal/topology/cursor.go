package topology

// Cursor represents a query awaiting iteration against whichever proxy
// is selected at iteration time. Construction performs no I/O and
// bypasses the common dispatch gate entirely; actual cursor iteration
// (getMore/killCursors) is out of this module's scope — a real driver embeds this topology manager and
// drives iteration itself, calling back into GetServer or Command as
// needed.
type Cursor struct {
	Ns   string
	Cmd  map[string]any
	Opts map[string]any

	topology *Topology
}

// CursorFactory builds a Cursor. Tests and embedding drivers can
// override it via Options.CursorFactory to attach custom iteration
// behavior without changing the topology manager itself.
type CursorFactory func(t *Topology, ns string, cmd map[string]any, opts map[string]any) *Cursor

// NewCursor is the default CursorFactory.
func NewCursor(t *Topology, ns string, cmd map[string]any, opts map[string]any) *Cursor {
	return &Cursor{Ns: ns, Cmd: cmd, Opts: opts, topology: t}
}

// Cursor constructs a Cursor via the configured CursorFactory. It does
// not gate on topology state: building a cursor object is always
// legal, even while destroyed, since no I/O happens until the caller
// iterates it.
func (t *Topology) Cursor(ns string, cmd map[string]any, opts map[string]any) *Cursor {
	factory := t.options.CursorFactory
	if factory == nil {
		factory = NewCursor
	}
	return factory(t, ns, cmd, opts)
}
