package modem

// State is the lifecycle position of one virtual connection.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Connection is one multiplexed session slot. Its connected flag caches the
// last state the module reported; the module itself is authoritative.
type Connection struct {
	id        int
	connected bool
	state     State
	inbox     fifo
}

func (c *Connection) ID() int         { return c.id }
func (c *Connection) Connected() bool { return c.connected }
func (c *Connection) State() State    { return c.state }

// Available returns the number of buffered inbound bytes.
func (c *Connection) Available() int { return c.inbox.n }

// Free returns the remaining inbox capacity.
func (c *Connection) Free() int { return len(c.inbox.buf) - c.inbox.n }

// Read pops up to len(p) buffered bytes.
func (c *Connection) Read(p []byte) int { return c.inbox.read(p) }

func (c *Connection) setConnected(v bool) {
	c.connected = v
	if v {
		c.state = StateConnected
	} else {
		c.state = StateIdle
	}
}

// fifo is a fixed-capacity ring. Writes beyond capacity are refused, so the
// oldest bytes are kept.
type fifo struct {
	buf  []byte
	head int
	n    int
}

func (f *fifo) put(b byte) bool {
	if f.n == len(f.buf) {
		return false
	}
	f.buf[(f.head+f.n)%len(f.buf)] = b
	f.n++
	return true
}

func (f *fifo) read(p []byte) int {
	read := 0
	for read < len(p) && f.n > 0 {
		p[read] = f.buf[f.head]
		f.head = (f.head + 1) % len(f.buf)
		f.n--
		read++
	}
	return read
}

func (f *fifo) reset() {
	f.head = 0
	f.n = 0
}

// Table owns a fixed number of Connection slots addressed by id.
type Table struct {
	conns []Connection
}

// NewTable allocates n slots with an inbox of inboxSize bytes each. No
// further allocation happens over the table's lifetime.
func NewTable(n, inboxSize int) *Table {
	t := &Table{conns: make([]Connection, n)}
	for i := range t.conns {
		t.conns[i] = Connection{
			id:    i,
			inbox: fifo{buf: make([]byte, inboxSize)},
		}
	}
	return t
}

// Len returns the number of slots.
func (t *Table) Len() int { return len(t.conns) }

// Get returns the slot for id, or false when id is out of range.
func (t *Table) Get(id int) (*Connection, bool) {
	if id < 0 || id >= len(t.conns) {
		return nil, false
	}
	return &t.conns[id], true
}

// Reset clears the inbox and marks the slot idle.
func (t *Table) Reset(id int) bool {
	c, ok := t.Get(id)
	if !ok {
		return false
	}
	c.inbox.reset()
	c.setConnected(false)
	return true
}

// MarkClosed records that the module tore the connection down. Buffered
// bytes stay readable.
func (t *Table) MarkClosed(id int) bool {
	c, ok := t.Get(id)
	if !ok {
		return false
	}
	c.setConnected(false)
	return true
}

// Append buffers as much of p as fits and returns the number of bytes kept.
func (t *Table) Append(id int, p []byte) int {
	c, ok := t.Get(id)
	if !ok {
		return 0
	}
	accepted := 0
	for _, b := range p {
		if !c.inbox.put(b) {
			break
		}
		accepted++
	}
	return accepted
}
