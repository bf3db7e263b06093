package ws

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection is one dashboard attached over WebSocket.
type Connection struct {
	ID        string   // dashboard session id
	Conn      net.Conn // upgraded connection
	RemoteIP  string
	CreatedAt time.Time

	fd         int
	lastSeen   atomic.Int64 // unix nanos of the last frame read
	processing atomic.Bool  // guards against duplicate dispatch
	writeMu    sync.Mutex
	stopDrain  func()
}

func newConnection(id string, conn net.Conn, ip string) *Connection {
	c := &Connection{
		ID:        id,
		Conn:      conn,
		RemoteIP:  ip,
		CreatedAt: time.Now(),
		stopDrain: func() {},
	}
	c.Touch()
	return c
}

// Touch records activity on the connection.
func (c *Connection) Touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

// LastSeen returns the time of the last frame read from the dashboard.
func (c *Connection) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// WriteMessage sends a text frame. Writes are serialized per connection.
func (c *Connection) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// WritePing sends a protocol-level ping frame.
func (c *Connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}

// Close closes the underlying network connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// ConnectionManager is the set of attached dashboards, keyed by session id.
type ConnectionManager struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewConnectionManager creates an empty manager.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{conns: make(map[string]*Connection)}
}

// Add registers c.
func (m *ConnectionManager) Add(c *Connection) {
	m.mu.Lock()
	m.conns[c.ID] = c
	m.mu.Unlock()
}

// Remove unregisters the connection with the given id and closes it. It
// reports whether the connection was registered, so concurrent removals
// clean up once.
func (m *ConnectionManager) Remove(id string) bool {
	m.mu.Lock()
	c, ok := m.conns[id]
	if ok {
		delete(m.conns, id)
	}
	m.mu.Unlock()

	if ok {
		_ = c.Close()
	}
	return ok
}

// Get returns the connection with the given id, or nil.
func (m *ConnectionManager) Get(id string) *Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conns[id]
}

// Count returns the number of attached dashboards.
func (m *ConnectionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// All returns a snapshot of the attached dashboards.
func (m *ConnectionManager) All() []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Connection, 0, len(m.conns))
	for _, c := range m.conns {
		out = append(out, c)
	}
	return out
}
