package ws

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/Joginder1706/backend-socket/internal/chat"
)

// Connection is one live WebSocket session. UserID is set once from the
// handshake and is zero for a connection that never identified itself.
type Connection struct {
	ID         string      // opaque connection id (UUID)
	UserID     chat.UserID // 0 until identified
	Conn       net.Conn
	CreatedAt  time.Time
	lastSeen   atomic.Int64  // unix nanos of the last frame read
	writeMu    sync.Mutex    // serializes frames written to Conn
	writeLimit time.Duration // per-frame write deadline, 0 for none
	processing int32         // atomic: 1 while a worker is reading a frame
}

func newConnection(id string, userID chat.UserID, conn net.Conn, writeTimeout time.Duration) *Connection {
	c := &Connection{
		ID:         id,
		UserID:     userID,
		Conn:       conn,
		CreatedAt:  time.Now(),
		writeLimit: writeTimeout,
	}
	c.Touch()
	return c
}

// Touch records activity on the connection.
func (c *Connection) Touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

// LastSeen returns the time of the last recorded activity.
func (c *Connection) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// WriteMessage sends a text frame. Concurrent writers are serialized so frame
// bytes never interleave.
func (c *Connection) WriteMessage(data []byte) error {
	return c.write(func() error {
		return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
	})
}

// WritePing sends a protocol-level ping frame.
func (c *Connection) WritePing() error {
	return c.write(func() error {
		return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
	})
}

// WritePong answers a client ping with the same payload.
func (c *Connection) WritePong(payload []byte) error {
	return c.write(func() error {
		return ws.WriteFrame(c.Conn, ws.NewPongFrame(payload))
	})
}

// WriteClose sends a close frame with the given status code and reason.
func (c *Connection) WriteClose(code ws.StatusCode, reason string) error {
	return c.write(func() error {
		return ws.WriteFrame(c.Conn, ws.NewCloseFrame(ws.NewCloseFrameBody(code, reason)))
	})
}

// write runs fn holding the write lock, bounded by the write deadline so a
// client that stops reading cannot stall other writers.
func (c *Connection) write(fn func() error) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeLimit > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.writeLimit))
		defer c.Conn.SetWriteDeadline(time.Time{})
	}
	return fn()
}

// Close closes the underlying network connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// ConnectionManager indexes live connections by id and by the net.Conn the
// poller reports as ready.
type ConnectionManager struct {
	mu     sync.RWMutex
	byID   map[string]*Connection
	byConn map[net.Conn]*Connection
}

// NewConnectionManager creates an empty ConnectionManager.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byID:   make(map[string]*Connection),
		byConn: make(map[net.Conn]*Connection),
	}
}

// Add registers a connection.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	cm.byID[conn.ID] = conn
	cm.byConn[conn.Conn] = conn
	cm.mu.Unlock()
}

// Remove unregisters the connection and closes it. It returns false if the
// connection was already gone, so concurrent removals clean up only once.
func (cm *ConnectionManager) Remove(id string) bool {
	cm.mu.Lock()
	conn, ok := cm.byID[id]
	if ok {
		delete(cm.byID, id)
		delete(cm.byConn, conn.Conn)
	}
	cm.mu.Unlock()

	if ok {
		conn.Close()
	}
	return ok
}

// Get returns the connection with the given id, or nil.
func (cm *ConnectionManager) Get(id string) *Connection {
	cm.mu.RLock()
	conn := cm.byID[id]
	cm.mu.RUnlock()
	return conn
}

// GetByConn returns the connection wrapping c, or nil.
func (cm *ConnectionManager) GetByConn(c net.Conn) *Connection {
	cm.mu.RLock()
	conn := cm.byConn[c]
	cm.mu.RUnlock()
	return conn
}

// Count returns the number of live connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	n := len(cm.byID)
	cm.mu.RUnlock()
	return n
}

// BroadcastExcept writes msg to every connection whose id is not in exclude
// and returns how many writes succeeded. Failed connections are left for the
// read path or the heartbeat to evict.
func (cm *ConnectionManager) BroadcastExcept(msg []byte, exclude ...string) int {
	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}

	sent := 0
	for _, conn := range cm.All() {
		if _, ok := skip[conn.ID]; ok {
			continue
		}
		if err := conn.WriteMessage(msg); err == nil {
			sent++
		}
	}
	return sent
}

// All returns a snapshot of the live connections.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byID))
	for _, conn := range cm.byID {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()
	return conns
}
