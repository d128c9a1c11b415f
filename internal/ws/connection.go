package ws

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Client is a connected peer as seen by message handlers. It is implemented
// by *Connection; tests substitute in-memory fakes.
type Client interface {
	// ID is the connection identifier assigned at upgrade.
	ID() string
	// Username is the user bound to the connection at login, or "".
	Username() string
	SetUsername(username string)
	// Send writes one text frame.
	Send(data []byte) error
	// Closed reports whether the connection has been removed. It turns true
	// before the disconnect callback runs.
	Closed() bool
}

// Connection represents a single WebSocket client connection with its
// associated metadata and a write mutex for serializing outbound frames.
type Connection struct {
	id           string
	Conn         net.Conn  // underlying TCP connection
	Fd           int       // file descriptor for epoll lookups
	CreatedAt    time.Time // when the connection was established
	writeTimeout time.Duration

	lastActive int64 // unix nanos of the last frame read, atomic
	processing int32 // atomic flag: 0 = idle, 1 = being read by handleConn
	closed     int32 // atomic flag, set once by Close

	writeMu  sync.Mutex // serializes writes to this connection
	mu       sync.RWMutex
	username string
}

func newConnection(id string, conn net.Conn, writeTimeout time.Duration) *Connection {
	now := time.Now()
	c := &Connection{
		id:           id,
		Conn:         conn,
		Fd:           socketFD(conn),
		CreatedAt:    now,
		writeTimeout: writeTimeout,
	}
	c.touch(now)
	return c
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

func (c *Connection) SetUsername(username string) {
	c.mu.Lock()
	c.username = username
	c.mu.Unlock()
}

// Send writes a text frame bounded by the write timeout. The write mutex
// ensures that concurrent goroutines do not interleave frame bytes.
func (c *Connection) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		defer c.Conn.SetWriteDeadline(time.Time{})
	}
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// Close marks the connection closed and closes the underlying network
// connection.
func (c *Connection) Close() error {
	atomic.StoreInt32(&c.closed, 1)
	return c.Conn.Close()
}

func (c *Connection) Closed() bool { return atomic.LoadInt32(&c.closed) == 1 }

func (c *Connection) touch(t time.Time) {
	atomic.StoreInt64(&c.lastActive, t.UnixNano())
}

// LastActive is the time the last frame was read from the client.
func (c *Connection) LastActive() time.Time {
	return time.Unix(0, atomic.LoadInt64(&c.lastActive))
}

// ConnectionManager is a thread-safe registry that maps connection IDs and
// file descriptors to their respective Connection objects.
type ConnectionManager struct {
	mu   sync.RWMutex
	byID map[string]*Connection
	byFd map[int]*Connection
	// fallback key for platforms without file descriptors
	byConn map[net.Conn]*Connection
}

// NewConnectionManager creates an empty ConnectionManager ready for use.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byID:   make(map[string]*Connection),
		byFd:   make(map[int]*Connection),
		byConn: make(map[net.Conn]*Connection),
	}
}

// Add registers a new connection in every lookup map.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	cm.byID[conn.id] = conn
	if conn.Fd >= 0 {
		cm.byFd[conn.Fd] = conn
	}
	cm.byConn[conn.Conn] = conn
	cm.mu.Unlock()
}

// Remove removes a connection by ID and closes it. It returns false if the
// connection was already gone.
func (cm *ConnectionManager) Remove(id string) bool {
	cm.mu.Lock()
	conn, ok := cm.byID[id]
	if ok {
		delete(cm.byID, id)
		if cm.byFd[conn.Fd] == conn {
			delete(cm.byFd, conn.Fd)
		}
		delete(cm.byConn, conn.Conn)
	}
	cm.mu.Unlock()

	if ok {
		conn.Close()
	}
	return ok
}

// GetByConn returns the connection wrapping c, or nil if not found.
func (cm *ConnectionManager) GetByConn(c net.Conn) *Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if conn, ok := cm.byConn[c]; ok {
		return conn
	}
	if fd := socketFD(c); fd >= 0 {
		return cm.byFd[fd]
	}
	return nil
}

// Count returns the current number of active connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	n := len(cm.byID)
	cm.mu.RUnlock()
	return n
}

// Broadcast sends msg to every open connection and returns how many writes
// succeeded. Failed connections are cleaned up by the read path or the
// heartbeat.
func (cm *ConnectionManager) Broadcast(msg []byte) int {
	sent := 0
	for _, conn := range cm.All() {
		if err := conn.Send(msg); err == nil {
			sent++
		}
	}
	return sent
}

// All returns a snapshot of all current connections. The returned slice is
// safe to iterate without holding the lock.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byID))
	for _, conn := range cm.byID {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()
	return conns
}
