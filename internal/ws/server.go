// Package ws handles WebSocket connection management: upgrading HTTP
// connections, identifying them from the handshake, reading frames through
// an epoll-driven worker pool, and writing frames back to one or many
// connections.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/Joginder1706/backend-socket/internal/chat"
	"github.com/Joginder1706/backend-socket/internal/metrics"
)

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	ListenAddr     string        // address to listen on, e.g. ":8080"
	WorkerPoolSize int           // max concurrent read-worker goroutines
	MaxConnections int           // hard cap on total connections
	ReadTimeout    time.Duration // timeout for WebSocket read operations
	WriteTimeout   time.Duration // timeout for WebSocket write operations
	MaxFrameBytes  int64         // frames larger than this close the connection
	Heartbeat      HeartbeatConfig
}

// DefaultServerConfig returns a ServerConfig with sensible production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":8080",
		WorkerPoolSize: 256,
		MaxConnections: 100000,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxFrameBytes:  1_000_000,
		Heartbeat:      DefaultHeartbeatConfig(),
	}
}

// Server is a WebSocket server built on gobwas/ws and epoll. Ready
// connections are handed to a bounded worker pool that reads one frame each.
type Server struct {
	config       ServerConfig
	epoll        *Epoll
	conns        *ConnectionManager
	workerPool   chan struct{} // semaphore limiting concurrent read workers
	onMessage    func(conn *Connection, data []byte)
	onConnect    func(conn *Connection)
	onDisconnect func(conn *Connection)
	onlineUsers  func() int
	httpServer   *http.Server
	done         chan struct{}
	closeOnce    sync.Once
	startedAt    time.Time
}

// NewServer creates a Server. onMessage is called from a worker goroutine for
// every complete text frame.
func NewServer(config ServerConfig, onMessage func(conn *Connection, data []byte)) *Server {
	return &Server{
		config:     config,
		conns:      NewConnectionManager(),
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		onMessage:  onMessage,
		done:       make(chan struct{}),
	}
}

// SetOnConnect registers a callback invoked after a connection is upgraded
// and registered.
func (s *Server) SetOnConnect(fn func(conn *Connection)) {
	s.onConnect = fn
}

// SetOnDisconnect registers a callback invoked once per connection after it
// is removed, whether by read error, heartbeat timeout or close frame.
func (s *Server) SetOnDisconnect(fn func(conn *Connection)) {
	s.onDisconnect = fn
}

// SetOnlineUsers registers the source of the online-user count reported by
// /health.
func (s *Server) SetOnlineUsers(fn func() int) {
	s.onlineUsers = fn
}

// Handler returns the HTTP routes served by the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Start creates the poller, starts the event loop and heartbeat, and blocks
// serving HTTP until Shutdown.
func (s *Server) Start() error {
	var err error
	s.epoll, err = NewEpoll()
	if err != nil {
		return fmt.Errorf("ws: failed to create epoll: %w", err)
	}
	s.startedAt = time.Now()

	s.httpServer = &http.Server{
		Addr:    s.config.ListenAddr,
		Handler: s.Handler(),
	}

	go s.startEventLoop()
	s.startHeartbeat(s.config.Heartbeat)

	log.Printf("ws: server listening on %s (workers=%d, max_conns=%d, max_frame=%d)",
		s.config.ListenAddr, s.config.WorkerPoolSize, s.config.MaxConnections, s.config.MaxFrameBytes)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ws: http server error: %w", err)
	}
	return nil
}

// handleUpgrade upgrades the request and identifies the connection from the
// userId query parameter. A missing or malformed id leaves the connection
// anonymous: it can still receive broadcasts but never appears in presence.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	var userID chat.UserID
	if raw := r.URL.Query().Get("userId"); raw != "" {
		id, err := chat.ParseUserID(raw)
		if err != nil {
			log.Printf("ws: ignoring handshake userId=%q: %v", raw, err)
		} else {
			userID = id
		}
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}

	c := newConnection(uuid.New().String(), userID, s.epoll.Wrap(conn), s.config.WriteTimeout)
	s.conns.Add(c)
	if err := s.epoll.Add(c.Conn); err != nil {
		log.Printf("ws: epoll add failed for session %s: %v", c.ID, err)
		s.conns.Remove(c.ID)
		return
	}
	metrics.ConnectionsTotal.Inc()

	log.Printf("ws: new connection session=%s user=%s (total=%d)", c.ID, c.UserID, s.conns.Count())

	if s.onConnect != nil {
		s.onConnect(c)
	}
}

// handleHealth reports connection and presence counts as JSON.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	online := 0
	if s.onlineUsers != nil {
		online = s.onlineUsers()
	}

	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		OnlineUsers int    `json:"online_users"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.conns.Count(),
		OnlineUsers: online,
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// startEventLoop waits for ready connections and hands each to a worker,
// blocking while the pool is full.
func (s *Server) startEventLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		conns, err := s.epoll.Wait()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if isEINTR(err) {
				continue
			}
			log.Printf("ws: epoll wait error: %v", err)
			continue
		}

		for _, conn := range conns {
			conn := conn
			s.workerPool <- struct{}{}
			go func() {
				defer func() { <-s.workerPool }()
				s.handleConn(conn)
			}()
		}
	}
}

// handleConn reads a single frame from a ready connection. Control frames are
// handled in place; data frames are passed to onMessage.
func (s *Server) handleConn(netConn net.Conn) {
	c := s.conns.GetByConn(netConn)
	if c == nil {
		return
	}

	// One worker per connection at a time.
	if !atomic.CompareAndSwapInt32(&c.processing, 0, 1) {
		return
	}
	defer func() {
		atomic.StoreInt32(&c.processing, 0)
		if s.epoll != nil {
			s.epoll.Rearm(netConn)
		}
	}()

	if s.config.ReadTimeout > 0 {
		_ = netConn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}

	header, reader, err := wsutil.NextReader(netConn, ws.StateServerSide)
	if err != nil {
		// A timeout means the readiness was stale; the heartbeat owns dead
		// connection detection.
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return
		}
		s.RemoveConnection(c)
		return
	}
	_ = netConn.SetReadDeadline(time.Time{})
	c.Touch()

	if s.config.MaxFrameBytes > 0 && header.Length > s.config.MaxFrameBytes {
		log.Printf("ws: frame of %d bytes exceeds limit session=%s", header.Length, c.ID)
		_ = c.WriteClose(ws.StatusMessageTooBig, "frame too large")
		s.RemoveConnection(c)
		return
	}

	data := make([]byte, header.Length)
	if header.Length > 0 {
		if _, err := io.ReadFull(reader, data); err != nil {
			s.RemoveConnection(c)
			return
		}
	}

	if header.OpCode.IsControl() {
		switch header.OpCode {
		case ws.OpClose:
			s.RemoveConnection(c)
		case ws.OpPing:
			if err := c.WritePong(data); err != nil {
				s.RemoveConnection(c)
			}
		}
		return
	}

	if len(data) == 0 || s.onMessage == nil {
		return
	}
	s.onMessage(c, data)
}

// RemoveConnection unregisters and closes c. Only the first of several
// racing removals runs the disconnect callback.
func (s *Server) RemoveConnection(c *Connection) {
	if s.epoll != nil {
		_ = s.epoll.Remove(c.Conn)
	}
	if !s.conns.Remove(c.ID) {
		return
	}
	metrics.ConnectionsTotal.Dec()

	if s.onDisconnect != nil {
		s.onDisconnect(c)
	}
	log.Printf("ws: connection closed session=%s user=%s (total=%d)", c.ID, c.UserID, s.conns.Count())
}

// SendMessage writes a text frame to the connection with the given id.
func (s *Server) SendMessage(connID string, data []byte) error {
	c := s.conns.Get(connID)
	if c == nil {
		return fmt.Errorf("ws: connection %s not found", connID)
	}
	return c.WriteMessage(data)
}

// BroadcastExcept writes a text frame to every connection not listed in
// exclude.
func (s *Server) BroadcastExcept(data []byte, exclude ...string) {
	s.conns.BroadcastExcept(data, exclude...)
}

// Connections returns the ConnectionManager.
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Shutdown stops accepting connections, stops the event loop and heartbeat,
// and closes every live connection. Disconnect callbacks are not run.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("ws: shutting down server...")
	s.closeOnce.Do(func() { close(s.done) })

	var err error
	if s.httpServer != nil {
		if err = s.httpServer.Shutdown(ctx); err != nil {
			log.Printf("ws: http shutdown error: %v", err)
		}
	}

	for _, c := range s.conns.All() {
		if s.epoll != nil {
			_ = s.epoll.Remove(c.Conn)
		}
		_ = c.WriteClose(ws.StatusGoingAway, "server shutting down")
		if s.conns.Remove(c.ID) {
			metrics.ConnectionsTotal.Dec()
		}
	}

	if s.epoll != nil {
		_ = s.epoll.Close()
	}
	log.Printf("ws: server stopped, all connections closed")
	return err
}

// isEINTR reports an interrupted system call, expected during signal
// handling.
func isEINTR(err error) bool {
	if err == nil {
		return false
	}
	return err.Error() == "interrupted system call" ||
		err.Error() == "errno 4"
}
