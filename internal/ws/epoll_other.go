//go:build !linux

package ws

import (
	"bufio"
	"errors"
	"net"
	"sync"
)

// Epoll is the portable fallback for platforms without epoll: one goroutine
// per connection blocks on a buffered peek and reports the connection ready.
// The peek never consumes bytes, so frames reach the reader intact.
type Epoll struct {
	mu      sync.Mutex
	conns   map[net.Conn]*peekConn
	readyCh chan net.Conn
	done    chan struct{}
	once    sync.Once
}

// peekConn routes reads through a bufio.Reader shared with the monitor.
// The monitor only peeks after the server has finished reading a frame.
type peekConn struct {
	net.Conn
	r     *bufio.Reader
	rearm chan struct{}
	stop  chan struct{}
}

func (c *peekConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

// NewEpoll creates the fallback poller.
func NewEpoll() (*Epoll, error) {
	return &Epoll{
		conns:   make(map[net.Conn]*peekConn),
		readyCh: make(chan net.Conn, 128),
		done:    make(chan struct{}),
	}, nil
}

// Wrap buffers conn so readiness can be detected with a peek. The returned
// connection must be used for every subsequent read and for Add.
func (e *Epoll) Wrap(conn net.Conn) net.Conn {
	return &peekConn{
		Conn:  conn,
		r:     bufio.NewReader(conn),
		rearm: make(chan struct{}, 1),
		stop:  make(chan struct{}),
	}
}

// Add starts monitoring a connection returned by Wrap.
func (e *Epoll) Add(conn net.Conn) error {
	pc, ok := conn.(*peekConn)
	if !ok {
		return errors.New("ws: connection was not wrapped by the poller")
	}
	e.mu.Lock()
	e.conns[conn] = pc
	e.mu.Unlock()

	go e.monitor(pc)
	return nil
}

// monitor reports pc ready once data (or an error) is available, then waits
// for the server to finish reading before peeking again.
func (e *Epoll) monitor(pc *peekConn) {
	for {
		_, err := pc.r.Peek(1)

		select {
		case e.readyCh <- pc:
		case <-pc.stop:
			return
		case <-e.done:
			return
		}
		if err != nil {
			return
		}

		select {
		case <-pc.rearm:
		case <-pc.stop:
			return
		case <-e.done:
			return
		}
	}
}

// Rearm lets the monitor peek again after the server has read a frame.
func (e *Epoll) Rearm(conn net.Conn) {
	if pc, ok := conn.(*peekConn); ok {
		select {
		case pc.rearm <- struct{}{}:
		default:
		}
	}
}

// Remove stops monitoring a connection.
func (e *Epoll) Remove(conn net.Conn) error {
	e.mu.Lock()
	pc, ok := e.conns[conn]
	delete(e.conns, conn)
	e.mu.Unlock()

	if ok {
		close(pc.stop)
	}
	return nil
}

// Wait blocks until at least one connection is ready and returns every
// connection ready at that moment.
func (e *Epoll) Wait() ([]net.Conn, error) {
	var first net.Conn
	select {
	case first = <-e.readyCh:
	case <-e.done:
		return nil, net.ErrClosed
	}

	conns := []net.Conn{first}
	for {
		select {
		case conn := <-e.readyCh:
			conns = append(conns, conn)
		default:
			return conns, nil
		}
	}
}

// Close stops every monitor goroutine.
func (e *Epoll) Close() error {
	e.once.Do(func() { close(e.done) })
	e.mu.Lock()
	e.conns = make(map[net.Conn]*peekConn)
	e.mu.Unlock()
	return nil
}
