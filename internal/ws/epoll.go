//go:build linux

package ws

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// readEvents is the interest set for every registered socket. EPOLLONESHOT
// disarms the fd after it is reported once, so a connection is never handed
// to two workers at the same time; the worker re-enables it with Rearm.
const readEvents = unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLHUP | unix.EPOLLONESHOT

// Epoll multiplexes reads over a Linux epoll instance so idle connections
// cost a map entry instead of a blocked goroutine.
type Epoll struct {
	fd     int
	mu     sync.RWMutex
	byFD   map[int]net.Conn
	fds    map[net.Conn]int
	events []unix.EpollEvent
}

// NewEpoll creates the epoll instance.
func NewEpoll() (*Epoll, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("ws: epoll_create1: %w", err)
	}
	return &Epoll{
		fd:     fd,
		byFD:   make(map[int]net.Conn),
		fds:    make(map[net.Conn]int),
		events: make([]unix.EpollEvent, 128),
	}, nil
}

// Wrap returns conn unchanged; the kernel reports readiness without
// consuming any bytes.
func (e *Epoll) Wrap(conn net.Conn) net.Conn {
	return conn
}

// Add starts watching conn for read readiness.
func (e *Epoll) Add(conn net.Conn) error {
	fd, err := socketFD(conn)
	if err != nil {
		return err
	}
	ev := unix.EpollEvent{Events: readEvents, Fd: int32(fd)}
	if err := unix.EpollCtl(e.fd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("ws: epoll add fd=%d: %w", fd, err)
	}

	e.mu.Lock()
	e.byFD[fd] = conn
	e.fds[conn] = fd
	e.mu.Unlock()
	return nil
}

// Rearm re-enables readiness reports for conn after a worker has consumed
// a frame. Connections removed in the meantime are ignored.
func (e *Epoll) Rearm(conn net.Conn) {
	e.mu.RLock()
	fd, ok := e.fds[conn]
	e.mu.RUnlock()
	if !ok {
		return
	}
	ev := unix.EpollEvent{Events: readEvents, Fd: int32(fd)}
	_ = unix.EpollCtl(e.fd, unix.EPOLL_CTL_MOD, fd, &ev)
}

// Remove stops watching conn. It must be called before conn is closed.
func (e *Epoll) Remove(conn net.Conn) error {
	e.mu.Lock()
	fd, ok := e.fds[conn]
	if ok {
		delete(e.fds, conn)
		delete(e.byFD, fd)
	}
	e.mu.Unlock()
	if !ok {
		return nil
	}

	if err := unix.EpollCtl(e.fd, unix.EPOLL_CTL_DEL, fd, nil); err != nil && !errors.Is(err, unix.ENOENT) {
		return fmt.Errorf("ws: epoll del fd=%d: %w", fd, err)
	}
	return nil
}

// Wait blocks until at least one connection is readable and returns the
// ready ones. Connections removed after the kernel reported them are
// skipped.
func (e *Epoll) Wait() ([]net.Conn, error) {
	n, err := unix.EpollWait(e.fd, e.events, -1)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	ready := make([]net.Conn, 0, n)
	for _, ev := range e.events[:n] {
		if conn, ok := e.byFD[int(ev.Fd)]; ok {
			ready = append(ready, conn)
		}
	}
	return ready, nil
}

// Close releases the epoll instance. Registered connections are not closed.
func (e *Epoll) Close() error {
	e.mu.Lock()
	e.byFD = make(map[int]net.Conn)
	e.fds = make(map[net.Conn]int)
	e.mu.Unlock()
	return unix.Close(e.fd)
}

// socketFD returns conn's descriptor without dup'ing it.
func socketFD(conn net.Conn) (int, error) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1, fmt.Errorf("ws: %T does not expose a file descriptor", conn)
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1, fmt.Errorf("ws: syscall conn: %w", err)
	}

	fd := -1
	if err := raw.Control(func(s uintptr) { fd = int(s) }); err != nil {
		return -1, fmt.Errorf("ws: control: %w", err)
	}
	return fd, nil
}
