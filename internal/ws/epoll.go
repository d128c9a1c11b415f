//go:build linux

package ws

import (
	"errors"
	"io"
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// armed are the events a connection is registered for. EPOLLONESHOT disarms
// the fd after one report, so a connection is handed to at most one worker
// until Resume re-arms it.
const armed = unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLHUP | unix.EPOLLONESHOT

// Epoll multiplexes read readiness of the server's sockets on one epoll
// instance, so idle connections cost no goroutine.
type Epoll struct {
	fd     int
	mu     sync.RWMutex
	byFD   map[int]net.Conn
	events []unix.EpollEvent // only touched by the single Wait caller
	closed bool
}

// NewEpoll creates the epoll instance.
func NewEpoll() (*Epoll, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Epoll{
		fd:     fd,
		byFD:   make(map[int]net.Conn),
		events: make([]unix.EpollEvent, 128),
	}, nil
}

// Add registers conn and arms it for one readiness report.
func (e *Epoll) Add(conn net.Conn) error {
	fd := socketFD(conn)
	if fd < 0 {
		return errors.New("ws: connection has no file descriptor")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return net.ErrClosed
	}
	if err := unix.EpollCtl(e.fd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Events: armed, Fd: int32(fd)}); err != nil {
		return err
	}
	e.byFD[fd] = conn
	return nil
}

// Remove unregisters conn. Removing an unknown connection is not an error.
func (e *Epoll) Remove(conn net.Conn) error {
	fd := socketFD(conn)

	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := e.byFD[fd]; !ok || cur != conn {
		return nil
	}
	delete(e.byFD, fd)
	if e.closed {
		return nil
	}
	err := unix.EpollCtl(e.fd, unix.EPOLL_CTL_DEL, fd, nil)
	if errors.Is(err, unix.ENOENT) || errors.Is(err, unix.EBADF) {
		return nil
	}
	return err
}

// Wait blocks until at least one armed connection is readable or hung up and
// returns those connections, each disarmed until Resume.
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

// Reader returns the reader frames must be read from. Nothing is consumed
// before the frame reader runs, so it is conn itself.
func (e *Epoll) Reader(conn net.Conn) io.Reader { return conn }

// Resume re-arms conn after its worker is done with it. The fd may already
// belong to a newer connection, so only the registered conn is re-armed.
func (e *Epoll) Resume(conn net.Conn) {
	fd := socketFD(conn)

	e.mu.RLock()
	defer e.mu.RUnlock()
	if cur, ok := e.byFD[fd]; !ok || cur != conn || e.closed {
		return
	}
	_ = unix.EpollCtl(e.fd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Events: armed, Fd: int32(fd)})
}

// Close releases the epoll instance. A blocked Wait returns an error.
func (e *Epoll) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.byFD = map[int]net.Conn{}
	return unix.Close(e.fd)
}

// socketFD returns the descriptor behind conn without dup'ing it, or -1.
func socketFD(conn net.Conn) int {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}

	fd := -1
	if err := raw.Control(func(sfd uintptr) { fd = int(sfd) }); err != nil {
		return -1
	}
	return fd
}
